package strategy

import (
	"testing"
	"time"

	"pmm/pkg/types"
)

func TestFlowTracker_NoFills(t *testing.T) {
	ft := NewFlowTracker(60*time.Second, 0.6, 120*time.Second, 3.0)

	metrics := ft.CalculateToxicity()
	if metrics.ToxicityScore != 0 {
		t.Errorf("expected toxicity score 0 with no fills, got %f", metrics.ToxicityScore)
	}
	if metrics.IsAverse {
		t.Error("expected IsAverse to be false with no fills")
	}
	if m := ft.GetSpreadMultiplier(); m != 1.0 {
		t.Errorf("expected spread multiplier 1.0 with no fills, got %f", m)
	}
}

func TestFlowTracker_DirectionalImbalance(t *testing.T) {
	ft := NewFlowTracker(60*time.Second, 0.6, 120*time.Second, 3.0)

	now := time.Now()
	for i := 0; i < 5; i++ {
		ft.AddFill(Fill{Side: types.BUY, Notional: 5, Timestamp: now.Add(-time.Duration(i) * time.Second)})
	}

	metrics := ft.CalculateToxicity()
	if metrics.DirectionalImbalance != 1.0 {
		t.Errorf("expected directional imbalance 1.0 with all-BUY notional, got %f", metrics.DirectionalImbalance)
	}
	if metrics.ToxicityScore <= 0.6 {
		t.Errorf("expected toxicity score >0.6 with 100%% imbalance, got %f", metrics.ToxicityScore)
	}
	if !metrics.IsAverse {
		t.Error("expected IsAverse to be true with 100% directional imbalance")
	}
}

func TestFlowTracker_NotionalWeightingOutweighsCount(t *testing.T) {
	ft := NewFlowTracker(60*time.Second, 0.6, 120*time.Second, 3.0)

	now := time.Now()
	// One large BUY sweep against four tiny SELL fills: notional weighting
	// should still call this BUY-dominant even though SELL wins on count.
	ft.AddFill(Fill{Side: types.BUY, Notional: 1000, Timestamp: now})
	for i := 0; i < 4; i++ {
		ft.AddFill(Fill{Side: types.SELL, Notional: 1, Timestamp: now.Add(-time.Duration(i+1) * time.Millisecond)})
	}

	metrics := ft.CalculateToxicity()
	if metrics.DirectionalImbalance <= 0.9 {
		t.Errorf("expected notional-weighted imbalance to favor the large BUY sweep, got %f", metrics.DirectionalImbalance)
	}
}

func TestFlowTracker_BalancedFills(t *testing.T) {
	ft := NewFlowTracker(60*time.Second, 0.6, 120*time.Second, 3.0)

	now := time.Now()
	for i := 0; i < 10; i++ {
		side := types.BUY
		if i%2 == 1 {
			side = types.SELL
		}
		ft.AddFill(Fill{Side: side, Notional: 5, Timestamp: now.Add(-time.Duration(i) * time.Second)})
	}

	metrics := ft.CalculateToxicity()
	if metrics.DirectionalImbalance < 0.45 || metrics.DirectionalImbalance > 0.55 {
		t.Errorf("expected directional imbalance near 0.5 for equal notional on both sides, got %f", metrics.DirectionalImbalance)
	}
}

func TestFlowTracker_RecentBurstScoresHigherThanSpreadOutFills(t *testing.T) {
	now := time.Now()

	ft := NewFlowTracker(60*time.Second, 0.6, 120*time.Second, 3.0)
	for i := 0; i < 10; i++ {
		ft.AddFill(Fill{Side: types.BUY, Notional: 5, Timestamp: now.Add(-time.Duration(i) * 100 * time.Millisecond)})
	}
	burst := ft.CalculateToxicity().FillVelocity

	ft2 := NewFlowTracker(60*time.Second, 0.6, 120*time.Second, 3.0)
	for i := 0; i < 10; i++ {
		ft2.AddFill(Fill{Side: types.BUY, Notional: 5, Timestamp: now.Add(-time.Duration(i) * 6 * time.Second)})
	}
	spreadOut := ft2.CalculateToxicity().FillVelocity

	if burst <= spreadOut {
		t.Errorf("expected a tight burst (velocity %f) to score higher than the same count spread across the window (velocity %f)", burst, spreadOut)
	}
}

func TestFlowTracker_SpreadMultiplier(t *testing.T) {
	ft := NewFlowTracker(60*time.Second, 0.6, 120*time.Second, 3.0)

	if m := ft.GetSpreadMultiplier(); m != 1.0 {
		t.Errorf("expected initial multiplier 1.0, got %f", m)
	}

	now := time.Now()
	for i := 0; i < 5; i++ {
		ft.AddFill(Fill{Side: types.SELL, Notional: 10, Timestamp: now.Add(-time.Duration(i) * time.Second)})
	}

	multiplier := ft.GetSpreadMultiplier()
	if multiplier <= 1.0 {
		t.Errorf("expected multiplier >1.0 after toxic fills, got %f", multiplier)
	}
	if multiplier > 3.0 {
		t.Errorf("expected multiplier <=3.0 (max), got %f", multiplier)
	}
}

func TestFlowTracker_CooldownPeriod(t *testing.T) {
	ft := NewFlowTracker(1*time.Second, 0.6, 2*time.Second, 3.0)

	now := time.Now()
	for i := 0; i < 5; i++ {
		ft.AddFill(Fill{Side: types.BUY, Notional: 10, Timestamp: now.Add(-time.Duration(i) * 100 * time.Millisecond)})
	}

	if !ft.IsFlowToxic() {
		t.Error("expected toxic flow")
	}

	m1 := ft.GetSpreadMultiplier()
	if m1 <= 1.0 {
		t.Errorf("expected widened spread during toxicity, got %f", m1)
	}

	// Fills age out of the 1s window, but cooldown (2s) hasn't expired yet.
	time.Sleep(1500 * time.Millisecond)
	m2 := ft.GetSpreadMultiplier()
	if m2 < 1.0 {
		t.Errorf("expected some widening during cooldown, got %f", m2)
	}

	// Cooldown fully expires.
	time.Sleep(1 * time.Second)
	m3 := ft.GetSpreadMultiplier()
	if m3 != 1.0 {
		t.Errorf("expected multiplier 1.0 after cooldown expires, got %f", m3)
	}
}

func TestFlowTracker_WindowEviction(t *testing.T) {
	ft := NewFlowTracker(2*time.Second, 0.6, 5*time.Second, 3.0)

	oldTime := time.Now().Add(-10 * time.Second)
	for i := 0; i < 3; i++ {
		ft.AddFill(Fill{Side: types.BUY, Notional: 10, Timestamp: oldTime.Add(time.Duration(i) * 100 * time.Millisecond)})
	}

	ft.CalculateToxicity()

	if count := ft.GetFillCount(); count != 0 {
		t.Errorf("expected 0 fills after eviction, got %d", count)
	}

	ft.AddFill(Fill{Side: types.SELL, Notional: 10, Timestamp: time.Now()})
	if count := ft.GetFillCount(); count != 1 {
		t.Errorf("expected 1 fill after adding fresh fill, got %d", count)
	}
}

func TestFlowTracker_Threshold(t *testing.T) {
	ft := NewFlowTracker(60*time.Second, 0.99, 120*time.Second, 3.0)

	now := time.Now()
	for i := 0; i < 4; i++ {
		ft.AddFill(Fill{Side: types.BUY, Notional: 10, Timestamp: now.Add(-time.Duration(i) * 2 * time.Second)})
	}
	ft.AddFill(Fill{Side: types.SELL, Notional: 10, Timestamp: now.Add(-10 * time.Second)})

	metrics := ft.CalculateToxicity()
	// Recency weighting pulls this above the raw 40/50 = 0.8 notional split
	// since the lone SELL is also the oldest fill in the window.
	if metrics.DirectionalImbalance < 0.8 || metrics.DirectionalImbalance > 0.95 {
		t.Errorf("expected directional imbalance in [0.8, 0.95], got %f", metrics.DirectionalImbalance)
	}
	if metrics.IsAverse {
		t.Errorf("expected not adverse with high threshold (0.99), got toxicity score %f", metrics.ToxicityScore)
	}
	if multiplier := ft.GetSpreadMultiplier(); multiplier != 1.0 {
		t.Errorf("expected no widening when not adverse, got multiplier %f", multiplier)
	}
}

func TestFlowTracker_ZeroNotionalDefaultsToUnitWeight(t *testing.T) {
	ft := NewFlowTracker(60*time.Second, 0.6, 120*time.Second, 3.0)
	now := time.Now()
	ft.AddFill(Fill{Side: types.BUY, Timestamp: now})
	// Same timestamp for both fills, so recency weighting treats them alike.
	ft.AddFill(Fill{Side: types.SELL, Timestamp: now})

	metrics := ft.CalculateToxicity()
	if metrics.DirectionalImbalance != 0.5 {
		t.Errorf("expected untracked notional to fall back to unit weight (0.5 imbalance), got %f", metrics.DirectionalImbalance)
	}
}
