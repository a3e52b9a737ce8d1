package inventory

import (
	"math"
	"testing"

	"pmm/pkg/types"
)

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestApplyFillBasicScenario(t *testing.T) {
	t.Parallel()
	e := New(1000)
	e.ApplyFill("YES", types.BUY, 0.40, 10, 0)
	e.ApplyFill("YES", types.BUY, 0.60, 10, 0)
	e.ApplyFill("YES", types.SELL, 0.70, 5, 0)

	pos := e.Position("YES")
	if !approxEqual(pos.Qty, 15) {
		t.Errorf("qty = %v, want 15", pos.Qty)
	}
	if !approxEqual(pos.AvgCost, 0.50) {
		t.Errorf("avg_cost = %v, want 0.50", pos.AvgCost)
	}
	if !approxEqual(pos.Realized, 1.00) {
		t.Errorf("realized = %v, want 1.00", pos.Realized)
	}
	if !approxEqual(e.Cash(), 993.5) {
		t.Errorf("cash = %v, want 993.5", e.Cash())
	}
}

func TestApplyFillRoundTripToZero(t *testing.T) {
	t.Parallel()
	e := New(0)
	e.ApplyFill("YES", types.BUY, 0.50, 10, 0)
	e.ApplyFill("YES", types.SELL, 0.55, 10, 0)

	pos := e.Position("YES")
	if pos.Qty != 0 {
		t.Errorf("qty = %v, want 0", pos.Qty)
	}
	if pos.AvgCost != 0 {
		t.Errorf("avg_cost = %v, want 0 when qty=0", pos.AvgCost)
	}
	wantRealized := (0.55 - 0.50) * 10
	if !approxEqual(pos.Realized, wantRealized) {
		t.Errorf("realized = %v, want %v", pos.Realized, wantRealized)
	}
}

func TestNoShortPositions(t *testing.T) {
	t.Parallel()
	e := New(1000)
	e.ApplyFill("YES", types.BUY, 0.5, 5, 0)
	e.ApplyFill("YES", types.SELL, 0.5, 100, 0)
	pos := e.Position("YES")
	if pos.Qty < 0 {
		t.Errorf("qty = %v, want >= 0 (no shorts)", pos.Qty)
	}
}

func TestEquityMissingMidContributesZero(t *testing.T) {
	t.Parallel()
	e := New(100)
	e.ApplyFill("YES", types.BUY, 0.5, 10, 0)
	equity := e.Equity(map[string]float64{})
	if !approxEqual(equity, e.Cash()) {
		t.Errorf("equity = %v, want cash-only %v when mid unknown", equity, e.Cash())
	}
}

func TestGrossExposureUSD(t *testing.T) {
	t.Parallel()
	e := New(1000)
	e.ApplyFill("YES", types.BUY, 0.5, 10, 0)
	e.ApplyFill("NO", types.BUY, 0.5, 4, 0)
	gross := e.GrossExposureUSD(map[string]float64{"YES": 0.6, "NO": 0.4})
	want := 10*0.6 + 4*0.4
	if !approxEqual(gross, want) {
		t.Errorf("gross = %v, want %v", gross, want)
	}
}
