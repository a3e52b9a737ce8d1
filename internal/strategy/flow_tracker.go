// Package strategy implements toxic flow detection for market making.
// FlowTracker monitors recent fills to detect adverse selection and inform
// spread adjustments.
package strategy

import (
	"math"
	"sync"
	"time"

	"pmm/pkg/types"
)

// Fill is the minimal per-fill record FlowTracker needs: which side traded,
// how much notional it carried, and when it happened. Notional weighting
// means one 500-share sweep moves the toxicity score more than five 1-share
// fills, where a pure fill-count tracker would treat them identically.
type Fill struct {
	Side      types.Side
	Notional  float64
	Timestamp time.Time
}

// ToxicityMetrics contains calculated adverse selection indicators.
type ToxicityMetrics struct {
	DirectionalImbalance float64 // [0, 1]: notional share in the dominant direction
	FillVelocity         float64 // recency-weighted fills per minute
	ToxicityScore        float64 // [0, 1]: composite toxicity score
	IsAverse             bool    // true if likely getting adversely selected
}

// FlowTracker tracks recent fills in a rolling time window to detect toxic
// flow patterns. Toxic flow = notional that consistently goes in one
// direction, suggesting informed traders are picking off stale quotes right
// before price moves. Recent fills count more than old ones within the
// window: a half-life decay weights each fill by age rather than treating
// the whole window as uniform.
type FlowTracker struct {
	mu sync.RWMutex

	windowDuration time.Duration // how far back to look (e.g., 60s)
	halfLife       time.Duration // recency-decay half-life, derived from windowDuration
	fills          []Fill        // rolling window of recent fills

	toxicityThreshold float64       // score above this triggers spread widening
	cooldownPeriod    time.Duration // stay wide after toxicity detected
	maxSpreadMultiple float64       // max spread multiplier (e.g., 3.0x)

	lastToxicTime time.Time // last time toxicity was detected
}

// NewFlowTracker creates a flow tracker with the given configuration. The
// recency half-life is a quarter of the window, so a fill at the window's
// edge (four half-lives old) contributes a sixteenth of the weight of one
// just observed.
func NewFlowTracker(windowDuration time.Duration, toxicityThreshold float64, cooldownPeriod time.Duration, maxSpreadMultiple float64) *FlowTracker {
	return &FlowTracker{
		windowDuration:    windowDuration,
		halfLife:          windowDuration / 4,
		fills:             make([]Fill, 0, 100),
		toxicityThreshold: toxicityThreshold,
		cooldownPeriod:    cooldownPeriod,
		maxSpreadMultiple: maxSpreadMultiple,
	}
}

// AddFill adds a new fill to the tracker and evicts stale entries outside the window.
func (ft *FlowTracker) AddFill(fill Fill) {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	if fill.Notional <= 0 {
		fill.Notional = 1 // untracked notional still counts as one unit of flow
	}
	ft.fills = append(ft.fills, fill)
	ft.evictStaleLocked()
}

// evictStaleLocked removes fills older than the window duration.
// Must be called with lock held.
func (ft *FlowTracker) evictStaleLocked() {
	if len(ft.fills) == 0 {
		return
	}

	cutoff := time.Now().Add(-ft.windowDuration)
	validIdx := -1
	for i, fill := range ft.fills {
		if fill.Timestamp.After(cutoff) {
			validIdx = i
			break
		}
	}

	if validIdx == -1 {
		ft.fills = ft.fills[:0]
		return
	}
	if validIdx > 0 {
		ft.fills = ft.fills[validIdx:]
	}
}

// recencyWeight returns an exponential decay weight in (0, 1] for a fill's
// age: 1.0 for a fill observed now, 0.5 at one half-life, 0.25 at two, etc.
func (ft *FlowTracker) recencyWeight(age time.Duration) float64 {
	if ft.halfLife <= 0 {
		return 1.0
	}
	return math.Exp2(-age.Seconds() / ft.halfLife.Seconds())
}

// CalculateToxicity computes adverse selection metrics from recent fills.
func (ft *FlowTracker) CalculateToxicity() ToxicityMetrics {
	ft.mu.Lock()
	ft.evictStaleLocked()
	ft.mu.Unlock()

	ft.mu.RLock()
	defer ft.mu.RUnlock()

	if len(ft.fills) == 0 {
		return ToxicityMetrics{}
	}

	now := time.Now()
	var buyWeight, sellWeight, totalWeight float64
	for _, fill := range ft.fills {
		w := ft.recencyWeight(now.Sub(fill.Timestamp)) * fill.Notional
		totalWeight += w
		if fill.Side == types.BUY {
			buyWeight += w
		} else {
			sellWeight += w
		}
	}
	if totalWeight <= 0 {
		return ToxicityMetrics{}
	}

	// Directional imbalance: notional share in the dominant direction,
	// recency-weighted so a sudden reversal doesn't hide behind stale volume.
	dominant := math.Max(buyWeight, sellWeight)
	directionalImbalance := dominant / totalWeight

	if len(ft.fills) < 2 {
		return ToxicityMetrics{
			DirectionalImbalance: directionalImbalance,
			FillVelocity:         0,
			ToxicityScore:        directionalImbalance * 0.6, // only directional component
			IsAverse:             directionalImbalance > ft.toxicityThreshold,
		}
	}

	// Fill velocity: the sum of recency weights approximates "how many
	// full-weight fills arrived in roughly the last half-life," scaled to a
	// per-minute rate. A burst of fills in the last few seconds drives this
	// up fast; the same count spread evenly across the window barely moves
	// it, unlike a flat count/window-duration rate.
	var recencySum float64
	for _, fill := range ft.fills {
		recencySum += ft.recencyWeight(now.Sub(fill.Timestamp))
	}
	fillVelocity := recencySum * (60.0 / ft.halfLife.Seconds())

	// Normalize velocity: >3 fills/min-equivalent = very high (score 1.0).
	// This is aggressive for prediction markets.
	velocityFactor := math.Min(fillVelocity/3.0, 1.0)

	// Composite toxicity score:
	// - 60% weight on directional imbalance (most important signal)
	// - 40% weight on fill velocity (burst of fills suggests sweep)
	toxicityScore := 0.6*directionalImbalance + 0.4*velocityFactor

	return ToxicityMetrics{
		DirectionalImbalance: directionalImbalance,
		FillVelocity:         fillVelocity,
		ToxicityScore:        toxicityScore,
		IsAverse:             toxicityScore > ft.toxicityThreshold,
	}
}

// GetSpreadMultiplier returns the spread multiplier to apply based on current toxicity.
// Returns 1.0 (no change) under normal conditions, up to maxSpreadMultiple when toxic.
func (ft *FlowTracker) GetSpreadMultiplier() float64 {
	metrics := ft.CalculateToxicity()

	if metrics.IsAverse {
		ft.mu.Lock()
		ft.lastToxicTime = time.Now()
		ft.mu.Unlock()
	}

	ft.mu.RLock()
	sinceToxic := time.Since(ft.lastToxicTime)
	inCooldown := sinceToxic < ft.cooldownPeriod
	ft.mu.RUnlock()

	if !metrics.IsAverse && !inCooldown {
		return 1.0 // normal spread
	}

	if metrics.ToxicityScore < ft.toxicityThreshold {
		// In cooldown but not currently toxic: decay back to normal along
		// the same exponential curve recency weighting uses, rather than a
		// linear ramp, so the spread snaps back faster right after the
		// cooldown starts and eases in more gently near its end.
		cooldownHalfLife := ft.cooldownPeriod / 2
		decay := 1.0
		if cooldownHalfLife > 0 {
			decay = math.Exp2(-sinceToxic.Seconds() / cooldownHalfLife.Seconds())
		}
		return 1.0 + (ft.maxSpreadMultiple-1.0)*decay
	}

	// Currently toxic: scale multiplier by score.
	// Score == threshold -> 1.0x, rising linearly to maxSpreadMultiple at the
	// midpoint between threshold and 1.0, and capped there above it.
	normalizedScore := (metrics.ToxicityScore - ft.toxicityThreshold) / (1.0 - ft.toxicityThreshold)
	return 1.0 + (ft.maxSpreadMultiple-1.0)*math.Min(normalizedScore*2.0, 1.0)
}

// IsFlowToxic returns true if current flow is showing adverse selection.
func (ft *FlowTracker) IsFlowToxic() bool {
	metrics := ft.CalculateToxicity()
	return metrics.IsAverse
}

// GetFillCount returns the number of fills in the current window.
func (ft *FlowTracker) GetFillCount() int {
	ft.mu.RLock()
	defer ft.mu.RUnlock()
	return len(ft.fills)
}
