// Package risk implements the global exposure caps and order-size scaling
// the control loop enforces before quoting each market.
//
// Grounded on pmm.strategy.risk.RiskManager from the reference implementation:
// a deliberately thin guard, not the teacher's richer kill-switch/cooldown
// manager (that logic now lives in internal/breaker, which matches the
// reference circuit_breaker.py instead).
package risk

import "math"

// Limits holds the hard caps the loop checks every tick.
type Limits struct {
	Alpha            float64 // conservative size-scaling parameter, alpha >= 1 tightens sizing
	MaxUSDPerMarket  float64
	MaxGrossUSD      float64
}

// Limiter exposes size scaling and gross-exposure gating.
type Limiter struct {
	limits Limits
}

// NewLimiter builds a Limiter from static config-derived limits.
func NewLimiter(limits Limits) *Limiter {
	return &Limiter{limits: limits}
}

// SizeScale returns the conservative order-size multiplier 1/max(1, alpha).
func (l *Limiter) SizeScale() float64 {
	return 1.0 / math.Max(1.0, l.limits.Alpha)
}

// MaxUSDPerMarket returns the static per-market budget cap.
func (l *Limiter) MaxUSDPerMarket() float64 {
	return l.limits.MaxUSDPerMarket
}

// MaxGrossUSD returns the global gross-exposure cap.
func (l *Limiter) MaxGrossUSD() float64 {
	return l.limits.MaxGrossUSD
}

// ExceedsGross reports whether the given gross exposure breaches the cap and
// the market's quoting should be skipped this tick.
func (l *Limiter) ExceedsGross(grossUSD float64) bool {
	return grossUSD >= l.limits.MaxGrossUSD
}
