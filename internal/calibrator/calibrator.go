// Package calibrator adapts each market's spread and quoting cadence from its
// accumulated fill-rate and markout (adverse-selection) telemetry.
//
// Grounded on pmm.strategy.calibrator.Calibrator from the reference
// implementation (MarketCalibState/MarketCalibParams, next_params,
// to_state_json/from_state_json).
package calibrator

import (
	"math"

	"pmm/pkg/types"
)

const (
	minSpreadBps = 20
	maxSpreadBps = 500
	minRefreshS  = 1
	maxRefreshS  = 10
	minRepriceS  = 5
	maxRepriceS  = 60
)

func clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}

// InitParams builds a fresh CalibrationParams row for a market never seen before.
func InitParams(conditionID string, alpha, targetSpreadBps, maxUSD, quoteRefreshSec, cancelRepriceSec float64) types.CalibrationParams {
	return types.CalibrationParams{
		ConditionID:      conditionID,
		Alpha:            alpha,
		TargetSpreadBps:  clamp(targetSpreadBps, minSpreadBps, maxSpreadBps),
		MaxUSD:           maxUSD,
		QuoteRefreshSec:  clamp(quoteRefreshSec, minRefreshS, maxRefreshS),
		CancelRepriceSec: clamp(cancelRepriceSec, minRepriceS, maxRepriceS),
	}
}

// NextParams computes the next tick's params from the prior params and
// accumulated state. MaxUSD and Alpha are untouched — the allocator owns
// MaxUSD, and Alpha is a static risk-config input.
func NextParams(prior types.CalibrationParams) types.CalibrationParams {
	st := prior.State
	if st.Quotes <= 0 {
		return prior
	}

	fillRate := float64(st.Fills) / float64(st.Quotes)
	avgMarkout := st.MarkoutSum / math.Max(1, float64(st.Fills))

	spread := prior.TargetSpreadBps
	switch {
	case st.Fills >= 5 && avgMarkout < 0:
		spread = spread * (1 + math.Min(0.50, 5*math.Abs(avgMarkout)))
	case fillRate < 0.01 && st.Quotes > 500:
		spread = 0.90 * spread
	}
	spread = clamp(spread, minSpreadBps, maxSpreadBps)

	ratio := 1.0
	if prior.TargetSpreadBps > 0 {
		ratio = spread / prior.TargetSpreadBps
	}

	next := prior
	next.TargetSpreadBps = spread
	next.QuoteRefreshSec = clamp(prior.QuoteRefreshSec*ratio, minRefreshS, maxRefreshS)
	next.CancelRepriceSec = clamp(prior.CancelRepriceSec*ratio, minRepriceS, maxRepriceS)
	return next
}

// ToState is the identity projection used for persistence round-tripping.
func ToState(s types.CalibrationState) types.CalibrationState {
	return s
}

// FromState is the identity projection used for persistence round-tripping.
func FromState(s types.CalibrationState) types.CalibrationState {
	return s
}
