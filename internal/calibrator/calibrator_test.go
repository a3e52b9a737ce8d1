package calibrator

import (
	"math"
	"testing"

	"pmm/pkg/types"
)

func approxEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestNextParamsWidening(t *testing.T) {
	t.Parallel()
	prior := types.CalibrationParams{
		TargetSpreadBps:  60,
		QuoteRefreshSec:  2,
		CancelRepriceSec: 10,
		State: types.CalibrationState{
			Fills:      10,
			Quotes:     100,
			MarkoutSum: -0.02,
		},
	}

	next := NextParams(prior)

	if !approxEqual(next.TargetSpreadBps, 60.6, 1e-9) {
		t.Errorf("TargetSpreadBps = %v, want 60.6", next.TargetSpreadBps)
	}
	wantRatio := 60.6 / 60.0
	if !approxEqual(next.QuoteRefreshSec, clamp(2*wantRatio, minRefreshS, maxRefreshS), 1e-9) {
		t.Errorf("QuoteRefreshSec = %v, want %v", next.QuoteRefreshSec, clamp(2*wantRatio, minRefreshS, maxRefreshS))
	}
	if !approxEqual(next.CancelRepriceSec, clamp(10*wantRatio, minRepriceS, maxRepriceS), 1e-9) {
		t.Errorf("CancelRepriceSec = %v, want %v", next.CancelRepriceSec, clamp(10*wantRatio, minRepriceS, maxRepriceS))
	}
}

func TestNextParamsNoQuotesReturnsPrior(t *testing.T) {
	t.Parallel()
	prior := types.CalibrationParams{TargetSpreadBps: 80, State: types.CalibrationState{Quotes: 0}}
	next := NextParams(prior)
	if next != prior {
		t.Errorf("NextParams with Quotes=0 should return prior unchanged, got %+v", next)
	}
}

func TestNextParamsTighten(t *testing.T) {
	t.Parallel()
	prior := types.CalibrationParams{
		TargetSpreadBps:  100,
		QuoteRefreshSec:  5,
		CancelRepriceSec: 20,
		State: types.CalibrationState{
			Fills:  1,
			Quotes: 1000,
		},
	}
	next := NextParams(prior)
	if !approxEqual(next.TargetSpreadBps, 90, 1e-9) {
		t.Errorf("TargetSpreadBps = %v, want 90 (tighten by 0.90x)", next.TargetSpreadBps)
	}
}

func TestNextParamsClampsBounds(t *testing.T) {
	t.Parallel()
	prior := types.CalibrationParams{
		TargetSpreadBps:  490,
		QuoteRefreshSec:  9,
		CancelRepriceSec: 58,
		State: types.CalibrationState{
			Fills:      100,
			Quotes:     200,
			MarkoutSum: -10,
		},
	}
	next := NextParams(prior)
	if next.TargetSpreadBps > maxSpreadBps {
		t.Errorf("TargetSpreadBps = %v, want <= %v", next.TargetSpreadBps, maxSpreadBps)
	}
	if next.QuoteRefreshSec > maxRefreshS {
		t.Errorf("QuoteRefreshSec = %v, want <= %v", next.QuoteRefreshSec, maxRefreshS)
	}
	if next.CancelRepriceSec > maxRepriceS {
		t.Errorf("CancelRepriceSec = %v, want <= %v", next.CancelRepriceSec, maxRepriceS)
	}
}

func TestStateRoundTrip(t *testing.T) {
	t.Parallel()
	s := types.CalibrationState{Fills: 5, Quotes: 50, MarkoutSum: -1.25, RealizedSpreadSum: 3.5}
	if got := FromState(ToState(s)); got != s {
		t.Errorf("round trip = %+v, want %+v", got, s)
	}
}
