package ordermanager

import (
	"math"
	"sort"

	"pmm/pkg/types"
)

// IntensityAdapter derives the per-tick Poisson fill rate (lambda) from the
// depth resting at the top of the book relative to a slowly-moving reference
// depth, so paper fills speed up in thick books and slow down in thin ones.
//
// One adapter is kept per token; depth_ref carries over tick to tick.
type IntensityAdapter struct {
	Mode       types.DepthRefMode
	Quantile   float64 // default 0.70
	EMARho     float64 // default 0.80
	RefMin     float64
	RefMax     float64
	StaticRef  float64

	ref     float64
	samples []float64
}

// NewIntensityAdapter seeds the reference depth. For DepthRefStatic mode the
// reference never moves; for DepthRefQuantile it starts at the static seed
// and adapts from observed samples thereafter.
func NewIntensityAdapter(mode types.DepthRefMode, quantile, emaRho, refMin, refMax, seed float64) *IntensityAdapter {
	if quantile <= 0 {
		quantile = 0.70
	}
	if emaRho <= 0 {
		emaRho = 0.80
	}
	return &IntensityAdapter{
		Mode:      mode,
		Quantile:  quantile,
		EMARho:    emaRho,
		RefMin:    refMin,
		RefMax:    refMax,
		StaticRef: seed,
		ref:       seed,
	}
}

// DepthRef returns the reference depth frozen at the start of the current
// tick — the value simulate_fills should use for this tick's lambda calc.
func (a *IntensityAdapter) DepthRef() float64 {
	if a.Mode == types.DepthRefStatic {
		return a.StaticRef
	}
	return a.ref
}

// Lambda computes the fill intensity for one token given its current top-of-book
// depth, clamped to [lambdaMin, lambdaMax]. When spreadMode is "intensity" the
// spread penalty is folded in here instead of inside simulate_fills, avoiding a
// double penalty.
func (a *IntensityAdapter) Lambda(base, depthTop float64, spreadTicks *float64, spreadMode types.SpreadMode, spreadK, lambdaMin, lambdaMax float64) float64 {
	ref := a.DepthRef()
	factor := clampf(math.Sqrt(maxf(0, depthTop)/maxf(1, ref)), 0.25, 3.0)
	lambda := base * factor

	if spreadMode == types.SpreadModeIntensity && spreadTicks != nil {
		k := spreadK
		if k <= 0 {
			k = 0.6
		}
		lambda *= 1.0 / (1.0 + k*maxf(0, *spreadTicks-1.0))
	}

	if lambdaMin <= 0 {
		lambdaMin = 5e-4
	}
	if lambdaMax <= 0 {
		lambdaMax = 5e-2
	}
	return clampf(lambda, lambdaMin, lambdaMax)
}

// Observe records one depth_top sample for the tick in progress.
func (a *IntensityAdapter) Observe(depthTop float64) {
	a.samples = append(a.samples, depthTop)
}

// EndTick folds this tick's observed samples into the reference via the
// configured quantile and EMA smoothing, then clears the sample buffer.
// No-op in static mode, and when no samples were observed this tick.
func (a *IntensityAdapter) EndTick() {
	defer func() { a.samples = a.samples[:0] }()
	if a.Mode == types.DepthRefStatic || len(a.samples) == 0 {
		return
	}
	est := clampf(quantile(a.samples, a.Quantile), a.RefMin, a.RefMax)
	a.ref = a.EMARho*a.ref + (1-a.EMARho)*est
}

// quantile returns the value at the given quantile (0..1) of samples using
// linear interpolation between closest ranks, matching numpy's default method.
func quantile(samples []float64, q float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(pos)
	hi := lo + 1
	if hi >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}
