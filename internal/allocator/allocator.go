// Package allocator distributes a bounded gross capital budget across markets
// by liquidity^p weighted against observed fill quality.
//
// Grounded on pmm.strategy.allocator.CapitalAllocator from the reference
// implementation (MarketFeatures, allocate: proportional -> min-pin ->
// re-allocate free set -> max-clip with overflow redistribution -> merge).
package allocator

import (
	"math"

	"pmm/pkg/types"
)

// Params configures one allocation pass.
type Params struct {
	Budget          float64
	MinPerMarket    float64
	MaxPerMarket    float64
	LiquidityPower  float64 // p
	QualityPenaltyK float64 // k
}

func clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}

func weight(f types.MarketFeatures, p Params) float64 {
	base := math.Pow(math.Max(1e-9, f.LiquidityNum), p.LiquidityPower)

	fillRate := float64(f.Fills) / math.Max(1, float64(f.Quotes))
	avgMarkout := f.MarkoutSum / math.Max(1, float64(f.Fills))
	adverse := math.Max(0, -avgMarkout)

	quality := math.Exp(-p.QualityPenaltyK*adverse) * (0.5 + 0.5*math.Min(1, 20*fillRate))
	quality = clamp(quality, 0.05, 1.5)

	return base * quality
}

// Allocate returns condition_id -> allocated USD budget for every feature in
// features, per the six-step algorithm in the design spec.
func Allocate(features []types.MarketFeatures, p Params) map[string]float64 {
	n := len(features)
	result := make(map[string]float64, n)
	if n == 0 {
		return result
	}

	weights := make(map[string]float64, n)
	var totalWeight float64
	for _, f := range features {
		w := weight(f, p)
		weights[f.ConditionID] = w
		totalWeight += w
	}
	if totalWeight <= 0 {
		totalWeight = 1
	}

	// 1. Proportional allocation.
	alloc := make(map[string]float64, n)
	for _, f := range features {
		alloc[f.ConditionID] = p.Budget * weights[f.ConditionID] / totalWeight
	}

	// 2. Pin anything below min, tracking remaining budget and the free set.
	remaining := p.Budget
	free := make([]string, 0, n)
	pinned := make(map[string]bool, n)
	for _, f := range features {
		if alloc[f.ConditionID] < p.MinPerMarket {
			alloc[f.ConditionID] = p.MinPerMarket
			pinned[f.ConditionID] = true
			remaining -= p.MinPerMarket
		} else {
			free = append(free, f.ConditionID)
		}
	}

	// 3. Nothing left to distribute: only the pinned markets get anything,
	// clipped by max. When len(free) == 0 every feature is pinned, so this
	// still covers the whole input. Free markets still hold their uncapped
	// step-1 share in alloc and must NOT be returned here, or the output
	// overshoots the budget (ground truth: allocator.py's `remaining <= 0`
	// branch returns only `fixed`).
	if remaining <= 0 || len(free) == 0 {
		for id := range pinned {
			result[id] = clamp(alloc[id], 0, p.MaxPerMarket)
		}
		return result
	}

	// 4. Re-allocate the free set proportionally within the remaining budget.
	var freeWeight float64
	for _, id := range free {
		freeWeight += weights[id]
	}
	if freeWeight <= 0 {
		freeWeight = 1
	}
	for _, id := range free {
		alloc[id] = remaining * weights[id] / freeWeight
	}

	// 5. Clip overflow above max, redistribute equally across non-overflowing markets.
	var overflow float64
	overflowing := make(map[string]bool, n)
	for _, id := range free {
		if alloc[id] > p.MaxPerMarket {
			overflow += alloc[id] - p.MaxPerMarket
			alloc[id] = p.MaxPerMarket
			overflowing[id] = true
		}
	}
	if overflow > 0 {
		var recipients []string
		for _, id := range free {
			if !overflowing[id] {
				recipients = append(recipients, id)
			}
		}
		if len(recipients) > 0 {
			share := overflow / float64(len(recipients))
			for _, id := range recipients {
				alloc[id] = clamp(alloc[id]+share, 0, p.MaxPerMarket)
			}
		}
	}

	// 6. Merge and return.
	for id, v := range alloc {
		result[id] = v
	}
	return result
}
