// Package quoter computes symmetric two-sided quotes around a market midpoint.
//
// Grounded on pmm.strategy.mm_spread.SymmetricSpreadMM from the reference
// implementation: a deliberately simple alternative to full Avellaneda-Stoikov
// inventory-skewed quoting — no reservation price, no inventory term, just a
// clamp-to-bounds spread around mid sized by a fixed USD budget per side.
package quoter

import (
	"math"

	"pmm/pkg/types"
)

const (
	minPrice = 0.001
	maxPrice = 0.999
)

// Quote is one side of a two-sided quote pair.
type Quote struct {
	Side  types.Side
	Price float64
	Size  float64
}

func clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}

// Quotes returns the BUY and SELL quote for a token given its midpoint,
// target spread in bps, and the USD budget available for this one side of
// the book. Callers must halve the per-market max_usd before passing budget
// in here, so that the YES and NO books together respect the market cap.
func Quotes(mid, spreadBps, budgetUSD float64) []Quote {
	half := mid * spreadBps / 10000
	bid := clamp(mid-half, minPrice, maxPrice)
	ask := clamp(mid+half, minPrice, maxPrice)

	bidSize := math.Max(1, budgetUSD/math.Max(0.01, bid))
	askSize := math.Max(1, budgetUSD/math.Max(0.01, ask))

	return []Quote{
		{Side: types.BUY, Price: bid, Size: bidSize},
		{Side: types.SELL, Price: ask, Size: askSize},
	}
}
