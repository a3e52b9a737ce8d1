package ordermanager

import (
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat/distuv"

	"pmm/pkg/types"
)

// competitiveness returns the distance-to-best tier factor used to scale
// fill probability: orders resting closer to the inside touch are far more
// likely to trade than ones sitting deep in the book.
func competitiveness(distanceTicks float64) float64 {
	switch {
	case distanceTicks <= 0.5:
		return 1.00
	case distanceTicks <= 1.5:
		return 0.60
	case distanceTicks <= 2.5:
		return 0.35
	case distanceTicks <= 4.5:
		return 0.22
	default:
		return 0.15
	}
}

func edgeDecay(price float64, mid *float64) float64 {
	if mid == nil || *mid <= 1e-9 {
		return 1.0
	}
	edgeBps := absf(price-*mid) / *mid * 10000.0
	return 1.0 / (1.0 + edgeBps/80.0)
}

// SimParams configures one simulate-fills pass for a single token. Values
// come from the paper-mode configuration block and the calibrator's current
// parameters; Intensity is the lambda already resolved by IntensityAdapter.
type SimParams struct {
	ConditionID string
	TokenID     string
	Midpoint    *float64
	BestBid     *float64
	BestAsk     *float64
	DtSec       float64
	TS          int64 // unix seconds; 0 means "use time.Now"

	Intensity       float64
	SpreadMode      types.SpreadMode
	SpreadK         float64
	MarkoutSigmaBps float64

	PartialFillEnabled bool
	FullFillProb       float64
	PartialBetaA       float64
	PartialBetaB       float64
	PartialMinFrac     float64
	PartialMaxFrac     float64

	DepthTop *float64 // carried into trade meta only
}

// SimStats accumulates the calibrator-facing counters produced by one
// simulate-fills pass: how many fills occurred and their aggregate
// markout/realized-spread contribution.
type SimStats struct {
	Fills             int64
	MarkoutSum        float64
	RealizedSpreadSum float64
}

// SimulateFills draws stochastic fills against every live order resting on
// the given token, writes a trade row and an order upsert per fill, and
// returns the aggregate stats the calibrator folds into its running state.
//
// Only meaningful against a paper venue adapter; callers gate on
// venue.IsPaper() before invoking this.
func (m *Manager) SimulateFills(ctx context.Context, p SimParams) (SimStats, error) {
	m.mu.Lock()
	orders := append([]types.LiveOrderState(nil), m.live[p.TokenID]...)
	m.mu.Unlock()
	if len(orders) == 0 {
		return SimStats{}, nil
	}

	tick := m.tickSize
	if tick <= 0 {
		tick = 1e-3
	}
	dt := p.DtSec
	if dt < 0.1 {
		dt = 0.1
	}
	now := p.TS
	if now == 0 {
		now = nowUnix()
	}

	baseP := 1.0 - math.Exp(-maxf(0, p.Intensity)*dt)

	var spreadTicksPtr *float64
	spreadFactor := 1.0
	if p.BestBid != nil && p.BestAsk != nil {
		st := maxf(0, (*p.BestAsk-*p.BestBid)/tick)
		spreadTicksPtr = &st
		if p.SpreadMode == types.SpreadModeFactor {
			k := p.SpreadK
			if k <= 0 {
				k = 0.6
			}
			spreadFactor = 1.0 / (1.0 + k*maxf(0, st-1.0))
		}
	}

	var stats SimStats
	var kept []types.LiveOrderState

	for _, o := range orders {
		remaining := o.Size
		if remaining <= 1e-9 {
			continue
		}

		var distanceTicks float64
		switch o.Side {
		case types.BUY:
			if p.BestBid != nil {
				distanceTicks = absf(o.Price-*p.BestBid) / tick
			} else {
				distanceTicks = 9e9
			}
		case types.SELL:
			if p.BestAsk != nil {
				distanceTicks = absf(o.Price-*p.BestAsk) / tick
			} else {
				distanceTicks = 9e9
			}
		}
		competitive := competitiveness(distanceTicks)
		edge := edgeDecay(o.Price, p.Midpoint)

		pFill := maxf(0, minf(0.95, baseP*competitive*edge*spreadFactor))
		if m.rng.Float64() >= pFill {
			kept = append(kept, o)
			continue
		}

		sigmaBps := p.MarkoutSigmaBps
		if sigmaBps <= 0 {
			sigmaBps = 20
		}
		eps := m.rng.NormFloat64() * (sigmaBps / 10000.0)
		var futureMid *float64
		if p.Midpoint != nil {
			fm := clampf(*p.Midpoint*(1+eps), 0.001, 0.999)
			futureMid = &fm
		}

		var realizedSpreadPerUnit float64
		if p.Midpoint != nil {
			if o.Side == types.BUY {
				realizedSpreadPerUnit = *p.Midpoint - o.Price
			} else {
				realizedSpreadPerUnit = o.Price - *p.Midpoint
			}
		}

		frac := 1.0
		if p.PartialFillEnabled && m.rng.Float64() >= orDefault(p.FullFillProb, 0.35) {
			a := orDefault(p.PartialBetaA, 2.0)
			b := orDefault(p.PartialBetaB, 6.0)
			beta := distuv.Beta{Alpha: maxf(0.1, a), Beta: maxf(0.1, b), Src: m.rng}
			raw := beta.Rand()
			lo := orDefault(p.PartialMinFrac, 0.05)
			hi := orDefault(p.PartialMaxFrac, 0.60)
			frac = lo + (hi-lo)*raw
		}
		fillSize := clampf(frac*remaining, 1e-6, remaining)
		newRemaining := remaining - fillSize
		status := types.OrderPartial
		if newRemaining <= 1e-9 {
			status = types.OrderFilled
		}

		var markout float64
		if futureMid != nil {
			if o.Side == types.BUY {
				markout = (*futureMid - o.Price) * fillSize
			} else {
				markout = (o.Price - *futureMid) * fillSize
			}
		}

		tradeID := fmt.Sprintf("paper-%s", uuid.NewString())
		trade := types.Trade{
			RunID:        m.runID,
			TradeID:      tradeID,
			VenueOrderID: o.VenueOrderID,
			ConditionID:  p.ConditionID,
			TokenID:      p.TokenID,
			Side:         o.Side,
			Price:        o.Price,
			Size:         fillSize,
			Status:       status,
			TS:           now,
			Meta: map[string]any{
				"sim":              true,
				"p_fill":           pFill,
				"competitive":      competitive,
				"edge_factor":      edge,
				"spread_factor":    spreadFactor,
				"spread_ticks":     spreadTicksPtr,
				"best_bid":         p.BestBid,
				"best_ask":         p.BestAsk,
				"mid":              p.Midpoint,
				"future_mid":       futureMid,
				"markout":          markout,
				"realized_spread":  realizedSpreadPerUnit * fillSize,
				"markout_sigma_bps": sigmaBps,
				"intensity_used":   p.Intensity,
				"depth_top":        p.DepthTop,
			},
		}
		if err := m.store.InsertTrade(ctx, trade); err != nil {
			m.logger.Error("persist simulated trade", "error", err)
		}

		o.Size = maxf(0, newRemaining)
		o.Status = status
		o.UpdatedTS = now
		if err := m.store.UpsertOrder(ctx, o, map[string]any{"reason": "paper_sim_fill", "fill_size": fillSize, "remaining": newRemaining}); err != nil {
			m.logger.Error("persist simulated order update", "error", err)
		}

		stats.Fills++
		stats.MarkoutSum += markout
		stats.RealizedSpreadSum += realizedSpreadPerUnit * fillSize

		if status == types.OrderPartial {
			kept = append(kept, o)
		}
	}

	m.mu.Lock()
	m.live[p.TokenID] = kept
	m.mu.Unlock()

	return stats, nil
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func clampf(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func orDefault(v, def float64) float64 {
	if v <= 0 {
		return def
	}
	return v
}
