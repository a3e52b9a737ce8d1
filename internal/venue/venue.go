// Package venue defines the capability set every execution backend must
// implement: place a limit order, cancel by id, and declare whether it is a
// paper (simulation-capable) adapter.
//
// Grounded on pmm.execution.exchange_base.ExchangeBase from the reference
// implementation, and on the teacher's internal/exchange.Client for the live
// REST-backed variant.
package venue

import "context"

// PlaceResult is returned by Adapter.PlaceLimit.
type PlaceResult struct {
	Success      bool
	VenueOrderID string
	Error        string
	Raw          map[string]any
}

// Adapter is the polymorphic venue contract. Two implementations ship:
// venue/live (network-backed) and venue/paper (in-process, always succeeds).
type Adapter interface {
	PlaceLimit(ctx context.Context, tokenID string, side string, price, size float64, postOnly bool, meta map[string]any) (PlaceResult, error)
	Cancel(ctx context.Context, venueOrderID string) (bool, error)
	IsPaper() bool
}
