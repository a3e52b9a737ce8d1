package venue

import (
	"context"
	"fmt"
	"sync/atomic"
)

// Paper is the in-process simulation venue adapter. It always accepts
// placements and cancels; realism comes from the order manager's fill
// simulator, which only runs when IsPaper() is true.
type Paper struct {
	seq atomic.Uint64
}

// NewPaper creates a paper venue adapter.
func NewPaper() *Paper {
	return &Paper{}
}

func (p *Paper) PlaceLimit(_ context.Context, _ string, _ string, _, _ float64, _ bool, _ map[string]any) (PlaceResult, error) {
	id := p.seq.Add(1)
	return PlaceResult{Success: true, VenueOrderID: fmt.Sprintf("paper-order-%d", id)}, nil
}

func (p *Paper) Cancel(_ context.Context, _ string) (bool, error) {
	return true, nil
}

func (p *Paper) IsPaper() bool { return true }
