package venue

import (
	"context"
	"fmt"

	"pmm/internal/exchange"
	"pmm/pkg/types"
)

// Live adapts the teacher's REST client (auth, rate limiting, retry) to the
// place/cancel venue contract. Each call is a single-order batch against the
// CLOB's batch endpoints.
type Live struct {
	client   *exchange.Client
	tickSize types.TickSize
}

// NewLive wraps a configured REST client as a venue.Adapter.
func NewLive(client *exchange.Client, tickSize types.TickSize) *Live {
	return &Live{client: client, tickSize: tickSize}
}

func (l *Live) PlaceLimit(ctx context.Context, tokenID string, side string, price, size float64, postOnly bool, meta map[string]any) (PlaceResult, error) {
	order := types.UserOrder{
		TokenID:   tokenID,
		Price:     price,
		Size:      size,
		Side:      types.Side(side),
		OrderType: types.OrderTypeGTC,
		TickSize:  l.tickSize,
	}
	resps, err := l.client.PostOrders(ctx, []types.UserOrder{order}, false)
	if err != nil {
		return PlaceResult{}, fmt.Errorf("place limit: %w", err)
	}
	if len(resps) == 0 {
		return PlaceResult{Success: false, Error: "empty response"}, nil
	}
	r := resps[0]
	if !r.Success {
		return PlaceResult{Success: false, Error: r.ErrorMsg, Raw: map[string]any{"status": r.Status}}, nil
	}
	return PlaceResult{Success: true, VenueOrderID: r.OrderID, Raw: map[string]any{"status": r.Status}}, nil
}

func (l *Live) Cancel(ctx context.Context, venueOrderID string) (bool, error) {
	resp, err := l.client.CancelOrders(ctx, []string{venueOrderID})
	if err != nil {
		return false, fmt.Errorf("cancel: %w", err)
	}
	for _, id := range resp.Canceled {
		if id == venueOrderID {
			return true, nil
		}
	}
	return false, nil
}

func (l *Live) IsPaper() bool { return false }
