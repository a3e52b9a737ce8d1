// Package userstream consumes the authenticated WebSocket user channel and
// records every event onto the persisted tape: raw events into
// tape_user_events, fills into trades, and a best-effort status projection
// onto the matching orders row.
//
// Grounded on pmm.execution.live_user_stream.UserStream in the reference
// implementation (record-everything-to-tape, trade-vs-order branch, and the
// "update by venue_order_id where possible" best-effort order projection)
// and on the teacher's internal/exchange.WSFeed for the actual WebSocket
// connection, auto-reconnect, and channel-routing machinery — this package
// only adds the persistence layer on top of a user-channel feed the teacher
// already knows how to run.
package userstream

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"pmm/internal/exchange"
	"pmm/pkg/types"
)

// Store is the persistence surface the tape ingester writes to.
type Store interface {
	InsertUserEvent(ctx context.Context, runID, eventID, eventType string, ts int64, raw any) error
	InsertTrade(ctx context.Context, t types.Trade) error
	UpdateOrderStatusByVenueID(ctx context.Context, runID, venueOrderID, status string, ts int64) error
}

// Ingester drives one user-channel feed into a Store.
type Ingester struct {
	runID  string
	feed   *exchange.WSFeed
	store  Store
	logger *slog.Logger
}

// New builds a tape ingester over an already-constructed user feed. The feed
// is owned by the caller: Run(ctx) only reads from its event channels, it
// does not call feed.Run itself, so a single feed can be shared if a future
// caller needs to fan its events out to more than one consumer.
func New(runID string, feed *exchange.WSFeed, store Store, logger *slog.Logger) *Ingester {
	return &Ingester{
		runID:  runID,
		feed:   feed,
		store:  store,
		logger: logger.With("component", "userstream"),
	}
}

// Run drains the feed's trade and order channels until ctx is cancelled,
// persisting every event it observes. Intended to run in its own goroutine
// alongside feed.Run(ctx).
func (g *Ingester) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-g.feed.TradeEvents():
			if !ok {
				return nil
			}
			g.handleTrade(ctx, evt)
		case evt, ok := <-g.feed.OrderEvents():
			if !ok {
				return nil
			}
			g.handleOrder(ctx, evt)
		}
	}
}

func (g *Ingester) handleTrade(ctx context.Context, evt types.WSTradeEvent) {
	ts := parseTimestamp(evt.Timestamp)

	if err := g.store.InsertUserEvent(ctx, g.runID, evt.ID, "trade", ts, evt); err != nil {
		g.logger.Error("insert user event (trade)", "error", err)
	}

	trade := types.Trade{
		RunID:       g.runID,
		TradeID:     evt.ID,
		ConditionID: evt.Market,
		TokenID:     evt.AssetID,
		Side:        types.Side(evt.Side),
		Price:       parseFloat(evt.Price),
		Size:        parseFloat(evt.Size),
		Status:      types.OrderFilled,
		TS:          ts,
		Meta:        map[string]any{"outcome": evt.Outcome, "source": "user_ws"},
	}
	if err := g.store.InsertTrade(ctx, trade); err != nil {
		g.logger.Error("insert trade", "trade_id", evt.ID, "error", err)
	}
}

func (g *Ingester) handleOrder(ctx context.Context, evt types.WSOrderEvent) {
	ts := parseTimestamp(evt.Timestamp)

	if err := g.store.InsertUserEvent(ctx, g.runID, evt.ID, "order", ts, evt); err != nil {
		g.logger.Error("insert user event (order)", "error", err)
	}

	if evt.ID == "" {
		return
	}
	status := lifecycleToStatus(evt.Type, evt.OriginalSize, evt.SizeMatched)
	if err := g.store.UpdateOrderStatusByVenueID(ctx, g.runID, evt.ID, string(status), ts); err != nil {
		g.logger.Error("update order status", "venue_order_id", evt.ID, "error", err)
	}
}

// lifecycleToStatus maps the WS "type" field (PLACEMENT/UPDATE/CANCELLATION)
// plus observed fill progress onto our OrderStatus enum. A best-effort
// projection: the authoritative fill size/status still comes from trades.
func lifecycleToStatus(eventType, originalSize, sizeMatched string) types.OrderStatus {
	switch eventType {
	case "CANCELLATION":
		return types.OrderCanceled
	case "PLACEMENT":
		return types.OrderPlaced
	default:
		orig, matched := parseFloat(originalSize), parseFloat(sizeMatched)
		if orig > 0 && matched >= orig {
			return types.OrderFilled
		}
		if matched > 0 {
			return types.OrderPartial
		}
		return types.OrderPlaced
	}
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

// parseTimestamp accepts either a unix-seconds string or falls back to now,
// matching the reference implementation's `int(data.get("timestamp") or
// time.time())` fallback.
func parseTimestamp(s string) int64 {
	if s == "" {
		return time.Now().Unix()
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return int64(v)
	}
	return time.Now().Unix()
}
