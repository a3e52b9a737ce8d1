package userstream

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"

	"pmm/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeStore struct {
	mu          sync.Mutex
	events      []string
	trades      []types.Trade
	statusByVID map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{statusByVID: make(map[string]string)}
}

func (f *fakeStore) InsertUserEvent(ctx context.Context, runID, eventID, eventType string, ts int64, raw any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, eventType+":"+eventID)
	return nil
}

func (f *fakeStore) InsertTrade(ctx context.Context, t types.Trade) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trades = append(f.trades, t)
	return nil
}

func (f *fakeStore) UpdateOrderStatusByVenueID(ctx context.Context, runID, venueOrderID, status string, ts int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusByVID[venueOrderID] = status
	return nil
}

func TestHandleTradeRecordsTapeAndTrade(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	g := &Ingester{runID: "run-1", store: store, logger: testLogger()}

	evt := types.WSTradeEvent{
		ID: "t-1", Market: "cond-1", AssetID: "tok-1", Side: "BUY",
		Size: "10.5", Price: "0.42", Outcome: "Yes", Timestamp: "1700000000",
	}
	g.handleTrade(context.Background(), evt)

	if len(store.trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(store.trades))
	}
	tr := store.trades[0]
	if tr.TradeID != "t-1" || tr.ConditionID != "cond-1" || tr.TokenID != "tok-1" {
		t.Fatalf("trade not mapped correctly: %+v", tr)
	}
	if tr.Price != 0.42 || tr.Size != 10.5 {
		t.Fatalf("price/size not parsed: %+v", tr)
	}
	if len(store.events) != 1 || store.events[0] != "trade:t-1" {
		t.Fatalf("expected tape event recorded, got %v", store.events)
	}
}

func TestHandleOrderUpdatesStatusByVenueID(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	g := &Ingester{runID: "run-1", store: store, logger: testLogger()}

	evt := types.WSOrderEvent{ID: "v-1", Market: "cond-1", Type: "CANCELLATION", Timestamp: "1700000000"}
	g.handleOrder(context.Background(), evt)

	if store.statusByVID["v-1"] != string(types.OrderCanceled) {
		t.Fatalf("expected CANCELED, got %v", store.statusByVID["v-1"])
	}
}

func TestHandleOrderIgnoresEmptyID(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	g := &Ingester{runID: "run-1", store: store, logger: testLogger()}

	g.handleOrder(context.Background(), types.WSOrderEvent{Type: "UPDATE"})

	if len(store.statusByVID) != 0 {
		t.Fatalf("expected no status update for empty order id, got %v", store.statusByVID)
	}
}

func TestLifecycleToStatusInfersFillProgress(t *testing.T) {
	t.Parallel()
	cases := []struct {
		eventType, orig, matched string
		want                     types.OrderStatus
	}{
		{"PLACEMENT", "10", "0", types.OrderPlaced},
		{"CANCELLATION", "10", "3", types.OrderCanceled},
		{"UPDATE", "10", "10", types.OrderFilled},
		{"UPDATE", "10", "4", types.OrderPartial},
		{"UPDATE", "10", "0", types.OrderPlaced},
	}
	for _, c := range cases {
		got := lifecycleToStatus(c.eventType, c.orig, c.matched)
		if got != c.want {
			t.Errorf("lifecycleToStatus(%s,%s,%s) = %v, want %v", c.eventType, c.orig, c.matched, got, c.want)
		}
	}
}

func TestParseTimestampFallsBackToNowOnGarbage(t *testing.T) {
	t.Parallel()
	if got := parseTimestamp(""); got == 0 {
		t.Fatalf("expected a non-zero fallback timestamp")
	}
	if got := parseTimestamp("not-a-timestamp"); got == 0 {
		t.Fatalf("expected a non-zero fallback timestamp for a garbage value")
	}
	if got := parseTimestamp("1700000000"); got != 1700000000 {
		t.Fatalf("parseTimestamp = %d, want 1700000000", got)
	}
}
