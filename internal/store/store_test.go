package store

import (
	"context"
	"testing"

	"pmm/pkg/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInsertRunRejectsDuplicate(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.InsertRun(ctx, "run-1", "paper", 1000, map[string]any{"k": "v"}); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	err := s.InsertRun(ctx, "run-1", "paper", 2000, map[string]any{"k": "v2"})
	if err != ErrDuplicateRun {
		t.Fatalf("expected ErrDuplicateRun, got %v", err)
	}
}

func TestUpsertAndListUniverse(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	markets := []types.MarketInfo{
		{ConditionID: "c1", ID: "m1", Question: "Will A?", Liquidity: 500, YesTokenID: "y1", NoTokenID: "n1", Active: true, AcceptingOrders: true},
		{ConditionID: "c2", ID: "m2", Question: "Will B?", Liquidity: 1500, YesTokenID: "y2", NoTokenID: "n2", Active: true, AcceptingOrders: true},
	}
	if err := s.UpsertMarkets(ctx, markets, 1000); err != nil {
		t.Fatalf("upsert markets: %v", err)
	}

	out, err := s.ListUniverse(ctx)
	if err != nil {
		t.Fatalf("list universe: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 markets, got %d", len(out))
	}
	if out[0].ConditionID != "c2" {
		t.Fatalf("expected liquidity-descending order, got %s first", out[0].ConditionID)
	}
	if out[0].YesTokenID != "y2" || out[0].NoTokenID != "n2" {
		t.Fatalf("token ids not round-tripped: %+v", out[0])
	}

	// Re-upsert with updated liquidity should replace, not duplicate.
	markets[0].Liquidity = 5000
	if err := s.UpsertMarkets(ctx, markets[:1], 2000); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}
	out, err = s.ListUniverse(ctx)
	if err != nil {
		t.Fatalf("list universe after update: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected still 2 markets after re-upsert, got %d", len(out))
	}
}

func TestUpsertOrderIdempotent(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	order := types.LiveOrderState{
		RunID: "run-1", LocalOrderID: "lo-1", VenueOrderID: "v-1",
		ConditionID: "c1", TokenID: "tok1", Side: types.BUY,
		Price: 0.45, Size: 10, Status: types.OrderPlaced, CreatedTS: 100, UpdatedTS: 100,
	}
	if err := s.UpsertOrder(ctx, order, nil); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	order.Status = types.OrderFilled
	order.UpdatedTS = 200
	if err := s.UpsertOrder(ctx, order, map[string]any{"reason": "filled"}); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	var status string
	var updatedTS int64
	row := s.db.QueryRowContext(ctx, `SELECT status, updated_ts FROM orders WHERE run_id=? AND local_order_id=?`, "run-1", "lo-1")
	if err := row.Scan(&status, &updatedTS); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if status != "FILLED" || updatedTS != 200 {
		t.Fatalf("expected row updated in place, got status=%s updated_ts=%d", status, updatedTS)
	}

	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders WHERE run_id=? AND local_order_id=?`, "run-1", "lo-1").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly 1 row, got %d", count)
	}
}

func TestInsertTradeDuplicateIsNoop(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	trade := types.Trade{RunID: "run-1", TradeID: "t-1", TokenID: "tok1", Side: types.BUY, Price: 0.5, Size: 5, Status: types.OrderFilled, TS: 100}
	if err := s.InsertTrade(ctx, trade); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := s.InsertTrade(ctx, trade); err != nil {
		t.Fatalf("duplicate insert should be a no-op, not an error: %v", err)
	}

	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM trades WHERE run_id=? AND trade_id=?`, "run-1", "t-1").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 trade row, got %d", count)
	}
}

func TestCalibrationRoundTrip(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	_, ok, err := s.GetCalibration(ctx, "c1")
	if err != nil {
		t.Fatalf("get before insert: %v", err)
	}
	if ok {
		t.Fatalf("expected no row before first upsert")
	}

	p := types.CalibrationParams{
		ConditionID: "c1", Alpha: 1.0, TargetSpreadBps: 50, MaxUSD: 100,
		QuoteRefreshSec: 3, CancelRepriceSec: 15,
		State: types.CalibrationState{Fills: 3, Quotes: 10, MarkoutSum: -0.5},
	}
	if err := s.UpsertCalibration(ctx, p, 1000); err != nil {
		t.Fatalf("upsert calibration: %v", err)
	}

	got, ok, err := s.GetCalibration(ctx, "c1")
	if err != nil {
		t.Fatalf("get after insert: %v", err)
	}
	if !ok {
		t.Fatalf("expected a row after upsert")
	}
	if got.State.Fills != 3 || got.State.Quotes != 10 {
		t.Fatalf("state not round-tripped: %+v", got.State)
	}
	if got.TargetSpreadBps != 50 {
		t.Fatalf("target_spread_bps = %v, want 50", got.TargetSpreadBps)
	}
}

func TestInsertRiskEventDedupesByCode(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	evt := types.RiskEvent{RunID: "run-1", ConditionID: "c1", Level: types.RiskWarn, Reason: "gross exposure exceeded", TS: 100}
	if err := s.InsertRiskEvent(ctx, evt, "gross_exposure"); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := s.InsertRiskEvent(ctx, evt, "gross_exposure"); err != nil {
		t.Fatalf("duplicate insert should be a no-op: %v", err)
	}

	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM risk_events WHERE run_id=?`, "run-1").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 risk event row, got %d", count)
	}
}
