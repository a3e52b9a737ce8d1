package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"pmm/pkg/types"
)

func marshalJSON(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal json: %w", err)
	}
	return string(b), nil
}

func nullableJSON(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// InsertRun records the start of a new run. A duplicate run_id is rejected
// with ErrDuplicateRun rather than silently overwritten.
func (s *Store) InsertRun(ctx context.Context, runID, mode string, startedAt int64, config map[string]any) error {
	cfgJSON, err := marshalJSON(config)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, mode, started_at, config_json) VALUES (?, ?, ?, ?)`,
		runID, mode, startedAt, cfgJSON,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateRun
		}
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// isUniqueViolation is a loose check on the sqlite driver's error text; the
// pure-Go driver doesn't export a typed constraint-violation error, so this
// matches the message modernc.org/sqlite returns for a PK collision.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return containsAny(msg, "UNIQUE constraint failed", "constraint failed: UNIQUE")
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if len(s) >= len(sub) {
			for i := 0; i+len(sub) <= len(s); i++ {
				if s[i:i+len(sub)] == sub {
					return true
				}
			}
		}
	}
	return false
}

// UpsertMarkets writes the latest universe snapshot for each market.
func (s *Store) UpsertMarkets(ctx context.Context, markets []types.MarketInfo, now int64) error {
	stmt := `INSERT INTO markets (condition_id, market_id, question, slug, liquidity_num, volume_num, active, closed, accepting_orders, clob_token_ids, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(condition_id) DO UPDATE SET
			market_id=excluded.market_id, question=excluded.question, slug=excluded.slug,
			liquidity_num=excluded.liquidity_num, volume_num=excluded.volume_num,
			active=excluded.active, closed=excluded.closed, accepting_orders=excluded.accepting_orders,
			clob_token_ids=excluded.clob_token_ids, updated_at=excluded.updated_at`

	for _, mkt := range markets {
		tokenIDs, err := marshalJSON([]string{mkt.YesTokenID, mkt.NoTokenID})
		if err != nil {
			return err
		}
		if _, err := s.db.ExecContext(ctx, stmt,
			mkt.ConditionID, mkt.ID, mkt.Question, mkt.Slug, mkt.Liquidity, mkt.Volume24h,
			boolToInt(mkt.Active), boolToInt(mkt.Closed), boolToInt(mkt.AcceptingOrders), tokenIDs, now,
		); err != nil {
			return fmt.Errorf("upsert market %s: %w", mkt.ConditionID, err)
		}
	}
	return nil
}

// ListUniverse returns every persisted market, ordered by liquidity descending
// to match the control loop's per-tick iteration order (§4.9 step 4).
func (s *Store) ListUniverse(ctx context.Context) ([]types.MarketInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT condition_id, market_id, question, slug, liquidity_num, volume_num, active, closed, accepting_orders, clob_token_ids
		 FROM markets ORDER BY liquidity_num DESC`)
	if err != nil {
		return nil, fmt.Errorf("list universe: %w", err)
	}
	defer rows.Close()

	var out []types.MarketInfo
	for rows.Next() {
		var mkt types.MarketInfo
		var tokenIDsJSON string
		var active, closed, accepting int
		if err := rows.Scan(&mkt.ConditionID, &mkt.ID, &mkt.Question, &mkt.Slug, &mkt.Liquidity, &mkt.Volume24h, &active, &closed, &accepting, &tokenIDsJSON); err != nil {
			return nil, fmt.Errorf("scan market row: %w", err)
		}
		mkt.Active, mkt.Closed, mkt.AcceptingOrders = active != 0, closed != 0, accepting != 0
		var tokenIDs []string
		if err := json.Unmarshal([]byte(tokenIDsJSON), &tokenIDs); err == nil && len(tokenIDs) == 2 {
			mkt.YesTokenID, mkt.NoTokenID = tokenIDs[0], tokenIDs[1]
		}
		out = append(out, mkt)
	}
	return out, rows.Err()
}

// InsertOrderbookSnapshot persists one parsed book observation.
func (s *Store) InsertOrderbookSnapshot(ctx context.Context, runID, tokenID string, ts int64, bestBid, bestAsk, midpoint float64, bids, asks any) error {
	bidsJSON, err := marshalJSON(bids)
	if err != nil {
		return err
	}
	asksJSON, err := marshalJSON(asks)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO orderbooks (run_id, token_id, ts, best_bid, best_ask, midpoint, bids_json, asks_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id, token_id, ts) DO UPDATE SET
		   best_bid=excluded.best_bid, best_ask=excluded.best_ask, midpoint=excluded.midpoint,
		   bids_json=excluded.bids_json, asks_json=excluded.asks_json`,
		runID, tokenID, ts, bestBid, bestAsk, midpoint, bidsJSON, asksJSON,
	)
	if err != nil {
		return fmt.Errorf("insert orderbook snapshot: %w", err)
	}
	return nil
}

// UpsertOrder satisfies ordermanager.Store: it writes or updates a single
// live-order row keyed by (run_id, local_order_id).
func (s *Store) UpsertOrder(ctx context.Context, o types.LiveOrderState, meta map[string]any) error {
	metaJSON, err := marshalJSON(meta)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO orders (run_id, local_order_id, venue_order_id, condition_id, token_id, side, price, size, post_only, status, created_ts, updated_ts, meta_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id, local_order_id) DO UPDATE SET
		   venue_order_id=excluded.venue_order_id, condition_id=excluded.condition_id,
		   side=excluded.side, price=excluded.price, size=excluded.size, post_only=excluded.post_only,
		   status=excluded.status, updated_ts=excluded.updated_ts, meta_json=excluded.meta_json`,
		o.RunID, o.LocalOrderID, o.VenueOrderID, o.ConditionID, o.TokenID, string(o.Side),
		o.Price, o.Size, boolToInt(o.PostOnly), string(o.Status), o.CreatedTS, o.UpdatedTS, metaJSON,
	)
	if err != nil {
		return fmt.Errorf("upsert order %s: %w", o.LocalOrderID, err)
	}
	return nil
}

// InsertTrade satisfies ordermanager.Store: every trade id is unique, so this
// is an insert rather than an upsert — a simulated partial fill followed by
// its completing fill produces two distinct trade rows, matching the
// reference implementation's one-row-per-fill-event model.
func (s *Store) InsertTrade(ctx context.Context, t types.Trade) error {
	rawJSON, err := marshalJSON(t.Meta)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO trades (run_id, trade_id, venue_order_id, condition_id, token_id, side, price, size, status, ts, raw_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id, trade_id) DO NOTHING`,
		t.RunID, t.TradeID, t.VenueOrderID, t.ConditionID, t.TokenID, string(t.Side), t.Price, t.Size, string(t.Status), t.TS, rawJSON,
	)
	if err != nil {
		return fmt.Errorf("insert trade %s: %w", t.TradeID, err)
	}
	return nil
}

// InsertUserEvent records one raw event observed on the authenticated
// user-stream tape (trade or order lifecycle notification).
func (s *Store) InsertUserEvent(ctx context.Context, runID, eventID, eventType string, ts int64, raw any) error {
	rawJSON, err := marshalJSON(raw)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tape_user_events (run_id, event_id, event_type, ts, raw_json) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(run_id, event_id) DO NOTHING`,
		runID, eventID, eventType, ts, rawJSON,
	)
	if err != nil {
		return fmt.Errorf("insert user event %s: %w", eventID, err)
	}
	return nil
}

// GetCalibration loads the persisted calibration row for a market, returning
// (zero value, false, nil) when no row exists yet (first tick for a market).
func (s *Store) GetCalibration(ctx context.Context, conditionID string) (types.CalibrationParams, bool, error) {
	var p types.CalibrationParams
	var stateJSON string
	p.ConditionID = conditionID
	err := s.db.QueryRowContext(ctx,
		`SELECT alpha, target_spread_bps, max_usd, quote_refresh_sec, cancel_reprice_sec, state_json
		 FROM market_calibration WHERE condition_id = ?`, conditionID,
	).Scan(&p.Alpha, &p.TargetSpreadBps, &p.MaxUSD, &p.QuoteRefreshSec, &p.CancelRepriceSec, &stateJSON)
	if err == sql.ErrNoRows {
		return types.CalibrationParams{}, false, nil
	}
	if err != nil {
		return types.CalibrationParams{}, false, fmt.Errorf("get calibration %s: %w", conditionID, err)
	}
	if err := json.Unmarshal([]byte(stateJSON), &p.State); err != nil {
		return types.CalibrationParams{}, false, fmt.Errorf("unmarshal calibration state %s: %w", conditionID, err)
	}
	return p, true, nil
}

// UpsertCalibration writes the latest calibration params+state for a market.
func (s *Store) UpsertCalibration(ctx context.Context, p types.CalibrationParams, now int64) error {
	stateJSON, err := marshalJSON(p.State)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO market_calibration (condition_id, alpha, target_spread_bps, max_usd, quote_refresh_sec, cancel_reprice_sec, updated_at, state_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(condition_id) DO UPDATE SET
		   alpha=excluded.alpha, target_spread_bps=excluded.target_spread_bps, max_usd=excluded.max_usd,
		   quote_refresh_sec=excluded.quote_refresh_sec, cancel_reprice_sec=excluded.cancel_reprice_sec,
		   updated_at=excluded.updated_at, state_json=excluded.state_json`,
		p.ConditionID, p.Alpha, p.TargetSpreadBps, p.MaxUSD, p.QuoteRefreshSec, p.CancelRepriceSec, now, stateJSON,
	)
	if err != nil {
		return fmt.Errorf("upsert calibration %s: %w", p.ConditionID, err)
	}
	return nil
}

// InsertPositionSnapshot records one point-in-time position observation.
func (s *Store) InsertPositionSnapshot(ctx context.Context, runID, tokenID string, ts int64, pos types.Position, unrealized, cash, equity float64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO positions (run_id, token_id, ts, qty, avg_cost, realized_pnl, unrealized_pnl, cash, equity, meta_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id, token_id, ts) DO UPDATE SET
		   qty=excluded.qty, avg_cost=excluded.avg_cost, realized_pnl=excluded.realized_pnl,
		   unrealized_pnl=excluded.unrealized_pnl, cash=excluded.cash, equity=excluded.equity`,
		runID, tokenID, ts, pos.Qty, pos.AvgCost, pos.Realized, unrealized, cash, equity, nullableJSON(""),
	)
	if err != nil {
		return fmt.Errorf("insert position snapshot %s: %w", tokenID, err)
	}
	return nil
}

// UpsertAccountState persists the account-level aggregate for one tick. This
// is a normal, reachable repository call invoked once per tick from the
// control loop — not a dead nested closure, resolving the ambiguity noted in
// SPEC_FULL.md §4.8/§9 about the original's mark/upsert_account_state split.
func (s *Store) UpsertAccountState(ctx context.Context, runID string, ts int64, acct types.Account) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO account_state (run_id, ts, cash, equity, gross_exposure, meta_json)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id, ts) DO UPDATE SET
		   cash=excluded.cash, equity=excluded.equity, gross_exposure=excluded.gross_exposure`,
		runID, ts, acct.Cash, acct.Equity, acct.GrossExposureUSD, nullableJSON(""),
	)
	if err != nil {
		return fmt.Errorf("upsert account state: %w", err)
	}
	return nil
}

// InsertRiskEvent records an operator-facing risk decision.
func (s *Store) InsertRiskEvent(ctx context.Context, evt types.RiskEvent, code string) error {
	metaJSON, err := marshalJSON(evt.Meta)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO risk_events (run_id, ts, level, code, message, meta_json) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id, ts, code) DO NOTHING`,
		evt.RunID, evt.TS, string(evt.Level), code, evt.Reason, metaJSON,
	)
	if err != nil {
		return fmt.Errorf("insert risk event: %w", err)
	}
	return nil
}

// InsertPnLSnapshot records one point-in-time PnL/exposure rollup.
func (s *Store) InsertPnLSnapshot(ctx context.Context, runID string, ts int64, grossUSD, realizedUSD, unrealizedUSD, cash, equity float64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pnl_snapshots (run_id, ts, gross_usd, realized_usd, unrealized_usd, cash, equity, raw_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id, ts) DO UPDATE SET
		   gross_usd=excluded.gross_usd, realized_usd=excluded.realized_usd, unrealized_usd=excluded.unrealized_usd,
		   cash=excluded.cash, equity=excluded.equity`,
		runID, ts, grossUSD, realizedUSD, unrealizedUSD, cash, equity, nullableJSON(""),
	)
	if err != nil {
		return fmt.Errorf("insert pnl snapshot: %w", err)
	}
	return nil
}

// ListTradesSince returns every trade recorded for this run strictly after
// afterTS, ordered by ts ascending — the control loop's "ingest fills since
// last seen timestamp" step (§4.9 step 1).
func (s *Store) ListTradesSince(ctx context.Context, runID string, afterTS int64) ([]types.Trade, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT trade_id, venue_order_id, condition_id, token_id, side, price, size, status, ts
		 FROM trades WHERE run_id = ? AND ts > ? ORDER BY ts ASC`, runID, afterTS)
	if err != nil {
		return nil, fmt.Errorf("list trades since %d: %w", afterTS, err)
	}
	defer rows.Close()

	var out []types.Trade
	for rows.Next() {
		t := types.Trade{RunID: runID}
		var venueOrderID, conditionID sql.NullString
		if err := rows.Scan(&t.TradeID, &venueOrderID, &conditionID, &t.TokenID, &t.Side, &t.Price, &t.Size, &t.Status, &t.TS); err != nil {
			return nil, fmt.Errorf("scan trade row: %w", err)
		}
		t.VenueOrderID = venueOrderID.String
		t.ConditionID = conditionID.String
		out = append(out, t)
	}
	return out, rows.Err()
}

// PnLSummary is the single most recent PnL snapshot for a run, the shape the
// "report" CLI subcommand prints.
type PnLSummary struct {
	TS            int64
	GrossUSD      float64
	RealizedUSD   float64
	UnrealizedUSD float64
	Cash          float64
	Equity        float64
}

// LatestPnL returns the most recent PnL snapshot recorded for a run, or
// ok=false if the run has never completed a tick.
func (s *Store) LatestPnL(ctx context.Context, runID string) (PnLSummary, bool, error) {
	var p PnLSummary
	err := s.db.QueryRowContext(ctx,
		`SELECT ts, gross_usd, realized_usd, unrealized_usd, cash, equity
		 FROM pnl_snapshots WHERE run_id = ? ORDER BY ts DESC LIMIT 1`, runID,
	).Scan(&p.TS, &p.GrossUSD, &p.RealizedUSD, &p.UnrealizedUSD, &p.Cash, &p.Equity)
	if err == sql.ErrNoRows {
		return PnLSummary{}, false, nil
	}
	if err != nil {
		return PnLSummary{}, false, fmt.Errorf("latest pnl for %s: %w", runID, err)
	}
	return p, true, nil
}

// RecentRiskEvents returns the most recent risk events for a run, newest
// first, capped at limit. The risk_events table has no condition_id column,
// so ConditionID is empty on the returned events.
func (s *Store) RecentRiskEvents(ctx context.Context, runID string, limit int) ([]types.RiskEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT level, message, ts, code FROM risk_events
		 WHERE run_id = ? ORDER BY ts DESC LIMIT ?`, runID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent risk events: %w", err)
	}
	defer rows.Close()

	var out []types.RiskEvent
	for rows.Next() {
		var e types.RiskEvent
		var code string
		e.RunID = runID
		if err := rows.Scan(&e.Level, &e.Reason, &e.TS, &code); err != nil {
			return nil, fmt.Errorf("scan risk event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// UpdateOrderStatusByVenueID applies a best-effort status update to any order
// row matching a venue order id — the user stream often cannot resolve a
// venue event back to the local_order_id it was placed under, only to the
// venue_order_id the exchange assigned on acceptance.
func (s *Store) UpdateOrderStatusByVenueID(ctx context.Context, runID, venueOrderID, status string, ts int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE orders SET status=?, updated_ts=? WHERE run_id=? AND venue_order_id=?`,
		status, ts, runID, venueOrderID,
	)
	if err != nil {
		return fmt.Errorf("update order status by venue id %s: %w", venueOrderID, err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
