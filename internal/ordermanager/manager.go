// Package ordermanager keeps a small set of live post-only orders per token,
// cancels them once stale, reprices on price movement, and enforces a
// per-token capacity cap by evicting the oldest order first.
//
// Adapted from pmm.execution.order_manager.OrderManager in the reference
// implementation, generalized from a fixed-map-of-lists layout to a
// venue.Adapter-backed manager and extended with SKIP detection for
// idempotent re-quotes (not present in the original).
package ordermanager

import (
	"context"
	"crypto/sha1"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"pmm/internal/venue"
	"pmm/pkg/types"
)

// Store is the persistence contract the order manager needs. internal/store
// implements it against the relational schema; tests use an in-memory fake.
type Store interface {
	UpsertOrder(ctx context.Context, o types.LiveOrderState, meta map[string]any) error
	InsertTrade(ctx context.Context, t types.Trade) error
}

// PlaceResult mirrors venue.PlaceResult plus an action tag so callers can
// distinguish SKIP from a genuine placement without inspecting Raw.
type PlaceResult struct {
	Success      bool
	VenueOrderID string
	Error        string
	Raw          map[string]any
}

const skipPriceToleranceTicks = 1.0

// Manager owns a live-order table keyed by token_id. The control loop creates
// one Manager per outcome token, so in practice each table holds one token.
type Manager struct {
	runID            string
	store            Store
	venue            venue.Adapter
	maxOrdersPerToken int
	cancelRepriceSec float64
	postOnly         bool
	tickSize         float64 // 0 means "unknown", falls back to percentage comparisons

	mu   sync.Mutex
	live map[string][]types.LiveOrderState // token_id -> orders, oldest first

	rng *rand.Rand

	logger *slog.Logger
}

// Config bundles the knobs NewManager needs, mirroring the constructor
// arguments of the reference OrderManager.
type Config struct {
	RunID             string
	MaxOrdersPerToken int
	CancelRepriceSec  float64
	PostOnly          bool
	TickSize          float64
}

// New creates an order manager. The RNG is seeded deterministically from
// run_id so paper runs are reproducible across restarts with the same id.
func New(cfg Config, store Store, v venue.Adapter, logger *slog.Logger) *Manager {
	return &Manager{
		runID:             cfg.RunID,
		store:             store,
		venue:             v,
		maxOrdersPerToken: cfg.MaxOrdersPerToken,
		cancelRepriceSec:  cfg.CancelRepriceSec,
		postOnly:          cfg.PostOnly,
		tickSize:          cfg.TickSize,
		live:              make(map[string][]types.LiveOrderState),
		rng:               rand.New(rand.NewSource(seedFromRunID(cfg.RunID))),
		logger:            logger.With("component", "order_manager", "run_id", cfg.RunID),
	}
}

// seedFromRunID derives a stable int64 seed from a run id string: the first
// 32 bits of the SHA-1 of a UUID-shaped run_id (32 characters once dashes are
// removed), or a weighted character sum when run_id isn't UUID-shaped.
func seedFromRunID(runID string) int64 {
	clean := strings.ReplaceAll(runID, "-", "")
	if len(clean) == 32 {
		h := sha1.Sum([]byte(runID))
		var v uint32
		for i := 0; i < 4; i++ {
			v = v<<8 | uint32(h[i])
		}
		return int64(v)
	}
	s := runID
	if s == "" {
		s = "pmm"
	}
	var sum int64
	for i, ch := range s {
		sum += int64(i+1) * int64(ch)
	}
	return sum & 0xFFFFFFFF
}

// SetCancelRepriceSec updates the stale-cancel threshold, used when the
// calibrator adjusts it tick to tick.
func (m *Manager) SetCancelRepriceSec(sec float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelRepriceSec = sec
}

// LiveOrders returns a snapshot of the live orders for a token.
func (m *Manager) LiveOrders(tokenID string) []types.LiveOrderState {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.LiveOrderState, len(m.live[tokenID]))
	copy(out, m.live[tokenID])
	return out
}

func (m *Manager) priceChanged(oldPrice, newPrice float64) bool {
	if m.tickSize > 0 {
		return absf(oldPrice-newPrice) >= m.tickSize-1e-12
	}
	return absf(oldPrice-newPrice) >= maxf(1e-4, oldPrice*0.0001)
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// guardPostOnly pushes a crossing order back to the passive side of the book
// by one tick, or reports the guard blocked the order entirely.
func (m *Manager) guardPostOnly(side types.Side, price float64, bestBid, bestAsk *float64) (float64, bool) {
	if !m.postOnly {
		return price, true
	}
	tick := m.tickSize
	if tick <= 0 {
		tick = 1e-3
	}
	switch side {
	case types.BUY:
		if bestAsk != nil && price >= *bestAsk {
			adj := *bestAsk - tick
			if adj <= 0 {
				return 0, false
			}
			return adj, true
		}
	case types.SELL:
		if bestBid != nil && price <= *bestBid {
			adj := *bestBid + tick
			if adj >= 1.0 {
				return 0, false
			}
			return adj, true
		}
	}
	return price, true
}

func nowUnix() int64 { return time.Now().Unix() }

// CancelStale cancels every live order whose age has reached cancel_reprice_sec
// and reports how many of those cancels the venue confirmed; the control loop
// records that count in the circuit breaker.
func (m *Manager) CancelStale(ctx context.Context) int {
	m.mu.Lock()
	live := m.live
	m.mu.Unlock()

	now := nowUnix()
	cancels := 0
	for tokenID, orders := range live {
		var keep []types.LiveOrderState
		for _, o := range orders {
			if float64(now-o.CreatedTS) >= m.cancelRepriceSec {
				ok, err := m.venue.Cancel(ctx, o.VenueOrderID)
				if err != nil {
					m.logger.Warn("cancel_stale venue error", "token_id", tokenID, "error", err)
				}
				if ok {
					cancels++
				}
				status := types.OrderCanceled
				if !ok {
					status = types.OrderError
				}
				o.Status = status
				o.UpdatedTS = now
				if perr := m.store.UpsertOrder(ctx, o, map[string]any{"reason": "stale", "ok": ok}); perr != nil {
					m.logger.Error("persist stale cancel", "error", perr)
				}
			} else {
				keep = append(keep, o)
			}
		}
		m.mu.Lock()
		m.live[tokenID] = keep
		m.mu.Unlock()
	}
	return cancels
}

// sameOrder reports whether a live order already matches a requested quote
// closely enough that re-placing it would be pure churn: same side, price
// within a tick, size within a tick-scaled tolerance.
func (m *Manager) sameOrder(o types.LiveOrderState, side types.Side, price, size float64) bool {
	if o.Side != side {
		return false
	}
	tick := m.tickSize
	if tick <= 0 {
		tick = 1e-3
	}
	if absf(o.Price-price) > tick*skipPriceToleranceTicks+1e-12 {
		return false
	}
	return absf(o.Size-size) <= maxf(tick, size*0.01)
}

// PlaceOrReplace places a new order, replacing any stale-priced same-side
// order first and evicting the oldest order if the token is at capacity.
//
// An identical re-quote (same side, price within a tick, same size) is a
// no-op: it returns success with Raw["action"]="SKIP" before anything else
// runs, so the control loop never churns the book re-quoting an unchanged
// price.
func (m *Manager) PlaceOrReplace(ctx context.Context, conditionID, tokenID string, side types.Side, price, size float64, bestBid, bestAsk *float64) (PlaceResult, error) {
	m.mu.Lock()
	existing := append([]types.LiveOrderState(nil), m.live[tokenID]...)
	m.mu.Unlock()

	for _, o := range existing {
		if m.sameOrder(o, side, price, size) {
			return PlaceResult{Success: true, VenueOrderID: o.VenueOrderID, Raw: map[string]any{"action": "SKIP"}}, nil
		}
	}

	guardedPrice, ok := m.guardPostOnly(side, price, bestBid, bestAsk)
	if !ok {
		return PlaceResult{Success: false, Error: "post_only_guard_blocked", Raw: map[string]any{"best_bid": bestBid, "best_ask": bestAsk}}, nil
	}
	price = guardedPrice
	now := nowUnix()

	var kept []types.LiveOrderState
	for _, o := range existing {
		if o.Side == side && m.priceChanged(o.Price, price) {
			ok, err := m.venue.Cancel(ctx, o.VenueOrderID)
			if err != nil {
				m.logger.Warn("replace cancel venue error", "token_id", tokenID, "error", err)
			}
			status := types.OrderCanceled
			if !ok {
				status = types.OrderError
			}
			o.Status = status
			o.UpdatedTS = now
			if perr := m.store.UpsertOrder(ctx, o, map[string]any{"reason": "reprice", "ok": ok, "new_price": price}); perr != nil {
				m.logger.Error("persist reprice cancel", "error", perr)
			}
			continue
		}
		kept = append(kept, o)
	}
	existing = kept

	for len(existing) >= m.maxOrdersPerToken {
		o := existing[0]
		existing = existing[1:]
		ok, err := m.venue.Cancel(ctx, o.VenueOrderID)
		if err != nil {
			m.logger.Warn("capacity cancel venue error", "token_id", tokenID, "error", err)
		}
		status := types.OrderCanceled
		if !ok {
			status = types.OrderError
		}
		o.Status = status
		o.UpdatedTS = now
		if perr := m.store.UpsertOrder(ctx, o, map[string]any{"reason": "cap", "ok": ok}); perr != nil {
			m.logger.Error("persist capacity cancel", "error", perr)
		}
	}

	localOrderID := fmt.Sprintf("%s-%s-%d-%s", shortID(m.runID, 8), shortID(conditionID, 6), now, side)
	res, err := m.venue.PlaceLimit(ctx, tokenID, string(side), price, size, m.postOnly, map[string]any{"condition_id": conditionID})
	if err != nil {
		return PlaceResult{}, fmt.Errorf("place limit: %w", err)
	}

	status := types.OrderPlaced
	if !res.Success {
		status = types.OrderRejected
	}
	persisted := types.LiveOrderState{
		RunID:        m.runID,
		LocalOrderID: localOrderID,
		VenueOrderID: res.VenueOrderID,
		ConditionID:  conditionID,
		TokenID:      tokenID,
		Side:         side,
		Price:        price,
		Size:         size,
		OriginalSize: size,
		PostOnly:     m.postOnly,
		Status:       status,
		CreatedTS:    now,
		UpdatedTS:    now,
	}
	if perr := m.store.UpsertOrder(ctx, persisted, map[string]any{"raw": res.Raw, "err": res.Error, "best_bid": bestBid, "best_ask": bestAsk}); perr != nil {
		m.logger.Error("persist placed order", "error", perr)
	}

	if res.Success && res.VenueOrderID != "" {
		existing = append(existing, persisted)
	}
	m.mu.Lock()
	m.live[tokenID] = existing
	m.mu.Unlock()

	return PlaceResult{Success: res.Success, VenueOrderID: res.VenueOrderID, Error: res.Error, Raw: res.Raw}, nil
}

func shortID(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
