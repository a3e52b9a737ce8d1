// Package engine is the per-tick control loop that ties every subsystem
// together: universe discovery (persisted separately by "universe refresh"),
// the public feed, the capital allocator, the per-market calibrator, the
// order lifecycle manager and its fill simulator, toxic-flow spread widening,
// the circuit breaker, and the inventory/PnL engine.
//
// Grounded on the reference implementation's top-level run loop (ingest ->
// features -> allocate -> per-market/per-token quoting -> snapshot -> sleep).
// The teacher's own internal/engine.Engine (goroutine-per-market, dashboard
// event bus, WS-driven Book/Maker pairs) is replaced: this domain runs one
// synchronous tick over a liquidity-sorted market list fetched from storage,
// matching the reference implementation's single-threaded loop rather than
// the teacher's concurrent per-market strategy goroutines.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"pmm/internal/allocator"
	"pmm/internal/breaker"
	"pmm/internal/calibrator"
	"pmm/internal/config"
	"pmm/internal/feed"
	"pmm/internal/inventory"
	"pmm/internal/ordermanager"
	"pmm/internal/quoter"
	"pmm/internal/risk"
	"pmm/internal/strategy"
	"pmm/internal/venue"
	"pmm/pkg/types"
)

// ErrUniverseEmpty is returned from Tick when no markets are persisted yet;
// the loop refuses to start rather than idling against nothing.
var ErrUniverseEmpty = errors.New("engine: universe is empty")

// ErrCircuitTripped is returned from Tick when the breaker's ShouldHalt
// fires mid-tick; the caller must exit non-zero.
var ErrCircuitTripped = errors.New("engine: circuit breaker tripped")

// Store is the persistence surface the control loop reads and writes.
type Store interface {
	ListUniverse(ctx context.Context) ([]types.MarketInfo, error)
	ListTradesSince(ctx context.Context, runID string, afterTS int64) ([]types.Trade, error)
	GetCalibration(ctx context.Context, conditionID string) (types.CalibrationParams, bool, error)
	UpsertCalibration(ctx context.Context, p types.CalibrationParams, now int64) error
	InsertOrderbookSnapshot(ctx context.Context, runID, tokenID string, ts int64, bestBid, bestAsk, midpoint float64, bids, asks any) error
	InsertPositionSnapshot(ctx context.Context, runID, tokenID string, ts int64, pos types.Position, unrealized, cash, equity float64) error
	UpsertAccountState(ctx context.Context, runID string, ts int64, acct types.Account) error
	InsertPnLSnapshot(ctx context.Context, runID string, ts int64, grossUSD, realizedUSD, unrealizedUSD, cash, equity float64) error
	InsertRiskEvent(ctx context.Context, evt types.RiskEvent, code string) error
	ordermanager.Store
}

// Engine runs one tick at a time over the persisted market universe.
type Engine struct {
	cfg    config.Config
	runID  string
	store  Store
	feed   *feed.Client
	venue  venue.Adapter
	inv    *inventory.Engine
	brk    *breaker.Breaker
	lim    *risk.Limiter
	logger *slog.Logger

	mu          sync.Mutex
	managers    map[string]*ordermanager.Manager           // token_id -> manager
	intensities map[string]*ordermanager.IntensityAdapter  // token_id -> adapter
	flows       map[string]*strategy.FlowTracker           // token_id -> toxic flow detector
	lastTradeTS int64
}

// New wires one engine instance for a single run.
func New(cfg config.Config, runID string, st Store, feedClient *feed.Client, venueAdapter venue.Adapter, logger *slog.Logger) *Engine {
	brkCfg := breaker.Config{
		MaxRejectRate:    cfg.Breaker.MaxRejectRate,
		WindowSec:        cfg.Breaker.WindowSec,
		MaxCancelsPerMin: cfg.Breaker.MaxCancelsPerMin,
		MaxErrors:        int64(cfg.Breaker.MaxErrors),
	}
	if venueAdapter.IsPaper() {
		brkCfg = breaker.PaperConfig(cfg.Breaker.MaxRejectRate, cfg.Breaker.WindowSec, cfg.Breaker.MaxErrors)
		if cfg.Breaker.MaxCancelsPerMinPaper > 0 {
			brkCfg.MaxCancelsPerMin = cfg.Breaker.MaxCancelsPerMinPaper
		}
	}

	return &Engine{
		cfg:   cfg,
		runID: runID,
		store: st,
		feed:  feedClient,
		venue: venueAdapter,
		inv:   inventory.New(cfg.Strategy.StartingCash),
		brk:   breaker.New(brkCfg),
		lim: risk.NewLimiter(risk.Limits{
			Alpha:           cfg.Strategy.Alpha,
			MaxUSDPerMarket: cfg.Strategy.MaxUSDPerMarket,
			MaxGrossUSD:     cfg.Strategy.MaxGrossUSD,
		}),
		logger:      logger.With("component", "engine", "run_id", runID),
		managers:    make(map[string]*ordermanager.Manager),
		intensities: make(map[string]*ordermanager.IntensityAdapter),
		flows:       make(map[string]*strategy.FlowTracker),
	}
}

// Run executes Tick repeatedly until ctx is cancelled or the circuit breaker
// trips / the universe is found empty. The inter-tick sleep is
// max(0.5s, quote_refresh_sec).
func (e *Engine) Run(ctx context.Context) error {
	interval := time.Duration(e.cfg.Strategy.QuoteRefreshSec * float64(time.Second))
	if interval < 500*time.Millisecond {
		interval = 500 * time.Millisecond
	}

	for {
		if err := e.Tick(ctx); err != nil {
			if errors.Is(err, ErrCircuitTripped) || errors.Is(err, ErrUniverseEmpty) {
				return err
			}
			e.logger.Error("tick failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

func nowUnix() int64 { return time.Now().Unix() }

// Tick runs one full pass over the persisted universe:
//
//  1. apply fills recorded since the last tick to inventory
//  2. build per-market features from persisted calibration state
//  3. compute the allocator's USD budget per market (if enabled)
//  4. for each market, quote both outcome tokens
//  5. fold this tick's observed depth samples into each token's reference
//  6. persist position, account, and PnL snapshots
func (e *Engine) Tick(ctx context.Context) error {
	if err := e.ingestFills(ctx); err != nil {
		return fmt.Errorf("ingest fills: %w", err)
	}

	markets, err := e.store.ListUniverse(ctx)
	if err != nil {
		return fmt.Errorf("list universe: %w", err)
	}
	if len(markets) == 0 {
		return ErrUniverseEmpty
	}

	calibs := make(map[string]types.CalibrationParams, len(markets))
	features := make([]types.MarketFeatures, 0, len(markets))
	for _, m := range markets {
		calib, ok, err := e.store.GetCalibration(ctx, m.ConditionID)
		if err != nil {
			return fmt.Errorf("get calibration %s: %w", m.ConditionID, err)
		}
		if !ok {
			calib = calibrator.InitParams(m.ConditionID, e.cfg.Strategy.Alpha, e.cfg.Strategy.TargetSpreadBps,
				e.cfg.Strategy.MaxUSDPerMarket, e.cfg.Strategy.QuoteRefreshSec, e.cfg.Strategy.CancelRepriceSec)
		}
		calibs[m.ConditionID] = calib
		features = append(features, types.MarketFeatures{
			ConditionID:       m.ConditionID,
			LiquidityNum:      m.Liquidity,
			Fills:             calib.State.Fills,
			Quotes:            calib.State.Quotes,
			MarkoutSum:        calib.State.MarkoutSum,
			RealizedSpreadSum: calib.State.RealizedSpreadSum,
		})
	}

	var alloc map[string]float64
	if e.cfg.Allocator.Enabled {
		alloc = allocator.Allocate(features, allocator.Params{
			Budget:          e.cfg.Strategy.MaxGrossUSD,
			MinPerMarket:    e.cfg.Strategy.MinUSDPerMarket,
			MaxPerMarket:    e.cfg.Strategy.MaxUSDPerMarket,
			LiquidityPower:  e.cfg.Allocator.LiquidityPower,
			QualityPenaltyK: e.cfg.Allocator.QualityK,
		})
	}

	allMids := make(map[string]float64)
	ts := nowUnix()

	for _, m := range markets {
		calib := calibs[m.ConditionID]
		if alloc != nil {
			if v, ok := alloc[m.ConditionID]; ok {
				calib.MaxUSD = v
			}
		} else {
			calib.MaxUSD = e.cfg.Strategy.MaxUSDPerMarket
		}
		calib = calibrator.NextParams(calib)

		mids := e.resolveMidpoints(ctx, m)
		for tokenID, mid := range mids {
			allMids[tokenID] = mid
		}

		gross := e.inv.GrossExposureUSD(mids)
		if e.lim.ExceedsGross(gross) {
			if err := e.store.InsertRiskEvent(ctx, types.RiskEvent{
				RunID: e.runID, ConditionID: m.ConditionID, Level: types.RiskWarn,
				Reason: fmt.Sprintf("gross exposure %.2f >= max %.2f", gross, e.lim.MaxGrossUSD()),
				TS:     ts,
			}, "MAX_GROSS_EXPOSURE"); err != nil {
				e.logger.Error("insert risk event", "error", err)
			}
			continue
		}

		for _, tokenID := range []string{m.YesTokenID, m.NoTokenID} {
			if tokenID == "" {
				continue
			}
			if err := e.quoteToken(ctx, m, tokenID, mids[tokenID], &calib); err != nil {
				if errors.Is(err, ErrCircuitTripped) {
					return err
				}
				e.logger.Error("quote token", "token_id", tokenID, "error", err)
			}
		}

		if err := e.store.UpsertCalibration(ctx, calib, ts); err != nil {
			e.logger.Error("upsert calibration", "condition_id", m.ConditionID, "error", err)
		}
	}

	e.mu.Lock()
	for _, ia := range e.intensities {
		ia.EndTick()
	}
	e.mu.Unlock()

	return e.snapshotState(ctx, allMids, ts)
}

func (e *Engine) ingestFills(ctx context.Context) error {
	trades, err := e.store.ListTradesSince(ctx, e.runID, e.lastTradeTS)
	if err != nil {
		return err
	}
	for _, t := range trades {
		e.inv.ApplyFill(t.TokenID, t.Side, t.Price, t.Size, 0)
		e.flowFor(t.TokenID).AddFill(strategy.Fill{Side: t.Side, Notional: t.Price * t.Size, Timestamp: time.Unix(t.TS, 0)})
		if t.TS > e.lastTradeTS {
			e.lastTradeTS = t.TS
		}
	}
	return nil
}

// resolveMidpoints fetches YES/NO midpoints, falling back to YES=0.5,
// NO=1-YES when the feed has no quote yet.
func (e *Engine) resolveMidpoints(ctx context.Context, m types.MarketInfo) map[string]float64 {
	mids := make(map[string]float64, 2)

	yesMid := 0.5
	if m.YesTokenID != "" {
		if v := e.feed.GetMidpoint(ctx, m.YesTokenID); v != nil {
			yesMid = *v
		}
		mids[m.YesTokenID] = yesMid
	}

	noMid := 1 - yesMid
	if m.NoTokenID != "" {
		if v := e.feed.GetMidpoint(ctx, m.NoTokenID); v != nil {
			noMid = *v
		}
		mids[m.NoTokenID] = noMid
	}

	return mids
}

func (e *Engine) quoteToken(ctx context.Context, m types.MarketInfo, tokenID string, mid float64, calib *types.CalibrationParams) error {
	ts := nowUnix()
	tick := parseTickSize(m.TickSize)

	book := e.feed.GetOrderBook(ctx, tokenID)
	bestBid, bestAsk, haveBook := feed.BestBidAsk(book)
	var bestBidPtr, bestAskPtr *float64
	if haveBook {
		bestBidPtr, bestAskPtr = &bestBid, &bestAsk
	}
	depthTop := feed.DepthTop(book, e.cfg.Paper.DepthLevels)

	var bidsAny, asksAny any
	if book != nil {
		bidsAny, asksAny = book.Bids, book.Asks
	}
	if err := e.store.InsertOrderbookSnapshot(ctx, e.runID, tokenID, ts, bestBid, bestAsk, mid, bidsAny, asksAny); err != nil {
		e.logger.Error("insert orderbook snapshot", "token_id", tokenID, "error", err)
	}

	budget := (calib.MaxUSD / 2) * e.lim.SizeScale()
	spreadBps := calib.TargetSpreadBps * e.flowFor(tokenID).GetSpreadMultiplier()
	quotes := quoter.Quotes(mid, spreadBps, budget)

	mgr := e.managerFor(tokenID, tick)
	mgr.SetCancelRepriceSec(calib.CancelRepriceSec)

	cancels := mgr.CancelStale(ctx)
	for i := 0; i < cancels; i++ {
		e.brk.RecordCancel()
	}

	for _, q := range quotes {
		notional := q.Price * q.Size
		if notional > 1.10*budget {
			continue
		}
		res, err := mgr.PlaceOrReplace(ctx, m.ConditionID, tokenID, q.Side, q.Price, q.Size, bestBidPtr, bestAskPtr)
		if err != nil {
			e.brk.RecordError()
			if halted, reason := e.brk.ShouldHalt(); halted {
				return e.tripBreaker(ctx, m.ConditionID, reason)
			}
			continue
		}
		if action, ok := res.Raw["action"]; ok && action == "SKIP" {
			continue
		}
		e.brk.RecordPlace(res.Success)
		if halted, reason := e.brk.ShouldHalt(); halted {
			return e.tripBreaker(ctx, m.ConditionID, reason)
		}
	}
	calib.State.Quotes += int64(len(quotes))

	if e.venue.IsPaper() {
		ia := e.intensityFor(tokenID)
		ia.Observe(depthTop)

		var spreadTicksPtr *float64
		if haveBook && tick > 0 {
			spreadTicks := (bestAsk - bestBid) / tick
			spreadTicksPtr = &spreadTicks
		}
		lambda := ia.Lambda(e.cfg.Paper.FillIntensity, depthTop, spreadTicksPtr, e.cfg.Paper.SpreadMode,
			e.cfg.Paper.SpreadK, e.cfg.Paper.IntensityMin, e.cfg.Paper.IntensityMax)

		stats, err := mgr.SimulateFills(ctx, ordermanager.SimParams{
			ConditionID:        m.ConditionID,
			TokenID:            tokenID,
			Midpoint:           &mid,
			BestBid:            bestBidPtr,
			BestAsk:            bestAskPtr,
			DtSec:              calib.QuoteRefreshSec,
			TS:                 ts,
			Intensity:          lambda,
			SpreadMode:         e.cfg.Paper.SpreadMode,
			SpreadK:            e.cfg.Paper.SpreadK,
			MarkoutSigmaBps:    e.cfg.Paper.MarkoutSigmaBps,
			PartialFillEnabled: e.cfg.Paper.PartialFill,
			FullFillProb:       e.cfg.Paper.FullFillProb,
			PartialBetaA:       e.cfg.Paper.PartialBetaA,
			PartialBetaB:       e.cfg.Paper.PartialBetaB,
			PartialMinFrac:     e.cfg.Paper.PartialMinFrac,
			PartialMaxFrac:     e.cfg.Paper.PartialMaxFrac,
			DepthTop:           &depthTop,
		})
		if err != nil {
			e.logger.Error("simulate fills", "token_id", tokenID, "error", err)
		} else {
			calib.State.Fills += stats.Fills
			calib.State.MarkoutSum += stats.MarkoutSum
			calib.State.RealizedSpreadSum += stats.RealizedSpreadSum
		}
	}

	return nil
}

func (e *Engine) tripBreaker(ctx context.Context, conditionID, reason string) error {
	if err := e.store.InsertRiskEvent(ctx, types.RiskEvent{
		RunID: e.runID, ConditionID: conditionID, Level: types.RiskError,
		Reason: reason, TS: nowUnix(),
	}, "circuit_breaker"); err != nil {
		e.logger.Error("insert risk event", "error", err)
	}
	e.logger.Error("circuit breaker tripped", "reason", reason)
	return fmt.Errorf("%w: %s", ErrCircuitTripped, reason)
}

func (e *Engine) managerFor(tokenID string, tick float64) *ordermanager.Manager {
	e.mu.Lock()
	defer e.mu.Unlock()
	if mgr, ok := e.managers[tokenID]; ok {
		return mgr
	}
	mgr := ordermanager.New(ordermanager.Config{
		RunID:             e.runID,
		MaxOrdersPerToken: e.cfg.Strategy.MaxOrdersPerMarket,
		CancelRepriceSec:  e.cfg.Strategy.CancelRepriceSec,
		PostOnly:          e.cfg.Strategy.PostOnly,
		TickSize:          tick,
	}, e.store, e.venue, e.logger)
	e.managers[tokenID] = mgr
	return mgr
}

func (e *Engine) intensityFor(tokenID string) *ordermanager.IntensityAdapter {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ia, ok := e.intensities[tokenID]; ok {
		return ia
	}
	p := e.cfg.Paper
	ia := ordermanager.NewIntensityAdapter(p.DepthRefMode, p.DepthRefQuantile, p.DepthRefEMA, p.DepthRefMin, p.DepthRefMax, p.DepthRef)
	e.intensities[tokenID] = ia
	return ia
}

func (e *Engine) flowFor(tokenID string) *strategy.FlowTracker {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ft, ok := e.flows[tokenID]; ok {
		return ft
	}
	s := e.cfg.Strategy
	ft := strategy.NewFlowTracker(
		time.Duration(s.FlowWindowSec*float64(time.Second)),
		s.FlowToxicityThreshold,
		time.Duration(s.FlowCooldownSec*float64(time.Second)),
		s.FlowMaxSpreadMultiplier,
	)
	e.flows[tokenID] = ft
	return ft
}

func (e *Engine) snapshotState(ctx context.Context, mids map[string]float64, ts int64) error {
	for _, pos := range e.inv.Positions() {
		mid := mids[pos.TokenID]
		unrealized := (mid - pos.AvgCost) * pos.Qty
		if err := e.store.InsertPositionSnapshot(ctx, e.runID, pos.TokenID, ts, pos, unrealized, e.inv.Cash(), e.inv.Equity(mids)); err != nil {
			e.logger.Error("insert position snapshot", "token_id", pos.TokenID, "error", err)
		}
	}

	acct := types.Account{
		Cash:             e.inv.Cash(),
		RealizedTotal:    e.inv.RealizedTotal(),
		UnrealizedTotal:  e.inv.UnrealizedTotal(mids),
		Equity:           e.inv.Equity(mids),
		GrossExposureUSD: e.inv.GrossExposureUSD(mids),
	}
	if err := e.store.UpsertAccountState(ctx, e.runID, ts, acct); err != nil {
		return fmt.Errorf("upsert account state: %w", err)
	}
	if err := e.store.InsertPnLSnapshot(ctx, e.runID, ts, acct.GrossExposureUSD, acct.RealizedTotal, acct.UnrealizedTotal, acct.Cash, acct.Equity); err != nil {
		return fmt.Errorf("insert pnl snapshot: %w", err)
	}
	return nil
}

// parseTickSize converts a market's TickSize enum to its numeric value,
// falling back to 1e-3 when unknown, matching the post-only guard's and
// replace-detection's documented fallback for an unresolved tick.
func parseTickSize(ts types.TickSize) float64 {
	switch ts {
	case types.Tick01:
		return 0.1
	case types.Tick001:
		return 0.01
	case types.Tick0001:
		return 0.001
	case types.Tick00001:
		return 0.0001
	default:
		return 1e-3
	}
}
