// Command pmm is the market maker's CLI entry point: initialize the local
// database, refresh the persisted market universe from Gamma, run the
// control loop against either the paper fill simulator or the live CLOB,
// and print a run's latest PnL snapshot.
//
// Grounded on the teacher's cmd/bot/main.go (flag parsing, logger setup,
// signal-driven graceful shutdown) generalized into a subcommand CLI the way
// the reference implementation's pmm/cli.py exposes one script per
// operation (init-db, refresh-universe, run, report).
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"pmm/internal/config"
	"pmm/internal/engine"
	"pmm/internal/exchange"
	"pmm/internal/feed"
	"pmm/internal/logging"
	"pmm/internal/store"
	"pmm/internal/universe"
	"pmm/internal/userstream"
	"pmm/internal/venue"
	"pmm/pkg/types"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	if err := dispatch(os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintln(os.Stderr, "pmm:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: pmm <command> [flags]

commands:
  db init                      create the SQLite database and apply the schema
  universe refresh             fetch the top-liquidity markets from Gamma and persist them
  run paper|live [--run-id ID] run the control loop until interrupted
  report --run-id ID           print the latest PnL snapshot and recent risk events for a run`)
}

func dispatch(cmd string, args []string) error {
	switch cmd {
	case "db":
		if len(args) < 1 || args[0] != "init" {
			return fmt.Errorf("usage: pmm db init")
		}
		return runDBInit(args[1:])
	case "universe":
		if len(args) < 1 || args[0] != "refresh" {
			return fmt.Errorf("usage: pmm universe refresh")
		}
		return runUniverseRefresh(args[1:])
	case "run":
		if len(args) < 1 || (args[0] != "paper" && args[0] != "live") {
			return fmt.Errorf("usage: pmm run paper|live [--run-id ID]")
		}
		return runLoop(args[0], args[1:])
	case "report":
		return runReport(args)
	default:
		usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func loadConfig(fs *flag.FlagSet, args []string) (*config.Config, error) {
	configPath := fs.String("config", "configs/config.yaml", "path to the YAML config file")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func runDBInit(args []string) error {
	fs := flag.NewFlagSet("db init", flag.ExitOnError)
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}
	ctx := context.Background()
	st, err := store.Open(ctx, cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	fmt.Printf("database initialized at %s\n", cfg.Store.Path)
	return nil
}

func runUniverseRefresh(args []string) error {
	fs := flag.NewFlagSet("universe refresh", flag.ExitOnError)
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}
	logger := logging.New(cfg.Logging)
	ctx := context.Background()

	st, err := store.Open(ctx, cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	uc := universe.New(cfg.API.GammaBaseURL, logger)
	markets, err := uc.FetchTopLiquidity(ctx, universe.Params{
		Limit:      cfg.Universe.Limit,
		OrderField: cfg.Universe.OrderField,
		Ascending:  cfg.Universe.Ascending,
		OnlyActive: cfg.Universe.OnlyActive,
		OnlyOpen:   cfg.Universe.OnlyOpen,
	})
	if err != nil {
		return fmt.Errorf("fetch top liquidity markets: %w", err)
	}
	if err := st.UpsertMarkets(ctx, markets, time.Now().Unix()); err != nil {
		return fmt.Errorf("persist markets: %w", err)
	}
	logger.Info("universe refreshed", "markets", len(markets))
	return nil
}

func runLoop(mode string, args []string) error {
	fs := flag.NewFlagSet("run "+mode, flag.ExitOnError)
	runID := fs.String("run-id", "", "resume an existing run id (default: a fresh uuid)")
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}
	cfg.Mode = mode
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := logging.New(cfg.Logging)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	id := *runID
	if id == "" {
		id = uuid.New().String()
	}
	if err := st.InsertRun(ctx, id, cfg.Mode, time.Now().Unix(), map[string]any{
		"mode":               cfg.Mode,
		"max_usd_per_market": cfg.Strategy.MaxUSDPerMarket,
		"max_gross_usd":      cfg.Strategy.MaxGrossUSD,
	}); err != nil && err != store.ErrDuplicateRun {
		return fmt.Errorf("insert run: %w", err)
	}
	logger = logger.With("run_id", id)
	logger.Info("starting run", "mode", cfg.Mode)

	feedClient := feed.New(cfg.API.CLOBBaseURL, 10*time.Second, logger)

	venueAdapter, cleanup, err := buildVenue(ctx, *cfg, id, st, logger)
	if err != nil {
		return fmt.Errorf("build venue: %w", err)
	}
	defer cleanup()

	eng := engine.New(*cfg, id, st, feedClient, venueAdapter, logger)
	if err := eng.Run(ctx); err != nil && err != context.Canceled {
		return fmt.Errorf("run: %w", err)
	}
	logger.Info("run stopped")
	return nil
}

// buildVenue constructs the paper or live venue.Adapter for a run. In live
// mode it also starts the authenticated user-stream ingester in the
// background, so fills observed on the exchange flow into the same Store the
// control loop reads from on its next tick. The returned cleanup func must
// be called once the run loop exits.
func buildVenue(ctx context.Context, cfg config.Config, runID string, st *store.Store, logger *slog.Logger) (venue.Adapter, func(), error) {
	noop := func() {}
	if cfg.Mode == "paper" {
		return venue.NewPaper(), noop, nil
	}

	auth, err := exchange.NewAuth(cfg)
	if err != nil {
		return nil, noop, fmt.Errorf("new auth: %w", err)
	}
	client := exchange.NewClient(cfg, auth, logger)
	if !auth.HasL2Credentials() {
		if _, err := client.DeriveAPIKey(ctx); err != nil {
			return nil, noop, fmt.Errorf("derive api key: %w", err)
		}
	}

	if cfg.API.EnableWSSUser {
		userFeed := exchange.NewUserFeed(cfg.API.WSUserURL, auth, logger)
		ingester := userstream.New(runID, userFeed, st, logger)

		feedCtx, cancel := context.WithCancel(ctx)
		go func() {
			if err := userFeed.Run(feedCtx); err != nil && err != context.Canceled {
				logger.Error("user feed stopped", "error", err)
			}
		}()
		go func() {
			if err := ingester.Run(feedCtx); err != nil && err != context.Canceled {
				logger.Error("user stream ingester stopped", "error", err)
			}
		}()

		return venue.NewLive(client, types.Tick001), func() {
			cancel()
			userFeed.Close()
		}, nil
	}

	return venue.NewLive(client, types.Tick001), noop, nil
}

func runReport(args []string) error {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	runID := fs.String("run-id", "", "run id to report on (required)")
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}
	if *runID == "" {
		return fmt.Errorf("--run-id is required")
	}

	ctx := context.Background()
	st, err := store.Open(ctx, cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	pnl, ok, err := st.LatestPnL(ctx, *runID)
	if err != nil {
		return fmt.Errorf("latest pnl: %w", err)
	}
	if !ok {
		fmt.Printf("no snapshots recorded for run %s\n", *runID)
		return nil
	}
	fmt.Printf("run %s @ %s\n", *runID, time.Unix(pnl.TS, 0).Format(time.RFC3339))
	fmt.Printf("  cash:              %.2f\n", pnl.Cash)
	fmt.Printf("  equity:            %.2f\n", pnl.Equity)
	fmt.Printf("  realized pnl:      %.2f\n", pnl.RealizedUSD)
	fmt.Printf("  unrealized pnl:    %.2f\n", pnl.UnrealizedUSD)
	fmt.Printf("  gross exposure:    %.2f\n", pnl.GrossUSD)

	events, err := st.RecentRiskEvents(ctx, *runID, 10)
	if err != nil {
		return fmt.Errorf("recent risk events: %w", err)
	}
	if len(events) > 0 {
		fmt.Println("  recent risk events:")
		for _, e := range events {
			fmt.Printf("    [%s] %s: %s\n", e.Level, e.ConditionID, e.Reason)
		}
	}
	return nil
}
