// Package config defines all configuration for the market-making engine.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// secrets overridable via PMM_* environment variables.
//
// Grounded on the teacher's internal/config.Config (viper-based YAML load,
// env-var overrides for secrets, Validate() enforcing configuration-fatal
// checks before the loop starts) and generalized onto §6.5's full field set.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"pmm/pkg/types"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Mode      string          `mapstructure:"mode"` // "paper" or "live"
	Wallet    WalletConfig    `mapstructure:"wallet"`
	API       APIConfig       `mapstructure:"api"`
	Strategy  StrategyConfig  `mapstructure:"strategy"`
	Allocator AllocatorConfig `mapstructure:"allocator"`
	Universe  UniverseConfig  `mapstructure:"universe"`
	Paper     PaperConfig     `mapstructure:"paper"`
	Breaker   BreakerConfig   `mapstructure:"breaker"`
	Store     StoreConfig     `mapstructure:"store"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// WalletConfig holds the Ethereum wallet used for signing orders.
type WalletConfig struct {
	PrivateKey    string `mapstructure:"private_key"`
	SignatureType int    `mapstructure:"signature_type"`
	FunderAddress string `mapstructure:"funder_address"`
	ChainID       int    `mapstructure:"chain_id"`
}

// APIConfig holds Polymarket API endpoints and optional pre-derived L2 credentials.
type APIConfig struct {
	CLOBBaseURL   string `mapstructure:"clob_base_url"`
	GammaBaseURL  string `mapstructure:"gamma_base_url"`
	WSMarketURL   string `mapstructure:"ws_market_url"`
	WSUserURL     string `mapstructure:"ws_user_url"`
	ApiKey        string `mapstructure:"api_key"`
	ApiSecret     string `mapstructure:"api_secret"`
	ApiPassphrase string `mapstructure:"api_passphrase"`
	EnableWSSUser bool   `mapstructure:"enable_wss_user"`
	WSSPingSec    int    `mapstructure:"wss_ping_sec"`
}

// StrategyConfig is the base quoting and risk budget surface for the
// symmetric spread quoter, order manager, and gross-exposure guard.
type StrategyConfig struct {
	StartingCash       float64 `mapstructure:"starting_cash"`
	Alpha              float64 `mapstructure:"alpha"`
	MaxUSDPerMarket    float64 `mapstructure:"max_usd_per_market"`
	MinUSDPerMarket    float64 `mapstructure:"min_usd_per_market"`
	MaxGrossUSD        float64 `mapstructure:"max_gross_usd"`
	PostOnly           bool    `mapstructure:"post_only"`
	TargetSpreadBps    float64 `mapstructure:"target_spread_bps"`
	QuoteRefreshSec    float64 `mapstructure:"quote_refresh_sec"`
	CancelRepriceSec   float64 `mapstructure:"cancel_reprice_sec"`
	MaxOrdersPerMarket int     `mapstructure:"max_orders_per_market"`
	TickBuffer         int     `mapstructure:"tick_buffer"`

	// Toxic flow detection: widen the quoted spread after a burst of
	// one-sided fills suggests an informed trader is sweeping the book.
	FlowWindowSec           float64 `mapstructure:"flow_window_sec"`
	FlowToxicityThreshold   float64 `mapstructure:"flow_toxicity_threshold"`
	FlowCooldownSec         float64 `mapstructure:"flow_cooldown_sec"`
	FlowMaxSpreadMultiplier float64 `mapstructure:"flow_max_spread_multiplier"`
}

// AllocatorConfig tunes the capital allocator's liquidity/quality weighting.
type AllocatorConfig struct {
	Enabled        bool    `mapstructure:"enable_allocator"`
	LiquidityPower float64 `mapstructure:"alloc_liquidity_power"`
	QualityK       float64 `mapstructure:"alloc_quality_k"`
}

// UniverseConfig controls market discovery from the Gamma API.
type UniverseConfig struct {
	Limit      int    `mapstructure:"universe_limit"`
	OrderField string `mapstructure:"universe_order_field"`
	Ascending  bool   `mapstructure:"universe_ascending"`
	OnlyActive bool   `mapstructure:"only_active"`
	OnlyOpen   bool   `mapstructure:"only_open"`
}

// PaperConfig tunes the stochastic fill simulator used in paper mode.
type PaperConfig struct {
	FillIntensity    float64            `mapstructure:"paper_fill_intensity"`
	IntensityAdapt   bool               `mapstructure:"paper_intensity_adapt"`
	DepthRefMode     types.DepthRefMode `mapstructure:"paper_depth_ref_mode"`
	DepthRefQuantile float64            `mapstructure:"paper_depth_ref_quantile"`
	DepthRef         float64            `mapstructure:"paper_depth_ref"`
	DepthRefMin      float64            `mapstructure:"paper_depth_ref_min"`
	DepthRefMax      float64            `mapstructure:"paper_depth_ref_max"`
	DepthRefEMA      float64            `mapstructure:"paper_depth_ref_ema"`
	DepthLevels      int                `mapstructure:"paper_depth_levels"`
	SpreadMode       types.SpreadMode   `mapstructure:"paper_spread_mode"`
	SpreadK          float64            `mapstructure:"paper_spread_k"`
	MarkoutSigmaBps  float64            `mapstructure:"paper_markout_sigma_bps"`
	PartialFill      bool               `mapstructure:"paper_partial_fill"`
	FullFillProb     float64            `mapstructure:"paper_full_fill_prob"`
	PartialBetaA     float64            `mapstructure:"paper_partial_beta_a"`
	PartialBetaB     float64            `mapstructure:"paper_partial_beta_b"`
	PartialMinFrac   float64            `mapstructure:"paper_partial_min_frac"`
	PartialMaxFrac   float64            `mapstructure:"paper_partial_max_frac"`
	IntensityMin     float64            `mapstructure:"paper_intensity_min"`
	IntensityMax     float64            `mapstructure:"paper_intensity_max"`
}

// BreakerConfig sets the circuit breaker's trip thresholds.
type BreakerConfig struct {
	MaxRejectRate         float64 `mapstructure:"cb_max_reject_rate"`
	WindowSec             int     `mapstructure:"cb_window_sec"`
	MaxCancelsPerMin      int     `mapstructure:"cb_max_cancels_per_min"`
	MaxCancelsPerMinPaper int     `mapstructure:"cb_max_cancels_per_min_paper"`
	MaxErrors             int     `mapstructure:"cb_max_errors"`
}

// StoreConfig sets where the relational store is persisted.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file with env var overrides.
// Secrets use env vars: PMM_PRIVATE_KEY, PMM_API_KEY, PMM_API_SECRET, PMM_API_PASSPHRASE.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("PMM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	applyDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if key := os.Getenv("PMM_PRIVATE_KEY"); key != "" {
		cfg.Wallet.PrivateKey = key
	}
	if key := os.Getenv("PMM_API_KEY"); key != "" {
		cfg.API.ApiKey = key
	}
	if secret := os.Getenv("PMM_API_SECRET"); secret != "" {
		cfg.API.ApiSecret = secret
	}
	if pass := os.Getenv("PMM_API_PASSPHRASE"); pass != "" {
		cfg.API.ApiPassphrase = pass
	}

	return &cfg, nil
}

// applyDefaults seeds the non-zero defaults named in SPEC_FULL.md for the
// paper simulator and allocator, so a minimal YAML file still behaves
// sensibly. Values actually set in the file or by env override win.
func applyDefaults(v *viper.Viper) {
	v.SetDefault("mode", "paper")
	v.SetDefault("strategy.tick_buffer", 2)
	v.SetDefault("strategy.flow_window_sec", 60.0)
	v.SetDefault("strategy.flow_toxicity_threshold", 0.65)
	v.SetDefault("strategy.flow_cooldown_sec", 30.0)
	v.SetDefault("strategy.flow_max_spread_multiplier", 3.0)
	v.SetDefault("allocator.alloc_liquidity_power", 0.5)
	v.SetDefault("allocator.alloc_quality_k", 1.0)
	v.SetDefault("universe.universe_limit", 50)
	v.SetDefault("universe.universe_order_field", "liquidityNum")
	v.SetDefault("paper.paper_fill_intensity", 0.05)
	v.SetDefault("paper.paper_depth_ref_mode", string(types.DepthRefQuantile))
	v.SetDefault("paper.paper_depth_ref_quantile", 0.70)
	v.SetDefault("paper.paper_depth_ref_ema", 0.80)
	v.SetDefault("paper.paper_depth_levels", 5)
	v.SetDefault("paper.paper_spread_mode", string(types.SpreadModeFactor))
	v.SetDefault("paper.paper_markout_sigma_bps", 20.0)
	v.SetDefault("paper.paper_full_fill_prob", 0.35)
	v.SetDefault("paper.paper_partial_beta_a", 2.0)
	v.SetDefault("paper.paper_partial_beta_b", 6.0)
	v.SetDefault("paper.paper_partial_min_frac", 0.05)
	v.SetDefault("paper.paper_partial_max_frac", 0.60)
	v.SetDefault("breaker.cb_window_sec", 60)
	v.SetDefault("api.wss_ping_sec", 10)
}

// Validate checks all required fields and value ranges, matching the
// configuration-fatal checks named in SPEC_FULL.md §7: missing credentials
// for live mode, non-positive budgets, invalid signature type.
func (c *Config) Validate() error {
	if c.Mode != "paper" && c.Mode != "live" {
		return fmt.Errorf("mode must be one of: paper, live")
	}
	if c.Mode == "live" {
		if c.Wallet.PrivateKey == "" {
			return fmt.Errorf("wallet.private_key is required for live mode (set PMM_PRIVATE_KEY)")
		}
		if c.Wallet.ChainID == 0 {
			return fmt.Errorf("wallet.chain_id is required for live mode (137 for mainnet)")
		}
	}
	switch c.Wallet.SignatureType {
	case 0, 1, 2:
	default:
		return fmt.Errorf("wallet.signature_type must be one of: 0 (EOA), 1 (POLY_PROXY), 2 (GNOSIS_SAFE)")
	}
	if c.Wallet.SignatureType != 0 && c.Wallet.FunderAddress == "" && c.Mode == "live" {
		return fmt.Errorf("wallet.funder_address is required when wallet.signature_type is 1 or 2 in live mode")
	}
	if c.API.CLOBBaseURL == "" {
		return fmt.Errorf("api.clob_base_url is required")
	}
	if c.API.GammaBaseURL == "" {
		return fmt.Errorf("api.gamma_base_url is required")
	}
	if c.Strategy.StartingCash <= 0 {
		return fmt.Errorf("strategy.starting_cash must be > 0")
	}
	if c.Strategy.MaxUSDPerMarket <= 0 {
		return fmt.Errorf("strategy.max_usd_per_market must be > 0")
	}
	if c.Strategy.MaxGrossUSD <= 0 {
		return fmt.Errorf("strategy.max_gross_usd must be > 0")
	}
	if c.Strategy.MaxOrdersPerMarket <= 0 {
		return fmt.Errorf("strategy.max_orders_per_market must be > 0")
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	return nil
}
