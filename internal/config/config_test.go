package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const minimalPaperYAML = `
mode: paper
api:
  clob_base_url: "https://clob.polymarket.com"
  gamma_base_url: "https://gamma-api.polymarket.com"
strategy:
  starting_cash: 1000
  max_usd_per_market: 50
  max_gross_usd: 500
  max_orders_per_market: 4
store:
  path: ":memory:"
`

func TestLoadAppliesDefaults(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, minimalPaperYAML)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Universe.Limit != 50 {
		t.Errorf("universe.universe_limit default = %v, want 50", cfg.Universe.Limit)
	}
	if cfg.Paper.PartialBetaA != 2.0 || cfg.Paper.PartialBetaB != 6.0 {
		t.Errorf("paper beta defaults = %v/%v, want 2.0/6.0", cfg.Paper.PartialBetaA, cfg.Paper.PartialBetaB)
	}
	if cfg.Paper.FullFillProb != 0.35 {
		t.Errorf("paper_full_fill_prob default = %v, want 0.35", cfg.Paper.FullFillProb)
	}
}

func TestValidatePaperModeDoesNotRequireCredentials(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, minimalPaperYAML)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected paper config to validate, got: %v", err)
	}
}

func TestValidateLiveModeRequiresCredentials(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, strings.Replace(minimalPaperYAML, "mode: paper", "mode: live", 1))
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected live mode without wallet.private_key to fail validation")
	}
}

func TestValidateRejectsBadSignatureType(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, minimalPaperYAML+"\nwallet:\n  signature_type: 9\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected invalid signature_type to fail validation")
	}
}

func TestValidateRejectsNonPositiveBudgets(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, strings.Replace(minimalPaperYAML, "starting_cash: 1000", "starting_cash: 0", 1))
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected zero starting_cash to fail validation")
	}
}

func TestPrivateKeyEnvOverride(t *testing.T) {
	path := writeConfig(t, minimalPaperYAML)
	t.Setenv("PMM_PRIVATE_KEY", "0xdeadbeef")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Wallet.PrivateKey != "0xdeadbeef" {
		t.Fatalf("expected env override to win, got %q", cfg.Wallet.PrivateKey)
	}
}
