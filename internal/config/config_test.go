package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_WritesTemplateAndUsesDefaults(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "config.toml")); err != nil {
		t.Errorf("template not written: %v", err)
	}

	if cfg.Risk.DefaultPriceTolerance != 1.0 {
		t.Errorf("DefaultPriceTolerance = %f, want 1", cfg.Risk.DefaultPriceTolerance)
	}
	if cfg.Risk.ReferenceAccountSize != 10000 {
		t.Errorf("ReferenceAccountSize = %f, want 10000", cfg.Risk.ReferenceAccountSize)
	}
	if cfg.Confirmation.TTL != 5*time.Minute {
		t.Errorf("Confirmation.TTL = %v, want 5m", cfg.Confirmation.TTL)
	}
	if cfg.Confirmation.Backend != "bolt" {
		t.Errorf("Confirmation.Backend = %q, want bolt", cfg.Confirmation.Backend)
	}
	if cfg.Follow.SettleDelay != 1500*time.Millisecond {
		t.Errorf("SettleDelay = %v, want 1.5s", cfg.Follow.SettleDelay)
	}
	if want := filepath.Join(dir, "history.db"); cfg.Store.DBPath != want {
		t.Errorf("DBPath = %q, want %q", cfg.Store.DBPath, want)
	}
}

func TestLoad_ReadsFileValues(t *testing.T) {
	dir := t.TempDir()
	content := `
[follow]
total_margin = 250.0
profit_target = 30.0
auto_refollow = true
margin_type = "ISOLATED"

[risk]
default_price_tolerance = 2.5
reference_account_size = 5000.0
max_risk_score = 90.0

[risk.symbol_tolerances]
btc = 0.5

[allocation.quantity_precision]
newusdt = 1

[confirmation]
backend = "memory"
ttl = "2m"
`
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Follow.TotalMargin != 250 || cfg.Follow.ProfitTarget != 30 || !cfg.Follow.AutoRefollow {
		t.Errorf("Follow = %+v, want margin 250, target 30, refollow", cfg.Follow)
	}
	if cfg.Follow.MarginType != "ISOLATED" {
		t.Errorf("MarginType = %q, want ISOLATED", cfg.Follow.MarginType)
	}
	if cfg.Risk.DefaultPriceTolerance != 2.5 {
		t.Errorf("DefaultPriceTolerance = %f, want 2.5", cfg.Risk.DefaultPriceTolerance)
	}
	if got := cfg.Risk.SymbolTolerances["btc"]; got != 0.5 {
		t.Errorf("SymbolTolerances[btc] = %f, want 0.5", got)
	}
	if got := cfg.Allocation.QuantityPrecision["newusdt"]; got != 1 {
		t.Errorf("QuantityPrecision[newusdt] = %d, want 1", got)
	}
	if cfg.Confirmation.Backend != "memory" || cfg.Confirmation.TTL != 2*time.Minute {
		t.Errorf("Confirmation = %+v, want memory with 2m TTL", cfg.Confirmation)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("FOLLOWER_TOTAL_MARGIN", "123.5")
	t.Setenv("FOLLOWER_DB_PATH", "/tmp/override.db")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Follow.TotalMargin != 123.5 {
		t.Errorf("TotalMargin = %f, want 123.5", cfg.Follow.TotalMargin)
	}
	if cfg.Store.DBPath != "/tmp/override.db" {
		t.Errorf("DBPath = %q, want /tmp/override.db", cfg.Store.DBPath)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Follow:       FollowConfig{MarginType: "CROSSED"},
			Risk:         RiskConfig{DefaultPriceTolerance: 1, ReferenceAccountSize: 10000, MaxRiskScore: 100},
			Confirmation: ConfirmationConfig{Backend: "memory", TTL: time.Minute},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"bad margin type", func(c *Config) { c.Follow.MarginType = "PORTFOLIO" }, true},
		{"negative total margin", func(c *Config) { c.Follow.TotalMargin = -1 }, true},
		{"negative tolerance", func(c *Config) { c.Risk.DefaultPriceTolerance = -0.1 }, true},
		{"zero reference account", func(c *Config) { c.Risk.ReferenceAccountSize = 0 }, true},
		{"risk score below floor", func(c *Config) { c.Risk.MaxRiskScore = 10 }, true},
		{"bad backend", func(c *Config) { c.Confirmation.Backend = "redis" }, true},
		{"zero ttl", func(c *Config) { c.Confirmation.TTL = 0 }, true},
		{"bad precision", func(c *Config) { c.Allocation.QuantityPrecision = map[string]int{"X": 12} }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
