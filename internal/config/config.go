// Package config provides configuration management for the follower.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"agent-follower/internal/logging"
)

// Config holds all application configuration.
type Config struct {
	Follow       FollowConfig       `mapstructure:"follow"`
	Risk         RiskConfig         `mapstructure:"risk"`
	Allocation   AllocationConfig   `mapstructure:"allocation"`
	Confirmation ConfirmationConfig `mapstructure:"confirmation"`
	Store        StoreConfig        `mapstructure:"store"`
	Paper        PaperConfig        `mapstructure:"paper"`
	Logging      logging.LogConfig  `mapstructure:"logging"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
	Audit        AuditConfig        `mapstructure:"audit"`
}

// FollowConfig holds the defaults applied to every follow pass.
type FollowConfig struct {
	TotalMargin  float64       `mapstructure:"total_margin"`
	ProfitTarget float64       `mapstructure:"profit_target"` // percent, 0 disables
	AutoRefollow bool          `mapstructure:"auto_refollow"`
	MarginType   string        `mapstructure:"margin_type"` // ISOLATED, CROSSED
	MaxLeverage  float64       `mapstructure:"max_leverage"`
	SettleDelay  time.Duration `mapstructure:"settle_delay"`
	PollClose    bool          `mapstructure:"poll_close"`
	PollAttempts int           `mapstructure:"poll_attempts"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// RiskConfig holds risk management configuration.
type RiskConfig struct {
	DefaultPriceTolerance float64            `mapstructure:"default_price_tolerance"` // percent
	SymbolTolerances      map[string]float64 `mapstructure:"symbol_tolerances"`
	ReferenceAccountSize  float64            `mapstructure:"reference_account_size"`
	MaxRiskScore          float64            `mapstructure:"max_risk_score"`
	ContractSizes         map[string]float64 `mapstructure:"contract_sizes"`
}

// AllocationConfig holds capital allocation configuration.
type AllocationConfig struct {
	QuantityPrecision map[string]int `mapstructure:"quantity_precision"`
}

// ConfirmationConfig selects where operator confirmations live.
type ConfirmationConfig struct {
	Backend string        `mapstructure:"backend"` // memory, bolt
	Path    string        `mapstructure:"path"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// StoreConfig holds ledger storage configuration.
type StoreConfig struct {
	DBPath string `mapstructure:"db_path"`
}

// PaperConfig holds paper venue configuration.
type PaperConfig struct {
	InitialBalance float64 `mapstructure:"initial_balance"`
	MarginType     string  `mapstructure:"margin_type"`
	StatePath      string  `mapstructure:"state_path"`
}

// MetricsConfig holds Prometheus exposition configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// AuditConfig holds audit trail configuration.
type AuditConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/agent-follower"
	}
	return filepath.Join(home, ".config", "agent-follower")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	setDefaults(v, configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("loading config.toml: %w", err)
		}
		if err := createTemplateConfig(configDir); err != nil {
			return nil, fmt.Errorf("writing config template: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, configDir string) {
	v.SetDefault("follow.total_margin", 0.0)
	v.SetDefault("follow.profit_target", 0.0)
	v.SetDefault("follow.auto_refollow", false)
	v.SetDefault("follow.margin_type", "CROSSED")
	v.SetDefault("follow.max_leverage", 0.0)
	v.SetDefault("follow.settle_delay", 1500*time.Millisecond)
	v.SetDefault("follow.poll_close", false)
	v.SetDefault("follow.poll_attempts", 10)
	v.SetDefault("follow.poll_interval", 300*time.Millisecond)

	v.SetDefault("risk.default_price_tolerance", 1.0)
	v.SetDefault("risk.reference_account_size", 10000.0)
	v.SetDefault("risk.max_risk_score", 100.0)

	v.SetDefault("confirmation.backend", "bolt")
	v.SetDefault("confirmation.path", filepath.Join(configDir, "confirmations.db"))
	v.SetDefault("confirmation.ttl", 5*time.Minute)

	v.SetDefault("store.db_path", filepath.Join(configDir, "history.db"))
	v.SetDefault("paper.initial_balance", 10000.0)
	v.SetDefault("paper.margin_type", "CROSSED")
	v.SetDefault("paper.state_path", filepath.Join(configDir, "paper.json"))

	logDefaults := logging.DefaultLogConfig()
	v.SetDefault("logging.level", logDefaults.Level)
	v.SetDefault("logging.console", logDefaults.Console)
	v.SetDefault("logging.file", logDefaults.File)
	v.SetDefault("logging.file_path", filepath.Join(configDir, "logs", "follower.log"))
	v.SetDefault("logging.max_size", logDefaults.MaxSize)
	v.SetDefault("logging.max_backups", logDefaults.MaxBackups)
	v.SetDefault("logging.max_age", logDefaults.MaxAge)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9464")

	v.SetDefault("audit.enabled", true)
	v.SetDefault("audit.dir", filepath.Join(configDir, "audit"))
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FOLLOWER_TOTAL_MARGIN"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Follow.TotalMargin = f
		}
	}
	if v := os.Getenv("FOLLOWER_PROFIT_TARGET"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Follow.ProfitTarget = f
		}
	}
	if v := os.Getenv("FOLLOWER_DB_PATH"); v != "" {
		cfg.Store.DBPath = v
	}
	if v := os.Getenv("FOLLOWER_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	mt := strings.ToUpper(c.Follow.MarginType)
	if mt != "" && mt != "ISOLATED" && mt != "CROSSED" {
		return fmt.Errorf("invalid margin type: %s (must be 'ISOLATED' or 'CROSSED')", c.Follow.MarginType)
	}
	if pm := strings.ToUpper(c.Paper.MarginType); pm != "" && pm != "ISOLATED" && pm != "CROSSED" {
		return fmt.Errorf("invalid paper margin type: %s (must be 'ISOLATED' or 'CROSSED')", c.Paper.MarginType)
	}
	if c.Paper.InitialBalance < 0 {
		return fmt.Errorf("paper initial_balance must be non-negative")
	}
	if c.Follow.TotalMargin < 0 {
		return fmt.Errorf("total_margin must be non-negative")
	}
	if c.Follow.MaxLeverage < 0 {
		return fmt.Errorf("max_leverage must be non-negative")
	}
	if c.Follow.SettleDelay < 0 {
		return fmt.Errorf("settle_delay must be non-negative")
	}

	if c.Risk.DefaultPriceTolerance < 0 {
		return fmt.Errorf("default_price_tolerance must be non-negative")
	}
	for symbol, tol := range c.Risk.SymbolTolerances {
		if tol < 0 {
			return fmt.Errorf("price tolerance for %s must be non-negative", symbol)
		}
	}
	if c.Risk.ReferenceAccountSize <= 0 {
		return fmt.Errorf("reference_account_size must be positive")
	}
	if c.Risk.MaxRiskScore < 20 || c.Risk.MaxRiskScore > 100 {
		return fmt.Errorf("max_risk_score must be between 20 and 100")
	}

	for symbol, p := range c.Allocation.QuantityPrecision {
		if p < 0 || p > 8 {
			return fmt.Errorf("quantity precision for %s must be between 0 and 8", symbol)
		}
	}

	switch c.Confirmation.Backend {
	case "memory", "bolt":
	default:
		return fmt.Errorf("invalid confirmation backend: %s (must be 'memory' or 'bolt')", c.Confirmation.Backend)
	}
	if c.Confirmation.TTL <= 0 {
		return fmt.Errorf("confirmation ttl must be positive")
	}

	return nil
}
