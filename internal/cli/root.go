// Package cli provides the command-line interface for the follower.
package cli

import (
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"agent-follower/internal/config"
	"agent-follower/internal/logging"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2025-10-21"
)

// App holds the application dependencies.
type App struct {
	Config    *config.Config
	Logger    zerolog.Logger
	configDir string
}

// NewRootCmd creates the root command for the CLI. Configuration is loaded
// before any subcommand runs. A disabled logger (zerolog.Nop) is kept as is;
// any other logger is replaced by one built from the [logging] section.
func NewRootCmd(logger zerolog.Logger) *cobra.Command {
	app := &App{Logger: logger}

	rootCmd := &cobra.Command{
		Use:   "agent-follower",
		Short: "Mirror an AI trading agent's futures positions",
		Long: `agent-follower reconciles a source agent's position snapshots with the
follower's own account and proposes the trades that mirror them.

Each pass validates the order ledger against the snapshot, detects what
changed, sizes entries to the configured margin budget and filters them
through price tolerance and risk checks. Plans are printed, and executed
against the paper venue with --execute.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.setup(cmd)
		},
	}

	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/agent-follower)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	rootCmd.AddCommand(newFollowCmd(app))
	rootCmd.AddCommand(newValidateCmd(app))
	rootCmd.AddCommand(newConfirmCmd(app))
	rootCmd.AddCommand(newHistoryCmd(app))
	rootCmd.AddCommand(newWatchCmd(app))
	rootCmd.AddCommand(newPaperCmd(app))
	rootCmd.AddCommand(newExamplesCmd())

	return rootCmd
}

func (a *App) setup(cmd *cobra.Command) error {
	dir, _ := cmd.Flags().GetString("config")
	if dir == "" {
		dir = config.DefaultConfigDir()
	}
	cfg, err := config.Load(dir)
	if err != nil {
		return err
	}
	a.Config = cfg
	a.configDir = dir

	if a.Logger.GetLevel() != zerolog.Disabled {
		a.Logger = logging.NewLoggerWithConfig(cfg.Logging)
	}
	if debug, _ := cmd.Flags().GetBool("debug"); debug && a.Logger.GetLevel() != zerolog.Disabled {
		logging.SetDebugLevel()
		a.Logger = a.Logger.Level(zerolog.DebugLevel)
	}
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			}
			output.Printf("agent-follower v%s\n", Version)
			output.Dim("Build date: %s", BuildDate)
			return nil
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(app.Config)
			}
			showConfig(output, app.Config)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			path := filepath.Join(app.configDir, "config.toml")
			if output.IsJSON() {
				return output.JSON(map[string]string{"dir": app.configDir, "path": path})
			}
			output.Println(path)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]bool{"valid": true})
			}
			output.Success("✓ Configuration is valid")
			return nil
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) {
	output.Bold("Follow")
	output.Printf("  Total margin:    %s\n", fmtMargin(cfg.Follow.TotalMargin))
	output.Printf("  Profit target:   %s\n", fmtPercentOrOff(cfg.Follow.ProfitTarget))
	output.Printf("  Auto refollow:   %v\n", cfg.Follow.AutoRefollow)
	output.Printf("  Margin type:     %s\n", cfg.Follow.MarginType)
	output.Printf("  Max leverage:    %s\n", fmtLeverageOrOff(cfg.Follow.MaxLeverage))
	output.Printf("  Settle delay:    %s\n", cfg.Follow.SettleDelay)
	output.Println()

	output.Bold("Risk")
	output.Printf("  Price tolerance: %.2f%%\n", cfg.Risk.DefaultPriceTolerance)
	output.Printf("  Reference size:  %.2f USDT\n", cfg.Risk.ReferenceAccountSize)
	output.Printf("  Max risk score:  %.0f\n", cfg.Risk.MaxRiskScore)
	output.Println()

	output.Bold("Storage")
	output.Printf("  Ledger:          %s\n", cfg.Store.DBPath)
	output.Printf("  Confirmations:   %s (%s, ttl %s)\n", cfg.Confirmation.Path, cfg.Confirmation.Backend, cfg.Confirmation.TTL)
	output.Printf("  Paper state:     %s\n", cfg.Paper.StatePath)
	output.Printf("  Audit:           %v (%s)\n", cfg.Audit.Enabled, cfg.Audit.Dir)
	output.Println()

	output.Bold("Metrics")
	output.Printf("  Enabled:         %v\n", cfg.Metrics.Enabled)
	output.Printf("  Address:         %s\n", cfg.Metrics.Addr)
}

func fmtMargin(v float64) string {
	if v <= 0 {
		return "mirror source sizes"
	}
	return fmt.Sprintf("%.2f USDT", v)
}

func fmtPercentOrOff(v float64) string {
	if v <= 0 {
		return "off"
	}
	return fmt.Sprintf("%.1f%%", v)
}

func fmtLeverageOrOff(v float64) string {
	if v <= 0 {
		return "source leverage"
	}
	return fmt.Sprintf("%.0fx", v)
}
