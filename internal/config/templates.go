package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# Agent Follower Configuration

[follow]
# Total margin (USDT) spread across all mirrored positions. 0 mirrors source sizes 1:1.
total_margin = 0.0
# Close a position once its profit reaches this percent of margin. 0 disables.
profit_target = 0.0
# After a profit exit, allow the symbol to be re-entered by a later pass.
auto_refollow = false
# Margin type: ISOLATED or CROSSED
margin_type = "CROSSED"
# Cap on leverage used for new entries. 0 keeps the source leverage.
max_leverage = 0.0
# Wait after a close before re-reading the balance.
settle_delay = "1.5s"
# Poll the venue until the closed position disappears instead of a fixed wait.
poll_close = false
poll_attempts = 10
poll_interval = "300ms"

[risk]
# Maximum allowed drift (percent) between the source entry price and current price.
default_price_tolerance = 1.0
# Account size used to scale the risk score.
reference_account_size = 10000.0
# Plans scoring above this are dropped (20-100).
max_risk_score = 100.0

[risk.symbol_tolerances]
# BTC = 0.5

[risk.contract_sizes]
# BTCUSDT = 1.0

[allocation.quantity_precision]
# NEWCOINUSDT = 0

[confirmation]
# memory keeps confirmations for the life of the process; bolt persists them.
backend = "bolt"
ttl = "5m"

[store]
# db_path = "/path/to/history.db"

[paper]
initial_balance = 10000.0
margin_type = "CROSSED"
# Venue state is kept here between invocations.
# state_path = "/path/to/paper.json"

[logging]
level = "info"
console = true
file = true

[metrics]
enabled = false
addr = ":9464"

[audit]
enabled = true
`

// createTemplateConfig writes a commented config.toml when none exists.
// Loading continues with defaults.
func createTemplateConfig(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "config.toml")
	if err := os.WriteFile(path, []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	return nil
}
