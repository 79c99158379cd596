package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"agent-follower/internal/models"
	"agent-follower/internal/store"
	"agent-follower/internal/trading"
)

const testConfig = `
[follow]
settle_delay = "0s"

[confirmation]
backend = "bolt"

[logging]
console = false
file = false
`

const btcSnapshot = `{
  "agent_id": "deepseek",
  "positions": [
    {"symbol": "BTC", "quantity": 0.1, "entry_price": 50000, "current_price": 50100, "leverage": 10, "margin": 500, "entry_oid": 1}
  ]
}`

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCmd(zerolog.Nop())
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := run(t, args...)
	if err != nil {
		t.Fatalf("%s failed: %v\n%s", strings.Join(args, " "), err, out)
	}
	return out
}

func decodeOutput(t *testing.T, out string, v interface{}) {
	t.Helper()
	if err := json.Unmarshal([]byte(out), v); err != nil {
		t.Fatalf("Failed to decode output: %v\n%s", err, out)
	}
}

func setupDir(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, dir, "config.toml", testConfig)
	return dir, writeFile(t, dir, "positions.json", btcSnapshot)
}

func TestFollow_ExecuteThenNoChange(t *testing.T) {
	dir, positions := setupDir(t)

	var report passReport
	decodeOutput(t, mustRun(t, "--config", dir, "--json", "follow", "-p", positions, "--execute"), &report)
	if report.AgentID != "deepseek" {
		t.Errorf("AgentID = %q, want deepseek", report.AgentID)
	}
	if len(report.Plans) != 1 {
		t.Fatalf("got %d plans, want 1", len(report.Plans))
	}
	plan := report.Plans[0]
	if plan.Action != models.PlanEnter || plan.Side != models.OrderSideBuy || plan.Quantity != 0.1 {
		t.Errorf("plan = %s %s %f, want ENTER BUY 0.1", plan.Action, plan.Side, plan.Quantity)
	}
	if plan.ID == "" {
		t.Error("plan has no id")
	}

	if len(report.Results) != 1 {
		t.Fatalf("got %d results, want 1", len(report.Results))
	}
	if res := report.Results[0]; res.Error != "" || res.FillPrice != 50100 {
		t.Errorf("result = %+v, want fill at 50100", res)
	}
	if executed, _, _ := trading.Summary(report.Results); executed != 1 {
		t.Errorf("executed = %d, want 1", executed)
	}
	if report.Account == nil {
		t.Fatal("report has no account")
	}
	if math.Abs(report.Account.TotalPositionMargin-501) > 1e-9 {
		t.Errorf("TotalPositionMargin = %f, want 501", report.Account.TotalPositionMargin)
	}

	// the ledger now mirrors the snapshot
	report = passReport{}
	decodeOutput(t, mustRun(t, "--config", dir, "--json", "follow", "-p", positions, "--execute"), &report)
	if len(report.Plans) != 0 {
		t.Errorf("second pass planned %d orders, want none", len(report.Plans))
	}

	// the paper position survived both invocations
	var acct paperAccount
	decodeOutput(t, mustRun(t, "--config", dir, "--json", "paper", "show"), &acct)
	if len(acct.Positions) != 1 {
		t.Fatalf("paper has %d positions, want 1", len(acct.Positions))
	}
	if p := acct.Positions[0]; p.Symbol != "BTCUSDT" || p.PositionAmt != 0.1 {
		t.Errorf("paper position = %s %f, want BTCUSDT 0.1", p.Symbol, p.PositionAmt)
	}

	var orders []models.OrderRecord
	decodeOutput(t, mustRun(t, "--config", dir, "--json", "history", "-a", "deepseek"), &orders)
	if len(orders) != 1 {
		t.Fatalf("ledger has %d orders, want 1", len(orders))
	}
	if orders[0].Price != 50000 || orders[0].EntryOID != 1 {
		t.Errorf("ledger record = price %f oid %d, want 50000 and 1", orders[0].Price, orders[0].EntryOID)
	}
}

func TestFollow_DryRunLeavesLedgerEmpty(t *testing.T) {
	dir, positions := setupDir(t)

	out := mustRun(t, "--config", dir, "follow", "-p", positions, "--total-margin", "100")
	for _, want := range []string{"BTC", "ENTER"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	history, err := store.NewSQLiteHistory(filepath.Join(dir, "history.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to open history: %v", err)
	}
	defer history.Close()
	records, err := history.ListOrders(context.Background(), store.OrderFilter{AgentID: "deepseek"})
	if err != nil {
		t.Fatalf("ListOrders() error = %v", err)
	}
	if len(records) != 0 {
		t.Errorf("dry run recorded %d orders", len(records))
	}
}

func TestFollow_RequiresAgent(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.toml", testConfig)
	positions := writeFile(t, dir, "list.json", `[{"symbol": "BTC", "quantity": 1, "entry_price": 50000}]`)

	if _, err := run(t, "--config", dir, "follow", "-p", positions); err == nil {
		t.Error("follow without an agent id should fail")
	}
}

func TestConfirm_AbortStopsNextPass(t *testing.T) {
	dir, positions := setupDir(t)

	mustRun(t, "--config", dir, "follow", "-p", positions, "--execute")

	// the source doubled its BTC position under the same entry
	doubled := writeFile(t, dir, "doubled.json", `{
  "agent_id": "deepseek",
  "positions": [
    {"symbol": "BTC", "quantity": 0.2, "entry_price": 50000, "current_price": 50100, "leverage": 10, "entry_oid": 1}
  ]
}`)

	var info struct {
		Required   bool                    `json:"required"`
		Validation models.ValidationResult `json:"validation"`
	}
	decodeOutput(t, mustRun(t, "--config", dir, "--json", "validate", "-p", doubled), &info)
	if !info.Required || info.Validation.ActionRequired != models.ActionUserConfirmation {
		t.Errorf("validate = required %v action %s, want confirmation", info.Required, info.Validation.ActionRequired)
	}

	mustRun(t, "--config", dir, "confirm", "-a", "deepseek", "--action", "abort")

	if _, err := run(t, "--config", dir, "follow", "-p", doubled); err == nil {
		t.Error("pass after abort should fail")
	}

	// the confirmation was consumed; the next pass trusts the snapshot
	mustRun(t, "--config", dir, "follow", "-p", doubled)
}

func TestConfirm_RejectsUnknownAction(t *testing.T) {
	dir, _ := setupDir(t)
	if _, err := run(t, "--config", dir, "confirm", "-a", "deepseek", "--action", "yolo"); err == nil {
		t.Error("unknown action should be rejected")
	}
}

func TestWatch_RunsIterations(t *testing.T) {
	dir, positions := setupDir(t)

	out := mustRun(t, "--config", dir, "--json", "watch", "-p", positions, "--execute", "--interval", "10ms", "--iterations", "2")

	dec := json.NewDecoder(bytes.NewBufferString(out))
	var reports []passReport
	for dec.More() {
		var r passReport
		if err := dec.Decode(&r); err != nil {
			t.Fatalf("Failed to decode report: %v", err)
		}
		reports = append(reports, r)
	}
	if len(reports) != 2 {
		t.Fatalf("got %d reports, want 2", len(reports))
	}
	if len(reports[0].Plans) != 1 || len(reports[1].Plans) != 0 {
		t.Errorf("plans per pass = %d, %d, want 1, 0", len(reports[0].Plans), len(reports[1].Plans))
	}
}

func TestConfigAndVersion(t *testing.T) {
	dir, _ := setupDir(t)

	if out := mustRun(t, "--config", dir, "--json", "config", "path"); !strings.Contains(out, filepath.Join(dir, "config.toml")) {
		t.Errorf("config path = %q", out)
	}

	mustRun(t, "--config", dir, "config", "validate")

	if out := mustRun(t, "--config", dir, "--json", "version"); !strings.Contains(out, Version) {
		t.Errorf("version output %q missing %s", out, Version)
	}
}
