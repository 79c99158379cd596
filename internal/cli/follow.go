package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"agent-follower/internal/confirm"
	"agent-follower/internal/errors"
	"agent-follower/internal/follow"
	"agent-follower/internal/models"
	"agent-follower/internal/trading"
	"agent-follower/pkg/utils"
)

// followFlags are the per-pass overrides of the [follow] config section.
type followFlags struct {
	agent        string
	positions    string
	totalMargin  float64
	profitTarget float64
	autoRefollow bool
	marginType   string
	maxLeverage  float64
	execute      bool
}

func (f *followFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.agent, "agent", "a", "", "agent id (default: agent_id from the positions file)")
	cmd.Flags().StringVarP(&f.positions, "positions", "p", "", "source positions snapshot (.json, .yaml)")
	cmd.Flags().Float64Var(&f.totalMargin, "total-margin", 0, "margin budget to scale source positions into")
	cmd.Flags().Float64Var(&f.profitTarget, "profit-target", 0, "close positions at this profit percent")
	cmd.Flags().BoolVar(&f.autoRefollow, "auto-refollow", false, "re-enter a symbol after a profit-target close")
	cmd.Flags().StringVar(&f.marginType, "margin-type", "", "ISOLATED or CROSSED")
	cmd.Flags().Float64Var(&f.maxLeverage, "max-leverage", 0, "cap on follower leverage")
	cmd.Flags().BoolVar(&f.execute, "execute", false, "execute plans against the paper venue")
	_ = cmd.MarkFlagRequired("positions")
}

// options merges the [follow] defaults with flags set on the command line.
func (f *followFlags) options(cmd *cobra.Command, cfg *models.FollowOptions) *models.FollowOptions {
	opts := *cfg
	if cmd.Flags().Changed("total-margin") {
		opts.TotalMargin = f.totalMargin
	}
	if cmd.Flags().Changed("profit-target") {
		opts.ProfitTarget = f.profitTarget
	}
	if cmd.Flags().Changed("auto-refollow") {
		opts.AutoRefollow = f.autoRefollow
	}
	if cmd.Flags().Changed("margin-type") {
		opts.MarginType = marginType(f.marginType)
	}
	if cmd.Flags().Changed("max-leverage") {
		opts.MaxLeverage = f.maxLeverage
	}
	return &opts
}

func (a *App) followDefaults() *models.FollowOptions {
	f := a.Config.Follow
	return &models.FollowOptions{
		TotalMargin:  f.TotalMargin,
		ProfitTarget: f.ProfitTarget,
		AutoRefollow: f.AutoRefollow,
		MarginType:   marginType(f.MarginType),
		MaxLeverage:  f.MaxLeverage,
	}
}

// loadSnapshot reads the positions file and settles which agent it belongs to.
func loadSnapshot(path, agent string) (Snapshot, string, error) {
	snap, err := LoadPositionsFile(path)
	if err != nil {
		return Snapshot{}, "", err
	}
	if agent == "" {
		agent = snap.AgentID
	}
	if agent == "" {
		return Snapshot{}, "", errors.New("no agent id: pass --agent or set agent_id in the positions file")
	}
	return snap, agent, nil
}

// passReport is the JSON shape of one follow pass.
type passReport struct {
	AgentID string                    `json:"agent_id"`
	Plans   []models.FollowPlan       `json:"plans"`
	Results []trading.ExecutionResult `json:"results,omitempty"`
	Account *models.AccountInfo       `json:"account,omitempty"`
	Options *models.FollowOptions     `json:"options"`
}

// runPass runs one follow pass and, when execute is set, hands the plans to
// the executor.
func (rt *runtime) runPass(ctx context.Context, agentID string, snap Snapshot, opts *models.FollowOptions, execute bool) (*passReport, error) {
	rt.markPrices(snap.Positions)

	plans, err := rt.engine(agentID).FollowAgent(ctx, agentID, snap.Positions, opts)
	if err != nil {
		return nil, err
	}

	report := &passReport{AgentID: agentID, Plans: plans, Options: opts}
	if execute && len(plans) > 0 {
		report.Results = rt.executor(agentID).Execute(ctx, plans)
	}
	if info, err := rt.broker.GetAccountInfo(ctx); err == nil {
		report.Account = &info
	}
	return report, nil
}

func newFollowCmd(app *App) *cobra.Command {
	var f followFlags

	cmd := &cobra.Command{
		Use:   "follow",
		Short: "Run one follow pass for an agent",
		Long: `Run one reconciliation pass against a source positions snapshot.

The pass validates the ledger, detects entry changes, new and closed
positions and profit-target hits, scales entries into --total-margin and
prints the resulting plans. Nothing is traded unless --execute is given.`,
		Example: `  agent-follower follow -p positions.json
  agent-follower follow -a deepseek -p snap.yaml --total-margin 500 --profit-target 20
  agent-follower follow -p positions.json --max-leverage 10 --execute`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			snap, agentID, err := loadSnapshot(f.positions, f.agent)
			if err != nil {
				return err
			}

			rt, err := app.openRuntime()
			if err != nil {
				return err
			}
			defer func() {
				if err := rt.Close(); err != nil {
					app.Logger.Warn().Err(err).Msg("Failed to close runtime")
				}
			}()

			report, err := rt.runPass(cmd.Context(), agentID, snap, f.options(cmd, app.followDefaults()), f.execute)
			if err != nil {
				printPassError(output, err)
				return err
			}

			if output.IsJSON() {
				return output.JSON(report)
			}
			printReport(output, report)
			return nil
		},
	}

	f.register(cmd)
	return cmd
}

func printPassError(output *Output, err error) {
	if output.IsJSON() {
		return
	}
	var ferr *errors.FollowError
	if errors.As(err, &ferr) {
		output.Error("✗ Follow pass for %s aborted at %s: %v", ferr.AgentID, ferr.Stage, ferr.Err)
		if errors.Is(err, errors.ErrValidationFailed) {
			output.Dim("Run 'agent-follower validate' to inspect the discrepancies.")
		}
		return
	}
	output.Error("✗ %v", err)
}

func printReport(output *Output, r *passReport) {
	if len(r.Plans) == 0 {
		output.Success("✓ %s: nothing to do", r.AgentID)
	} else {
		output.Bold("Plans for %s", r.AgentID)
		printPlans(output, r.Plans)
	}

	if len(r.Results) > 0 {
		output.Println()
		output.Bold("Execution")
		table := NewTable(output, "Action", "Symbol", "Side", "Order", "Fill", "Status")
		for _, res := range r.Results {
			status := output.Green("executed")
			switch {
			case res.Error != "":
				status = output.Red(res.Error)
			case res.Skipped:
				status = output.Yellow("skipped")
			}
			fill := "-"
			if res.FillPrice > 0 {
				fill = utils.FormatUSD(res.FillPrice)
			}
			table.AddRow(
				string(res.Plan.Action),
				res.Plan.Symbol,
				output.Side(string(res.Plan.Side)),
				shortID(res.OrderID),
				fill,
				status,
			)
		}
		table.Render()

		executed, skipped, failed := trading.Summary(r.Results)
		output.Dim("%d executed, %d skipped, %d failed", executed, skipped, failed)
	}

	if r.Account != nil {
		output.Println()
		acct := r.Account
		output.Printf("Wallet %s  Available %s  Unrealized %s  Net %s\n",
			utils.FormatUSD(acct.TotalWalletBalance),
			utils.FormatUSD(acct.AvailableBalance),
			output.Signed(acct.TotalUnrealizedPnL, utils.FormatPnL(acct.TotalUnrealizedPnL)),
			utils.FormatUSD(acct.NetWorth()),
		)
	}
}

func printPlans(output *Output, plans []models.FollowPlan) {
	table := NewTable(output, "Action", "Symbol", "Side", "Qty", "Lev", "Price", "Margin", "Risk", "Reason")
	for _, p := range plans {
		price := p.EntryPrice
		if p.Action == models.PlanExit && p.ExitPrice > 0 {
			price = p.ExitPrice
		}
		margin := "-"
		if p.AllocatedMargin > 0 {
			margin = utils.FormatUSD(p.AllocatedMargin)
		}
		riskCell := "-"
		if p.Risk != nil {
			riskCell = fmt.Sprintf("%.0f", p.Risk.RiskScore)
			if p.Risk.RiskScore >= 70 {
				riskCell = output.Yellow(riskCell)
			}
		}
		action := string(p.Action)
		if p.Action == models.PlanExit {
			action = output.Yellow(action)
		}
		table.AddRow(
			action,
			p.Symbol,
			output.Side(string(p.Side)),
			utils.FormatQuantity(p.Quantity),
			utils.FormatLeverage(p.Leverage),
			utils.FormatUSD(price),
			margin,
			riskCell,
			output.DimText(p.Reason),
		)
	}
	table.Render()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	if id == "" {
		return "-"
	}
	return id
}

func newValidateCmd(app *App) *cobra.Command {
	var agent, positions string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the ledger against a positions snapshot",
		Long: `Compare what the ledger says the agent holds with a positions snapshot
and show the recovery policy a follow pass would choose.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			snap, agentID, err := loadSnapshot(positions, agent)
			if err != nil {
				return err
			}
			rt, err := app.openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			info, err := rt.engine(agentID).GetConfirmationRequiredInfo(cmd.Context(), agentID, snap.Positions)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(info)
			}
			printConfirmationInfo(output, info)
			return nil
		},
	}

	cmd.Flags().StringVarP(&agent, "agent", "a", "", "agent id (default: agent_id from the positions file)")
	cmd.Flags().StringVarP(&positions, "positions", "p", "", "source positions snapshot (.json, .yaml)")
	_ = cmd.MarkFlagRequired("positions")
	return cmd
}

func printConfirmationInfo(output *Output, info follow.ConfirmationInfo) {
	v := info.Validation
	switch {
	case !v.IsValid:
		output.Error("✗ %s: ledger could not be validated", info.AgentID)
	case v.IsConsistent:
		output.Success("✓ %s: ledger matches the snapshot", info.AgentID)
	default:
		output.Warning("⚠ %s: %d discrepancies, policy %s", info.AgentID, len(v.Discrepancies), v.ActionRequired)
	}
	if v.SuggestedAction != "" {
		output.Dim("%s", v.SuggestedAction)
	}

	if len(v.Discrepancies) > 0 {
		output.Println()
		table := NewTable(output, "Symbol", "Type", "Severity", "Qty Diff", "Price Diff")
		for _, d := range v.Discrepancies {
			table.AddRow(
				d.Symbol,
				string(d.Type),
				severity(output, d.Severity),
				diffCell(d.QuantityDiff),
				diffCell(d.PriceDiff),
			)
		}
		table.Render()
	}

	if info.Required {
		output.Println()
		if info.HasConfirmation {
			output.Info("A recent confirmation is on file and will be used by the next pass.")
		} else {
			options := make([]string, len(info.Options))
			for i, o := range info.Options {
				options[i] = string(o)
			}
			output.Warning("%s", info.Message)
			output.Dim("agent-follower confirm -a %s --action {%s}", info.AgentID, strings.Join(options, "|"))
		}
	}
}

func severity(output *Output, s models.Severity) string {
	switch s {
	case models.SeverityCritical:
		return output.Red(string(s))
	case models.SeverityHigh:
		return output.Yellow(string(s))
	}
	return string(s)
}

func diffCell(v *float64) string {
	if v == nil {
		return "-"
	}
	return utils.FormatQuantity(*v)
}

func newConfirmCmd(app *App) *cobra.Command {
	var agent, action string

	cmd := &cobra.Command{
		Use:   "confirm",
		Short: "Record an operator decision for an agent",
		Long: `Record how the next follow pass should recover when validation asks
for confirmation. The decision expires after the configured TTL.

Actions:
  trust_actual     follow the snapshot as is
  rebuild_history  reset the ledger, then follow the snapshot
  abort            stop the next pass`,
		Example: `  agent-follower confirm -a deepseek --action trust_actual`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			parsed, err := confirm.ParseAction(action)
			if err != nil {
				return err
			}
			rt, err := app.openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := rt.engine(agent).HandleUserConfirmation(cmd.Context(), agent, parsed); err != nil {
				return err
			}
			if app.Config.Confirmation.Backend == "memory" && !output.IsJSON() {
				output.Warning("⚠ The memory confirmation backend does not outlive this command; use it with 'watch'.")
			}
			if output.IsJSON() {
				return output.JSON(map[string]string{
					"agent_id": agent,
					"action":   string(parsed),
					"expires":  app.Config.Confirmation.TTL.String(),
				})
			}
			output.Success("✓ Recorded %s for %s (valid for %s)", parsed, agent, app.Config.Confirmation.TTL)
			return nil
		},
	}

	cmd.Flags().StringVarP(&agent, "agent", "a", "", "agent id")
	cmd.Flags().StringVar(&action, "action", "", "trust_actual, rebuild_history or abort")
	_ = cmd.MarkFlagRequired("agent")
	_ = cmd.MarkFlagRequired("action")
	return cmd
}
