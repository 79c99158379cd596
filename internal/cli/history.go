package cli

import (
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"agent-follower/internal/models"
	"agent-follower/internal/store"
	"agent-follower/pkg/utils"
)

func newHistoryCmd(app *App) *cobra.Command {
	var (
		agent   string
		symbol  string
		status  string
		since   time.Duration
		limit   int
		profits bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the order ledger",
		Long: `Show the orders the follower has recorded for an agent, newest first.
With --profit-exits, show the profit-target closes instead.`,
		Example: `  agent-follower history -a deepseek
  agent-follower history -a deepseek --symbol BTC --since 24h
  agent-follower history -a deepseek --profit-exits`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			history, err := store.NewSQLiteHistory(app.Config.Store.DBPath, app.Logger)
			if err != nil {
				return err
			}
			defer history.Close()

			var from time.Time
			if since > 0 {
				from = time.Now().Add(-since)
			}

			if profits {
				exits, err := history.ListProfitExits(cmd.Context(), store.ProfitExitFilter{
					AgentID: agent,
					Symbol:  symbol,
					Since:   from,
					Limit:   limit,
				})
				if err != nil {
					return err
				}
				if output.IsJSON() {
					return output.JSON(exits)
				}
				printProfitExits(output, exits)
				return nil
			}

			orders, err := history.ListOrders(cmd.Context(), store.OrderFilter{
				AgentID: agent,
				Symbol:  symbol,
				Status:  models.OrderStatus(status),
				Since:   from,
				Limit:   limit,
			})
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(orders)
			}
			printOrders(output, orders)
			return nil
		},
	}

	cmd.Flags().StringVarP(&agent, "agent", "a", "", "agent id (default: all agents)")
	cmd.Flags().StringVarP(&symbol, "symbol", "s", "", "filter by symbol")
	cmd.Flags().StringVar(&status, "status", "", "filter by status (processed, reset)")
	cmd.Flags().DurationVar(&since, "since", 0, "only records newer than this")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum records")
	cmd.Flags().BoolVar(&profits, "profit-exits", false, "show profit-target exits")
	return cmd
}

func printOrders(output *Output, orders []models.OrderRecord) {
	if len(orders) == 0 {
		output.Info("No orders recorded")
		return
	}
	table := NewTable(output, "Time", "Agent", "Symbol", "Action", "Side", "Qty", "Price", "Lev", "Entry OID", "Status")
	for _, o := range orders {
		st := string(o.Status)
		if o.Status == models.OrderStatusReset {
			st = output.DimText(st)
		}
		table.AddRow(
			o.Timestamp.Local().Format("01-02 15:04:05"),
			o.AgentID,
			o.Symbol,
			string(o.Action),
			output.Side(string(o.Side)),
			utils.FormatQuantity(o.Quantity),
			utils.FormatUSD(o.Price),
			utils.FormatLeverage(o.Leverage),
			strconv.FormatInt(o.EntryOID, 10),
			st,
		)
	}
	table.Render()
	output.Dim("%d records", len(orders))
}

func printProfitExits(output *Output, exits []models.ProfitExitRecord) {
	if len(exits) == 0 {
		output.Info("No profit exits recorded")
		return
	}
	table := NewTable(output, "Time", "Agent", "Symbol", "Side", "Qty", "Entry", "Exit", "Profit", "Target", "Refollow")
	for _, e := range exits {
		refollow := "no"
		if e.AutoRefollow {
			refollow = "yes"
		}
		table.AddRow(
			e.Timestamp.Local().Format("01-02 15:04:05"),
			e.AgentID,
			e.Symbol,
			output.Side(string(e.Side)),
			utils.FormatQuantity(e.Quantity),
			utils.FormatUSD(e.EntryPrice),
			utils.FormatUSD(e.ExitPrice),
			output.Signed(e.ProfitPercentage, utils.FormatPercent(e.ProfitPercentage)),
			utils.FormatPercent(e.ProfitTarget),
			refollow,
		)
	}
	table.Render()
}
