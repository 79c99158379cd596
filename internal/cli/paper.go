package cli

import (
	"strconv"

	"github.com/spf13/cobra"

	"agent-follower/internal/errors"
	"agent-follower/internal/models"
	"agent-follower/pkg/utils"
)

func newPaperCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "paper",
		Short: "Inspect and manage the paper venue",
		Long: `The paper venue fills follow plans locally. Its balance, positions and
resting orders persist between runs in paper.state_path.`,
	}

	cmd.AddCommand(newPaperShowCmd(app))
	cmd.AddCommand(newPaperPriceCmd(app))
	cmd.AddCommand(newPaperCloseCmd(app))
	cmd.AddCommand(newPaperResetCmd(app))
	return cmd
}

// paperAccount is the JSON shape of 'paper show'.
type paperAccount struct {
	Account   models.AccountInfo      `json:"account"`
	NetWorth  float64                 `json:"net_worth"`
	Positions []models.BrokerPosition `json:"positions"`
	Orders    []models.Order          `json:"open_orders"`
}

func newPaperShowCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show balance, positions and open orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			rt, err := app.openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx := cmd.Context()
			acct, err := rt.broker.GetAccountInfo(ctx)
			if err != nil {
				return err
			}
			positions, err := rt.broker.GetPositions(ctx)
			if err != nil {
				return err
			}
			orders, err := rt.broker.GetOpenOrders(ctx, "")
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(paperAccount{
					Account:   acct,
					NetWorth:  acct.NetWorth(),
					Positions: positions,
					Orders:    orders,
				})
			}

			output.Bold("Account")
			output.Printf("  Wallet:     %s\n", utils.FormatUSD(acct.TotalWalletBalance))
			output.Printf("  Available:  %s\n", utils.FormatUSD(acct.AvailableBalance))
			output.Printf("  Margin:     %s\n", utils.FormatUSD(acct.TotalPositionMargin))
			output.Printf("  Unrealized: %s\n", output.Signed(acct.TotalUnrealizedPnL, utils.FormatPnL(acct.TotalUnrealizedPnL)))
			output.Printf("  Net worth:  %s\n", utils.FormatUSD(acct.NetWorth()))
			output.Println()

			if len(positions) == 0 {
				output.Info("No open positions")
			} else {
				table := NewTable(output, "Symbol", "Side", "Qty", "Entry", "Mark", "Lev", "uPnL")
				for _, p := range positions {
					qty := p.PositionAmt
					if qty < 0 {
						qty = -qty
					}
					table.AddRow(
						p.Symbol,
						output.Side(string(p.Side())),
						utils.FormatQuantity(qty),
						utils.FormatUSD(p.EntryPrice),
						utils.FormatUSD(p.MarkPrice),
						utils.FormatLeverage(p.Leverage),
						output.Signed(p.UnrealizedPnL, utils.FormatPnL(p.UnrealizedPnL)),
					)
				}
				table.Render()
			}

			if len(orders) > 0 {
				output.Println()
				table := NewTable(output, "Order", "Symbol", "Type", "Side", "Qty", "Stop")
				for _, o := range orders {
					table.AddRow(
						shortID(o.ID),
						o.Symbol,
						string(o.Type),
						output.Side(string(o.Side)),
						utils.FormatQuantity(o.Quantity),
						utils.FormatUSD(o.StopPrice),
					)
				}
				table.Render()
			}
			return nil
		},
	}
}

func newPaperPriceCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "price <symbol> <price>",
		Short: "Set the mark price for a symbol",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			price, err := strconv.ParseFloat(args[1], 64)
			if err != nil || price <= 0 {
				return errInvalidArg("price", args[1])
			}
			rt, err := app.openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			symbol := rt.broker.ConvertSymbol(args[0])
			rt.broker.UpdatePrice(symbol, price)
			if output.IsJSON() {
				return output.JSON(map[string]interface{}{"symbol": symbol, "price": price})
			}
			output.Success("✓ %s marked at %s", symbol, utils.FormatUSD(price))
			return nil
		},
	}
}

func newPaperCloseCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "close <symbol>",
		Short: "Close a paper position at its mark price",
		Long: `Close a paper position outside of any follow pass. The ledger is not
updated, so the next pass will report the discrepancy.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			rt, err := app.openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := rt.positions.ClosePosition(cmd.Context(), args[0], "manual close"); err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]string{"symbol": rt.broker.ConvertSymbol(args[0]), "status": "closed"})
			}
			output.Success("✓ %s closed", rt.broker.ConvertSymbol(args[0]))
			return nil
		},
	}
}

func newPaperResetCmd(app *App) *cobra.Command {
	var balance float64

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Reset the paper venue to a fresh balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if !cmd.Flags().Changed("balance") {
				balance = app.Config.Paper.InitialBalance
			}
			if balance <= 0 {
				return errInvalidArg("balance", strconv.FormatFloat(balance, 'f', -1, 64))
			}
			rt, err := app.openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			rt.broker.Reset(balance)
			if output.IsJSON() {
				return output.JSON(map[string]float64{"balance": balance})
			}
			output.Success("✓ Paper venue reset to %s", utils.FormatUSD(balance))
			return nil
		},
	}

	cmd.Flags().Float64Var(&balance, "balance", 0, "starting balance (default: paper.initial_balance)")
	return cmd
}

func errInvalidArg(name, value string) error {
	return errors.NewValidationError(name, value, "must be a positive number")
}
