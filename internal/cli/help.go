package cli

import (
	"github.com/spf13/cobra"
)

func newExamplesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "examples",
		Short: "Show common workflow examples",
		Long:  "Display examples of common follower workflows.",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			examples := []struct {
				title    string
				commands []string
			}{
				{
					title: "Dry Run",
					commands: []string{
						"agent-follower follow -p positions.json            # Print plans only",
						"agent-follower follow -p positions.json --json     # Plans as JSON",
					},
				},
				{
					title: "Scale Into a Budget",
					commands: []string{
						"agent-follower follow -p positions.json --total-margin 500 --max-leverage 10",
						"agent-follower follow -p positions.json --total-margin 500 --execute",
						"agent-follower paper show                          # Check fills",
					},
				},
				{
					title: "Take Profits",
					commands: []string{
						"agent-follower follow -p positions.json --profit-target 20 --execute",
						"agent-follower follow -p positions.json --profit-target 20 --auto-refollow --execute",
						"agent-follower history -a deepseek --profit-exits",
					},
				},
				{
					title: "Resolve a Ledger Mismatch",
					commands: []string{
						"agent-follower validate -p positions.json          # Show discrepancies",
						"agent-follower confirm -a deepseek --action rebuild_history",
						"agent-follower follow -p positions.json --execute",
					},
				},
				{
					title: "Run Continuously",
					commands: []string{
						"agent-follower watch -p positions.json -i 1m --execute",
						"agent-follower watch -p positions.json --metrics-addr :9090",
					},
				},
			}

			if output.IsJSON() {
				out := make(map[string][]string, len(examples))
				for _, ex := range examples {
					out[ex.title] = ex.commands
				}
				return output.JSON(out)
			}

			output.Bold("Common Workflow Examples")
			output.Println()
			for _, ex := range examples {
				output.Printf("%s\n", output.cyan.Sprint(ex.title))
				for _, c := range ex.commands {
					output.Printf("  %s\n", c)
				}
				output.Println()
			}
			return nil
		},
	}
}
