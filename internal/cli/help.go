package cli

import (
	"strings"

	"github.com/spf13/cobra"
)

// addHelpCommands adds help and documentation commands.
func addHelpCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newCommandsCmd(app))
	rootCmd.AddCommand(newExamplesCmd(app))
	rootCmd.AddCommand(newQuickstartCmd(app))
}

func newCommandsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "commands",
		Short: "List all commands by category",
		Long:  "Display all available commands organized by category.",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			output.Bold("Brokerage Client Commands")
			output.Println()

			categories := []struct {
				name     string
				commands []struct {
					cmd  string
					desc string
				}
			}{
				{
					name: "Session",
					commands: []struct {
						cmd  string
						desc string
					}{
						{"login", "Authorize with the venue"},
						{"logout", "End the session"},
						{"status", "Session and client health"},
					},
				},
				{
					name: "Account",
					commands: []struct {
						cmd  string
						desc string
					}{
						{"balance", "Account balance and buying power"},
						{"positions", "Open positions with P&L"},
						{"activity", "Account activity, page by page"},
						{"activity --sync", "Pull new activity into the local journal"},
						{"asset <symbol>", "Asset tradability metadata"},
					},
				},
				{
					name: "Orders",
					commands: []struct {
						cmd  string
						desc string
					}{
						{"buy <symbol> [qty]", "Place a buy order"},
						{"sell <symbol> [qty]", "Place a sell order"},
						{"order <order-id>", "Live order status"},
						{"cancel <order-id>", "Cancel an open order"},
						{"orders", "Locally tracked orders"},
					},
				},
				{
					name: "Streaming",
					commands: []struct {
						cmd  string
						desc string
					}{
						{"stream", "Live order updates (WebSocket)"},
						{"stream --symbol AAPL", "Updates for one symbol"},
					},
				},
				{
					name: "Utilities",
					commands: []struct {
						cmd  string
						desc string
					}{
						{"config show/path/validate", "Configuration"},
						{"version", "Version information"},
					},
				},
				{
					name: "Help",
					commands: []struct {
						cmd  string
						desc string
					}{
						{"help <command>", "Detailed help"},
						{"commands", "List all commands"},
						{"examples", "Common workflows"},
						{"quickstart", "New user guide"},
					},
				},
			}

			for _, cat := range categories {
				output.Bold(cat.name)
				for _, c := range cat.commands {
					output.Printf("  %-30s %s\n", output.Cyan(c.cmd), c.desc)
				}
				output.Println()
			}

			output.Dim("Use 'broker help <command>' for detailed help on any command")

			return nil
		},
	}
}

func newExamplesCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "examples",
		Short: "Show common workflow examples",
		Long:  "Display examples of common brokerage workflows.",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			output.Bold("Common Workflow Examples")
			output.Println()

			examples := []struct {
				title    string
				commands []string
			}{
				{
					title: "First Session",
					commands: []string{
						"broker login                    # Exchange the auth code for a session",
						"broker status                   # Session, rate budget, breaker state",
						"broker balance                  # Verify the account is connected",
					},
				},
				{
					title: "Place and Track an Order",
					commands: []string{
						"broker asset AAPL               # Check the symbol is tradable",
						"broker buy AAPL 10 --limit 180.50",
						"broker order <order-id>         # Live status from the venue",
						"broker stream                   # Watch fills arrive",
					},
				},
				{
					title: "Resubmit Safely After a Timeout",
					commands: []string{
						"broker buy AAPL 10 --client-id rebalance-2024-03-25",
						"# Timed out? Run the exact same command again.",
						"# The venue matches the client id and returns the original order.",
					},
				},
				{
					title: "Cancel an Open Order",
					commands: []string{
						"broker orders --status new      # Find open orders",
						"broker cancel <order-id>        # A racing fill wins over the cancel",
					},
				},
				{
					title: "Keep a Local Activity Journal",
					commands: []string{
						"broker activity --sync          # Pull new entries since last sync",
						"broker activity --local --symbol AAPL",
						"broker activity --all --csv activity.csv",
					},
				},
				{
					title: "Scripting",
					commands: []string{
						"broker balance --json | jq .equity",
						"broker orders --json --status filled",
						"broker stream --json            # One JSON object per event",
					},
				},
			}

			for _, ex := range examples {
				output.Bold(ex.title)
				for _, c := range ex.commands {
					parts := strings.SplitN(c, "#", 2)
					if len(parts) == 2 && strings.TrimSpace(parts[0]) != "" {
						output.Printf("  %s %s\n", output.Cyan(strings.TrimSpace(parts[0])), output.DimText("# "+strings.TrimSpace(parts[1])))
					} else if len(parts) == 2 {
						output.Printf("  %s\n", output.DimText("# "+strings.TrimSpace(parts[1])))
					} else {
						output.Printf("  %s\n", output.Cyan(c))
					}
				}
				output.Println()
			}

			return nil
		},
	}
}

func newQuickstartCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "quickstart",
		Short: "New user guide",
		Long:  "Step-by-step guide for new users.",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			output.Bold("Brokerage Client - Quick Start Guide")
			output.Println()

			steps := []struct {
				step  int
				title string
				desc  string
				cmd   string
			}{
				{
					step:  1,
					title: "Configure Credentials",
					desc:  "Edit the credentials file with your API client id, secret, and authorization code.",
					cmd:   "broker config path  # Shows config directory",
				},
				{
					step:  2,
					title: "Login",
					desc:  "Exchange the authorization code for a session. Refresh is automatic afterwards.",
					cmd:   "broker login",
				},
				{
					step:  3,
					title: "Check the Account",
					desc:  "Verify your account is connected.",
					cmd:   "broker balance",
				},
				{
					step:  4,
					title: "Look Up an Asset",
					desc:  "Confirm a symbol is tradable before ordering.",
					cmd:   "broker asset AAPL",
				},
				{
					step:  5,
					title: "Place Your First Order",
					desc:  "The default endpoint is the paper market, so no real money moves.",
					cmd:   "broker buy AAPL 1",
				},
				{
					step:  6,
					title: "Watch It Fill",
					desc:  "Stream order lifecycle events from the venue.",
					cmd:   "broker stream",
				},
				{
					step:  7,
					title: "Sync Your Journal",
					desc:  "Keep a local, queryable copy of account activity.",
					cmd:   "broker activity --sync",
				},
			}

			for _, s := range steps {
				output.Printf("%s Step %d: %s\n", output.Cyan("→"), s.step, output.BoldText(s.title))
				output.Printf("  %s\n", s.desc)
				output.Printf("  %s\n\n", output.DimText(s.cmd))
			}

			output.Bold("Configuration Files")
			output.Println()
			output.Printf("  %s - API client id, secret, authorization code\n", output.Cyan("credentials.toml"))
			output.Printf("  %s - Venue endpoints, retry and rate settings\n", output.Cyan("config.toml"))
			output.Printf("  %s - Encrypted session tokens (managed automatically)\n", output.Cyan("session.enc"))
			output.Println()

			output.Bold("Getting Help")
			output.Println()
			output.Printf("  %s - List all commands\n", output.Cyan("broker commands"))
			output.Printf("  %s - Common workflows\n", output.Cyan("broker examples"))
			output.Printf("  %s - Help for any command\n", output.Cyan("broker help <command>"))
			output.Println()

			output.Bold("Important Notes")
			output.Println()
			output.Printf("  %s The default endpoints point at the paper market\n", output.Yellow("⚠"))
			output.Printf("  %s Set read_only_mode = true to block order placement entirely\n", output.Yellow("⚠"))
			output.Printf("  %s Set %s to encrypt the session vault\n", output.Yellow("⚠"), output.Cyan("ALPACA_BROKER_PASSPHRASE"))
			output.Printf("  %s Keep credentials.toml out of version control\n", output.Yellow("⚠"))

			return nil
		},
	}
}
