package cli

import (
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"alpaca-broker/internal/models"
)

// addStreamCommands adds the live order update command.
func addStreamCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newStreamCmd(app))
}

func newStreamCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Stream live order updates",
		Long: `Stream order lifecycle events (fills, partial fills, cancellations)
as the venue pushes them.

The connection re-establishes itself after drops; events arriving while
disconnected are not replayed. Press Ctrl+C to stop.`,
		Example: `  broker stream
  broker stream --symbol AAPL
  broker stream --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			if err := requireSession(app, output); err != nil {
				return err
			}

			symbol, _ := cmd.Flags().GetString("symbol")
			symbol = strings.ToUpper(symbol)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			updates, err := app.Broker.StreamOrderUpdates(ctx)
			if err != nil {
				output.Error("Failed to start stream: %v", err)
				return err
			}

			if !output.IsJSON() {
				if symbol != "" {
					output.Info("Streaming order updates for %s", symbol)
				} else {
					output.Info("Streaming order updates")
				}
				output.Dim("Press Ctrl+C to stop")
				output.Println()
			}

			for {
				select {
				case <-ctx.Done():
					if !output.IsJSON() {
						output.Println()
						output.Info("Stream stopped")
					}
					return nil
				case update, ok := <-updates:
					if !ok {
						if !output.IsJSON() {
							output.Println()
							output.Warning("Stream closed")
						}
						return nil
					}
					if symbol != "" && update.Order.Symbol != symbol {
						continue
					}
					if output.IsJSON() {
						if err := output.JSON(update); err != nil {
							return err
						}
						continue
					}
					displayOrderUpdate(output, update)
				}
			}
		},
	}

	cmd.Flags().String("symbol", "", "only show updates for this symbol")
	return cmd
}

func displayOrderUpdate(output *Output, update models.OrderUpdate) {
	event := strings.ToUpper(update.Event)
	switch update.Event {
	case "fill", "partial_fill":
		event = output.Green(event)
	case "canceled", "rejected", "expired":
		event = output.Red(event)
	default:
		event = output.Cyan(event)
	}

	line := event + "  " + strings.ToUpper(string(update.Order.Side)) + " " + update.Order.Symbol

	if !update.Qty.IsZero() {
		line += " " + FormatQty(update.Qty)
		if !update.Price.IsZero() {
			line += " @ " + FormatUSD(update.Price)
		}
	}

	output.Printf("%s  %s  %s\n",
		FormatTime(update.Timestamp),
		line,
		output.DimText(update.Order.ID),
	)
}
