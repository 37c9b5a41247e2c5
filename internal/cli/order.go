package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	apperrors "alpaca-broker/internal/errors"
	"alpaca-broker/internal/models"
	"alpaca-broker/internal/security"
	"alpaca-broker/internal/store"
	"alpaca-broker/pkg/utils"
)

// addOrderCommands adds order submission and tracking commands.
func addOrderCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newBuyCmd(app))
	rootCmd.AddCommand(newSellCmd(app))
	rootCmd.AddCommand(newOrderCmd(app))
	rootCmd.AddCommand(newCancelCmd(app))
	rootCmd.AddCommand(newOrdersCmd(app))
}

func newBuyCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "buy <symbol> [qty]",
		Short: "Place a buy order",
		Long: `Place a buy order for a symbol.

Orders are market by default; pass --limit to place a limit order.
Every order carries a client order id so a resubmission after a crash
or timeout returns the original order instead of placing a duplicate.
Pass --client-id to resubmit a specific order.`,
		Example: `  broker buy AAPL 10
  broker buy AAPL 5 --limit 180.50
  broker buy AAPL --notional 500
  broker buy AAPL 10 --tif gtc --client-id my-order-1`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlaceOrder(cmd, app, models.OrderSideBuy, args)
		},
	}
	addPlaceFlags(cmd)
	return cmd
}

func newSellCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sell <symbol> [qty]",
		Short: "Place a sell order",
		Long: `Place a sell order for a symbol.

Orders are market by default; pass --limit to place a limit order.
Every order carries a client order id so a resubmission after a crash
or timeout returns the original order instead of placing a duplicate.`,
		Example: `  broker sell AAPL 10
  broker sell TSLA 5 --limit 250 --tif gtc`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlaceOrder(cmd, app, models.OrderSideSell, args)
		},
	}
	addPlaceFlags(cmd)
	return cmd
}

func addPlaceFlags(cmd *cobra.Command) {
	cmd.Flags().String("notional", "", "dollar amount to trade instead of a share quantity")
	cmd.Flags().String("type", "", "order type (market, limit); inferred from --limit when unset")
	cmd.Flags().String("limit", "", "limit price")
	cmd.Flags().String("tif", "day", "time in force (day, gtc, ioc, fok)")
	cmd.Flags().String("client-id", "", "client order id for idempotent resubmission")
}

func runPlaceOrder(cmd *cobra.Command, app *App, side models.OrderSide, args []string) error {
	output := NewOutput(cmd)
	ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
	defer cancel()

	if err := requireSession(app, output); err != nil {
		return err
	}

	symbol := strings.ToUpper(args[0])
	notionalFlag, _ := cmd.Flags().GetString("notional")

	var qty, notional decimal.Decimal
	var err error
	switch {
	case len(args) == 2 && notionalFlag != "":
		output.Error("Give either a quantity or --notional, not both")
		return fmt.Errorf("ambiguous order size")
	case len(args) == 2:
		qty, err = decimal.NewFromString(args[1])
		if err != nil || !qty.IsPositive() {
			output.Error("Invalid quantity: %s", args[1])
			return fmt.Errorf("invalid quantity")
		}
	case notionalFlag != "":
		notional, err = decimal.NewFromString(notionalFlag)
		if err != nil || !notional.IsPositive() {
			output.Error("Invalid notional: %s", notionalFlag)
			return fmt.Errorf("invalid notional")
		}
	default:
		output.Error("Give a quantity or --notional")
		return fmt.Errorf("order size required")
	}

	limitFlag, _ := cmd.Flags().GetString("limit")
	var limitPrice decimal.Decimal
	if limitFlag != "" {
		limitPrice, err = decimal.NewFromString(limitFlag)
		if err != nil || !limitPrice.IsPositive() {
			output.Error("Invalid limit price: %s", limitFlag)
			return fmt.Errorf("invalid limit price")
		}
	}

	orderType := models.OrderTypeMarket
	if limitFlag != "" {
		orderType = models.OrderTypeLimit
	}
	if typeFlag, _ := cmd.Flags().GetString("type"); typeFlag != "" {
		orderType = models.OrderType(strings.ToLower(typeFlag))
	}

	tif, _ := cmd.Flags().GetString("tif")
	clientID, _ := cmd.Flags().GetString("client-id")
	if clientID == "" {
		clientID = uuid.NewString()
	}

	req := models.OrderRequest{
		Symbol:        symbol,
		Side:          side,
		Qty:           qty,
		Notional:      notional,
		Type:          orderType,
		LimitPrice:    limitPrice,
		TimeInForce:   models.TimeInForce(strings.ToLower(tif)),
		ClientOrderID: clientID,
	}

	if !output.IsJSON() {
		displayOrderPreview(output, req)
	}

	order, err := app.Broker.PlaceOrder(ctx, req)
	if err != nil {
		return reportOrderError(output, err)
	}

	if output.IsJSON() {
		return output.JSON(order)
	}

	output.Success("Order placed!")
	displayOrder(output, order)
	return nil
}

func displayOrderPreview(output *Output, req models.OrderRequest) {
	sideText := output.Green(strings.ToUpper(string(req.Side)))
	if req.Side == models.OrderSideSell {
		sideText = output.Red(strings.ToUpper(string(req.Side)))
	}

	output.Bold("Order Preview")
	output.Printf("  Symbol:   %s\n", req.Symbol)
	output.Printf("  Side:     %s\n", sideText)
	if !req.Qty.IsZero() {
		output.Printf("  Quantity: %s\n", FormatQty(req.Qty))
	}
	if !req.Notional.IsZero() {
		output.Printf("  Notional: %s\n", FormatUSD(req.Notional))
	}
	output.Printf("  Type:     %s\n", req.Type)
	if !req.LimitPrice.IsZero() {
		output.Printf("  Limit:    %s\n", FormatUSD(req.LimitPrice))
	}
	output.Printf("  TIF:      %s\n", req.TimeInForce)
	output.Dim("  Client order id: %s", req.ClientOrderID)
	if !utils.IsMarketOpen() {
		output.Warning("Market is %s; the order will queue until the next session", utils.GetMarketStatus())
	}
	output.Println()
}

func displayOrder(output *Output, order *models.Order) {
	output.Printf("  Order ID: %s\n", order.ID)
	output.Printf("  Status:   %s\n", output.OrderStatus(string(order.Status)))
	if !order.FilledQty.IsZero() {
		output.Printf("  Filled:   %s of %s", FormatQty(order.FilledQty), FormatQty(order.Qty))
		if !order.FilledAvgPrice.IsZero() {
			output.Printf(" @ %s", FormatUSD(order.FilledAvgPrice))
		}
		output.Println()
	}
	if !order.SubmittedAt.IsZero() {
		output.Dim("  Submitted %s", FormatDateTime(order.SubmittedAt))
	}
}

// reportOrderError keeps the rejection reasons distinguishable at a
// glance.
func reportOrderError(output *Output, err error) error {
	var readOnly *security.ReadOnlyError
	switch {
	case apperrors.Is(err, apperrors.ErrInsufficientFunds):
		output.Error("Order rejected: insufficient buying power")
	case apperrors.Is(err, apperrors.ErrSymbolHalted):
		output.Error("Order rejected: trading is halted for this symbol")
	case apperrors.As(err, &readOnly):
		output.Error("Order blocked: client is in read-only mode")
	default:
		output.Error("Order failed: %v", err)
	}
	return err
}

func newOrderCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "order <order-id>",
		Short: "Show live order status",
		Long: `Fetch the current state of an order from the venue.

The venue is the source of truth; local state is never used to answer
status queries.`,
		Example: `  broker order 61e69015-8549-4bfd-b9c3-01e75843f47d`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			if err := requireSession(app, output); err != nil {
				return err
			}

			order, err := app.Broker.GetOrderStatus(ctx, args[0])
			if err != nil {
				output.Error("Failed to get order: %v", err)
				return err
			}

			if output.IsJSON() {
				return output.JSON(order)
			}

			output.Bold("%s %s %s", strings.ToUpper(string(order.Side)), FormatQty(order.Qty), order.Symbol)
			displayOrder(output, order)
			if order.Status.IsTerminal() {
				output.Println()
				output.Dim("  Order is in a terminal state")
			}
			return nil
		},
	}
}

func newCancelCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <order-id>",
		Short: "Cancel an open order",
		Long: `Request cancellation of an open order.

Cancels race fills: if the venue reports the order already filled the
fill wins and the command reports it rather than failing.`,
		Example: `  broker cancel 61e69015-8549-4bfd-b9c3-01e75843f47d`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			if err := requireSession(app, output); err != nil {
				return err
			}

			order, err := app.Broker.CancelOrder(ctx, args[0])
			if err != nil {
				if apperrors.Is(err, apperrors.ErrAlreadyFilled) {
					output.Warning("Too late to cancel: the order already filled")
					return err
				}
				output.Error("Cancel failed: %v", err)
				return err
			}

			if output.IsJSON() {
				return output.JSON(order)
			}

			if order.Status == models.OrderFilled {
				output.Warning("Order filled before the cancel reached the venue")
			} else {
				output.Success("Cancel requested")
			}
			displayOrder(output, order)
			return nil
		},
	}
}

func newOrdersCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orders",
		Short: "List locally tracked orders",
		Long: `List orders from the local cache.

Every order placed through this client is recorded locally. This view
shows the state as of the last venue response; use 'broker order <id>'
for the live state.`,
		Example: `  broker orders
  broker orders --symbol AAPL --status filled
  broker orders --limit 10`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			if app.Store == nil {
				output.Error("Local order cache unavailable. Check the store configuration.")
				return fmt.Errorf("store not configured")
			}

			symbol, _ := cmd.Flags().GetString("symbol")
			status, _ := cmd.Flags().GetString("status")
			side, _ := cmd.Flags().GetString("side")
			limit, _ := cmd.Flags().GetInt("limit")

			orders, err := app.Store.GetOrders(ctx, store.OrderFilter{
				Symbol: strings.ToUpper(symbol),
				Status: models.OrderStatus(strings.ToLower(status)),
				Side:   strings.ToLower(side),
				Limit:  limit,
			})
			if err != nil {
				output.Error("Failed to list orders: %v", err)
				return err
			}

			if output.IsJSON() {
				return output.JSON(orders)
			}

			if len(orders) == 0 {
				output.Info("No orders in the local cache")
				return nil
			}

			table := NewTable(output, "Submitted", "Symbol", "Side", "Type", "Qty", "Filled", "Status", "Order ID")
			for _, o := range orders {
				table.AddRow(
					FormatDateTime(o.SubmittedAt),
					o.Symbol,
					strings.ToUpper(string(o.Side)),
					string(o.Type),
					FormatQty(o.Qty),
					FormatQty(o.FilledQty),
					output.OrderStatus(string(o.Status)),
					o.ID,
				)
			}
			table.Render()
			output.Println()
			output.Printf("  %d orders\n", len(orders))
			return nil
		},
	}

	cmd.Flags().String("symbol", "", "filter by symbol")
	cmd.Flags().String("status", "", "filter by status")
	cmd.Flags().String("side", "", "filter by side (buy, sell)")
	cmd.Flags().Int("limit", 0, "maximum orders to show")
	return cmd
}
