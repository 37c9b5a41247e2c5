package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"alpaca-broker/internal/models"
	"alpaca-broker/internal/store"
)

const syncTypeActivities = "activities"

// addAccountCommands adds account query commands.
func addAccountCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newBalanceCmd(app))
	rootCmd.AddCommand(newPositionsCmd(app))
	rootCmd.AddCommand(newActivityCmd(app))
	rootCmd.AddCommand(newAssetCmd(app))
}

func newBalanceCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "balance",
		Short: "Show account balance",
		Long:  "Fetch the account snapshot: cash, buying power, and portfolio value.",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			if err := requireSession(app, output); err != nil {
				return err
			}

			balance, err := app.Broker.GetBalance(ctx)
			if err != nil {
				output.Error("Failed to get balance: %v", err)
				return err
			}

			if output.IsJSON() {
				return output.JSON(balance)
			}

			output.Bold("Account %s", balance.AccountNumber)
			output.Printf("  Status:          %s\n", balance.Status)
			output.Printf("  Currency:        %s\n", balance.Currency)
			output.Println()
			output.Printf("  Cash:            %s\n", FormatUSD(balance.Cash))
			output.Printf("  Buying Power:    %s\n", FormatUSD(balance.BuyingPower))
			output.Printf("  Portfolio Value: %s\n", FormatUSD(balance.PortfolioValue))
			output.Printf("  Equity:          %s\n", FormatUSD(balance.Equity))
			if balance.PatternDayTrader {
				output.Println()
				output.Warning("Account is flagged as a pattern day trader")
			}
			return nil
		},
	}
}

func newPositionsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "positions",
		Short: "Show open positions",
		Long:  "Fetch all open positions with entry price, market value, and unrealized P&L.",
		Example: `  broker positions
  broker positions --csv positions.csv`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			if err := requireSession(app, output); err != nil {
				return err
			}

			positions, err := app.Broker.GetPositions(ctx)
			if err != nil {
				output.Error("Failed to get positions: %v", err)
				return err
			}

			if csvPath, _ := cmd.Flags().GetString("csv"); csvPath != "" {
				if err := writePositionsCSV(csvPath, positions); err != nil {
					output.Error("Failed to write CSV: %v", err)
					return err
				}
				output.Success("Wrote %d positions to %s", len(positions), csvPath)
				return nil
			}

			if output.IsJSON() {
				return output.JSON(positions)
			}

			if len(positions) == 0 {
				output.Info("No open positions")
				return nil
			}

			displayPositions(output, positions)
			return nil
		},
	}

	cmd.Flags().String("csv", "", "write positions to a CSV file")
	return cmd
}

func displayPositions(output *Output, positions []models.Position) {
	table := NewTable(output, "Symbol", "Qty", "Avg Entry", "Current", "Mkt Value", "Unrealized P&L")

	totalValue := decimal.Zero
	totalPL := decimal.Zero
	for _, p := range positions {
		table.AddRow(
			p.Symbol,
			FormatQty(p.Qty),
			FormatUSD(p.AvgEntryPrice),
			FormatUSD(p.CurrentPrice),
			FormatUSD(p.MarketValue),
			fmt.Sprintf("%s (%s)", output.PnL(p.UnrealizedPL), FormatPercent(p.UnrealizedPLPC)),
		)
		totalValue = totalValue.Add(p.MarketValue)
		totalPL = totalPL.Add(p.UnrealizedPL)
	}
	table.Render()

	output.Println()
	output.Printf("  Total market value: %s\n", FormatUSD(totalValue))
	output.Printf("  Total unrealized:   %s\n", output.PnL(totalPL))
}

func newActivityCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "activity",
		Short: "Show account activity",
		Long: `Fetch account activity (fills, dividends, transfers) page by page.

By default one page is shown along with the cursor for the next page.
Use --all to follow the cursor to the end, --sync to store new entries
in the local journal, or --local to query the journal offline.`,
		Example: `  broker activity
  broker activity --cursor act-00099
  broker activity --all --csv activity.csv
  broker activity --sync
  broker activity --local --symbol AAPL --type FILL`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()

			local, _ := cmd.Flags().GetBool("local")
			sync, _ := cmd.Flags().GetBool("sync")
			if local {
				return runActivityLocal(ctx, cmd, app, output)
			}

			if err := requireSession(app, output); err != nil {
				return err
			}
			if sync {
				return runActivitySync(ctx, app, output)
			}
			return runActivityFetch(ctx, cmd, app, output)
		},
	}

	cmd.Flags().String("cursor", "", "resume from a page cursor")
	cmd.Flags().Bool("all", false, "follow the cursor until the venue has no more pages")
	cmd.Flags().Bool("sync", false, "store new entries in the local journal")
	cmd.Flags().Bool("local", false, "query the local journal instead of the venue")
	cmd.Flags().String("symbol", "", "filter by symbol (with --local)")
	cmd.Flags().String("type", "", "filter by activity type (with --local)")
	cmd.Flags().Int("limit", 0, "maximum entries to show (with --local)")
	cmd.Flags().String("csv", "", "write entries to a CSV file")
	return cmd
}

func runActivityFetch(ctx context.Context, cmd *cobra.Command, app *App, output *Output) error {
	cursor, _ := cmd.Flags().GetString("cursor")
	all, _ := cmd.Flags().GetBool("all")

	var entries []models.Transaction
	for {
		page, err := app.Broker.GetTransactions(ctx, cursor)
		if err != nil {
			output.Error("Failed to get activity: %v", err)
			return err
		}
		entries = append(entries, page.Items...)
		cursor = page.Cursor
		if !all || cursor == "" {
			break
		}
	}

	if csvPath, _ := cmd.Flags().GetString("csv"); csvPath != "" {
		if err := writeActivityCSV(csvPath, entries); err != nil {
			output.Error("Failed to write CSV: %v", err)
			return err
		}
		output.Success("Wrote %d entries to %s", len(entries), csvPath)
		return nil
	}

	if output.IsJSON() {
		return output.JSON(map[string]interface{}{
			"entries": entries,
			"cursor":  cursor,
		})
	}

	if len(entries) == 0 {
		output.Info("No activity")
		return nil
	}

	displayActivity(output, entries)
	if cursor != "" {
		output.Println()
		output.Dim("More pages available. Continue with --cursor %s", cursor)
	}
	return nil
}

// runActivitySync pulls every page after the stored cursor into the
// local journal, so repeated syncs only fetch new entries.
func runActivitySync(ctx context.Context, app *App, output *Output) error {
	if app.Store == nil {
		output.Error("Local journal unavailable. Check the store configuration.")
		return fmt.Errorf("store not configured")
	}

	cursor, err := app.Store.GetSyncCursor(ctx, syncTypeActivities)
	if err != nil {
		output.Error("Failed to read sync cursor: %v", err)
		return err
	}

	synced := 0
	lastID := ""
	for {
		page, err := app.Broker.GetTransactions(ctx, cursor)
		if err != nil {
			output.Error("Sync failed after %d entries: %v", synced, err)
			return err
		}
		if len(page.Items) > 0 {
			if err := app.Store.SaveTransactions(ctx, page.Items); err != nil {
				output.Error("Failed to store entries: %v", err)
				return err
			}
			synced += len(page.Items)
			lastID = page.Items[len(page.Items)-1].ID
		}
		cursor = page.Cursor
		if cursor == "" {
			break
		}
	}

	if lastID != "" {
		if err := app.Store.SetSyncCursor(ctx, syncTypeActivities, lastID); err != nil {
			output.Error("Failed to record sync cursor: %v", err)
			return err
		}
	}
	if err := app.Store.SetLastSync(syncTypeActivities, time.Now()); err != nil {
		output.Error("Failed to record sync time: %v", err)
		return err
	}

	if output.IsJSON() {
		return output.JSON(map[string]interface{}{
			"synced": synced,
			"cursor": lastID,
		})
	}
	if synced == 0 {
		output.Info("Journal already up to date")
		return nil
	}
	output.Success("Synced %d new entries to the local journal", synced)
	return nil
}

func runActivityLocal(ctx context.Context, cmd *cobra.Command, app *App, output *Output) error {
	if app.Store == nil {
		output.Error("Local journal unavailable. Check the store configuration.")
		return fmt.Errorf("store not configured")
	}

	symbol, _ := cmd.Flags().GetString("symbol")
	activityType, _ := cmd.Flags().GetString("type")
	limit, _ := cmd.Flags().GetInt("limit")

	entries, err := app.Store.GetTransactions(ctx, store.TransactionFilter{
		Symbol:       strings.ToUpper(symbol),
		ActivityType: strings.ToUpper(activityType),
		Limit:        limit,
	})
	if err != nil {
		output.Error("Failed to query journal: %v", err)
		return err
	}

	if csvPath, _ := cmd.Flags().GetString("csv"); csvPath != "" {
		if err := writeActivityCSV(csvPath, entries); err != nil {
			output.Error("Failed to write CSV: %v", err)
			return err
		}
		output.Success("Wrote %d entries to %s", len(entries), csvPath)
		return nil
	}

	if output.IsJSON() {
		return output.JSON(entries)
	}

	if len(entries) == 0 {
		output.Info("No matching entries in the local journal")
		if t := app.Store.GetLastSync(syncTypeActivities); t.IsZero() {
			output.Dim("Run 'broker activity --sync' to populate it")
		}
		return nil
	}

	displayActivity(output, entries)
	if t := app.Store.GetLastSync(syncTypeActivities); !t.IsZero() {
		output.Println()
		output.Dim("Last synced %s", FormatDateTime(t))
	}
	return nil
}

func displayActivity(output *Output, entries []models.Transaction) {
	table := NewTable(output, "Time", "Type", "Symbol", "Side", "Qty", "Price", "Net Amount")
	for _, e := range entries {
		table.AddRow(
			FormatDateTime(e.TransactionTime),
			e.ActivityType,
			e.Symbol,
			e.Side,
			FormatQty(e.Qty),
			FormatUSD(e.Price),
			output.PnL(e.NetAmount),
		)
	}
	table.Render()
	output.Println()
	output.Printf("  %d entries\n", len(entries))
}

func newAssetCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "asset <symbol>",
		Short: "Show asset metadata",
		Long:  "Fetch tradability metadata for a symbol.",
		Example: `  broker asset AAPL
  broker asset TSLA --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			if err := requireSession(app, output); err != nil {
				return err
			}

			symbol := strings.ToUpper(args[0])
			asset, err := app.Broker.GetAssetInfo(ctx, symbol)
			if err != nil {
				output.Error("Failed to get asset: %v", err)
				return err
			}

			if output.IsJSON() {
				return output.JSON(asset)
			}

			output.Bold("%s", asset.Symbol)
			if asset.Name != "" {
				output.Dim("  %s", asset.Name)
			}
			output.Println()
			output.Printf("  Exchange:   %s\n", asset.Exchange)
			output.Printf("  Class:      %s\n", asset.Class)
			output.Printf("  Status:     %s\n", asset.Status)
			output.Printf("  Tradable:   %s\n", yesNo(output, asset.Tradable))
			output.Printf("  Marginable: %s\n", yesNo(output, asset.Marginable))
			output.Printf("  Shortable:  %s\n", yesNo(output, asset.Shortable))
			output.Printf("  Fractional: %s\n", yesNo(output, asset.Fractionable))
			return nil
		},
	}
}

func yesNo(output *Output, v bool) string {
	if v {
		return output.Green("yes")
	}
	return output.DimText("no")
}

// requireSession guards venue commands behind an authenticated session.
func requireSession(app *App, output *Output) error {
	if app.Broker == nil {
		output.Error("Broker not configured.")
		return fmt.Errorf("broker not configured")
	}
	if !app.Broker.IsAuthenticated() {
		output.Error("Not logged in. Run 'broker login' first.")
		return fmt.Errorf("not authenticated")
	}
	return nil
}

// ============================================================
// CSV Export
// ============================================================

type positionRow struct {
	Symbol        string          `csv:"symbol"`
	Qty           decimal.Decimal `csv:"qty"`
	AvgEntryPrice decimal.Decimal `csv:"avg_entry_price"`
	CurrentPrice  decimal.Decimal `csv:"current_price"`
	MarketValue   decimal.Decimal `csv:"market_value"`
	UnrealizedPL  decimal.Decimal `csv:"unrealized_pl"`
	Side          string          `csv:"side"`
}

type activityRow struct {
	ID              string          `csv:"id"`
	ActivityType    string          `csv:"activity_type"`
	TransactionTime time.Time       `csv:"transaction_time"`
	Symbol          string          `csv:"symbol"`
	Side            string          `csv:"side"`
	Qty             decimal.Decimal `csv:"qty"`
	Price           decimal.Decimal `csv:"price"`
	NetAmount       decimal.Decimal `csv:"net_amount"`
}

func writePositionsCSV(path string, positions []models.Position) error {
	rows := make([]positionRow, len(positions))
	for i, p := range positions {
		rows[i] = positionRow{
			Symbol:        p.Symbol,
			Qty:           p.Qty,
			AvgEntryPrice: p.AvgEntryPrice,
			CurrentPrice:  p.CurrentPrice,
			MarketValue:   p.MarketValue,
			UnrealizedPL:  p.UnrealizedPL,
			Side:          p.Side,
		}
	}
	return writeCSV(path, &rows)
}

func writeActivityCSV(path string, entries []models.Transaction) error {
	rows := make([]activityRow, len(entries))
	for i, e := range entries {
		rows[i] = activityRow{
			ID:              e.ID,
			ActivityType:    e.ActivityType,
			TransactionTime: e.TransactionTime,
			Symbol:          e.Symbol,
			Side:            e.Side,
			Qty:             e.Qty,
			Price:           e.Price,
			NetAmount:       e.NetAmount,
		}
	}
	return writeCSV(path, &rows)
}

func writeCSV(path string, rows interface{}) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := gocsv.MarshalFile(rows, f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write csv: %w", err)
	}
	return f.Close()
}
