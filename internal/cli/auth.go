package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	apperrors "alpaca-broker/internal/errors"
	"alpaca-broker/internal/security"
	"alpaca-broker/pkg/utils"
)

// addAuthCommands adds session commands.
func addAuthCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newLoginCmd(app))
	rootCmd.AddCommand(newLogoutCmd(app))
	rootCmd.AddCommand(newStatusCmd(app))
}

func newLoginCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authorize with the venue",
		Long: `Exchange the configured authorization code for a session.

The client id, secret, and authorization code come from credentials.toml
or the ALPACA_CLIENT_ID / ALPACA_CLIENT_SECRET / ALPACA_AUTH_CODE
environment variables. The session is persisted encrypted and refreshed
automatically from then on.`,
		Example: `  broker login
  broker login --code=<authorization-code>`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			if app.Broker.IsAuthenticated() {
				output.Success("Already logged in.")
				return showSessionStatus(ctx, app, output)
			}

			if !app.Config.HasCredentials() {
				output.Error("No client credentials configured. Check credentials.toml")
				return fmt.Errorf("credentials not configured")
			}

			creds := app.Config.AlpacaCredentials()
			if code, _ := cmd.Flags().GetString("code"); code != "" {
				creds.AuthCode = code
			}
			if creds.AuthCode == "" {
				output.Error("No authorization code. Set auth_code in credentials.toml or pass --code")
				return fmt.Errorf("authorization code required")
			}

			output.Info("Authorizing with venue...")
			token, err := app.Broker.Authorize(ctx, creds)
			if err != nil {
				output.Error("Login failed: %v", err)
				return err
			}

			output.Success("Login successful!")
			output.Dim("Session valid until %s", FormatDateTime(token.ExpiresAt))
			output.Println()
			return showSessionStatus(ctx, app, output)
		},
	}

	cmd.Flags().String("code", "", "authorization code from the venue's OAuth consent page")
	return cmd
}

func newLogoutCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session",
		Long: `Clear the in-memory session and destroy the persisted session vault.

A new login is required before trading again.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			if !app.Broker.IsAuthenticated() {
				output.Warning("Not currently logged in.")
				return nil
			}

			if err := app.Broker.Logout(ctx); err != nil {
				output.Error("Logout failed: %v", err)
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"success":   true,
					"timestamp": time.Now().Format(time.RFC3339),
				})
			}

			output.Success("Logged out.")
			output.Dim("Session tokens have been cleared.")
			return nil
		},
	}
}

func newStatusCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show session and client health",
		Long:  "Display the session state, token expiry, rate budget, and circuit breaker state.",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			if output.IsJSON() {
				return sessionStatusJSON(app, output)
			}
			return showSessionStatus(ctx, app, output)
		},
	}
}

// showSessionStatus prints the session, rate, and breaker panels.
func showSessionStatus(ctx context.Context, app *App, output *Output) error {
	state := app.Broker.SessionState()

	output.Bold("Session")
	output.Printf("  State:      %s\n", output.SessionState(string(state)))
	if identity := app.Tokens.Identity(); identity != "" {
		output.Printf("  Client:     %s\n", security.MaskCredential(identity))
	}

	token := app.Tokens.Token()
	if token.AccessValue != "" {
		remaining := time.Until(token.ExpiresAt)
		if remaining > 0 {
			output.Printf("  Expires:    %s (%s remaining)\n", FormatDateTime(token.ExpiresAt), FormatDuration(remaining))
		} else {
			output.Printf("  Expires:    %s\n", output.Yellow("expired, will refresh on next call"))
		}
	}

	if !app.Broker.IsAuthenticated() {
		output.Println()
		output.Info("Run 'broker login' to authenticate")
		return nil
	}

	// A live read proves the session actually works.
	balance, err := app.Broker.GetBalance(ctx)
	if err != nil {
		output.Println()
		if apperrors.Is(err, apperrors.ErrRefreshRevoked) {
			output.Error("Session revoked by venue: %v", err)
			output.Info("Run 'broker login' to re-authenticate")
			return nil
		}
		output.Warning("Venue check failed: %v", err)
		return nil
	}
	output.Printf("  Account:    %s (%s)\n", balance.AccountNumber, balance.Status)
	output.Printf("  Equity:     %s\n", FormatUSD(balance.Equity))
	output.Println()

	remaining, limit, resetAt := app.Broker.RateSnapshot()
	output.Bold("Rate Budget")
	output.Printf("  Remaining:  %d of %d\n", remaining, limit)
	if !resetAt.IsZero() {
		output.Printf("  Resets:     %s\n", FormatTime(resetAt))
	}
	output.Println()

	stats := app.Broker.BreakerStats()
	output.Bold("Circuit Breaker")
	output.Printf("  State:      %s\n", stats.State)
	output.Printf("  Requests:   %d (%d rejected)\n", stats.TotalRequests, stats.TotalRejected)
	output.Println()

	output.Bold("Market")
	status := utils.GetMarketStatus()
	output.Printf("  Session:    %s\n", status)
	if status == utils.MarketClosed || status == utils.MarketAfterHours {
		output.Printf("  Next open:  %s\n", FormatDateTime(utils.GetNextMarketOpen()))
	}
	return nil
}

func sessionStatusJSON(app *App, output *Output) error {
	token := app.Tokens.Token()
	remaining, limit, resetAt := app.Broker.RateSnapshot()
	stats := app.Broker.BreakerStats()

	return output.JSON(map[string]interface{}{
		"state":          app.Broker.SessionState(),
		"authenticated":  app.Broker.IsAuthenticated(),
		"identity":       security.MaskCredential(app.Tokens.Identity()),
		"token_expires":  token.ExpiresAt,
		"rate_remaining": remaining,
		"rate_limit":     limit,
		"rate_reset":     resetAt,
		"breaker":        stats,
	})
}
