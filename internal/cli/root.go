package cli

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"alpaca-broker/internal/auth"
	"alpaca-broker/internal/broker"
	"alpaca-broker/internal/config"
	"alpaca-broker/internal/logging"
	"alpaca-broker/internal/resilience"
	"alpaca-broker/internal/security"
	"alpaca-broker/internal/store"
	"alpaca-broker/internal/stream"
	"alpaca-broker/internal/transport"
)

// Version information
const (
	Version = "0.1.0"
)

// App holds the application dependencies.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Broker *broker.Facade
	Tokens *auth.Manager
	Store  store.DataStore
	Audit  *security.AuditLogger
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(cfg *config.Config, logger zerolog.Logger) *cobra.Command {
	app := buildApp(cfg, logger)

	rootCmd := &cobra.Command{
		Use:   "broker",
		Short: "Brokerage venue client with managed sessions and safe order submission",
		Long: `broker is a command-line client for the brokerage venue.

It manages the OAuth session for you: tokens are refreshed before they
expire, persisted encrypted between runs, and every venue call gets
rate limiting, retries, and circuit breaking.

Use 'broker help <command>' for more information about a command.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			debug, _ := cmd.Flags().GetBool("debug")
			if debug {
				logging.SetDebugLevel()
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			app.shutdown()
		},
	}

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/alpaca-broker)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	addAuthCommands(rootCmd, app)
	addAccountCommands(rootCmd, app)
	addOrderCommands(rootCmd, app)
	addStreamCommands(rootCmd, app)
	addHelpCommands(rootCmd, app)

	return rootCmd
}

// buildApp constructs the dependency graph: transport, token manager,
// local store, stream client, and the broker facade on top.
func buildApp(cfg *config.Config, logger zerolog.Logger) *App {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	if cfg.Security.AuditEnabled {
		auditCfg := security.DefaultAuditConfig()
		audit, err := security.NewAuditLogger(auditCfg)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to initialize audit log")
		} else {
			app.Audit = audit
		}
	}

	rateState := transport.NewRateLimitState(cfg.RateLimit.InitialLimit)
	tc := transport.NewClient(transport.Config{
		BaseURL: cfg.Venue.BaseURL,
		Timeout: cfg.Venue.RequestTimeout,
	}, rateState, logger)

	creds := cfg.AlpacaCredentials()
	vault := security.NewVault(cfg.Store.CredentialsPath)
	passphrase := os.Getenv(cfg.Store.PassphraseEnv)
	sessionStore := auth.NewFileStore(creds, vault, passphrase)

	authCfg := auth.Config{
		SafetyMargin:       cfg.Auth.TokenSafetyMargin,
		RefreshMaxAttempts: cfg.Auth.RefreshMaxAttempts,
	}
	tokens, err := auth.NewManager(tc, sessionStore, authCfg, logger)
	if err != nil {
		// A corrupt or unreadable session vault must not brick the CLI;
		// login rebuilds it.
		logger.Warn().Err(err).Msg("Stored session unavailable, starting without it")
		tokens, _ = auth.NewManager(tc, auth.NewEnvStore(), authCfg, logger)
	}
	if app.Audit != nil {
		tokens.SetAuditLogger(app.Audit)
	}
	app.Tokens = tokens

	opts := broker.Options{
		Transport: tc,
		Tokens:    tokens,
		Policy: resilience.Policy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   cfg.Retry.BaseDelay,
			MaxDelay:    cfg.Retry.MaxDelay,
		},
		Access:    security.NewAccessController(cfg.Security.ReadOnlyMode, app.Audit),
		Audit:     app.Audit,
		Validator: security.NewInputValidator(cfg.Security.StrictValidation),
		Logger:    logger,
	}

	dataStore, err := store.NewSQLiteStore(cfg.Store.DBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to initialize store, order cache disabled")
	} else {
		app.Store = dataStore
		opts.Cache = dataStore
	}

	opts.Stream = stream.NewClient(stream.DefaultConfig(cfg.Venue.StreamURL), tokens, logger)

	app.Broker = broker.New(opts)
	return app
}

// shutdown releases resources after a command finishes.
func (a *App) shutdown() {
	if a.Broker != nil {
		a.Broker.Close()
	}
	if a.Store != nil {
		a.Store.Close()
	}
	if a.Audit != nil {
		a.Audit.Close()
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{"version": Version})
			} else {
				output.Printf("broker v%s\n", Version)
			}
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and manage application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(app.Config)
			}
			return showConfig(output, app.Config)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration directory path",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{"path": config.DefaultConfigDir()})
			} else {
				output.Println(config.DefaultConfigDir())
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration files",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				output.JSON(map[string]bool{"valid": true})
			} else {
				output.Success("Configuration is valid")
			}
			return nil
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) error {
	output.Bold("Venue")
	output.Printf("  Base URL:    %s\n", cfg.Venue.BaseURL)
	output.Printf("  Stream URL:  %s\n", cfg.Venue.StreamURL)
	output.Printf("  Timeout:     %s\n", cfg.Venue.RequestTimeout)
	output.Println()

	output.Bold("Session")
	output.Printf("  Safety Margin:    %s\n", cfg.Auth.TokenSafetyMargin)
	output.Printf("  Refresh Attempts: %d\n", cfg.Auth.RefreshMaxAttempts)
	output.Println()

	output.Bold("Retry")
	output.Printf("  Max Attempts: %d\n", cfg.Retry.MaxAttempts)
	output.Printf("  Base Delay:   %s\n", cfg.Retry.BaseDelay)
	output.Printf("  Max Delay:    %s\n", cfg.Retry.MaxDelay)
	output.Println()

	output.Bold("Security")
	output.Printf("  Read-only Mode:    %v\n", cfg.Security.ReadOnlyMode)
	output.Printf("  Audit Enabled:     %v\n", cfg.Security.AuditEnabled)
	output.Printf("  Strict Validation: %v\n", cfg.Security.StrictValidation)

	return nil
}
