// Package config provides configuration management for the brokerage client.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"alpaca-broker/internal/models"
)

// Config holds all application configuration.
type Config struct {
	Venue       VenueConfig     `mapstructure:"venue"`
	Auth        AuthConfig      `mapstructure:"auth"`
	Retry       RetryConfig     `mapstructure:"retry"`
	RateLimit   RateLimitConfig `mapstructure:"rate_limit"`
	Store       StoreConfig     `mapstructure:"store"`
	Security    SecurityConfig  `mapstructure:"security"`
	UI          UIConfig        `mapstructure:"ui"`
	Logging     LoggingConfig   `mapstructure:"logging"`
	Credentials Credentials     `mapstructure:"-"` // Loaded separately
}

// VenueConfig holds remote venue endpoints and transport settings.
type VenueConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	StreamURL      string        `mapstructure:"stream_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// AuthConfig holds token lifecycle settings.
type AuthConfig struct {
	TokenSafetyMargin  time.Duration `mapstructure:"token_safety_margin"`
	RefreshMaxAttempts int           `mapstructure:"refresh_max_attempts"`
}

// RetryConfig holds retry policy settings.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// RateLimitConfig holds the assumed budget before the venue reports one.
type RateLimitConfig struct {
	InitialLimit int `mapstructure:"initial_limit"`
}

// StoreConfig holds persistence paths.
type StoreConfig struct {
	DBPath          string `mapstructure:"db_path"`
	CredentialsPath string `mapstructure:"credentials_path"`
	PassphraseEnv   string `mapstructure:"passphrase_env"`
}

// SecurityConfig holds security-related configuration.
type SecurityConfig struct {
	ReadOnlyMode       bool `mapstructure:"read_only_mode"`
	EncryptCredentials bool `mapstructure:"encrypt_credentials"`
	AuditEnabled       bool `mapstructure:"audit_enabled"`
	StrictValidation   bool `mapstructure:"strict_validation"`
}

// UIConfig holds UI-related configuration.
type UIConfig struct {
	ColorEnabled bool   `mapstructure:"color_enabled"`
	DateFormat   string `mapstructure:"date_format"`
	TimeFormat   string `mapstructure:"time_format"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Console    bool   `mapstructure:"console"`
	File       bool   `mapstructure:"file"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

// Credentials holds API credentials.
type Credentials struct {
	Alpaca AlpacaCredentials `mapstructure:"alpaca"`
}

// AlpacaCredentials holds the OAuth client identity for the venue.
type AlpacaCredentials struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	AuthCode     string `mapstructure:"auth_code"`
	TOTPSecret   string `mapstructure:"totp_secret"` // For MFA-gated authorization
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/alpaca-broker"
	}
	return filepath.Join(home, ".config", "alpaca-broker")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	cfg := &Config{}

	// Load main config
	if err := loadConfigFile(configDir, "config", cfg); err != nil {
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}

	// Load credentials
	if err := loadCredentials(configDir, &cfg.Credentials); err != nil {
		return nil, fmt.Errorf("loading credentials.toml: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	applyDefaults(cfg, configDir)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func loadConfigFile(configDir, name string, target interface{}) error {
	v := viper.New()
	v.SetConfigName(name)
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found, create template
			return createTemplateConfig(configDir, name)
		}
		return err
	}

	return v.Unmarshal(target)
}

func loadCredentials(configDir string, creds *Credentials) error {
	v := viper.New()
	v.SetConfigName("credentials")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return createTemplateCredentials(configDir)
		}
		return err
	}

	return v.Unmarshal(creds)
}

func applyEnvOverrides(cfg *Config) {
	// Venue credentials. The APCA_* names are the venue's own convention
	// and take precedence so CI setups keep working unchanged.
	if v := os.Getenv("ALPACA_CLIENT_ID"); v != "" {
		cfg.Credentials.Alpaca.ClientID = v
	}
	if v := os.Getenv("ALPACA_CLIENT_SECRET"); v != "" {
		cfg.Credentials.Alpaca.ClientSecret = v
	}
	if v := os.Getenv("ALPACA_AUTH_CODE"); v != "" {
		cfg.Credentials.Alpaca.AuthCode = v
	}
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Credentials.Alpaca.ClientID = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Credentials.Alpaca.ClientSecret = v
	}

	if v := os.Getenv("ALPACA_BASE_URL"); v != "" {
		cfg.Venue.BaseURL = v
	}
	if v := os.Getenv("ALPACA_STREAM_URL"); v != "" {
		cfg.Venue.StreamURL = v
	}
}

func applyDefaults(cfg *Config, configDir string) {
	if cfg.Venue.BaseURL == "" {
		cfg.Venue.BaseURL = "https://paper-api.alpaca.markets/v2"
	}
	if cfg.Venue.StreamURL == "" {
		cfg.Venue.StreamURL = "wss://paper-api.alpaca.markets/stream"
	}
	if cfg.Venue.RequestTimeout <= 0 {
		cfg.Venue.RequestTimeout = 30 * time.Second
	}
	if cfg.Auth.TokenSafetyMargin <= 0 {
		cfg.Auth.TokenSafetyMargin = 60 * time.Second
	}
	if cfg.Auth.RefreshMaxAttempts <= 0 {
		cfg.Auth.RefreshMaxAttempts = 3
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = 5
	}
	if cfg.Retry.BaseDelay <= 0 {
		cfg.Retry.BaseDelay = 500 * time.Millisecond
	}
	if cfg.Retry.MaxDelay <= 0 {
		cfg.Retry.MaxDelay = 60 * time.Second
	}
	if cfg.RateLimit.InitialLimit <= 0 {
		cfg.RateLimit.InitialLimit = 200
	}
	if cfg.Store.DBPath == "" {
		cfg.Store.DBPath = filepath.Join(configDir, "broker.db")
	}
	if cfg.Store.CredentialsPath == "" {
		cfg.Store.CredentialsPath = filepath.Join(configDir, "session.enc")
	}
	if cfg.Store.PassphraseEnv == "" {
		cfg.Store.PassphraseEnv = "ALPACA_BROKER_PASSPHRASE"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Venue.BaseURL == "" {
		return fmt.Errorf("venue base_url must not be empty")
	}
	if c.Venue.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry max_attempts must be at least 1")
	}
	if c.Retry.BaseDelay <= 0 || c.Retry.MaxDelay <= 0 {
		return fmt.Errorf("retry delays must be positive")
	}
	if c.Retry.BaseDelay > c.Retry.MaxDelay {
		return fmt.Errorf("retry base_delay must not exceed max_delay")
	}
	if c.Auth.TokenSafetyMargin < 0 {
		return fmt.Errorf("token_safety_margin must be non-negative")
	}
	return nil
}

// HasCredentials reports whether an OAuth client identity is configured.
func (c *Config) HasCredentials() bool {
	return c.Credentials.Alpaca.ClientID != "" && c.Credentials.Alpaca.ClientSecret != ""
}

// AlpacaCredentials returns the configured OAuth identity as domain
// credentials.
func (c *Config) AlpacaCredentials() models.Credentials {
	return models.Credentials{
		ClientID:     c.Credentials.Alpaca.ClientID,
		ClientSecret: c.Credentials.Alpaca.ClientSecret,
		AuthCode:     c.Credentials.Alpaca.AuthCode,
		TOTPSecret:   c.Credentials.Alpaca.TOTPSecret,
	}
}
