package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# Alpaca Broker Client Configuration

[venue]
# Venue REST base URL. Paper endpoint by default; switch to
# https://api.alpaca.markets/v2 for live trading.
base_url = "https://paper-api.alpaca.markets/v2"
# Trade-updates websocket endpoint
stream_url = "wss://paper-api.alpaca.markets/stream"
# Per-request timeout (e.g., "30s")
request_timeout = "30s"

[auth]
# Refresh the token when less than this much lifetime remains
token_safety_margin = "60s"
# Retry budget for transient refresh failures
refresh_max_attempts = 3

[retry]
# Maximum attempts per venue call (first try included)
max_attempts = 5
# Exponential backoff base delay
base_delay = "500ms"
# Backoff cap
max_delay = "60s"

[rate_limit]
# Assumed request budget until the venue reports its own headers
initial_limit = 200

[store]
# SQLite database for sessions, order cache, and the activity journal.
# Defaults to <config dir>/broker.db when empty.
db_path = ""
# Encrypted session file. Defaults to <config dir>/session.enc when empty.
credentials_path = ""
# Environment variable holding the encryption passphrase
passphrase_env = "ALPACA_BROKER_PASSPHRASE"

[security]
# Enable read-only mode (blocks order placement and cancellation)
read_only_mode = false
# Encrypt the stored session at rest
encrypt_credentials = true
# Enable audit logging for order actions
audit_enabled = true
# Enable strict input validation
strict_validation = true

[ui]
# Enable colored output
color_enabled = true
# Date format
date_format = "02-Jan-2006"
# Time format
time_format = "15:04:05"

[logging]
level = "info"
console = true
file = true
# Defaults to ~/.config/alpaca-broker/logs/broker.log when empty
file_path = ""
max_size = 100
max_backups = 7
max_age = 30
`

const credentialsTemplate = `# Alpaca Broker Client Credentials
# WARNING: Keep this file secure! Do not commit to version control.

[alpaca]
client_id = ""
client_secret = ""
# One-time OAuth authorization code used by "broker auth login"
auth_code = ""
# Optional TOTP secret when the account requires MFA
totp_secret = ""
`

func createTemplateConfig(configDir, name string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, name+".toml")
	if err := os.WriteFile(path, []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	return fmt.Errorf("config file not found, created template at %s", path)
}

func createTemplateCredentials(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "credentials.toml")
	// Use restricted permissions for credentials file
	if err := os.WriteFile(path, []byte(credentialsTemplate), 0600); err != nil {
		return fmt.Errorf("writing credentials template: %w", err)
	}

	return fmt.Errorf("credentials file not found, created template at %s", path)
}
