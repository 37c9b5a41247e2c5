// Package auth manages the OAuth session with the venue: authorization
// code exchange, token refresh with single-flight coalescing, and session
// persistence across process restarts.
package auth

import (
	"time"

	"alpaca-broker/internal/models"
)

// State represents the session state of the token manager.
type State string

const (
	StateUnauthenticated State = "UNAUTHENTICATED" // No session held
	StateAuthenticated   State = "AUTHENTICATED"   // Token valid beyond the safety margin
	StateExpiring        State = "EXPIRING"        // Token inside the safety margin
	StateRefreshing      State = "REFRESHING"      // Refresh in flight
	StateRevoked         State = "REVOKED"         // Venue rejected the refresh value
)

// CredentialStore loads credentials and the persisted session, and saves
// tokens so a process restart resumes where it left off.
type CredentialStore interface {
	Load() (models.Credentials, models.Token, error)
	Save(token models.Token) error
	Clear() error
}

// Config holds token manager configuration.
type Config struct {
	// SafetyMargin is how long before expiry a token counts as expiring
	SafetyMargin time.Duration
	// RefreshMaxAttempts bounds retries inside a single refresh
	RefreshMaxAttempts int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		SafetyMargin:       60 * time.Second,
		RefreshMaxAttempts: 3,
	}
}
