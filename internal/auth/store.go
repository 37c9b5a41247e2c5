package auth

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	apperrors "alpaca-broker/internal/errors"
	"alpaca-broker/internal/models"
	"alpaca-broker/internal/security"
)

// sessionPayload is the persisted session format inside the vault.
type sessionPayload struct {
	Identity     string    `json:"identity"`
	AccessValue  string    `json:"access_token"`
	RefreshValue string    `json:"refresh_token"`
	Scope        string    `json:"scope,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	SavedAt      time.Time `json:"saved_at"`
}

// FileStore persists the session sealed in an encrypted vault file.
// Credentials themselves come from configuration; only tokens are written.
type FileStore struct {
	creds      models.Credentials
	vault      *security.Vault
	passphrase string
	mu         sync.Mutex
}

// NewFileStore creates a credential store backed by the given vault.
func NewFileStore(creds models.Credentials, vault *security.Vault, passphrase string) *FileStore {
	return &FileStore{
		creds:      creds,
		vault:      vault,
		passphrase: passphrase,
	}
}

// Load returns the configured credentials and any persisted session.
// A missing vault file is not an error; it means no session yet.
func (s *FileStore) Load() (models.Credentials, models.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.vault.Exists() {
		return s.creds, models.Token{}, nil
	}

	data, err := s.vault.Open(s.passphrase)
	if err != nil {
		return s.creds, models.Token{}, apperrors.NewAuthError(apperrors.ReasonStoreUnavailable, "cannot open session vault", err)
	}

	var payload sessionPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return s.creds, models.Token{}, apperrors.NewAuthError(apperrors.ReasonStoreUnavailable, "corrupt session payload", err)
	}

	// A session saved for a different client id is ignored
	if payload.Identity != "" && payload.Identity != s.creds.Identity() {
		return s.creds, models.Token{}, nil
	}

	token := models.Token{
		AccessValue:  payload.AccessValue,
		RefreshValue: payload.RefreshValue,
		ExpiresAt:    payload.ExpiresAt,
		Scope:        payload.Scope,
	}
	return s.creds, token, nil
}

// Save seals the token into the vault.
func (s *FileStore) Save(token models.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload := sessionPayload{
		Identity:     s.creds.Identity(),
		AccessValue:  token.AccessValue,
		RefreshValue: token.RefreshValue,
		Scope:        token.Scope,
		ExpiresAt:    token.ExpiresAt,
		SavedAt:      time.Now(),
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return apperrors.NewAuthError(apperrors.ReasonStoreUnavailable, "cannot encode session payload", err)
	}

	if err := s.vault.Seal(s.passphrase, data); err != nil {
		return apperrors.NewAuthError(apperrors.ReasonStoreUnavailable, "cannot seal session vault", err)
	}
	return nil
}

// Clear removes the persisted session.
func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.vault.Exists() {
		return nil
	}
	if err := s.vault.Destroy(); err != nil {
		return apperrors.NewAuthError(apperrors.ReasonStoreUnavailable, "cannot remove session vault", err)
	}
	return nil
}

// EnvStore reads credentials and an optional pre-issued token from the
// environment. It never persists anything, which suits CI runs.
type EnvStore struct{}

// NewEnvStore creates a read-only environment-backed store.
func NewEnvStore() *EnvStore {
	return &EnvStore{}
}

// Load builds credentials and token from environment variables.
func (s *EnvStore) Load() (models.Credentials, models.Token, error) {
	creds := models.Credentials{
		ClientID:     firstEnv("ALPACA_CLIENT_ID", "APCA_API_KEY_ID"),
		ClientSecret: firstEnv("ALPACA_CLIENT_SECRET", "APCA_API_SECRET_KEY"),
		AuthCode:     os.Getenv("ALPACA_AUTH_CODE"),
		TOTPSecret:   os.Getenv("ALPACA_TOTP_SECRET"),
	}

	var token models.Token
	if access := os.Getenv("ALPACA_ACCESS_TOKEN"); access != "" {
		token.AccessValue = access
		token.RefreshValue = os.Getenv("ALPACA_REFRESH_TOKEN")
		token.ExpiresAt = time.Now().Add(time.Hour)
		if raw := os.Getenv("ALPACA_TOKEN_EXPIRES_AT"); raw != "" {
			if t, err := time.Parse(time.RFC3339, raw); err == nil {
				token.ExpiresAt = t
			}
		}
	}

	return creds, token, nil
}

// Save is a no-op; the environment is read-only.
func (s *EnvStore) Save(token models.Token) error {
	return nil
}

// Clear is a no-op; the environment is read-only.
func (s *EnvStore) Clear() error {
	return nil
}

func firstEnv(keys ...string) string {
	for _, key := range keys {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return ""
}

// Ensure both stores implement CredentialStore
var _ CredentialStore = (*FileStore)(nil)
var _ CredentialStore = (*EnvStore)(nil)
