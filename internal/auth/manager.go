package auth

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	apperrors "alpaca-broker/internal/errors"
	"alpaca-broker/internal/logging"
	"alpaca-broker/internal/models"
	"alpaca-broker/internal/resilience"
	"alpaca-broker/internal/security"
	"alpaca-broker/internal/transport"
)

// refreshTimeout bounds a whole refresh including its retries. The refresh
// runs detached from any single caller context.
const refreshTimeout = 2 * time.Minute

// refreshCell is the single-flight future all concurrent observers of an
// expiring token wait on. Fields are written once before done is closed.
type refreshCell struct {
	done  chan struct{}
	token models.Token
	err   error
}

// Manager owns the OAuth session: it exchanges the authorization code,
// serves valid tokens, and coalesces concurrent refreshes so the venue
// sees at most one refresh per credential identity at a time.
type Manager struct {
	transport       *transport.Client
	store           CredentialStore
	policy          resilience.Policy
	margin          time.Duration
	refreshAttempts int
	logger          zerolog.Logger
	audit           *security.AuditLogger

	mu      sync.Mutex
	creds   models.Credentials
	token   models.Token
	revoked bool
	pending map[string]*refreshCell
}

// NewManager creates a token manager and resumes any persisted session
// from the store.
func NewManager(tc *transport.Client, store CredentialStore, cfg Config, logger zerolog.Logger) (*Manager, error) {
	if cfg.SafetyMargin <= 0 {
		cfg.SafetyMargin = DefaultConfig().SafetyMargin
	}
	if cfg.RefreshMaxAttempts < 1 {
		cfg.RefreshMaxAttempts = DefaultConfig().RefreshMaxAttempts
	}

	creds, token, err := store.Load()
	if err != nil {
		return nil, err
	}

	return &Manager{
		transport:       tc,
		store:           store,
		policy:          resilience.DefaultPolicy(),
		margin:          cfg.SafetyMargin,
		refreshAttempts: cfg.RefreshMaxAttempts,
		logger:          logger.With().Str("component", "auth").Logger(),
		creds:           creds,
		token:           token,
		pending:         make(map[string]*refreshCell),
	}, nil
}

// SetAuditLogger attaches an audit trail for auth events.
func (m *Manager) SetAuditLogger(audit *security.AuditLogger) {
	m.audit = audit
}

// Identity returns the credential identity of the current session.
func (m *Manager) Identity() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creds.Identity()
}

// Token returns a snapshot of the current session token.
func (m *Manager) Token() models.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

// State returns the current session state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case m.revoked:
		return StateRevoked
	case len(m.pending) > 0:
		return StateRefreshing
	case m.token.AccessValue == "":
		return StateUnauthenticated
	case m.token.Valid(m.margin):
		return StateAuthenticated
	default:
		return StateExpiring
	}
}

// Authorize exchanges the authorization code for a session token, persists
// it, and resets the rate limit state for the fresh session.
func (m *Manager) Authorize(ctx context.Context, creds models.Credentials) (models.Token, error) {
	if creds.ClientID == "" || creds.ClientSecret == "" {
		return models.Token{}, apperrors.NewValidationError("client_id", "", "client id and secret are required")
	}
	if creds.AuthCode == "" {
		return models.Token{}, apperrors.NewValidationError("auth_code", "", "authorization code is required")
	}

	code, err := mfaCode(creds)
	if err != nil {
		return models.Token{}, err
	}

	body := tokenRequest{
		GrantType:    grantAuthorizationCode,
		Code:         creds.AuthCode,
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		MFACode:      code,
	}

	resp, err := m.transport.Send(ctx, transport.Request{
		Method: http.MethodPost,
		Path:   tokenEndpoint,
		Body:   body,
	})
	if err != nil {
		err = classifyAuthorizeError(err)
		m.auditLogin(ctx, creds.Identity(), false, err)
		return models.Token{}, err
	}

	var tr tokenResponse
	if err := resp.Decode(&tr); err != nil {
		return models.Token{}, err
	}
	token, err := tr.toToken(time.Now())
	if err != nil {
		return models.Token{}, err
	}

	if err := m.store.Save(token); err != nil {
		return models.Token{}, err
	}

	m.mu.Lock()
	m.creds = creds
	m.token = token
	m.revoked = false
	m.mu.Unlock()

	// Fresh session, fresh rate budget
	m.transport.RateState().Reset(0)

	m.logger.Info().
		Str("identity", security.MaskCredential(creds.Identity())).
		Time("expires_at", token.ExpiresAt).
		Msg("Authorization complete")
	m.auditLogin(ctx, creds.Identity(), true, nil)

	return token, nil
}

// GetValidToken returns a token valid beyond the safety margin, refreshing
// first when needed. Concurrent callers of an expiring session share a
// single refresh; each caller remains individually cancellable.
func (m *Manager) GetValidToken(ctx context.Context) (models.Token, error) {
	m.mu.Lock()
	if m.revoked {
		m.mu.Unlock()
		return models.Token{}, apperrors.NewAuthError(apperrors.ReasonRefreshRevoked, "session revoked by venue, authorize again", nil)
	}
	if m.token.AccessValue == "" {
		m.mu.Unlock()
		return models.Token{}, apperrors.NewAuthError(apperrors.ReasonUnauthenticated, "no session, authorize first", nil)
	}
	if m.token.Valid(m.margin) {
		token := m.token
		m.mu.Unlock()
		return token, nil
	}

	cell := m.joinRefreshLocked()
	m.mu.Unlock()

	select {
	case <-ctx.Done():
		// The shared refresh keeps running for the other waiters
		return models.Token{}, ctx.Err()
	case <-cell.done:
		return cell.token, cell.err
	}
}

// Invalidate drops the in-memory token so the next GetValidToken refreshes.
// The facade uses it when the venue answers 401 to a supposedly valid token.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token.ExpiresAt = time.Time{}
}

// Logout clears the session locally and removes the persisted vault.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	identity := m.creds.Identity()
	m.token = models.Token{}
	m.revoked = false
	m.mu.Unlock()

	if err := m.store.Clear(); err != nil {
		return err
	}

	m.logger.Info().Str("identity", security.MaskCredential(identity)).Msg("Logged out")
	if m.audit != nil {
		_ = m.audit.LogLogout(ctx, identity)
	}
	return nil
}

// joinRefreshLocked returns the in-flight refresh cell for the current
// credential identity, starting one if none exists. Caller holds m.mu.
func (m *Manager) joinRefreshLocked() *refreshCell {
	identity := m.creds.Identity()
	if cell, ok := m.pending[identity]; ok {
		return cell
	}

	cell := &refreshCell{done: make(chan struct{})}
	m.pending[identity] = cell
	go m.runRefresh(identity, m.token.RefreshValue, cell)
	return cell
}

func (m *Manager) runRefresh(identity, refreshValue string, cell *refreshCell) {
	token, err := m.refresh(identity, refreshValue)

	m.mu.Lock()
	if err == nil {
		m.token = token
		m.revoked = false
	} else if apperrors.Is(err, apperrors.ErrRefreshRevoked) {
		m.revoked = true
	}
	delete(m.pending, identity)
	m.mu.Unlock()

	cell.token = token
	cell.err = err
	close(cell.done)
}

func (m *Manager) refresh(identity, refreshValue string) (models.Token, error) {
	if refreshValue == "" {
		return models.Token{}, apperrors.NewAuthError(apperrors.ReasonTokenExpired, "session expired and no refresh value held", nil)
	}

	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()

	m.mu.Lock()
	creds := m.creds
	m.mu.Unlock()

	policy := m.policy
	policy.MaxAttempts = m.refreshAttempts

	token, err := resilience.DoWithResult(ctx, policy, m.logger, "token_refresh", func() (models.Token, error) {
		return m.exchangeRefresh(ctx, creds, refreshValue)
	})

	logging.LogTokenRefresh(m.logger, security.MaskCredential(identity), token.ExpiresAt, err)
	if m.audit != nil {
		_ = m.audit.LogTokenRefresh(context.Background(), identity, err == nil, errMessage(err))
	}
	if err != nil {
		return models.Token{}, err
	}

	if err := m.store.Save(token); err != nil {
		// The refreshed session is valid in memory; persistence failure
		// only costs resume-after-restart
		m.logger.Warn().Err(err).Msg("Failed to persist refreshed session")
	}
	return token, nil
}

func (m *Manager) exchangeRefresh(ctx context.Context, creds models.Credentials, refreshValue string) (models.Token, error) {
	body := tokenRequest{
		GrantType:    grantRefreshToken,
		RefreshToken: refreshValue,
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
	}

	resp, err := m.transport.Send(ctx, transport.Request{
		Method: http.MethodPost,
		Path:   tokenEndpoint,
		Body:   body,
	})
	if err != nil {
		return models.Token{}, classifyRefreshError(err)
	}

	var tr tokenResponse
	if err := resp.Decode(&tr); err != nil {
		return models.Token{}, err
	}
	return tr.toToken(time.Now())
}

func (m *Manager) auditLogin(ctx context.Context, identity string, success bool, err error) {
	if m.audit == nil {
		return
	}
	_ = m.audit.LogLogin(ctx, identity, success, errMessage(err))
}

// classifyAuthorizeError maps a token endpoint rejection of the
// authorization code to the auth taxonomy.
func classifyAuthorizeError(err error) error {
	var apiErr *apperrors.APIError
	if apperrors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusUnauthorized ||
			(apiErr.StatusCode == http.StatusBadRequest && strings.Contains(apiErr.VenueMessage, "invalid_grant")) {
			return apperrors.NewAuthError(apperrors.ReasonUnauthenticated, "venue rejected authorization code", err)
		}
	}
	return err
}

// classifyRefreshError maps a token endpoint rejection of the refresh
// value to the revoked branch of the auth taxonomy. Everything else stays
// as classified by the transport so the retry policy can judge it.
func classifyRefreshError(err error) error {
	var apiErr *apperrors.APIError
	if apperrors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusUnauthorized ||
			(apiErr.StatusCode == http.StatusBadRequest && strings.Contains(apiErr.VenueMessage, "invalid_grant")) {
			return apperrors.NewAuthError(apperrors.ReasonInvalidGrant, "venue rejected refresh value", err)
		}
	}
	return err
}

func errMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
