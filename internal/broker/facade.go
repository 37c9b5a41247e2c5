package broker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"alpaca-broker/internal/auth"
	apperrors "alpaca-broker/internal/errors"
	"alpaca-broker/internal/models"
	"alpaca-broker/internal/resilience"
	"alpaca-broker/internal/security"
	"alpaca-broker/internal/transport"
)

// Options wires the facade's collaborators. Transport and Tokens are
// required; everything else has a working default or is optional.
type Options struct {
	Transport *transport.Client
	Tokens    *auth.Manager
	Cache     OrderCacheStore
	Stream    UpdateStream
	Policy    resilience.Policy
	Breaker   resilience.CircuitBreakerConfig
	Access    *security.AccessController
	Audit     *security.AuditLogger
	Validator *security.InputValidator
	Logger    zerolog.Logger
}

// Facade is the single entry point callers use. Every outbound call runs
// the same pipeline: valid token, rate admission, circuit breaker,
// transport, retry, taxonomy mapping.
type Facade struct {
	tokens  *auth.Manager
	orders  *OrderClient
	account *AccountClient
	stream  UpdateStream
	breaker *resilience.CircuitBreaker
	access  *security.AccessController
	rate    *transport.RateLimitState
	logger  zerolog.Logger
}

// New creates a facade from the given options.
func New(opts Options) *Facade {
	if opts.Policy.MaxAttempts == 0 {
		opts.Policy = resilience.DefaultPolicy()
	}
	if opts.Breaker.FailureThreshold == 0 {
		opts.Breaker = resilience.DefaultCircuitBreakerConfig()
	}
	if opts.Validator == nil {
		opts.Validator = security.NewInputValidator(false)
	}

	logger := opts.Logger.With().Str("component", "broker").Logger()
	breaker := resilience.NewCircuitBreaker("venue", opts.Breaker, opts.Logger)
	d := newDispatcher(opts.Transport, opts.Tokens, breaker, opts.Policy, logger)

	orders := newOrderClient(d, opts.Cache, opts.Validator, logger)
	orders.audit = opts.Audit

	return &Facade{
		tokens:  opts.Tokens,
		orders:  orders,
		account: newAccountClient(d, opts.Validator, logger),
		stream:  opts.Stream,
		breaker: breaker,
		access:  opts.Access,
		rate:    opts.Transport.RateState(),
		logger:  logger,
	}
}

// Authorize exchanges the authorization code for a session.
func (f *Facade) Authorize(ctx context.Context, creds models.Credentials) (models.Token, error) {
	return f.tokens.Authorize(ctx, creds)
}

// Logout ends the session and clears persisted state.
func (f *Facade) Logout(ctx context.Context) error {
	return f.tokens.Logout(ctx)
}

// IsAuthenticated reports whether a usable session is held.
func (f *Facade) IsAuthenticated() bool {
	switch f.tokens.State() {
	case auth.StateUnauthenticated, auth.StateRevoked:
		return false
	}
	return true
}

// SessionState returns the token manager state.
func (f *Facade) SessionState() auth.State {
	return f.tokens.State()
}

// PlaceOrder submits an order, idempotent by client_order_id.
func (f *Facade) PlaceOrder(ctx context.Context, req models.OrderRequest) (*models.Order, error) {
	if err := f.checkWrite(ctx, security.OpPlaceOrder); err != nil {
		return nil, err
	}
	return f.orders.Place(ctx, req)
}

// GetOrderStatus reads the live order state from the venue.
func (f *Facade) GetOrderStatus(ctx context.Context, orderID string) (*models.Order, error) {
	return f.orders.GetStatus(ctx, orderID)
}

// CancelOrder requests cancellation and returns the venue's last word.
func (f *Facade) CancelOrder(ctx context.Context, orderID string) (*models.Order, error) {
	if err := f.checkWrite(ctx, security.OpCancelOrder); err != nil {
		return nil, err
	}
	return f.orders.Cancel(ctx, orderID)
}

// GetBalance fetches the account snapshot.
func (f *Facade) GetBalance(ctx context.Context) (*models.Balance, error) {
	return f.account.GetBalance(ctx)
}

// GetPositions fetches all open positions.
func (f *Facade) GetPositions(ctx context.Context) ([]models.Position, error) {
	return f.account.GetPositions(ctx)
}

// GetTransactions fetches one page of account activity.
func (f *Facade) GetTransactions(ctx context.Context, cursor string) (models.TransactionPage, error) {
	return f.account.GetTransactions(ctx, cursor)
}

// GetAssetInfo fetches metadata for a symbol.
func (f *Facade) GetAssetInfo(ctx context.Context, symbol string) (*models.AssetInfo, error) {
	return f.account.GetAssetInfo(ctx, symbol)
}

// StreamOrderUpdates opens the order update stream.
func (f *Facade) StreamOrderUpdates(ctx context.Context) (<-chan models.OrderUpdate, error) {
	if f.stream == nil {
		return nil, apperrors.Wrap(apperrors.ErrStreamClosed, "no update stream configured")
	}
	return f.stream.Updates(ctx)
}

// BreakerStats returns the venue circuit breaker counters.
func (f *Facade) BreakerStats() resilience.CircuitBreakerStats {
	return f.breaker.Stats()
}

// RateSnapshot returns the last-known venue rate budget.
func (f *Facade) RateSnapshot() (remaining, limit int, resetAt time.Time) {
	return f.rate.Snapshot()
}

// Close releases held resources.
func (f *Facade) Close() error {
	if f.stream != nil {
		return f.stream.Close()
	}
	return nil
}

func (f *Facade) checkWrite(ctx context.Context, op security.OperationType) error {
	if f.access == nil {
		return nil
	}
	return f.access.CheckPermission(ctx, op)
}

// Ensure Facade implements Broker
var _ Broker = (*Facade)(nil)
