package broker

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	"alpaca-broker/internal/auth"
	apperrors "alpaca-broker/internal/errors"
	"alpaca-broker/internal/resilience"
	"alpaca-broker/internal/transport"
)

// dispatcher runs the outbound pipeline shared by the account and order
// clients: valid token, rate admission, circuit breaker, transport send,
// retry loop, and the single silent refresh-and-retry on a mid-flight 401.
type dispatcher struct {
	transport *transport.Client
	tokens    *auth.Manager
	limiter   *transport.Limiter
	breaker   *resilience.CircuitBreaker
	policy    resilience.Policy
	logger    zerolog.Logger
}

func newDispatcher(tc *transport.Client, tokens *auth.Manager, breaker *resilience.CircuitBreaker, policy resilience.Policy, logger zerolog.Logger) *dispatcher {
	return &dispatcher{
		transport: tc,
		tokens:    tokens,
		limiter:   transport.NewLimiter(tc.RateState(), logger),
		breaker:   breaker,
		policy:    policy,
		logger:    logger,
	}
}

// call sends one logical request through the full pipeline.
func (d *dispatcher) call(ctx context.Context, operation string, req transport.Request) (*transport.Response, error) {
	resp, err := d.callOnce(ctx, operation, req)
	if err != nil && isUnauthorized(err) {
		// The token looked valid locally but the venue disagreed.
		// Refresh once and retry; a second 401 is an auth failure.
		d.tokens.Invalidate()
		resp, err = d.callOnce(ctx, operation, req)
		if err != nil && isUnauthorized(err) {
			return nil, apperrors.NewAuthError(apperrors.ReasonTokenExpired, "venue rejected token after refresh", err)
		}
	}
	return resp, err
}

// callOnce runs the retry loop. Each attempt re-acquires the token and a
// rate admission so a long backoff never ships a stale bearer value.
func (d *dispatcher) callOnce(ctx context.Context, operation string, req transport.Request) (*transport.Response, error) {
	return resilience.DoWithResult(ctx, d.policy, d.logger, operation, func() (*transport.Response, error) {
		token, err := d.tokens.GetValidToken(ctx)
		if err != nil {
			return nil, err
		}

		r := req
		r.Token = token.AccessValue

		if err := d.limiter.Admit(ctx); err != nil {
			return nil, err
		}

		return resilience.ExecuteWithResult(d.breaker, ctx, func() (*transport.Response, error) {
			return d.transport.Send(ctx, r)
		})
	})
}

func isUnauthorized(err error) bool {
	var apiErr *apperrors.APIError
	return apperrors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized
}
