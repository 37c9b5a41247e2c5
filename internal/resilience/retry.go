// Package resilience provides the retry policy and circuit breaker that
// wrap venue calls.
package resilience

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	apperrors "alpaca-broker/internal/errors"
	"alpaca-broker/internal/logging"
)

// Policy decides whether a failed venue call is retried and how long to
// wait before the next attempt.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy returns the default retry policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 5,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    60 * time.Second,
	}
}

// Retryable reports whether the error is worth another attempt. Timeouts,
// connection failures, 429s, and 5xx responses are transient. Everything
// else is deterministic: the venue would reject the same request the same
// way, so retrying only burns rate-limit budget.
func (p Policy) Retryable(err error) bool {
	if err == nil {
		return false
	}
	if apperrors.Is(err, context.Canceled) || apperrors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if apperrors.Is(err, apperrors.ErrTimeout) ||
		apperrors.Is(err, apperrors.ErrConnectionFailed) ||
		apperrors.Is(err, apperrors.ErrRateLimited) {
		return true
	}

	var apiErr *apperrors.APIError
	if apperrors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500
	}

	return false
}

// BackoffCeiling returns the deterministic upper bound for the given
// attempt: min(base * 2^attempt, cap). Attempt counts from 0.
func (p Policy) BackoffCeiling(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := float64(p.BaseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	return time.Duration(delay)
}

// NextDelay returns the wait before the next attempt: uniform random in
// [0, BackoffCeiling(attempt)], so concurrent callers failing together do
// not retry together.
func (p Policy) NextDelay(attempt int) time.Duration {
	ceiling := p.BackoffCeiling(attempt)
	if ceiling <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(ceiling) + 1))
}

// DelayFor returns the wait after err at the given attempt. A 429 carrying
// a retry-after hint overrides the computed backoff.
func (p Policy) DelayFor(err error, attempt int) time.Duration {
	var rlErr *apperrors.RateLimitError
	if apperrors.As(err, &rlErr) && rlErr.RetryAfter > 0 {
		return rlErr.RetryAfter
	}
	return p.NextDelay(attempt)
}

// Do executes fn under the policy. Fatal errors propagate unmodified on
// first sight; a spent retry budget surfaces the last error annotated with
// the attempt count. Sleeps are cancellable via ctx.
func Do(ctx context.Context, p Policy, logger zerolog.Logger, operation string, fn func() error) error {
	_, err := DoWithResult(ctx, p, logger, operation, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// DoWithResult executes fn under the policy and returns its result.
func DoWithResult[T any](ctx context.Context, p Policy, logger zerolog.Logger, operation string, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		default:
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !p.Retryable(err) {
			return zero, err
		}

		// Don't sleep after the last attempt
		if attempt < attempts-1 {
			delay := p.DelayFor(err, attempt)
			logging.LogRetry(logger, operation, attempt, delay, err)

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, ctx.Err()
			case <-timer.C:
			}
		}
	}

	return zero, apperrors.NewRetryError(attempts, lastErr)
}
