package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

// Test 1: Every constructor leaves its sentinel reachable through the
// chain, so callers can branch with errors.Is without knowing the
// concrete type.
func TestSentinelsReachable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"network timeout", NewNetworkError("GET", "/v2/account", ErrTimeout), ErrTimeout},
		{"network connection", NewNetworkError("POST", "/v2/orders", ErrConnectionFailed), ErrConnectionFailed},
		{"rate limit", NewRateLimitError(2 * time.Second), ErrRateLimited},
		{"not found", NewNotFoundError("order", "ord_123"), ErrNotFound},
		{"retry exhaustion", NewRetryError(5, NewNetworkError("GET", "/v2/account", ErrTimeout)), ErrTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.sentinel) {
				t.Errorf("%v does not wrap %v", tt.err, tt.sentinel)
			}
		})
	}
}

// Test 2: Venue rejection reasons map onto distinct sentinels.
func TestVenueErrorSentinels(t *testing.T) {
	tests := []struct {
		reason   VenueReason
		sentinel error
	}{
		{ReasonInsufficientFunds, ErrInsufficientFunds},
		{ReasonSymbolHalted, ErrSymbolHalted},
		{ReasonInvalidSymbol, ErrInvalidSymbol},
		{ReasonOther, ErrOrderRejected},
		{VenueReason("something_new"), ErrOrderRejected},
	}

	for _, tt := range tests {
		t.Run(string(tt.reason), func(t *testing.T) {
			err := NewVenueError(tt.reason, "AAPL", "rejected by venue")
			if !errors.Is(err, tt.sentinel) {
				t.Errorf("reason %q does not wrap %v", tt.reason, tt.sentinel)
			}

			var venueErr *VenueError
			if !errors.As(err, &venueErr) {
				t.Fatal("errors.As failed to recover *VenueError")
			}
			if venueErr.Symbol != "AAPL" {
				t.Errorf("Symbol = %q, want AAPL", venueErr.Symbol)
			}
		})
	}
}

// Test 3: Auth errors keep both the sentinel and the underlying cause
// in the chain, so a caller can match either.
func TestAuthErrorChain(t *testing.T) {
	cause := NewNetworkError("POST", "/oauth/token", ErrConnectionFailed)
	err := NewAuthError(ReasonStoreUnavailable, "token store locked", cause)

	if !errors.Is(err, ErrStoreUnavailable) {
		t.Error("sentinel not reachable")
	}
	if !errors.Is(err, ErrConnectionFailed) {
		t.Error("cause not reachable")
	}
	if !strings.Contains(err.Error(), "token store locked") {
		t.Errorf("message lost: %v", err)
	}

	tests := []struct {
		reason   AuthReason
		sentinel error
	}{
		{ReasonUnauthenticated, ErrNotAuthenticated},
		{ReasonTokenExpired, ErrTokenExpired},
		{ReasonRefreshRevoked, ErrRefreshRevoked},
		{ReasonInvalidGrant, ErrRefreshRevoked},
		{ReasonStoreUnavailable, ErrStoreUnavailable},
	}
	for _, tt := range tests {
		if !errors.Is(NewAuthError(tt.reason, "", nil), tt.sentinel) {
			t.Errorf("reason %q does not wrap %v", tt.reason, tt.sentinel)
		}
	}
}

// Test 4: RetryError annotates without erasing: the inner type and its
// sentinel both survive the extra layer.
func TestRetryErrorPreservesClassification(t *testing.T) {
	inner := NewRateLimitError(30 * time.Second)
	err := NewRetryError(5, inner)

	var retryErr *RetryError
	if !errors.As(err, &retryErr) {
		t.Fatal("errors.As failed to recover *RetryError")
	}
	if retryErr.Attempts != 5 {
		t.Errorf("Attempts = %d, want 5", retryErr.Attempts)
	}

	var rateErr *RateLimitError
	if !errors.As(err, &rateErr) {
		t.Fatal("inner *RateLimitError lost")
	}
	if rateErr.RetryAfter != 30*time.Second {
		t.Errorf("RetryAfter = %s, want 30s", rateErr.RetryAfter)
	}
	if !errors.Is(err, ErrRateLimited) {
		t.Error("sentinel lost")
	}

	t.Logf("chain: %v", err)
}

// Test 5: A RateLimitError built by hand still reports the sentinel.
func TestRateLimitErrorZeroValue(t *testing.T) {
	err := &RateLimitError{}
	if !errors.Is(err, ErrRateLimited) {
		t.Error("zero-value RateLimitError does not wrap ErrRateLimited")
	}
	if err.Error() != "rate limited" {
		t.Errorf("Error() = %q", err.Error())
	}

	hinted := NewRateLimitError(7 * time.Second)
	if !strings.Contains(hinted.Error(), "7s") {
		t.Errorf("hint missing from message: %q", hinted.Error())
	}
}

// Test 6: Validation errors are leaves. They carry the offending field
// and value but wrap nothing.
func TestValidationError(t *testing.T) {
	err := NewValidationError("qty", "-3", "must be positive")

	var valErr *ValidationError
	if !errors.As(err, &valErr) {
		t.Fatal("errors.As failed to recover *ValidationError")
	}
	if valErr.Field != "qty" {
		t.Errorf("Field = %q, want qty", valErr.Field)
	}
	if errors.Unwrap(err) != nil {
		t.Errorf("validation error unexpectedly wraps %v", errors.Unwrap(err))
	}
	for _, part := range []string{"qty", "-3", "must be positive"} {
		if !strings.Contains(err.Error(), part) {
			t.Errorf("message %q missing %q", err.Error(), part)
		}
	}
}

// Test 7: Wrap and Wrapf prepend context, pass the chain through, and
// stay nil-safe.
func TestWrapHelpers(t *testing.T) {
	if Wrap(nil, "context") != nil {
		t.Error("Wrap(nil) != nil")
	}
	if Wrapf(nil, "context %d", 1) != nil {
		t.Error("Wrapf(nil) != nil")
	}

	err := Wrap(ErrDatabaseError, "saving order")
	if !errors.Is(err, ErrDatabaseError) {
		t.Error("Wrap broke the chain")
	}
	if !strings.HasPrefix(err.Error(), "saving order: ") {
		t.Errorf("Wrap message = %q", err.Error())
	}

	err = Wrapf(ErrStreamClosed, "subscriber %d", 4)
	if !errors.Is(err, ErrStreamClosed) {
		t.Error("Wrapf broke the chain")
	}
	if want := fmt.Sprintf("subscriber %d: %v", 4, ErrStreamClosed); err.Error() != want {
		t.Errorf("Wrapf message = %q, want %q", err.Error(), want)
	}
}
