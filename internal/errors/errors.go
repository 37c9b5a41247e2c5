// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// Standard sentinel errors
var (
	ErrNotAuthenticated  = errors.New("not authenticated")
	ErrTokenExpired      = errors.New("token expired")
	ErrRefreshRevoked    = errors.New("refresh token revoked")
	ErrStoreUnavailable  = errors.New("credential store unavailable")
	ErrRateLimited       = errors.New("rate limited")
	ErrConnectionFailed  = errors.New("connection failed")
	ErrTimeout           = errors.New("operation timed out")
	ErrMalformedResponse = errors.New("malformed response")
	ErrNotFound          = errors.New("not found")
	ErrAlreadyFilled     = errors.New("order already in terminal state")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrSymbolHalted      = errors.New("trading halted for symbol")
	ErrInvalidSymbol     = errors.New("unknown symbol")
	ErrOrderRejected     = errors.New("order rejected")
	ErrConfigInvalid     = errors.New("invalid configuration")
	ErrDatabaseError     = errors.New("database error")
	ErrStreamClosed      = errors.New("stream closed")
)

// NetworkError represents a transport-level failure (timeout, connection
// reset) before any HTTP status was received. Always retryable.
type NetworkError struct {
	Op  string
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error [%s] %s: %v", e.Op, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// NewNetworkError creates a new NetworkError wrapping the matching sentinel.
func NewNetworkError(op, url string, err error) *NetworkError {
	return &NetworkError{
		Op:  op,
		URL: url,
		Err: err,
	}
}

// APIError represents a non-2xx HTTP response from the venue that does not
// map to a more specific error type. The venue's message text is preserved.
type APIError struct {
	StatusCode   int
	VenueMessage string
	Err          error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("venue API error [%d]: %s: %v", e.StatusCode, e.VenueMessage, e.Err)
	}
	return fmt.Sprintf("venue API error [%d]: %s", e.StatusCode, e.VenueMessage)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// NewAPIError creates a new APIError.
func NewAPIError(statusCode int, venueMessage string, err error) *APIError {
	return &APIError{
		StatusCode:   statusCode,
		VenueMessage: venueMessage,
		Err:          err,
	}
}

// RateLimitError represents an HTTP 429. RetryAfter carries the venue's
// hint when the response included one, zero otherwise.
type RateLimitError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
	}
	return "rate limited"
}

func (e *RateLimitError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrRateLimited
}

// NewRateLimitError creates a new RateLimitError.
func NewRateLimitError(retryAfter time.Duration) *RateLimitError {
	return &RateLimitError{
		RetryAfter: retryAfter,
		Err:        ErrRateLimited,
	}
}

// ValidationError represents a validation error. Never retried; never
// reaches the venue.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// VenueReason classifies a venue-side order rejection.
type VenueReason string

const (
	ReasonInsufficientFunds VenueReason = "insufficient_funds"
	ReasonSymbolHalted      VenueReason = "symbol_halted"
	ReasonInvalidSymbol     VenueReason = "invalid_symbol"
	ReasonOther             VenueReason = "rejected"
)

// VenueError represents a deterministic order rejection by the venue.
// Never retried: the venue rejects the same request the same way every time.
type VenueError struct {
	Reason       VenueReason
	Symbol       string
	VenueMessage string
	Err          error
}

func (e *VenueError) Error() string {
	return fmt.Sprintf("venue rejection [%s] %s: %s", e.Reason, e.Symbol, e.VenueMessage)
}

func (e *VenueError) Unwrap() error {
	return e.Err
}

// NewVenueError creates a VenueError wrapping the sentinel for its reason.
func NewVenueError(reason VenueReason, symbol, venueMessage string) *VenueError {
	var sentinel error
	switch reason {
	case ReasonInsufficientFunds:
		sentinel = ErrInsufficientFunds
	case ReasonSymbolHalted:
		sentinel = ErrSymbolHalted
	case ReasonInvalidSymbol:
		sentinel = ErrInvalidSymbol
	default:
		sentinel = ErrOrderRejected
	}
	return &VenueError{
		Reason:       reason,
		Symbol:       symbol,
		VenueMessage: venueMessage,
		Err:          sentinel,
	}
}

// AuthReason classifies an authentication failure.
type AuthReason string

const (
	ReasonUnauthenticated  AuthReason = "unauthenticated"
	ReasonTokenExpired     AuthReason = "token_expired"
	ReasonRefreshRevoked   AuthReason = "refresh_revoked"
	ReasonStoreUnavailable AuthReason = "store_unavailable"
	ReasonInvalidGrant     AuthReason = "invalid_grant"
)

// AuthError represents a token lifecycle failure. RefreshRevoked is
// terminal: every call fails the same way until a fresh authorization.
type AuthError struct {
	Reason  AuthReason
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("auth error [%s]: %s", e.Reason, e.Message)
	}
	return fmt.Sprintf("auth error [%s]", e.Reason)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// NewAuthError creates an AuthError wrapping the sentinel for its reason.
// A non-nil cause stays reachable through Unwrap alongside the sentinel.
func NewAuthError(reason AuthReason, message string, cause error) *AuthError {
	var sentinel error
	switch reason {
	case ReasonTokenExpired:
		sentinel = ErrTokenExpired
	case ReasonRefreshRevoked, ReasonInvalidGrant:
		sentinel = ErrRefreshRevoked
	case ReasonStoreUnavailable:
		sentinel = ErrStoreUnavailable
	default:
		sentinel = ErrNotAuthenticated
	}
	wrapped := sentinel
	if cause != nil {
		wrapped = fmt.Errorf("%w: %w", sentinel, cause)
	}
	return &AuthError{
		Reason:  reason,
		Message: message,
		Err:     wrapped,
	}
}

// NotFoundError represents a missing resource (order, asset).
type NotFoundError struct {
	Resource string
	Key      string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.Key)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resource, key string) *NotFoundError {
	return &NotFoundError{
		Resource: resource,
		Key:      key,
	}
}

// RetryError annotates the last error after the retry budget is spent.
// Unwrap preserves the underlying classification.
type RetryError struct {
	Attempts int
	Err      error
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("giving up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetryError) Unwrap() error {
	return e.Err
}

// NewRetryError creates a new RetryError.
func NewRetryError(attempts int, err error) *RetryError {
	return &RetryError{
		Attempts: attempts,
		Err:      err,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
