// Package transport provides the low-level HTTP executor for venue calls.
// It classifies failures, applies the per-call timeout, and feeds rate-limit
// headers into the shared state on every response. Retries are not its
// concern; the resilience package owns those.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/go-querystring/query"
	"github.com/rs/zerolog"

	apperrors "alpaca-broker/internal/errors"
	"alpaca-broker/internal/logging"
)

// Rate-limit header names used by the venue.
const (
	HeaderRateRemaining = "X-Ratelimit-Remaining"
	HeaderRateLimit     = "X-Ratelimit-Limit"
	HeaderRateReset     = "X-Ratelimit-Reset"
	HeaderRetryAfter    = "Retry-After"
)

// Request describes one venue call.
type Request struct {
	Method string
	Path   string
	Query  interface{} // struct with url tags, encoded via go-querystring
	Body   interface{} // JSON-encoded when non-nil
	Token  string      // bearer token; empty for token-endpoint calls
}

// Response is a completed venue call with its raw body preserved.
type Response struct {
	StatusCode int
	Body       []byte
	Header     http.Header
}

// Decode unmarshals the response body into out.
func (r *Response) Decode(out interface{}) error {
	if err := json.Unmarshal(r.Body, out); err != nil {
		return apperrors.Wrapf(apperrors.ErrMalformedResponse, "decoding response body: %v", err)
	}
	return nil
}

// Config holds transport settings.
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// Client executes venue calls. One Client is shared by all components of a
// session; it is safe for concurrent use.
type Client struct {
	http   *resty.Client
	state  *RateLimitState
	logger zerolog.Logger
}

// NewClient creates a transport client. Resty's built-in retries stay
// disabled: the retry policy decides what is worth retrying.
func NewClient(cfg Config, state *RateLimitState, logger zerolog.Logger) *Client {
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "alpaca-broker/1.0"
	}

	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", userAgent)

	return &Client{
		http:   httpClient,
		state:  state,
		logger: logger.With().Str("component", "transport").Logger(),
	}
}

// BaseURL returns the configured venue base URL.
func (c *Client) BaseURL() string {
	return c.http.BaseURL
}

// RateState returns the shared rate limit state fed by response headers.
func (c *Client) RateState() *RateLimitState {
	return c.state
}

// Send executes one call. Non-2xx statuses come back as typed errors with
// the venue's message text preserved; timeouts and connection failures come
// back as NetworkError. Rate-limit headers are applied to the shared state
// regardless of outcome.
func (c *Client) Send(ctx context.Context, req Request) (*Response, error) {
	seq := c.state.StampDispatch()

	r := c.http.R().SetContext(ctx)

	if req.Token != "" {
		r.SetAuthToken(req.Token)
	}
	if req.Query != nil {
		values, err := query.Values(req.Query)
		if err != nil {
			return nil, apperrors.Wrap(err, "encoding query parameters")
		}
		r.SetQueryParamsFromValues(values)
	}
	if req.Body != nil {
		r.SetHeader("Content-Type", "application/json")
		r.SetBody(req.Body)
	}

	start := time.Now()
	resp, err := c.execute(r, req.Method, req.Path)
	duration := time.Since(start)
	logging.LogAPICall(c.logger, req.Method, req.Path, duration, err)

	if err != nil {
		return nil, c.classifyTransportError(req, err)
	}

	c.applyRateHeaders(seq, resp)

	if resp.IsSuccess() {
		return &Response{
			StatusCode: resp.StatusCode(),
			Body:       resp.Body(),
			Header:     resp.Header(),
		}, nil
	}

	return nil, c.classifyStatus(resp)
}

func (c *Client) execute(r *resty.Request, method, path string) (*resty.Response, error) {
	switch method {
	case http.MethodGet:
		return r.Get(path)
	case http.MethodPost:
		return r.Post(path)
	case http.MethodDelete:
		return r.Delete(path)
	case http.MethodPatch:
		return r.Patch(path)
	case http.MethodPut:
		return r.Put(path)
	default:
		return nil, fmt.Errorf("unsupported method: %s", method)
	}
}

// classifyTransportError maps pre-status failures onto the taxonomy.
func (c *Client) classifyTransportError(req Request, err error) error {
	op := req.Method + " " + req.Path

	if apperrors.Is(err, context.DeadlineExceeded) {
		return apperrors.NewNetworkError(op, c.http.BaseURL, apperrors.ErrTimeout)
	}
	if apperrors.Is(err, context.Canceled) {
		return err
	}

	var netErr net.Error
	if apperrors.As(err, &netErr) && netErr.Timeout() {
		return apperrors.NewNetworkError(op, c.http.BaseURL, apperrors.ErrTimeout)
	}

	return apperrors.NewNetworkError(op, c.http.BaseURL, apperrors.Wrapf(apperrors.ErrConnectionFailed, "%v", err))
}

// classifyStatus maps a non-2xx response onto the taxonomy. Domain-level
// disambiguation (halted symbol, insufficient funds) happens in the broker
// package where the request context is known.
func (c *Client) classifyStatus(resp *resty.Response) error {
	status := resp.StatusCode()
	message := venueMessage(resp.Body())

	if status == http.StatusTooManyRequests {
		return apperrors.NewRateLimitError(retryAfterHint(resp))
	}

	return apperrors.NewAPIError(status, message, nil)
}

// applyRateHeaders publishes the response's rate-limit headers, ordered by
// the dispatch sequence so a slow response cannot clobber a newer update.
func (c *Client) applyRateHeaders(seq uint64, resp *resty.Response) {
	remaining, okRemaining := headerInt(resp, HeaderRateRemaining)
	limit, okLimit := headerInt(resp, HeaderRateLimit)
	if !okRemaining && !okLimit {
		return
	}

	resetAt := time.Time{}
	if epoch, ok := headerInt(resp, HeaderRateReset); ok {
		resetAt = time.Unix(int64(epoch), 0)
	}

	c.state.Update(seq, remaining, limit, resetAt)
}

// retryAfterHint extracts the venue's 429 backoff hint. Falls back to the
// reset header the venue always sends when Retry-After is absent.
func retryAfterHint(resp *resty.Response) time.Duration {
	if v := resp.Header().Get(HeaderRetryAfter); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second
		}
	}
	if epoch, ok := headerInt(resp, HeaderRateReset); ok {
		until := time.Until(time.Unix(int64(epoch), 0))
		if until > 0 {
			return until
		}
	}
	return 0
}

func headerInt(resp *resty.Response, name string) (int, bool) {
	v := resp.Header().Get(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// venueMessage extracts the error message the venue put in the body.
func venueMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Message != "" {
		return payload.Message
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
