package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	apperrors "alpaca-broker/internal/errors"
)

func testClient(t *testing.T, handler http.Handler, timeout time.Duration) (*Client, *httptest.Server) {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	state := NewRateLimitState(200)
	client := NewClient(Config{BaseURL: ts.URL, Timeout: timeout}, state, zerolog.Nop())
	return client, ts
}

// Test 1: A 2xx response comes back with its body intact and decodable.
func TestSendSuccess(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
			t.Errorf("Authorization = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"ord_1","symbol":"AAPL"}`))
	}), 5*time.Second)

	resp, err := client.Send(context.Background(), Request{
		Method: http.MethodGet,
		Path:   "/orders/ord_1",
		Token:  "tok-1",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d", resp.StatusCode)
	}

	var out struct {
		ID     string `json:"id"`
		Symbol string `json:"symbol"`
	}
	if err := resp.Decode(&out); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out.ID != "ord_1" || out.Symbol != "AAPL" {
		t.Errorf("decoded %+v", out)
	}
}

// Test 2: Query structs are encoded with their url tags.
func TestSendEncodesQuery(t *testing.T) {
	type listQuery struct {
		PageSize  int    `url:"page_size"`
		PageToken string `url:"page_token,omitempty"`
	}

	var gotQuery string
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`[]`))
	}), 5*time.Second)

	_, err := client.Send(context.Background(), Request{
		Method: http.MethodGet,
		Path:   "/account/activities",
		Query:  listQuery{PageSize: 100, PageToken: "act-00042"},
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	for _, want := range []string{"page_size=100", "page_token=act-00042"} {
		if !strings.Contains(gotQuery, want) {
			t.Errorf("query %q missing %q", gotQuery, want)
		}
	}
}

// Test 3: A 429 maps to RateLimitError carrying the venue's Retry-After
// hint.
func TestSendRateLimited(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(HeaderRetryAfter, "7")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"message":"too many requests"}`))
	}), 5*time.Second)

	_, err := client.Send(context.Background(), Request{Method: http.MethodGet, Path: "/account"})
	if !errors.Is(err, apperrors.ErrRateLimited) {
		t.Fatalf("expected rate limit error, got %v", err)
	}

	var rateErr *apperrors.RateLimitError
	if !errors.As(err, &rateErr) {
		t.Fatal("errors.As failed to recover *RateLimitError")
	}
	if rateErr.RetryAfter != 7*time.Second {
		t.Errorf("RetryAfter = %s, want 7s", rateErr.RetryAfter)
	}
}

// Test 4: Without Retry-After the 429 hint falls back to the reset header.
func TestSendRateLimitResetFallback(t *testing.T) {
	reset := time.Now().Add(5 * time.Second)
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(HeaderRateReset, strconv.FormatInt(reset.Unix(), 10))
		w.WriteHeader(http.StatusTooManyRequests)
	}), 5*time.Second)

	_, err := client.Send(context.Background(), Request{Method: http.MethodGet, Path: "/account"})
	var rateErr *apperrors.RateLimitError
	if !errors.As(err, &rateErr) {
		t.Fatalf("expected *RateLimitError, got %v", err)
	}
	if rateErr.RetryAfter <= 0 || rateErr.RetryAfter > 5*time.Second {
		t.Errorf("RetryAfter = %s, want within (0, 5s]", rateErr.RetryAfter)
	}
}

// Test 5: Other non-2xx statuses map to APIError with the venue's message
// text preserved, JSON or not.
func TestSendAPIError(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantMessage string
	}{
		{"json message", http.StatusForbidden, `{"message":"account is restricted"}`, "account is restricted"},
		{"plain text", http.StatusBadGateway, "gateway choked", "gateway choked"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}), 5*time.Second)

			_, err := client.Send(context.Background(), Request{Method: http.MethodGet, Path: "/account"})
			var apiErr *apperrors.APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected *APIError, got %v", err)
			}
			if apiErr.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", apiErr.StatusCode, tt.status)
			}
			if apiErr.VenueMessage != tt.wantMessage {
				t.Errorf("VenueMessage = %q, want %q", apiErr.VenueMessage, tt.wantMessage)
			}
		})
	}
}

// Test 6: A per-call timeout surfaces as a network error wrapping
// ErrTimeout, which the retry policy treats as transient.
func TestSendTimeout(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}), 50*time.Millisecond)

	_, err := client.Send(context.Background(), Request{Method: http.MethodGet, Path: "/account"})
	if !errors.Is(err, apperrors.ErrTimeout) {
		t.Fatalf("expected timeout classification, got %v", err)
	}
	var netErr *apperrors.NetworkError
	if !errors.As(err, &netErr) {
		t.Errorf("expected *NetworkError, got %T", err)
	}
}

// Test 7: A dead endpoint surfaces as ErrConnectionFailed.
func TestSendConnectionFailed(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := ts.URL
	ts.Close()

	state := NewRateLimitState(200)
	client := NewClient(Config{BaseURL: url, Timeout: time.Second}, state, zerolog.Nop())

	_, err := client.Send(context.Background(), Request{Method: http.MethodGet, Path: "/account"})
	if !errors.Is(err, apperrors.ErrConnectionFailed) {
		t.Fatalf("expected connection failure, got %v", err)
	}
}

// Test 8: Caller cancellation is not dressed up as a venue problem.
func TestSendContextCanceled(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Second)
	}), 5*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := client.Send(ctx, Request{Method: http.MethodGet, Path: "/account"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	var netErr *apperrors.NetworkError
	if errors.As(err, &netErr) {
		t.Error("cancellation misclassified as NetworkError")
	}
}

// Test 9: Response headers feed the shared rate state, success or failure.
func TestSendAppliesRateHeaders(t *testing.T) {
	reset := time.Now().Add(time.Minute).Truncate(time.Second)
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(HeaderRateRemaining, "37")
		w.Header().Set(HeaderRateLimit, "200")
		w.Header().Set(HeaderRateReset, strconv.FormatInt(reset.Unix(), 10))
		w.Write([]byte(`{}`))
	}), 5*time.Second)

	if _, err := client.Send(context.Background(), Request{Method: http.MethodGet, Path: "/account"}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	remaining, limit, resetAt := client.RateState().Snapshot()
	if remaining != 37 || limit != 200 {
		t.Errorf("snapshot = %d/%d, want 37/200", remaining, limit)
	}
	if !resetAt.Equal(reset) {
		t.Errorf("resetAt = %s, want %s", resetAt, reset)
	}
}

// Test 10: Malformed success bodies fail decoding with the sentinel.
func TestDecodeMalformed(t *testing.T) {
	resp := &Response{StatusCode: 200, Body: []byte(`{"id": truncated`)}
	var out map[string]interface{}
	if err := resp.Decode(&out); !errors.Is(err, apperrors.ErrMalformedResponse) {
		t.Errorf("expected ErrMalformedResponse, got %v", err)
	}
}

// Test 11: venueMessage prefers the structured message and truncates
// oversized raw bodies.
func TestVenueMessage(t *testing.T) {
	if got := venueMessage([]byte(`{"message":"symbol is halted"}`)); got != "symbol is halted" {
		t.Errorf("json body: got %q", got)
	}
	if got := venueMessage([]byte("  plain failure  ")); got != "plain failure" {
		t.Errorf("plain body: got %q", got)
	}
	long := strings.Repeat("x", 500)
	if got := venueMessage([]byte(long)); len(got) != 200 {
		t.Errorf("long body: len = %d, want 200", len(got))
	}
}
