package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	apperrors "alpaca-broker/internal/errors"
	"alpaca-broker/internal/models"
	"alpaca-broker/internal/venuetest"
)

// stubTokens hands out tokens from a queue; Invalidate advances to the
// next one, the way a real refresh would.
type stubTokens struct {
	mu          sync.Mutex
	queue       []string
	calls       int
	invalidated int
}

func (s *stubTokens) GetValidToken(ctx context.Context) (models.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return models.Token{AccessValue: s.queue[0], ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (s *stubTokens) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidated++
	if len(s.queue) > 1 {
		s.queue = s.queue[1:]
	}
}

func (s *stubTokens) invalidations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.invalidated
}

// mintToken obtains a live access token from the fake venue.
func mintToken(t *testing.T, venue *venuetest.Server) string {
	t.Helper()
	creds := venue.Credentials()
	body, _ := json.Marshal(map[string]string{
		"grant_type":    "authorization_code",
		"code":          creds.AuthCode,
		"client_id":     creds.ClientID,
		"client_secret": creds.ClientSecret,
	})
	resp, err := http.Post(venue.URL()+"/oauth/token", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("token grant: %v", err)
	}
	defer resp.Body.Close()
	var out struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decoding token grant: %v", err)
	}
	if out.AccessToken == "" {
		t.Fatalf("token grant returned status %d without a token", resp.StatusCode)
	}
	return out.AccessToken
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func quickConfig(url string) Config {
	return Config{URL: url, BaseDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond}
}

// Test 1: Updates connects, authenticates, and delivers what the venue
// pushes.
func TestClientDeliversUpdates(t *testing.T) {
	venue := venuetest.New(t)
	tokens := &stubTokens{queue: []string{mintToken(t, venue)}}

	client := NewClient(quickConfig(venue.StreamURL()), tokens, zerolog.Nop())
	defer client.Close()

	ch, err := client.Updates(context.Background())
	if err != nil {
		t.Fatalf("Updates: %v", err)
	}
	waitFor(t, 5*time.Second, func() bool { return venue.StreamConnCount() == 1 }, "client never connected")

	venue.PushUpdate(models.OrderUpdate{
		Event:     "fill",
		Timestamp: time.Now().UTC(),
		Price:     decimal.RequireFromString("150.25"),
		Qty:       decimal.NewFromInt(10),
		Order:     models.Order{ID: "ord-1", Symbol: "AAPL", Side: models.OrderSideBuy, Status: models.OrderFilled},
	})

	select {
	case update := <-ch:
		if update.Event != "fill" || update.Order.ID != "ord-1" {
			t.Errorf("got update %+v", update)
		}
		if !update.Price.Equal(decimal.RequireFromString("150.25")) {
			t.Errorf("price drifted: %s", update.Price)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no update delivered")
	}
}

// Test 2: A token the venue rejects is invalidated, and the redial with
// the replacement succeeds.
func TestClientRecoversFromRejectedToken(t *testing.T) {
	venue := venuetest.New(t)
	tokens := &stubTokens{queue: []string{"stale-token", mintToken(t, venue)}}

	client := NewClient(quickConfig(venue.StreamURL()), tokens, zerolog.Nop())
	defer client.Close()

	ch, err := client.Updates(context.Background())
	if err != nil {
		t.Fatalf("Updates: %v", err)
	}

	waitFor(t, 5*time.Second, func() bool { return venue.StreamConnCount() == 1 }, "client never authenticated")
	if tokens.invalidations() == 0 {
		t.Error("rejected token was not invalidated")
	}

	venue.PushUpdate(models.OrderUpdate{Event: "new", Order: models.Order{ID: "ord-2", Symbol: "TSLA"}})
	select {
	case update := <-ch:
		if update.Order.ID != "ord-2" {
			t.Errorf("got update %+v", update)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no update after recovery")
	}
}

// Test 3: A dropped connection redials and keeps delivering. Updates
// pushed while disconnected are gone; no replay is attempted.
func TestClientReconnectsAfterDrop(t *testing.T) {
	venue := venuetest.New(t)
	tokens := &stubTokens{queue: []string{mintToken(t, venue)}}

	client := NewClient(quickConfig(venue.StreamURL()), tokens, zerolog.Nop())
	defer client.Close()

	ch, err := client.Updates(context.Background())
	if err != nil {
		t.Fatalf("Updates: %v", err)
	}
	waitFor(t, 5*time.Second, func() bool { return venue.StreamConnCount() == 1 }, "client never connected")

	venue.DropStreamConns()
	waitFor(t, 5*time.Second, func() bool { return venue.StreamConnCount() == 1 }, "client never reconnected")

	venue.PushUpdate(models.OrderUpdate{Event: "partial_fill", Order: models.Order{ID: "ord-3", Symbol: "MSFT"}})
	select {
	case update := <-ch:
		if update.Order.ID != "ord-3" {
			t.Errorf("got update %+v", update)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no update after reconnect")
	}
}

// Test 4: Cancelling one subscriber's context ends only that
// subscription.
func TestClientSubscriberCancel(t *testing.T) {
	venue := venuetest.New(t)
	tokens := &stubTokens{queue: []string{mintToken(t, venue)}}

	client := NewClient(quickConfig(venue.StreamURL()), tokens, zerolog.Nop())
	defer client.Close()

	ctxA, cancelA := context.WithCancel(context.Background())
	chA, err := client.Updates(ctxA)
	if err != nil {
		t.Fatalf("Updates A: %v", err)
	}
	chB, err := client.Updates(context.Background())
	if err != nil {
		t.Fatalf("Updates B: %v", err)
	}
	waitFor(t, 5*time.Second, func() bool { return venue.StreamConnCount() == 1 }, "client never connected")

	cancelA()
	select {
	case _, open := <-chA:
		if open {
			t.Error("subscriber A received an update after cancel")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("subscriber A channel not closed after cancel")
	}

	venue.PushUpdate(models.OrderUpdate{Event: "fill", Order: models.Order{ID: "ord-4"}})
	select {
	case update := <-chB:
		if update.Order.ID != "ord-4" {
			t.Errorf("got update %+v", update)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("surviving subscriber got nothing")
	}
}

// Test 5: Close shuts every subscription down and is idempotent; a
// closed client refuses new subscriptions.
func TestClientClose(t *testing.T) {
	venue := venuetest.New(t)
	tokens := &stubTokens{queue: []string{mintToken(t, venue)}}

	client := NewClient(quickConfig(venue.StreamURL()), tokens, zerolog.Nop())
	ch, err := client.Updates(context.Background())
	if err != nil {
		t.Fatalf("Updates: %v", err)
	}
	waitFor(t, 5*time.Second, func() bool { return venue.StreamConnCount() == 1 }, "client never connected")

	if err := client.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	select {
	case _, open := <-ch:
		if open {
			t.Error("update delivered after Close")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("subscriber channel not closed")
	}

	if _, err := client.Updates(context.Background()); !errors.Is(err, apperrors.ErrStreamClosed) {
		t.Errorf("Updates after Close = %v, want ErrStreamClosed", err)
	}
}

// Test 6: When redial attempts are bounded, exhaustion closes the
// subscription instead of spinning forever.
func TestClientRetriesExhausted(t *testing.T) {
	tokens := &stubTokens{queue: []string{"unused"}}
	cfg := Config{
		URL:        "ws://127.0.0.1:1/v2/stream",
		MaxRetries: 2,
		BaseDelay:  5 * time.Millisecond,
		MaxDelay:   10 * time.Millisecond,
	}

	client := NewClient(cfg, tokens, zerolog.Nop())
	defer client.Close()

	ch, err := client.Updates(context.Background())
	if err != nil {
		t.Fatalf("Updates: %v", err)
	}

	select {
	case _, open := <-ch:
		if open {
			t.Error("received an update from a dead endpoint")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("subscription never closed after exhausting retries")
	}
}
