package stream

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	apperrors "alpaca-broker/internal/errors"
	"alpaca-broker/internal/logging"
	"alpaca-broker/internal/models"
)

const (
	dialTimeout    = 15 * time.Second
	authAckTimeout = 10 * time.Second

	streamTradeUpdates  = "trade_updates"
	streamAuthorization = "authorization"
	streamListening     = "listening"
)

// TokenSource supplies valid access tokens for the stream handshake and
// lets the client flag a token the venue rejected.
type TokenSource interface {
	GetValidToken(ctx context.Context) (models.Token, error)
	Invalidate()
}

// Config holds stream client configuration.
type Config struct {
	// URL is the venue websocket endpoint
	URL string
	// MaxRetries bounds consecutive failed redials (0 = unlimited)
	MaxRetries int
	// BaseDelay is the first reconnect delay
	BaseDelay time.Duration
	// MaxDelay caps the reconnect backoff
	MaxDelay time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig(url string) Config {
	return Config{
		URL:        url,
		MaxRetries: 0,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
	}
}

// authMessage is the first client frame on a fresh connection.
type authMessage struct {
	Action string `json:"action"`
	Token  string `json:"token"`
}

// listenMessage subscribes the connection to the update stream.
type listenMessage struct {
	Action string     `json:"action"`
	Data   listenData `json:"data"`
}

type listenData struct {
	Streams []string `json:"streams"`
}

// envelope is the venue frame wrapper.
type envelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type authAck struct {
	Status string `json:"status"`
}

// Client maintains the order update connection: it dials with a fresh
// token, resubscribes after reconnects, and feeds the hub. Lost
// connections redial with exponential backoff.
type Client struct {
	config Config
	tokens TokenSource
	hub    *Hub
	logger zerolog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	started bool
	closed  bool
	done    chan struct{}
}

// NewClient creates a stream client. The connection is not opened until
// the first Updates call.
func NewClient(cfg Config, tokens TokenSource, logger zerolog.Logger) *Client {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}

	return &Client{
		config: cfg,
		tokens: tokens,
		hub:    NewHub(),
		logger: logger.With().Str("component", "stream").Logger(),
		done:   make(chan struct{}),
	}
}

// Updates returns a channel of order updates. The first call starts the
// connection loop; the subscription ends when ctx is cancelled, the
// channel closes when the client shuts down.
func (c *Client) Updates(ctx context.Context) (<-chan models.OrderUpdate, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, apperrors.Wrap(apperrors.ErrStreamClosed, "stream client closed")
	}
	if !c.started {
		c.started = true
		c.hub.Start()
		go c.run()
	}
	c.mu.Unlock()

	ch := c.hub.Subscribe()
	go func() {
		select {
		case <-ctx.Done():
			c.hub.Unsubscribe(ch)
		case <-c.done:
		}
	}()
	return ch, nil
}

// Close shuts down the connection loop and closes all subscriber channels.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	c.hub.Stop()
	return nil
}

// run is the connection loop: each session dials, authenticates, listens,
// and reads until the connection drops; failures redial with backoff.
func (c *Client) run() {
	attempt := 0
	for {
		select {
		case <-c.done:
			return
		default:
		}

		established, err := c.session()
		if c.isClosed() {
			return
		}
		if established {
			attempt = 0
		}
		if err != nil {
			c.logger.Warn().Err(err).Msg("Stream session ended")
		}

		attempt++
		if c.config.MaxRetries > 0 && attempt > c.config.MaxRetries {
			c.logger.Error().Int("attempts", attempt-1).Msg("Stream reconnect attempts exhausted")
			c.hub.Stop()
			return
		}

		delay := c.backoff(attempt)
		c.logger.Debug().Dur("delay", delay).Int("attempt", attempt).Msg("Stream reconnecting")
		select {
		case <-c.done:
			return
		case <-time.After(delay):
		}
	}
}

// session runs one connection from dial to disconnect. established
// reports whether the venue accepted the authentication, which resets
// the redial backoff.
func (c *Client) session() (established bool, err error) {
	dialCtx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	token, err := c.tokens.GetValidToken(dialCtx)
	if err != nil {
		cancel()
		return false, err
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(dialCtx, c.config.URL, nil)
	cancel()
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			// Next session dials with a refreshed token
			c.tokens.Invalidate()
		}
		return false, apperrors.Wrapf(apperrors.ErrConnectionFailed, "stream dial %s: %v", c.config.URL, err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return false, nil
	}
	c.conn = conn
	c.mu.Unlock()
	defer conn.Close()

	if err := conn.WriteJSON(authMessage{Action: "auth", Token: token.AccessValue}); err != nil {
		return false, apperrors.Wrap(err, "stream auth write failed")
	}

	conn.SetReadDeadline(time.Now().Add(authAckTimeout))
	var ack envelope
	if err := conn.ReadJSON(&ack); err != nil {
		return false, apperrors.Wrap(err, "stream auth ack read failed")
	}
	if ack.Stream == streamAuthorization {
		var status authAck
		if err := json.Unmarshal(ack.Data, &status); err != nil {
			return false, apperrors.Wrap(apperrors.ErrMalformedResponse, "stream auth ack")
		}
		if status.Status != "authorized" {
			c.tokens.Invalidate()
			return false, apperrors.NewAuthError(apperrors.ReasonTokenExpired, "venue rejected stream token", nil)
		}
	}

	if err := conn.WriteJSON(listenMessage{Action: "listen", Data: listenData{Streams: []string{streamTradeUpdates}}}); err != nil {
		return false, apperrors.Wrap(err, "stream listen write failed")
	}
	conn.SetReadDeadline(time.Time{})

	logging.LogStreamEvent(c.logger, "connected", "", "")

	for {
		var env envelope
		if err := conn.ReadJSON(&env); err != nil {
			return true, apperrors.Wrap(err, "stream read failed")
		}

		switch env.Stream {
		case streamTradeUpdates:
			var update models.OrderUpdate
			if err := json.Unmarshal(env.Data, &update); err != nil {
				c.logger.Warn().Err(err).Msg("Dropping malformed order update")
				continue
			}
			c.hub.Publish(update)
			logging.LogStreamEvent(c.logger, update.Event, update.Order.ID, update.Order.Symbol)
		case streamListening:
			// Subscription acknowledged
		}
	}
}

func (c *Client) backoff(attempt int) time.Duration {
	delay := float64(c.config.BaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(c.config.MaxDelay) {
		delay = float64(c.config.MaxDelay)
	}
	return time.Duration(delay)
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
