// Package venuetest provides an in-process fake venue for tests: the OAuth
// token endpoint, the trading REST surface, and the order update stream,
// with hooks for injecting failures.
package venuetest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pquerna/otp/totp"
	"github.com/shopspring/decimal"

	"alpaca-broker/internal/models"
)

// injection is one queued fault. A zero status with a delay slows the
// request down without failing it.
type injection struct {
	match      string
	status     int
	message    string
	retryAfter time.Duration
	delay      time.Duration
	remaining  int
}

// Server is a fake venue backed by httptest.
type Server struct {
	ts *httptest.Server

	mu sync.Mutex

	clientID     string
	clientSecret string
	authCode     string
	totpSecret   string

	tokenSeq   int
	tokenTTL   time.Duration
	accessLive map[string]time.Time
	refreshes  map[string]bool
	revoked    bool

	orders       map[string]models.Order
	byClientID   map[string]string
	fillOnCancel map[string]bool

	activities []models.Transaction
	assets     map[string]models.AssetInfo
	halted     map[string]bool
	noFunds    bool

	balance   models.Balance
	positions []models.Position

	rateLimit     int
	rateRemaining int
	rateReset     time.Time

	faults []injection
	calls  []string

	tokenGrants   int
	refreshGrants int
	orderPosts    int

	upgrader    websocket.Upgrader
	streamConns []*websocket.Conn
}

// New starts a fake venue and registers its shutdown with the test.
func New(t interface{ Cleanup(func()) }) *Server {
	s := &Server{
		clientID:      "test-client",
		clientSecret:  "test-secret",
		authCode:      "test-code",
		tokenTTL:      time.Hour,
		accessLive:    make(map[string]time.Time),
		refreshes:     make(map[string]bool),
		orders:        make(map[string]models.Order),
		byClientID:    make(map[string]string),
		fillOnCancel:  make(map[string]bool),
		assets:        make(map[string]models.AssetInfo),
		halted:        make(map[string]bool),
		rateLimit:     200,
		rateRemaining: 200,
		rateReset:     time.Now().Add(time.Minute),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	s.seedFixtures()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v2/oauth/token", s.handleToken)
	mux.HandleFunc("GET /v2/account", s.handleAccount)
	mux.HandleFunc("GET /v2/positions", s.handlePositions)
	mux.HandleFunc("GET /v2/account/activities", s.handleActivities)
	mux.HandleFunc("GET /v2/assets/{symbol}", s.handleAsset)
	mux.HandleFunc("POST /v2/orders", s.handleCreateOrder)
	mux.HandleFunc("GET /v2/orders/{id}", s.handleGetOrder)
	mux.HandleFunc("DELETE /v2/orders/{id}", s.handleCancelOrder)
	mux.HandleFunc("GET /v2/stream", s.handleStream)

	s.ts = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if done := s.intercept(w, r); done {
			return
		}
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(s.Close)
	return s
}

// URL returns the REST base URL including the version prefix.
func (s *Server) URL() string {
	return s.ts.URL + "/v2"
}

// StreamURL returns the websocket endpoint URL.
func (s *Server) StreamURL() string {
	return "ws" + strings.TrimPrefix(s.ts.URL, "http") + "/v2/stream"
}

// Close shuts the server down.
func (s *Server) Close() {
	s.mu.Lock()
	conns := s.streamConns
	s.streamConns = nil
	s.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
	s.ts.Close()
}

// Credentials returns a credential set the fake venue accepts.
func (s *Server) Credentials() models.Credentials {
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.Credentials{
		ClientID:     s.clientID,
		ClientSecret: s.clientSecret,
		AuthCode:     s.authCode,
		TOTPSecret:   s.totpSecret,
	}
}

func (s *Server) seedFixtures() {
	s.balance = models.Balance{
		ID:             uuid.NewString(),
		AccountNumber:  "PA24FNHG6HImu",
		Status:         models.AccountActive,
		Currency:       "USD",
		Cash:           decimal.NewFromInt(100000),
		BuyingPower:    decimal.NewFromInt(400000),
		PortfolioValue: decimal.RequireFromString("115662.3"),
		Equity:         decimal.RequireFromString("115662.3"),
	}
	s.positions = []models.Position{
		{
			Symbol:        "AAPL",
			Qty:           decimal.NewFromInt(10),
			AvgEntryPrice: decimal.NewFromInt(100),
			MarketValue:   decimal.NewFromInt(1050),
			CostBasis:     decimal.NewFromInt(1000),
			UnrealizedPL:  decimal.NewFromInt(50),
			CurrentPrice:  decimal.NewFromInt(105),
			Exchange:      "NASDAQ",
			AssetClass:    "us_equity",
			Side:          "long",
		},
		{
			Symbol:        "TSLA",
			Qty:           decimal.NewFromInt(5),
			AvgEntryPrice: decimal.NewFromInt(200),
			MarketValue:   decimal.NewFromInt(1100),
			CostBasis:     decimal.NewFromInt(1000),
			UnrealizedPL:  decimal.NewFromInt(100),
			CurrentPrice:  decimal.NewFromInt(220),
			Exchange:      "NASDAQ",
			AssetClass:    "us_equity",
			Side:          "long",
		},
	}
	for _, sym := range []string{"AAPL", "TSLA", "MSFT"} {
		s.assets[sym] = models.AssetInfo{
			ID:           uuid.NewString(),
			Symbol:       sym,
			Name:         sym + " Common Stock",
			Exchange:     "NASDAQ",
			Class:        "us_equity",
			Status:       "active",
			Tradable:     true,
			Marginable:   true,
			Shortable:    true,
			EasyToBorrow: true,
			Fractionable: true,
		}
	}
}

// ============================================================================
// Test Hooks
// ============================================================================

// SetTokenTTL controls the expires_in of issued tokens.
func (s *Server) SetTokenTTL(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokenTTL = d
}

// SetTOTPSecret makes the token endpoint demand a valid MFA code.
func (s *Server) SetTOTPSecret(secret string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totpSecret = secret
}

// ExpireTokens invalidates all issued access tokens on the venue side
// while clients may still consider them valid locally.
func (s *Server) ExpireTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for tok := range s.accessLive {
		delete(s.accessLive, tok)
	}
}

// RevokeRefresh makes every refresh attempt fail with invalid_grant.
func (s *Server) RevokeRefresh() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoked = true
}

// FailNext makes the next times requests whose path contains match fail
// with the given status and message body.
func (s *Server) FailNext(match string, status int, message string, times int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = append(s.faults, injection{match: match, status: status, message: message, remaining: times})
}

// ThrottleNext makes the next times requests fail with 429 and the given
// Retry-After hint.
func (s *Server) ThrottleNext(times int, retryAfter time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = append(s.faults, injection{status: http.StatusTooManyRequests, retryAfter: retryAfter, remaining: times})
}

// DelayNext slows down the next request whose path contains match, then
// handles it normally.
func (s *Server) DelayNext(match string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = append(s.faults, injection{match: match, delay: d, remaining: 1})
}

// SetRate fixes the rate-limit headers sent on subsequent responses.
func (s *Server) SetRate(remaining, limit int, reset time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rateRemaining = remaining
	s.rateLimit = limit
	s.rateReset = reset
}

// HaltSymbol makes order submissions for the symbol fail as halted.
func (s *Server) HaltSymbol(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.halted[symbol] = true
}

// SetInsufficientFunds makes all order submissions fail on buying power.
func (s *Server) SetInsufficientFunds(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.noFunds = v
}

// FillOnCancel makes a cancel of the order succeed at the transport level
// while the order actually fills, as a racing execution would.
func (s *Server) FillOnCancel(orderID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fillOnCancel[orderID] = true
}

// SetOrderStatus overrides the venue-side status of an order.
func (s *Server) SetOrderStatus(orderID string, status models.OrderStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.orders[orderID]; ok {
		o.Status = status
		o.UpdatedAt = time.Now().UTC()
		if status == models.OrderFilled {
			o.FilledQty = o.Qty
			o.FilledAvgPrice = decimal.NewFromInt(100)
		}
		s.orders[orderID] = o
	}
}

// SeedActivities populates the activity journal with n sequential fills.
func (s *Server) SeedActivities(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	base := time.Date(2024, 3, 25, 10, 30, 0, 0, time.UTC)
	s.activities = nil
	for i := 0; i < n; i++ {
		sym := "AAPL"
		if i%2 == 1 {
			sym = "TSLA"
		}
		s.activities = append(s.activities, models.Transaction{
			ID:              fmt.Sprintf("act-%05d", i+1),
			ActivityType:    "FILL",
			TransactionTime: base.Add(time.Duration(i) * time.Minute),
			Symbol:          sym,
			Qty:             decimal.NewFromInt(1),
			Price:           decimal.NewFromInt(100 + int64(i)),
			Side:            "buy",
			NetAmount:       decimal.NewFromInt(-(100 + int64(i))),
		})
	}
}

// Order returns the venue-side view of an order.
func (s *Server) Order(orderID string) (models.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	return o, ok
}

// TokenGrants counts authorization_code grants served.
func (s *Server) TokenGrants() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokenGrants
}

// RefreshGrants counts refresh_token grants served.
func (s *Server) RefreshGrants() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshGrants
}

// OrderSubmissions counts orders actually created at the venue.
func (s *Server) OrderSubmissions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orderPosts
}

// Calls counts handled requests whose path contains match.
func (s *Server) Calls(match string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, p := range s.calls {
		if strings.Contains(p, match) {
			n++
		}
	}
	return n
}

// PushUpdate broadcasts an order update to all connected stream clients.
func (s *Server) PushUpdate(update models.OrderUpdate) {
	frame := streamFrame{Stream: "trade_updates", Data: update}
	s.mu.Lock()
	conns := make([]*websocket.Conn, len(s.streamConns))
	copy(conns, s.streamConns)
	s.mu.Unlock()
	for _, c := range conns {
		c.WriteJSON(frame)
	}
}

// StreamConnCount reports the number of live stream connections.
func (s *Server) StreamConnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.streamConns)
}

// DropStreamConns severs every live stream connection, as a venue-side
// disconnect would.
func (s *Server) DropStreamConns() {
	s.mu.Lock()
	conns := s.streamConns
	s.streamConns = nil
	s.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
}

// ============================================================================
// HTTP Plumbing
// ============================================================================

// intercept applies queued faults. Returns true when the request was
// fully answered by a fault.
func (s *Server) intercept(w http.ResponseWriter, r *http.Request) bool {
	s.mu.Lock()
	s.calls = append(s.calls, r.Method+" "+r.URL.Path)

	var hit *injection
	for i := range s.faults {
		f := &s.faults[i]
		if f.remaining > 0 && (f.match == "" || strings.Contains(r.URL.Path, f.match)) {
			f.remaining--
			hit = f
			break
		}
	}
	if hit == nil {
		s.mu.Unlock()
		return false
	}
	fault := *hit
	s.mu.Unlock()

	if fault.delay > 0 {
		time.Sleep(fault.delay)
	}
	if fault.status == 0 {
		return false
	}
	if fault.status == http.StatusTooManyRequests {
		s.setRateHeaders(w.Header(), 0)
		if fault.retryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(fault.retryAfter/time.Second)))
		}
		s.writeJSON(w, fault.status, map[string]string{"message": "too many requests"})
		return true
	}
	msg := fault.message
	if msg == "" {
		msg = http.StatusText(fault.status)
	}
	s.writeError(w, fault.status, msg)
	return true
}

func (s *Server) setRateHeaders(h http.Header, remaining int) {
	s.mu.Lock()
	limit := s.rateLimit
	reset := s.rateReset
	s.mu.Unlock()
	h.Set("X-Ratelimit-Limit", strconv.Itoa(limit))
	h.Set("X-Ratelimit-Remaining", strconv.Itoa(remaining))
	h.Set("X-Ratelimit-Reset", strconv.FormatInt(reset.Unix(), 10))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.mu.Lock()
	remaining := s.rateRemaining
	s.mu.Unlock()
	s.setRateHeaders(w.Header(), remaining)
	s.writeJSON(w, status, map[string]string{"message": message})
}

// writeOK sends a success body with the current rate headers, consuming
// one unit of the rate budget.
func (s *Server) writeOK(w http.ResponseWriter, v interface{}) {
	s.mu.Lock()
	if s.rateRemaining > 0 {
		s.rateRemaining--
	}
	remaining := s.rateRemaining
	s.mu.Unlock()
	s.setRateHeaders(w.Header(), remaining)
	if v == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.writeJSON(w, http.StatusOK, v)
}

// authorize validates the bearer token, answering 401 when it is missing,
// unknown, or expired on the venue side.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request) bool {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	s.mu.Lock()
	exp, ok := s.accessLive[token]
	s.mu.Unlock()
	if token == "" || !ok || time.Now().After(exp) {
		s.writeError(w, http.StatusUnauthorized, "unauthorized")
		return false
	}
	return true
}

// ============================================================================
// OAuth Handlers
// ============================================================================

type tokenGrantRequest struct {
	GrantType    string `json:"grant_type"`
	Code         string `json:"code"`
	RefreshToken string `json:"refresh_token"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	MFACode      string `json:"mfa_code"`
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	var req tokenGrantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed token request")
		return
	}

	switch req.GrantType {
	case "authorization_code":
		s.mu.Lock()
		valid := req.ClientID == s.clientID && req.ClientSecret == s.clientSecret && req.Code == s.authCode
		secret := s.totpSecret
		s.mu.Unlock()
		if !valid {
			s.writeError(w, http.StatusUnauthorized, "invalid client credentials")
			return
		}
		if secret != "" && !totp.Validate(req.MFACode, secret) {
			s.writeError(w, http.StatusUnauthorized, "invalid mfa code")
			return
		}
		s.issueTokens(w, true)

	case "refresh_token":
		s.mu.Lock()
		revoked := s.revoked
		known := s.refreshes[req.RefreshToken]
		s.mu.Unlock()
		if revoked || !known {
			s.writeError(w, http.StatusBadRequest, "invalid_grant: refresh token is no longer valid")
			return
		}
		s.mu.Lock()
		delete(s.refreshes, req.RefreshToken)
		s.mu.Unlock()
		s.issueTokens(w, false)

	default:
		s.writeError(w, http.StatusBadRequest, "unsupported grant type")
	}
}

func (s *Server) issueTokens(w http.ResponseWriter, initial bool) {
	s.mu.Lock()
	s.tokenSeq++
	access := fmt.Sprintf("tok-%d", s.tokenSeq)
	refresh := fmt.Sprintf("ref-%d", s.tokenSeq)
	s.accessLive[access] = time.Now().Add(s.tokenTTL)
	s.refreshes[refresh] = true
	if initial {
		s.tokenGrants++
	} else {
		s.refreshGrants++
	}
	ttl := s.tokenTTL
	s.mu.Unlock()

	s.writeOK(w, map[string]interface{}{
		"access_token":  access,
		"refresh_token": refresh,
		"token_type":    "bearer",
		"expires_in":    int(ttl / time.Second),
		"scope":         "trading",
	})
}

// ============================================================================
// Account Handlers
// ============================================================================

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(w, r) {
		return
	}
	s.mu.Lock()
	balance := s.balance
	s.mu.Unlock()
	s.writeOK(w, balance)
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(w, r) {
		return
	}
	s.mu.Lock()
	positions := make([]models.Position, len(s.positions))
	copy(positions, s.positions)
	s.mu.Unlock()
	s.writeOK(w, positions)
}

func (s *Server) handleActivities(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(w, r) {
		return
	}

	pageSize := 100
	if v := r.URL.Query().Get("page_size"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			pageSize = n
		}
	}
	pageToken := r.URL.Query().Get("page_token")

	s.mu.Lock()
	start := 0
	if pageToken != "" {
		for i, a := range s.activities {
			if a.ID == pageToken {
				start = i + 1
				break
			}
		}
	}
	end := start + pageSize
	if end > len(s.activities) {
		end = len(s.activities)
	}
	page := make([]models.Transaction, end-start)
	copy(page, s.activities[start:end])
	s.mu.Unlock()

	out := make([]activityJSON, len(page))
	for i, a := range page {
		out[i] = toActivityJSON(a)
	}
	s.writeOK(w, out)
}

func (s *Server) handleAsset(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(w, r) {
		return
	}
	symbol := r.PathValue("symbol")
	s.mu.Lock()
	asset, ok := s.assets[symbol]
	s.mu.Unlock()
	if !ok {
		s.writeError(w, http.StatusNotFound, "asset not found")
		return
	}
	s.writeOK(w, asset)
}

// ============================================================================
// Order Handlers
// ============================================================================

type createOrderRequest struct {
	Symbol        string `json:"symbol"`
	Qty           string `json:"qty"`
	Notional      string `json:"notional"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	TimeInForce   string `json:"time_in_force"`
	LimitPrice    string `json:"limit_price"`
	ClientOrderID string `json:"client_order_id"`
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(w, r) {
		return
	}
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed order body")
		return
	}

	s.mu.Lock()
	if s.noFunds {
		s.mu.Unlock()
		s.writeError(w, http.StatusForbidden, "insufficient buying power")
		return
	}
	if s.halted[req.Symbol] {
		s.mu.Unlock()
		s.writeError(w, http.StatusForbidden, "trading in "+req.Symbol+" is currently halted")
		return
	}
	_, known := s.assets[req.Symbol]
	if !known {
		s.mu.Unlock()
		s.writeError(w, http.StatusUnprocessableEntity, "asset not found for "+req.Symbol)
		return
	}

	now := time.Now().UTC()
	order := models.Order{
		ID:            uuid.NewString(),
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          models.OrderSide(req.Side),
		Type:          models.OrderType(req.Type),
		Status:        models.OrderNew,
		TimeInForce:   models.TimeInForce(req.TimeInForce),
		SubmittedAt:   now,
		UpdatedAt:     now,
	}
	if req.Qty != "" {
		order.Qty, _ = decimal.NewFromString(req.Qty)
	}
	if req.Notional != "" {
		order.Notional, _ = decimal.NewFromString(req.Notional)
	}
	if req.LimitPrice != "" {
		order.LimitPrice, _ = decimal.NewFromString(req.LimitPrice)
	}
	s.orders[order.ID] = order
	s.byClientID[order.ClientOrderID] = order.ID
	s.orderPosts++
	s.mu.Unlock()

	s.writeOK(w, toOrderJSON(order))
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(w, r) {
		return
	}
	s.mu.Lock()
	order, ok := s.orders[r.PathValue("id")]
	s.mu.Unlock()
	if !ok {
		s.writeError(w, http.StatusNotFound, "order not found")
		return
	}
	s.writeOK(w, toOrderJSON(order))
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(w, r) {
		return
	}
	id := r.PathValue("id")
	s.mu.Lock()
	order, ok := s.orders[id]
	if !ok {
		s.mu.Unlock()
		s.writeError(w, http.StatusNotFound, "order not found")
		return
	}
	if order.Status.IsTerminal() {
		s.mu.Unlock()
		s.writeError(w, http.StatusUnprocessableEntity, "order is not cancelable")
		return
	}
	if s.fillOnCancel[id] {
		order.Status = models.OrderFilled
		order.FilledQty = order.Qty
		order.FilledAvgPrice = decimal.NewFromInt(100)
	} else {
		order.Status = models.OrderCanceled
	}
	order.UpdatedAt = time.Now().UTC()
	s.orders[id] = order
	s.mu.Unlock()

	s.writeOK(w, nil)
}

// ============================================================================
// Stream Handler
// ============================================================================

type streamFrame struct {
	Stream string      `json:"stream"`
	Data   interface{} `json:"data"`
}

type streamCommand struct {
	Action string          `json:"action"`
	Token  string          `json:"token"`
	Data   json.RawMessage `json:"data"`
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	var authCmd streamCommand
	if err := conn.ReadJSON(&authCmd); err != nil || authCmd.Action != "auth" {
		conn.Close()
		return
	}

	s.mu.Lock()
	exp, ok := s.accessLive[authCmd.Token]
	s.mu.Unlock()
	if !ok || time.Now().After(exp) {
		conn.WriteJSON(streamFrame{Stream: "authorization", Data: map[string]string{"status": "unauthorized"}})
		conn.Close()
		return
	}
	conn.WriteJSON(streamFrame{Stream: "authorization", Data: map[string]string{"status": "authorized"}})

	var listenCmd streamCommand
	if err := conn.ReadJSON(&listenCmd); err != nil || listenCmd.Action != "listen" {
		conn.Close()
		return
	}
	conn.WriteJSON(streamFrame{Stream: "listening", Data: map[string][]string{"streams": {"trade_updates"}}})

	s.mu.Lock()
	s.streamConns = append(s.streamConns, conn)
	s.mu.Unlock()

	// Drain until the client disconnects
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	s.mu.Lock()
	for i, c := range s.streamConns {
		if c == conn {
			s.streamConns = append(s.streamConns[:i], s.streamConns[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
	conn.Close()
}

// ============================================================================
// Wire Encoding
// ============================================================================

// orderJSON mirrors the venue's order payload: decimals travel as strings
// and absent values as nulls.
type orderJSON struct {
	ID             string              `json:"id"`
	ClientOrderID  string              `json:"client_order_id"`
	Symbol         string              `json:"symbol"`
	Side           string              `json:"side"`
	Type           string              `json:"type"`
	Status         string              `json:"status"`
	Qty            decimal.NullDecimal `json:"qty"`
	Notional       decimal.NullDecimal `json:"notional"`
	FilledQty      decimal.NullDecimal `json:"filled_qty"`
	FilledAvgPrice decimal.NullDecimal `json:"filled_avg_price"`
	LimitPrice     decimal.NullDecimal `json:"limit_price"`
	TimeInForce    string              `json:"time_in_force"`
	SubmittedAt    time.Time           `json:"submitted_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

func toOrderJSON(o models.Order) orderJSON {
	return orderJSON{
		ID:             o.ID,
		ClientOrderID:  o.ClientOrderID,
		Symbol:         o.Symbol,
		Side:           string(o.Side),
		Type:           string(o.Type),
		Status:         string(o.Status),
		Qty:            nullUnlessSet(o.Qty),
		Notional:       nullUnlessSet(o.Notional),
		FilledQty:      decimal.NullDecimal{Decimal: o.FilledQty, Valid: true},
		FilledAvgPrice: nullUnlessSet(o.FilledAvgPrice),
		LimitPrice:     nullUnlessSet(o.LimitPrice),
		TimeInForce:    string(o.TimeInForce),
		SubmittedAt:    o.SubmittedAt,
		UpdatedAt:      o.UpdatedAt,
	}
}

type activityJSON struct {
	ID              string              `json:"id"`
	ActivityType    string              `json:"activity_type"`
	TransactionTime time.Time           `json:"transaction_time"`
	Symbol          string              `json:"symbol"`
	Qty             decimal.NullDecimal `json:"qty"`
	Price           decimal.NullDecimal `json:"price"`
	Side            string              `json:"side"`
	NetAmount       decimal.NullDecimal `json:"net_amount"`
}

func toActivityJSON(t models.Transaction) activityJSON {
	return activityJSON{
		ID:              t.ID,
		ActivityType:    t.ActivityType,
		TransactionTime: t.TransactionTime,
		Symbol:          t.Symbol,
		Qty:             nullUnlessSet(t.Qty),
		Price:           nullUnlessSet(t.Price),
		Side:            t.Side,
		NetAmount:       decimal.NullDecimal{Decimal: t.NetAmount, Valid: true},
	}
}

func nullUnlessSet(d decimal.Decimal) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: d, Valid: !d.IsZero()}
}
