package broker

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	apperrors "alpaca-broker/internal/errors"
	"alpaca-broker/internal/models"
	"alpaca-broker/internal/store"
	"alpaca-broker/internal/venuetest"
)

// Test 1: a limit order reaches the venue with its decimal fields intact
// and comes back in the accepted state.
func TestPlaceOrder(t *testing.T) {
	venue := venuetest.New(t)
	f := testFacade(t, venue, nil)

	req := models.OrderRequest{
		Symbol:        "AAPL",
		Side:          models.OrderSideBuy,
		Type:          models.OrderTypeLimit,
		Qty:           decimal.RequireFromString("1.5"),
		LimitPrice:    decimal.RequireFromString("150.25"),
		TimeInForce:   models.TIFGTC,
		ClientOrderID: uuid.NewString(),
	}
	order, err := f.PlaceOrder(context.Background(), req)
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if order.ID == "" {
		t.Fatal("venue order id missing")
	}
	if order.ClientOrderID != req.ClientOrderID {
		t.Errorf("client order id = %s, want %s", order.ClientOrderID, req.ClientOrderID)
	}
	if order.Status != models.OrderNew {
		t.Errorf("status = %s, want %s", order.Status, models.OrderNew)
	}
	if !order.Qty.Equal(req.Qty) || !order.LimitPrice.Equal(req.LimitPrice) {
		t.Errorf("decimals mangled in transit: qty %s limit %s", order.Qty, order.LimitPrice)
	}
	if order.TimeInForce != models.TIFGTC {
		t.Errorf("time in force = %s, want %s", order.TimeInForce, models.TIFGTC)
	}
	if got := venue.OrderSubmissions(); got != 1 {
		t.Errorf("OrderSubmissions = %d, want 1", got)
	}

	venueSide, ok := venue.Order(order.ID)
	if !ok {
		t.Fatal("order not recorded at the venue")
	}
	if !venueSide.Qty.Equal(req.Qty) {
		t.Errorf("venue-side qty = %s, want %s", venueSide.Qty, req.Qty)
	}
}

// Test 2: a notional order carries no qty, and an omitted time in force
// defaults to day.
func TestPlaceOrderNotionalAndDefaults(t *testing.T) {
	venue := venuetest.New(t)
	f := testFacade(t, venue, nil)

	req := models.OrderRequest{
		Symbol:        "TSLA",
		Side:          models.OrderSideBuy,
		Type:          models.OrderTypeMarket,
		Notional:      decimal.RequireFromString("500.50"),
		ClientOrderID: uuid.NewString(),
	}
	order, err := f.PlaceOrder(context.Background(), req)
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if !order.Notional.Equal(req.Notional) {
		t.Errorf("notional = %s, want %s", order.Notional, req.Notional)
	}
	if !order.Qty.IsZero() {
		t.Errorf("qty = %s, want zero for a notional order", order.Qty)
	}
	if order.TimeInForce != models.TIFDay {
		t.Errorf("time in force = %s, want default %s", order.TimeInForce, models.TIFDay)
	}
}

// Test 3: resubmitting a settled client_order_id is answered from the
// idempotency cache without another venue call.
func TestPlaceOrderIdempotentReplay(t *testing.T) {
	venue := venuetest.New(t)
	f := testFacade(t, venue, nil)

	req := marketBuy("AAPL")
	first, err := f.PlaceOrder(context.Background(), req)
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	callsAfterFirst := venue.Calls("/orders")

	second, err := f.PlaceOrder(context.Background(), req)
	if err != nil {
		t.Fatalf("replay PlaceOrder: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("replay produced order %s, want %s", second.ID, first.ID)
	}
	if got := venue.Calls("/orders"); got != callsAfterFirst {
		t.Errorf("order endpoint calls went %d -> %d on a replay", callsAfterFirst, got)
	}
	if got := venue.OrderSubmissions(); got != 1 {
		t.Errorf("OrderSubmissions = %d, want 1", got)
	}
}

// Test 4: the idempotency cache persists. A fresh facade over the same
// database answers a replayed client_order_id without resubmitting.
func TestPlaceOrderReplayAfterRestart(t *testing.T) {
	venue := venuetest.New(t)
	cache, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "orders.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { cache.Close() })

	f1 := testFacade(t, venue, func(o *Options) { o.Cache = cache })
	req := marketBuy("TSLA")
	placed, err := f1.PlaceOrder(context.Background(), req)
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}

	f2 := testFacade(t, venue, func(o *Options) { o.Cache = cache })
	replayed, err := f2.PlaceOrder(context.Background(), req)
	if err != nil {
		t.Fatalf("replay after restart: %v", err)
	}
	if replayed.ID != placed.ID {
		t.Errorf("replay produced order %s, want %s", replayed.ID, placed.ID)
	}
	if got := venue.OrderSubmissions(); got != 1 {
		t.Errorf("OrderSubmissions = %d across restart, want 1", got)
	}
}

// Test 5: malformed requests are rejected locally, field by field, before
// any venue traffic.
func TestPlaceOrderValidation(t *testing.T) {
	venue := venuetest.New(t)
	f := testFacade(t, venue, nil)

	cases := []struct {
		name   string
		mutate func(*models.OrderRequest)
		field  string
	}{
		{"missing client order id", func(r *models.OrderRequest) { r.ClientOrderID = "" }, "client_order_id"},
		{"injection in client order id", func(r *models.OrderRequest) { r.ClientOrderID = "id; DROP TABLE orders" }, "client_order_id"},
		{"malformed symbol", func(r *models.OrderRequest) { r.Symbol = "AA PL" }, "symbol"},
		{"unknown side", func(r *models.OrderRequest) { r.Side = "hold" }, "side"},
		{"unknown type", func(r *models.OrderRequest) { r.Type = "trailing_stop" }, "type"},
		{"unknown time in force", func(r *models.OrderRequest) { r.TimeInForce = "opg" }, "time_in_force"},
		{"qty and notional together", func(r *models.OrderRequest) { r.Notional = decimal.NewFromInt(100) }, "qty"},
		{"neither qty nor notional", func(r *models.OrderRequest) { r.Qty = decimal.Zero }, "qty"},
		{"negative qty", func(r *models.OrderRequest) { r.Qty = decimal.NewFromInt(-1) }, "qty"},
		{"limit without price", func(r *models.OrderRequest) { r.Type = models.OrderTypeLimit }, "limit_price"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := marketBuy("AAPL")
			tc.mutate(&req)
			_, err := f.PlaceOrder(context.Background(), req)
			var vErr *apperrors.ValidationError
			if !apperrors.As(err, &vErr) {
				t.Fatalf("PlaceOrder = %v, want ValidationError", err)
			}
			if vErr.Field != tc.field {
				t.Errorf("rejected field = %s, want %s", vErr.Field, tc.field)
			}
		})
	}
	if got := venue.Calls("/orders"); got != 0 {
		t.Errorf("invalid requests reached the venue %d times", got)
	}
}

// Test 6: venue rejections map to the taxonomy, cost exactly one call,
// and never poison the client_order_id for a later retry.
func TestPlaceOrderVenueRejections(t *testing.T) {
	venue := venuetest.New(t)
	f := testFacade(t, venue, nil)
	ctx := context.Background()

	t.Run("halted symbol", func(t *testing.T) {
		venue.HaltSymbol("MSFT")
		before := venue.Calls("/orders")
		_, err := f.PlaceOrder(ctx, marketBuy("MSFT"))
		if !apperrors.Is(err, apperrors.ErrSymbolHalted) {
			t.Fatalf("PlaceOrder = %v, want %v", err, apperrors.ErrSymbolHalted)
		}
		var vErr *apperrors.VenueError
		if !apperrors.As(err, &vErr) {
			t.Fatalf("PlaceOrder error = %T, want *VenueError", err)
		}
		if vErr.Symbol != "MSFT" {
			t.Errorf("rejected symbol = %s, want MSFT", vErr.Symbol)
		}
		if got := venue.Calls("/orders"); got != before+1 {
			t.Errorf("order endpoint calls = %d, want %d (deterministic rejections are not retried)", got, before+1)
		}
	})

	t.Run("insufficient funds then retry", func(t *testing.T) {
		venue.SetInsufficientFunds(true)
		req := marketBuy("AAPL")
		if _, err := f.PlaceOrder(ctx, req); !apperrors.Is(err, apperrors.ErrInsufficientFunds) {
			t.Fatalf("PlaceOrder = %v, want %v", err, apperrors.ErrInsufficientFunds)
		}

		// The failed submission settles without an order; the same id may
		// try again once the account is funded.
		venue.SetInsufficientFunds(false)
		order, err := f.PlaceOrder(ctx, req)
		if err != nil {
			t.Fatalf("retry after funding: %v", err)
		}
		if order.Status != models.OrderNew {
			t.Errorf("retried order status = %s, want %s", order.Status, models.OrderNew)
		}
	})

	t.Run("unknown asset", func(t *testing.T) {
		if _, err := f.PlaceOrder(ctx, marketBuy("ZZZZ")); !apperrors.Is(err, apperrors.ErrInvalidSymbol) {
			t.Fatalf("PlaceOrder = %v, want %v", err, apperrors.ErrInvalidSymbol)
		}
	})
}

// Test 7: status reads always go to the venue and reflect its current
// view of the order.
func TestGetOrderStatus(t *testing.T) {
	venue := venuetest.New(t)
	f := testFacade(t, venue, nil)
	ctx := context.Background()

	placed, err := f.PlaceOrder(ctx, marketBuy("AAPL"))
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}

	got, err := f.GetOrderStatus(ctx, placed.ID)
	if err != nil {
		t.Fatalf("GetOrderStatus: %v", err)
	}
	if got.ID != placed.ID || got.Status != models.OrderNew {
		t.Errorf("status read = %s/%s, want %s/%s", got.ID, got.Status, placed.ID, models.OrderNew)
	}

	venue.SetOrderStatus(placed.ID, models.OrderPartiallyFilled)
	got, err = f.GetOrderStatus(ctx, placed.ID)
	if err != nil {
		t.Fatalf("GetOrderStatus after venue update: %v", err)
	}
	if got.Status != models.OrderPartiallyFilled {
		t.Errorf("status = %s, want %s", got.Status, models.OrderPartiallyFilled)
	}
	if got.RawRemoteStatus != "partially_filled" {
		t.Errorf("raw remote status = %q, want %q", got.RawRemoteStatus, "partially_filled")
	}

	if _, err := f.GetOrderStatus(ctx, uuid.NewString()); !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("unknown order = %v, want %v", err, apperrors.ErrNotFound)
	}
	var vErr *apperrors.ValidationError
	if _, err := f.GetOrderStatus(ctx, "not/a/valid/id"); !apperrors.As(err, &vErr) {
		t.Errorf("malformed order id = %v, want ValidationError", err)
	}
}

// Test 8: a cancel lands, and the result reflects the venue's final state.
func TestCancelOrder(t *testing.T) {
	venue := venuetest.New(t)
	f := testFacade(t, venue, nil)
	ctx := context.Background()

	placed, err := f.PlaceOrder(ctx, marketBuy("AAPL"))
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}

	canceled, err := f.CancelOrder(ctx, placed.ID)
	if err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	if canceled.Status != models.OrderCanceled {
		t.Errorf("status = %s, want %s", canceled.Status, models.OrderCanceled)
	}

	venueSide, _ := venue.Order(placed.ID)
	if venueSide.Status != models.OrderCanceled {
		t.Errorf("venue-side status = %s, want %s", venueSide.Status, models.OrderCanceled)
	}
}

// Test 9: cancelling a terminal order is refused with the already-filled
// sentinel rather than a raw venue error.
func TestCancelTerminalOrder(t *testing.T) {
	venue := venuetest.New(t)
	f := testFacade(t, venue, nil)
	ctx := context.Background()

	placed, err := f.PlaceOrder(ctx, marketBuy("AAPL"))
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	venue.SetOrderStatus(placed.ID, models.OrderFilled)

	_, err = f.CancelOrder(ctx, placed.ID)
	if !apperrors.Is(err, apperrors.ErrAlreadyFilled) {
		t.Fatalf("CancelOrder = %v, want %v", err, apperrors.ErrAlreadyFilled)
	}
}

// Test 10: a cancel racing a server-side fill succeeds at the transport
// level and reports the fill. The venue's last word wins.
func TestCancelFillRace(t *testing.T) {
	venue := venuetest.New(t)
	f := testFacade(t, venue, nil)
	ctx := context.Background()

	placed, err := f.PlaceOrder(ctx, marketBuy("AAPL"))
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	venue.FillOnCancel(placed.ID)

	order, err := f.CancelOrder(ctx, placed.ID)
	if err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	if order.Status != models.OrderFilled {
		t.Errorf("status = %s, want %s (the fill won the race)", order.Status, models.OrderFilled)
	}
	if !order.FilledQty.Equal(placed.Qty) {
		t.Errorf("filled qty = %s, want %s", order.FilledQty, placed.Qty)
	}
}

// Test 11: cancelling an unknown order reports not-found.
func TestCancelUnknownOrder(t *testing.T) {
	venue := venuetest.New(t)
	f := testFacade(t, venue, nil)

	_, err := f.CancelOrder(context.Background(), uuid.NewString())
	if !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("CancelOrder = %v, want %v", err, apperrors.ErrNotFound)
	}
	var nfErr *apperrors.NotFoundError
	if !apperrors.As(err, &nfErr) {
		t.Fatalf("CancelOrder error = %T, want *NotFoundError", err)
	}
	if nfErr.Resource != "order" {
		t.Errorf("resource = %s, want order", nfErr.Resource)
	}
}
