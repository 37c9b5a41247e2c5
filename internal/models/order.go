package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide represents the side of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType represents the type of an order.
type OrderType string

const (
	OrderTypeMarket    OrderType = "market"
	OrderTypeLimit     OrderType = "limit"
	OrderTypeStop      OrderType = "stop"
	OrderTypeStopLimit OrderType = "stop_limit"
)

// RequiresLimitPrice reports whether orders of this type carry a limit price.
func (t OrderType) RequiresLimitPrice() bool {
	return t == OrderTypeLimit || t == OrderTypeStopLimit
}

// TimeInForce represents order validity.
type TimeInForce string

const (
	TIFDay TimeInForce = "day"
	TIFGTC TimeInForce = "gtc"
	TIFIOC TimeInForce = "ioc"
	TIFFOK TimeInForce = "fok"
)

// OrderStatus represents the venue-reported state of an order.
type OrderStatus string

const (
	OrderPendingNew      OrderStatus = "pending_new"
	OrderNew             OrderStatus = "new"
	OrderAccepted        OrderStatus = "accepted"
	OrderPartiallyFilled OrderStatus = "partially_filled"
	OrderFilled          OrderStatus = "filled"
	OrderCanceled        OrderStatus = "canceled"
	OrderRejected        OrderStatus = "rejected"
	OrderExpired         OrderStatus = "expired"
)

// IsTerminal reports whether no further status transition can occur.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderFilled, OrderCanceled, OrderRejected, OrderExpired:
		return true
	}
	return false
}

// OrderRequest describes one order submission. Exactly one of Qty and
// Notional must be set. ClientOrderID is the caller-supplied idempotency
// key: resubmitting the same id must not create a second venue order.
type OrderRequest struct {
	Symbol        string
	Side          OrderSide
	Qty           decimal.Decimal
	Notional      decimal.Decimal
	Type          OrderType
	LimitPrice    decimal.Decimal
	TimeInForce   TimeInForce
	ClientOrderID string
}

// Order represents a venue order. Status transitions are driven only by
// venue responses, never inferred locally.
type Order struct {
	ID              string          `json:"id"`
	ClientOrderID   string          `json:"client_order_id"`
	Symbol          string          `json:"symbol"`
	Side            OrderSide       `json:"side"`
	Type            OrderType       `json:"type"`
	Status          OrderStatus     `json:"status"`
	Qty             decimal.Decimal `json:"qty"`
	Notional        decimal.Decimal `json:"notional"`
	FilledQty       decimal.Decimal `json:"filled_qty"`
	FilledAvgPrice  decimal.Decimal `json:"filled_avg_price"`
	LimitPrice      decimal.Decimal `json:"limit_price"`
	TimeInForce     TimeInForce     `json:"time_in_force"`
	RawRemoteStatus string          `json:"-"`
	SubmittedAt     time.Time       `json:"submitted_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// RemainingQty returns the unfilled quantity. Zero for notional orders.
func (o Order) RemainingQty() decimal.Decimal {
	if o.Qty.IsZero() {
		return decimal.Zero
	}
	rem := o.Qty.Sub(o.FilledQty)
	if rem.IsNegative() {
		return decimal.Zero
	}
	return rem
}

// OrderUpdate is one event from the venue's trade-updates stream.
type OrderUpdate struct {
	Event     string          `json:"event"`
	Timestamp time.Time       `json:"timestamp"`
	Price     decimal.Decimal `json:"price"`
	Qty       decimal.Decimal `json:"qty"`
	Order     Order           `json:"order"`
}
