package broker

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	apperrors "alpaca-broker/internal/errors"
	"alpaca-broker/internal/models"
)

// Venue endpoints, relative to the configured base URL.
const (
	endpointAccount    = "/account"
	endpointPositions  = "/positions"
	endpointActivities = "/account/activities"
	endpointOrders     = "/orders"
	endpointAssets     = "/assets"
)

// activityBatchMax is the venue's page size ceiling for activities.
const activityBatchMax = 100

func orderPath(orderID string) string {
	return fmt.Sprintf("%s/%s", endpointOrders, orderID)
}

func assetPath(symbol string) string {
	return fmt.Sprintf("%s/%s", endpointAssets, symbol)
}

// createOrderBody is the POST /orders request body. Money and quantity
// fields travel as decimal strings.
type createOrderBody struct {
	Symbol        string `json:"symbol"`
	Qty           string `json:"qty,omitempty"`
	Notional      string `json:"notional,omitempty"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	TimeInForce   string `json:"time_in_force"`
	LimitPrice    string `json:"limit_price,omitempty"`
	ClientOrderID string `json:"client_order_id"`
}

func newCreateOrderBody(req models.OrderRequest) createOrderBody {
	body := createOrderBody{
		Symbol:        req.Symbol,
		Side:          string(req.Side),
		Type:          string(req.Type),
		TimeInForce:   string(req.TimeInForce),
		ClientOrderID: req.ClientOrderID,
	}
	if !req.Qty.IsZero() {
		body.Qty = req.Qty.String()
	}
	if !req.Notional.IsZero() {
		body.Notional = req.Notional.String()
	}
	if !req.LimitPrice.IsZero() {
		body.LimitPrice = req.LimitPrice.String()
	}
	return body
}

// activitiesQuery carries the caller-driven pagination parameters.
type activitiesQuery struct {
	PageSize  int    `url:"page_size,omitempty"`
	PageToken string `url:"page_token,omitempty"`
}

// orderResource is the venue's order JSON. Nullable decimals (a market
// order has no limit price, an unfilled order no average price) decode
// through NullDecimal.
type orderResource struct {
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

func (r orderResource) toOrder() models.Order {
	return models.Order{
		ID:              r.ID,
		ClientOrderID:   r.ClientOrderID,
		Symbol:          r.Symbol,
		Side:            models.OrderSide(r.Side),
		Type:            models.OrderType(r.Type),
		Status:          models.OrderStatus(r.Status),
		Qty:             nullable(r.Qty),
		Notional:        nullable(r.Notional),
		FilledQty:       nullable(r.FilledQty),
		FilledAvgPrice:  nullable(r.FilledAvgPrice),
		LimitPrice:      nullable(r.LimitPrice),
		TimeInForce:     models.TimeInForce(r.TimeInForce),
		RawRemoteStatus: r.Status,
		SubmittedAt:     r.SubmittedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

// activityResource is one entry of GET /account/activities. Non-trade
// activities carry no qty or price.
type activityResource struct {
	ID              string              `json:"id"`
	ActivityType    string              `json:"activity_type"`
	TransactionTime time.Time           `json:"transaction_time"`
	Symbol          string              `json:"symbol"`
	Qty             decimal.NullDecimal `json:"qty"`
	Price           decimal.NullDecimal `json:"price"`
	Side            string              `json:"side"`
	NetAmount       decimal.NullDecimal `json:"net_amount"`
}

func (r activityResource) toTransaction() models.Transaction {
	return models.Transaction{
		ID:              r.ID,
		ActivityType:    r.ActivityType,
		TransactionTime: r.TransactionTime,
		Symbol:          r.Symbol,
		Qty:             nullable(r.Qty),
		Price:           nullable(r.Price),
		Side:            r.Side,
		NetAmount:       nullable(r.NetAmount),
	}
}

func nullable(d decimal.NullDecimal) decimal.Decimal {
	if !d.Valid {
		return decimal.Zero
	}
	return d.Decimal
}

// mapOrderError disambiguates venue order rejections by status code and
// message phrasing, the way the venue actually words them.
func mapOrderError(err error, symbol string) error {
	var apiErr *apperrors.APIError
	if !apperrors.As(err, &apiErr) {
		return err
	}

	msg := strings.ToLower(apiErr.VenueMessage)
	switch apiErr.StatusCode {
	case 403:
		if strings.Contains(msg, "insufficient") {
			return apperrors.NewVenueError(apperrors.ReasonInsufficientFunds, symbol, apiErr.VenueMessage)
		}
		if strings.Contains(msg, "halted") || strings.Contains(msg, "not active") {
			return apperrors.NewVenueError(apperrors.ReasonSymbolHalted, symbol, apiErr.VenueMessage)
		}
	case 404, 422:
		if strings.Contains(msg, "asset not found") || strings.Contains(msg, "could not find asset") || strings.Contains(msg, "invalid symbol") {
			return apperrors.NewVenueError(apperrors.ReasonInvalidSymbol, symbol, apiErr.VenueMessage)
		}
		if apiErr.StatusCode == 422 {
			return apperrors.NewVenueError(apperrors.ReasonOther, symbol, apiErr.VenueMessage)
		}
	}
	return err
}
