package broker

import (
	"context"
	"net/http"
	"sync"

	"github.com/rs/zerolog"

	apperrors "alpaca-broker/internal/errors"
	"alpaca-broker/internal/logging"
	"alpaca-broker/internal/models"
	"alpaca-broker/internal/security"
	"alpaca-broker/internal/transport"
)

// OrderCacheStore persists the idempotency cache so a restart cannot
// resubmit an already-placed client_order_id.
type OrderCacheStore interface {
	PutOrder(ctx context.Context, clientOrderID string, order models.Order) error
	GetOrder(ctx context.Context, clientOrderID string) (models.Order, bool, error)
}

// idemEntry is one reservation in the idempotency cache. done closes when
// the owning Place settles; order is set only when a venue order exists.
type idemEntry struct {
	done  chan struct{}
	order *models.Order
}

// idempotencyCache keys submissions by client_order_id. Concurrent Places
// sharing an id serialize through the reservation; distinct ids never
// contend. A settled entry answers replays without a remote call.
type idempotencyCache struct {
	mu      sync.Mutex
	entries map[string]*idemEntry
	store   OrderCacheStore
	logger  zerolog.Logger
}

func newIdempotencyCache(store OrderCacheStore, logger zerolog.Logger) *idempotencyCache {
	return &idempotencyCache{
		entries: make(map[string]*idemEntry),
		store:   store,
		logger:  logger,
	}
}

// acquire returns either the settled order for the id or a fresh
// reservation the caller must settle. Waiting on someone else's
// reservation honors ctx.
func (c *idempotencyCache) acquire(ctx context.Context, id string) (*models.Order, *idemEntry, error) {
	for {
		c.mu.Lock()
		if e, ok := c.entries[id]; ok {
			if e.order != nil {
				order := *e.order
				c.mu.Unlock()
				return &order, nil, nil
			}
			done := e.done
			c.mu.Unlock()
			select {
			case <-ctx.Done():
				return nil, nil, ctx.Err()
			case <-done:
			}
			continue
		}

		e := &idemEntry{done: make(chan struct{})}
		c.entries[id] = e
		c.mu.Unlock()

		// Reservation held; a result persisted by an earlier process
		// settles it without going to the venue.
		if c.store != nil {
			order, ok, err := c.store.GetOrder(ctx, id)
			if err != nil {
				c.logger.Warn().Err(err).Str("client_order_id", id).Msg("Order cache lookup failed")
			} else if ok {
				c.settle(id, e, &order, false)
				return &order, nil, nil
			}
		}
		return nil, e, nil
	}
}

// settle resolves a reservation. A nil order clears the slot so the next
// Place with the same id may try again; persist controls the store write.
func (c *idempotencyCache) settle(id string, e *idemEntry, order *models.Order, persist bool) {
	c.mu.Lock()
	if order != nil {
		e.order = order
	} else {
		delete(c.entries, id)
	}
	c.mu.Unlock()
	close(e.done)

	if order != nil && persist && c.store != nil {
		if err := c.store.PutOrder(context.Background(), id, *order); err != nil {
			c.logger.Warn().Err(err).Str("client_order_id", id).Msg("Order cache persist failed")
		}
	}
}

// refresh folds a live venue read into the cache. In-flight reservations
// belong to their owner and are left alone.
func (c *idempotencyCache) refresh(order models.Order) {
	if order.ClientOrderID == "" {
		return
	}

	c.mu.Lock()
	e, ok := c.entries[order.ClientOrderID]
	switch {
	case ok && e.order != nil:
		copied := order
		e.order = &copied
	case !ok:
		copied := order
		done := make(chan struct{})
		close(done)
		c.entries[order.ClientOrderID] = &idemEntry{done: done, order: &copied}
	}
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.PutOrder(context.Background(), order.ClientOrderID, order); err != nil {
			c.logger.Warn().Err(err).Str("client_order_id", order.ClientOrderID).Msg("Order cache persist failed")
		}
	}
}

// OrderClient places, reads, and cancels venue orders.
type OrderClient struct {
	dispatch  *dispatcher
	cache     *idempotencyCache
	validator *security.InputValidator
	audit     *security.AuditLogger
	logger    zerolog.Logger
}

func newOrderClient(d *dispatcher, store OrderCacheStore, validator *security.InputValidator, logger zerolog.Logger) *OrderClient {
	return &OrderClient{
		dispatch:  d,
		cache:     newIdempotencyCache(store, logger),
		validator: validator,
		logger:    logger,
	}
}

// Place submits an order. Resubmitting a client_order_id that already
// produced a venue order returns that order without a remote call.
func (oc *OrderClient) Place(ctx context.Context, req models.OrderRequest) (*models.Order, error) {
	if err := oc.validate(ctx, req); err != nil {
		return nil, err
	}
	if req.TimeInForce == "" {
		req.TimeInForce = models.TIFDay
	}

	cached, reservation, err := oc.cache.acquire(ctx, req.ClientOrderID)
	if err != nil {
		return nil, err
	}
	if cached != nil {
		oc.logger.Debug().
			Str("client_order_id", req.ClientOrderID).
			Str("order_id", cached.ID).
			Msg("Duplicate submission served from cache")
		return cached, nil
	}

	order, err := oc.submit(ctx, req)
	if err != nil {
		oc.cache.settle(req.ClientOrderID, reservation, nil, false)
		return nil, err
	}
	oc.cache.settle(req.ClientOrderID, reservation, order, true)
	return order, nil
}

func (oc *OrderClient) submit(ctx context.Context, req models.OrderRequest) (*models.Order, error) {
	resp, err := oc.dispatch.call(ctx, "order_place", transport.Request{
		Method: http.MethodPost,
		Path:   endpointOrders,
		Body:   newCreateOrderBody(req),
	})
	if err != nil {
		err = mapOrderError(err, req.Symbol)
		oc.auditPlace(ctx, models.Order{ClientOrderID: req.ClientOrderID, Symbol: req.Symbol}, req, err)
		return nil, err
	}

	var resource orderResource
	if err := resp.Decode(&resource); err != nil {
		return nil, err
	}
	order := resource.toOrder()

	logging.LogOrder(oc.logger, order.ID, order.ClientOrderID, order.Symbol, string(order.Side), string(order.Status))
	oc.auditPlace(ctx, order, req, nil)
	return &order, nil
}

// GetStatus reads the live order state from the venue and refreshes the
// cache with it. Never served from cache.
func (oc *OrderClient) GetStatus(ctx context.Context, orderID string) (*models.Order, error) {
	if err := oc.validator.ValidateOrderID(orderID); err != nil {
		return nil, apperrors.NewValidationError("order_id", orderID, err.Error())
	}

	resp, err := oc.dispatch.call(ctx, "order_status", transport.Request{
		Method: http.MethodGet,
		Path:   orderPath(orderID),
	})
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return nil, apperrors.NewNotFoundError("order", orderID)
		}
		return nil, err
	}

	var resource orderResource
	if err := resp.Decode(&resource); err != nil {
		return nil, err
	}
	order := resource.toOrder()
	oc.cache.refresh(order)
	return &order, nil
}

// Cancel requests cancellation and returns the venue's resulting order
// state. A cancel racing a server-side fill legitimately comes back
// filled; the venue's last word is authoritative.
func (oc *OrderClient) Cancel(ctx context.Context, orderID string) (*models.Order, error) {
	if err := oc.validator.ValidateOrderID(orderID); err != nil {
		return nil, apperrors.NewValidationError("order_id", orderID, err.Error())
	}

	_, err := oc.dispatch.call(ctx, "order_cancel", transport.Request{
		Method: http.MethodDelete,
		Path:   orderPath(orderID),
	})
	if err != nil {
		switch {
		case isStatus(err, http.StatusNotFound):
			return nil, apperrors.NewNotFoundError("order", orderID)
		case isStatus(err, http.StatusUnprocessableEntity):
			// The venue refuses to cancel terminal orders
			order, serr := oc.GetStatus(ctx, orderID)
			if serr == nil && order.Status.IsTerminal() {
				err = apperrors.Wrapf(apperrors.ErrAlreadyFilled, "order %s is %s", orderID, order.Status)
			}
			oc.auditCancel(ctx, orderID, err)
			return nil, err
		default:
			oc.auditCancel(ctx, orderID, err)
			return nil, err
		}
	}

	order, err := oc.GetStatus(ctx, orderID)
	if err != nil {
		return nil, err
	}
	oc.auditCancel(ctx, orderID, nil)
	logging.LogOrder(oc.logger, order.ID, order.ClientOrderID, order.Symbol, string(order.Side), string(order.Status))
	return order, nil
}

func (oc *OrderClient) validate(ctx context.Context, req models.OrderRequest) error {
	if req.ClientOrderID == "" {
		return apperrors.NewValidationError("client_order_id", "", "client order id is required")
	}
	if err := oc.validator.ValidateOrderID(req.ClientOrderID); err != nil {
		return oc.validationError(ctx, "client_order_id", req.ClientOrderID, err)
	}
	if err := oc.validator.ValidateSymbol(req.Symbol); err != nil {
		return oc.validationError(ctx, "symbol", req.Symbol, err)
	}

	switch req.Side {
	case models.OrderSideBuy, models.OrderSideSell:
	default:
		return apperrors.NewValidationError("side", string(req.Side), "side must be buy or sell")
	}

	switch req.Type {
	case models.OrderTypeMarket, models.OrderTypeLimit, models.OrderTypeStop, models.OrderTypeStopLimit:
	default:
		return apperrors.NewValidationError("type", string(req.Type), "unknown order type")
	}

	switch req.TimeInForce {
	case "", models.TIFDay, models.TIFGTC, models.TIFIOC, models.TIFFOK:
	default:
		return apperrors.NewValidationError("time_in_force", string(req.TimeInForce), "unknown time in force")
	}

	if req.Qty.IsNegative() || req.Notional.IsNegative() {
		return apperrors.NewValidationError("qty", req.Qty.String(), "quantity and notional cannot be negative")
	}
	hasQty := req.Qty.IsPositive()
	hasNotional := req.Notional.IsPositive()
	if hasQty == hasNotional {
		return apperrors.NewValidationError("qty", req.Qty.String(), "exactly one of qty and notional must be set")
	}
	if hasQty {
		if err := oc.validator.ValidateQuantity(req.Qty); err != nil {
			return oc.validationError(ctx, "qty", req.Qty.String(), err)
		}
	}
	if hasNotional {
		if err := oc.validator.ValidatePrice(req.Notional); err != nil {
			return oc.validationError(ctx, "notional", req.Notional.String(), err)
		}
	}

	if req.Type.RequiresLimitPrice() {
		if !req.LimitPrice.IsPositive() {
			return apperrors.NewValidationError("limit_price", req.LimitPrice.String(), "limit price required for limit and stop_limit orders")
		}
		if err := oc.validator.ValidatePrice(req.LimitPrice); err != nil {
			return oc.validationError(ctx, "limit_price", req.LimitPrice.String(), err)
		}
	}

	return nil
}

func (oc *OrderClient) validationError(ctx context.Context, field, value string, err error) error {
	if oc.audit != nil {
		_ = oc.audit.LogInputValidation(ctx, field, value, err.Error())
	}
	return apperrors.NewValidationError(field, value, err.Error())
}

func (oc *OrderClient) auditPlace(ctx context.Context, order models.Order, req models.OrderRequest, err error) {
	if oc.audit == nil {
		return
	}
	amount := req.Qty.String()
	if req.Qty.IsZero() {
		amount = req.Notional.String()
	}
	_ = oc.audit.LogOrderPlaced(ctx, order.ID, req.ClientOrderID, req.Symbol, string(req.Side),
		amount, req.LimitPrice.String(), string(req.Type), err == nil, errMessage(err))
}

func (oc *OrderClient) auditCancel(ctx context.Context, orderID string, err error) {
	if oc.audit == nil {
		return
	}
	_ = oc.audit.LogOrderCancelled(ctx, orderID, "", err == nil, errMessage(err))
}

func isStatus(err error, status int) bool {
	var apiErr *apperrors.APIError
	return apperrors.As(err, &apiErr) && apiErr.StatusCode == status
}

func errMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
