// Package store provides local persistence for orders and account activity.
package store

import (
	"context"
	"time"

	"alpaca-broker/internal/models"
)

// DataStore defines the interface for local persistence. Orders are keyed
// by client order id so a resubmission after a restart still finds the
// original venue order.
type DataStore interface {
	// Orders
	PutOrder(ctx context.Context, clientOrderID string, order models.Order) error
	GetOrder(ctx context.Context, clientOrderID string) (models.Order, bool, error)
	GetOrderByID(ctx context.Context, orderID string) (models.Order, bool, error)
	GetOrders(ctx context.Context, filter OrderFilter) ([]models.Order, error)

	// Transaction journal
	SaveTransactions(ctx context.Context, txns []models.Transaction) error
	GetTransactions(ctx context.Context, filter TransactionFilter) ([]models.Transaction, error)

	// Sync
	GetLastSync(dataType string) time.Time
	SetLastSync(dataType string, t time.Time) error
	GetSyncCursor(ctx context.Context, dataType string) (string, error)
	SetSyncCursor(ctx context.Context, dataType string, cursor string) error

	// Lifecycle
	Close() error
}

// OrderFilter represents filters for querying locally stored orders.
type OrderFilter struct {
	Symbol string
	Status models.OrderStatus
	Side   string
	Since  time.Time
	Limit  int
}

// TransactionFilter represents filters for querying the activity journal.
type TransactionFilter struct {
	ActivityType string
	Symbol       string
	StartDate    time.Time
	EndDate      time.Time
	Limit        int
}
