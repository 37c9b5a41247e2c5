// Package broker provides the caller-facing client for the venue:
// session management, order placement and tracking, and account queries
// behind one facade.
package broker

import (
	"context"

	"alpaca-broker/internal/auth"
	"alpaca-broker/internal/models"
)

// Broker defines the caller surface for venue operations.
type Broker interface {
	// Session
	Authorize(ctx context.Context, creds models.Credentials) (models.Token, error)
	Logout(ctx context.Context) error
	IsAuthenticated() bool
	SessionState() auth.State

	// Orders
	PlaceOrder(ctx context.Context, req models.OrderRequest) (*models.Order, error)
	GetOrderStatus(ctx context.Context, orderID string) (*models.Order, error)
	CancelOrder(ctx context.Context, orderID string) (*models.Order, error)

	// Account
	GetBalance(ctx context.Context) (*models.Balance, error)
	GetPositions(ctx context.Context) ([]models.Position, error)
	GetTransactions(ctx context.Context, cursor string) (models.TransactionPage, error)
	GetAssetInfo(ctx context.Context, symbol string) (*models.AssetInfo, error)

	// Streaming
	StreamOrderUpdates(ctx context.Context) (<-chan models.OrderUpdate, error)

	Close() error
}

// UpdateStream delivers venue order updates over a live connection.
type UpdateStream interface {
	Updates(ctx context.Context) (<-chan models.OrderUpdate, error)
	Close() error
}
