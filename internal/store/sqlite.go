package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"alpaca-broker/internal/models"
)

// SQLiteStore implements DataStore using SQLite.
type SQLiteStore struct {
	db        *sql.DB
	mu        sync.RWMutex
	syncTimes map[string]time.Time
}

// NewSQLiteStore creates a new SQLite-based data store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool for concurrent access
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{
		db:        db,
		syncTimes: make(map[string]time.Time),
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Orders placed or observed through this client. Decimals are stored
	-- as text to keep them exact.
	CREATE TABLE IF NOT EXISTS orders (
		client_order_id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		type TEXT NOT NULL,
		status TEXT NOT NULL,
		qty TEXT NOT NULL,
		notional TEXT NOT NULL,
		filled_qty TEXT NOT NULL,
		filled_avg_price TEXT NOT NULL,
		limit_price TEXT NOT NULL,
		time_in_force TEXT NOT NULL,
		submitted_at DATETIME,
		updated_at DATETIME,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Account activity journal
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		activity_type TEXT NOT NULL,
		transaction_time DATETIME NOT NULL,
		symbol TEXT,
		qty TEXT NOT NULL,
		price TEXT NOT NULL,
		side TEXT,
		net_amount TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Sync status table
	CREATE TABLE IF NOT EXISTS sync_status (
		data_type TEXT PRIMARY KEY,
		cursor TEXT DEFAULT '',
		last_sync DATETIME NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Create indexes for performance
	CREATE INDEX IF NOT EXISTS idx_orders_order_id ON orders(order_id);
	CREATE INDEX IF NOT EXISTS idx_orders_symbol ON orders(symbol);
	CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);
	CREATE INDEX IF NOT EXISTS idx_transactions_symbol ON transactions(symbol);
	CREATE INDEX IF NOT EXISTS idx_transactions_time ON transactions(transaction_time);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ============================================================================
// Orders Methods
// ============================================================================

// PutOrder saves or updates an order under its client order id.
func (s *SQLiteStore) PutOrder(ctx context.Context, clientOrderID string, order models.Order) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO orders (client_order_id, order_id, symbol, side, type, status, qty, notional, filled_qty, filled_avg_price, limit_price, time_in_force, submitted_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, clientOrderID, order.ID, order.Symbol, string(order.Side), string(order.Type), string(order.Status),
		order.Qty.String(), order.Notional.String(), order.FilledQty.String(), order.FilledAvgPrice.String(),
		order.LimitPrice.String(), string(order.TimeInForce), order.SubmittedAt, order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save order: %w", err)
	}
	return nil
}

// GetOrder retrieves an order by client order id. The second return value
// reports whether the order was found.
func (s *SQLiteStore) GetOrder(ctx context.Context, clientOrderID string) (models.Order, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT client_order_id, order_id, symbol, side, type, status, qty, notional, filled_qty, filled_avg_price, limit_price, time_in_force, submitted_at, updated_at
		FROM orders WHERE client_order_id = ?
	`, clientOrderID)
	return scanOrderRow(row)
}

// GetOrderByID retrieves an order by its venue-assigned id.
func (s *SQLiteStore) GetOrderByID(ctx context.Context, orderID string) (models.Order, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT client_order_id, order_id, symbol, side, type, status, qty, notional, filled_qty, filled_avg_price, limit_price, time_in_force, submitted_at, updated_at
		FROM orders WHERE order_id = ?
	`, orderID)
	return scanOrderRow(row)
}

// GetOrders retrieves locally stored orders matching the filter.
func (s *SQLiteStore) GetOrders(ctx context.Context, filter OrderFilter) ([]models.Order, error) {
	query := "SELECT client_order_id, order_id, symbol, side, type, status, qty, notional, filled_qty, filled_avg_price, limit_price, time_in_force, submitted_at, updated_at FROM orders WHERE 1=1"
	args := []interface{}{}

	if filter.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, filter.Symbol)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	if filter.Side != "" {
		query += " AND side = ?"
		args = append(args, filter.Side)
	}
	if !filter.Since.IsZero() {
		query += " AND submitted_at >= ?"
		args = append(args, filter.Since)
	}

	query += " ORDER BY submitted_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}

	return orders, rows.Err()
}

func scanOrderRow(row *sql.Row) (models.Order, bool, error) {
	var (
		o                                          models.Order
		side, orderType, status, tif               string
		qty, notional, filledQty, filledAvg, limit string
		submittedAt, updatedAt                     sql.NullTime
	)
	err := row.Scan(&o.ClientOrderID, &o.ID, &o.Symbol, &side, &orderType, &status,
		&qty, &notional, &filledQty, &filledAvg, &limit, &tif, &submittedAt, &updatedAt)
	if err == sql.ErrNoRows {
		return models.Order{}, false, nil
	}
	if err != nil {
		return models.Order{}, false, fmt.Errorf("failed to scan order: %w", err)
	}
	fillOrder(&o, side, orderType, status, tif, qty, notional, filledQty, filledAvg, limit, submittedAt, updatedAt)
	return o, true, nil
}

func scanOrder(rows *sql.Rows) (models.Order, error) {
	var (
		o                                          models.Order
		side, orderType, status, tif               string
		qty, notional, filledQty, filledAvg, limit string
		submittedAt, updatedAt                     sql.NullTime
	)
	err := rows.Scan(&o.ClientOrderID, &o.ID, &o.Symbol, &side, &orderType, &status,
		&qty, &notional, &filledQty, &filledAvg, &limit, &tif, &submittedAt, &updatedAt)
	if err != nil {
		return models.Order{}, fmt.Errorf("failed to scan order: %w", err)
	}
	fillOrder(&o, side, orderType, status, tif, qty, notional, filledQty, filledAvg, limit, submittedAt, updatedAt)
	return o, nil
}

func fillOrder(o *models.Order, side, orderType, status, tif, qty, notional, filledQty, filledAvg, limit string, submittedAt, updatedAt sql.NullTime) {
	o.Side = models.OrderSide(side)
	o.Type = models.OrderType(orderType)
	o.Status = models.OrderStatus(status)
	o.TimeInForce = models.TimeInForce(tif)
	o.Qty = parseDecimal(qty)
	o.Notional = parseDecimal(notional)
	o.FilledQty = parseDecimal(filledQty)
	o.FilledAvgPrice = parseDecimal(filledAvg)
	o.LimitPrice = parseDecimal(limit)
	if submittedAt.Valid {
		o.SubmittedAt = submittedAt.Time
	}
	if updatedAt.Valid {
		o.UpdatedAt = updatedAt.Time
	}
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// ============================================================================
// Transaction Journal Methods
// ============================================================================

// SaveTransactions journals a batch of account activity entries.
// Entries already journaled are replaced, so re-syncing a page is safe.
func (s *SQLiteStore) SaveTransactions(ctx context.Context, txns []models.Transaction) error {
	if len(txns) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO transactions (id, activity_type, transaction_time, symbol, qty, price, side, net_amount)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, t := range txns {
		_, err := stmt.ExecContext(ctx, t.ID, t.ActivityType, t.TransactionTime, t.Symbol,
			t.Qty.String(), t.Price.String(), t.Side, t.NetAmount.String())
		if err != nil {
			return fmt.Errorf("failed to insert transaction: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetTransactions retrieves journaled activity matching the filter.
func (s *SQLiteStore) GetTransactions(ctx context.Context, filter TransactionFilter) ([]models.Transaction, error) {
	query := "SELECT id, activity_type, transaction_time, symbol, qty, price, side, net_amount FROM transactions WHERE 1=1"
	args := []interface{}{}

	if filter.ActivityType != "" {
		query += " AND activity_type = ?"
		args = append(args, filter.ActivityType)
	}
	if filter.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, filter.Symbol)
	}
	if !filter.StartDate.IsZero() {
		query += " AND transaction_time >= ?"
		args = append(args, filter.StartDate)
	}
	if !filter.EndDate.IsZero() {
		query += " AND transaction_time <= ?"
		args = append(args, filter.EndDate)
	}

	query += " ORDER BY transaction_time DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var txns []models.Transaction
	for rows.Next() {
		var (
			t                     models.Transaction
			qty, price, netAmount string
			symbol, side          sql.NullString
		)
		if err := rows.Scan(&t.ID, &t.ActivityType, &t.TransactionTime, &symbol, &qty, &price, &side, &netAmount); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		t.Symbol = symbol.String
		t.Side = side.String
		t.Qty = parseDecimal(qty)
		t.Price = parseDecimal(price)
		t.NetAmount = parseDecimal(netAmount)
		txns = append(txns, t)
	}

	return txns, rows.Err()
}

// ============================================================================
// Sync Methods
// ============================================================================

// GetLastSync returns the last sync time for a data type.
func (s *SQLiteStore) GetLastSync(dataType string) time.Time {
	s.mu.RLock()
	if t, ok := s.syncTimes[dataType]; ok {
		s.mu.RUnlock()
		return t
	}
	s.mu.RUnlock()

	var lastSync sql.NullTime
	err := s.db.QueryRow(`SELECT last_sync FROM sync_status WHERE data_type = ?`, dataType).Scan(&lastSync)
	if err != nil || !lastSync.Valid {
		return time.Time{}
	}

	s.mu.Lock()
	s.syncTimes[dataType] = lastSync.Time
	s.mu.Unlock()
	return lastSync.Time
}

// SetLastSync records the last sync time for a data type.
func (s *SQLiteStore) SetLastSync(dataType string, t time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO sync_status (data_type, last_sync, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(data_type) DO UPDATE SET last_sync = excluded.last_sync, updated_at = CURRENT_TIMESTAMP
	`, dataType, t)
	if err != nil {
		return fmt.Errorf("failed to set last sync: %w", err)
	}

	s.mu.Lock()
	s.syncTimes[dataType] = t
	s.mu.Unlock()
	return nil
}

// GetSyncCursor returns the stored pagination cursor for a data type,
// empty if sync has never run or completed a full pass.
func (s *SQLiteStore) GetSyncCursor(ctx context.Context, dataType string) (string, error) {
	var cursor sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT cursor FROM sync_status WHERE data_type = ?`, dataType).Scan(&cursor)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get sync cursor: %w", err)
	}
	return cursor.String, nil
}

// SetSyncCursor stores the pagination cursor for a data type so an
// interrupted sync resumes where it stopped.
func (s *SQLiteStore) SetSyncCursor(ctx context.Context, dataType string, cursor string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_status (data_type, cursor, last_sync, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT(data_type) DO UPDATE SET cursor = excluded.cursor, updated_at = CURRENT_TIMESTAMP
	`, dataType, cursor)
	if err != nil {
		return fmt.Errorf("failed to set sync cursor: %w", err)
	}
	return nil
}

var _ DataStore = (*SQLiteStore)(nil)
