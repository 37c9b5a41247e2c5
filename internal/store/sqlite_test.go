package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"alpaca-broker/internal/models"
)

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "broker.db"))
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func seedOrder(t *testing.T, store *SQLiteStore, clientOrderID, orderID, symbol string, side models.OrderSide, status models.OrderStatus, submittedAt time.Time) {
	t.Helper()
	err := store.PutOrder(context.Background(), clientOrderID, models.Order{
		ID:            orderID,
		ClientOrderID: clientOrderID,
		Symbol:        symbol,
		Side:          side,
		Type:          models.OrderTypeMarket,
		Status:        status,
		Qty:           decimal.NewFromInt(1),
		TimeInForce:   models.TIFDay,
		SubmittedAt:   submittedAt,
		UpdatedAt:     submittedAt,
	})
	if err != nil {
		t.Fatalf("seeding order %s: %v", clientOrderID, err)
	}
}

// Test 1: Lookups by client order id and by venue id hit the same row;
// a missing id reports not-found without an error.
func TestOrderLookups(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	at := time.Date(2024, 3, 25, 14, 30, 0, 0, time.UTC)

	seedOrder(t, store, "client-1", "ord-1", "AAPL", models.OrderSideBuy, models.OrderNew, at)

	byClient, found, err := store.GetOrder(ctx, "client-1")
	if err != nil || !found {
		t.Fatalf("GetOrder: found=%v err=%v", found, err)
	}
	byVenue, found, err := store.GetOrderByID(ctx, "ord-1")
	if err != nil || !found {
		t.Fatalf("GetOrderByID: found=%v err=%v", found, err)
	}
	if byClient.ID != byVenue.ID || byClient.ClientOrderID != byVenue.ClientOrderID {
		t.Errorf("lookups disagree: %+v vs %+v", byClient, byVenue)
	}

	_, found, err = store.GetOrder(ctx, "never-sent")
	if err != nil {
		t.Errorf("missing order returned error: %v", err)
	}
	if found {
		t.Error("missing order reported found")
	}
}

// Test 2: Order queries respect every filter dimension and return newest
// first.
func TestGetOrdersFilters(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 25, 10, 0, 0, 0, time.UTC)

	seedOrder(t, store, "c1", "o1", "AAPL", models.OrderSideBuy, models.OrderFilled, base)
	seedOrder(t, store, "c2", "o2", "AAPL", models.OrderSideSell, models.OrderNew, base.Add(time.Hour))
	seedOrder(t, store, "c3", "o3", "TSLA", models.OrderSideBuy, models.OrderFilled, base.Add(2*time.Hour))
	seedOrder(t, store, "c4", "o4", "MSFT", models.OrderSideBuy, models.OrderCanceled, base.Add(3*time.Hour))

	tests := []struct {
		name    string
		filter  OrderFilter
		wantIDs []string
	}{
		{"all newest first", OrderFilter{}, []string{"o4", "o3", "o2", "o1"}},
		{"by symbol", OrderFilter{Symbol: "AAPL"}, []string{"o2", "o1"}},
		{"by status", OrderFilter{Status: models.OrderFilled}, []string{"o3", "o1"}},
		{"by side", OrderFilter{Side: "buy"}, []string{"o4", "o3", "o1"}},
		{"since cutoff", OrderFilter{Since: base.Add(90 * time.Minute)}, []string{"o4", "o3"}},
		{"limit", OrderFilter{Limit: 2}, []string{"o4", "o3"}},
		{"combined", OrderFilter{Symbol: "AAPL", Side: "buy"}, []string{"o1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orders, err := store.GetOrders(ctx, tt.filter)
			if err != nil {
				t.Fatalf("GetOrders: %v", err)
			}
			if len(orders) != len(tt.wantIDs) {
				t.Fatalf("got %d orders, want %d", len(orders), len(tt.wantIDs))
			}
			for i, want := range tt.wantIDs {
				if orders[i].ID != want {
					t.Errorf("order[%d] = %s, want %s", i, orders[i].ID, want)
				}
			}
		})
	}
}

// Test 3: The activity journal filters by type, symbol, and window, and
// re-saving a page does not duplicate entries.
func TestTransactionJournal(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 25, 10, 30, 0, 0, time.UTC)

	batch := []models.Transaction{
		{ID: "act-1", ActivityType: "FILL", TransactionTime: base, Symbol: "AAPL", Qty: decimal.NewFromInt(1), Price: decimal.RequireFromString("150.25"), Side: "buy", NetAmount: decimal.RequireFromString("-150.25")},
		{ID: "act-2", ActivityType: "FILL", TransactionTime: base.Add(time.Minute), Symbol: "TSLA", Qty: decimal.NewFromInt(2), Price: decimal.NewFromInt(200), Side: "sell", NetAmount: decimal.NewFromInt(400)},
		{ID: "act-3", ActivityType: "DIV", TransactionTime: base.Add(2 * time.Minute), Symbol: "AAPL", Qty: decimal.Zero, Price: decimal.Zero, NetAmount: decimal.RequireFromString("3.20")},
	}
	if err := store.SaveTransactions(ctx, batch); err != nil {
		t.Fatalf("SaveTransactions: %v", err)
	}
	// A re-sync lands the same page again.
	if err := store.SaveTransactions(ctx, batch[:2]); err != nil {
		t.Fatalf("re-saving page: %v", err)
	}

	all, err := store.GetTransactions(ctx, TransactionFilter{})
	if err != nil {
		t.Fatalf("GetTransactions: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("journal holds %d entries, want 3", len(all))
	}
	if all[0].ID != "act-3" {
		t.Errorf("newest first expected, got %s", all[0].ID)
	}

	fills, err := store.GetTransactions(ctx, TransactionFilter{ActivityType: "FILL", Symbol: "AAPL"})
	if err != nil {
		t.Fatalf("filtered query: %v", err)
	}
	if len(fills) != 1 || fills[0].ID != "act-1" {
		t.Errorf("filter returned %+v", fills)
	}
	if !fills[0].Price.Equal(decimal.RequireFromString("150.25")) {
		t.Errorf("price drifted: %s", fills[0].Price)
	}

	windowed, err := store.GetTransactions(ctx, TransactionFilter{StartDate: base.Add(30 * time.Second), EndDate: base.Add(90 * time.Second)})
	if err != nil {
		t.Fatalf("windowed query: %v", err)
	}
	if len(windowed) != 1 || windowed[0].ID != "act-2" {
		t.Errorf("window returned %+v", windowed)
	}

	if err := store.SaveTransactions(ctx, nil); err != nil {
		t.Errorf("empty batch: %v", err)
	}
}

// Test 4: Sync bookkeeping persists the cursor and last-sync watermark,
// and the cursor can be cleared after a complete pass.
func TestSyncBookkeeping(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	cursor, err := store.GetSyncCursor(ctx, "activities")
	if err != nil {
		t.Fatalf("GetSyncCursor: %v", err)
	}
	if cursor != "" {
		t.Errorf("fresh store has cursor %q", cursor)
	}
	if last := store.GetLastSync("activities"); !last.IsZero() {
		t.Errorf("fresh store has last sync %s", last)
	}

	if err := store.SetSyncCursor(ctx, "activities", "act-00100"); err != nil {
		t.Fatalf("SetSyncCursor: %v", err)
	}
	cursor, err = store.GetSyncCursor(ctx, "activities")
	if err != nil {
		t.Fatalf("GetSyncCursor: %v", err)
	}
	if cursor != "act-00100" {
		t.Errorf("cursor = %q, want act-00100", cursor)
	}

	at := time.Date(2024, 3, 25, 16, 0, 0, 0, time.UTC)
	if err := store.SetLastSync("activities", at); err != nil {
		t.Fatalf("SetLastSync: %v", err)
	}
	if got := store.GetLastSync("activities"); got.Unix() != at.Unix() {
		t.Errorf("last sync = %s, want %s", got, at)
	}

	// Another data type's bookkeeping stays independent.
	if cursor, _ := store.GetSyncCursor(ctx, "orders"); cursor != "" {
		t.Errorf("unrelated data type picked up cursor %q", cursor)
	}

	if err := store.SetSyncCursor(ctx, "activities", ""); err != nil {
		t.Fatalf("clearing cursor: %v", err)
	}
	cursor, _ = store.GetSyncCursor(ctx, "activities")
	if cursor != "" {
		t.Errorf("cursor not cleared: %q", cursor)
	}
}

// Test 5: The last-sync cache survives a reopen by reading through to
// the database.
func TestLastSyncPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broker.db")
	store, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	at := time.Date(2024, 3, 25, 16, 0, 0, 0, time.UTC)
	if err := store.SetLastSync("activities", at); err != nil {
		t.Fatalf("SetLastSync: %v", err)
	}
	store.Close()

	reopened, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopening store: %v", err)
	}
	defer reopened.Close()
	if got := reopened.GetLastSync("activities"); got.Unix() != at.Unix() {
		t.Errorf("last sync after reopen = %s, want %s", got, at)
	}
}
