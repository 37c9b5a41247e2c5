package broker

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	apperrors "alpaca-broker/internal/errors"
	"alpaca-broker/internal/models"
	"alpaca-broker/internal/venuetest"
)

// Test 1: the balance snapshot decodes with its monetary precision intact.
func TestGetBalance(t *testing.T) {
	venue := venuetest.New(t)
	f := testFacade(t, venue, nil)

	bal, err := f.GetBalance(context.Background())
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if bal.AccountNumber != "PA24FNHG6HImu" {
		t.Errorf("account number = %s, want PA24FNHG6HImu", bal.AccountNumber)
	}
	if bal.Status != models.AccountActive {
		t.Errorf("status = %s, want %s", bal.Status, models.AccountActive)
	}
	if !bal.Cash.Equal(decimal.NewFromInt(100000)) {
		t.Errorf("cash = %s, want 100000", bal.Cash)
	}
	if !bal.BuyingPower.Equal(decimal.NewFromInt(400000)) {
		t.Errorf("buying power = %s, want 400000", bal.BuyingPower)
	}
	if bal.PortfolioValue.String() != "115662.3" {
		t.Errorf("portfolio value = %s, want the exact text 115662.3", bal.PortfolioValue)
	}
}

// Test 2: positions come back as the venue's full snapshot, signed
// quantities and valuations preserved.
func TestGetPositions(t *testing.T) {
	venue := venuetest.New(t)
	f := testFacade(t, venue, nil)

	positions, err := f.GetPositions(context.Background())
	if err != nil {
		t.Fatalf("GetPositions: %v", err)
	}
	if len(positions) != 2 {
		t.Fatalf("got %d positions, want 2", len(positions))
	}

	bySymbol := make(map[string]models.Position, len(positions))
	for _, p := range positions {
		bySymbol[p.Symbol] = p
	}
	aapl, ok := bySymbol["AAPL"]
	if !ok {
		t.Fatal("AAPL position missing")
	}
	if !aapl.Qty.Equal(decimal.NewFromInt(10)) || !aapl.AvgEntryPrice.Equal(decimal.NewFromInt(100)) {
		t.Errorf("AAPL position = %s @ %s, want 10 @ 100", aapl.Qty, aapl.AvgEntryPrice)
	}
	if !aapl.UnrealizedPL.Equal(decimal.NewFromInt(50)) {
		t.Errorf("AAPL unrealized pl = %s, want 50", aapl.UnrealizedPL)
	}
	if tsla := bySymbol["TSLA"]; !tsla.Qty.Equal(decimal.NewFromInt(5)) {
		t.Errorf("TSLA qty = %s, want 5", tsla.Qty)
	}
}

// Test 3: activity pagination walks the journal in venue order, one full
// page at a time, ending with an empty cursor.
func TestTransactionPagination(t *testing.T) {
	venue := venuetest.New(t)
	f := testFacade(t, venue, nil)
	ctx := context.Background()

	// A quiet account pages to nothing.
	empty, err := f.GetTransactions(ctx, "")
	if err != nil {
		t.Fatalf("GetTransactions on empty journal: %v", err)
	}
	if len(empty.Items) != 0 || empty.Cursor != "" {
		t.Fatalf("empty journal page = %d items cursor %q", len(empty.Items), empty.Cursor)
	}

	venue.SeedActivities(150)

	page1, err := f.GetTransactions(ctx, "")
	if err != nil {
		t.Fatalf("GetTransactions page 1: %v", err)
	}
	if len(page1.Items) != 100 {
		t.Fatalf("page 1 has %d items, want 100", len(page1.Items))
	}
	if page1.Items[0].ID != "act-00001" || page1.Items[99].ID != "act-00100" {
		t.Errorf("page 1 spans %s..%s, want act-00001..act-00100", page1.Items[0].ID, page1.Items[99].ID)
	}
	if page1.Cursor != "act-00100" {
		t.Errorf("page 1 cursor = %q, want act-00100", page1.Cursor)
	}
	if !page1.Items[0].Price.Equal(decimal.NewFromInt(100)) {
		t.Errorf("first fill price = %s, want 100", page1.Items[0].Price)
	}

	page2, err := f.GetTransactions(ctx, page1.Cursor)
	if err != nil {
		t.Fatalf("GetTransactions page 2: %v", err)
	}
	if len(page2.Items) != 50 {
		t.Fatalf("page 2 has %d items, want 50", len(page2.Items))
	}
	if page2.Items[0].ID != "act-00101" || page2.Items[49].ID != "act-00150" {
		t.Errorf("page 2 spans %s..%s, want act-00101..act-00150", page2.Items[0].ID, page2.Items[49].ID)
	}
	if page2.Cursor != "" {
		t.Errorf("final cursor = %q, want empty", page2.Cursor)
	}

	seen := make(map[string]bool)
	for _, item := range append(page1.Items, page2.Items...) {
		if seen[item.ID] {
			t.Errorf("activity %s delivered twice", item.ID)
		}
		seen[item.ID] = true
	}
	if len(seen) != 150 {
		t.Errorf("walked %d distinct activities, want 150", len(seen))
	}

	// A journal that ends exactly on a page boundary needs one more empty
	// page to prove it is finished.
	venue.SeedActivities(100)
	full, err := f.GetTransactions(ctx, "")
	if err != nil {
		t.Fatalf("GetTransactions on boundary journal: %v", err)
	}
	if len(full.Items) != 100 || full.Cursor == "" {
		t.Fatalf("boundary page = %d items cursor %q, want 100 items and a cursor", len(full.Items), full.Cursor)
	}
	tail, err := f.GetTransactions(ctx, full.Cursor)
	if err != nil {
		t.Fatalf("GetTransactions past the end: %v", err)
	}
	if len(tail.Items) != 0 || tail.Cursor != "" {
		t.Errorf("past-the-end page = %d items cursor %q, want empty", len(tail.Items), tail.Cursor)
	}
}

// Test 4: asset metadata lookups validate locally, then answer from the
// venue or report not-found.
func TestGetAssetInfo(t *testing.T) {
	venue := venuetest.New(t)
	f := testFacade(t, venue, nil)
	ctx := context.Background()

	asset, err := f.GetAssetInfo(ctx, "AAPL")
	if err != nil {
		t.Fatalf("GetAssetInfo: %v", err)
	}
	if asset.Symbol != "AAPL" || asset.Name != "AAPL Common Stock" {
		t.Errorf("asset = %s / %s, want AAPL / AAPL Common Stock", asset.Symbol, asset.Name)
	}
	if !asset.Tradable || !asset.Fractionable {
		t.Errorf("asset flags tradable=%v fractionable=%v, want both true", asset.Tradable, asset.Fractionable)
	}

	_, err = f.GetAssetInfo(ctx, "ZZZZ")
	if !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("unknown asset = %v, want %v", err, apperrors.ErrNotFound)
	}
	var nfErr *apperrors.NotFoundError
	if !apperrors.As(err, &nfErr) || nfErr.Resource != "asset" {
		t.Errorf("unknown asset error = %v, want a NotFoundError for resource asset", err)
	}

	before := venue.Calls("/assets")
	var vErr *apperrors.ValidationError
	if _, err := f.GetAssetInfo(ctx, "WAY2LONGSYM"); !apperrors.As(err, &vErr) {
		t.Errorf("malformed symbol = %v, want ValidationError", err)
	}
	if got := venue.Calls("/assets"); got != before {
		t.Errorf("malformed symbol reached the venue (%d -> %d calls)", before, got)
	}
}
