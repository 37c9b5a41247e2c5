// Package models provides domain models for the brokerage client.
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountStatus represents the venue-side state of a brokerage account.
type AccountStatus string

const (
	AccountActive     AccountStatus = "ACTIVE"
	AccountOnboarding AccountStatus = "ONBOARDING"
	AccountSubmitted  AccountStatus = "SUBMITTED"
	AccountRejected   AccountStatus = "REJECTED"
)

// Token holds one OAuth token pair. A refresh never mutates a Token in
// place; it produces a replacement value that supersedes the old one.
type Token struct {
	AccessValue  string
	RefreshValue string
	ExpiresAt    time.Time
	Scope        string
}

// Valid reports whether the token can still be presented to the venue,
// requiring at least margin of lifetime left to avoid mid-flight expiry.
func (t Token) Valid(margin time.Duration) bool {
	if t.AccessValue == "" {
		return false
	}
	return time.Until(t.ExpiresAt) > margin
}

// Credentials identifies one OAuth client to the venue. TOTPSecret is
// optional; when present the authorize flow attaches a generated MFA code.
type Credentials struct {
	ClientID     string
	ClientSecret string
	AuthCode     string
	TOTPSecret   string
}

// Identity returns the key under which tokens, rate-limit state, and the
// single-flight refresh are scoped.
func (c Credentials) Identity() string {
	return c.ClientID
}

// Position is a read-only snapshot of one open position. Quantities are
// signed: negative quantity means a short position.
type Position struct {
	Symbol         string          `json:"symbol"`
	Qty            decimal.Decimal `json:"qty"`
	AvgEntryPrice  decimal.Decimal `json:"avg_entry_price"`
	MarketValue    decimal.Decimal `json:"market_value"`
	CostBasis      decimal.Decimal `json:"cost_basis"`
	UnrealizedPL   decimal.Decimal `json:"unrealized_pl"`
	UnrealizedPLPC decimal.Decimal `json:"unrealized_plpc"`
	CurrentPrice   decimal.Decimal `json:"current_price"`
	Exchange       string          `json:"exchange"`
	AssetClass     string          `json:"asset_class"`
	Side           string          `json:"side"`
}

// Balance is the venue account snapshot: cash, buying power, and equity.
type Balance struct {
	ID               string          `json:"id"`
	AccountNumber    string          `json:"account_number"`
	Status           AccountStatus   `json:"status"`
	Currency         string          `json:"currency"`
	Cash             decimal.Decimal `json:"cash"`
	BuyingPower      decimal.Decimal `json:"buying_power"`
	PortfolioValue   decimal.Decimal `json:"portfolio_value"`
	Equity           decimal.Decimal `json:"equity"`
	PatternDayTrader bool            `json:"pattern_day_trader"`
}

// Transaction is one account activity entry (fill, dividend, transfer).
type Transaction struct {
	ID              string          `json:"id"`
	ActivityType    string          `json:"activity_type"`
	TransactionTime time.Time       `json:"transaction_time"`
	Symbol          string          `json:"symbol"`
	Qty             decimal.Decimal `json:"qty"`
	Price           decimal.Decimal `json:"price"`
	Side            string          `json:"side"`
	NetAmount       decimal.Decimal `json:"net_amount"`
}

// TransactionPage is one page of account activity. Cursor is an opaque
// continuation token; an empty Cursor marks end of stream. Passing the same
// cursor again yields the same page.
type TransactionPage struct {
	Items  []Transaction
	Cursor string
}

// AssetInfo describes a tradeable asset's venue metadata.
type AssetInfo struct {
	ID           string `json:"id"`
	Symbol       string `json:"symbol"`
	Name         string `json:"name"`
	Exchange     string `json:"exchange"`
	Class        string `json:"class"`
	Status       string `json:"status"`
	Tradable     bool   `json:"tradable"`
	Marginable   bool   `json:"marginable"`
	Shortable    bool   `json:"shortable"`
	EasyToBorrow bool   `json:"easy_to_borrow"`
	Fractionable bool   `json:"fractionable"`
}
