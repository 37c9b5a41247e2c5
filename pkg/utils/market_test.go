package utils

import (
	"testing"
	"time"
)

// Test 1: Session boundaries in ET resolve to the right status.
func TestStatusAt(t *testing.T) {
	// 2024-03-25 is a Monday.
	day := func(hour, min int) time.Time {
		return time.Date(2024, 3, 25, hour, min, 0, 0, ETLocation)
	}

	testCases := []struct {
		name string
		at   time.Time
		want MarketStatus
	}{
		{"overnight", day(2, 0), MarketClosed},
		{"pre-market start", day(4, 0), MarketPreOpen},
		{"just before open", day(9, 29), MarketPreOpen},
		{"open", day(9, 30), MarketOpen},
		{"midday", day(12, 30), MarketOpen},
		{"closing warning", day(15, 45), MarketClosingSoon},
		{"last minute", day(15, 59), MarketClosingSoon},
		{"close", day(16, 0), MarketAfterHours},
		{"after hours", day(18, 0), MarketAfterHours},
		{"extended end", day(20, 0), MarketClosed},
		{"saturday", time.Date(2024, 3, 23, 12, 0, 0, 0, ETLocation), MarketClosed},
		{"sunday", time.Date(2024, 3, 24, 12, 0, 0, 0, ETLocation), MarketClosed},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := statusAt(tc.at); got != tc.want {
				t.Errorf("statusAt(%s) = %s, want %s", tc.at, got, tc.want)
			}
		})
	}
}

// Test 2: Instants outside ET are converted before bucketing.
func TestStatusAtConvertsTimezone(t *testing.T) {
	// 17:00 UTC on a Monday in March is 13:00 ET (DST).
	at := time.Date(2024, 3, 25, 17, 0, 0, 0, time.UTC)
	if got := statusAt(at); got != MarketOpen {
		t.Errorf("statusAt(%s) = %s, want %s", at, got, MarketOpen)
	}
}

// Test 3: The next open skips weekends and never lands in the past.
func TestGetNextMarketOpen(t *testing.T) {
	next := GetNextMarketOpen()

	if next.Before(time.Now().Add(-time.Minute)) {
		t.Errorf("next open %s is in the past", next)
	}
	if wd := next.Weekday(); wd == time.Saturday || wd == time.Sunday {
		t.Errorf("next open %s falls on a weekend", next)
	}
	if next.Hour() != 9 || next.Minute() != 30 {
		t.Errorf("next open %s is not at 9:30 ET", next.In(ETLocation))
	}
}
