// Package utils provides shared market-calendar helpers.
package utils

import (
	"time"
)

// MarketStatus describes the venue's current trading session.
type MarketStatus string

const (
	MarketClosed      MarketStatus = "closed"
	MarketPreOpen     MarketStatus = "pre-market"
	MarketOpen        MarketStatus = "open"
	MarketClosingSoon MarketStatus = "closing-soon"
	MarketAfterHours  MarketStatus = "after-hours"
)

// ETLocation is the timezone for US equity markets.
var ETLocation *time.Location

func init() {
	var err error
	ETLocation, err = time.LoadLocation("America/New_York")
	if err != nil {
		// Fallback to UTC-5
		ETLocation = time.FixedZone("ET", -5*60*60)
	}
}

// GetMarketStatus returns the current market status.
func GetMarketStatus() MarketStatus {
	return statusAt(time.Now())
}

// statusAt computes the session for a given instant. Regular hours are
// 9:30-16:00 ET on weekdays; extended hours run 4:00-9:30 and
// 16:00-20:00. Exchange holidays are not modeled.
func statusAt(t time.Time) MarketStatus {
	now := t.In(ETLocation)

	if now.Weekday() == time.Saturday || now.Weekday() == time.Sunday {
		return MarketClosed
	}

	timeMinutes := now.Hour()*60 + now.Minute()

	// Pre-market: 4:00 - 9:30
	if timeMinutes >= 240 && timeMinutes < 570 {
		return MarketPreOpen
	}

	// Regular session: 9:30 - 16:00
	if timeMinutes >= 570 && timeMinutes < 960 {
		// Closing warning: 15:45 - 16:00
		if timeMinutes >= 945 {
			return MarketClosingSoon
		}
		return MarketOpen
	}

	// After-hours: 16:00 - 20:00
	if timeMinutes >= 960 && timeMinutes < 1200 {
		return MarketAfterHours
	}

	return MarketClosed
}

// IsMarketOpen returns true if the regular session is in progress.
func IsMarketOpen() bool {
	status := GetMarketStatus()
	return status == MarketOpen || status == MarketClosingSoon
}

// GetNextMarketOpen returns the next regular session opening time.
func GetNextMarketOpen() time.Time {
	now := time.Now().In(ETLocation)

	next := time.Date(now.Year(), now.Month(), now.Day(), 9, 30, 0, 0, ETLocation)
	if now.After(next) {
		next = next.AddDate(0, 0, 1)
	}

	for next.Weekday() == time.Saturday || next.Weekday() == time.Sunday {
		next = next.AddDate(0, 0, 1)
	}

	return next
}

// GetMarketClose returns today's regular session close time.
func GetMarketClose() time.Time {
	now := time.Now().In(ETLocation)
	return time.Date(now.Year(), now.Month(), now.Day(), 16, 0, 0, 0, ETLocation)
}

// TimeUntilMarketClose returns the duration until the regular session
// close.
func TimeUntilMarketClose() time.Duration {
	return time.Until(GetMarketClose())
}
