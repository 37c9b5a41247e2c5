// Package cli provides the command-line interface for the brokerage client.
package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// FormatUSD formats an amount as US dollars with thousands separators.
func FormatUSD(amount decimal.Decimal) string {
	negative := amount.IsNegative()
	s := amount.Abs().StringFixed(2)
	parts := strings.SplitN(s, ".", 2)

	result := "$" + groupThousands(parts[0]) + "." + parts[1]
	if negative {
		result = "-" + result
	}
	return result
}

// FormatSignedUSD formats an amount with an explicit sign, for P&L columns.
func FormatSignedUSD(amount decimal.Decimal) string {
	formatted := FormatUSD(amount)
	if amount.IsPositive() {
		return "+" + formatted
	}
	return formatted
}

// groupThousands inserts commas into an integer string: 1234567 -> 1,234,567.
func groupThousands(s string) string {
	n := len(s)
	if n <= 3 {
		return s
	}
	var b strings.Builder
	head := n % 3
	if head > 0 {
		b.WriteString(s[:head])
	}
	for i := head; i < n; i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

// FormatQty formats a quantity, trimming insignificant trailing zeros so
// whole-share quantities print without a fraction.
func FormatQty(qty decimal.Decimal) string {
	return qty.String()
}

// FormatPercent formats a ratio as a signed percentage: 0.0123 -> +1.23%.
func FormatPercent(ratio decimal.Decimal) string {
	pct := ratio.Mul(decimal.NewFromInt(100))
	sign := ""
	if pct.IsPositive() {
		sign = "+"
	}
	return sign + pct.StringFixed(2) + "%"
}

// marketTime is the venue's local timezone.
func marketTime(t time.Time) time.Time {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return t
	}
	return t.In(loc)
}

// FormatTime formats a timestamp as venue-local wall clock time.
func FormatTime(t time.Time) string {
	return marketTime(t).Format("15:04:05")
}

// FormatDate formats a date in venue-local time.
func FormatDate(t time.Time) string {
	return marketTime(t).Format("02-Jan-2006")
}

// FormatDateTime formats a full timestamp in venue-local time.
func FormatDateTime(t time.Time) string {
	return marketTime(t).Format("02-Jan-2006 15:04:05")
}

// FormatDuration formats a duration in human-readable form.
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	} else if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	} else if d < 24*time.Hour {
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	return fmt.Sprintf("%dd %dh", days, hours)
}

// TruncateString truncates a string to max length with ellipsis.
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

// PadRight pads a string to the right.
func PadRight(s string, length int) string {
	if len(s) >= length {
		return s
	}
	return s + strings.Repeat(" ", length-len(s))
}

// PadLeft pads a string to the left.
func PadLeft(s string, length int) string {
	if len(s) >= length {
		return s
	}
	return strings.Repeat(" ", length-len(s)) + s
}
