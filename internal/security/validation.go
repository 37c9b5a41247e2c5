// Package security provides session encryption, audit logging, and security controls.
package security

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// Validation patterns
var (
	// Symbol pattern: US equity tickers, optionally with a class suffix (BRK.B)
	symbolPattern = regexp.MustCompile(`^[A-Z]{1,5}(\.[A-Z]{1,2})?$`)

	// Order ID pattern: venue order ids and client order ids (UUID-shaped or similar)
	orderIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

	// Token patterns for detection (not validation)
	tokenPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(client[_-]?secret|secret[_-]?key|access[_-]?token|refresh[_-]?token|auth[_-]?token|bearer|passphrase)[=:\s]+["']?([A-Za-z0-9_\-\.]{16,})["']?`),
		regexp.MustCompile(`(?i)(bearer\s+[A-Za-z0-9_\-\.]{16,})`),
		regexp.MustCompile(`([A-Za-z0-9_\-]{40,})`), // Generic long tokens
	}

	// SQL injection patterns
	sqlInjectionPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(union\s+select|select\s+\*|drop\s+table|insert\s+into|delete\s+from|update\s+.*\s+set)`),
		regexp.MustCompile(`(?i)(--|;|'|"|\\x00|\\n|\\r)`),
		regexp.MustCompile(`(?i)(or\s+1\s*=\s*1|and\s+1\s*=\s*1)`),
	}

	// Command injection patterns
	cmdInjectionPatterns = []*regexp.Regexp{
		regexp.MustCompile(`[;&|$\x60]`),
		regexp.MustCompile(`(?i)(rm\s+-rf|wget|curl|bash|sh\s+-c|eval|exec)`),
	}
)

// InputValidator provides input validation functionality.
type InputValidator struct {
	strictMode bool
}

// NewInputValidator creates a new input validator.
func NewInputValidator(strictMode bool) *InputValidator {
	return &InputValidator{strictMode: strictMode}
}

// ValidateSymbol validates an equity symbol.
func (v *InputValidator) ValidateSymbol(symbol string) error {
	symbol = strings.TrimSpace(strings.ToUpper(symbol))

	if symbol == "" {
		return fmt.Errorf("symbol cannot be empty")
	}

	if len(symbol) > 8 {
		return fmt.Errorf("symbol too long (max 8 characters)")
	}

	if !symbolPattern.MatchString(symbol) {
		return fmt.Errorf("invalid symbol format: %s", symbol)
	}

	// Check for injection attempts
	if v.containsInjection(symbol) {
		return fmt.Errorf("invalid characters detected in symbol")
	}

	return nil
}

// ValidateOrderID validates a venue or client order ID.
func (v *InputValidator) ValidateOrderID(orderID string) error {
	orderID = strings.TrimSpace(orderID)

	if orderID == "" {
		return fmt.Errorf("order ID cannot be empty")
	}

	if len(orderID) > 64 {
		return fmt.Errorf("order ID too long (max 64 characters)")
	}

	if !orderIDPattern.MatchString(orderID) {
		return fmt.Errorf("invalid order ID format")
	}

	return nil
}

// ValidateQuantity validates an order quantity.
func (v *InputValidator) ValidateQuantity(qty decimal.Decimal) error {
	if qty.Sign() <= 0 {
		return fmt.Errorf("quantity must be positive")
	}

	if qty.GreaterThan(decimal.NewFromInt(10000000)) {
		return fmt.Errorf("quantity exceeds maximum allowed")
	}

	return nil
}

// ValidatePrice validates a price value.
func (v *InputValidator) ValidatePrice(price decimal.Decimal) error {
	if price.Sign() < 0 {
		return fmt.Errorf("price cannot be negative")
	}

	if price.GreaterThan(decimal.NewFromInt(1000000000)) {
		return fmt.Errorf("price exceeds maximum allowed")
	}

	return nil
}

// ValidateText validates free-form text input.
func (v *InputValidator) ValidateText(field, text string, maxLen int) error {
	if len(text) > maxLen {
		return fmt.Errorf("%s too long (max %d characters)", field, maxLen)
	}

	// Check for injection attempts in strict mode
	if v.strictMode && v.containsInjection(text) {
		return fmt.Errorf("potentially dangerous content detected in %s", field)
	}

	return nil
}

// containsInjection checks for SQL or command injection patterns.
func (v *InputValidator) containsInjection(input string) bool {
	// Check SQL injection patterns
	for _, pattern := range sqlInjectionPatterns {
		if pattern.MatchString(input) {
			return true
		}
	}

	// Check command injection patterns
	for _, pattern := range cmdInjectionPatterns {
		if pattern.MatchString(input) {
			return true
		}
	}

	return false
}

// SanitizeSymbol sanitizes a symbol input.
func SanitizeSymbol(symbol string) string {
	// Convert to uppercase and trim
	symbol = strings.TrimSpace(strings.ToUpper(symbol))

	// Remove any character a ticker cannot contain
	var result strings.Builder
	for _, r := range symbol {
		if unicode.IsLetter(r) || r == '.' {
			result.WriteRune(r)
		}
	}

	return result.String()
}

// SanitizeText sanitizes free-form text by removing potentially dangerous characters.
func SanitizeText(text string) string {
	// Remove null bytes and other control characters
	var result strings.Builder
	for _, r := range text {
		if r >= 32 && r != 127 { // Printable ASCII and Unicode
			result.WriteRune(r)
		}
	}
	return result.String()
}

// MaskSensitive masks sensitive data in a string.
func MaskSensitive(input string) string {
	result := input

	// Mask tokens and secrets
	for _, pattern := range tokenPatterns {
		result = pattern.ReplaceAllStringFunc(result, func(match string) string {
			if len(match) > 8 {
				return match[:4] + strings.Repeat("*", len(match)-8) + match[len(match)-4:]
			}
			return strings.Repeat("*", len(match))
		})
	}

	return result
}

// MaskCredential masks a credential value for logging.
func MaskCredential(value string) string {
	if len(value) == 0 {
		return ""
	}
	if len(value) <= 4 {
		return strings.Repeat("*", len(value))
	}
	if len(value) <= 8 {
		return value[:2] + strings.Repeat("*", len(value)-2)
	}
	return value[:4] + strings.Repeat("*", len(value)-8) + value[len(value)-4:]
}

// ContainsSensitiveData checks if a string contains sensitive data patterns.
func ContainsSensitiveData(input string) bool {
	for _, pattern := range tokenPatterns {
		if pattern.MatchString(input) {
			return true
		}
	}
	return false
}
