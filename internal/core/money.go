// Package core holds the domain model and the decimal money rules.
//
// Monetary values never travel as binary floats. They are parsed from exact
// base-10 strings into decimal values and clamped to two fractional digits
// with half-up rounding wherever a stored field results.
package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ParseAmount converts a decimal string to an exact decimal value.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators.
// Malformed or empty input returns ErrInvalidAmount; it is never silently
// coerced to zero.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	// Normalize decimal comma to dot
	s = strings.ReplaceAll(s, ",", ".")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

// ClampTwoDecimals rounds to exactly two fractional digits, half-up.
// Idempotent: ClampTwoDecimals(ClampTwoDecimals(x)) == ClampTwoDecimals(x).
func ClampTwoDecimals(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Sum adds the values exactly, without intermediate rounding.
func Sum(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// Difference returns a - b exactly.
func Difference(a, b decimal.Decimal) decimal.Decimal {
	return a.Sub(b)
}

// FormatAmount renders the canonical two-decimal string form used on the
// wire and in the sqlite store, e.g. "150.00".
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(2)
}
