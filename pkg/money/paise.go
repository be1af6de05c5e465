// Package money converts between rupee amounts and integer paise.
package money

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

var (
	hundred  = decimal.NewFromInt(100)
	maxPaise = decimal.NewFromInt(math.MaxInt64)

	ErrNonPositive    = errors.New("amount must be greater than zero")
	ErrTooPrecise     = errors.New("amount supports at most two decimal places")
	ErrPercentOutside = errors.New("percentage must be between 0 and 100")
	ErrTooLarge       = errors.New("amount is too large")
)

// RupeesToPaise converts a rupee value to paise. Sub-paise precision and
// values that do not fit in int64 paise are rejected.
func RupeesToPaise(rupees decimal.Decimal) (int64, error) {
	if !rupees.IsPositive() {
		return 0, ErrNonPositive
	}
	if !rupees.Equal(rupees.Truncate(2)) {
		return 0, ErrTooPrecise
	}
	paise := rupees.Mul(hundred)
	if paise.GreaterThan(maxPaise) {
		return 0, ErrTooLarge
	}
	return paise.IntPart(), nil
}

// ParseRupees parses a decimal string such as "499.50".
func ParseRupees(value string) (int64, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", value, err)
	}
	return RupeesToPaise(d)
}

// PaiseToRupees renders paise as a fixed two-decimal rupee string.
func PaiseToRupees(paise int64) string {
	return decimal.New(paise, -2).StringFixed(2)
}

// PercentOf returns pct% of amountPaise rounded to the nearest paise.
func PercentOf(amountPaise int64, pct decimal.Decimal) (int64, error) {
	if pct.IsNegative() || pct.GreaterThan(hundred) {
		return 0, ErrPercentOutside
	}
	return decimal.NewFromInt(amountPaise).Mul(pct).Div(hundred).Round(0).IntPart(), nil
}

// Clamp bounds paise to [0, max].
func Clamp(paise, max int64) int64 {
	if paise < 0 {
		return 0
	}
	if paise > max {
		return max
	}
	return paise
}
