package enums

import "slices"

// Currency is the settlement currency. Only INR is settled.
type Currency string

const (
	CurrencyINR Currency = "INR"
)

var validCurrencies = []Currency{
	CurrencyINR,
}

func (c Currency) String() string {
	return string(c)
}

// IsValid reports whether the currency is recognized.
func (c Currency) IsValid() bool {
	return slices.Contains(validCurrencies, c)
}

// ParseCurrency converts a raw string into a Currency.
func ParseCurrency(value string) (Currency, error) {
	return parseEnum("currency", value, validCurrencies)
}
