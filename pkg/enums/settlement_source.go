package enums

import "slices"

// SettlementSource names the signal that moved a transaction to PAID.
type SettlementSource string

const (
	SettlementSourceCheckoutCallback SettlementSource = "checkout_callback"
	SettlementSourceWebhook          SettlementSource = "webhook"
)

var validSettlementSources = []SettlementSource{
	SettlementSourceCheckoutCallback,
	SettlementSourceWebhook,
}

func (s SettlementSource) String() string {
	return string(s)
}

// IsValid reports whether the value is a known SettlementSource.
func (s SettlementSource) IsValid() bool {
	return slices.Contains(validSettlementSources, s)
}

// ParseSettlementSource converts raw input into a SettlementSource.
func ParseSettlementSource(value string) (SettlementSource, error) {
	return parseEnum("settlement source", value, validSettlementSources)
}
