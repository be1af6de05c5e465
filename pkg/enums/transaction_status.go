package enums

import "slices"

// TransactionStatus maps to the transaction_status enum in Postgres.
type TransactionStatus string

const (
	TransactionStatusInitiated TransactionStatus = "INITIATED"
	TransactionStatusPaid      TransactionStatus = "PAID"
	TransactionStatusCancelled TransactionStatus = "CANCELLED"
	TransactionStatusRefunded  TransactionStatus = "REFUNDED"
)

var validTransactionStatuses = []TransactionStatus{
	TransactionStatusInitiated,
	TransactionStatusPaid,
	TransactionStatusCancelled,
	TransactionStatusRefunded,
}

func (t TransactionStatus) String() string {
	return string(t)
}

// IsValid reports whether the value is a known TransactionStatus.
func (t TransactionStatus) IsValid() bool {
	return slices.Contains(validTransactionStatuses, t)
}

// ParseTransactionStatus converts raw input into a TransactionStatus.
func ParseTransactionStatus(value string) (TransactionStatus, error) {
	return parseEnum("transaction status", value, validTransactionStatuses)
}

// CanTransitionTo encodes the monotonic lifecycle INITIATED -> {PAID, CANCELLED} -> REFUNDED.
// CANCELLED only reaches REFUNDED when a capture landed after the cancellation.
func (t TransactionStatus) CanTransitionTo(next TransactionStatus) bool {
	switch t {
	case TransactionStatusInitiated:
		return next == TransactionStatusPaid || next == TransactionStatusCancelled
	case TransactionStatusPaid, TransactionStatusCancelled:
		return next == TransactionStatusRefunded
	default:
		return false
	}
}

// IsTerminal reports whether participants can no longer act on the transaction.
func (t TransactionStatus) IsTerminal() bool {
	return t == TransactionStatusCancelled || t == TransactionStatusRefunded
}
