package enums

import "slices"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregateTransaction  OutboxAggregateType = "transaction"
	AggregatePickup       OutboxAggregateType = "pickup"
	AggregateRefund       OutboxAggregateType = "refund"
	AggregateDispute      OutboxAggregateType = "dispute"
	AggregateNotification OutboxAggregateType = "notification"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateTransaction,
	AggregatePickup,
	AggregateRefund,
	AggregateDispute,
	AggregateNotification,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	return slices.Contains(validAggregateTypes, a)
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	return parseEnum("aggregate type", value, validAggregateTypes)
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventTransactionInitiated  OutboxEventType = "transaction_initiated"
	EventTransactionPaid       OutboxEventType = "transaction_paid"
	EventTransactionCancelled  OutboxEventType = "transaction_cancelled"
	EventTransactionRefunded   OutboxEventType = "transaction_refunded"
	EventPickupCodeGenerated   OutboxEventType = "pickup_code_generated"
	EventPickupConfirmed       OutboxEventType = "pickup_confirmed"
	EventRefundFailed          OutboxEventType = "refund_failed"
	EventDisputeOpened         OutboxEventType = "dispute_opened"
	EventDisputeUpdated        OutboxEventType = "dispute_updated"
	EventNotificationRequested OutboxEventType = "notification_requested"
)

var validOutboxEventTypes = []OutboxEventType{
	EventTransactionInitiated,
	EventTransactionPaid,
	EventTransactionCancelled,
	EventTransactionRefunded,
	EventPickupCodeGenerated,
	EventPickupConfirmed,
	EventRefundFailed,
	EventDisputeOpened,
	EventDisputeUpdated,
	EventNotificationRequested,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	return slices.Contains(validOutboxEventTypes, e)
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	return parseEnum("event type", value, validOutboxEventTypes)
}
