package enums

import "slices"

// AuditEventType maps to the audit_event_type enum in Postgres.
type AuditEventType string

const (
	AuditEventTransactionInitiated AuditEventType = "transaction_initiated"
	AuditEventPaymentSettled       AuditEventType = "payment_settled"
	AuditEventPaymentFailed        AuditEventType = "payment_failed"
	AuditEventCaptureAfterCancel   AuditEventType = "capture_after_cancel"
	AuditEventListingUnavailable   AuditEventType = "listing_unavailable"
	AuditEventPickupGenerated      AuditEventType = "pickup_generated"
	AuditEventPickupConfirmed      AuditEventType = "pickup_confirmed"
	AuditEventTransactionCancelled AuditEventType = "transaction_cancelled"
	AuditEventRefundIssued         AuditEventType = "refund_issued"
	AuditEventRefundFailed         AuditEventType = "refund_failed"
	AuditEventDisputeOpened        AuditEventType = "dispute_opened"
	AuditEventDisputeUpdated       AuditEventType = "dispute_updated"
	AuditEventDisputeResolved      AuditEventType = "dispute_resolved"
	AuditEventDisputeRejected      AuditEventType = "dispute_rejected"
)

var validAuditEventTypes = []AuditEventType{
	AuditEventTransactionInitiated,
	AuditEventPaymentSettled,
	AuditEventPaymentFailed,
	AuditEventCaptureAfterCancel,
	AuditEventListingUnavailable,
	AuditEventPickupGenerated,
	AuditEventPickupConfirmed,
	AuditEventTransactionCancelled,
	AuditEventRefundIssued,
	AuditEventRefundFailed,
	AuditEventDisputeOpened,
	AuditEventDisputeUpdated,
	AuditEventDisputeResolved,
	AuditEventDisputeRejected,
}

// IsValid reports whether the value is a known AuditEventType.
func (a AuditEventType) IsValid() bool {
	return slices.Contains(validAuditEventTypes, a)
}

// ParseAuditEventType converts raw input into a AuditEventType.
func ParseAuditEventType(value string) (AuditEventType, error) {
	return parseEnum("audit event type", value, validAuditEventTypes)
}
