package enums

import "slices"

// NotificationType identifies the message a participant receives.
type NotificationType string

const (
	NotificationPaymentReceived      NotificationType = "payment_received"
	NotificationPickupCodeGenerated  NotificationType = "pickup_code_generated"
	NotificationPickupConfirmed      NotificationType = "pickup_confirmed"
	NotificationPaymentFailed        NotificationType = "payment_failed"
	NotificationTransactionCancelled NotificationType = "transaction_cancelled"
	NotificationRefundIssued         NotificationType = "refund_issued"
	NotificationDisputeUpdated       NotificationType = "dispute_updated"
)

var validNotificationTypes = []NotificationType{
	NotificationPaymentReceived,
	NotificationPickupCodeGenerated,
	NotificationPickupConfirmed,
	NotificationPaymentFailed,
	NotificationTransactionCancelled,
	NotificationRefundIssued,
	NotificationDisputeUpdated,
}

// IsValid reports whether the value is a known NotificationType.
func (n NotificationType) IsValid() bool {
	return slices.Contains(validNotificationTypes, n)
}

// ParseNotificationType converts raw input into a NotificationType.
func ParseNotificationType(value string) (NotificationType, error) {
	return parseEnum("notification type", value, validNotificationTypes)
}
