package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/handoffmarket/handoff-backend/pkg/enums"
)

// TransactionEvent is emitted on every top-level status change of a transaction.
type TransactionEvent struct {
	TransactionID    uuid.UUID               `json:"transaction_id"`
	BuyerID          uuid.UUID               `json:"buyer_id"`
	SellerID         uuid.UUID               `json:"seller_id"`
	ListingID        uuid.UUID               `json:"listing_id"`
	Status           enums.TransactionStatus `json:"status"`
	AmountPaise      int64                   `json:"amount_paise"`
	RefundedPaise    int64                   `json:"refunded_paise,omitempty"`
	ExternalOrderID  string                  `json:"external_order_id"`
	SettlementSource string                  `json:"settlement_source,omitempty"`
	Reason           string                  `json:"reason,omitempty"`
	OccurredAt       time.Time               `json:"occurred_at"`
}

// PickupEvent carries pickup lifecycle changes. The code itself is never published.
type PickupEvent struct {
	PickupID      uuid.UUID          `json:"pickup_id"`
	TransactionID uuid.UUID          `json:"transaction_id"`
	Status        enums.PickupStatus `json:"status"`
	ConfirmedAt   *time.Time         `json:"confirmed_at,omitempty"`
}

// RefundEvent reports a refund attempt that did not go through.
type RefundEvent struct {
	RefundID      uuid.UUID          `json:"refund_id"`
	TransactionID uuid.UUID          `json:"transaction_id"`
	AmountPaise   int64              `json:"amount_paise"`
	Status        enums.RefundStatus `json:"status"`
	Reason        string             `json:"reason"`
	Failure       string             `json:"failure,omitempty"`
}

type DisputeEvent struct {
	DisputeID     uuid.UUID             `json:"dispute_id"`
	TransactionID uuid.UUID             `json:"transaction_id"`
	Status        enums.DisputeStatus   `json:"status"`
	Priority      enums.DisputePriority `json:"priority"`
	RefundID      *uuid.UUID            `json:"refund_id,omitempty"`
}

// NotificationRequestedEvent asks the delivery service to message one user.
type NotificationRequestedEvent struct {
	RecipientID   uuid.UUID              `json:"recipient_id"`
	TransactionID uuid.UUID              `json:"transaction_id"`
	Type          enums.NotificationType `json:"type"`
	Title         string                 `json:"title"`
	Message       string                 `json:"message"`
}
