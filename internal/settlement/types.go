package settlement

import (
	"github.com/google/uuid"

	"github.com/handoffmarket/handoff-backend/internal/transactions"
	"github.com/handoffmarket/handoff-backend/pkg/enums"
)

// Outcome says what a settlement signal did. Every outcome except an error is a
// success from the caller's point of view.
type Outcome string

const (
	OutcomeSettled      Outcome = "settled"
	OutcomeDuplicate    Outcome = "duplicate"
	OutcomeUnknownOrder Outcome = "unknown_order"
	OutcomeNeedsReview  Outcome = "needs_review"
	OutcomeCancelled    Outcome = "cancelled"
	OutcomeIgnored      Outcome = "ignored"
)

// Gateway event names this service acts on.
const (
	EventPaymentCaptured = "payment.captured"
	EventOrderPaid       = "order.paid"
	EventPaymentFailed   = "payment.failed"
)

const (
	oversoldRefundReason    = "listing_already_sold"
	lateCaptureRefundReason = "captured_after_cancellation"
)

// Capture is "payment captured for order X with payment Y", whichever path reported it.
type Capture struct {
	OrderID   string
	PaymentID string
	Source    enums.SettlementSource
}

// CheckoutConfirmation is what the buyer's browser posts after the gateway checkout.
type CheckoutConfirmation struct {
	TransactionID uuid.UUID
	OrderID       string
	PaymentID     string
	Signature     string
	ActorID       uuid.UUID
}

// GatewayEvent is a verified, parsed webhook delivery.
type GatewayEvent struct {
	ID          string
	Event       string
	OrderID     string
	PaymentID   string
	ErrorReason string
}

// Result has one shape for fresh and repeated signals. Pickup is set only on the
// checkout path, where the caller is known to be the buyer. Outcome stays
// server-side so a repeated checkout renders the same body as the first.
type Result struct {
	Outcome     Outcome                     `json:"-"`
	Transaction *transactions.Public        `json:"transaction,omitempty"`
	Pickup      *transactions.PickupSummary `json:"pickup,omitempty"`
	Oversold    bool                        `json:"-"`
}
