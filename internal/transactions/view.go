package transactions

import (
	"time"

	"github.com/google/uuid"

	"github.com/handoffmarket/handoff-backend/pkg/db/models"
	"github.com/handoffmarket/handoff-backend/pkg/enums"
)

// Public is the transaction shape returned to participants. Every endpoint that
// touches a transaction answers with it, fresh or idempotent.
type Public struct {
	ID                uuid.UUID               `json:"id"`
	BuyerID           uuid.UUID               `json:"buyer_id"`
	SellerID          uuid.UUID               `json:"seller_id"`
	ListingID         uuid.UUID               `json:"listing_id"`
	AmountPaise       int64                   `json:"amount_paise"`
	Currency          enums.Currency          `json:"currency"`
	Status            enums.TransactionStatus `json:"status"`
	ExternalOrderID   string                  `json:"external_order_id"`
	ExternalPaymentID *string                 `json:"external_payment_id,omitempty"`
	RefundedPaise     int64                   `json:"refunded_paise"`
	SettlementSource  *enums.SettlementSource `json:"settlement_source,omitempty"`
	PaidAt            *time.Time              `json:"paid_at,omitempty"`
	CancelledAt       *time.Time              `json:"cancelled_at,omitempty"`
	RefundedAt        *time.Time              `json:"refunded_at,omitempty"`
	CreatedAt         time.Time               `json:"created_at"`
}

func PublicFrom(txn *models.Transaction) Public {
	return Public{
		ID:                txn.ID,
		BuyerID:           txn.BuyerID,
		SellerID:          txn.SellerID,
		ListingID:         txn.ListingID,
		AmountPaise:       txn.AmountPaise,
		Currency:          txn.Currency,
		Status:            txn.Status,
		ExternalOrderID:   txn.ExternalOrderID,
		ExternalPaymentID: txn.ExternalPaymentID,
		RefundedPaise:     txn.RefundedPaise,
		SettlementSource:  txn.SettlementSource,
		PaidAt:            txn.PaidAt,
		CancelledAt:       txn.CancelledAt,
		RefundedAt:        txn.RefundedAt,
		CreatedAt:         txn.CreatedAt,
	}
}

type PickupSummary struct {
	Status      enums.PickupStatus `json:"status"`
	PickupCode  string             `json:"pickup_code,omitempty"`
	ConfirmedAt *time.Time         `json:"confirmed_at,omitempty"`
}

type RefundSummary struct {
	ID          uuid.UUID          `json:"id"`
	AmountPaise int64              `json:"amount_paise"`
	Status      enums.RefundStatus `json:"status"`
	Reason      string             `json:"reason"`
	CreatedAt   time.Time          `json:"created_at"`
}

// Detail is the transaction read model: public fields, pickup status and refunds.
type Detail struct {
	Transaction Public          `json:"transaction"`
	Pickup      *PickupSummary  `json:"pickup,omitempty"`
	Refunds     []RefundSummary `json:"refunds"`
}

// SummarizePickup hides the code from everyone but the buyer.
func SummarizePickup(pickup *models.Pickup, txn *models.Transaction, viewerID uuid.UUID) *PickupSummary {
	if pickup == nil {
		return nil
	}
	summary := &PickupSummary{Status: pickup.Status, ConfirmedAt: pickup.ConfirmedAt}
	if txn != nil && txn.BuyerID == viewerID {
		summary.PickupCode = pickup.PickupCode
	}
	return summary
}
