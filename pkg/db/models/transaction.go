package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/handoffmarket/handoff-backend/pkg/enums"
)

// Transaction is one purchase of a listing, keyed externally by the gateway order id.
type Transaction struct {
	ID                uuid.UUID               `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	BuyerID           uuid.UUID               `gorm:"column:buyer_id;type:uuid;not null"`
	SellerID          uuid.UUID               `gorm:"column:seller_id;type:uuid;not null"`
	ListingID         uuid.UUID               `gorm:"column:listing_id;type:uuid;not null"`
	AmountPaise       int64                   `gorm:"column:amount_paise;not null"`
	Currency          enums.Currency          `gorm:"column:currency;not null;default:INR"`
	ExternalOrderID   string                  `gorm:"column:external_order_id;not null;uniqueIndex"`
	ExternalPaymentID *string                 `gorm:"column:external_payment_id"`
	Status            enums.TransactionStatus `gorm:"column:status;type:transaction_status_enum;not null;default:INITIATED"`
	RefundedPaise     int64                   `gorm:"column:refunded_paise;not null;default:0"`
	SettlementSource  *enums.SettlementSource `gorm:"column:settlement_source"`
	PaidAt            *time.Time              `gorm:"column:paid_at"`
	CancelledAt       *time.Time              `gorm:"column:cancelled_at"`
	RefundedAt        *time.Time              `gorm:"column:refunded_at"`
	CreatedAt         time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}

// IsParticipant reports whether userID is the buyer or the seller.
func (t *Transaction) IsParticipant(userID uuid.UUID) bool {
	return t.BuyerID == userID || t.SellerID == userID
}
