package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/handoffmarket/handoff-backend/pkg/enums"
)

// Refund records one gateway refund. A partial unique index keeps at most one
// pending or succeeded row per transaction. The row ID doubles as the gateway
// idempotency key, so a pending row is re-sent under the same key.
type Refund struct {
	ID                uuid.UUID          `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	TransactionID     uuid.UUID          `gorm:"column:transaction_id;type:uuid;not null"`
	DisputeID         *uuid.UUID         `gorm:"column:dispute_id;type:uuid"`
	AmountPaise       int64              `gorm:"column:amount_paise;not null"`
	Reason            string             `gorm:"column:reason;not null"`
	InitiatedBy       *uuid.UUID         `gorm:"column:initiated_by;type:uuid"`
	Status            enums.RefundStatus `gorm:"column:status;type:refund_status_enum;not null;default:pending"`
	ExternalRefundID  *string            `gorm:"column:external_refund_id"`
	FailureReason     *string            `gorm:"column:failure_reason"`
	ReactivateListing bool               `gorm:"column:reactivate_listing;not null;default:false"`
	AttemptedAt       *time.Time         `gorm:"column:attempted_at"`
	CreatedAt         time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}
