package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/handoffmarket/handoff-backend/pkg/enums"
)

type Dispute struct {
	ID              uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	TransactionID   uuid.UUID             `gorm:"column:transaction_id;type:uuid;not null"`
	ReporterID      uuid.UUID             `gorm:"column:reporter_id;type:uuid;not null"`
	Reason          string                `gorm:"column:reason;not null"`
	Priority        enums.DisputePriority `gorm:"column:priority;type:dispute_priority_enum;not null;default:medium"`
	Status          enums.DisputeStatus   `gorm:"column:status;type:dispute_status_enum;not null;default:OPEN"`
	Resolution      *string               `gorm:"column:resolution"`
	ResolvedAt      *time.Time            `gorm:"column:resolved_at"`
	ResolvedBy      *uuid.UUID            `gorm:"column:resolved_by;type:uuid"`
	RefundID        *uuid.UUID            `gorm:"column:refund_id;type:uuid"`
	RefundClaimedAt *time.Time            `gorm:"column:refund_claimed_at"`
	CreatedAt       time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}
