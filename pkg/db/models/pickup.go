package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/handoffmarket/handoff-backend/pkg/enums"
)

// Pickup holds the one-time handover code for a paid transaction.
type Pickup struct {
	ID            uuid.UUID          `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	TransactionID uuid.UUID          `gorm:"column:transaction_id;type:uuid;not null;uniqueIndex"`
	PickupCode    string             `gorm:"column:pickup_code;not null"`
	Status        enums.PickupStatus `gorm:"column:status;type:pickup_status_enum;not null;default:GENERATED"`
	ConfirmedAt   *time.Time         `gorm:"column:confirmed_at"`
	ConfirmedBy   *uuid.UUID         `gorm:"column:confirmed_by;type:uuid"`
	CreatedAt     time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}
