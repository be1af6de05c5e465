package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/handoffmarket/handoff-backend/pkg/enums"
)

// AuditEvent is an immutable record of a money or admin action on a transaction.
type AuditEvent struct {
	ID            uuid.UUID            `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	TransactionID uuid.UUID            `gorm:"column:transaction_id;type:uuid;not null"`
	ActorID       *uuid.UUID           `gorm:"column:actor_id;type:uuid"`
	Type          enums.AuditEventType `gorm:"column:type;type:audit_event_type_enum;not null"`
	AmountPaise   int64                `gorm:"column:amount_paise;not null;default:0"`
	Metadata      json.RawMessage      `gorm:"column:metadata;type:jsonb"`
	CreatedAt     time.Time            `gorm:"column:created_at;autoCreateTime"`
}
