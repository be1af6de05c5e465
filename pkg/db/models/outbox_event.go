package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/handoffmarket/handoff-backend/pkg/enums"
)

// OutboxEvent is a domain event written in the same database transaction as
// the state change it describes. The publisher owns PublishedAt, AttemptCount
// and LastError; the row is otherwise immutable.
type OutboxEvent struct {
	ID            uuid.UUID                 `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	EventType     enums.OutboxEventType     `gorm:"column:event_type;type:event_type_enum;not null"`
	AggregateType enums.OutboxAggregateType `gorm:"column:aggregate_type;type:aggregate_type_enum;not null"`
	AggregateID   uuid.UUID                 `gorm:"column:aggregate_id;type:uuid;not null"`
	Payload       json.RawMessage           `gorm:"column:payload;type:jsonb;not null"`
	AttemptCount  int                       `gorm:"column:attempt_count;not null;default:0"`
	LastError     *string                   `gorm:"column:last_error"`
	PublishedAt   *time.Time                `gorm:"column:published_at"`
	CreatedAt     time.Time                 `gorm:"column:created_at;autoCreateTime"`
}

// AttemptsLeft reports whether one more failed attempt stays under limit.
func (e *OutboxEvent) AttemptsLeft(limit int) bool {
	return e.AttemptCount+1 < limit
}
