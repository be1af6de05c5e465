package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/handoffmarket/handoff-backend/pkg/enums"
)

// User is owned by the identity service. This backend only reads it.
type User struct {
	ID         uuid.UUID      `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Email      string         `gorm:"type:text;not null;uniqueIndex"`
	Role       enums.UserRole `gorm:"column:role;type:user_role_enum;not null;default:member"`
	IsVerified bool           `gorm:"column:is_verified;not null;default:false"`
	IsActive   bool           `gorm:"column:is_active;not null"`
	CreatedAt  time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}
