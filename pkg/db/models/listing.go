package models

import (
	"time"

	"github.com/google/uuid"
)

// Listing is the item a seller offers. IsActive flips off when a transaction settles.
type Listing struct {
	ID                uuid.UUID  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OwnerID           uuid.UUID  `gorm:"column:owner_id;type:uuid;not null"`
	Title             string     `gorm:"column:title;not null"`
	PricePaise        int64      `gorm:"column:price_paise;not null"`
	IsActive          bool       `gorm:"column:is_active;not null"`
	SoldTransactionID *uuid.UUID `gorm:"column:sold_transaction_id;type:uuid"`
	CreatedAt         time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}
