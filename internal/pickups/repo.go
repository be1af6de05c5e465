package pickups

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/handoffmarket/handoff-backend/pkg/db/models"
	"github.com/handoffmarket/handoff-backend/pkg/enums"
)

// Repository persists pickups. transaction_id is unique, so Create fails on a second row.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, pickup *models.Pickup) error
	FindByTransactionID(ctx context.Context, transactionID uuid.UUID) (*models.Pickup, error)
	FindByTransactionIDForUpdate(ctx context.Context, transactionID uuid.UUID) (*models.Pickup, error)
	MarkConfirmed(ctx context.Context, id, confirmedBy uuid.UUID, at time.Time) (bool, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, pickup *models.Pickup) error {
	if pickup.ID == uuid.Nil {
		pickup.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(pickup).Error
}

func (r *repository) FindByTransactionID(ctx context.Context, transactionID uuid.UUID) (*models.Pickup, error) {
	var pickup models.Pickup
	if err := r.db.WithContext(ctx).First(&pickup, "transaction_id = ?", transactionID).Error; err != nil {
		return nil, err
	}
	return &pickup, nil
}

func (r *repository) FindByTransactionIDForUpdate(ctx context.Context, transactionID uuid.UUID) (*models.Pickup, error) {
	var pickup models.Pickup
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&pickup, "transaction_id = ?", transactionID).Error; err != nil {
		return nil, err
	}
	return &pickup, nil
}

func (r *repository) MarkConfirmed(ctx context.Context, id, confirmedBy uuid.UUID, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Pickup{}).
		Where("id = ? AND status = ?", id, enums.PickupStatusGenerated).
		Updates(map[string]any{
			"status":       enums.PickupStatusConfirmed,
			"confirmed_at": at,
			"confirmed_by": confirmedBy,
		})
	return res.RowsAffected == 1, res.Error
}
