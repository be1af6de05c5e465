package listings

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/handoffmarket/handoff-backend/pkg/db/models"
)

// Repository covers the listing columns this service owns: availability and the
// transaction that sold it. Listing CRUD lives elsewhere.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByID(ctx context.Context, id uuid.UUID) (*models.Listing, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Listing, error)
	MarkSold(ctx context.Context, listingID, transactionID uuid.UUID) (bool, error)
	Reactivate(ctx context.Context, listingID, transactionID uuid.UUID) (bool, error)
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

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	var listing models.Listing
	if err := r.db.WithContext(ctx).First(&listing, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &listing, nil
}

func (r *repository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	var listing models.Listing
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&listing, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &listing, nil
}

// MarkSold deactivates the listing for transactionID. It only flips an active
// listing, so it succeeds at most once per sale.
func (r *repository) MarkSold(ctx context.Context, listingID, transactionID uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Listing{}).
		Where("id = ? AND is_active = ?", listingID, true).
		Updates(map[string]any{
			"is_active":           false,
			"sold_transaction_id": transactionID,
		})
	return res.RowsAffected == 1, res.Error
}

// Reactivate puts the listing back on sale unless another transaction owns the sale.
func (r *repository) Reactivate(ctx context.Context, listingID, transactionID uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Listing{}).
		Where("id = ? AND (sold_transaction_id IS NULL OR sold_transaction_id = ?)", listingID, transactionID).
		Updates(map[string]any{
			"is_active":           true,
			"sold_transaction_id": nil,
		})
	return res.RowsAffected == 1, res.Error
}
