package disputes

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/handoffmarket/handoff-backend/pkg/db/models"
	"github.com/handoffmarket/handoff-backend/pkg/enums"
)

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, dispute *models.Dispute) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Dispute, error)
	FindActiveByTransactionID(ctx context.Context, transactionID uuid.UUID) (*models.Dispute, error)
	ListByTransactionID(ctx context.Context, transactionID uuid.UUID) ([]models.Dispute, error)
	Update(ctx context.Context, id uuid.UUID, fields map[string]any) error
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

func (r *repository) Create(ctx context.Context, dispute *models.Dispute) error {
	if dispute.ID == uuid.Nil {
		dispute.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(dispute).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	var dispute models.Dispute
	if err := r.db.WithContext(ctx).First(&dispute, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &dispute, nil
}

func (r *repository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	var dispute models.Dispute
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&dispute, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &dispute, nil
}

func (r *repository) FindActiveByTransactionID(ctx context.Context, transactionID uuid.UUID) (*models.Dispute, error) {
	var dispute models.Dispute
	err := r.db.WithContext(ctx).
		Where("transaction_id = ? AND status IN ?", transactionID, []enums.DisputeStatus{enums.DisputeStatusOpen, enums.DisputeStatusInReview}).
		First(&dispute).Error
	if err != nil {
		return nil, err
	}
	return &dispute, nil
}

// ListByTransactionID returns newest first.
func (r *repository) ListByTransactionID(ctx context.Context, transactionID uuid.UUID) ([]models.Dispute, error) {
	var rows []models.Dispute
	err := r.db.WithContext(ctx).
		Where("transaction_id = ?", transactionID).
		Order("created_at DESC").
		Order("id DESC").
		Find(&rows).Error
	return rows, err
}

func (r *repository) Update(ctx context.Context, id uuid.UUID, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&models.Dispute{}).
		Where("id = ?", id).
		Updates(fields).Error
}
