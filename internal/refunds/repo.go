package refunds

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/handoffmarket/handoff-backend/pkg/db/models"
	"github.com/handoffmarket/handoff-backend/pkg/enums"
)

// Repository persists refund attempts. Status writers only move pending rows.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, refund *models.Refund) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Refund, error)
	FindPendingByTransactionID(ctx context.Context, transactionID uuid.UUID) (*models.Refund, error)
	ListByTransactionID(ctx context.Context, transactionID uuid.UUID) ([]models.Refund, error)
	ListStalePending(ctx context.Context, attemptedBefore time.Time, limit int) ([]models.Refund, error)
	MarkAttempted(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	MarkUnresolved(ctx context.Context, id uuid.UUID, reason string) (bool, error)
	MarkSucceeded(ctx context.Context, id uuid.UUID, externalRefundID string) (bool, error)
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) (bool, error)
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

func (r *repository) Create(ctx context.Context, refund *models.Refund) error {
	if refund.ID == uuid.Nil {
		refund.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(refund).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Refund, error) {
	var refund models.Refund
	if err := r.db.WithContext(ctx).First(&refund, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &refund, nil
}

func (r *repository) FindPendingByTransactionID(ctx context.Context, transactionID uuid.UUID) (*models.Refund, error) {
	var refund models.Refund
	err := r.db.WithContext(ctx).
		Where("transaction_id = ? AND status = ?", transactionID, enums.RefundStatusPending).
		First(&refund).Error
	if err != nil {
		return nil, err
	}
	return &refund, nil
}

func (r *repository) ListByTransactionID(ctx context.Context, transactionID uuid.UUID) ([]models.Refund, error) {
	var rows []models.Refund
	err := r.db.WithContext(ctx).
		Where("transaction_id = ?", transactionID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error
	return rows, err
}

// ListStalePending returns pending refunds whose last gateway call started
// before attemptedBefore, oldest first.
func (r *repository) ListStalePending(ctx context.Context, attemptedBefore time.Time, limit int) ([]models.Refund, error) {
	var rows []models.Refund
	err := r.db.WithContext(ctx).
		Where("status = ?", enums.RefundStatusPending).
		Where("attempted_at IS NULL OR attempted_at < ?", attemptedBefore).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// MarkAttempted stamps a new gateway call and clears the previous ambiguous failure.
func (r *repository) MarkAttempted(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Refund{}).
		Where("id = ? AND status = ?", id, enums.RefundStatusPending).
		Updates(map[string]any{
			"attempted_at":   at,
			"failure_reason": gorm.Expr("NULL"),
		})
	return res.RowsAffected == 1, res.Error
}

// MarkUnresolved notes why the last call ended without a definite answer. The
// row stays pending.
func (r *repository) MarkUnresolved(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Refund{}).
		Where("id = ? AND status = ?", id, enums.RefundStatusPending).
		Update("failure_reason", reason)
	return res.RowsAffected == 1, res.Error
}

func (r *repository) MarkSucceeded(ctx context.Context, id uuid.UUID, externalRefundID string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Refund{}).
		Where("id = ? AND status = ?", id, enums.RefundStatusPending).
		Updates(map[string]any{
			"status":             enums.RefundStatusSucceeded,
			"external_refund_id": externalRefundID,
			"failure_reason":     gorm.Expr("NULL"),
		})
	return res.RowsAffected == 1, res.Error
}

func (r *repository) MarkFailed(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Refund{}).
		Where("id = ? AND status = ?", id, enums.RefundStatusPending).
		Updates(map[string]any{
			"status":         enums.RefundStatusFailed,
			"failure_reason": reason,
		})
	return res.RowsAffected == 1, res.Error
}
