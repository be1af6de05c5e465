package transactions

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/handoffmarket/handoff-backend/pkg/db/models"
	"github.com/handoffmarket/handoff-backend/pkg/enums"
)

// Repository persists transactions. Status writers are conditional on the
// expected prior status and report whether they won.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, txn *models.Transaction) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	FindByOrderIDForUpdate(ctx context.Context, orderID string) (*models.Transaction, error)
	MarkPaid(ctx context.Context, id uuid.UUID, paymentID string, source enums.SettlementSource, at time.Time) (bool, error)
	MarkCancelled(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	RecordLateCapture(ctx context.Context, id uuid.UUID, paymentID string, source enums.SettlementSource) (bool, error)
	MarkRefunded(ctx context.Context, id uuid.UUID, refundedPaise int64, at time.Time) (bool, error)
	ListPaidWithoutPickup(ctx context.Context, paidBefore time.Time, limit int) ([]models.Transaction, error)
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

func (r *repository) Create(ctx context.Context, txn *models.Transaction) error {
	if txn.ID == uuid.Nil {
		txn.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(txn).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	var txn models.Transaction
	if err := r.db.WithContext(ctx).First(&txn, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *repository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	var txn models.Transaction
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&txn, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *repository) FindByOrderIDForUpdate(ctx context.Context, orderID string) (*models.Transaction, error) {
	var txn models.Transaction
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&txn, "external_order_id = ?", orderID).Error; err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *repository) MarkPaid(ctx context.Context, id uuid.UUID, paymentID string, source enums.SettlementSource, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("id = ? AND status = ?", id, enums.TransactionStatusInitiated).
		Updates(map[string]any{
			"status":              enums.TransactionStatusPaid,
			"external_payment_id": paymentID,
			"settlement_source":   source,
			"paid_at":             at,
		})
	return res.RowsAffected == 1, res.Error
}

func (r *repository) MarkCancelled(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("id = ? AND status = ?", id, enums.TransactionStatusInitiated).
		Updates(map[string]any{
			"status":       enums.TransactionStatusCancelled,
			"cancelled_at": at,
		})
	return res.RowsAffected == 1, res.Error
}

// RecordLateCapture keeps the payment id of a capture that arrived after the
// transaction was cancelled, so the money can be refunded. Status is unchanged.
func (r *repository) RecordLateCapture(ctx context.Context, id uuid.UUID, paymentID string, source enums.SettlementSource) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("id = ? AND status = ? AND external_payment_id IS NULL", id, enums.TransactionStatusCancelled).
		Updates(map[string]any{
			"external_payment_id": paymentID,
			"settlement_source":   source,
		})
	return res.RowsAffected == 1, res.Error
}

// MarkRefunded closes a paid transaction, or a cancelled one holding a late capture.
func (r *repository) MarkRefunded(ctx context.Context, id uuid.UUID, refundedPaise int64, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("id = ? AND status IN ?", id, []enums.TransactionStatus{enums.TransactionStatusPaid, enums.TransactionStatusCancelled}).
		Updates(map[string]any{
			"status":         enums.TransactionStatusRefunded,
			"refunded_paise": refundedPaise,
			"refunded_at":    at,
		})
	return res.RowsAffected == 1, res.Error
}

// ListPaidWithoutPickup finds settled sales whose pickup was never generated.
func (r *repository) ListPaidWithoutPickup(ctx context.Context, paidBefore time.Time, limit int) ([]models.Transaction, error) {
	var rows []models.Transaction
	err := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Joins("JOIN listings ON listings.id = transactions.listing_id AND listings.sold_transaction_id = transactions.id").
		Where("transactions.status = ? AND transactions.paid_at < ?", enums.TransactionStatusPaid, paidBefore).
		Where("NOT EXISTS (SELECT 1 FROM pickups WHERE pickups.transaction_id = transactions.id)").
		Order("transactions.paid_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
