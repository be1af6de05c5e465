package pickups

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/handoffmarket/handoff-backend/internal/audit"
	"github.com/handoffmarket/handoff-backend/internal/listings"
	"github.com/handoffmarket/handoff-backend/internal/notifications"
	"github.com/handoffmarket/handoff-backend/internal/transactions"
	"github.com/handoffmarket/handoff-backend/pkg/config"
	"github.com/handoffmarket/handoff-backend/pkg/db"
	"github.com/handoffmarket/handoff-backend/pkg/db/models"
	"github.com/handoffmarket/handoff-backend/pkg/enums"
	pkgerrors "github.com/handoffmarket/handoff-backend/pkg/errors"
	"github.com/handoffmarket/handoff-backend/pkg/logger"
	"github.com/handoffmarket/handoff-backend/pkg/metrics"
	"github.com/handoffmarket/handoff-backend/pkg/outbox"
	"github.com/handoffmarket/handoff-backend/pkg/outbox/payloads"
	"github.com/handoffmarket/handoff-backend/pkg/redis"
)

const rateLimitScope = "pickup_confirm"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type pickupMetrics interface {
	IncPickup(action, result string)
}

// Manager owns the in-person handover code for a paid transaction.
type Manager interface {
	Generate(ctx context.Context, input GenerateInput) (*models.Pickup, error)
	EnsureForSettlement(ctx context.Context, transactionID uuid.UUID) (*models.Pickup, error)
	Confirm(ctx context.Context, input ConfirmInput) (*ConfirmResult, error)
	Get(ctx context.Context, input GetInput) (*View, error)
}

type GenerateInput struct {
	TransactionID uuid.UUID
	ActorID       uuid.UUID
}

type ConfirmInput struct {
	TransactionID uuid.UUID
	Code          string
	ActorID       uuid.UUID
}

// ConfirmResult has the same shape for a fresh confirmation and a repeat.
type ConfirmResult struct {
	Pickup           *models.Pickup
	AlreadyConfirmed bool
}

type GetInput struct {
	TransactionID uuid.UUID
	ActorID       uuid.UUID
	ActorRole     enums.UserRole
}

// View is the participant-facing pickup. Code is only set for the buyer.
type View struct {
	TransactionID uuid.UUID          `json:"transaction_id"`
	Status        enums.PickupStatus `json:"status"`
	PickupCode    string             `json:"pickup_code,omitempty"`
	ConfirmedAt   *time.Time         `json:"confirmed_at,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
}

// ManagerParams names the pickup manager dependencies.
type ManagerParams struct {
	Tx           txRunner
	Transactions transactions.Repository
	Listings     listings.Repository
	Pickups      Repository
	Audit        audit.Service
	Outbox       outbox.Emitter
	Notifier     notifications.Notifier
	Limiter      redis.AttemptLimiter
	Config       config.PickupConfig
	Metrics      pickupMetrics
	Logger       *logger.Logger
	NewCode      CodeGenerator
	Now          func() time.Time
}

type manager struct {
	tx           txRunner
	transactions transactions.Repository
	listings     listings.Repository
	pickups      Repository
	audit        audit.Service
	outbox       outbox.Emitter
	notifier     notifications.Notifier
	limiter      redis.AttemptLimiter
	cfg          config.PickupConfig
	metrics      pickupMetrics
	logg         *logger.Logger
	newCode      CodeGenerator
	now          func() time.Time
}

func NewManager(params ManagerParams) (Manager, error) {
	switch {
	case params.Tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case params.Transactions == nil:
		return nil, fmt.Errorf("transactions repository required")
	case params.Listings == nil:
		return nil, fmt.Errorf("listings repository required")
	case params.Pickups == nil:
		return nil, fmt.Errorf("pickups repository required")
	case params.Audit == nil:
		return nil, fmt.Errorf("audit service required")
	case params.Outbox == nil:
		return nil, fmt.Errorf("outbox emitter required")
	case params.Notifier == nil:
		return nil, fmt.Errorf("notifier required")
	case params.Limiter == nil:
		return nil, fmt.Errorf("rate limiter required")
	}
	m := &manager{
		tx:           params.Tx,
		transactions: params.Transactions,
		listings:     params.Listings,
		pickups:      params.Pickups,
		audit:        params.Audit,
		outbox:       params.Outbox,
		notifier:     params.Notifier,
		limiter:      params.Limiter,
		cfg:          params.Config,
		metrics:      params.Metrics,
		logg:         params.Logger,
		newCode:      params.NewCode,
		now:          params.Now,
	}
	if m.newCode == nil {
		m.newCode = NewCode
	}
	if m.now == nil {
		m.now = func() time.Time { return time.Now().UTC() }
	}
	if m.logg == nil {
		m.logg = logger.Nop()
	}
	if m.metrics == nil {
		m.metrics = metrics.NewSettlementMetrics(nil)
	}
	if m.cfg.ConfirmAttemptLimit <= 0 {
		m.cfg.ConfirmAttemptLimit = 5
	}
	if m.cfg.ConfirmAttemptWindow <= 0 {
		m.cfg.ConfirmAttemptWindow = 15 * time.Minute
	}
	return m, nil
}

func (m *manager) Generate(ctx context.Context, input GenerateInput) (*models.Pickup, error) {
	if input.TransactionID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction id required")
	}

	var created *models.Pickup
	err := m.tx.WithTx(ctx, func(tx *gorm.DB) error {
		txn, err := m.transactions.WithTx(tx).FindByIDForUpdate(ctx, input.TransactionID)
		if err != nil {
			return notFoundOr(err, "transaction not found", "load transaction")
		}
		if txn.SellerID != input.ActorID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "only the seller can generate a pickup code")
		}
		if txn.Status != enums.TransactionStatusPaid {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "transaction is not paid")
		}
		if _, err := m.pickups.WithTx(tx).FindByTransactionID(ctx, txn.ID); err == nil {
			return pkgerrors.New(pkgerrors.CodeConflict, "pickup code already generated")
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load pickup")
		}

		if err := m.claimListing(ctx, tx, txn); err != nil {
			return err
		}
		pickup, err := m.createPickup(ctx, tx, txn, audit.Actor(input.ActorID))
		if err != nil {
			return err
		}
		created = pickup
		return nil
	})
	if err != nil {
		if db.IsUniqueViolation(err, "pickups_transaction_id_key") {
			m.metrics.IncPickup("generate", "conflict")
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "pickup code already generated")
		}
		m.metrics.IncPickup("generate", "error")
		return nil, err
	}
	m.metrics.IncPickup("generate", "created")
	return created, nil
}

func (m *manager) EnsureForSettlement(ctx context.Context, transactionID uuid.UUID) (*models.Pickup, error) {
	if existing, err := m.pickups.FindByTransactionID(ctx, transactionID); err == nil {
		return existing, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load pickup")
	}

	var result *models.Pickup
	err := m.tx.WithTx(ctx, func(tx *gorm.DB) error {
		txn, err := m.transactions.WithTx(tx).FindByIDForUpdate(ctx, transactionID)
		if err != nil {
			return notFoundOr(err, "transaction not found", "load transaction")
		}
		if txn.Status != enums.TransactionStatusPaid {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "transaction is not paid")
		}
		if existing, err := m.pickups.WithTx(tx).FindByTransactionID(ctx, txn.ID); err == nil {
			result = existing
			return nil
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load pickup")
		}

		if err := m.claimListing(ctx, tx, txn); err != nil {
			return err
		}
		pickup, err := m.createPickup(ctx, tx, txn, nil)
		if err != nil {
			return err
		}
		result = pickup
		return nil
	})
	if err != nil {
		if db.IsUniqueViolation(err, "pickups_transaction_id_key") {
			return m.pickups.FindByTransactionID(ctx, transactionID)
		}
		return nil, err
	}
	m.metrics.IncPickup("ensure", "ok")
	return result, nil
}

// claimListing locks the listing and checks that txn owns the sale. A listing
// still on sale is marked sold to txn.
func (m *manager) claimListing(ctx context.Context, tx *gorm.DB, txn *models.Transaction) error {
	listingRepo := m.listings.WithTx(tx)
	listing, err := listingRepo.FindByIDForUpdate(ctx, txn.ListingID)
	if err != nil {
		return notFoundOr(err, "listing not found", "lock listing")
	}
	switch {
	case listing.SoldTransactionID != nil && *listing.SoldTransactionID == txn.ID:
		return nil
	case listing.SoldTransactionID != nil || !listing.IsActive:
		return pkgerrors.New(pkgerrors.CodeConflict, "listing was sold to another transaction")
	}
	sold, err := listingRepo.MarkSold(ctx, listing.ID, txn.ID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "deactivate listing")
	}
	if !sold {
		return pkgerrors.New(pkgerrors.CodeConflict, "listing was sold to another transaction")
	}
	return nil
}

// createPickup inserts the row and queues its event and the buyer's code notification in tx.
func (m *manager) createPickup(ctx context.Context, tx *gorm.DB, txn *models.Transaction, actor *uuid.UUID) (*models.Pickup, error) {
	code, err := m.newCode()
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate pickup code")
	}
	pickup := &models.Pickup{
		ID:            uuid.New(),
		TransactionID: txn.ID,
		PickupCode:    code,
		Status:        enums.PickupStatusGenerated,
	}
	if err := m.pickups.WithTx(tx).Create(ctx, pickup); err != nil {
		return nil, err
	}

	if _, err := m.audit.Record(ctx, tx, audit.RecordInput{
		TransactionID: txn.ID,
		ActorID:       actor,
		Type:          enums.AuditEventPickupGenerated,
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record pickup audit")
	}
	if err := m.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventPickupCodeGenerated,
		AggregateType: enums.AggregatePickup,
		AggregateID:   pickup.ID,
		Data: payloads.PickupEvent{
			PickupID:      pickup.ID,
			TransactionID: txn.ID,
			Status:        pickup.Status,
		},
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit pickup event")
	}
	if err := m.notifier.NotifyOnce(ctx, tx, notifications.Notification{
		RecipientID:   txn.BuyerID,
		TransactionID: txn.ID,
		Type:          enums.NotificationPickupCodeGenerated,
		Title:         "Your pickup code is ready",
		Message:       "Show this code to the seller when you collect the item.",
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue pickup notification")
	}
	return pickup, nil
}

func (m *manager) Confirm(ctx context.Context, input ConfirmInput) (*ConfirmResult, error) {
	if input.TransactionID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction id required")
	}
	if !ValidCodeFormat(input.Code) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "pickup code must be 6 digits")
	}

	txn, err := m.transactions.FindByID(ctx, input.TransactionID)
	if err != nil {
		return nil, notFoundOr(err, "transaction not found", "load transaction")
	}
	if txn.SellerID != input.ActorID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only the seller can confirm pickup")
	}

	scope := rateLimitScope + ":" + txn.ID.String()
	allowed, _, err := m.limiter.FixedWindowAllow(ctx, scope, int64(m.cfg.ConfirmAttemptLimit), m.cfg.ConfirmAttemptWindow)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check pickup attempt limit")
	}
	if !allowed {
		m.metrics.IncPickup("confirm", "rate_limited")
		return nil, pkgerrors.New(pkgerrors.CodeRateLimit, "too many pickup confirmation attempts")
	}

	var (
		result   ConfirmResult
		mismatch bool
	)
	err = m.tx.WithTx(ctx, func(tx *gorm.DB) error {
		locked, err := m.transactions.WithTx(tx).FindByIDForUpdate(ctx, txn.ID)
		if err != nil {
			return notFoundOr(err, "transaction not found", "load transaction")
		}
		pickupRepo := m.pickups.WithTx(tx)
		pickup, err := pickupRepo.FindByTransactionIDForUpdate(ctx, locked.ID)
		if err != nil {
			return notFoundOr(err, "pickup not found", "load pickup")
		}
		if !codesMatch(pickup.PickupCode, input.Code) {
			m.metrics.IncPickup("confirm", "mismatch")
			mismatch = true
			return pkgerrors.New(pkgerrors.CodeValidation, "pickup code does not match")
		}
		if pickup.Status == enums.PickupStatusConfirmed {
			result = ConfirmResult{Pickup: pickup, AlreadyConfirmed: true}
			return nil
		}
		if locked.Status != enums.TransactionStatusPaid {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "transaction is not paid")
		}

		now := m.now()
		updated, err := pickupRepo.MarkConfirmed(ctx, pickup.ID, input.ActorID, now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "confirm pickup")
		}
		if !updated {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "pickup changed concurrently")
		}
		actor := input.ActorID
		pickup.Status = enums.PickupStatusConfirmed
		pickup.ConfirmedAt = &now
		pickup.ConfirmedBy = &actor

		if _, err := m.audit.Record(ctx, tx, audit.RecordInput{
			TransactionID: locked.ID,
			ActorID:       &actor,
			Type:          enums.AuditEventPickupConfirmed,
			AmountPaise:   locked.AmountPaise,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record pickup audit")
		}
		if err := m.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPickupConfirmed,
			AggregateType: enums.AggregatePickup,
			AggregateID:   pickup.ID,
			Actor:         &outbox.ActorRef{UserID: actor, Role: string(enums.UserRoleMember)},
			Data: payloads.PickupEvent{
				PickupID:      pickup.ID,
				TransactionID: locked.ID,
				Status:        pickup.Status,
				ConfirmedAt:   pickup.ConfirmedAt,
			},
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit pickup event")
		}
		for _, recipient := range []uuid.UUID{locked.BuyerID, locked.SellerID} {
			if err := m.notifier.NotifyOnce(ctx, tx, notifications.Notification{
				RecipientID:   recipient,
				TransactionID: locked.ID,
				Type:          enums.NotificationPickupConfirmed,
				Title:         "Pickup confirmed",
				Message:       "The item has been handed over.",
			}); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue pickup notification")
			}
		}
		result = ConfirmResult{Pickup: pickup}
		return nil
	})
	if !mismatch {
		// Only wrong codes count toward the limit.
		if relErr := m.limiter.FixedWindowRelease(ctx, scope, m.cfg.ConfirmAttemptWindow); relErr != nil {
			m.logg.Warn(m.logg.WithField(ctx, "error", relErr.Error()), "release pickup attempt failed")
		}
	}
	if err != nil {
		return nil, err
	}

	if result.AlreadyConfirmed {
		m.metrics.IncPickup("confirm", "already_confirmed")
	} else {
		m.metrics.IncPickup("confirm", "confirmed")
		m.logg.Info(m.logg.WithTransactionID(ctx, txn.ID.String()), "pickup confirmed")
	}
	return &result, nil
}

func (m *manager) Get(ctx context.Context, input GetInput) (*View, error) {
	txn, err := m.transactions.FindByID(ctx, input.TransactionID)
	if err != nil {
		return nil, notFoundOr(err, "transaction not found", "load transaction")
	}
	if !txn.IsParticipant(input.ActorID) && input.ActorRole != enums.UserRoleAdmin {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "not a participant of this transaction")
	}
	pickup, err := m.pickups.FindByTransactionID(ctx, txn.ID)
	if err != nil {
		return nil, notFoundOr(err, "pickup not found", "load pickup")
	}
	return ViewFor(pickup, txn, input.ActorID), nil
}

// ViewFor renders pickup for viewerID, revealing the code only to the buyer.
func ViewFor(pickup *models.Pickup, txn *models.Transaction, viewerID uuid.UUID) *View {
	if pickup == nil {
		return nil
	}
	view := &View{
		TransactionID: pickup.TransactionID,
		Status:        pickup.Status,
		ConfirmedAt:   pickup.ConfirmedAt,
		CreatedAt:     pickup.CreatedAt,
	}
	if txn != nil && txn.BuyerID == viewerID {
		view.PickupCode = pickup.PickupCode
	}
	return view
}

func notFoundOr(err error, notFoundMsg, op string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, notFoundMsg)
	}
	if typed := pkgerrors.As(err); typed != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, op)
}
