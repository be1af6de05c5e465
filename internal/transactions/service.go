package transactions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/handoffmarket/handoff-backend/internal/audit"
	"github.com/handoffmarket/handoff-backend/internal/listings"
	"github.com/handoffmarket/handoff-backend/internal/notifications"
	"github.com/handoffmarket/handoff-backend/internal/users"
	"github.com/handoffmarket/handoff-backend/pkg/db/models"
	"github.com/handoffmarket/handoff-backend/pkg/enums"
	pkgerrors "github.com/handoffmarket/handoff-backend/pkg/errors"
	"github.com/handoffmarket/handoff-backend/pkg/logger"
	"github.com/handoffmarket/handoff-backend/pkg/money"
	"github.com/handoffmarket/handoff-backend/pkg/outbox"
	"github.com/handoffmarket/handoff-backend/pkg/outbox/payloads"
	"github.com/handoffmarket/handoff-backend/pkg/razorpay"
)

const defaultCancelReason = "cancelled_by_participant"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// OrderGateway creates gateway orders the buyer pays against.
type OrderGateway interface {
	CreateOrder(ctx context.Context, req razorpay.CreateOrderRequest) (*razorpay.Order, error)
	KeyID() string
}

// Refunder issues a full refund of a paid transaction.
type Refunder interface {
	FullRefund(ctx context.Context, transactionID, actorID uuid.UUID, reason string, reactivateListing bool) (*models.Refund, error)
}

type pickupReader interface {
	FindByTransactionID(ctx context.Context, transactionID uuid.UUID) (*models.Pickup, error)
}

type refundReader interface {
	ListByTransactionID(ctx context.Context, transactionID uuid.UUID) ([]models.Refund, error)
}

// Service covers the buyer-facing lifecycle around settlement: opening an order,
// reading it back and cancelling it.
type Service interface {
	Initiate(ctx context.Context, input InitiateInput) (*InitiateResult, error)
	Get(ctx context.Context, input GetInput) (*Detail, error)
	Cancel(ctx context.Context, input CancelInput) (*Public, error)
}

// InitiateInput opens a purchase. Amount is an optional rupee override of the listing price.
type InitiateInput struct {
	BuyerID   uuid.UUID
	SellerID  uuid.UUID
	ListingID uuid.UUID
	Amount    *decimal.Decimal
}

type OrderDescriptor struct {
	ID          string `json:"id"`
	AmountPaise int64  `json:"amount"`
	Currency    string `json:"currency"`
	KeyID       string `json:"key_id"`
}

type InitiateResult struct {
	TransactionID uuid.UUID       `json:"transaction_id"`
	Order         OrderDescriptor `json:"order"`
}

type GetInput struct {
	TransactionID uuid.UUID
	ActorID       uuid.UUID
	ActorRole     enums.UserRole
}

type CancelInput struct {
	TransactionID uuid.UUID
	ActorID       uuid.UUID
	ActorRole     enums.UserRole
	Reason        string
}

type ServiceParams struct {
	Tx           txRunner
	Transactions Repository
	Listings     listings.Repository
	Pickups      pickupReader
	Refunds      refundReader
	Eligibility  users.EligibilityChecker
	Gateway      OrderGateway
	Refunder     Refunder
	Audit        audit.Service
	Outbox       outbox.Emitter
	Notifier     notifications.Notifier
	Logger       *logger.Logger
	Now          func() time.Time
}

type service struct {
	tx           txRunner
	transactions Repository
	listings     listings.Repository
	pickups      pickupReader
	refunds      refundReader
	eligibility  users.EligibilityChecker
	gateway      OrderGateway
	refunder     Refunder
	audit        audit.Service
	outbox       outbox.Emitter
	notifier     notifications.Notifier
	logg         *logger.Logger
	now          func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	switch {
	case params.Tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case params.Transactions == nil:
		return nil, fmt.Errorf("transactions repository required")
	case params.Listings == nil:
		return nil, fmt.Errorf("listings repository required")
	case params.Pickups == nil:
		return nil, fmt.Errorf("pickups reader required")
	case params.Refunds == nil:
		return nil, fmt.Errorf("refunds reader required")
	case params.Eligibility == nil:
		return nil, fmt.Errorf("eligibility checker required")
	case params.Gateway == nil:
		return nil, fmt.Errorf("order gateway required")
	case params.Refunder == nil:
		return nil, fmt.Errorf("refunder required")
	case params.Audit == nil:
		return nil, fmt.Errorf("audit service required")
	case params.Outbox == nil:
		return nil, fmt.Errorf("outbox emitter required")
	case params.Notifier == nil:
		return nil, fmt.Errorf("notifier required")
	}
	s := &service{
		tx:           params.Tx,
		transactions: params.Transactions,
		listings:     params.Listings,
		pickups:      params.Pickups,
		refunds:      params.Refunds,
		eligibility:  params.Eligibility,
		gateway:      params.Gateway,
		refunder:     params.Refunder,
		audit:        params.Audit,
		outbox:       params.Outbox,
		notifier:     params.Notifier,
		logg:         params.Logger,
		now:          params.Now,
	}
	if s.logg == nil {
		s.logg = logger.Nop()
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s, nil
}

func (s *service) Initiate(ctx context.Context, input InitiateInput) (*InitiateResult, error) {
	if input.BuyerID == input.SellerID {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "buyer and seller must differ")
	}
	if err := s.eligibility.EnsureCanPurchase(ctx, input.BuyerID); err != nil {
		return nil, err
	}

	listing, err := s.listings.FindByID(ctx, input.ListingID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "listing not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load listing")
	}
	if !listing.IsActive {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "listing is no longer available")
	}
	if listing.OwnerID != input.SellerID {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "seller does not own this listing")
	}

	amount := listing.PricePaise
	if input.Amount != nil {
		amount, err = money.RupeesToPaise(*input.Amount)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid amount")
		}
	}

	txnID := uuid.New()
	ctx = s.logg.WithTransactionID(ctx, txnID.String())
	order, err := s.gateway.CreateOrder(ctx, razorpay.CreateOrderRequest{
		AmountPaise: amount,
		Receipt:     txnID.String(),
		Notes:       map[string]string{"listing_id": listing.ID.String()},
	})
	if err != nil {
		s.logg.Error(ctx, "gateway order creation failed", err)
		if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeValidation {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeGateway, err, "could not create payment order")
	}

	txn := &models.Transaction{
		ID:              txnID,
		BuyerID:         input.BuyerID,
		SellerID:        input.SellerID,
		ListingID:       listing.ID,
		AmountPaise:     amount,
		Currency:        enums.CurrencyINR,
		ExternalOrderID: order.ID,
		Status:          enums.TransactionStatusInitiated,
	}
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		locked, err := s.listings.WithTx(tx).FindByIDForUpdate(ctx, listing.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock listing")
		}
		if !locked.IsActive || locked.OwnerID != input.SellerID {
			return pkgerrors.New(pkgerrors.CodeConflict, "listing is no longer available")
		}
		if err := s.transactions.WithTx(tx).Create(ctx, txn); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create transaction")
		}
		if _, err := s.audit.Record(ctx, tx, audit.RecordInput{
			TransactionID: txn.ID,
			ActorID:       audit.Actor(input.BuyerID),
			Type:          enums.AuditEventTransactionInitiated,
			AmountPaise:   amount,
			Metadata:      map[string]any{"order_id": order.ID},
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record initiation audit")
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventTransactionInitiated,
			AggregateType: enums.AggregateTransaction,
			AggregateID:   txn.ID,
			Actor:         &outbox.ActorRef{UserID: input.BuyerID, Role: string(enums.UserRoleMember)},
			Data:          EventPayload(txn, "", s.now()),
		})
	})
	if err != nil {
		return nil, err
	}

	s.logg.Info(ctx, "transaction initiated")
	return &InitiateResult{
		TransactionID: txn.ID,
		Order: OrderDescriptor{
			ID:          order.ID,
			AmountPaise: amount,
			Currency:    string(enums.CurrencyINR),
			KeyID:       s.gateway.KeyID(),
		},
	}, nil
}

func (s *service) Get(ctx context.Context, input GetInput) (*Detail, error) {
	txn, err := s.load(ctx, input.TransactionID)
	if err != nil {
		return nil, err
	}
	if !txn.IsParticipant(input.ActorID) && input.ActorRole != enums.UserRoleAdmin {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "not a participant of this transaction")
	}

	detail := &Detail{Transaction: PublicFrom(txn), Refunds: []RefundSummary{}}
	pickup, err := s.pickups.FindByTransactionID(ctx, txn.ID)
	switch {
	case err == nil:
		detail.Pickup = SummarizePickup(pickup, txn, input.ActorID)
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load pickup")
	}

	refunds, err := s.refunds.ListByTransactionID(ctx, txn.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list refunds")
	}
	for _, r := range refunds {
		detail.Refunds = append(detail.Refunds, RefundSummary{
			ID:          r.ID,
			AmountPaise: r.AmountPaise,
			Status:      r.Status,
			Reason:      r.Reason,
			CreatedAt:   r.CreatedAt,
		})
	}
	return detail, nil
}

// Cancel ends a transaction before handover. An unpaid order is cancelled in
// place; a paid one is fully refunded and the listing goes back on sale.
func (s *service) Cancel(ctx context.Context, input CancelInput) (*Public, error) {
	txn, err := s.load(ctx, input.TransactionID)
	if err != nil {
		return nil, err
	}
	if !txn.IsParticipant(input.ActorID) && input.ActorRole != enums.UserRoleAdmin {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "not allowed to cancel this transaction")
	}
	if txn.Status.IsTerminal() {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "transaction already "+strings.ToLower(string(txn.Status)))
	}
	if err := s.ensurePickupOpen(ctx, txn.ID); err != nil {
		return nil, err
	}

	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		reason = defaultCancelReason
	}
	ctx = s.logg.WithTransactionID(ctx, txn.ID.String())

	if txn.Status == enums.TransactionStatusInitiated {
		cancelled, err := s.cancelUnpaid(ctx, txn.ID, input.ActorID, reason)
		if err != nil {
			return nil, err
		}
		if cancelled {
			s.logg.Info(ctx, "transaction cancelled before payment")
			return s.public(ctx, txn.ID)
		}
		// Settled while we were deciding; the paid branch below handles it.
	}

	if _, err := s.refunder.FullRefund(ctx, txn.ID, input.ActorID, reason, true); err != nil {
		return nil, err
	}
	s.logg.Info(ctx, "paid transaction cancelled and refunded")
	return s.public(ctx, txn.ID)
}

// cancelUnpaid reports false when the transaction left INITIATED before the lock was taken.
func (s *service) cancelUnpaid(ctx context.Context, id, actorID uuid.UUID, reason string) (bool, error) {
	cancelled := false
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		txnRepo := s.transactions.WithTx(tx)
		txn, err := txnRepo.FindByIDForUpdate(ctx, id)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock transaction")
		}
		switch txn.Status {
		case enums.TransactionStatusInitiated:
		case enums.TransactionStatusPaid:
			return nil
		default:
			return pkgerrors.New(pkgerrors.CodeConflict, "transaction already "+strings.ToLower(string(txn.Status)))
		}

		now := s.now()
		ok, err := txnRepo.MarkCancelled(ctx, txn.ID, now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel transaction")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "transaction changed concurrently")
		}
		txn.Status = enums.TransactionStatusCancelled
		txn.CancelledAt = &now

		if _, err := s.listings.WithTx(tx).Reactivate(ctx, txn.ListingID, txn.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reactivate listing")
		}
		if _, err := s.audit.Record(ctx, tx, audit.RecordInput{
			TransactionID: txn.ID,
			ActorID:       audit.Actor(actorID),
			Type:          enums.AuditEventTransactionCancelled,
			Metadata:      map[string]any{"reason": reason},
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record cancellation audit")
		}
		for _, recipient := range []uuid.UUID{txn.BuyerID, txn.SellerID} {
			if recipient == actorID {
				continue
			}
			if err := s.notifier.Notify(ctx, tx, notifications.Notification{
				RecipientID:   recipient,
				TransactionID: txn.ID,
				Type:          enums.NotificationTransactionCancelled,
				Title:         "Transaction cancelled",
				Message:       "The purchase was cancelled before payment.",
			}); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue cancellation notification")
			}
		}
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventTransactionCancelled,
			AggregateType: enums.AggregateTransaction,
			AggregateID:   txn.ID,
			Data:          EventPayload(txn, reason, now),
		}); err != nil {
			return err
		}
		cancelled = true
		return nil
	})
	return cancelled, err
}

func (s *service) ensurePickupOpen(ctx context.Context, transactionID uuid.UUID) error {
	pickup, err := s.pickups.FindByTransactionID(ctx, transactionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load pickup")
	}
	if pickup.Status == enums.PickupStatusConfirmed {
		return pkgerrors.New(pkgerrors.CodeConflict, "pickup already confirmed")
	}
	return nil
}

func (s *service) load(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	txn, err := s.transactions.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transaction")
	}
	return txn, nil
}

func (s *service) public(ctx context.Context, id uuid.UUID) (*Public, error) {
	txn, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	view := PublicFrom(txn)
	return &view, nil
}

// EventPayload builds the outbox payload for a transaction status change.
func EventPayload(txn *models.Transaction, reason string, at time.Time) payloads.TransactionEvent {
	event := payloads.TransactionEvent{
		TransactionID:   txn.ID,
		BuyerID:         txn.BuyerID,
		SellerID:        txn.SellerID,
		ListingID:       txn.ListingID,
		Status:          txn.Status,
		AmountPaise:     txn.AmountPaise,
		RefundedPaise:   txn.RefundedPaise,
		ExternalOrderID: txn.ExternalOrderID,
		Reason:          reason,
		OccurredAt:      at,
	}
	if txn.SettlementSource != nil {
		event.SettlementSource = string(*txn.SettlementSource)
	}
	return event
}
