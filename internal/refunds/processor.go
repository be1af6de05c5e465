package refunds

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
	"github.com/handoffmarket/handoff-backend/internal/pickups"
	"github.com/handoffmarket/handoff-backend/internal/transactions"
	"github.com/handoffmarket/handoff-backend/pkg/db"
	"github.com/handoffmarket/handoff-backend/pkg/db/models"
	"github.com/handoffmarket/handoff-backend/pkg/enums"
	pkgerrors "github.com/handoffmarket/handoff-backend/pkg/errors"
	"github.com/handoffmarket/handoff-backend/pkg/logger"
	"github.com/handoffmarket/handoff-backend/pkg/metrics"
	"github.com/handoffmarket/handoff-backend/pkg/money"
	"github.com/handoffmarket/handoff-backend/pkg/outbox"
	"github.com/handoffmarket/handoff-backend/pkg/outbox/payloads"
	"github.com/handoffmarket/handoff-backend/pkg/razorpay"
)

const (
	liveRefundIndex = "refunds_one_live_per_transaction"
	// resumeAfter is how long a pending refund without a recorded outcome
	// counts as still in flight.
	resumeAfter = 2 * time.Minute
)

var errOutcomeUnknown = errors.New("refund outcome unknown")

// IsOutcomeUnknown reports whether err left the refund pending because the
// gateway gave no definite answer.
func IsOutcomeUnknown(err error) bool {
	return errors.Is(err, errOutcomeUnknown)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Gateway is the refund half of the payment gateway client.
type Gateway interface {
	Refund(ctx context.Context, req razorpay.RefundRequest) (*razorpay.Refund, error)
}

type refundMetrics interface {
	IncRefund(status string)
}

// Processor moves money back to the buyer for a paid transaction, or for a
// cancelled one whose payment was captured after the cancellation.
type Processor interface {
	Refund(ctx context.Context, input RefundInput) (*models.Refund, error)
	FullRefund(ctx context.Context, transactionID, actorID uuid.UUID, reason string, reactivateListing bool) (*models.Refund, error)
	Resume(ctx context.Context, refundID uuid.UUID) (*models.Refund, error)
	ListByTransactionID(ctx context.Context, transactionID uuid.UUID) ([]models.Refund, error)
}

// RefundInput describes one refund. Amount is in rupees; Amount and Percentage
// are exclusive and leaving both nil refunds the full amount. ActorID uuid.Nil
// marks a system-initiated refund.
type RefundInput struct {
	TransactionID     uuid.UUID
	Amount            *decimal.Decimal
	Percentage        *decimal.Decimal
	Reason            string
	ActorID           uuid.UUID
	DisputeID         *uuid.UUID
	AllowAfterPickup  bool
	ReactivateListing bool
}

type ProcessorParams struct {
	Tx           txRunner
	Transactions transactions.Repository
	Listings     listings.Repository
	Pickups      pickups.Repository
	Refunds      Repository
	Audit        audit.Service
	Outbox       outbox.Emitter
	Notifier     notifications.Notifier
	Gateway      Gateway
	Metrics      refundMetrics
	Logger       *logger.Logger
	Now          func() time.Time
}

type processor struct {
	tx           txRunner
	transactions transactions.Repository
	listings     listings.Repository
	pickups      pickups.Repository
	refunds      Repository
	audit        audit.Service
	outbox       outbox.Emitter
	notifier     notifications.Notifier
	gateway      Gateway
	metrics      refundMetrics
	logg         *logger.Logger
	now          func() time.Time
}

func NewProcessor(params ProcessorParams) (Processor, error) {
	switch {
	case params.Tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case params.Transactions == nil:
		return nil, fmt.Errorf("transactions repository required")
	case params.Listings == nil:
		return nil, fmt.Errorf("listings repository required")
	case params.Pickups == nil:
		return nil, fmt.Errorf("pickups repository required")
	case params.Refunds == nil:
		return nil, fmt.Errorf("refunds repository required")
	case params.Audit == nil:
		return nil, fmt.Errorf("audit service required")
	case params.Outbox == nil:
		return nil, fmt.Errorf("outbox emitter required")
	case params.Notifier == nil:
		return nil, fmt.Errorf("notifier required")
	case params.Gateway == nil:
		return nil, fmt.Errorf("refund gateway required")
	}
	p := &processor{
		tx:           params.Tx,
		transactions: params.Transactions,
		listings:     params.Listings,
		pickups:      params.Pickups,
		refunds:      params.Refunds,
		audit:        params.Audit,
		outbox:       params.Outbox,
		notifier:     params.Notifier,
		gateway:      params.Gateway,
		metrics:      params.Metrics,
		logg:         params.Logger,
		now:          params.Now,
	}
	if p.metrics == nil {
		p.metrics = metrics.NewSettlementMetrics(nil)
	}
	if p.logg == nil {
		p.logg = logger.Nop()
	}
	if p.now == nil {
		p.now = func() time.Time { return time.Now().UTC() }
	}
	return p, nil
}

func (p *processor) FullRefund(ctx context.Context, transactionID, actorID uuid.UUID, reason string, reactivateListing bool) (*models.Refund, error) {
	return p.Refund(ctx, RefundInput{
		TransactionID:     transactionID,
		Reason:            reason,
		ActorID:           actorID,
		ReactivateListing: reactivateListing,
	})
}

func (p *processor) ListByTransactionID(ctx context.Context, transactionID uuid.UUID) ([]models.Refund, error) {
	rows, err := p.refunds.ListByTransactionID(ctx, transactionID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list refunds")
	}
	return rows, nil
}

func (p *processor) Refund(ctx context.Context, input RefundInput) (*models.Refund, error) {
	if input.TransactionID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction id required")
	}
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund reason required")
	}
	if input.Amount != nil && input.Percentage != nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount and percentage are mutually exclusive")
	}
	ctx = p.logg.WithTransactionID(ctx, input.TransactionID.String())

	refund, paymentID, err := p.reserve(ctx, input, reason)
	if err != nil {
		if db.IsUniqueViolation(err, liveRefundIndex) {
			p.metrics.IncRefund("conflict")
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "a refund is already in progress for this transaction")
		}
		if pkgerrors.As(err) == nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reserve refund")
		}
		return nil, err
	}
	return p.submit(ctx, refund, paymentID)
}

// Resume re-sends a pending refund under its original idempotency key and
// records the gateway's answer. A refund that already left pending is
// returned as it is.
func (p *processor) Resume(ctx context.Context, refundID uuid.UUID) (*models.Refund, error) {
	if refundID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund id required")
	}
	current, err := p.refunds.FindByID(ctx, refundID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "refund not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load refund")
	}
	ctx = p.logg.WithTransactionID(ctx, current.TransactionID.String())

	var (
		refund    *models.Refund
		paymentID string
	)
	err = p.tx.WithTx(ctx, func(tx *gorm.DB) error {
		txn, err := p.transactions.WithTx(tx).FindByIDForUpdate(ctx, current.TransactionID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transaction")
		}
		repo := p.refunds.WithTx(tx)
		locked, err := repo.FindByID(ctx, refundID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load refund")
		}
		refund = locked
		if locked.Status != enums.RefundStatusPending {
			return nil
		}
		if txn.ExternalPaymentID == nil || *txn.ExternalPaymentID == "" {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "transaction has no captured payment")
		}
		if err := p.markAttempted(ctx, repo, locked); err != nil {
			return err
		}
		paymentID = *txn.ExternalPaymentID
		return nil
	})
	if err != nil {
		if pkgerrors.As(err) == nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resume refund")
		}
		return nil, err
	}
	if refund.Status != enums.RefundStatusPending {
		return refund, nil
	}
	p.logg.Info(p.logg.WithField(ctx, "refund_id", refund.ID.String()), "resuming pending refund")
	return p.submit(ctx, refund, paymentID)
}

// reserve validates the transaction under its row lock and returns the refund
// to send: a new pending row, or the existing pending one for the same amount
// once its last call has ended without an answer.
func (p *processor) reserve(ctx context.Context, input RefundInput, reason string) (*models.Refund, string, error) {
	var (
		refund    *models.Refund
		paymentID string
	)
	err := p.tx.WithTx(ctx, func(tx *gorm.DB) error {
		txn, err := p.transactions.WithTx(tx).FindByIDForUpdate(ctx, input.TransactionID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transaction")
		}
		switch {
		case txn.Status == enums.TransactionStatusRefunded:
			return pkgerrors.New(pkgerrors.CodeConflict, "transaction already refunded")
		case txn.Status != enums.TransactionStatusPaid && txn.Status != enums.TransactionStatusCancelled:
			return pkgerrors.New(pkgerrors.CodeStateConflict, "only paid transactions can be refunded")
		case txn.ExternalPaymentID == nil || *txn.ExternalPaymentID == "":
			return pkgerrors.New(pkgerrors.CodeStateConflict, "transaction has no captured payment")
		}

		if !input.AllowAfterPickup {
			pickup, err := p.pickups.WithTx(tx).FindByTransactionID(ctx, txn.ID)
			switch {
			case err == nil && pickup.Status == enums.PickupStatusConfirmed:
				return pkgerrors.New(pkgerrors.CodeConflict, "pickup already confirmed")
			case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load pickup")
			}
		}

		amount, err := ResolveAmount(txn.AmountPaise, input.Amount, input.Percentage)
		if err != nil {
			return err
		}
		paymentID = *txn.ExternalPaymentID

		repo := p.refunds.WithTx(tx)
		pending, err := repo.FindPendingByTransactionID(ctx, txn.ID)
		switch {
		case err == nil:
			if pending.AmountPaise != amount || !sameDispute(pending.DisputeID, input.DisputeID) || !resumable(pending, p.now()) {
				p.metrics.IncRefund("conflict")
				return pkgerrors.New(pkgerrors.CodeConflict, "a refund is already in progress for this transaction")
			}
			refund = pending
			return p.markAttempted(ctx, repo, pending)
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load pending refund")
		}

		now := p.now()
		refund = &models.Refund{
			ID:                uuid.New(),
			TransactionID:     txn.ID,
			DisputeID:         input.DisputeID,
			AmountPaise:       amount,
			Reason:            reason,
			InitiatedBy:       audit.Actor(input.ActorID),
			Status:            enums.RefundStatusPending,
			ReactivateListing: input.ReactivateListing,
			AttemptedAt:       &now,
		}
		return repo.Create(ctx, refund)
	})
	return refund, paymentID, err
}

func (p *processor) markAttempted(ctx context.Context, repo Repository, refund *models.Refund) error {
	now := p.now()
	if _, err := repo.MarkAttempted(ctx, refund.ID, now); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark refund attempt")
	}
	refund.AttemptedAt = &now
	refund.FailureReason = nil
	return nil
}

// submit sends refund to the gateway with its row ID as the idempotency key.
// Outcomes are written with a context that outlives the caller's, so a timed
// out request still records what the gateway said.
func (p *processor) submit(ctx context.Context, refund *models.Refund, paymentID string) (*models.Refund, error) {
	result, gatewayErr := p.gateway.Refund(ctx, razorpay.RefundRequest{
		PaymentID:      paymentID,
		AmountPaise:    refund.AmountPaise,
		IdempotencyKey: refund.ID.String(),
		Notes:          map[string]string{"transaction_id": refund.TransactionID.String(), "reason": refund.Reason},
	})
	writeCtx := context.WithoutCancel(ctx)
	if gatewayErr != nil {
		if razorpay.Rejected(gatewayErr) {
			return nil, p.fail(writeCtx, refund, gatewayErr)
		}
		return nil, p.unresolved(writeCtx, refund, gatewayErr)
	}
	if err := p.complete(writeCtx, refund, result.ID); err != nil {
		p.logg.Error(ctx, "refund issued by gateway but not recorded, left pending", err)
		return nil, err
	}
	p.metrics.IncRefund(string(refund.Status))
	p.logg.Info(ctx, "refund issued")
	return refund, nil
}

func (p *processor) complete(ctx context.Context, refund *models.Refund, externalID string) error {
	return p.tx.WithTx(ctx, func(tx *gorm.DB) error {
		txnRepo := p.transactions.WithTx(tx)
		txn, err := txnRepo.FindByIDForUpdate(ctx, refund.TransactionID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transaction")
		}

		refundRepo := p.refunds.WithTx(tx)
		won, err := refundRepo.MarkSucceeded(ctx, refund.ID, externalID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark refund succeeded")
		}
		if !won {
			current, err := refundRepo.FindByID(ctx, refund.ID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load refund")
			}
			*refund = *current
			return nil
		}
		refund.Status = enums.RefundStatusSucceeded
		refund.ExternalRefundID = &externalID
		refund.FailureReason = nil

		now := p.now()
		updated, err := txnRepo.MarkRefunded(ctx, txn.ID, refund.AmountPaise, now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark transaction refunded")
		}
		if !updated {
			p.logg.Warn(ctx, "refund succeeded but transaction was no longer refundable")
		}

		if _, err := p.audit.Record(ctx, tx, audit.RecordInput{
			TransactionID: txn.ID,
			ActorID:       refund.InitiatedBy,
			Type:          enums.AuditEventRefundIssued,
			AmountPaise:   refund.AmountPaise,
			Metadata: map[string]any{
				"refund_id":          refund.ID.String(),
				"external_refund_id": externalID,
				"reason":             refund.Reason,
			},
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record refund audit")
		}

		if refund.ReactivateListing {
			if _, err := p.listings.WithTx(tx).Reactivate(ctx, txn.ListingID, txn.ID); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reactivate listing")
			}
		}

		if err := p.notifier.Notify(ctx, tx, notifications.Notification{
			RecipientID:   txn.BuyerID,
			TransactionID: txn.ID,
			Type:          enums.NotificationRefundIssued,
			Title:         "Refund issued",
			Message:       fmt.Sprintf("A refund of Rs %s is on its way.", money.PaiseToRupees(refund.AmountPaise)),
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue refund notification")
		}

		return p.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventTransactionRefunded,
			AggregateType: enums.AggregateTransaction,
			AggregateID:   txn.ID,
			Data: payloads.TransactionEvent{
				TransactionID:   txn.ID,
				BuyerID:         txn.BuyerID,
				SellerID:        txn.SellerID,
				ListingID:       txn.ListingID,
				Status:          enums.TransactionStatusRefunded,
				AmountPaise:     txn.AmountPaise,
				RefundedPaise:   refund.AmountPaise,
				ExternalOrderID: txn.ExternalOrderID,
				Reason:          refund.Reason,
				OccurredAt:      now,
			},
		})
	})
}

// fail records a definite gateway rejection and returns the error the caller
// sees. The transaction keeps its status.
func (p *processor) fail(ctx context.Context, refund *models.Refund, gatewayErr error) error {
	p.metrics.IncRefund(string(enums.RefundStatusFailed))
	p.logg.Error(ctx, "gateway refund failed", gatewayErr)

	failure := gatewayErr.Error()
	err := p.tx.WithTx(ctx, func(tx *gorm.DB) error {
		won, err := p.refunds.WithTx(tx).MarkFailed(ctx, refund.ID, failure)
		if err != nil || !won {
			return err
		}
		if _, err := p.audit.Record(ctx, tx, audit.RecordInput{
			TransactionID: refund.TransactionID,
			ActorID:       refund.InitiatedBy,
			Type:          enums.AuditEventRefundFailed,
			AmountPaise:   refund.AmountPaise,
			Metadata: map[string]any{
				"refund_id": refund.ID.String(),
				"error":     failure,
			},
		}); err != nil {
			return err
		}
		return p.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventRefundFailed,
			AggregateType: enums.AggregateRefund,
			AggregateID:   refund.ID,
			Data: payloads.RefundEvent{
				RefundID:      refund.ID,
				TransactionID: refund.TransactionID,
				AmountPaise:   refund.AmountPaise,
				Status:        enums.RefundStatusFailed,
				Reason:        refund.Reason,
				Failure:       failure,
			},
		})
	})
	if err != nil {
		p.logg.Error(ctx, "failed to record refund failure", err)
	}
	refund.Status = enums.RefundStatusFailed
	refund.FailureReason = &failure
	return pkgerrors.Wrap(pkgerrors.CodeGateway, gatewayErr, "refund could not be issued")
}

// unresolved keeps refund pending after the gateway gave no definite answer.
// Retrying the same refund, or the pending refund job, re-sends it under the
// same idempotency key.
func (p *processor) unresolved(ctx context.Context, refund *models.Refund, gatewayErr error) error {
	p.metrics.IncRefund("unknown")
	p.logg.Error(p.logg.WithField(ctx, "refund_id", refund.ID.String()), "gateway refund outcome unknown, left pending", gatewayErr)

	reason := gatewayErr.Error()
	if _, err := p.refunds.MarkUnresolved(ctx, refund.ID, reason); err != nil {
		p.logg.Error(ctx, "failed to record unresolved refund", err)
	}
	refund.FailureReason = &reason
	return pkgerrors.Wrap(pkgerrors.CodeGateway, fmt.Errorf("%w: %w", errOutcomeUnknown, gatewayErr), "refund outcome unknown, retry to resume it")
}

// resumable reports whether a pending refund may be sent again: its last call
// ended without an answer, or it has been out longer than resumeAfter.
func resumable(refund *models.Refund, now time.Time) bool {
	if refund.FailureReason != nil {
		return true
	}
	return refund.AttemptedAt == nil || refund.AttemptedAt.Before(now.Add(-resumeAfter))
}

func sameDispute(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// ResolveAmount turns a rupee amount or a percentage into paise bounded by
// original. Both nil means the full amount.
func ResolveAmount(originalPaise int64, amount, percentage *decimal.Decimal) (int64, error) {
	var (
		paise int64
		err   error
	)
	switch {
	case amount != nil:
		paise, err = money.RupeesToPaise(*amount)
	case percentage != nil:
		paise, err = money.PercentOf(originalPaise, *percentage)
	default:
		paise = originalPaise
	}
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid refund amount")
	}
	paise = money.Clamp(paise, originalPaise)
	if paise == 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "refund amount must be greater than zero")
	}
	return paise, nil
}
