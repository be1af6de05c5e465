package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/handoffmarket/handoff-backend/internal/audit"
	"github.com/handoffmarket/handoff-backend/internal/listings"
	"github.com/handoffmarket/handoff-backend/internal/notifications"
	"github.com/handoffmarket/handoff-backend/internal/transactions"
	"github.com/handoffmarket/handoff-backend/pkg/config"
	"github.com/handoffmarket/handoff-backend/pkg/db/models"
	"github.com/handoffmarket/handoff-backend/pkg/enums"
	pkgerrors "github.com/handoffmarket/handoff-backend/pkg/errors"
	"github.com/handoffmarket/handoff-backend/pkg/logger"
	"github.com/handoffmarket/handoff-backend/pkg/metrics"
	"github.com/handoffmarket/handoff-backend/pkg/outbox"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// CheckoutVerifier checks the checkout callback signature.
type CheckoutVerifier interface {
	Verify(orderID, paymentID, signature string) error
}

type pickupIssuer interface {
	EnsureForSettlement(ctx context.Context, transactionID uuid.UUID) (*models.Pickup, error)
}

type pickupReader interface {
	FindByTransactionID(ctx context.Context, transactionID uuid.UUID) (*models.Pickup, error)
}

type refunder interface {
	FullRefund(ctx context.Context, transactionID, actorID uuid.UUID, reason string, reactivateListing bool) (*models.Refund, error)
}

type settlementMetrics interface {
	IncSettlement(source, outcome string)
}

// Reconciler converges the checkout callback and the webhook onto one PAID
// transition per transaction.
type Reconciler interface {
	ConfirmCheckout(ctx context.Context, input CheckoutConfirmation) (*Result, error)
	ApplyWebhook(ctx context.Context, event GatewayEvent) (*Result, error)
	Settle(ctx context.Context, capture Capture) (*Result, error)
	FailPayment(ctx context.Context, orderID, paymentID, reason string) (*Result, error)
}

type ServiceParams struct {
	Tx           txRunner
	Transactions transactions.Repository
	Listings     listings.Repository
	Pickups      pickupIssuer
	PickupReader pickupReader
	Refunder     refunder
	Verifier     CheckoutVerifier
	Audit        audit.Service
	Outbox       outbox.Emitter
	Notifier     notifications.Notifier
	Config       config.SettlementConfig
	Metrics      settlementMetrics
	Logger       *logger.Logger
	Now          func() time.Time
}

type service struct {
	tx           txRunner
	transactions transactions.Repository
	listings     listings.Repository
	pickups      pickupIssuer
	pickupReader pickupReader
	refunder     refunder
	verifier     CheckoutVerifier
	audit        audit.Service
	outbox       outbox.Emitter
	notifier     notifications.Notifier
	cfg          config.SettlementConfig
	metrics      settlementMetrics
	logg         *logger.Logger
	now          func() time.Time
}

func NewService(params ServiceParams) (Reconciler, error) {
	switch {
	case params.Tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case params.Transactions == nil:
		return nil, fmt.Errorf("transactions repository required")
	case params.Listings == nil:
		return nil, fmt.Errorf("listings repository required")
	case params.Pickups == nil:
		return nil, fmt.Errorf("pickup issuer required")
	case params.PickupReader == nil:
		return nil, fmt.Errorf("pickup reader required")
	case params.Refunder == nil:
		return nil, fmt.Errorf("refunder required")
	case params.Verifier == nil:
		return nil, fmt.Errorf("checkout verifier required")
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
		pickupReader: params.PickupReader,
		refunder:     params.Refunder,
		verifier:     params.Verifier,
		audit:        params.Audit,
		outbox:       params.Outbox,
		notifier:     params.Notifier,
		cfg:          params.Config,
		metrics:      params.Metrics,
		logg:         params.Logger,
		now:          params.Now,
	}
	if s.metrics == nil {
		s.metrics = metrics.NewSettlementMetrics(nil)
	}
	if s.logg == nil {
		s.logg = logger.Nop()
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s, nil
}

func (s *service) ConfirmCheckout(ctx context.Context, input CheckoutConfirmation) (*Result, error) {
	if err := s.verifier.Verify(input.OrderID, input.PaymentID, input.Signature); err != nil {
		s.metrics.IncSettlement(string(enums.SettlementSourceCheckoutCallback), "rejected")
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "payment verification failed")
	}

	txn, err := s.transactions.FindByID(ctx, input.TransactionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transaction")
	}
	if txn.ExternalOrderID != input.OrderID {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order does not belong to this transaction")
	}
	if txn.BuyerID != input.ActorID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only the buyer can confirm payment")
	}

	result, err := s.Settle(ctx, Capture{
		OrderID:   input.OrderID,
		PaymentID: input.PaymentID,
		Source:    enums.SettlementSourceCheckoutCallback,
	})
	if err != nil {
		return nil, err
	}

	pickup, err := s.pickupReader.FindByTransactionID(ctx, txn.ID)
	switch {
	case err == nil:
		result.Pickup = transactions.SummarizePickup(pickup, txn, input.ActorID)
	case !errors.Is(err, gorm.ErrRecordNotFound):
		s.logg.Error(ctx, "failed to load pickup for checkout response", err)
	}
	return result, nil
}

func (s *service) ApplyWebhook(ctx context.Context, event GatewayEvent) (*Result, error) {
	switch event.Event {
	case EventPaymentCaptured, EventOrderPaid:
		return s.Settle(ctx, Capture{
			OrderID:   event.OrderID,
			PaymentID: event.PaymentID,
			Source:    enums.SettlementSourceWebhook,
		})
	case EventPaymentFailed:
		return s.FailPayment(ctx, event.OrderID, event.PaymentID, event.ErrorReason)
	default:
		s.logg.Debug(s.logg.WithField(ctx, "event", event.Event), "ignoring gateway event")
		return &Result{Outcome: OutcomeIgnored}, nil
	}
}

// Settle applies a captured payment. The row lock on the transaction plus the
// conditional status write make exactly one concurrent caller perform the
// transition; the rest read it back as a duplicate.
func (s *service) Settle(ctx context.Context, capture Capture) (*Result, error) {
	orderID := strings.TrimSpace(capture.OrderID)
	paymentID := strings.TrimSpace(capture.PaymentID)
	if orderID == "" || paymentID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id and payment id are required")
	}
	if !capture.Source.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown settlement source")
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"order_id":          orderID,
		"payment_id":        paymentID,
		"settlement_source": string(capture.Source),
	})

	var (
		result   = &Result{}
		txn      *models.Transaction
		soldHere bool
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		txnRepo := s.transactions.WithTx(tx)
		locked, err := txnRepo.FindByOrderIDForUpdate(ctx, orderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				result.Outcome = OutcomeUnknownOrder
				return nil
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock transaction")
		}
		txn = locked

		switch txn.Status {
		case enums.TransactionStatusPaid, enums.TransactionStatusRefunded:
			result.Outcome = OutcomeDuplicate
			return nil
		case enums.TransactionStatusCancelled:
			return s.recordLateCapture(ctx, tx, txn, paymentID, capture.Source, result)
		}

		now := s.now()
		won, err := txnRepo.MarkPaid(ctx, txn.ID, paymentID, capture.Source, now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark transaction paid")
		}
		if !won {
			result.Outcome = OutcomeDuplicate
			return nil
		}
		source := capture.Source
		txn.Status = enums.TransactionStatusPaid
		txn.ExternalPaymentID = &paymentID
		txn.SettlementSource = &source
		txn.PaidAt = &now

		listingRepo := s.listings.WithTx(tx)
		listing, err := listingRepo.FindByIDForUpdate(ctx, txn.ListingID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock listing")
		}
		switch {
		case listing.IsActive:
			soldHere, err = listingRepo.MarkSold(ctx, listing.ID, txn.ID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "deactivate listing")
			}
		case listing.SoldTransactionID != nil && *listing.SoldTransactionID == txn.ID:
			soldHere = true
		}

		if !soldHere {
			result.Oversold = true
			meta := captureMetadata(orderID, paymentID, capture.Source)
			if listing.SoldTransactionID != nil {
				meta["sold_transaction_id"] = listing.SoldTransactionID.String()
			}
			if _, err := s.audit.Record(ctx, tx, audit.RecordInput{
				TransactionID: txn.ID,
				Type:          enums.AuditEventListingUnavailable,
				AmountPaise:   txn.AmountPaise,
				Metadata:      meta,
			}); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record oversold audit")
			}
		}

		if _, err := s.audit.Record(ctx, tx, audit.RecordInput{
			TransactionID: txn.ID,
			Type:          enums.AuditEventPaymentSettled,
			AmountPaise:   txn.AmountPaise,
			Metadata:      captureMetadata(orderID, paymentID, capture.Source),
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record settlement audit")
		}
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventTransactionPaid,
			AggregateType: enums.AggregateTransaction,
			AggregateID:   txn.ID,
			Data:          transactions.EventPayload(txn, "", now),
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit settlement event")
		}
		if err := s.notifier.NotifyOnce(ctx, tx, notifications.Notification{
			RecipientID:   txn.SellerID,
			TransactionID: txn.ID,
			Type:          enums.NotificationPaymentReceived,
			Title:         "Payment received",
			Message:       "The buyer has paid. Hand over the item once they show their pickup code.",
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue payment notification")
		}
		result.Outcome = OutcomeSettled
		return nil
	})
	if err != nil {
		s.metrics.IncSettlement(string(capture.Source), "error")
		s.logg.Error(ctx, "settlement failed", err)
		return nil, err
	}
	s.metrics.IncSettlement(string(capture.Source), string(result.Outcome))

	switch result.Outcome {
	case OutcomeUnknownOrder:
		s.logg.Warn(ctx, "capture for unknown order")
		return result, nil
	case OutcomeNeedsReview:
		ctx = s.logg.WithTransactionID(ctx, txn.ID.String())
		s.logg.Warn(ctx, "capture arrived for a cancelled transaction, refunding it")
		if _, err := s.refunder.FullRefund(ctx, txn.ID, uuid.Nil, lateCaptureRefundReason, false); err != nil {
			s.logg.Error(ctx, "automatic refund of late capture failed", err)
		}
		if fresh, err := s.transactions.FindByID(ctx, txn.ID); err == nil {
			txn = fresh
		}
	case OutcomeDuplicate:
		s.logg.Debug(ctx, "settlement already applied")
	case OutcomeSettled:
		ctx = s.logg.WithTransactionID(ctx, txn.ID.String())
		s.logg.Info(ctx, "transaction settled")
		s.afterSettle(ctx, txn.ID, soldHere, result.Oversold)
		if fresh, err := s.transactions.FindByID(ctx, txn.ID); err == nil {
			txn = fresh
		}
	}

	view := transactions.PublicFrom(txn)
	result.Transaction = &view
	return result, nil
}

// recordLateCapture keeps the payment id of a capture for a cancelled
// transaction so the money can be returned. Status stays CANCELLED until the
// refund completes; a repeat of the same capture is a duplicate.
func (s *service) recordLateCapture(ctx context.Context, tx *gorm.DB, txn *models.Transaction, paymentID string, source enums.SettlementSource, result *Result) error {
	if txn.ExternalPaymentID != nil {
		if *txn.ExternalPaymentID != paymentID {
			s.logg.Warn(s.logg.WithField(ctx, "recorded_payment_id", *txn.ExternalPaymentID), "second capture for a cancelled transaction")
		}
		result.Outcome = OutcomeDuplicate
		return nil
	}
	recorded, err := s.transactions.WithTx(tx).RecordLateCapture(ctx, txn.ID, paymentID, source)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record late capture")
	}
	if !recorded {
		result.Outcome = OutcomeDuplicate
		return nil
	}
	txn.ExternalPaymentID = &paymentID
	txn.SettlementSource = &source

	if _, err := s.audit.Record(ctx, tx, audit.RecordInput{
		TransactionID: txn.ID,
		Type:          enums.AuditEventCaptureAfterCancel,
		AmountPaise:   txn.AmountPaise,
		Metadata:      captureMetadata(txn.ExternalOrderID, paymentID, source),
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record late capture audit")
	}
	result.Outcome = OutcomeNeedsReview
	return nil
}

// afterSettle runs the best-effort follow-ups. Failures are logged; the pickup
// backfill job and dispute resolution pick them up later.
func (s *service) afterSettle(ctx context.Context, transactionID uuid.UUID, soldHere, oversold bool) {
	if soldHere {
		if _, err := s.pickups.EnsureForSettlement(ctx, transactionID); err != nil {
			s.logg.Error(ctx, "pickup generation after settlement failed", err)
		}
	}
	if oversold {
		if !s.cfg.AutoRefundOversold {
			s.logg.Warn(ctx, "listing already sold, transaction left for dispute resolution")
			return
		}
		if _, err := s.refunder.FullRefund(ctx, transactionID, uuid.Nil, oversoldRefundReason, false); err != nil {
			s.logg.Error(ctx, "automatic refund of oversold transaction failed", err)
		}
	}
}

// FailPayment cancels a transaction that is still waiting for payment. Late
// failures for a paid transaction are ignored.
func (s *service) FailPayment(ctx context.Context, orderID, paymentID, reason string) (*Result, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	ctx = s.logg.WithField(ctx, "order_id", orderID)

	result := &Result{}
	var txn *models.Transaction
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		txnRepo := s.transactions.WithTx(tx)
		locked, err := txnRepo.FindByOrderIDForUpdate(ctx, orderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				result.Outcome = OutcomeUnknownOrder
				return nil
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock transaction")
		}
		txn = locked
		if txn.Status != enums.TransactionStatusInitiated {
			result.Outcome = OutcomeIgnored
			return nil
		}

		now := s.now()
		ok, err := txnRepo.MarkCancelled(ctx, txn.ID, now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel transaction")
		}
		if !ok {
			result.Outcome = OutcomeIgnored
			return nil
		}
		txn.Status = enums.TransactionStatusCancelled
		txn.CancelledAt = &now

		if _, err := s.audit.Record(ctx, tx, audit.RecordInput{
			TransactionID: txn.ID,
			Type:          enums.AuditEventPaymentFailed,
			Metadata: map[string]any{
				"order_id":   orderID,
				"payment_id": paymentID,
				"reason":     reason,
			},
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record payment failure audit")
		}
		if err := s.notifier.NotifyOnce(ctx, tx, notifications.Notification{
			RecipientID:   txn.BuyerID,
			TransactionID: txn.ID,
			Type:          enums.NotificationPaymentFailed,
			Title:         "Payment failed",
			Message:       "Your payment did not go through and the order was cancelled.",
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue payment failure notification")
		}
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventTransactionCancelled,
			AggregateType: enums.AggregateTransaction,
			AggregateID:   txn.ID,
			Data:          transactions.EventPayload(txn, "payment_failed", now),
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit cancellation event")
		}
		result.Outcome = OutcomeCancelled
		return nil
	})
	if err != nil {
		s.logg.Error(ctx, "payment failure handling failed", err)
		return nil, err
	}
	s.metrics.IncSettlement("payment_failed", string(result.Outcome))

	if txn != nil {
		view := transactions.PublicFrom(txn)
		result.Transaction = &view
	}
	if result.Outcome == OutcomeIgnored {
		s.logg.Info(ctx, "payment failure ignored for non-pending transaction")
	}
	return result, nil
}

func captureMetadata(orderID, paymentID string, source enums.SettlementSource) map[string]any {
	return map[string]any{
		"order_id":   orderID,
		"payment_id": paymentID,
		"source":     string(source),
	}
}
