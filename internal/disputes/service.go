package disputes

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
	"github.com/handoffmarket/handoff-backend/internal/notifications"
	"github.com/handoffmarket/handoff-backend/internal/refunds"
	"github.com/handoffmarket/handoff-backend/internal/transactions"
	"github.com/handoffmarket/handoff-backend/pkg/db"
	"github.com/handoffmarket/handoff-backend/pkg/db/models"
	"github.com/handoffmarket/handoff-backend/pkg/enums"
	pkgerrors "github.com/handoffmarket/handoff-backend/pkg/errors"
	"github.com/handoffmarket/handoff-backend/pkg/logger"
	"github.com/handoffmarket/handoff-backend/pkg/outbox"
	"github.com/handoffmarket/handoff-backend/pkg/outbox/payloads"
)

const (
	activeDisputeIndex = "disputes_one_active_per_transaction"
	maxReasonLength    = 2000
	// refundClaimTTL bounds how long a resolution's refund claim blocks other
	// updates if the process dies before releasing it.
	refundClaimTTL = 15 * time.Minute
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Refunder is the part of the refund processor a resolution needs.
type Refunder interface {
	Refund(ctx context.Context, input refunds.RefundInput) (*models.Refund, error)
}

// Service runs the admin dispute workflow for a transaction.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.Dispute, error)
	Update(ctx context.Context, input UpdateInput) (*models.Dispute, error)
	Get(ctx context.Context, input GetInput) (*models.Dispute, error)
	ListByTransaction(ctx context.Context, input ListInput) ([]models.Dispute, error)
}

type CreateInput struct {
	TransactionID uuid.UUID
	ReporterID    uuid.UUID
	Reason        string
	Priority      enums.DisputePriority
}

// RefundDirective asks a resolution to move money. Amount is in rupees;
// both nil refunds the full amount.
type RefundDirective struct {
	Amount            *decimal.Decimal
	Percentage        *decimal.Decimal
	ReactivateListing bool
}

// UpdateInput changes any subset of status, priority and resolution.
// Refund is only honoured together with Status RESOLVED.
type UpdateInput struct {
	DisputeID  uuid.UUID
	AdminID    uuid.UUID
	AdminRole  enums.UserRole
	Status     *enums.DisputeStatus
	Priority   *enums.DisputePriority
	Resolution *string
	Refund     *RefundDirective
}

type GetInput struct {
	DisputeID uuid.UUID
	ActorID   uuid.UUID
	ActorRole enums.UserRole
}

type ListInput struct {
	TransactionID uuid.UUID
	ActorID       uuid.UUID
	ActorRole     enums.UserRole
}

type ServiceParams struct {
	Tx           txRunner
	Disputes     Repository
	Transactions transactions.Repository
	Refunder     Refunder
	Audit        audit.Service
	Outbox       outbox.Emitter
	Notifier     notifications.Notifier
	Logger       *logger.Logger
	Now          func() time.Time
}

type service struct {
	tx           txRunner
	disputes     Repository
	transactions transactions.Repository
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
	case params.Disputes == nil:
		return nil, fmt.Errorf("disputes repository required")
	case params.Transactions == nil:
		return nil, fmt.Errorf("transactions repository required")
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
		disputes:     params.Disputes,
		transactions: params.Transactions,
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

func (s *service) Create(ctx context.Context, input CreateInput) (*models.Dispute, error) {
	if input.TransactionID == uuid.Nil || input.ReporterID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction and reporter are required")
	}
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "dispute reason required")
	}
	if len(reason) > maxReasonLength {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "dispute reason too long")
	}
	priority := input.Priority
	if priority == "" {
		priority = enums.DisputePriorityMedium
	}
	if !priority.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid dispute priority %q", priority))
	}
	ctx = s.logg.WithTransactionID(ctx, input.TransactionID.String())

	var dispute *models.Dispute
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		txn, err := s.transactions.WithTx(tx).FindByIDForUpdate(ctx, input.TransactionID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transaction")
		}
		if input.ReporterID != txn.BuyerID && input.ReporterID != txn.SellerID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "only transaction participants can open a dispute")
		}
		if txn.Status == enums.TransactionStatusInitiated {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "transaction has not been paid")
		}

		repo := s.disputes.WithTx(tx)
		if _, err := repo.FindActiveByTransactionID(ctx, txn.ID); err == nil {
			return pkgerrors.New(pkgerrors.CodeConflict, "an active dispute already exists for this transaction")
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load active dispute")
		}

		dispute = &models.Dispute{
			ID:            uuid.New(),
			TransactionID: txn.ID,
			ReporterID:    input.ReporterID,
			Reason:        reason,
			Priority:      priority,
			Status:        enums.DisputeStatusOpen,
		}
		if err := repo.Create(ctx, dispute); err != nil {
			return err
		}

		if _, err := s.audit.Record(ctx, tx, audit.RecordInput{
			TransactionID: txn.ID,
			ActorID:       audit.Actor(input.ReporterID),
			Type:          enums.AuditEventDisputeOpened,
			Metadata: map[string]any{
				"dispute_id": dispute.ID.String(),
				"priority":   string(priority),
				"reason":     reason,
			},
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record dispute audit")
		}

		counterpart := txn.SellerID
		if input.ReporterID == txn.SellerID {
			counterpart = txn.BuyerID
		}
		if err := s.notifier.Notify(ctx, tx, notifications.Notification{
			RecipientID:   counterpart,
			TransactionID: txn.ID,
			Type:          enums.NotificationDisputeUpdated,
			Title:         "Dispute opened",
			Message:       "A dispute was opened on one of your transactions.",
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue dispute notification")
		}

		return s.outbox.Emit(ctx, tx, disputeEvent(enums.EventDisputeOpened, dispute, s.now()))
	})
	if err != nil {
		if db.IsUniqueViolation(err, activeDisputeIndex) {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "an active dispute already exists for this transaction")
		}
		if pkgerrors.As(err) == nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "open dispute")
		}
		return nil, err
	}
	s.logg.Info(ctx, "dispute opened")
	return dispute, nil
}

func (s *service) Update(ctx context.Context, input UpdateInput) (*models.Dispute, error) {
	if input.AdminRole != enums.UserRoleAdmin {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "admin access required")
	}
	if input.DisputeID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "dispute id required")
	}
	if input.Status == nil && input.Priority == nil && input.Resolution == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "nothing to update")
	}
	if input.Status != nil && !input.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid dispute status %q", *input.Status))
	}
	if input.Priority != nil && !input.Priority.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid dispute priority %q", *input.Priority))
	}
	if input.Refund != nil && (input.Status == nil || *input.Status != enums.DisputeStatusResolved) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "a refund can only accompany a RESOLVED status")
	}

	current, err := s.load(ctx, input.DisputeID)
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithTransactionID(ctx, current.TransactionID.String())
	if err := checkUpdate(current, input, s.now(), false); err != nil {
		return nil, err
	}

	var refund *models.Refund
	if input.Refund != nil {
		if err := s.claimRefund(ctx, input); err != nil {
			return nil, err
		}
		refund, err = s.refunder.Refund(ctx, refunds.RefundInput{
			TransactionID:     current.TransactionID,
			Amount:            input.Refund.Amount,
			Percentage:        input.Refund.Percentage,
			Reason:            refundReason(input.Resolution),
			ActorID:           input.AdminID,
			DisputeID:         &current.ID,
			AllowAfterPickup:  true,
			ReactivateListing: input.Refund.ReactivateListing,
		})
		if err != nil {
			if refunds.IsOutcomeUnknown(err) {
				s.logg.Warn(ctx, "dispute refund outcome unknown, claim kept until it settles")
			} else {
				s.releaseRefundClaim(ctx, current.ID)
			}
			return nil, err
		}
	}

	var dispute *models.Dispute
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.disputes.WithTx(tx)
		locked, err := repo.FindByIDForUpdate(ctx, input.DisputeID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load dispute")
		}
		if err := checkUpdate(locked, input, s.now(), refund != nil); err != nil {
			if refund != nil {
				s.logg.Error(ctx, "dispute changed while its refund was issued", err)
			}
			return err
		}

		fields, eventType := s.applyUpdate(locked, input, refund)
		if err := repo.Update(ctx, locked.ID, fields); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update dispute")
		}

		metadata := map[string]any{
			"dispute_id": locked.ID.String(),
			"status":     string(locked.Status),
			"priority":   string(locked.Priority),
		}
		if locked.Resolution != nil {
			metadata["resolution"] = *locked.Resolution
		}
		var refundedPaise int64
		if refund != nil {
			metadata["refund_id"] = refund.ID.String()
			refundedPaise = refund.AmountPaise
		}
		if _, err := s.audit.Record(ctx, tx, audit.RecordInput{
			TransactionID: locked.TransactionID,
			ActorID:       audit.Actor(input.AdminID),
			Type:          eventType,
			AmountPaise:   refundedPaise,
			Metadata:      metadata,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record dispute audit")
		}

		if locked.Status != enums.DisputeStatusOpen {
			if err := s.notifyParticipants(ctx, tx, locked); err != nil {
				return err
			}
		}

		dispute = locked
		return s.outbox.Emit(ctx, tx, disputeEvent(enums.EventDisputeUpdated, locked, s.now()))
	})
	if err != nil {
		if pkgerrors.As(err) == nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update dispute")
		}
		return nil, err
	}
	s.logg.Info(s.logg.WithField(ctx, "dispute_status", string(dispute.Status)), "dispute updated")
	return dispute, nil
}

// applyUpdate mutates dispute in place and returns the columns to persist with
// the audit event type describing the change.
func (s *service) applyUpdate(dispute *models.Dispute, input UpdateInput, refund *models.Refund) (map[string]any, enums.AuditEventType) {
	fields := map[string]any{"updated_at": s.now()}
	eventType := enums.AuditEventDisputeUpdated

	if input.Priority != nil {
		dispute.Priority = *input.Priority
		fields["priority"] = *input.Priority
	}
	if input.Resolution != nil {
		resolution := strings.TrimSpace(*input.Resolution)
		dispute.Resolution = &resolution
		fields["resolution"] = resolution
	}
	if input.Status != nil && *input.Status != dispute.Status {
		dispute.Status = *input.Status
		fields["status"] = *input.Status
		if input.Status.IsActive() {
			return fields, eventType
		}
		now := s.now()
		adminID := input.AdminID
		dispute.ResolvedAt = &now
		dispute.ResolvedBy = &adminID
		fields["resolved_at"] = now
		fields["resolved_by"] = adminID
		eventType = enums.AuditEventDisputeRejected
		if dispute.Status == enums.DisputeStatusResolved {
			eventType = enums.AuditEventDisputeResolved
		}
	}
	if refund != nil {
		dispute.RefundID = &refund.ID
		dispute.RefundClaimedAt = nil
		fields["refund_id"] = refund.ID
		fields["refund_claimed_at"] = nil
	}
	return fields, eventType
}

// claimRefund marks the dispute as having a refund with the gateway. Until the
// resolution lands or the claim is released, every other update is refused.
func (s *service) claimRefund(ctx context.Context, input UpdateInput) error {
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.disputes.WithTx(tx)
		locked, err := repo.FindByIDForUpdate(ctx, input.DisputeID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load dispute")
		}
		now := s.now()
		if err := checkUpdate(locked, input, now, false); err != nil {
			return err
		}
		if err := repo.Update(ctx, locked.ID, map[string]any{"refund_claimed_at": now, "updated_at": now}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim dispute refund")
		}
		return nil
	})
	if err != nil && pkgerrors.As(err) == nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim dispute refund")
	}
	return err
}

func (s *service) releaseRefundClaim(ctx context.Context, disputeID uuid.UUID) {
	if err := s.disputes.Update(context.WithoutCancel(ctx), disputeID, map[string]any{"refund_claimed_at": nil}); err != nil {
		s.logg.Error(ctx, "failed to release dispute refund claim", err)
	}
}

func (s *service) notifyParticipants(ctx context.Context, tx *gorm.DB, dispute *models.Dispute) error {
	txn, err := s.transactions.WithTx(tx).FindByID(ctx, dispute.TransactionID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transaction")
	}
	message := fmt.Sprintf("Your dispute is now %s.", strings.ReplaceAll(strings.ToLower(string(dispute.Status)), "_", " "))
	for _, recipient := range []uuid.UUID{txn.BuyerID, txn.SellerID} {
		if err := s.notifier.Notify(ctx, tx, notifications.Notification{
			RecipientID:   recipient,
			TransactionID: txn.ID,
			Type:          enums.NotificationDisputeUpdated,
			Title:         "Dispute updated",
			Message:       message,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue dispute notification")
		}
	}
	return nil
}

func (s *service) Get(ctx context.Context, input GetInput) (*models.Dispute, error) {
	dispute, err := s.load(ctx, input.DisputeID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeViewer(ctx, dispute.TransactionID, input.ActorID, input.ActorRole); err != nil {
		return nil, err
	}
	return dispute, nil
}

func (s *service) ListByTransaction(ctx context.Context, input ListInput) ([]models.Dispute, error) {
	if input.TransactionID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction id required")
	}
	if err := s.authorizeViewer(ctx, input.TransactionID, input.ActorID, input.ActorRole); err != nil {
		return nil, err
	}
	rows, err := s.disputes.ListByTransactionID(ctx, input.TransactionID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list disputes")
	}
	return rows, nil
}

func (s *service) load(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "dispute id required")
	}
	dispute, err := s.disputes.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "dispute not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load dispute")
	}
	return dispute, nil
}

func (s *service) authorizeViewer(ctx context.Context, transactionID, actorID uuid.UUID, role enums.UserRole) error {
	txn, err := s.transactions.FindByID(ctx, transactionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transaction")
	}
	if role == enums.UserRoleAdmin || actorID == txn.BuyerID || actorID == txn.SellerID {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeForbidden, "not a participant of this transaction")
}

// checkUpdate rejects changes to terminal disputes, illegal transitions and,
// unless holdsClaim, disputes whose refund is still with the gateway.
func checkUpdate(dispute *models.Dispute, input UpdateInput, now time.Time, holdsClaim bool) error {
	if !dispute.Status.IsActive() {
		return pkgerrors.New(pkgerrors.CodeConflict, fmt.Sprintf("dispute already %s", strings.ToLower(string(dispute.Status))))
	}
	if !holdsClaim && dispute.RefundClaimedAt != nil && now.Sub(*dispute.RefundClaimedAt) < refundClaimTTL {
		return pkgerrors.New(pkgerrors.CodeConflict, "a refund for this dispute is in progress")
	}
	if input.Status == nil || *input.Status == dispute.Status {
		return nil
	}
	if !dispute.Status.CanTransitionTo(*input.Status) {
		return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("cannot move dispute from %s to %s", dispute.Status, *input.Status))
	}
	if !input.Status.IsActive() && (input.Resolution == nil || strings.TrimSpace(*input.Resolution) == "") {
		return pkgerrors.New(pkgerrors.CodeValidation, "resolution required to close a dispute")
	}
	return nil
}

func refundReason(resolution *string) string {
	if resolution != nil {
		if trimmed := strings.TrimSpace(*resolution); trimmed != "" {
			return "dispute_resolution: " + trimmed
		}
	}
	return "dispute_resolution"
}

func disputeEvent(eventType enums.OutboxEventType, dispute *models.Dispute, at time.Time) outbox.DomainEvent {
	return outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateDispute,
		AggregateID:   dispute.ID,
		Data: payloads.DisputeEvent{
			DisputeID:     dispute.ID,
			TransactionID: dispute.TransactionID,
			Status:        dispute.Status,
			Priority:      dispute.Priority,
			RefundID:      dispute.RefundID,
		},
		OccurredAt: at,
	}
}
