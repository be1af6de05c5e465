package notifications

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/handoffmarket/handoff-backend/pkg/enums"
	pkgerrors "github.com/handoffmarket/handoff-backend/pkg/errors"
	"github.com/handoffmarket/handoff-backend/pkg/outbox"
	"github.com/handoffmarket/handoff-backend/pkg/outbox/payloads"
)

// Notification is a message for one user about one transaction. Delivery happens
// downstream of the outbox publisher.
type Notification struct {
	RecipientID   uuid.UUID
	TransactionID uuid.UUID
	Type          enums.NotificationType
	Title         string
	Message       string
}

// Notifier queues notifications in the caller's transaction.
type Notifier interface {
	Notify(ctx context.Context, tx *gorm.DB, n Notification) error
	NotifyOnce(ctx context.Context, tx *gorm.DB, n Notification) error
}

type service struct {
	outbox outbox.Emitter
}

func NewService(emitter outbox.Emitter) (Notifier, error) {
	if emitter == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "outbox emitter required")
	}
	return &service{outbox: emitter}, nil
}

func (s *service) Notify(ctx context.Context, tx *gorm.DB, n Notification) error {
	event, err := buildEvent(n)
	if err != nil {
		return err
	}
	return s.outbox.Emit(ctx, tx, event)
}

// NotifyOnce is Notify keyed on (transaction, recipient, type) so a replay never queues a second copy.
func (s *service) NotifyOnce(ctx context.Context, tx *gorm.DB, n Notification) error {
	event, err := buildEvent(n)
	if err != nil {
		return err
	}
	return s.outbox.EmitIfNotExists(ctx, tx, event)
}

func buildEvent(n Notification) (outbox.DomainEvent, error) {
	if n.RecipientID == uuid.Nil {
		return outbox.DomainEvent{}, pkgerrors.New(pkgerrors.CodeValidation, "notification recipient required")
	}
	if n.TransactionID == uuid.Nil {
		return outbox.DomainEvent{}, pkgerrors.New(pkgerrors.CodeValidation, "notification transaction required")
	}
	if !n.Type.IsValid() {
		return outbox.DomainEvent{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid notification type %q", n.Type))
	}
	return outbox.DomainEvent{
		EventType:     enums.EventNotificationRequested,
		AggregateType: enums.AggregateNotification,
		AggregateID:   aggregateID(n),
		Data: payloads.NotificationRequestedEvent{
			RecipientID:   n.RecipientID,
			TransactionID: n.TransactionID,
			Type:          n.Type,
			Title:         n.Title,
			Message:       n.Message,
		},
		OccurredAt: time.Now().UTC(),
	}, nil
}

// aggregateID is stable per (transaction, recipient, type) so duplicate checks can find earlier rows.
func aggregateID(n Notification) uuid.UUID {
	return uuid.NewSHA1(n.TransactionID, []byte(n.RecipientID.String()+":"+string(n.Type)))
}
