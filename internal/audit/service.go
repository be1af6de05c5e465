package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/handoffmarket/handoff-backend/pkg/db/models"
	"github.com/handoffmarket/handoff-backend/pkg/enums"
)

// Service records money movements and admin actions against a transaction.
type Service interface {
	// Record appends an event using tx when non-nil so the row commits with the state change.
	Record(ctx context.Context, tx *gorm.DB, input RecordInput) (*models.AuditEvent, error)
	List(ctx context.Context, transactionID uuid.UUID) ([]models.AuditEvent, error)
	HasEvent(ctx context.Context, transactionID uuid.UUID, eventType enums.AuditEventType) (bool, error)
}

type service struct {
	repo Repository
}

// RecordInput captures the immutable data an audit event requires. ActorID is nil for system actions.
type RecordInput struct {
	TransactionID uuid.UUID
	ActorID       *uuid.UUID
	Type          enums.AuditEventType
	AmountPaise   int64
	Metadata      map[string]any
}

func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("audit repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) Record(ctx context.Context, tx *gorm.DB, input RecordInput) (*models.AuditEvent, error) {
	if input.TransactionID == uuid.Nil {
		return nil, fmt.Errorf("transaction id is required")
	}
	if !input.Type.IsValid() {
		return nil, fmt.Errorf("invalid audit event type %q", input.Type)
	}
	if input.AmountPaise < 0 {
		return nil, fmt.Errorf("audit amount must not be negative")
	}

	var metadata json.RawMessage
	if len(input.Metadata) > 0 {
		raw, err := json.Marshal(input.Metadata)
		if err != nil {
			return nil, fmt.Errorf("encode audit metadata: %w", err)
		}
		metadata = raw
	}

	event := &models.AuditEvent{
		ID:            uuid.New(),
		TransactionID: input.TransactionID,
		ActorID:       input.ActorID,
		Type:          input.Type,
		AmountPaise:   input.AmountPaise,
		Metadata:      metadata,
	}
	if err := s.repo.WithTx(tx).Create(ctx, event); err != nil {
		return nil, err
	}
	return event, nil
}

func (s *service) List(ctx context.Context, transactionID uuid.UUID) ([]models.AuditEvent, error) {
	if transactionID == uuid.Nil {
		return nil, fmt.Errorf("transaction id is required")
	}
	return s.repo.ListByTransactionID(ctx, transactionID)
}

func (s *service) HasEvent(ctx context.Context, transactionID uuid.UUID, eventType enums.AuditEventType) (bool, error) {
	if transactionID == uuid.Nil {
		return false, fmt.Errorf("transaction id is required")
	}
	if !eventType.IsValid() {
		return false, fmt.Errorf("invalid audit event type %q", eventType)
	}

	events, err := s.repo.ListByTransactionID(ctx, transactionID)
	if err != nil {
		return false, err
	}
	for _, event := range events {
		if event.Type == eventType {
			return true, nil
		}
	}
	return false, nil
}

// CountByType returns how many events of each type exist for a transaction.
func CountByType(events []models.AuditEvent) map[enums.AuditEventType]int {
	counts := make(map[enums.AuditEventType]int, len(events))
	for _, event := range events {
		counts[event.Type]++
	}
	return counts
}

// Actor converts a user id into the nullable actor column. uuid.Nil means system.
func Actor(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}
