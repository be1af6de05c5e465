package razorpaywebhook

import (
	"context"

	"github.com/handoffmarket/handoff-backend/internal/settlement"
	pkgerrors "github.com/handoffmarket/handoff-backend/pkg/errors"
	"github.com/handoffmarket/handoff-backend/pkg/logger"
	"github.com/handoffmarket/handoff-backend/pkg/metrics"
)

// OutcomeDuplicateDelivery marks a delivery id already handled by some instance.
const OutcomeDuplicateDelivery settlement.Outcome = "duplicate_delivery"

type verifier interface {
	Verify(rawBody []byte, signature string) error
}

type applier interface {
	ApplyWebhook(ctx context.Context, event settlement.GatewayEvent) (*settlement.Result, error)
}

type deliveryGuard interface {
	CheckAndMark(ctx context.Context, eventID string) (bool, error)
	Release(ctx context.Context, eventID string) error
}

type webhookMetrics interface {
	IncWebhook(event, result string)
}

// Delivery is one webhook POST exactly as received.
type Delivery struct {
	Body      []byte
	Signature string
	EventID   string
}

type ServiceParams struct {
	Verifier   verifier
	Reconciler applier
	Guard      deliveryGuard
	Metrics    webhookMetrics
	Logger     *logger.Logger
}

type Service struct {
	verifier   verifier
	reconciler applier
	guard      deliveryGuard
	metrics    webhookMetrics
	logg       *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Verifier == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "webhook verifier required")
	}
	if params.Reconciler == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "settlement reconciler required")
	}
	s := &Service{
		verifier:   params.Verifier,
		reconciler: params.Reconciler,
		guard:      params.Guard,
		metrics:    params.Metrics,
		logg:       params.Logger,
	}
	if s.metrics == nil {
		s.metrics = metrics.NewSettlementMetrics(nil)
	}
	if s.logg == nil {
		s.logg = logger.Nop()
	}
	return s, nil
}

// Handle verifies the raw body before anything is parsed, dedupes by delivery
// id and hands the event to the reconciler. Signature failures return
// Unauthorized and malformed bodies Validation.
func (s *Service) Handle(ctx context.Context, delivery Delivery) (*settlement.Result, error) {
	if err := s.verifier.Verify(delivery.Body, delivery.Signature); err != nil {
		s.metrics.IncWebhook("unknown", "rejected")
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid webhook signature")
	}

	event, err := ParseEvent(delivery.EventID, delivery.Body)
	if err != nil {
		s.metrics.IncWebhook("unknown", "malformed")
		return nil, err
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"webhook_event":    event.Event,
		"webhook_event_id": delivery.EventID,
	})

	marked := false
	if s.guard != nil && delivery.EventID != "" {
		seen, err := s.guard.CheckAndMark(ctx, delivery.EventID)
		switch {
		case err != nil:
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "webhook dedupe unavailable; relying on database")
		case seen:
			s.metrics.IncWebhook(event.Event, string(OutcomeDuplicateDelivery))
			return &settlement.Result{Outcome: OutcomeDuplicateDelivery}, nil
		default:
			marked = true
		}
	}

	result, err := s.reconciler.ApplyWebhook(ctx, event)
	if err != nil {
		if marked {
			if releaseErr := s.guard.Release(ctx, delivery.EventID); releaseErr != nil {
				s.logg.Error(ctx, "failed to release webhook dedupe key", releaseErr)
			}
		}
		s.metrics.IncWebhook(event.Event, "error")
		return nil, err
	}
	s.metrics.IncWebhook(event.Event, string(result.Outcome))
	return result, nil
}
