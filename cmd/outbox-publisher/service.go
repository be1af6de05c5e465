package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gorm.io/gorm"

	"github.com/handoffmarket/handoff-backend/pkg/config"
	"github.com/handoffmarket/handoff-backend/pkg/db/models"
	"github.com/handoffmarket/handoff-backend/pkg/logger"
	"github.com/handoffmarket/handoff-backend/pkg/outbox/registry"
)

const (
	defaultBatchSize      = 50
	defaultPollInterval   = 500 * time.Millisecond
	defaultPublishTimeout = 15 * time.Second
	defaultMaxAttempts    = 10
	maxIdleBackoff        = 10 * time.Second
	jitterWindow          = 250 * time.Millisecond
)

type txRunner interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type topicSource interface {
	Ping(context.Context) error
	Publisher(name string) *gcppubsub.Publisher
}

type outboxRepository interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type eventResolver interface {
	Resolve(models.OutboxEvent) (*registry.Resolved, error)
}

type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(context.Context) (string, error)
}

type publisherFactory func(topic string) publisher

// outcome is what happened to a single outbox row during a batch.
type outcome int

const (
	outcomePublished outcome = iota
	outcomeRetry
	outcomeTerminal
)

type ServiceParams struct {
	Config           config.OutboxConfig
	Logger           *logger.Logger
	DB               txRunner
	Topics           topicSource
	Repository       outboxRepository
	Registry         eventResolver
	PublisherFactory publisherFactory
}

// Service drains outbox_events onto Pub/Sub. Each batch runs inside one
// transaction so rows locked with SKIP LOCKED are released on commit.
type Service struct {
	logg         *logger.Logger
	db           txRunner
	topics       topicSource
	repo         outboxRepository
	registry     eventResolver
	publishers   publisherFactory
	batchSize    int
	maxAttempts  int
	pollInterval time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.DB == nil {
		return nil, errors.New("database client is required")
	}
	if params.Topics == nil {
		return nil, errors.New("pubsub client is required")
	}
	if params.Repository == nil {
		return nil, errors.New("outbox repository is required")
	}
	if params.Registry == nil {
		return nil, errors.New("event registry is required")
	}

	factory := params.PublisherFactory
	if factory == nil {
		topics := params.Topics
		factory = func(topic string) publisher {
			p := topics.Publisher(topic)
			if p == nil {
				return nil
			}
			return gcpPublisher{p}
		}
	}

	batch := params.Config.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	poll := time.Duration(params.Config.PollIntervalMS) * time.Millisecond
	if poll <= 0 {
		poll = defaultPollInterval
	}
	maxAttempts := params.Config.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	return &Service{
		logg:         params.Logger,
		db:           params.DB,
		topics:       params.Topics,
		repo:         params.Repository,
		registry:     params.Registry,
		publishers:   factory,
		batchSize:    batch,
		maxAttempts:  maxAttempts,
		pollInterval: poll,
	}, nil
}

// Run polls until ctx is cancelled. Full batches are followed immediately by
// the next poll; empty or failed batches back off.
func (s *Service) Run(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	if err := s.topics.Ping(ctx); err != nil {
		return fmt.Errorf("pubsub ping failed: %w", err)
	}

	wait := s.pollInterval
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		count, err := s.processBatch(ctx)
		switch {
		case err != nil:
			s.logg.Error(ctx, "outbox batch failed", err)
			wait = min(wait*2, maxIdleBackoff)
		case count >= s.batchSize:
			wait = s.pollInterval
			continue
		default:
			wait = s.pollInterval
		}

		if err := sleep(ctx, wait+jitter()); err != nil {
			return err
		}
	}
}

// processBatch publishes one locked batch and reports how many rows it saw.
func (s *Service) processBatch(ctx context.Context) (int, error) {
	count := 0
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := s.repo.FetchUnpublishedForPublish(tx, s.batchSize, s.maxAttempts)
		if err != nil {
			return fmt.Errorf("fetch outbox batch: %w", err)
		}
		count = len(events)
		for _, event := range events {
			if err := s.settle(ctx, tx, event); err != nil {
				return err
			}
		}
		return nil
	})
	return count, err
}

// settle publishes one row and records the result on it.
func (s *Service) settle(ctx context.Context, tx *gorm.DB, event models.OutboxEvent) error {
	ctx = s.logg.WithFields(ctx, map[string]any{
		"outbox_id":      event.ID.String(),
		"event_type":     event.EventType,
		"aggregate_type": event.AggregateType,
		"aggregate_id":   event.AggregateID.String(),
		"attempt_count":  event.AttemptCount,
	})

	result, pubErr := s.publishOne(ctx, event)
	if result == outcomeRetry && !event.AttemptsLeft(s.maxAttempts) {
		result = outcomeTerminal
		pubErr = fmt.Errorf("max publish attempts reached: %w", pubErr)
	}

	switch result {
	case outcomePublished:
		if err := s.repo.MarkPublishedTx(tx, event.ID); err != nil {
			return fmt.Errorf("mark published %s: %w", event.ID, err)
		}
		s.logg.Info(ctx, "outbox event published")
	case outcomeRetry:
		s.logg.Warn(s.logg.WithField(ctx, "error", pubErr.Error()), "outbox publish failed, will retry")
		if err := s.repo.MarkFailedTx(tx, event.ID, pubErr); err != nil {
			return fmt.Errorf("mark failed %s: %w", event.ID, err)
		}
	case outcomeTerminal:
		s.logg.Error(ctx, "outbox event abandoned", pubErr)
		if err := s.repo.MarkTerminalTx(tx, event.ID, pubErr, s.maxAttempts); err != nil {
			return fmt.Errorf("mark terminal %s: %w", event.ID, err)
		}
	}
	return nil
}

func (s *Service) publishOne(ctx context.Context, event models.OutboxEvent) (outcome, error) {
	resolved, err := s.registry.Resolve(event)
	if err != nil {
		return classify(err), err
	}

	topic := resolved.Route.Topic
	pub := s.publishers(topic)
	if pub == nil {
		return outcomeTerminal, fmt.Errorf("publisher not configured for topic %s", topic)
	}

	msg := &gcppubsub.Message{
		Data: event.Payload,
		Attributes: map[string]string{
			"event_id":       resolved.Envelope.EventID,
			"event_type":     string(event.EventType),
			"aggregate_type": string(event.AggregateType),
			"aggregate_id":   event.AggregateID.String(),
			"occurred_at":    resolved.Envelope.OccurredAt.UTC().Format(time.RFC3339Nano),
		},
	}

	publishCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()
	res := pub.Publish(publishCtx, msg)
	if res == nil {
		return outcomeTerminal, fmt.Errorf("publisher returned no result for topic %s", topic)
	}
	if _, err := res.Get(publishCtx); err != nil {
		return classify(err), err
	}
	return outcomePublished, nil
}

// classify separates errors no retry can fix from transient ones.
func classify(err error) outcome {
	if registry.IsPermanent(err) {
		return outcomeTerminal
	}
	switch status.Code(err) {
	case codes.InvalidArgument, codes.NotFound, codes.PermissionDenied, codes.FailedPrecondition:
		return outcomeTerminal
	}
	return outcomeRetry
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func jitter() time.Duration {
	return rand.N(jitterWindow)
}

type gcpPublisher struct {
	p *gcppubsub.Publisher
}

func (g gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	return g.p.Publish(ctx, msg)
}
