package main

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gorm.io/gorm"

	"github.com/handoffmarket/handoff-backend/pkg/config"
	"github.com/handoffmarket/handoff-backend/pkg/db/models"
	"github.com/handoffmarket/handoff-backend/pkg/enums"
	"github.com/handoffmarket/handoff-backend/pkg/logger"
	"github.com/handoffmarket/handoff-backend/pkg/outbox"
	"github.com/handoffmarket/handoff-backend/pkg/outbox/payloads"
	"github.com/handoffmarket/handoff-backend/pkg/outbox/registry"
)

func TestProcessBatchContinuesAfterTransientFailure(t *testing.T) {
	first := transactionEvent(t, 0)
	second := transactionEvent(t, 0)
	repo := &fakeRepo{events: []models.OutboxEvent{first, second}}
	pub := &fakePublisher{results: []fakeResult{{err: errors.New("transient")}, {}}}
	svc := newTestService(t, repo, pub, resolverFor(t))

	count, err := svc.processBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, []uuid.UUID{first.ID}, repo.failed)
	assert.Equal(t, []uuid.UUID{second.ID}, repo.published)
	assert.Empty(t, repo.terminal)
	require.Len(t, pub.messages, 2)
	assert.Equal(t, string(enums.EventTransactionPaid), pub.messages[1].Attributes["event_type"])
	assert.Equal(t, second.AggregateID.String(), pub.messages[1].Attributes["aggregate_id"])
}

func TestProcessBatchMarksTerminalAtMaxAttempts(t *testing.T) {
	event := transactionEvent(t, 2)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	pub := &fakePublisher{results: []fakeResult{{err: errors.New("still down")}}}
	svc := newTestService(t, repo, pub, resolverFor(t))

	_, err := svc.processBatch(context.Background())
	require.NoError(t, err)
	assert.Empty(t, repo.failed)
	assert.Equal(t, []uuid.UUID{event.ID}, repo.terminal)
	assert.Equal(t, 3, repo.terminalAttempts)
}

func TestProcessBatchTerminalOnUnresolvableEvent(t *testing.T) {
	event := transactionEvent(t, 0)
	event.EventType = enums.OutboxEventType("unknown_event")
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	pub := &fakePublisher{}
	svc := newTestService(t, repo, pub, resolverFor(t))

	_, err := svc.processBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{event.ID}, repo.terminal)
	assert.Empty(t, pub.messages)
}

func TestProcessBatchTerminalOnPermanentPubSubError(t *testing.T) {
	event := transactionEvent(t, 0)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	pub := &fakePublisher{results: []fakeResult{{err: status.Error(codes.NotFound, "topic gone")}}}
	svc := newTestService(t, repo, pub, resolverFor(t))

	_, err := svc.processBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{event.ID}, repo.terminal)
}

func TestProcessBatchPropagatesFetchError(t *testing.T) {
	repo := &fakeRepo{fetchErr: errors.New("db down")}
	svc := newTestService(t, repo, &fakePublisher{}, resolverFor(t))

	_, err := svc.processBatch(context.Background())
	require.Error(t, err)
}

func TestNewServiceValidation(t *testing.T) {
	_, err := NewService(ServiceParams{})
	require.Error(t, err)

	svc, err := NewService(ServiceParams{
		Logger:     logger.Nop(),
		DB:         passthroughTx{},
		Topics:     fakeTopics{},
		Repository: &fakeRepo{},
		Registry:   resolverFor(t),
	})
	require.NoError(t, err)
	assert.Equal(t, defaultBatchSize, svc.batchSize)
	assert.Equal(t, defaultMaxAttempts, svc.maxAttempts)
	assert.Equal(t, defaultPollInterval, svc.pollInterval)
}

func TestRunStopsWhenContextCancelled(t *testing.T) {
	svc := newTestService(t, &fakeRepo{}, &fakePublisher{}, resolverFor(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := svc.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func newTestService(t *testing.T, repo *fakeRepo, pub *fakePublisher, resolver eventResolver) *Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Config:     config.OutboxConfig{BatchSize: 10, PollIntervalMS: 10, MaxAttempts: 3},
		Logger:     logger.Nop(),
		DB:         passthroughTx{},
		Topics:     fakeTopics{},
		Repository: repo,
		Registry:   resolver,
		PublisherFactory: func(string) publisher {
			return pub
		},
	})
	require.NoError(t, err)
	return svc
}

func resolverFor(t *testing.T) eventResolver {
	t.Helper()
	reg, err := registry.NewEventRegistry(config.PubSubConfig{
		TransactionsTopic: "transactions-topic",
		NotificationTopic: "notification-topic",
	})
	require.NoError(t, err)
	return reg
}

func transactionEvent(t *testing.T, attempts int) models.OutboxEvent {
	t.Helper()
	txnID := uuid.New()
	data, err := json.Marshal(payloads.TransactionEvent{TransactionID: txnID})
	require.NoError(t, err)
	envelope, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Data:       data,
	})
	require.NoError(t, err)
	return models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventTransactionPaid,
		AggregateType: enums.AggregateTransaction,
		AggregateID:   txnID,
		Payload:       envelope,
		AttemptCount:  attempts,
	}
}

type passthroughTx struct{}

func (passthroughTx) Ping(context.Context) error { return nil }

func (passthroughTx) WithTx(_ context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type fakeTopics struct{}

func (fakeTopics) Ping(context.Context) error           { return nil }
func (fakeTopics) Publisher(string) *gcppubsub.Publisher { return nil }

type fakeRepo struct {
	events           []models.OutboxEvent
	fetchErr         error
	published        []uuid.UUID
	failed           []uuid.UUID
	terminal         []uuid.UUID
	terminalAttempts int
}

func (f *fakeRepo) FetchUnpublishedForPublish(*gorm.DB, int, int) ([]models.OutboxEvent, error) {
	return f.events, f.fetchErr
}

func (f *fakeRepo) MarkPublishedTx(_ *gorm.DB, id uuid.UUID) error {
	f.published = append(f.published, id)
	return nil
}

func (f *fakeRepo) MarkFailedTx(_ *gorm.DB, id uuid.UUID, _ error) error {
	f.failed = append(f.failed, id)
	return nil
}

func (f *fakeRepo) MarkTerminalTx(_ *gorm.DB, id uuid.UUID, _ error, attempts int) error {
	f.terminal = append(f.terminal, id)
	f.terminalAttempts = attempts
	return nil
}

type fakeResult struct {
	err error
}

func (r fakeResult) Get(context.Context) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	return "server-id", nil
}

type fakePublisher struct {
	results  []fakeResult
	messages []*gcppubsub.Message
}

func (f *fakePublisher) Publish(_ context.Context, msg *gcppubsub.Message) publishResult {
	f.messages = append(f.messages, msg)
	if len(f.results) == 0 {
		return fakeResult{}
	}
	res := f.results[0]
	f.results = f.results[1:]
	return res
}
