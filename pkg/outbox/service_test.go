package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/handoffmarket/handoff-backend/pkg/db/dbtest"
	"github.com/handoffmarket/handoff-backend/pkg/db/models"
	"github.com/handoffmarket/handoff-backend/pkg/enums"
	"github.com/handoffmarket/handoff-backend/pkg/logger"
)

func TestEmitWritesEnvelope(t *testing.T) {
	conn := dbtest.Open(t)
	svc := NewService(NewRepository(conn), logger.Nop())

	aggregateID := uuid.New()
	actor := &ActorRef{UserID: uuid.New(), Role: "member"}
	err := svc.Emit(context.Background(), conn, DomainEvent{
		EventType:     enums.EventTransactionPaid,
		AggregateType: enums.AggregateTransaction,
		AggregateID:   aggregateID,
		Actor:         actor,
		Data:          map[string]any{"status": "PAID"},
	})
	require.NoError(t, err)

	var row models.OutboxEvent
	require.NoError(t, conn.First(&row).Error)
	assert.Equal(t, aggregateID, row.AggregateID)
	assert.Nil(t, row.PublishedAt)
	assert.Zero(t, row.AttemptCount)

	var envelope PayloadEnvelope
	require.NoError(t, json.Unmarshal(row.Payload, &envelope))
	assert.Equal(t, CurrentEnvelopeVersion, envelope.Version)
	assert.Equal(t, row.ID.String(), envelope.EventID)
	assert.False(t, envelope.OccurredAt.IsZero())
	require.NotNil(t, envelope.Actor)
	assert.Equal(t, actor.UserID, envelope.Actor.UserID)
	assert.JSONEq(t, `{"status":"PAID"}`, string(envelope.Data))
}

func TestEmitRejectsInvalidInput(t *testing.T) {
	conn := dbtest.Open(t)
	svc := NewService(NewRepository(conn), logger.Nop())

	err := svc.Emit(context.Background(), nil, DomainEvent{
		EventType:     enums.EventTransactionPaid,
		AggregateType: enums.AggregateTransaction,
	})
	assert.Error(t, err)

	err = svc.Emit(context.Background(), conn, DomainEvent{
		EventType:     "order_created",
		AggregateType: enums.AggregateTransaction,
	})
	assert.Error(t, err)

	err = svc.Emit(context.Background(), conn, DomainEvent{
		EventType:     enums.EventTransactionPaid,
		AggregateType: "vendor_order",
	})
	assert.Error(t, err)
}

func TestEmitIfNotExists(t *testing.T) {
	conn := dbtest.Open(t)
	svc := NewService(NewRepository(conn), logger.Nop())

	event := DomainEvent{
		EventType:     enums.EventPickupCodeGenerated,
		AggregateType: enums.AggregatePickup,
		AggregateID:   uuid.New(),
		Data:          map[string]any{"status": "GENERATED"},
	}
	require.NoError(t, svc.EmitIfNotExists(context.Background(), conn, event))
	require.NoError(t, svc.EmitIfNotExists(context.Background(), conn, event))

	var count int64
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestRepositoryPublishLifecycle(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	svc := NewService(repo, logger.Nop())

	for i := 0; i < 3; i++ {
		require.NoError(t, svc.Emit(context.Background(), conn, DomainEvent{
			EventType:     enums.EventTransactionInitiated,
			AggregateType: enums.AggregateTransaction,
			AggregateID:   uuid.New(),
			Data:          map[string]int{"i": i},
		}))
	}

	rows, err := repo.FetchUnpublishedForPublish(conn, 10, 5)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	require.NoError(t, repo.MarkPublishedTx(conn, rows[0].ID))
	require.NoError(t, repo.MarkFailedTx(conn, rows[1].ID, errors.New(strings.Repeat("x", 2000))))
	require.NoError(t, repo.MarkTerminalTx(conn, rows[2].ID, errors.New("bad payload"), 5))

	pending, err := repo.FetchUnpublishedForPublish(conn, 10, 5)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, rows[1].ID, pending[0].ID)
	assert.Equal(t, 1, pending[0].AttemptCount)
	require.NotNil(t, pending[0].LastError)
	assert.Len(t, *pending[0].LastError, lastErrorMaxLen)

	deleted, err := repo.DeletePublishedBefore(conn, time.Now().UTC().Add(time.Minute), 100)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}
