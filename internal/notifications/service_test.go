package notifications

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/handoffmarket/handoff-backend/pkg/db/dbtest"
	"github.com/handoffmarket/handoff-backend/pkg/db/models"
	"github.com/handoffmarket/handoff-backend/pkg/enums"
	pkgerrors "github.com/handoffmarket/handoff-backend/pkg/errors"
	"github.com/handoffmarket/handoff-backend/pkg/logger"
	"github.com/handoffmarket/handoff-backend/pkg/outbox"
	"github.com/handoffmarket/handoff-backend/pkg/outbox/payloads"
)

func newNotifier(t *testing.T) (Notifier, *outbox.Repository) {
	t.Helper()
	conn := dbtest.Open(t)
	repo := outbox.NewRepository(conn)
	svc, err := NewService(outbox.NewService(repo, logger.Nop()))
	require.NoError(t, err)
	return svc, repo
}

func TestNotifyQueuesOutboxRow(t *testing.T) {
	conn := dbtest.Open(t)
	svc, err := NewService(outbox.NewService(outbox.NewRepository(conn), logger.Nop()))
	require.NoError(t, err)

	n := Notification{
		RecipientID:   uuid.New(),
		TransactionID: uuid.New(),
		Type:          enums.NotificationPaymentReceived,
		Title:         "Payment received",
		Message:       "Your payment was confirmed",
	}
	require.NoError(t, svc.Notify(context.Background(), conn, n))

	var rows []models.OutboxEvent
	require.NoError(t, conn.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, enums.EventNotificationRequested, rows[0].EventType)
	assert.Equal(t, enums.AggregateNotification, rows[0].AggregateType)

	var envelope outbox.PayloadEnvelope
	require.NoError(t, json.Unmarshal(rows[0].Payload, &envelope))
	var payload payloads.NotificationRequestedEvent
	require.NoError(t, json.Unmarshal(envelope.Data, &payload))
	assert.Equal(t, n.RecipientID, payload.RecipientID)
	assert.Equal(t, n.Type, payload.Type)
}

func TestNotifyOnceSkipsReplay(t *testing.T) {
	conn := dbtest.Open(t)
	svc, err := NewService(outbox.NewService(outbox.NewRepository(conn), logger.Nop()))
	require.NoError(t, err)

	n := Notification{
		RecipientID:   uuid.New(),
		TransactionID: uuid.New(),
		Type:          enums.NotificationPickupCodeGenerated,
	}
	require.NoError(t, svc.NotifyOnce(context.Background(), conn, n))
	require.NoError(t, svc.NotifyOnce(context.Background(), conn, n))

	other := n
	other.RecipientID = uuid.New()
	require.NoError(t, svc.NotifyOnce(context.Background(), conn, other))

	var count int64
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestNotifyValidation(t *testing.T) {
	conn := dbtest.Open(t)
	svc, err := NewService(outbox.NewService(outbox.NewRepository(conn), logger.Nop()))
	require.NoError(t, err)

	err = svc.Notify(context.Background(), conn, Notification{TransactionID: uuid.New(), Type: enums.NotificationRefundIssued})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	err = svc.Notify(context.Background(), conn, Notification{RecipientID: uuid.New(), TransactionID: uuid.New(), Type: "bogus"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestNotifyRequiresTx(t *testing.T) {
	svc, _ := newNotifier(t)
	err := svc.Notify(context.Background(), nil, Notification{
		RecipientID:   uuid.New(),
		TransactionID: uuid.New(),
		Type:          enums.NotificationRefundIssued,
	})
	assert.Error(t, err)
}

func TestNewServiceRequiresEmitter(t *testing.T) {
	_, err := NewService(nil)
	assert.Error(t, err)
}
