package settlement

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"golang.org/x/sync/errgroup"

	"github.com/handoffmarket/handoff-backend/pkg/config"
	"github.com/handoffmarket/handoff-backend/pkg/db"
	"github.com/handoffmarket/handoff-backend/pkg/db/models"
	"github.com/handoffmarket/handoff-backend/pkg/enums"
	"github.com/handoffmarket/handoff-backend/pkg/logger"
	"github.com/handoffmarket/handoff-backend/pkg/migrate"
)

func startPostgres(t *testing.T) *db.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres integration test skipped in short mode")
	}
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("handoff"),
		postgres.WithUsername("handoff"),
		postgres.WithPassword("handoff"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	client, err := db.New(ctx, config.DBConfig{DSN: dsn, MaxOpenConns: 32, MaxIdleConns: 8}, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	sqlDB, err := client.DB().DB()
	require.NoError(t, err)
	require.NoError(t, migrate.UpEmbedded(ctx, sqlDB))
	return client
}

// Row locks and the conditional update on real Postgres let exactly one of
// many parallel signals settle the transaction.
func TestSettleRaceOnPostgres(t *testing.T) {
	client := startPostgres(t)
	h := newHarnessOn(t, client)
	ctx := context.Background()
	txn := h.initiated(t)

	var settled, duplicates atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < 16; i++ {
		webhook := i%2 == 0
		g.Go(func() error {
			var (
				res *Result
				err error
			)
			if webhook {
				res, err = h.svc.ApplyWebhook(gctx, GatewayEvent{Event: EventPaymentCaptured, OrderID: txn.ExternalOrderID, PaymentID: "pay_pg"})
			} else {
				res, err = h.svc.ConfirmCheckout(gctx, h.checkout(txn, "pay_pg"))
			}
			if err != nil {
				return err
			}
			switch res.Outcome {
			case OutcomeSettled:
				settled.Add(1)
			case OutcomeDuplicate:
				duplicates.Add(1)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(1), settled.Load())
	assert.Equal(t, int32(15), duplicates.Load())
	assert.Equal(t, enums.TransactionStatusPaid, h.transaction(t, txn.ID).Status)
	assert.Equal(t, int64(1), h.count(t, &models.Pickup{}, "transaction_id = ?", txn.ID))
	assert.Equal(t, int64(1), h.count(t, &models.AuditEvent{}, "transaction_id = ? AND type = ?", txn.ID, enums.AuditEventPaymentSettled))
	assert.False(t, h.listingRow(t, txn.ListingID).IsActive)
}

// Two buyers racing for one listing: one sale, one automatic refund.
func TestOversoldRaceOnPostgres(t *testing.T) {
	client := startPostgres(t)
	h := newHarnessOn(t, client)
	ctx := context.Background()
	first := h.initiated(t)
	second := h.initiated(t)

	g, gctx := errgroup.WithContext(ctx)
	for _, txn := range []*models.Transaction{first, second} {
		g.Go(func() error {
			_, err := h.svc.Settle(gctx, Capture{OrderID: txn.ExternalOrderID, PaymentID: "pay_" + txn.ID.String()[:8], Source: enums.SettlementSourceWebhook})
			return err
		})
	}
	require.NoError(t, g.Wait())

	statuses := []enums.TransactionStatus{h.transaction(t, first.ID).Status, h.transaction(t, second.ID).Status}
	assert.ElementsMatch(t, []enums.TransactionStatus{enums.TransactionStatusPaid, enums.TransactionStatusRefunded}, statuses)
	assert.Len(t, h.refunds.calls, 1)
	assert.Equal(t, int64(1), h.count(t, &models.Pickup{}, "1 = 1"))
}
