package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/handoffmarket/handoff-backend/internal/transactions"
	"github.com/handoffmarket/handoff-backend/pkg/db/dbtest"
	"github.com/handoffmarket/handoff-backend/pkg/db/models"
	"github.com/handoffmarket/handoff-backend/pkg/enums"
	"github.com/handoffmarket/handoff-backend/pkg/logger"
)

type recordingIssuer struct {
	issued []uuid.UUID
	fail   map[uuid.UUID]error
}

func (r *recordingIssuer) EnsureForSettlement(_ context.Context, transactionID uuid.UUID) (*models.Pickup, error) {
	if err := r.fail[transactionID]; err != nil {
		return nil, err
	}
	r.issued = append(r.issued, transactionID)
	return &models.Pickup{TransactionID: transactionID}, nil
}

type stubPaidReader struct {
	rows []models.Transaction
	err  error
}

func (s stubPaidReader) ListPaidWithoutPickup(context.Context, time.Time, int) ([]models.Transaction, error) {
	return s.rows, s.err
}

func TestPickupBackfillIssuesForStaleOrphans(t *testing.T) {
	conn := dbtest.Open(t)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	seller := dbtest.SeedUser(t, conn, true)
	buyer := dbtest.SeedUser(t, conn, true)
	stale := dbtest.SeedTransaction(t, conn, buyer.ID, dbtest.SeedListing(t, conn, seller.ID, 50000), enums.TransactionStatusPaid)
	fresh := dbtest.SeedTransaction(t, conn, buyer.ID, dbtest.SeedListing(t, conn, seller.ID, 50000), enums.TransactionStatusPaid)
	require.NoError(t, conn.Model(&models.Transaction{}).Where("id = ?", stale.ID).Update("paid_at", now.Add(-10*time.Minute)).Error)
	require.NoError(t, conn.Model(&models.Transaction{}).Where("id = ?", fresh.ID).Update("paid_at", now.Add(-30*time.Second)).Error)

	issuer := &recordingIssuer{}
	job, err := NewPickupBackfillJob(PickupBackfillJobParams{
		Logger:       logger.Nop(),
		Transactions: transactions.NewRepository(conn),
		Pickups:      issuer,
	})
	require.NoError(t, err)
	job.(*pickupBackfillJob).now = func() time.Time { return now }

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, []uuid.UUID{stale.ID}, issuer.issued)
}

func TestPickupBackfillCombinesFailures(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	issuer := &recordingIssuer{fail: map[uuid.UUID]error{
		a: errors.New("pickup store unavailable"),
		c: errors.New("pickup store unavailable"),
	}}
	job, err := NewPickupBackfillJob(PickupBackfillJobParams{
		Logger:       logger.Nop(),
		Transactions: stubPaidReader{rows: []models.Transaction{{ID: a}, {ID: b}, {ID: c}}},
		Pickups:      issuer,
	})
	require.NoError(t, err)

	err = job.Run(context.Background())
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 2)
	assert.Equal(t, []uuid.UUID{b}, issuer.issued)
}

func TestPickupBackfillListFailure(t *testing.T) {
	job, err := NewPickupBackfillJob(PickupBackfillJobParams{
		Logger:       logger.Nop(),
		Transactions: stubPaidReader{err: errors.New("db down")},
		Pickups:      &recordingIssuer{},
	})
	require.NoError(t, err)
	assert.Error(t, job.Run(context.Background()))
}

func TestNewPickupBackfillJobValidation(t *testing.T) {
	_, err := NewPickupBackfillJob(PickupBackfillJobParams{Transactions: stubPaidReader{}, Pickups: &recordingIssuer{}})
	assert.Error(t, err)
	_, err = NewPickupBackfillJob(PickupBackfillJobParams{Logger: logger.Nop(), Pickups: &recordingIssuer{}})
	assert.Error(t, err)
	_, err = NewPickupBackfillJob(PickupBackfillJobParams{Logger: logger.Nop(), Transactions: stubPaidReader{}})
	assert.Error(t, err)

	job, err := NewPickupBackfillJob(PickupBackfillJobParams{Logger: logger.Nop(), Transactions: stubPaidReader{}, Pickups: &recordingIssuer{}})
	require.NoError(t, err)
	assert.Equal(t, "pickup-backfill", job.Name())
	assert.Equal(t, defaultBackfillAge, job.(*pickupBackfillJob).minAge)
}
