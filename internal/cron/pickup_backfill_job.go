package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/handoffmarket/handoff-backend/pkg/db/models"
	"github.com/handoffmarket/handoff-backend/pkg/logger"
)

const (
	defaultBackfillAge   = 2 * time.Minute
	defaultBackfillBatch = 100
)

type paidWithoutPickupReader interface {
	ListPaidWithoutPickup(ctx context.Context, paidBefore time.Time, limit int) ([]models.Transaction, error)
}

type pickupIssuer interface {
	EnsureForSettlement(ctx context.Context, transactionID uuid.UUID) (*models.Pickup, error)
}

type PickupBackfillJobParams struct {
	Logger       *logger.Logger
	Transactions paidWithoutPickupReader
	Pickups      pickupIssuer
	// MinAge leaves fresh settlements to the request that settled them.
	MinAge    time.Duration
	BatchSize int
}

// NewPickupBackfillJob issues pickup codes for sales whose post-commit pickup
// step was lost.
func NewPickupBackfillJob(params PickupBackfillJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Transactions == nil {
		return nil, fmt.Errorf("transactions reader required")
	}
	if params.Pickups == nil {
		return nil, fmt.Errorf("pickup issuer required")
	}
	minAge := params.MinAge
	if minAge <= 0 {
		minAge = defaultBackfillAge
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultBackfillBatch
	}
	return &pickupBackfillJob{
		logg:   params.Logger,
		reader: params.Transactions,
		issuer: params.Pickups,
		minAge: minAge,
		batch:  batch,
		now:    time.Now,
	}, nil
}

type pickupBackfillJob struct {
	logg   *logger.Logger
	reader paidWithoutPickupReader
	issuer pickupIssuer
	minAge time.Duration
	batch  int
	now    func() time.Time
}

func (j *pickupBackfillJob) Name() string { return "pickup-backfill" }

func (j *pickupBackfillJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.minAge)
	rows, err := j.reader.ListPaidWithoutPickup(ctx, cutoff, j.batch)
	if err != nil {
		return fmt.Errorf("list paid transactions without pickup: %w", err)
	}

	var (
		errs   []error
		issued int
	)
	for _, txn := range rows {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if _, err := j.issuer.EnsureForSettlement(ctx, txn.ID); err != nil {
			errs = append(errs, fmt.Errorf("transaction %s: %w", txn.ID, err))
			continue
		}
		issued++
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":     cutoff,
		"candidates": len(rows),
		"issued":     issued,
		"failed":     len(errs),
	})
	j.logg.Info(logCtx, "pickup backfill complete")
	return multierr.Combine(errs...)
}
