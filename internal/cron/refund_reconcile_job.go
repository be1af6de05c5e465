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
	defaultRefundReconcileAge   = 10 * time.Minute
	defaultRefundReconcileBatch = 50
)

type stalePendingRefundReader interface {
	ListStalePending(ctx context.Context, attemptedBefore time.Time, limit int) ([]models.Refund, error)
}

type refundResumer interface {
	Resume(ctx context.Context, refundID uuid.UUID) (*models.Refund, error)
}

type RefundReconcileJobParams struct {
	Logger  *logger.Logger
	Refunds stalePendingRefundReader
	Resumer refundResumer
	// MinAge skips refunds whose gateway call may still be in flight.
	MinAge    time.Duration
	BatchSize int
}

// NewRefundReconcileJob re-sends pending refunds under their original
// idempotency key so gateway successes that were never recorded get finalized.
func NewRefundReconcileJob(params RefundReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Refunds == nil {
		return nil, fmt.Errorf("refund reader required")
	}
	if params.Resumer == nil {
		return nil, fmt.Errorf("refund resumer required")
	}
	minAge := params.MinAge
	if minAge <= 0 {
		minAge = defaultRefundReconcileAge
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultRefundReconcileBatch
	}
	return &refundReconcileJob{
		logg:    params.Logger,
		reader:  params.Refunds,
		resumer: params.Resumer,
		minAge:  minAge,
		batch:   batch,
		now:     time.Now,
	}, nil
}

type refundReconcileJob struct {
	logg    *logger.Logger
	reader  stalePendingRefundReader
	resumer refundResumer
	minAge  time.Duration
	batch   int
	now     func() time.Time
}

func (j *refundReconcileJob) Name() string { return "refund-reconcile" }

func (j *refundReconcileJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.minAge)
	rows, err := j.reader.ListStalePending(ctx, cutoff, j.batch)
	if err != nil {
		return fmt.Errorf("list stale pending refunds: %w", err)
	}

	var (
		errs    []error
		settled int
	)
	for _, refund := range rows {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		resumed, err := j.resumer.Resume(ctx, refund.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("refund %s: %w", refund.ID, err))
			continue
		}
		j.logg.Info(j.logg.WithFields(ctx, map[string]any{
			"refund_id":      refund.ID.String(),
			"transaction_id": refund.TransactionID.String(),
			"status":         string(resumed.Status),
		}), "pending refund resolved")
		settled++
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":     cutoff,
		"candidates": len(rows),
		"resolved":   settled,
		"failed":     len(errs),
	})
	j.logg.Info(logCtx, "refund reconcile complete")
	return multierr.Combine(errs...)
}
