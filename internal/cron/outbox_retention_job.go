package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/handoffmarket/handoff-backend/pkg/logger"
)

const (
	OutboxRetentionJobName = "outbox-retention"

	defaultOutboxRetentionDays = 30
	defaultRetentionBatch      = 500
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPruner interface {
	DeletePublishedBefore(tx *gorm.DB, cutoff time.Time, limit int) (int64, error)
}

type OutboxRetentionJobParams struct {
	Logger     *logger.Logger
	DB         txRunner
	Repository outboxPruner
	// Retention is in days. Zero means thirty.
	Retention int
	// BatchSize bounds the rows deleted per transaction.
	BatchSize int
	Now       func() time.Time
}

// NewOutboxRetentionJob prunes published outbox rows older than the retention
// window in short batches. Unpublished rows are kept however old they are.
func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger required")
	case params.DB == nil:
		return nil, errors.New("db runner required")
	case params.Repository == nil:
		return nil, errors.New("outbox repository required")
	}
	days := params.Retention
	if days <= 0 {
		days = defaultOutboxRetentionDays
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultRetentionBatch
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	logg := params.Logger

	return JobFunc(OutboxRetentionJobName, func(ctx context.Context) error {
		cutoff := now().UTC().AddDate(0, 0, -days)
		var total int64
		for {
			var deleted int64
			err := params.DB.WithTx(ctx, func(tx *gorm.DB) error {
				var err error
				deleted, err = params.Repository.DeletePublishedBefore(tx, cutoff, batch)
				return err
			})
			if err != nil {
				return fmt.Errorf("prune outbox before %s: %w", cutoff.Format(time.RFC3339), err)
			}
			total += deleted
			if deleted < int64(batch) || ctx.Err() != nil {
				break
			}
		}
		logg.Info(logg.WithFields(ctx, map[string]any{
			"cutoff":         cutoff,
			"retention_days": days,
			"rows_deleted":   total,
		}), "outbox.retention_pruned")
		return ctx.Err()
	}), nil
}
