package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/handoffmarket/handoff-backend/internal/audit"
	"github.com/handoffmarket/handoff-backend/internal/bootstrap"
	"github.com/handoffmarket/handoff-backend/internal/cron"
	"github.com/handoffmarket/handoff-backend/internal/listings"
	"github.com/handoffmarket/handoff-backend/internal/notifications"
	"github.com/handoffmarket/handoff-backend/internal/pickups"
	"github.com/handoffmarket/handoff-backend/internal/refunds"
	"github.com/handoffmarket/handoff-backend/internal/transactions"
	"github.com/handoffmarket/handoff-backend/pkg/config"
	"github.com/handoffmarket/handoff-backend/pkg/db"
	"github.com/handoffmarket/handoff-backend/pkg/logger"
	"github.com/handoffmarket/handoff-backend/pkg/metrics"
	"github.com/handoffmarket/handoff-backend/pkg/outbox"
	"github.com/handoffmarket/handoff-backend/pkg/razorpay"
	"github.com/handoffmarket/handoff-backend/pkg/redis"
)

const serviceKind = "cron-worker"

func main() {
	if err := run(); err != nil {
		bootstrap.Exit(serviceKind, err)
	}
}

func run() error {
	rt, err := bootstrap.Load(serviceKind)
	if err != nil {
		return err
	}
	defer rt.Shutdown()

	ctx, stop := rt.SignalContext()
	defer stop()

	dbClient, err := rt.OpenDB(ctx)
	if err != nil {
		return err
	}
	redisClient, err := rt.OpenRedis(ctx)
	if err != nil {
		return err
	}

	jobs, err := buildJobs(rt.Config, rt.Logger, dbClient, redisClient)
	if err != nil {
		return err
	}
	registry, err := cron.NewRegistry(jobs...)
	if err != nil {
		return fmt.Errorf("cron registry: %w", err)
	}
	lock, err := cron.NewRedisLock(redisClient, lockName(rt.Config.App.Env), 0)
	if err != nil {
		return fmt.Errorf("cron lock: %w", err)
	}

	scheduler, err := cron.NewService(cron.ServiceParams{
		Logger:   rt.Logger,
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: rt.Config.Cron.Interval,
	})
	if err != nil {
		return err
	}

	rt.Logger.Info(ctx, "cron worker started")
	if err := scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("cron worker: %w", err)
	}
	rt.Logger.Info(ctx, "cron worker stopped")
	return nil
}

func buildJobs(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client) ([]cron.Job, error) {
	conn := dbClient.DB()
	outboxRepo := outbox.NewRepository(conn)
	emitter := outbox.NewService(outboxRepo, logg)

	auditSvc, err := audit.NewService(audit.NewRepository(conn))
	if err != nil {
		return nil, err
	}
	notifier, err := notifications.NewService(emitter)
	if err != nil {
		return nil, err
	}

	txnRepo := transactions.NewRepository(conn)
	listingRepo := listings.NewRepository(conn)
	pickupRepo := pickups.NewRepository(conn)
	refundRepo := refunds.NewRepository(conn)
	pickupManager, err := pickups.NewManager(pickups.ManagerParams{
		Tx:           dbClient,
		Transactions: txnRepo,
		Listings:     listingRepo,
		Pickups:      pickupRepo,
		Audit:        auditSvc,
		Outbox:       emitter,
		Notifier:     notifier,
		Limiter:      redisClient,
		Config:       cfg.Pickup,
		Logger:       logg,
	})
	if err != nil {
		return nil, fmt.Errorf("pickup manager: %w", err)
	}

	backfill, err := cron.NewPickupBackfillJob(cron.PickupBackfillJobParams{
		Logger:       logg,
		Transactions: txnRepo,
		Pickups:      pickupManager,
		MinAge:       cfg.Cron.PickupBackfillAge,
	})
	if err != nil {
		return nil, fmt.Errorf("pickup backfill job: %w", err)
	}

	gateway, err := razorpay.NewClient(cfg.Gateway.KeyID, cfg.Gateway.KeySecret,
		razorpay.WithBaseURL(cfg.Gateway.BaseURL),
		razorpay.WithTimeout(cfg.Gateway.Timeout),
	)
	if err != nil {
		return nil, fmt.Errorf("razorpay client: %w", err)
	}
	refundProcessor, err := refunds.NewProcessor(refunds.ProcessorParams{
		Tx:           dbClient,
		Transactions: txnRepo,
		Listings:     listingRepo,
		Pickups:      pickupRepo,
		Refunds:      refundRepo,
		Audit:        auditSvc,
		Outbox:       emitter,
		Notifier:     notifier,
		Gateway:      gateway,
		Logger:       logg,
	})
	if err != nil {
		return nil, fmt.Errorf("refund processor: %w", err)
	}
	reconcile, err := cron.NewRefundReconcileJob(cron.RefundReconcileJobParams{
		Logger:  logg,
		Refunds: refundRepo,
		Resumer: refundProcessor,
		MinAge:  cfg.Cron.RefundReconcileAge,
	})
	if err != nil {
		return nil, fmt.Errorf("refund reconcile job: %w", err)
	}

	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		DB:         dbClient,
		Repository: outboxRepo,
		Retention:  cfg.Outbox.RetentionDays,
	})
	if err != nil {
		return nil, fmt.Errorf("outbox retention job: %w", err)
	}

	return []cron.Job{backfill, reconcile, retention}, nil
}

func lockName(env string) string {
	if env == "" {
		env = "local"
	}
	return "cron-worker:" + env
}
