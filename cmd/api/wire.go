package main

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/handoffmarket/handoff-backend/api/controllers"
	"github.com/handoffmarket/handoff-backend/api/routes"
	"github.com/handoffmarket/handoff-backend/internal/audit"
	"github.com/handoffmarket/handoff-backend/internal/disputes"
	"github.com/handoffmarket/handoff-backend/internal/listings"
	"github.com/handoffmarket/handoff-backend/internal/notifications"
	"github.com/handoffmarket/handoff-backend/internal/pickups"
	"github.com/handoffmarket/handoff-backend/internal/refunds"
	"github.com/handoffmarket/handoff-backend/internal/settlement"
	"github.com/handoffmarket/handoff-backend/internal/transactions"
	"github.com/handoffmarket/handoff-backend/internal/users"
	razorpaywebhook "github.com/handoffmarket/handoff-backend/internal/webhooks/razorpay"
	"github.com/handoffmarket/handoff-backend/pkg/config"
	"github.com/handoffmarket/handoff-backend/pkg/db"
	"github.com/handoffmarket/handoff-backend/pkg/logger"
	"github.com/handoffmarket/handoff-backend/pkg/metrics"
	"github.com/handoffmarket/handoff-backend/pkg/outbox"
	"github.com/handoffmarket/handoff-backend/pkg/razorpay"
	"github.com/handoffmarket/handoff-backend/pkg/redis"
	"github.com/handoffmarket/handoff-backend/pkg/signature"
)

const webhookDedupeScope = "razorpay-webhook"

func buildDeps(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client, registry *prometheus.Registry) (routes.Deps, error) {
	conn := dbClient.DB()
	settlementMetrics := metrics.NewSettlementMetrics(registry)

	gateway, err := razorpay.NewClient(cfg.Gateway.KeyID, cfg.Gateway.KeySecret,
		razorpay.WithBaseURL(cfg.Gateway.BaseURL),
		razorpay.WithTimeout(cfg.Gateway.Timeout),
	)
	if err != nil {
		return routes.Deps{}, fmt.Errorf("razorpay client: %w", err)
	}
	checkoutVerifier, err := signature.NewCheckoutVerifier(cfg.Gateway.KeySecret)
	if err != nil {
		return routes.Deps{}, fmt.Errorf("checkout verifier: %w", err)
	}
	webhookVerifier, err := signature.NewWebhookVerifier(cfg.Gateway.WebhookSecret)
	if err != nil {
		return routes.Deps{}, fmt.Errorf("webhook verifier: %w", err)
	}

	auditSvc, err := audit.NewService(audit.NewRepository(conn))
	if err != nil {
		return routes.Deps{}, err
	}
	emitter := outbox.NewService(outbox.NewRepository(conn), logg)
	notifier, err := notifications.NewService(emitter)
	if err != nil {
		return routes.Deps{}, err
	}
	eligibility, err := users.NewEligibilityChecker(users.NewRepository(conn))
	if err != nil {
		return routes.Deps{}, err
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
		Metrics:      settlementMetrics,
		Logger:       logg,
	})
	if err != nil {
		return routes.Deps{}, fmt.Errorf("pickup manager: %w", err)
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
		Metrics:      settlementMetrics,
		Logger:       logg,
	})
	if err != nil {
		return routes.Deps{}, fmt.Errorf("refund processor: %w", err)
	}

	txnService, err := transactions.NewService(transactions.ServiceParams{
		Tx:           dbClient,
		Transactions: txnRepo,
		Listings:     listingRepo,
		Pickups:      pickupRepo,
		Refunds:      refundRepo,
		Eligibility:  eligibility,
		Gateway:      gateway,
		Refunder:     refundProcessor,
		Audit:        auditSvc,
		Outbox:       emitter,
		Notifier:     notifier,
		Logger:       logg,
	})
	if err != nil {
		return routes.Deps{}, fmt.Errorf("transaction service: %w", err)
	}

	reconciler, err := settlement.NewService(settlement.ServiceParams{
		Tx:           dbClient,
		Transactions: txnRepo,
		Listings:     listingRepo,
		Pickups:      pickupManager,
		PickupReader: pickupRepo,
		Refunder:     refundProcessor,
		Verifier:     checkoutVerifier,
		Audit:        auditSvc,
		Outbox:       emitter,
		Notifier:     notifier,
		Config:       cfg.Settlement,
		Metrics:      settlementMetrics,
		Logger:       logg,
	})
	if err != nil {
		return routes.Deps{}, fmt.Errorf("settlement service: %w", err)
	}

	disputeService, err := disputes.NewService(disputes.ServiceParams{
		Tx:           dbClient,
		Disputes:     disputes.NewRepository(conn),
		Transactions: txnRepo,
		Refunder:     refundProcessor,
		Audit:        auditSvc,
		Outbox:       emitter,
		Notifier:     notifier,
		Logger:       logg,
	})
	if err != nil {
		return routes.Deps{}, fmt.Errorf("dispute service: %w", err)
	}

	guard, err := razorpaywebhook.NewIdempotencyGuard(redisClient, cfg.Settlement.WebhookDedupeTTL, webhookDedupeScope)
	if err != nil {
		return routes.Deps{}, fmt.Errorf("webhook guard: %w", err)
	}
	webhookService, err := razorpaywebhook.NewService(razorpaywebhook.ServiceParams{
		Verifier:   webhookVerifier,
		Reconciler: reconciler,
		Guard:      guard,
		Metrics:    settlementMetrics,
		Logger:     logg,
	})
	if err != nil {
		return routes.Deps{}, fmt.Errorf("webhook service: %w", err)
	}

	return routes.Deps{
		Transactions: txnService,
		Settlement:   reconciler,
		Pickups:      pickupManager,
		Refunds:      refundProcessor,
		Disputes:     disputeService,
		Webhooks:     webhookService,
		Idempotency:  redisClient,
		RateLimiter:  redisClient,
		Readiness: map[string]controllers.Pinger{
			"postgres": dbClient,
			"redis":    redisClient,
		},
		Gatherer: registry,
	}, nil
}
