package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/handoffmarket/handoff-backend/api/controllers"
	webhookcontrollers "github.com/handoffmarket/handoff-backend/api/controllers/webhooks"
	"github.com/handoffmarket/handoff-backend/api/middleware"
	"github.com/handoffmarket/handoff-backend/internal/disputes"
	"github.com/handoffmarket/handoff-backend/internal/pickups"
	"github.com/handoffmarket/handoff-backend/internal/transactions"
	"github.com/handoffmarket/handoff-backend/pkg/config"
	"github.com/handoffmarket/handoff-backend/pkg/enums"
	"github.com/handoffmarket/handoff-backend/pkg/logger"
	pkgredis "github.com/handoffmarket/handoff-backend/pkg/redis"
)

// Deps carries everything the HTTP surface talks to. Nil Redis handles disable
// request idempotency and rate limiting.
type Deps struct {
	Transactions transactions.Service
	Settlement   controllers.CheckoutConfirmer
	Pickups      pickups.Manager
	Refunds      controllers.RefundIssuer
	Disputes     disputes.Service
	Webhooks     webhookcontrollers.RazorpayWebhookService

	Idempotency pkgredis.IdempotencyStore
	RateLimiter pkgredis.RateLimiter
	Readiness   map[string]controllers.Pinger
	Gatherer    prometheus.Gatherer
}

func NewRouter(cfg *config.Config, logg *logger.Logger, deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSAllowedOrigins),
	)

	attemptPolicy := middleware.RateLimitPolicy{
		Name:   "payment_attempts",
		Limit:  int64(cfg.App.RateLimit),
		Window: cfg.App.RateLimitWindow,
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.Readiness))
	})

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/razorpay", webhookcontrollers.RazorpayWebhook(deps.Webhooks, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(deps.Idempotency, logg))

		r.Route("/transactions", func(r chi.Router) {
			r.Post("/", controllers.InitiateTransaction(deps.Transactions, logg))
			r.Route("/{transactionId}", func(r chi.Router) {
				r.Get("/", controllers.GetTransaction(deps.Transactions, logg))
				r.Post("/cancel", controllers.CancelTransaction(deps.Transactions, logg))
				r.Get("/disputes", controllers.ListTransactionDisputes(deps.Disputes, logg))
				r.Route("/pickup", func(r chi.Router) {
					r.Post("/", controllers.GeneratePickup(deps.Pickups, logg))
					r.Get("/", controllers.GetPickup(deps.Pickups, logg))
					r.With(middleware.RateLimit(deps.RateLimiter, attemptPolicy, logg)).
						Post("/confirm", controllers.ConfirmPickup(deps.Pickups, logg))
				})
			})
		})

		r.With(middleware.RateLimit(deps.RateLimiter, attemptPolicy, logg)).
			Post("/payments/verify", controllers.VerifyPayment(deps.Settlement, logg))

		r.Route("/disputes", func(r chi.Router) {
			r.Post("/", controllers.CreateDispute(deps.Disputes, logg))
			r.Get("/{disputeId}", controllers.GetDispute(deps.Disputes, logg))
		})
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole(logg, enums.UserRoleAdmin))
		r.Use(middleware.Idempotency(deps.Idempotency, logg))

		r.Post("/transactions/{transactionId}/refund", controllers.AdminRefundTransaction(deps.Refunds, logg))
		r.Patch("/disputes/{disputeId}", controllers.AdminUpdateDispute(deps.Disputes, logg))
	})

	return r
}
