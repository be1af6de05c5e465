package webhooks

import (
	"context"
	"io"
	"net/http"

	"github.com/handoffmarket/handoff-backend/api/responses"
	"github.com/handoffmarket/handoff-backend/internal/settlement"
	razorpaywebhook "github.com/handoffmarket/handoff-backend/internal/webhooks/razorpay"
	pkgerrors "github.com/handoffmarket/handoff-backend/pkg/errors"
	"github.com/handoffmarket/handoff-backend/pkg/logger"
)

const (
	signatureHeader = "X-Razorpay-Signature"
	eventIDHeader   = "X-Razorpay-Event-Id"

	// gateway payloads are small; anything larger is not a razorpay delivery
	maxWebhookBody = 1 << 20
)

type RazorpayWebhookService interface {
	Handle(ctx context.Context, delivery razorpaywebhook.Delivery) (*settlement.Result, error)
}

type webhookAck struct {
	Outcome settlement.Outcome `json:"outcome"`
}

// RazorpayWebhook acknowledges every authentic, well-formed delivery with 200.
// Processing failures are logged, not surfaced to the gateway.
func RazorpayWebhook(svc RazorpayWebhookService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}

		payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
			return
		}

		result, err := svc.Handle(ctx, razorpaywebhook.Delivery{
			Body:      payload,
			Signature: r.Header.Get(signatureHeader),
			EventID:   r.Header.Get(eventIDHeader),
		})
		if err != nil {
			switch {
			case pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized), pkgerrors.IsCode(err, pkgerrors.CodeValidation):
				responses.WriteError(ctx, logg, w, err)
			default:
				if logg != nil {
					logg.Error(logg.WithField(ctx, "webhook_event_id", r.Header.Get(eventIDHeader)), "razorpay webhook processing failed", err)
				}
				responses.WriteSuccess(w, webhookAck{Outcome: "error"})
			}
			return
		}

		responses.WriteSuccess(w, webhookAck{Outcome: result.Outcome})
	}
}
