package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/handoffmarket/handoff-backend/api/responses"
	"github.com/handoffmarket/handoff-backend/api/validators"
	"github.com/handoffmarket/handoff-backend/internal/settlement"
	pkgerrors "github.com/handoffmarket/handoff-backend/pkg/errors"
	"github.com/handoffmarket/handoff-backend/pkg/logger"
)

type CheckoutConfirmer interface {
	ConfirmCheckout(ctx context.Context, input settlement.CheckoutConfirmation) (*settlement.Result, error)
}

type verifyPaymentRequest struct {
	TransactionID     uuid.UUID `json:"transaction_id" validate:"required"`
	RazorpayOrderID   string    `json:"razorpay_order_id" validate:"required,max=64"`
	RazorpayPaymentID string    `json:"razorpay_payment_id" validate:"required,max=64"`
	RazorpaySignature string    `json:"razorpay_signature" validate:"required,max=256"`
}

// VerifyPayment accepts the browser checkout callback. A repeat of an already
// settled payment returns the same shape as the first call.
func VerifyPayment(svc CheckoutConfirmer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "settlement service unavailable"))
			return
		}

		buyerID, _, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload verifyPaymentRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithTransactionID(ctx, payload.TransactionID.String())
		}

		result, err := svc.ConfirmCheckout(ctx, settlement.CheckoutConfirmation{
			TransactionID: payload.TransactionID,
			OrderID:       payload.RazorpayOrderID,
			PaymentID:     payload.RazorpayPaymentID,
			Signature:     payload.RazorpaySignature,
			ActorID:       buyerID,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, result)
	}
}
