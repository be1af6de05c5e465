package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/handoffmarket/handoff-backend/api/responses"
	"github.com/handoffmarket/handoff-backend/api/validators"
	"github.com/handoffmarket/handoff-backend/internal/refunds"
	"github.com/handoffmarket/handoff-backend/pkg/db/models"
	"github.com/handoffmarket/handoff-backend/pkg/enums"
	pkgerrors "github.com/handoffmarket/handoff-backend/pkg/errors"
	"github.com/handoffmarket/handoff-backend/pkg/logger"
)

type RefundIssuer interface {
	Refund(ctx context.Context, input refunds.RefundInput) (*models.Refund, error)
}

type adminRefundRequest struct {
	Amount            string `json:"amount,omitempty" validate:"omitempty,decimal_positive,excluded_with=Percentage"`
	Percentage        string `json:"percentage,omitempty" validate:"omitempty,decimal_positive"`
	Reason            string `json:"reason" validate:"required,max=500"`
	AllowAfterPickup  bool   `json:"allow_after_pickup,omitempty"`
	ReactivateListing bool   `json:"reactivate_listing,omitempty"`
}

type refundResponse struct {
	ID               uuid.UUID          `json:"id"`
	TransactionID    uuid.UUID          `json:"transaction_id"`
	DisputeID        *uuid.UUID         `json:"dispute_id,omitempty"`
	AmountPaise      int64              `json:"amount_paise"`
	Reason           string             `json:"reason"`
	Status           enums.RefundStatus `json:"status"`
	ExternalRefundID *string            `json:"external_refund_id,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
}

func newRefundResponse(r *models.Refund) refundResponse {
	if r == nil {
		return refundResponse{}
	}
	return refundResponse{
		ID:               r.ID,
		TransactionID:    r.TransactionID,
		DisputeID:        r.DisputeID,
		AmountPaise:      r.AmountPaise,
		Reason:           r.Reason,
		Status:           r.Status,
		ExternalRefundID: r.ExternalRefundID,
		CreatedAt:        r.CreatedAt,
	}
}

// AdminRefundTransaction issues a full, fixed or percentage refund of a paid transaction.
func AdminRefundTransaction(svc RefundIssuer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "refund service unavailable"))
			return
		}

		adminID, _, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		transactionID, err := validators.ParseUUIDParam(r, "transactionId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload adminRefundRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		amount, err := validators.ParseOptionalDecimal("amount", payload.Amount)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		percentage, err := validators.ParseOptionalDecimal("percentage", payload.Percentage)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		refund, err := svc.Refund(r.Context(), refunds.RefundInput{
			TransactionID:     transactionID,
			Amount:            amount,
			Percentage:        percentage,
			Reason:            validators.SanitizeString(payload.Reason, 500),
			ActorID:           adminID,
			AllowAfterPickup:  payload.AllowAfterPickup,
			ReactivateListing: payload.ReactivateListing,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, newRefundResponse(refund))
	}
}
