package controllers

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/handoffmarket/handoff-backend/api/responses"
	"github.com/handoffmarket/handoff-backend/api/validators"
	"github.com/handoffmarket/handoff-backend/internal/pickups"
	"github.com/handoffmarket/handoff-backend/pkg/db/models"
	"github.com/handoffmarket/handoff-backend/pkg/enums"
	pkgerrors "github.com/handoffmarket/handoff-backend/pkg/errors"
	"github.com/handoffmarket/handoff-backend/pkg/logger"
)

type confirmPickupRequest struct {
	Code string `json:"code" validate:"required,max=16"`
}

// pickupResponse never carries the code; only the buyer reads it through GetPickup.
type pickupResponse struct {
	TransactionID    uuid.UUID          `json:"transaction_id"`
	Status           enums.PickupStatus `json:"status"`
	ConfirmedAt      *time.Time         `json:"confirmed_at,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
	AlreadyConfirmed bool               `json:"already_confirmed,omitempty"`
}

func newPickupResponse(p *models.Pickup) pickupResponse {
	if p == nil {
		return pickupResponse{}
	}
	return pickupResponse{
		TransactionID: p.TransactionID,
		Status:        p.Status,
		ConfirmedAt:   p.ConfirmedAt,
		CreatedAt:     p.CreatedAt,
	}
}

// GeneratePickup issues the handover code for a paid transaction. Seller only.
func GeneratePickup(svc pickups.Manager, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "pickup service unavailable"))
			return
		}

		actorID, _, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		transactionID, err := validators.ParseUUIDParam(r, "transactionId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		pickup, err := svc.Generate(r.Context(), pickups.GenerateInput{
			TransactionID: transactionID,
			ActorID:       actorID,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, newPickupResponse(pickup))
	}
}

func GetPickup(svc pickups.Manager, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "pickup service unavailable"))
			return
		}

		actorID, role, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		transactionID, err := validators.ParseUUIDParam(r, "transactionId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		view, err := svc.Get(r.Context(), pickups.GetInput{
			TransactionID: transactionID,
			ActorID:       actorID,
			ActorRole:     role,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, view)
	}
}

// ConfirmPickup completes the handover when the seller enters the buyer's code.
func ConfirmPickup(svc pickups.Manager, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "pickup service unavailable"))
			return
		}

		actorID, _, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		transactionID, err := validators.ParseUUIDParam(r, "transactionId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload confirmPickupRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Confirm(r.Context(), pickups.ConfirmInput{
			TransactionID: transactionID,
			Code:          payload.Code,
			ActorID:       actorID,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		resp := newPickupResponse(result.Pickup)
		resp.AlreadyConfirmed = result.AlreadyConfirmed
		responses.WriteSuccess(w, resp)
	}
}
