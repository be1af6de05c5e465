package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/handoffmarket/handoff-backend/api/responses"
	"github.com/handoffmarket/handoff-backend/api/validators"
	"github.com/handoffmarket/handoff-backend/internal/disputes"
	"github.com/handoffmarket/handoff-backend/pkg/db/models"
	"github.com/handoffmarket/handoff-backend/pkg/enums"
	pkgerrors "github.com/handoffmarket/handoff-backend/pkg/errors"
	"github.com/handoffmarket/handoff-backend/pkg/logger"
)

type createDisputeRequest struct {
	TransactionID uuid.UUID `json:"transaction_id" validate:"required"`
	Reason        string    `json:"reason" validate:"required,max=2000"`
	Priority      string    `json:"priority,omitempty" validate:"omitempty,oneof=low medium high"`
}

type updateDisputeRequest struct {
	Status     *string              `json:"status,omitempty" validate:"omitempty,oneof=IN_REVIEW RESOLVED REJECTED"`
	Priority   *string              `json:"priority,omitempty" validate:"omitempty,oneof=low medium high"`
	Resolution *string              `json:"resolution,omitempty" validate:"omitempty,max=2000"`
	Refund     *disputeRefundPayload `json:"refund,omitempty"`
}

type disputeRefundPayload struct {
	Amount            string `json:"amount,omitempty" validate:"omitempty,decimal_positive,excluded_with=Percentage"`
	Percentage        string `json:"percentage,omitempty" validate:"omitempty,decimal_positive"`
	ReactivateListing bool   `json:"reactivate_listing,omitempty"`
}

type disputeResponse struct {
	ID            uuid.UUID             `json:"id"`
	TransactionID uuid.UUID             `json:"transaction_id"`
	ReporterID    uuid.UUID             `json:"reporter_id"`
	Reason        string                `json:"reason"`
	Priority      enums.DisputePriority `json:"priority"`
	Status        enums.DisputeStatus   `json:"status"`
	Resolution    *string               `json:"resolution,omitempty"`
	ResolvedAt    *time.Time            `json:"resolved_at,omitempty"`
	ResolvedBy    *uuid.UUID            `json:"resolved_by,omitempty"`
	RefundID      *uuid.UUID            `json:"refund_id,omitempty"`
	CreatedAt     time.Time             `json:"created_at"`
	UpdatedAt     time.Time             `json:"updated_at"`
}

func newDisputeResponse(d *models.Dispute) disputeResponse {
	if d == nil {
		return disputeResponse{}
	}
	return disputeResponse{
		ID:            d.ID,
		TransactionID: d.TransactionID,
		ReporterID:    d.ReporterID,
		Reason:        d.Reason,
		Priority:      d.Priority,
		Status:        d.Status,
		Resolution:    d.Resolution,
		ResolvedAt:    d.ResolvedAt,
		ResolvedBy:    d.ResolvedBy,
		RefundID:      d.RefundID,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
}

func CreateDispute(svc disputes.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "dispute service unavailable"))
			return
		}

		reporterID, _, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload createDisputeRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		priority := enums.DisputePriorityMedium
		if payload.Priority != "" {
			priority = enums.DisputePriority(payload.Priority)
		}

		dispute, err := svc.Create(r.Context(), disputes.CreateInput{
			TransactionID: payload.TransactionID,
			ReporterID:    reporterID,
			Reason:        strings.TrimSpace(payload.Reason),
			Priority:      priority,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, newDisputeResponse(dispute))
	}
}

func GetDispute(svc disputes.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "dispute service unavailable"))
			return
		}

		actorID, role, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		disputeID, err := validators.ParseUUIDParam(r, "disputeId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		dispute, err := svc.Get(r.Context(), disputes.GetInput{DisputeID: disputeID, ActorID: actorID, ActorRole: role})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newDisputeResponse(dispute))
	}
}

// ListTransactionDisputes returns every dispute on a transaction, newest first.
func ListTransactionDisputes(svc disputes.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "dispute service unavailable"))
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

		rows, err := svc.ListByTransaction(r.Context(), disputes.ListInput{TransactionID: transactionID, ActorID: actorID, ActorRole: role})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		out := make([]disputeResponse, 0, len(rows))
		for i := range rows {
			out = append(out, newDisputeResponse(&rows[i]))
		}
		responses.WriteSuccess(w, out)
	}
}

// AdminUpdateDispute moves a dispute through review and resolution. A refund
// block is only honoured together with status RESOLVED.
func AdminUpdateDispute(svc disputes.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "dispute service unavailable"))
			return
		}

		adminID, role, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		disputeID, err := validators.ParseUUIDParam(r, "disputeId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload updateDisputeRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input := disputes.UpdateInput{
			DisputeID:  disputeID,
			AdminID:    adminID,
			AdminRole:  role,
			Resolution: payload.Resolution,
		}
		if payload.Status != nil {
			status := enums.DisputeStatus(*payload.Status)
			input.Status = &status
		}
		if payload.Priority != nil {
			priority := enums.DisputePriority(*payload.Priority)
			input.Priority = &priority
		}
		if payload.Refund != nil {
			directive := &disputes.RefundDirective{ReactivateListing: payload.Refund.ReactivateListing}
			if directive.Amount, err = validators.ParseOptionalDecimal("refund.amount", payload.Refund.Amount); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			if directive.Percentage, err = validators.ParseOptionalDecimal("refund.percentage", payload.Refund.Percentage); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			input.Refund = directive
		}

		dispute, err := svc.Update(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newDisputeResponse(dispute))
	}
}
