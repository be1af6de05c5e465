package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/handoffmarket/handoff-backend/api/middleware"
	"github.com/handoffmarket/handoff-backend/pkg/enums"
	pkgerrors "github.com/handoffmarket/handoff-backend/pkg/errors"
)

func actorFromRequest(r *http.Request) (uuid.UUID, enums.UserRole, error) {
	id, role, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		return uuid.Nil, "", pkgerrors.New(pkgerrors.CodeUnauthorized, "missing user context")
	}
	return id, role, nil
}
