package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/handoffmarket/handoff-backend/pkg/db/models"
	pkgerrors "github.com/handoffmarket/handoff-backend/pkg/errors"
)

type userLoader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// EligibilityChecker gates purchases on the buyer's account state.
type EligibilityChecker interface {
	EnsureCanPurchase(ctx context.Context, userID uuid.UUID) error
}

type eligibility struct {
	users userLoader
}

func NewEligibilityChecker(users userLoader) (EligibilityChecker, error) {
	if users == nil {
		return nil, fmt.Errorf("users repository required")
	}
	return &eligibility{users: users}, nil
}

func (e *eligibility) EnsureCanPurchase(ctx context.Context, userID uuid.UUID) error {
	if userID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "buyer identity required")
	}
	user, err := e.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeForbidden, "account cannot make purchases")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load buyer")
	}
	if !user.IsActive {
		return pkgerrors.New(pkgerrors.CodeForbidden, "account is disabled")
	}
	if !user.IsVerified {
		return pkgerrors.New(pkgerrors.CodeForbidden, "account must be verified before purchasing")
	}
	return nil
}
