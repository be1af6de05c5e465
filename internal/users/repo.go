package users

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/handoffmarket/handoff-backend/pkg/db/models"
)

// Repository is a read-only view over users. Accounts are written by the
// identity service.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// FindByID loads the account flags purchase checks need. Unknown ids return
// gorm.ErrRecordNotFound.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user := &models.User{}
	err := r.db.WithContext(ctx).
		Select("id", "role", "is_verified", "is_active").
		Where("id = ?", id).
		Take(user).Error
	if err != nil {
		return nil, err
	}
	return user, nil
}
