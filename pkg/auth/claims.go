package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/handoffmarket/handoff-backend/pkg/enums"
)

// AccessTokenPayload is the caller identity a minted token carries.
type AccessTokenPayload struct {
	UserID uuid.UUID
	Role   enums.UserRole
	// JTI defaults to a random uuid.
	JTI string
}

func (p AccessTokenPayload) validate() error {
	if p.UserID == uuid.Nil {
		return fmt.Errorf("%w: user id is required", ErrInvalidClaims)
	}
	if !p.Role.IsValid() {
		return fmt.Errorf("%w: unknown role %q", ErrInvalidClaims, p.Role)
	}
	return nil
}

func (p AccessTokenPayload) claims(issuer string, now time.Time, ttl time.Duration) AccessTokenClaims {
	jti := p.JTI
	if jti == "" {
		jti = uuid.NewString()
	}
	return AccessTokenClaims{
		UserID: p.UserID,
		Role:   p.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Issuer:    issuer,
			Subject:   p.UserID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
}

// AccessTokenClaims is the bearer token body issued by the identity service.
type AccessTokenClaims struct {
	UserID uuid.UUID      `json:"user_id"`
	Role   enums.UserRole `json:"role"`
	jwt.RegisteredClaims
}
