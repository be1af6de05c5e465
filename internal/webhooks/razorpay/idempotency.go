package razorpaywebhook

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const defaultDeliveryTTL = 72 * time.Hour

// deliveryStore is the slice of the Redis client the guard needs.
type deliveryStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	IdempotencyKey(scope, id string) string
}

// IdempotencyGuard records gateway delivery ids so a redelivered event skips
// the database. It is an optimisation only: the settlement row lock decides
// the outcome either way.
type IdempotencyGuard struct {
	store deliveryStore
	scope string
	ttl   time.Duration
	now   func() time.Time
}

// NewIdempotencyGuard keeps ids for ttl, or 72h when ttl is zero. The gateway
// stops redelivering well inside that window.
func NewIdempotencyGuard(store deliveryStore, ttl time.Duration, scope string) (*IdempotencyGuard, error) {
	switch {
	case store == nil:
		return nil, errors.New("delivery store is required")
	case ttl < 0:
		return nil, fmt.Errorf("delivery ttl must not be negative, got %s", ttl)
	case scope == "":
		return nil, errors.New("delivery scope is required")
	case ttl == 0:
		ttl = defaultDeliveryTTL
	}
	return &IdempotencyGuard{store: store, scope: scope, ttl: ttl, now: time.Now}, nil
}

// CheckAndMark claims eventID. It returns true when an earlier delivery
// already claimed it. The stored value is the first-seen time, for debugging.
func (g *IdempotencyGuard) CheckAndMark(ctx context.Context, eventID string) (bool, error) {
	key, err := g.key(eventID)
	if err != nil {
		return false, err
	}
	claimed, err := g.store.SetNX(ctx, key, g.now().UTC().Format(time.RFC3339), g.ttl)
	if err != nil {
		return false, fmt.Errorf("claim delivery %s: %w", eventID, err)
	}
	return !claimed, nil
}

// Release drops the claim after a failed attempt so the redelivery is processed.
func (g *IdempotencyGuard) Release(ctx context.Context, eventID string) error {
	key, err := g.key(eventID)
	if err != nil {
		return err
	}
	if err := g.store.Del(ctx, key); err != nil {
		return fmt.Errorf("release delivery %s: %w", eventID, err)
	}
	return nil
}

func (g *IdempotencyGuard) key(eventID string) (string, error) {
	if eventID == "" {
		return "", errors.New("delivery event id is required")
	}
	return g.store.IdempotencyKey(g.scope, eventID), nil
}
