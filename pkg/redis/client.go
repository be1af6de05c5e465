package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/handoffmarket/handoff-backend/pkg/config"
	"github.com/handoffmarket/handoff-backend/pkg/logger"
)

const keyNamespace = "handoff"

// Key families. Every key the service writes starts with one of these.
const (
	familyIdempotency = "idem"
	familyRateLimit   = "rl"
	familyLock        = "lock"
)

var errNotInitialized = errors.New("redis client not initialized")

// commands is the subset of go-redis used here, narrowed for tests.
type commands interface {
	Ping(context.Context) *redis.StatusCmd
	Get(context.Context, string) *redis.StringCmd
	SetNX(context.Context, string, any, time.Duration) *redis.BoolCmd
	Incr(context.Context, string) *redis.IntCmd
	Decr(context.Context, string) *redis.IntCmd
	Expire(context.Context, string, time.Duration) *redis.BoolCmd
	Del(context.Context, ...string) *redis.IntCmd
	Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd
}

// compareAndDelete removes KEYS[1] only while it still holds ARGV[1].
const compareAndDelete = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// Client backs webhook delivery dedupe, request idempotency, attempt limits
// and the cron lock.
type Client struct {
	cmds  commands
	conn  *redis.Client
	clock func() time.Time
}

// IdempotencyStore is the claim/replay surface behind the HTTP idempotency
// middleware.
type IdempotencyStore interface {
	Get(context.Context, string) (string, error)
	SetNX(context.Context, string, any, time.Duration) (bool, error)
	IdempotencyKey(scope, id string) string
	Del(context.Context, ...string) error
}

// RateLimiter counts hits for scope in the current fixed window and reports
// whether the caller is still under limit.
type RateLimiter interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

// AttemptLimiter is a RateLimiter that can hand a hit back once the attempt
// turns out not to count, such as a correct guess.
type AttemptLimiter interface {
	RateLimiter
	FixedWindowRelease(ctx context.Context, scope string, window time.Duration) error
}

// New dials Redis and fails fast when it is unreachable.
func New(ctx context.Context, cfg config.RedisConfig, logg *logger.Logger) (*Client, error) {
	opts, err := optionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	conn := redis.NewClient(opts)
	if err := conn.Ping(ctx).Err(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	if logg != nil {
		logg.Info(logg.WithField(ctx, "redis_db", opts.DB), "redis connection established")
	}
	return &Client{cmds: conn, conn: conn, clock: time.Now}, nil
}

func optionsFromConfig(cfg config.RedisConfig) (*redis.Options, error) {
	var opts *redis.Options
	switch {
	case cfg.URL != "":
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis url: %w", err)
		}
		opts = parsed
	case cfg.Address != "":
		opts = &redis.Options{Addr: cfg.Address, Password: cfg.Password, DB: cfg.DB}
	default:
		return nil, errors.New("redis url or address is required")
	}

	// URL settings win; config fills whatever the URL left unset.
	if opts.DB == 0 {
		opts.DB = cfg.DB
	}
	opts.PoolSize = firstNonZero(opts.PoolSize, cfg.PoolSize)
	opts.MinIdleConns = firstNonZero(opts.MinIdleConns, cfg.MinIdleConns)
	opts.DialTimeout = firstNonZero(opts.DialTimeout, cfg.DialTimeout)
	opts.ReadTimeout = firstNonZero(opts.ReadTimeout, cfg.ReadTimeout)
	opts.WriteTimeout = firstNonZero(opts.WriteTimeout, cfg.WriteTimeout)
	return opts, nil
}

func firstNonZero[T comparable](values ...T) T {
	var zero T
	for _, v := range values {
		if v != zero {
			return v
		}
	}
	return zero
}

func (c *Client) Get(ctx context.Context, key string) (string, error) {
	if c.cmds == nil {
		return "", errNotInitialized
	}
	return c.cmds.Get(ctx, key).Result()
}

// SetNX claims key for ttl. It returns false when someone else holds it.
func (c *Client) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if c.cmds == nil {
		return false, errNotInitialized
	}
	return c.cmds.SetNX(ctx, key, value, ttl).Result()
}

func (c *Client) Del(ctx context.Context, keys ...string) error {
	if c.cmds == nil {
		return errNotInitialized
	}
	return c.cmds.Del(ctx, keys...).Err()
}

// CompareAndDelete deletes key if its value is still expected and reports
// whether it did. Lock holders use it so they never free a lock that expired
// and was taken by another process.
func (c *Client) CompareAndDelete(ctx context.Context, key, expected string) (bool, error) {
	if c.cmds == nil {
		return false, errNotInitialized
	}
	n, err := c.cmds.Eval(ctx, compareAndDelete, []string{key}, expected).Int64()
	if err != nil {
		return false, fmt.Errorf("compare-and-delete %s: %w", key, err)
	}
	return n == 1, nil
}

// FixedWindowAllow increments the counter for scope in the window that
// contains now. Each window gets its own key, so a lost EXPIRE can only leak
// a stale key and never blocks the next window.
func (c *Client) FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error) {
	if c.cmds == nil {
		return false, 0, errNotInitialized
	}
	if window <= 0 {
		return false, 0, errors.New("rate limit window must be positive")
	}
	key := c.RateLimitKey(scope, c.windowStart(window))
	count, err := c.cmds.Incr(ctx, key).Result()
	if err != nil {
		return false, 0, fmt.Errorf("incr %s: %w", key, err)
	}
	if count == 1 {
		if err := c.cmds.Expire(ctx, key, window).Err(); err != nil {
			return false, count, fmt.Errorf("expire %s: %w", key, err)
		}
	}
	return count <= limit, count, nil
}

// FixedWindowRelease undoes one FixedWindowAllow hit for scope in the current
// window. A counter driven below zero is dropped.
func (c *Client) FixedWindowRelease(ctx context.Context, scope string, window time.Duration) error {
	if c.cmds == nil {
		return errNotInitialized
	}
	if window <= 0 {
		return errors.New("rate limit window must be positive")
	}
	key := c.RateLimitKey(scope, c.windowStart(window))
	count, err := c.cmds.Decr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("decr %s: %w", key, err)
	}
	if count < 0 {
		if err := c.cmds.Del(ctx, key).Err(); err != nil {
			return fmt.Errorf("del %s: %w", key, err)
		}
	}
	return nil
}

func (c *Client) windowStart(window time.Duration) int64 {
	now := time.Now
	if c.clock != nil {
		now = c.clock
	}
	return now().UnixNano() / int64(window)
}

func (c *Client) IdempotencyKey(scope, id string) string {
	return buildKey(familyIdempotency, scope, id)
}

func (c *Client) RateLimitKey(scope string, bucket int64) string {
	return buildKey(familyRateLimit, scope, strconv.FormatInt(bucket, 10))
}

func (c *Client) LockKey(name string) string {
	return buildKey(familyLock, name)
}

func (c *Client) Ping(ctx context.Context) error {
	if c.cmds == nil {
		return errNotInitialized
	}
	return c.cmds.Ping(ctx).Err()
}

func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func buildKey(family string, parts ...string) string {
	segments := make([]string, 0, len(parts)+2)
	segments = append(segments, keyNamespace, family)
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			segments = append(segments, part)
		}
	}
	return strings.Join(segments, ":")
}
