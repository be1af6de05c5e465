package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/handoffmarket/handoff-backend/api/responses"
	pkgerrors "github.com/handoffmarket/handoff-backend/pkg/errors"
	"github.com/handoffmarket/handoff-backend/pkg/logger"
	pkgredis "github.com/handoffmarket/handoff-backend/pkg/redis"
)

// RateLimitPolicy bounds how often a caller may hit a route within a window.
type RateLimitPolicy struct {
	Name   string
	Limit  int64
	Window time.Duration
}

// RateLimit throttles per caller and request path. Callers without an
// authenticated identity fall back to the client address. A limiter outage
// fails open.
func RateLimit(limiter pkgredis.RateLimiter, policy RateLimitPolicy, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil || policy.Limit <= 0 || policy.Window <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			scope := fmt.Sprintf("%s:%s:%s", policy.Name, rateLimitSubject(r), requestPath(r))
			allowed, count, err := limiter.FixedWindowAllow(r.Context(), scope, policy.Limit, policy.Window)
			if err != nil {
				logError(r.Context(), logg, "rate limit check failed", err)
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				w.Header().Set("Retry-After", strconv.Itoa(int(policy.Window.Seconds())))
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeRateLimit, "too many attempts").
					WithDetails(map[string]any{"attempts": count, "limit": policy.Limit}))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func rateLimitSubject(r *http.Request) string {
	if id := UserIDFromContext(r.Context()); id != "" {
		return "user:" + id
	}
	if fwd := strings.TrimSpace(strings.Split(r.Header.Get("X-Forwarded-For"), ",")[0]); fwd != "" {
		return "ip:" + fwd
	}
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		host = host[:idx]
	}
	return "ip:" + host
}
