package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/handoffmarket/handoff-backend/api/responses"
	pkgerrors "github.com/handoffmarket/handoff-backend/pkg/errors"
	"github.com/handoffmarket/handoff-backend/pkg/logger"
	pkgredis "github.com/handoffmarket/handoff-backend/pkg/redis"
)

const (
	IdempotencyKeyHeader = "Idempotency-Key"
	ReplayedHeader       = "Idempotent-Replayed"

	shortReplayTTL = 24 * time.Hour
	moneyReplayTTL = 7 * 24 * time.Hour
)

// idempotentRoute names a mutating endpoint by its path segments; "*" matches
// exactly one segment.
type idempotentRoute struct {
	method string
	path   []string
	ttl    time.Duration
}

func route(method, path string, ttl time.Duration) idempotentRoute {
	return idempotentRoute{method: method, path: splitPath(path), ttl: ttl}
}

var idempotentRoutes = []idempotentRoute{
	route(http.MethodPost, "/api/v1/transactions", shortReplayTTL),
	route(http.MethodPost, "/api/v1/transactions/*/pickup", shortReplayTTL),
	route(http.MethodPost, "/api/v1/disputes", shortReplayTTL),
	route(http.MethodPost, "/api/v1/transactions/*/cancel", moneyReplayTTL),
	route(http.MethodPost, "/api/admin/v1/transactions/*/refund", moneyReplayTTL),
}

func (rt idempotentRoute) matches(method string, segments []string) bool {
	if rt.method != method || len(rt.path) != len(segments) {
		return false
	}
	for i, want := range rt.path {
		if want != "*" && want != segments[i] {
			return false
		}
	}
	return true
}

func replayTTL(method, path string) (time.Duration, bool) {
	segments := splitPath(path)
	for _, rt := range idempotentRoutes {
		if rt.matches(method, segments) {
			return rt.ttl, true
		}
	}
	return 0, false
}

// storedResponse is what a replay writes back. Body is base64 in JSON.
type storedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body"`
	Fingerprint string `json:"fingerprint"`
}

// Idempotency replays the first completed response for a (caller, route, key)
// triple. A reused key with a different body is a conflict. 5xx responses are
// not stored, so the caller can retry under the same key.
func Idempotency(store pkgredis.IdempotencyStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ttl, ok := replayTTL(r.Method, requestPath(r))
			if !ok || store == nil {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()

			clientKey := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
			if clientKey == "" {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header required"))
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			fingerprint := fingerprintBody(body)
			key := store.IdempotencyKey(idempotencyScope(r), clientKey)

			prior, err := loadStoredResponse(ctx, store, key)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
				return
			}
			if prior != nil {
				if prior.Fingerprint != fingerprint {
					responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with different request body"))
					return
				}
				prior.replay(w)
				return
			}

			rec := &bodyRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			if rec.status >= http.StatusInternalServerError {
				return
			}

			encoded, err := json.Marshal(storedResponse{
				Status:      rec.status,
				ContentType: rec.Header().Get("Content-Type"),
				Body:        rec.buf.Bytes(),
				Fingerprint: fingerprint,
			})
			if err != nil {
				logError(ctx, logg, "encode idempotent response", err)
				return
			}
			if _, err := store.SetNX(ctx, key, string(encoded), ttl); err != nil {
				logError(ctx, logg, "store idempotent response", err)
			}
		})
	}
}

func loadStoredResponse(ctx context.Context, store pkgredis.IdempotencyStore, key string) (*storedResponse, error) {
	raw, err := store.Get(ctx, key)
	if errors.Is(err, redis.Nil) || (err == nil && raw == "") {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var stored storedResponse
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return nil, err
	}
	return &stored, nil
}

func (s *storedResponse) replay(w http.ResponseWriter) {
	if s.ContentType != "" {
		w.Header().Set("Content-Type", s.ContentType)
	}
	w.Header().Set(ReplayedHeader, "true")
	w.WriteHeader(s.Status)
	_, _ = w.Write(s.Body)
}

func idempotencyScope(r *http.Request) string {
	return UserIDFromContext(r.Context()) + "|" + r.Method + "|" + requestPath(r)
}

func fingerprintBody(body []byte) string {
	sum := sha256.Sum256(bytes.TrimSpace(body))
	return hex.EncodeToString(sum[:])
}

// requestPath is the raw path without a trailing slash. Group middleware runs
// before chi has resolved the full route pattern, so rules match on this.
func requestPath(r *http.Request) string {
	if r == nil || r.URL == nil {
		return ""
	}
	path := strings.TrimSuffix(r.URL.Path, "/")
	if path == "" {
		return "/"
	}
	return path
}

func splitPath(path string) []string {
	return strings.Split(strings.Trim(path, "/"), "/")
}

type bodyRecorder struct {
	http.ResponseWriter
	buf         bytes.Buffer
	status      int
	wroteHeader bool
}

func (b *bodyRecorder) WriteHeader(code int) {
	if !b.wroteHeader {
		b.status = code
		b.wroteHeader = true
	}
	b.ResponseWriter.WriteHeader(code)
}

func (b *bodyRecorder) Write(p []byte) (int, error) {
	b.wroteHeader = true
	b.buf.Write(p)
	return b.ResponseWriter.Write(p)
}

func logError(ctx context.Context, logg *logger.Logger, msg string, err error) {
	if logg == nil || err == nil {
		return
	}
	logg.Error(ctx, msg, err)
}
