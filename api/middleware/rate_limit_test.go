package middleware

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/handoffmarket/handoff-backend/pkg/enums"
	"github.com/handoffmarket/handoff-backend/pkg/logger"
)

type fakeLimiter struct {
	counts map[string]int64
	err    error
}

func (f *fakeLimiter) FixedWindowAllow(_ context.Context, scope string, limit int64, _ time.Duration) (bool, int64, error) {
	if f.err != nil {
		return false, 0, f.err
	}
	if f.counts == nil {
		f.counts = make(map[string]int64)
	}
	f.counts[scope]++
	return f.counts[scope] <= limit, f.counts[scope], nil
}

func TestRateLimitBlocksAfterLimit(t *testing.T) {
	limiter := &fakeLimiter{}
	policy := RateLimitPolicy{Name: "pickup_confirm", Limit: 2, Window: time.Minute}
	handler := RateLimit(limiter, policy, nil)(okHandler())
	user := uuid.New()

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := requestWithPattern(http.MethodPost, "/api/v1/transactions/abc/pickup/confirm", "/api/v1/transactions/{transactionId}/pickup/confirm", nil)
		req = req.WithContext(WithActor(req.Context(), user, enums.UserRoleMember))
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)
		codes = append(codes, resp.Code)
		if resp.Code == http.StatusTooManyRequests {
			require.Equal(t, "60", resp.Header().Get("Retry-After"))
		}
	}

	require.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestRateLimitSeparatesCallers(t *testing.T) {
	limiter := &fakeLimiter{}
	policy := RateLimitPolicy{Name: "verify", Limit: 1, Window: time.Minute}
	handler := RateLimit(limiter, policy, nil)(okHandler())

	for i := 0; i < 2; i++ {
		req := requestWithPattern(http.MethodPost, "/x", "/x", nil)
		req = req.WithContext(WithActor(req.Context(), uuid.New(), enums.UserRoleMember))
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)
		require.Equal(t, http.StatusOK, resp.Code)
	}
}

func TestRateLimitFailsOpen(t *testing.T) {
	limiter := &fakeLimiter{err: errors.New("redis down")}
	handler := RateLimit(limiter, RateLimitPolicy{Name: "verify", Limit: 1, Window: time.Minute}, nil)(okHandler())

	req := requestWithPattern(http.MethodPost, "/x", "/x", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)
}

func TestRequestIDEchoesOrMints(t *testing.T) {
	handler := RequestID(nil)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "req-1")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	require.Equal(t, "req-1", resp.Header().Get(RequestIDHeader))

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/", nil))
	_, err := uuid.Parse(resp.Header().Get(RequestIDHeader))
	require.NoError(t, err)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "bad id\n")
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	require.NotEqual(t, "bad id", resp.Header().Get(RequestIDHeader))
	_, err = uuid.Parse(resp.Header().Get(RequestIDHeader))
	require.NoError(t, err)
}

func TestRecovererReturnsInternalError(t *testing.T) {
	handler := Recoverer(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, resp.Code)
	require.NotContains(t, resp.Body.String(), "boom")
}

func TestLoggingRecordsRoutePattern(t *testing.T) {
	buf := &bytes.Buffer{}
	logg := logger.New(logger.Options{ServiceName: "test", Output: buf})

	r := chi.NewRouter()
	r.Use(Logging(logg))
	r.Get("/transactions/{transactionId}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/transactions/abc", nil))

	require.Equal(t, http.StatusAccepted, resp.Code)
	require.Contains(t, buf.String(), `"route":"/transactions/{transactionId}"`)
	require.Contains(t, buf.String(), `"status":202`)
	require.NotContains(t, buf.String(), "/transactions/abc")
}

func requestWithPattern(method, target, pattern string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, target, body)
	rc := chi.NewRouteContext()
	rc.RoutePatterns = append(rc.RoutePatterns, pattern)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rc))
}
