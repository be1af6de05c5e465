package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/handoffmarket/handoff-backend/api/responses"
	pkgerrors "github.com/handoffmarket/handoff-backend/pkg/errors"
	"github.com/handoffmarket/handoff-backend/pkg/logger"
)

// Recoverer converts a handler panic into a 500 with a generic body. The panic
// value and stack only reach the log. http.ErrAbortHandler propagates.
func Recoverer(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				switch rec {
				case nil:
					return
				case http.ErrAbortHandler:
					panic(rec)
				}

				ctx := r.Context()
				if logg != nil {
					ctx = logg.WithFields(ctx, map[string]any{
						"panic": fmt.Sprint(rec),
						"stack": string(debug.Stack()),
					})
				}
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, fmt.Errorf("recovered: %v", rec), "handler panicked"))
			}()
			next.ServeHTTP(w, r)
		})
	}
}
