package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// CORS allows browser checkouts from the configured storefront origins.
func CORS(origins []string) func(http.Handler) http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", IdempotencyKeyHeader, RequestIDHeader},
		ExposedHeaders:   []string{RequestIDHeader, ReplayedHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}).Handler
}
