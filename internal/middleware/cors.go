// Package middleware provides HTTP middleware for the companion API.
package middleware

import (
	"net/http"

	"github.com/rs/cors"
	"github.com/samber/lo"

	"github.com/ashureev/persona-companion/internal/identity"
)

// CORS returns middleware that handles CORS headers. Credentials are only
// allowed when every origin is listed explicitly; echoing a wildcard origin
// with credentials would enable CSRF.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	wildcard := lo.Contains(allowedOrigins, "*")
	return cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", identity.SessionHeaderName},
		AllowCredentials: !wildcard,
	}).Handler
}
