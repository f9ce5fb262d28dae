package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/reconcore/core/internal/domain"
	"github.com/reconcore/core/internal/http/response"
)

// Credential is the outcome of a successful ValidateAPIKey call.
type Credential struct {
	ID   string
	Name string
}

// Authenticator validates bearer credentials. Returns domain.ErrUnauthorized
// for an invalid key and domain.ErrSessionExpired for an expired one.
type Authenticator interface {
	ValidateAPIKey(ctx context.Context, apiKey string) (Credential, error)
}

// Auth is HTTP middleware for bearer API-key authentication.
type Auth struct {
	authenticator Authenticator
}

// NewAuth creates a new auth middleware.
func NewAuth(authenticator Authenticator) *Auth {
	return &Auth{authenticator: authenticator}
}

// Validate is a chi middleware validating "Authorization: Bearer <api-key>".
func (a *Auth) Validate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			slog.WarnContext(r.Context(), "authentication failed: missing Authorization header",
				"path", r.URL.Path, "method", r.Method)
			response.Unauthorized(w, "missing Authorization header")
			return
		}

		apiKey, found := strings.CutPrefix(authHeader, "Bearer ")
		if !found {
			slog.WarnContext(r.Context(), "authentication failed: invalid Authorization header format",
				"path", r.URL.Path, "method", r.Method)
			response.Unauthorized(w, "invalid Authorization header format, expected: Bearer <token>")
			return
		}

		cred, err := a.authenticator.ValidateAPIKey(r.Context(), apiKey)
		if err != nil {
			if errors.Is(err, domain.ErrSessionExpired) {
				// 419, not 401 (spec §7 auth taxonomy: "401/403/419"), so
				// clients can tell an expired session from an invalid one.
				response.Error(w, "SESSION_EXPIRED", "API key has expired", 419)
				return
			}
			slog.WarnContext(r.Context(), "authentication failed: invalid API key",
				"path", r.URL.Path, "method", r.Method)
			response.Unauthorized(w, "invalid or expired API key")
			return
		}

		slog.DebugContext(r.Context(), "authentication successful",
			"path", r.URL.Path, "method", r.Method, "key_id", cred.ID)
		next.ServeHTTP(w, r)
	})
}
