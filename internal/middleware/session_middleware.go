package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/welldanyogia/authguard/internal/auth"
	appctx "github.com/welldanyogia/authguard/internal/context"
)

// SessionValidator resolves a session token to its identifier
type SessionValidator interface {
	ValidateSession(ctx context.Context, token string) (string, error)
}

// SessionMiddleware authenticates requests by their bearer session token
type SessionMiddleware struct {
	validator SessionValidator
	logger    *slog.Logger
}

// NewSessionMiddleware creates a new SessionMiddleware instance
func NewSessionMiddleware(validator SessionValidator, log *slog.Logger) *SessionMiddleware {
	if log == nil {
		log = slog.Default()
	}
	return &SessionMiddleware{
		validator: validator,
		logger:    log,
	}
}

// Authenticate validates the bearer token and injects the identifier and
// token into the request context
func (m *SessionMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			auth.WriteError(w, http.StatusUnauthorized, "AUTH_TOKEN_MISSING", "Authorization header is required", nil)
			return
		}

		token, ok := auth.BearerToken(r)
		if !ok {
			auth.WriteError(w, http.StatusUnauthorized, auth.CodeNotAuthenticated, "Invalid authorization header format", nil)
			return
		}

		identifier, err := m.validator.ValidateSession(r.Context(), token)
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrNotAuthenticated):
				auth.WriteError(w, http.StatusUnauthorized, auth.CodeNotAuthenticated, "Invalid or expired session", nil)
			default:
				m.logger.Error("Session validation failed", "path", r.URL.Path, "error", err)
				auth.WriteError(w, http.StatusInternalServerError, auth.CodeInternal, "An unexpected error occurred", nil)
			}
			return
		}

		ctx := appctx.WithIdentifier(r.Context(), identifier)
		ctx = appctx.WithSessionToken(ctx, token)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ExtractIdentifier extracts the authenticated identifier from the request context
func ExtractIdentifier(ctx context.Context) (string, bool) {
	return appctx.ExtractIdentifier(ctx)
}
