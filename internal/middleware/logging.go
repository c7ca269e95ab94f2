// Package middleware provides HTTP middleware for the authentication API:
// structured request logging and session authentication.
package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/welldanyogia/authguard/internal/auth"
	"github.com/welldanyogia/authguard/internal/logger"
)

// LoggingMiddleware writes one structured log line per request
type LoggingMiddleware struct {
	logger *slog.Logger
}

// NewLoggingMiddleware creates a new LoggingMiddleware instance
func NewLoggingMiddleware(log *slog.Logger) *LoggingMiddleware {
	if log == nil {
		log = slog.Default()
	}
	return &LoggingMiddleware{
		logger: log,
	}
}

// Handler tags the request context with the chi request ID and logs the
// outcome once the request completes. Query strings and headers are never
// logged since clients may put tokens there.
func (m *LoggingMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := middleware.GetReqID(r.Context())
		r = r.WithContext(logger.SetCorrelationID(r.Context(), requestID))

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		attrs := []slog.Attr{
			slog.String("correlation_id", requestID),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.Int("bytes", ww.BytesWritten()),
			slog.Duration("duration", time.Since(start)),
			slog.String("origin", auth.ClientOrigin(r)),
		}
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				attrs = append(attrs, slog.String("route", pattern))
			}
		}
		if ua := r.UserAgent(); ua != "" {
			attrs = append(attrs, slog.String("user_agent", ua))
		}

		level, msg := levelFor(status)
		m.logger.LogAttrs(r.Context(), level, msg, attrs...)
	})
}

func levelFor(status int) (slog.Level, string) {
	switch {
	case status >= 500:
		return slog.LevelError, "HTTP request completed with server error"
	case status >= 400:
		return slog.LevelWarn, "HTTP request completed with client error"
	default:
		return slog.LevelInfo, "HTTP request completed"
	}
}

// StructuredLogger returns a chi-compatible logger that uses slog
func StructuredLogger(log *slog.Logger) func(next http.Handler) http.Handler {
	return NewLoggingMiddleware(log).Handler
}
