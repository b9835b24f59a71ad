// logging.go -- Request-scoped logging helpers.
//
// Wraps slog with automatic extraction of request context (IP, user agent,
// method, path, request id) so handlers don't have to repeat these fields on every call.
package logging

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/gofrs/uuid/v5"
)

// reqAttrs returns standard request-scoped attributes for logging.
// Never includes headers: the Authorization header carries the bearer token.
func reqAttrs(r *http.Request) []any {
	attrs := []any{
		"ip", r.RemoteAddr,
		"user_agent", r.UserAgent(),
		"method", r.Method,
		"path", r.URL.Path,
	}
	if id := middleware.GetReqID(r.Context()); id != "" {
		attrs = append(attrs, "request_id", id)
	}
	return attrs
}

// Debug logs at debug level with automatic request context.
func Debug(r *http.Request, msg string, args ...any) {
	slog.Debug(msg, append(reqAttrs(r), args...)...)
}

// Info logs at info level with automatic request context.
func Info(r *http.Request, msg string, args ...any) {
	slog.Info(msg, append(reqAttrs(r), args...)...)
}

// Warn logs at warn level with automatic request context.
func Warn(r *http.Request, msg string, args ...any) {
	slog.Warn(msg, append(reqAttrs(r), args...)...)
}

// Error logs at error level with automatic request context.
func Error(r *http.Request, msg string, args ...any) {
	slog.Error(msg, append(reqAttrs(r), args...)...)
}

// UserID shortens a user id to its first 8 characters for privacy-preserving logs.
func UserID(id uuid.UUID) string {
	return id.String()[:8]
}
