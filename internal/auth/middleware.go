// middleware.go

// Bearer session authentication middleware.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/kiwi-labs/kiwi-api/internal/logging"
	"github.com/kiwi-labs/kiwi-api/internal/respond"
	"github.com/kiwi-labs/kiwi-api/internal/store"
)

// contextKey is unexported to prevent collisions with other packages using the same context.
type contextKey string

const userIDKey contextKey = "user_id"
const tokenHashKey contextKey = "token_hash"

// UserIDFromContext retrieves authenticated user's ID from context.
// Returns zero UUID and false if RequireAuth hasn't run.
func UserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(userIDKey).(uuid.UUID)
	return id, ok
}

// TokenHashFromContext retrieves session token hash from context.
// Returns nil and false if RequireAuth hasn't run.
func TokenHashFromContext(ctx context.Context) ([]byte, bool) {
	hash, ok := ctx.Value(tokenHashKey).([]byte)
	return hash, ok
}

// ContextWithSession returns ctx carrying the authenticated user and token hash.
func ContextWithSession(ctx context.Context, userID uuid.UUID, tokenHash []byte) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	return context.WithValue(ctx, tokenHashKey, tokenHash)
}

// bearerToken extracts the token from "Authorization: Bearer <token>".
func bearerToken(r *http.Request) (string, bool) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// RequireAuth validates the bearer session token, checking Redis then Postgres as fallback.
// Expired sessions are removed from both and rejected. Injects user_id and token_hash into
// context on success; returns 401 on failure and 500 if the session store is unreachable.
func (h *AuthHandler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			logging.Info(r, "require auth failed", "reason", "missing_bearer_token")
			respond.Unauthorized(w)
			return
		}
		tokenHash, err := HashToken(token)
		if err != nil {
			logging.Info(r, "require auth failed", "reason", "malformed_token")
			respond.Unauthorized(w)
			return
		}
		redisKey := CacheKey(tokenHash)

		// Redis fast path.
		var userID uuid.UUID
		var expiresAt time.Time
		sess, err := h.RS.GetSession(r.Context(), redisKey)
		if err != nil {
			if !errors.Is(err, store.ErrCacheMiss) {
				// Real Redis failure -- Postgres is the fallback but this warrants attention.
				logging.Error(r, "redis session lookup failed, falling back to postgres", "error", err)
			}
			pgSess, err := h.PS.GetSessionByTokenHash(r.Context(), tokenHash)
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					logging.Info(r, "require auth failed", "reason", "session_not_found")
					respond.Unauthorized(w)
					return
				}
				logging.Error(r, "require auth failed fetching session from db", "error", err)
				respond.InternalServerError(w, r, err)
				return
			}
			userID, expiresAt = pgSess.UserID, pgSess.ExpiresAt

			// Repopulate cache, non-fatal on failure.
			// Skip if TTL <= 0 -- Redis SET with TTL=0 means no expiry, not immediate expiry.
			if ttl := int(expiresAt.Sub(h.now()).Seconds()); ttl > 0 {
				err := h.RS.SetSession(r.Context(), redisKey, *pgSess, ttl)
				switch {
				case errors.Is(err, store.ErrCacheDisabled):
					// no cache, nothing to undo
				case err != nil:
					logging.Warn(r, "failed to repopulate session cache", "error", err)
				case !h.stillValid(r, tokenHash, redisKey, userID):
					logging.Info(r, "require auth failed", "reason", "session_revoked", "user_id", logging.UserID(userID))
					respond.Unauthorized(w)
					return
				}
			}
		} else {
			userID, expiresAt = sess.UserID, sess.ExpiresAt
		}

		if !h.now().Before(expiresAt) {
			h.deleteExpired(r, tokenHash, redisKey, userID)
			logging.Info(r, "require auth failed", "reason", "session_expired", "user_id", logging.UserID(userID))
			respond.Unauthorized(w)
			return
		}

		logging.Debug(r, "authenticated request", "user_id", logging.UserID(userID))
		next.ServeHTTP(w, r.WithContext(ContextWithSession(r.Context(), userID, tokenHash)))
	})
}

// stillValid re-reads the session after it was written to the cache. Logout and account
// deletion remove the row before clearing the cache, so if the row is gone now our cache
// write may have landed after their clear; undo it.
func (h *AuthHandler) stillValid(r *http.Request, tokenHash []byte, redisKey string, userID uuid.UUID) bool {
	_, err := h.PS.GetSessionByTokenHash(r.Context(), tokenHash)
	if err == nil {
		return true
	}
	revoked := errors.Is(err, pgx.ErrNoRows)
	if !revoked {
		// Unknown state: keep serving this request, but let the next one ask Postgres again.
		logging.Warn(r, "session re-check failed", "error", err)
	}
	if delErr := h.RS.DeleteSession(r.Context(), redisKey, userID); delErr != nil {
		logging.Warn(r, "failed to drop revoked session from redis", "error", delErr)
	}
	return !revoked
}

// deleteExpired removes an expired session from cache and database. Best effort.
func (h *AuthHandler) deleteExpired(r *http.Request, tokenHash []byte, redisKey string, userID uuid.UUID) {
	if err := h.RS.DeleteSession(r.Context(), redisKey, userID); err != nil {
		logging.Warn(r, "failed to delete expired session from redis", "error", err)
	}
	if err := h.PS.DeleteSession(r.Context(), tokenHash); err != nil {
		logging.Warn(r, "failed to delete expired session from database", "error", err)
	}
}
