// handler.go -- HTTP handlers for sign-in, logout and account deletion.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/kiwi-labs/kiwi-api/internal/identity"
	"github.com/kiwi-labs/kiwi-api/internal/logging"
	"github.com/kiwi-labs/kiwi-api/internal/respond"
	"github.com/kiwi-labs/kiwi-api/internal/store"
)

// SessionCache defines session cache operations needed by auth handlers.
// Satisfied by *store.RedisStore and store.NoopSessionCache -- defined here (at consumer) per Go convention.
type SessionCache interface {
	// CheckHealth pings the cache. Returns store.ErrCacheDisabled when not configured.
	CheckHealth(ctx context.Context) error

	// GetSession retrieves cached session by token hash. Returns store.ErrCacheMiss on a miss.
	GetSession(ctx context.Context, tokenHash string) (*store.CachedSession, error)

	// SetSession caches session with given TTL in seconds.
	SetSession(ctx context.Context, tokenHash string, sessionData store.Session, ttl int) error

	// DeleteSession removes session and its entry in the user tracking set.
	DeleteSession(ctx context.Context, tokenHash string, userID uuid.UUID) error

	// DeleteAllUserSessions removes all cached sessions for a user.
	DeleteAllUserSessions(ctx context.Context, userID uuid.UUID) error
}

// Store defines database operations needed by auth handlers.
// Satisfied by *store.PostgresStore -- defined here (at consumer) per Go convention.
type Store interface {
	// CheckHealth pings the database.
	CheckHealth(ctx context.Context) error

	// UpsertUserByIdentity returns the user for (provider, subject), creating it with id if new.
	UpsertUserByIdentity(ctx context.Context, id uuid.UUID, provider, subject string, email *string) (*store.User, error)

	// DeleteUser removes the user; sessions and quota rows cascade.
	// Returns pgx.ErrNoRows if no such user.
	DeleteUser(ctx context.Context, userID uuid.UUID) error

	// CreateSession inserts new session row with token hash.
	CreateSession(ctx context.Context, id, userID uuid.UUID, tokenHash []byte, expiresAt time.Time, ip, userAgent *string) error

	// GetSessionByTokenHash fetches a session by token hash, expired or not.
	// Returns pgx.ErrNoRows if not found.
	GetSessionByTokenHash(ctx context.Context, tokenHash []byte) (*store.Session, error)

	// DeleteSession removes single session row by token hash.
	DeleteSession(ctx context.Context, tokenHash []byte) error
}

// RateLimiter checks and records rate limit state for a given key and policy.
// Satisfied by *store.RedisRateLimiter -- defined here per Go convention.
type RateLimiter interface {
	// Allow checks whether the action is within policy, records the attempt.
	// Returns nil if allowed; store.ErrRateLimitExceeded if locked out or threshold exceeded.
	Allow(ctx context.Context, key string, policy store.RateLimit) error
}

// IdentityVerifier validates a native sign-in token.
// Satisfied by *identity.AppleVerifier.
type IdentityVerifier interface {
	Name() string
	Verify(ctx context.Context, rawToken string) (*identity.Claims, error)
}

// Policies holds the rate limit policies applied by auth handlers.
type Policies struct {
	SignInIP store.RateLimit // per client IP on POST /v1/auth/apple
}

// DefaultSessionTTL is used when AuthHandler.SessionTTL is zero.
const DefaultSessionTTL = 30 * 24 * time.Hour

// AuthHandler holds dependencies for the /v1/auth/* and /v1/account handlers and RequireAuth.
type AuthHandler struct {
	PS         Store
	RS         SessionCache
	RL         RateLimiter
	Verifier   IdentityVerifier
	Policies   Policies
	SessionTTL time.Duration
	Now        func() time.Time // nil means time.Now
}

func (h *AuthHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func (h *AuthHandler) sessionTTL() time.Duration {
	if h.SessionTTL > 0 {
		return h.SessionTTL
	}
	return DefaultSessionTTL
}

// SignInWithApple handles POST /v1/auth/apple -- exchanges a verified Apple identity token
// for a new opaque session token.
// Returns 200 with sessionToken and expiresAt, 400 for bad input, 401 for a rejected token,
// 429 when the client IP is rate limited, 500 for server errors.
func (h *AuthHandler) SignInWithApple(w http.ResponseWriter, r *http.Request) {
	var input struct {
		IdentityToken string `json:"identityToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		logging.Warn(r, "failed to decode sign-in input", "error", err)
		respond.BadRequest(w, "error decoding request body")
		return
	}
	if input.IdentityToken == "" {
		respond.Error(w, http.StatusBadRequest, respond.ErrorBody{
			Error:   respond.CodeMissingToken,
			Message: "identityToken is required",
		})
		return
	}

	ip := clientIP(r)
	if err := h.RL.Allow(r.Context(), "signin:ip:"+ip, h.Policies.SignInIP); err != nil {
		if errors.Is(err, store.ErrRateLimitExceeded) {
			logging.Info(r, "sign-in failed", "reason", "rate_limited")
			respond.Error(w, http.StatusTooManyRequests, respond.ErrorBody{
				Error:   respond.CodeRateLimitExceeded,
				Message: "too many sign-in attempts, try again later",
			})
			return
		}
		respond.InternalServerError(w, r, err)
		return
	}

	claims, err := h.Verifier.Verify(r.Context(), input.IdentityToken)
	if err != nil {
		logging.Warn(r, "sign-in failed", "reason", "invalid_identity_token", "error", err)
		respond.Error(w, http.StatusUnauthorized, respond.ErrorBody{Error: respond.CodeInvalidToken})
		return
	}

	newID, err := uuid.NewV7()
	if err != nil {
		respond.InternalServerError(w, r, err)
		return
	}
	var email *string
	if claims.Email != "" {
		email = &claims.Email
	}
	user, err := h.PS.UpsertUserByIdentity(r.Context(), newID, h.Verifier.Name(), claims.Sub, email)
	if err != nil {
		logging.Error(r, "failed to upsert user", "error", err)
		respond.InternalServerError(w, r, err)
		return
	}

	token, tokenHash, err := GenerateToken()
	if err != nil {
		respond.InternalServerError(w, r, err)
		return
	}

	sessionID, err := uuid.NewV7()
	if err != nil {
		respond.InternalServerError(w, r, err)
		return
	}

	ttl := h.sessionTTL()
	expiresAt := h.now().Add(ttl)
	userAgent := r.UserAgent()

	err = h.PS.CreateSession(r.Context(), sessionID, user.ID, tokenHash[:], expiresAt, &ip, &userAgent)
	if err != nil {
		logging.Error(r, "failed to create session in database", "error", err)
		respond.InternalServerError(w, r, err)
		return
	}

	// Cache in Redis -- non-fatal; Postgres is source of truth.
	err = h.RS.SetSession(r.Context(), CacheKey(tokenHash[:]), store.Session{
		ID:        sessionID,
		UserID:    user.ID,
		TokenHash: tokenHash[:],
		ExpiresAt: expiresAt,
	}, int(ttl.Seconds()))
	if err != nil && !errors.Is(err, store.ErrCacheDisabled) {
		logging.Warn(r, "failed to cache session in redis", "error", err)
	}

	logging.Info(r, "user signed in", "user_id", logging.UserID(user.ID), "provider", h.Verifier.Name())
	respond.JSON(w, http.StatusOK, struct {
		SessionToken string `json:"sessionToken"`
		ExpiresAt    string `json:"expiresAt"`
	}{EncodeToken(token), expiresAt.UTC().Format(time.RFC3339)})
}

// Logout handles POST /v1/auth/logout -- ends the calling session.
// Deletes from Redis (non-fatal) then Postgres (fatal).
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		logging.Error(r, "logout called without user_id in context")
		respond.InternalServerError(w, r, errors.New("missing session context"))
		return
	}

	tokenHash, ok := TokenHashFromContext(r.Context())
	if !ok {
		respond.InternalServerError(w, r, errors.New("missing session context"))
		return
	}

	// Postgres first: RequireAuth re-reads it after repopulating the cache, so a request
	// racing this one cannot leave the session cached.
	if err := h.PS.DeleteSession(r.Context(), tokenHash); err != nil {
		logging.Error(r, "failed to delete session from database", "error", err)
		respond.InternalServerError(w, r, err)
		return
	}

	if err := h.RS.DeleteSession(r.Context(), CacheKey(tokenHash), userID); err != nil {
		logging.Warn(r, "failed to delete session from redis", "error", err)
	}

	logging.Info(r, "user logged out", "user_id", logging.UserID(userID))
	respond.JSON(w, http.StatusOK, map[string]bool{"loggedOut": true})
}

// DeleteAccount handles DELETE /v1/account -- removes the user with all sessions and quota
// history. Idempotent: a user already gone still reports deleted.
func (h *AuthHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		respond.InternalServerError(w, r, errors.New("missing session context"))
		return
	}

	// Same ordering as Logout.
	if err := h.PS.DeleteUser(r.Context(), userID); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		logging.Error(r, "account deletion failed", "user_id", logging.UserID(userID), "error", err)
		respond.InternalServerError(w, r, err)
		return
	}

	if err := h.RS.DeleteAllUserSessions(r.Context(), userID); err != nil {
		logging.Warn(r, "failed to delete cached sessions from redis", "error", err)
	}

	logging.Info(r, "account deleted", "user_id", logging.UserID(userID))
	respond.JSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

// clientIP returns the bare client address. chi's RealIP has already applied
// X-Forwarded-For / X-Real-IP when present; RemoteAddr otherwise includes a port.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
