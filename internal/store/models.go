// models.go -- Shared domain types for the store package.
// Used by both Postgres (durable store) and Redis (cache layer).
package store

import (
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"
)

// ErrRateLimitExceeded is returned by Allow when the caller is locked out.
// Callers use errors.Is to distinguish rate limit rejections from Redis failures.
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// ErrCacheMiss is returned by GetSession when the key is not in Redis.
// Callers use errors.Is to distinguish a true miss from a Redis infrastructure failure.
var ErrCacheMiss = errors.New("cache miss")

// ErrCacheDisabled is returned by NoopSessionCache.CheckHealth and SetSession when Redis is
// not configured.
// Callers use errors.Is to distinguish "not configured" from a real infrastructure failure.
var ErrCacheDisabled = errors.New("cache disabled")

// ErrScanLimitReached is returned by IncrementScanCount when the day's row is already at
// the limit, i.e. a concurrent scan took the last slot.
var ErrScanLimitReached = errors.New("scan limit reached")

// ErrUserNotFound is returned by IncrementScanCount when the user row no longer exists,
// i.e. the account was deleted while the scan was in flight.
var ErrUserNotFound = errors.New("user not found")

// User represents a row in the users table.
// Nullable columns are pointers -- nil means SQL NULL.
type User struct {
	ID              uuid.UUID
	Provider        string // identity provider name, e.g. "apple"
	ProviderSubject string // provider's stable subject id ("sub" claim)
	Email           *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Session represents a row in the sessions table.
// Only the SHA-256 of the bearer token is stored; the raw token never touches the DB.
type Session struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	TokenHash []byte
	ExpiresAt time.Time
	IPAddress *string
	UserAgent *string
	CreatedAt time.Time
}

// CachedSession is the JSON shape stored in Redis for cached sessions.
// Only the fields needed for fast session validation -- full metadata lives in Postgres.
type CachedSession struct {
	UserID    uuid.UUID `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ScanQuota represents a row in the scan_quota table.
// ScanDate is a UTC calendar day (time component zero).
type ScanQuota struct {
	UserID    uuid.UUID
	ScanDate  time.Time
	ScanCount int
}

// RateLimit defines the policy for a rate-limited action.
// All three fields required, zero values disable the respective behaviour.
type RateLimit struct {
	MaxAttempts int           // attempts allowed within Window before lockout
	Window      time.Duration // rolling window for attempt counting
	LockoutTTL  time.Duration // how long to block after MaxAttempts is hit
}
