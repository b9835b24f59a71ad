// redis.go -- go-redis client for session caching and rate limiting.
//
// Stores session data with TTL matching session expiry.
// Fast path for session validation; Postgres stays the source of truth and
// the fallback whenever Redis misses or is unavailable.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/redis/go-redis/v9"
)

func sessionKey(tokenHash string) string { return "kiwi:session:" + tokenHash }
func userSessionsKey(userID uuid.UUID) string { return "kiwi:user_sessions:" + userID.String() }

// NewRedisClient parses redisURL, connects, and pings.
// The returned client is shared by RedisStore and RedisRateLimiter (one pool).
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return rdb, nil
}

// RedisStore wraps a Redis client for session cache operations.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore returns a session cache over a shared client.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

// CheckHealth pings Redis.
func (s *RedisStore) CheckHealth(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// SetSession caches a session in Redis with given TTL (in seconds).
// Also tracks token hash in per-user Set for bulk deletion.
func (s *RedisStore) SetSession(ctx context.Context, tokenHash string, sess Session, ttl int) error {
	if ttl <= 0 {
		// SET with TTL 0 would mean "never expire".
		return nil
	}
	payload, err := json.Marshal(CachedSession{UserID: sess.UserID, ExpiresAt: sess.ExpiresAt})
	if err != nil {
		return fmt.Errorf("marshaling session: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, sessionKey(tokenHash), payload, time.Duration(ttl)*time.Second)
	pipe.SAdd(ctx, userSessionsKey(sess.UserID), tokenHash)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("caching session: %w", err)
	}
	return nil
}

// GetSession retrieves a cached session by its token hash.
// Returns ErrCacheMiss if the key is absent; any other error is an infrastructure failure.
func (s *RedisStore) GetSession(ctx context.Context, tokenHash string) (*CachedSession, error) {
	raw, err := s.rdb.Get(ctx, sessionKey(tokenHash)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("fetching session: %w", err)
	}

	var cached CachedSession
	if err := json.Unmarshal(raw, &cached); err != nil {
		return nil, fmt.Errorf("parsing session: %w", err)
	}
	return &cached, nil
}

// DeleteSession removes a single session from cache by its token hash.
// Also removes the token hash from the user's tracking Set.
func (s *RedisStore) DeleteSession(ctx context.Context, tokenHash string, userID uuid.UUID) error {
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, sessionKey(tokenHash))
	pipe.SRem(ctx, userSessionsKey(userID), tokenHash)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// DeleteAllUserSessions removes all cached sessions for given user.
func (s *RedisStore) DeleteAllUserSessions(ctx context.Context, userID uuid.UUID) error {
	setKey := userSessionsKey(userID)

	hashes, err := s.rdb.SMembers(ctx, setKey).Result()
	if err != nil {
		return fmt.Errorf("fetching user sessions: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	for _, h := range hashes {
		pipe.Del(ctx, sessionKey(h))
	}
	pipe.Del(ctx, setKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("deleting user sessions: %w", err)
	}
	return nil
}

// NoopSessionCache stands in for RedisStore when REDIS_URL is unset.
// Every lookup misses, so the auth guard always reads Postgres.
type NoopSessionCache struct{}

func (NoopSessionCache) GetSession(context.Context, string) (*CachedSession, error) {
	return nil, ErrCacheMiss
}
func (NoopSessionCache) SetSession(context.Context, string, Session, int) error {
	return ErrCacheDisabled
}
func (NoopSessionCache) DeleteSession(context.Context, string, uuid.UUID) error { return nil }
func (NoopSessionCache) DeleteAllUserSessions(context.Context, uuid.UUID) error { return nil }
func (NoopSessionCache) CheckHealth(context.Context) error { return ErrCacheDisabled }

// --- Rate limiting ---

// allowScript counts attempts in a fixed window and sets a lockout key once MaxAttempts
// is passed. Returns 1 if allowed, 0 if locked out.
// KEYS[1] = attempts key, KEYS[2] = lockout key.
// ARGV[1] = max attempts, ARGV[2] = window ms, ARGV[3] = lockout ms.
var allowScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[2]) == 1 then
    return 0
end
local n = redis.call('INCR', KEYS[1])
if n == 1 then
    redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
if n > tonumber(ARGV[1]) then
    redis.call('SET', KEYS[2], '1', 'PX', ARGV[3])
    redis.call('DEL', KEYS[1])
    return 0
end
return 1
`)

// RedisRateLimiter enforces RateLimit policies with one atomic Lua call per attempt.
type RedisRateLimiter struct {
	rdb *redis.Client
}

// NewRedisRateLimiter returns a limiter over a shared client.
func NewRedisRateLimiter(rdb *redis.Client) *RedisRateLimiter {
	return &RedisRateLimiter{rdb: rdb}
}

// Allow records an attempt for key and reports whether it is within policy.
// Returns ErrRateLimitExceeded when locked out; a zero MaxAttempts disables the check.
func (l *RedisRateLimiter) Allow(ctx context.Context, key string, policy RateLimit) error {
	if policy.MaxAttempts <= 0 || policy.Window <= 0 {
		return nil
	}
	lockout := policy.LockoutTTL
	if lockout <= 0 {
		lockout = policy.Window
	}
	ok, err := allowScript.Run(ctx, l.rdb,
		[]string{"kiwi:rl:" + key, "kiwi:rl_lock:" + key},
		policy.MaxAttempts, policy.Window.Milliseconds(), lockout.Milliseconds(),
	).Int64()
	if err != nil {
		return fmt.Errorf("checking rate limit: %w", err)
	}
	if ok == 0 {
		return ErrRateLimitExceeded
	}
	return nil
}

// NoopRateLimiter allows everything. Used when Redis is not configured.
type NoopRateLimiter struct{}

func (NoopRateLimiter) Allow(context.Context, string, RateLimit) error { return nil }
