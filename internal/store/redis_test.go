package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
)

// --- Session cache ---

func TestRedisSessionCache(t *testing.T) {
	requireRedis(t)
	ctx := context.Background()

	t.Run("round-trip stores and retrieves session", func(t *testing.T) {
		tokenHash := "testhash_set_get_" + uuid.Must(uuid.NewV4()).String()
		userID := uuid.Must(uuid.NewV7())
		sess := Session{UserID: userID, ExpiresAt: time.Now().Add(time.Hour).Truncate(time.Second)}
		t.Cleanup(func() { testRedis.DeleteSession(ctx, tokenHash, userID) })

		if err := testRedis.SetSession(ctx, tokenHash, sess, 3600); err != nil {
			t.Fatalf("SetSession failed: %v", err)
		}
		got, err := testRedis.GetSession(ctx, tokenHash)
		if err != nil {
			t.Fatalf("GetSession failed: %v", err)
		}
		if got.UserID != userID {
			t.Errorf("UserID: expected %v, got %v", userID, got.UserID)
		}
		if !got.ExpiresAt.Equal(sess.ExpiresAt) {
			t.Errorf("ExpiresAt: expected %v, got %v", sess.ExpiresAt, got.ExpiresAt)
		}
	})

	t.Run("missing key returns ErrCacheMiss", func(t *testing.T) {
		_, err := testRedis.GetSession(ctx, "definitely_not_cached")
		if !errors.Is(err, ErrCacheMiss) {
			t.Errorf("expected ErrCacheMiss, got %v", err)
		}
	})

	t.Run("zero ttl is not cached", func(t *testing.T) {
		tokenHash := "testhash_zero_ttl_" + uuid.Must(uuid.NewV4()).String()
		if err := testRedis.SetSession(ctx, tokenHash, Session{UserID: uuid.Must(uuid.NewV7())}, 0); err != nil {
			t.Fatalf("SetSession failed: %v", err)
		}
		if _, err := testRedis.GetSession(ctx, tokenHash); !errors.Is(err, ErrCacheMiss) {
			t.Errorf("expected ErrCacheMiss, got %v", err)
		}
	})

	t.Run("DeleteAllUserSessions removes every session for the user", func(t *testing.T) {
		userID := uuid.Must(uuid.NewV7())
		hashes := []string{"testhash_all_a_" + userID.String(), "testhash_all_b_" + userID.String()}
		for _, h := range hashes {
			if err := testRedis.SetSession(ctx, h, Session{UserID: userID, ExpiresAt: time.Now().Add(time.Hour)}, 3600); err != nil {
				t.Fatalf("SetSession failed: %v", err)
			}
		}

		if err := testRedis.DeleteAllUserSessions(ctx, userID); err != nil {
			t.Fatalf("DeleteAllUserSessions failed: %v", err)
		}
		for _, h := range hashes {
			if _, err := testRedis.GetSession(ctx, h); !errors.Is(err, ErrCacheMiss) {
				t.Errorf("%s: expected ErrCacheMiss, got %v", h, err)
			}
		}
	})
}

// --- Rate limiter ---

func TestRedisRateLimiter(t *testing.T) {
	requireRedis(t)
	ctx := context.Background()
	rl := NewRedisRateLimiter(testRDB)

	t.Run("locks out after MaxAttempts", func(t *testing.T) {
		key := "test:" + uuid.Must(uuid.NewV4()).String()
		policy := RateLimit{MaxAttempts: 3, Window: time.Minute, LockoutTTL: time.Minute}
		t.Cleanup(func() { testRDB.Del(ctx, "kiwi:rl:"+key, "kiwi:rl_lock:"+key) })

		for i := 1; i <= 3; i++ {
			if err := rl.Allow(ctx, key, policy); err != nil {
				t.Fatalf("attempt %d: expected nil, got %v", i, err)
			}
		}
		if err := rl.Allow(ctx, key, policy); !errors.Is(err, ErrRateLimitExceeded) {
			t.Errorf("attempt 4: expected ErrRateLimitExceeded, got %v", err)
		}
		if err := rl.Allow(ctx, key, policy); !errors.Is(err, ErrRateLimitExceeded) {
			t.Errorf("attempt 5: expected lockout to persist, got %v", err)
		}
	})

	t.Run("zero policy disables limiting", func(t *testing.T) {
		for i := 0; i < 5; i++ {
			if err := rl.Allow(ctx, "test:disabled", RateLimit{}); err != nil {
				t.Fatalf("expected nil, got %v", err)
			}
		}
	})
}

// --- Noop implementations ---

func TestNoopImplementations(t *testing.T) {
	ctx := context.Background()

	if _, err := (NoopSessionCache{}).GetSession(ctx, "x"); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("GetSession: expected ErrCacheMiss, got %v", err)
	}
	if err := (NoopSessionCache{}).SetSession(ctx, "x", Session{}, 60); !errors.Is(err, ErrCacheDisabled) {
		t.Errorf("SetSession: expected ErrCacheDisabled, got %v", err)
	}
	if err := (NoopSessionCache{}).CheckHealth(ctx); !errors.Is(err, ErrCacheDisabled) {
		t.Errorf("CheckHealth: expected ErrCacheDisabled, got %v", err)
	}
	if err := (NoopRateLimiter{}).Allow(ctx, "k", RateLimit{MaxAttempts: 1, Window: time.Second}); err != nil {
		t.Errorf("Allow: expected nil, got %v", err)
	}
}
