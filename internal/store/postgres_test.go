package store

import (
	"context"
	"crypto/sha256"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// --- UpsertUserByIdentity ---

func TestUpsertUserByIdentity(t *testing.T) {
	requirePostgres(t)
	ctx := context.Background()

	t.Run("inserts then returns the same user for the same subject", func(t *testing.T) {
		subject := "upsert-" + uuid.Must(uuid.NewV4()).String()
		email := "first@example.com"

		first, err := testStore.UpsertUserByIdentity(ctx, uuid.Must(uuid.NewV7()), "apple", subject, &email)
		if err != nil {
			t.Fatalf("first upsert: %v", err)
		}
		t.Cleanup(func() { testStore.pool.Exec(ctx, "DELETE FROM users WHERE id = $1", first.ID) })

		second, err := testStore.UpsertUserByIdentity(ctx, uuid.Must(uuid.NewV7()), "apple", subject, nil)
		if err != nil {
			t.Fatalf("second upsert: %v", err)
		}
		if second.ID != first.ID {
			t.Errorf("ID: expected %v, got %v", first.ID, second.ID)
		}
		if second.Email == nil || *second.Email != email {
			t.Errorf("Email: nil email must keep stored value, got %v", second.Email)
		}
	})

	t.Run("new email replaces stored email", func(t *testing.T) {
		subject := "upsert-email-" + uuid.Must(uuid.NewV4()).String()
		oldEmail, newEmail := "old@example.com", "new@example.com"

		u, err := testStore.UpsertUserByIdentity(ctx, uuid.Must(uuid.NewV7()), "apple", subject, &oldEmail)
		if err != nil {
			t.Fatalf("first upsert: %v", err)
		}
		t.Cleanup(func() { testStore.pool.Exec(ctx, "DELETE FROM users WHERE id = $1", u.ID) })

		got, err := testStore.UpsertUserByIdentity(ctx, uuid.Must(uuid.NewV7()), "apple", subject, &newEmail)
		if err != nil {
			t.Fatalf("second upsert: %v", err)
		}
		if got.Email == nil || *got.Email != newEmail {
			t.Errorf("Email: expected %q, got %v", newEmail, got.Email)
		}
	})
}

// --- Sessions ---

func TestSessions(t *testing.T) {
	requirePostgres(t)
	ctx := context.Background()

	t.Run("create, get, delete round-trip", func(t *testing.T) {
		userID := mustCreateUser(t, ctx)
		hash := sha256.Sum256([]byte("session-roundtrip"))
		expiresAt := time.Now().Add(time.Hour).Truncate(time.Microsecond)
		ip := "203.0.113.7"

		if err := testStore.CreateSession(ctx, uuid.Must(uuid.NewV7()), userID, hash[:], expiresAt, &ip, nil); err != nil {
			t.Fatalf("CreateSession: %v", err)
		}

		got, err := testStore.GetSessionByTokenHash(ctx, hash[:])
		if err != nil {
			t.Fatalf("GetSessionByTokenHash: %v", err)
		}
		if got.UserID != userID {
			t.Errorf("UserID: expected %v, got %v", userID, got.UserID)
		}
		if !got.ExpiresAt.Equal(expiresAt) {
			t.Errorf("ExpiresAt: expected %v, got %v", expiresAt, got.ExpiresAt)
		}
		if got.IPAddress == nil || *got.IPAddress != ip {
			t.Errorf("IPAddress: expected %q, got %v", ip, got.IPAddress)
		}

		if err := testStore.DeleteSession(ctx, hash[:]); err != nil {
			t.Fatalf("DeleteSession: %v", err)
		}
		if _, err := testStore.GetSessionByTokenHash(ctx, hash[:]); !errors.Is(err, pgx.ErrNoRows) {
			t.Errorf("expected pgx.ErrNoRows after delete, got %v", err)
		}
	})

	t.Run("expired sessions are still returned", func(t *testing.T) {
		userID := mustCreateUser(t, ctx)
		hash := sha256.Sum256([]byte("session-expired"))
		if err := testStore.CreateSession(ctx, uuid.Must(uuid.NewV7()), userID, hash[:], time.Now().Add(-time.Minute), nil, nil); err != nil {
			t.Fatalf("CreateSession: %v", err)
		}

		got, err := testStore.GetSessionByTokenHash(ctx, hash[:])
		if err != nil {
			t.Fatalf("GetSessionByTokenHash: %v", err)
		}
		if !got.ExpiresAt.Before(time.Now()) {
			t.Errorf("expected an expired session, got ExpiresAt %v", got.ExpiresAt)
		}
	})

	t.Run("deleting a user cascades to sessions and quota", func(t *testing.T) {
		userID := mustCreateUser(t, ctx)
		hash := sha256.Sum256([]byte("session-cascade"))
		day := utcDay(2026, time.March, 1)
		if err := testStore.CreateSession(ctx, uuid.Must(uuid.NewV7()), userID, hash[:], time.Now().Add(time.Hour), nil, nil); err != nil {
			t.Fatalf("CreateSession: %v", err)
		}
		if _, err := testStore.IncrementScanCount(ctx, userID, day, 4); err != nil {
			t.Fatalf("IncrementScanCount: %v", err)
		}

		if err := testStore.DeleteUser(ctx, userID); err != nil {
			t.Fatalf("DeleteUser: %v", err)
		}

		if _, err := testStore.GetSessionByTokenHash(ctx, hash[:]); !errors.Is(err, pgx.ErrNoRows) {
			t.Errorf("session: expected pgx.ErrNoRows, got %v", err)
		}
		n, err := testStore.GetScanCount(ctx, userID, day)
		if err != nil {
			t.Fatalf("GetScanCount: %v", err)
		}
		if n != 0 {
			t.Errorf("scan count: expected 0 after cascade, got %d", n)
		}
	})

	t.Run("deleting a missing user returns ErrNoRows", func(t *testing.T) {
		if err := testStore.DeleteUser(ctx, uuid.Must(uuid.NewV7())); !errors.Is(err, pgx.ErrNoRows) {
			t.Errorf("expected pgx.ErrNoRows, got %v", err)
		}
	})
}

// --- CleanupExpiredSessions ---

func TestCleanupExpiredSessions(t *testing.T) {
	requirePostgres(t)
	ctx := context.Background()

	exists := func(t *testing.T, tokenHash []byte) bool {
		t.Helper()
		_, err := testStore.GetSessionByTokenHash(ctx, tokenHash)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			t.Fatalf("GetSessionByTokenHash: %v", err)
		}
		return err == nil
	}

	userID := mustCreateUser(t, ctx)
	ancient := sha256.Sum256([]byte("cleanup-ancient")) // expired 10 days ago
	recent := sha256.Sum256([]byte("cleanup-recent"))   // expired 3 days ago, inside the window
	active := sha256.Sum256([]byte("cleanup-active"))
	for _, s := range []struct {
		hash      []byte
		expiresAt time.Time
	}{
		{ancient[:], time.Now().Add(-10 * 24 * time.Hour)},
		{recent[:], time.Now().Add(-3 * 24 * time.Hour)},
		{active[:], time.Now().Add(24 * time.Hour)},
	} {
		if err := testStore.CreateSession(ctx, uuid.Must(uuid.NewV7()), userID, s.hash, s.expiresAt, nil, nil); err != nil {
			t.Fatalf("CreateSession: %v", err)
		}
	}

	n, err := testStore.CleanupExpiredSessions(ctx, 7*24*time.Hour)
	if err != nil {
		t.Fatalf("CleanupExpiredSessions: %v", err)
	}
	if n < 1 {
		t.Errorf("expected at least 1 deleted row, got %d", n)
	}
	if exists(t, ancient[:]) {
		t.Error("session expired beyond retention should be deleted")
	}
	if !exists(t, recent[:]) {
		t.Error("session inside retention should be kept")
	}
	if !exists(t, active[:]) {
		t.Error("active session should not be touched")
	}
}

// --- Scan quota ---

func TestScanQuota(t *testing.T) {
	requirePostgres(t)
	ctx := context.Background()

	t.Run("missing row counts as zero", func(t *testing.T) {
		userID := mustCreateUser(t, ctx)
		n, err := testStore.GetScanCount(ctx, userID, utcDay(2026, time.January, 1))
		if err != nil {
			t.Fatalf("GetScanCount: %v", err)
		}
		if n != 0 {
			t.Errorf("expected 0, got %d", n)
		}
	})

	t.Run("increments up to the limit then refuses", func(t *testing.T) {
		userID := mustCreateUser(t, ctx)
		day := utcDay(2026, time.January, 2)

		for want := 1; want <= 4; want++ {
			got, err := testStore.IncrementScanCount(ctx, userID, day, 4)
			if err != nil {
				t.Fatalf("increment %d: %v", want, err)
			}
			if got != want {
				t.Errorf("increment %d: expected count %d, got %d", want, want, got)
			}
		}
		if _, err := testStore.IncrementScanCount(ctx, userID, day, 4); !errors.Is(err, ErrScanLimitReached) {
			t.Errorf("fifth increment: expected ErrScanLimitReached, got %v", err)
		}
	})

	t.Run("days are counted separately", func(t *testing.T) {
		userID := mustCreateUser(t, ctx)
		if _, err := testStore.IncrementScanCount(ctx, userID, utcDay(2026, time.January, 3), 4); err != nil {
			t.Fatalf("increment: %v", err)
		}
		n, err := testStore.GetScanCount(ctx, userID, utcDay(2026, time.January, 4))
		if err != nil {
			t.Fatalf("GetScanCount: %v", err)
		}
		if n != 0 {
			t.Errorf("next day: expected 0, got %d", n)
		}
	})

	t.Run("concurrent increments never pass the limit", func(t *testing.T) {
		userID := mustCreateUser(t, ctx)
		day := utcDay(2026, time.January, 5)
		// One prior scan, so three slots remain.
		if _, err := testStore.IncrementScanCount(ctx, userID, day, 4); err != nil {
			t.Fatalf("seed increment: %v", err)
		}

		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			ok, full int
		)
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := testStore.IncrementScanCount(ctx, userID, day, 4)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					ok++
				case errors.Is(err, ErrScanLimitReached):
					full++
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()

		if ok != 3 || full != 7 {
			t.Errorf("expected 3 successes and 7 refusals, got %d and %d", ok, full)
		}
		n, err := testStore.GetScanCount(ctx, userID, day)
		if err != nil {
			t.Fatalf("GetScanCount: %v", err)
		}
		if n != 4 {
			t.Errorf("final count: expected 4, got %d", n)
		}
	})

	t.Run("deleted user is reported, not counted", func(t *testing.T) {
		userID := mustCreateUser(t, ctx)
		if err := testStore.DeleteUser(ctx, userID); err != nil {
			t.Fatalf("DeleteUser: %v", err)
		}
		if _, err := testStore.IncrementScanCount(ctx, userID, utcDay(2026, time.January, 7), 4); !errors.Is(err, ErrUserNotFound) {
			t.Errorf("expected ErrUserNotFound, got %v", err)
		}
	})

	t.Run("reset deletes only the given day and user", func(t *testing.T) {
		a := mustCreateUser(t, ctx)
		b := mustCreateUser(t, ctx)
		day := utcDay(2026, time.January, 6)
		for _, id := range []uuid.UUID{a, b} {
			if _, err := testStore.IncrementScanCount(ctx, id, day, 4); err != nil {
				t.Fatalf("increment: %v", err)
			}
		}

		n, err := testStore.ResetScanCounts(ctx, day, &a)
		if err != nil {
			t.Fatalf("ResetScanCounts: %v", err)
		}
		if n != 1 {
			t.Errorf("deleted: expected 1, got %d", n)
		}
		if got, _ := testStore.GetScanCount(ctx, b, day); got != 1 {
			t.Errorf("other user: expected count 1 to survive, got %d", got)
		}
	})
}
