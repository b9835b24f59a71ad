// Package store handles all database and cache interactions.
//
// postgres.go -- pgxpool connection setup and queries.
// Creates a connection pool at startup, shared across all handlers.
// All queries use parameterized statements (no string concatenation).
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is the durable store for users, sessions and scan quota.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a verified connection pool to PostgreSQL wrapped in a store.
// Call once at startup from main.go...the returned store is safe for concurrent use.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	// Ping db to make sure connection works
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool}, nil
}

// Close shuts down the connection pool and releases all resources.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// CheckHealth pings the pool.
func (s *PostgresStore) CheckHealth(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Users ---

// UpsertUserByIdentity inserts a user for (provider, subject) or, if one exists, refreshes it.
// A nil email never overwrites a stored one: Apple only sends email on first sign-in.
// id is used only when a new row is inserted.
func (s *PostgresStore) UpsertUserByIdentity(ctx context.Context, id uuid.UUID, provider, subject string, email *string) (*User, error) {
	var u User
	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (id, provider, provider_subject, email)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (provider, provider_subject)
		DO UPDATE SET email = COALESCE(EXCLUDED.email, users.email), updated_at = NOW()
		RETURNING id, provider, provider_subject, email, created_at, updated_at`,
		id, provider, subject, email,
	).Scan(&u.ID, &u.Provider, &u.ProviderSubject, &u.Email, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("upserting user: %w", err)
	}
	return &u, nil
}

// DeleteUser removes the user row; sessions and scan_quota rows go with it (ON DELETE CASCADE).
// Returns pgx.ErrNoRows if no such user exists.
func (s *PostgresStore) DeleteUser(ctx context.Context, userID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM users WHERE id = $1", userID)
	if err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// --- Sessions ---

// CreateSession inserts a new session row. Caller generates the id and token hash.
func (s *PostgresStore) CreateSession(ctx context.Context, id, userID uuid.UUID, tokenHash []byte, expiresAt time.Time, ip, userAgent *string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sessions (id, user_id, token_hash, expires_at, ip_address, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		id, userID, tokenHash, expiresAt, ip, userAgent)
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	return nil
}

// GetSessionByTokenHash fetches a session by token hash, expired or not.
// Expiry is the caller's decision so it can delete stale rows it encounters.
// Returns pgx.ErrNoRows if not found.
func (s *PostgresStore) GetSessionByTokenHash(ctx context.Context, tokenHash []byte) (*Session, error) {
	var sess Session
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, token_hash, expires_at, host(ip_address), user_agent, created_at
		FROM sessions
		WHERE token_hash = $1`,
		tokenHash,
	).Scan(&sess.ID, &sess.UserID, &sess.TokenHash, &sess.ExpiresAt, &sess.IPAddress, &sess.UserAgent, &sess.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// DeleteSession removes a single session row by token hash. Deleting a missing row is not an error.
func (s *PostgresStore) DeleteSession(ctx context.Context, tokenHash []byte) error {
	if _, err := s.pool.Exec(ctx, "DELETE FROM sessions WHERE token_hash = $1", tokenHash); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// CleanupExpiredSessions deletes sessions that expired more than retention ago.
// Returns the number of rows deleted.
func (s *PostgresStore) CleanupExpiredSessions(ctx context.Context, retention time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		"DELETE FROM sessions WHERE expires_at < $1",
		time.Now().Add(-retention),
	)
	if err != nil {
		return 0, fmt.Errorf("cleaning up expired sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// --- Scan quota ---

// GetScanCount returns the number of successful scans recorded for userID on day.
// A missing row means zero scans.
func (s *PostgresStore) GetScanCount(ctx context.Context, userID uuid.UUID, day time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		"SELECT scan_count FROM scan_quota WHERE user_id = $1 AND scan_date = $2",
		userID, day,
	).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("fetching scan count: %w", err)
	}
	return n, nil
}

// IncrementScanCount records one successful scan for userID on day and returns the new count.
//
// Single statement: Postgres locks the conflicting row and re-checks the WHERE against the
// latest version, so concurrent increments serialize and the count can never pass limit.
// Returns ErrScanLimitReached when the row is already at limit.
func (s *PostgresStore) IncrementScanCount(ctx context.Context, userID uuid.UUID, day time.Time, limit int) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		INSERT INTO scan_quota (user_id, scan_date, scan_count)
		VALUES ($1, $2, 1)
		ON CONFLICT (user_id, scan_date)
		DO UPDATE SET scan_count = scan_quota.scan_count + 1
		WHERE scan_quota.scan_count < $3
		RETURNING scan_count`,
		userID, day, limit,
	).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrScanLimitReached
	}
	// 23503 = foreign_key_violation: the user was deleted mid-scan.
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return 0, ErrUserNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("incrementing scan count: %w", err)
	}
	return n, nil
}

// ResetScanCounts deletes scan_quota rows for day. If userID is non-nil only that user's row
// is removed. Returns the number of rows deleted. Used by the resetquota dev tool.
func (s *PostgresStore) ResetScanCounts(ctx context.Context, day time.Time, userID *uuid.UUID) (int64, error) {
	var (
		query = "DELETE FROM scan_quota WHERE scan_date = $1"
		args  = []any{day}
	)
	if userID != nil {
		query += " AND user_id = $2"
		args = append(args, *userID)
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("resetting scan counts: %w", err)
	}
	return tag.RowsAffected(), nil
}
