// ledger.go -- Per-user daily scan counting.
//
// Days are UTC calendar dates computed here, never by the database, so the reset instant
// reported to clients and the row the counter lands in always agree.
package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/kiwi-labs/kiwi-api/internal/store"
)

// ErrQuotaExceeded matches any *ExceededError via errors.Is.
var ErrQuotaExceeded = errors.New("daily scan quota exceeded")

// ExceededError reports a refused scan and when the quota resets.
type ExceededError struct {
	ResetsAt time.Time
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("daily scan quota exceeded, resets at %s", e.ResetsAt.Format(time.RFC3339))
}

// Is makes errors.Is(err, ErrQuotaExceeded) true for any *ExceededError.
func (e *ExceededError) Is(target error) bool { return target == ErrQuotaExceeded }

// Store defines quota persistence needed by the ledger.
// Satisfied by *store.PostgresStore -- defined here (at consumer) per Go convention.
type Store interface {
	// GetScanCount returns today's count; zero when no row exists.
	GetScanCount(ctx context.Context, userID uuid.UUID, day time.Time) (int, error)

	// IncrementScanCount adds one scan if the count is below limit, returning the new count.
	// Returns store.ErrScanLimitReached when the row is already at limit.
	IncrementScanCount(ctx context.Context, userID uuid.UUID, day time.Time, limit int) (int, error)
}

// Status is a point-in-time view of a user's quota for today.
type Status struct {
	Used      int
	Remaining int
	Limit     int
	ResetsAt  time.Time
}

// Ledger enforces the daily scan limit.
type Ledger struct {
	store Store
	limit int
	now   func() time.Time
}

// NewLedger creates a ledger allowing limit successful scans per user per UTC day.
// now may be nil, in which case time.Now is used.
func NewLedger(s Store, limit int, now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{store: s, limit: limit, now: now}
}

// Limit returns the configured daily limit.
func (l *Ledger) Limit() int { return l.limit }

// Status reads today's usage.
func (l *Ledger) Status(ctx context.Context, userID uuid.UUID) (Status, error) {
	now := l.now()
	used, err := l.store.GetScanCount(ctx, userID, UTCDay(now))
	if err != nil {
		return Status{}, fmt.Errorf("reading scan count: %w", err)
	}
	return Status{
		Used:      used,
		Remaining: max(0, l.limit-used),
		Limit:     l.limit,
		ResetsAt:  NextUTCMidnight(now),
	}, nil
}

// Check is the pre-scan gate. Returns the status along with *ExceededError when
// today's count has reached the limit. Nothing is recorded.
func (l *Ledger) Check(ctx context.Context, userID uuid.UUID) (Status, error) {
	st, err := l.Status(ctx, userID)
	if err != nil {
		return Status{}, err
	}
	if st.Used >= l.limit {
		return st, &ExceededError{ResetsAt: st.ResetsAt}
	}
	return st, nil
}

// Commit records one successful scan and returns the new count. Returns *ExceededError if a
// concurrent scan took the last slot between Check and Commit.
func (l *Ledger) Commit(ctx context.Context, userID uuid.UUID) (int, error) {
	now := l.now()
	n, err := l.store.IncrementScanCount(ctx, userID, UTCDay(now), l.limit)
	if errors.Is(err, store.ErrScanLimitReached) {
		return 0, &ExceededError{ResetsAt: NextUTCMidnight(now)}
	}
	if err != nil {
		return 0, fmt.Errorf("recording scan: %w", err)
	}
	return n, nil
}

// UTCDay truncates t to midnight UTC of its calendar day.
func UTCDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// NextUTCMidnight returns the first UTC midnight strictly after t.
func NextUTCMidnight(t time.Time) time.Time {
	return UTCDay(t).AddDate(0, 0, 1)
}
