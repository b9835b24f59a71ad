// Package scan runs the image-to-recipes pipeline for an authenticated, in-quota caller.
package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/kiwi-labs/kiwi-api/internal/imagecheck"
	"github.com/kiwi-labs/kiwi-api/internal/logging"
	"github.com/kiwi-labs/kiwi-api/internal/metrics"
	"github.com/kiwi-labs/kiwi-api/internal/quota"
	"github.com/kiwi-labs/kiwi-api/internal/recipes"
	"github.com/kiwi-labs/kiwi-api/internal/store"
	"github.com/kiwi-labs/kiwi-api/internal/vision"
)

var (
	// ErrModelCallFailed covers transport errors, timeouts and non-2xx provider statuses.
	ErrModelCallFailed = errors.New("model call failed")

	// ErrModelResponseInvalid covers empty completions and output failing schema validation.
	ErrModelResponseInvalid = errors.New("model response invalid")

	// ErrAccountDeleted means the caller's account was deleted while the scan was running.
	ErrAccountDeleted = errors.New("account deleted")
)

// DefaultModelTimeout bounds a model call when Service.ModelTimeout is zero.
const DefaultModelTimeout = 45 * time.Second

// commitTimeout bounds recording the scan once the model has answered.
const commitTimeout = 5 * time.Second

// Upload is the image as received from the client.
type Upload struct {
	Data        []byte
	ContentType string // declared type; empty when the client sent none
}

// QuotaCommitter records a successful scan. Satisfied by *quota.Ledger.
type QuotaCommitter interface {
	Commit(ctx context.Context, userID uuid.UUID) (int, error)
}

// Service orchestrates validation, the model call, output validation and quota accounting.
// Authentication and the quota pre-check happen in middleware before Scan is reached.
type Service struct {
	Model        vision.Client
	Quota        QuotaCommitter
	ModelTimeout time.Duration
}

// Scan validates the upload, asks the model for ingredients and recipes, validates the
// answer, and records the scan against the caller's quota.
//
// Errors: *imagecheck.ValidationError, ErrModelCallFailed, ErrModelResponseInvalid,
// *quota.ExceededError (a concurrent scan took the last slot), ErrAccountDeleted. A failure
// to record the scan for any other reason is logged and the result is still returned.
//
// The scan is recorded even if ctx is cancelled after the model answered.
func (s *Service) Scan(ctx context.Context, userID uuid.UUID, up Upload) (*recipes.ScanResult, error) {
	if err := imagecheck.Validate(up.Data, up.ContentType); err != nil {
		return nil, err
	}

	raw, err := s.analyze(ctx, up.Data)
	if errors.Is(err, vision.ErrEmptyCompletion) {
		return nil, fmt.Errorf("%w: %v", ErrModelResponseInvalid, err)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelCallFailed, err)
	}

	result, err := recipes.Parse([]byte(recipes.StripCodeFence(raw)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelResponseInvalid, err)
	}

	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
	defer cancel()
	if _, err := s.Quota.Commit(commitCtx, userID); err != nil {
		if errors.Is(err, quota.ErrQuotaExceeded) {
			return nil, err
		}
		if errors.Is(err, store.ErrUserNotFound) {
			return nil, fmt.Errorf("%w: %v", ErrAccountDeleted, err)
		}
		slog.ErrorContext(ctx, "failed to record scan, returning result anyway",
			"user_id", logging.UserID(userID), "error", err)
	}
	return result, nil
}

// analyze runs the model call detached from client cancellation and bounded by ModelTimeout.
// A client that disconnects mid-call leaves the call to finish; its result is discarded.
func (s *Service) analyze(ctx context.Context, jpeg []byte) (string, error) {
	timeout := s.ModelTimeout
	if timeout <= 0 {
		timeout = DefaultModelTimeout
	}
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	start := time.Now()
	raw, err := s.Model.Analyze(callCtx, jpeg)
	metrics.ObserveModelCall(time.Since(start), err == nil)
	return raw, err
}
