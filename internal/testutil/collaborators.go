// collaborators.go
//
// Mocks for the external collaborators: the identity verifier, the vision model,
// and the sign-in rate limiter.
package testutil

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kiwi-labs/kiwi-api/internal/identity"
	"github.com/kiwi-labs/kiwi-api/internal/store"
)

// MockVerifier implements auth.IdentityVerifier.
// Tokens listed in Tokens verify to their claims; anything else fails with identity.ErrInvalidToken.
type MockVerifier struct {
	Tokens map[string]*identity.Claims
	Err    error // when set, every Verify fails with it

	calls atomic.Int32
}

func (m *MockVerifier) Name() string { return "apple" }

func (m *MockVerifier) Verify(_ context.Context, rawToken string) (*identity.Claims, error) {
	m.calls.Add(1)
	if m.Err != nil {
		return nil, m.Err
	}
	c, ok := m.Tokens[rawToken]
	if !ok {
		return nil, identity.ErrInvalidToken
	}
	return c, nil
}

// Calls returns how many times Verify ran.
func (m *MockVerifier) Calls() int { return int(m.calls.Load()) }

// MockModel implements vision.Client with a canned answer.
type MockModel struct {
	Response string
	Err      error
	Delay    time.Duration // simulated latency; honours ctx cancellation

	calls atomic.Int32
}

func (m *MockModel) Analyze(ctx context.Context, _ []byte) (string, error) {
	m.calls.Add(1)
	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if m.Err != nil {
		return "", m.Err
	}
	return m.Response, nil
}

// Calls returns how many times Analyze ran.
func (m *MockModel) Calls() int { return int(m.calls.Load()) }

// MockRateLimiter implements auth.RateLimiter by counting attempts per key.
type MockRateLimiter struct {
	Err error // when set, every Allow fails with it

	counts map[string]int
	mu     sync.Mutex
}

func (m *MockRateLimiter) Allow(_ context.Context, key string, policy store.RateLimit) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts == nil {
		m.counts = make(map[string]int)
	}
	m.counts[key]++
	if m.counts[key] > policy.MaxAttempts {
		return store.ErrRateLimitExceeded
	}
	return nil
}
