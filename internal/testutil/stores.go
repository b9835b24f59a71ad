// stores.go
//
// Shared mock implementations of auth.Store, quota.Store and auth.SessionCache.
// Imported by test files across packages to avoid duplicate mock definitions.
package testutil

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/kiwi-labs/kiwi-api/internal/store"
)

// MockStore implements auth.Store and quota.Store for tests.
// Always stateful...Users, Sessions and scan counts are maps, like a real store.
// Use *Err fields to inject errors for specific operations.
// Deleting a user cascades to its sessions and scan counts, as the schema does.
type MockStore struct {
	// Error injection...zero value means no error
	UpsertUserErr    error
	DeleteUserErr    error
	CreateSessionErr error
	GetSessionErr    error
	DeleteSessionErr error
	GetScanCountErr  error
	IncrementScanErr error
	HealthErr        error

	Users    map[string]*store.User    // keyed by provider + ":" + subject
	Sessions map[string]*store.Session // keyed by string(tokenHash)
	Scans    map[string]int            // keyed by scanKey(userID, day)

	deleted map[uuid.UUID]bool // users removed by DeleteUser; increments fail like a dangling FK
	mu      sync.Mutex
}

// NewMockStore returns an empty MockStore ready for use.
func NewMockStore() *MockStore {
	return &MockStore{
		Users:    make(map[string]*store.User),
		Sessions: make(map[string]*store.Session),
		Scans:    make(map[string]int),
	}
}

func scanKey(userID uuid.UUID, day time.Time) string {
	return userID.String() + "/" + day.UTC().Format(time.DateOnly)
}

func (m *MockStore) init() {
	if m.Users == nil {
		m.Users = make(map[string]*store.User)
	}
	if m.Sessions == nil {
		m.Sessions = make(map[string]*store.Session)
	}
	if m.Scans == nil {
		m.Scans = make(map[string]int)
	}
	if m.deleted == nil {
		m.deleted = make(map[uuid.UUID]bool)
	}
}

func (m *MockStore) CheckHealth(context.Context) error { return m.HealthErr }

func (m *MockStore) UpsertUserByIdentity(_ context.Context, id uuid.UUID, provider, subject string, email *string) (*store.User, error) {
	if m.UpsertUserErr != nil {
		return nil, m.UpsertUserErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	key := provider + ":" + subject
	if u, ok := m.Users[key]; ok {
		if email != nil {
			u.Email = email
		}
		u.UpdatedAt = time.Now()
		return u, nil
	}
	now := time.Now()
	u := &store.User{ID: id, Provider: provider, ProviderSubject: subject, Email: email, CreatedAt: now, UpdatedAt: now}
	m.Users[key] = u
	return u, nil
}

func (m *MockStore) DeleteUser(_ context.Context, userID uuid.UUID) error {
	if m.DeleteUserErr != nil {
		return m.DeleteUserErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	found := false
	for key, u := range m.Users {
		if u.ID == userID {
			delete(m.Users, key)
			found = true
		}
	}
	if !found {
		return pgx.ErrNoRows
	}
	m.deleted[userID] = true
	for key, s := range m.Sessions {
		if s.UserID == userID {
			delete(m.Sessions, key)
		}
	}
	prefix := userID.String() + "/"
	for key := range m.Scans {
		if strings.HasPrefix(key, prefix) {
			delete(m.Scans, key)
		}
	}
	return nil
}

// UserBySubject returns the stored user for provider and subject, or nil.
func (m *MockStore) UserBySubject(provider, subject string) *store.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Users[provider+":"+subject]
}

// AddUser seeds a user directly.
func (m *MockStore) AddUser(u *store.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	m.Users[u.Provider+":"+u.ProviderSubject] = u
}

func (m *MockStore) CreateSession(_ context.Context, id, userID uuid.UUID, tokenHash []byte, expiresAt time.Time, ip, userAgent *string) error {
	if m.CreateSessionErr != nil {
		return m.CreateSessionErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	m.Sessions[string(tokenHash)] = &store.Session{
		ID:        id,
		UserID:    userID,
		TokenHash: tokenHash,
		ExpiresAt: expiresAt,
		IPAddress: ip,
		UserAgent: userAgent,
		CreatedAt: time.Now(),
	}
	return nil
}

// GetSessionByTokenHash returns pgx.ErrNoRows for unknown hashes, like the real store.
// Expired sessions are returned; expiry is the caller's check.
func (m *MockStore) GetSessionByTokenHash(_ context.Context, tokenHash []byte) (*store.Session, error) {
	if m.GetSessionErr != nil {
		return nil, m.GetSessionErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.Sessions[string(tokenHash)]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *s
	return &cp, nil
}

func (m *MockStore) DeleteSession(_ context.Context, tokenHash []byte) error {
	if m.DeleteSessionErr != nil {
		return m.DeleteSessionErr
	}
	m.mu.Lock()
	delete(m.Sessions, string(tokenHash))
	m.mu.Unlock()
	return nil
}

// HasSession reports whether a row exists for tokenHash.
func (m *MockStore) HasSession(tokenHash []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.Sessions[string(tokenHash)]
	return ok
}

func (m *MockStore) GetScanCount(_ context.Context, userID uuid.UUID, day time.Time) (int, error) {
	if m.GetScanCountErr != nil {
		return 0, m.GetScanCountErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Scans[scanKey(userID, day)], nil
}

// IncrementScanCount mirrors the conditional upsert: the check and the increment happen
// under one lock, so concurrent callers can never push the count past limit.
func (m *MockStore) IncrementScanCount(_ context.Context, userID uuid.UUID, day time.Time, limit int) (int, error) {
	if m.IncrementScanErr != nil {
		return 0, m.IncrementScanErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	if m.deleted[userID] {
		return 0, store.ErrUserNotFound
	}
	key := scanKey(userID, day)
	if m.Scans[key] >= limit {
		return 0, store.ErrScanLimitReached
	}
	m.Scans[key]++
	return m.Scans[key], nil
}

// SetScanCount seeds the count for userID on day.
func (m *MockStore) SetScanCount(userID uuid.UUID, day time.Time, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	m.Scans[scanKey(userID, day)] = n
}

// ScanCount returns the stored count for userID on day.
func (m *MockStore) ScanCount(userID uuid.UUID, day time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Scans[scanKey(userID, day)]
}

// MockCache implements auth.SessionCache for tests.
// Always stateful...Sessions is a map, like a real cache.
// Use *Err fields to inject errors for specific operations.
type MockCache struct {
	// Error injection...zero value means no error
	GetSessionErr        error
	SetSessionErr        error
	DeleteSessionErr     error
	DeleteAllSessionsErr error

	Sessions map[string]*store.CachedSession // keyed by base64 token hash

	mu sync.Mutex
}

// NewMockCache returns an empty MockCache ready for use.
func NewMockCache() *MockCache {
	return &MockCache{
		Sessions: make(map[string]*store.CachedSession),
	}
}

func (m *MockCache) CheckHealth(context.Context) error { return nil }

// GetSession returns store.ErrCacheMiss for unknown keys, like the real cache.
func (m *MockCache) GetSession(_ context.Context, tokenHash string) (*store.CachedSession, error) {
	if m.GetSessionErr != nil {
		return nil, m.GetSessionErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.Sessions[tokenHash]
	if !ok {
		return nil, store.ErrCacheMiss
	}
	cp := *s
	return &cp, nil
}

func (m *MockCache) SetSession(_ context.Context, tokenHash string, sessionData store.Session, ttl int) error {
	if m.SetSessionErr != nil {
		return m.SetSessionErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Sessions == nil {
		m.Sessions = make(map[string]*store.CachedSession)
	}
	m.Sessions[tokenHash] = &store.CachedSession{
		UserID:    sessionData.UserID,
		ExpiresAt: sessionData.ExpiresAt,
	}
	return nil
}

func (m *MockCache) DeleteSession(_ context.Context, tokenHash string, userID uuid.UUID) error {
	if m.DeleteSessionErr != nil {
		return m.DeleteSessionErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Sessions, tokenHash)
	return nil
}

func (m *MockCache) DeleteAllUserSessions(_ context.Context, userID uuid.UUID) error {
	if m.DeleteAllSessionsErr != nil {
		return m.DeleteAllSessionsErr
	}
	m.mu.Lock()
	for key, s := range m.Sessions {
		if s.UserID == userID {
			delete(m.Sessions, key)
		}
	}
	m.mu.Unlock()
	return nil
}

// Has reports whether tokenHash is cached.
func (m *MockCache) Has(tokenHash string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.Sessions[tokenHash]
	return ok
}
