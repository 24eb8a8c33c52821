// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu       sync.RWMutex
	sessions map[string]*SessionThread // keyed by session ID
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		sessions: make(map[string]*SessionThread),
	}
}

// GetSessionThread retrieves a mapping by session ID.
func (m *MockStore) GetSessionThread(ctx context.Context, sessionID string) (*SessionThread, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}

	// Return a copy
	result := *st
	return &result, nil
}

// SaveSessionThread upserts a mapping, keeping created_at of an existing row.
func (m *MockStore) SaveSessionThread(ctx context.Context, st *SessionThread) error {
	if st.SessionID == "" || st.ThreadID == "" {
		return errors.New("session id and thread id are required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	c := *st
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	if c.LastUsedAt.IsZero() {
		c.LastUsedAt = c.CreatedAt
	}
	if existing, ok := m.sessions[c.SessionID]; ok {
		c.CreatedAt = existing.CreatedAt
	}
	m.sessions[c.SessionID] = &c
	return nil
}

// TouchSessionThread updates last use of a session.
func (m *MockStore) TouchSessionThread(ctx context.Context, sessionID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	st.LastUsedAt = at.UTC()
	return nil
}

// DeleteSessionThread removes a mapping.
func (m *MockStore) DeleteSessionThread(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[sessionID]; !ok {
		return ErrNotFound
	}
	delete(m.sessions, sessionID)
	return nil
}

// ListSessionThreads returns mappings, most recently used first.
func (m *MockStore) ListSessionThreads(ctx context.Context, limit int) ([]*SessionThread, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*SessionThread, 0, len(m.sessions))
	for _, st := range m.sessions {
		c := *st
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastUsedAt.Equal(out[j].LastUsedAt) {
			return out[i].LastUsedAt.After(out[j].LastUsedAt)
		}
		return out[i].SessionID < out[j].SessionID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// PruneSessionThreads removes mappings unused since cutoff.
func (m *MockStore) PruneSessionThreads(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for id, st := range m.sessions {
		if st.LastUsedAt.Before(cutoff) {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}

// LookupThread returns the stored thread for sessionID or "".
func (m *MockStore) LookupThread(ctx context.Context, sessionID string) (string, error) {
	st, err := m.GetSessionThread(ctx, sessionID)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return st.ThreadID, nil
}

// SaveThread records a newly created thread for sessionID.
func (m *MockStore) SaveThread(ctx context.Context, sessionID, threadID string) error {
	return m.SaveSessionThread(ctx, &SessionThread{SessionID: sessionID, ThreadID: threadID})
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}

var (
	_ Store = (*MockStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)
