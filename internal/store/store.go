// ABOUTME: Store interface and data types for foundry-relay persistence
// ABOUTME: Defines the SessionThread mapping and the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// SessionThread links a client session to the agent-service thread that
// holds its conversation.
type SessionThread struct {
	SessionID  string
	ThreadID   string
	CreatedAt  time.Time
	LastUsedAt time.Time
}

// Store defines the interface for session mapping persistence
type Store interface {
	// GetSessionThread returns ErrNotFound for an unknown session.
	GetSessionThread(ctx context.Context, sessionID string) (*SessionThread, error)
	// SaveSessionThread inserts the mapping, replacing the thread of an existing session.
	SaveSessionThread(ctx context.Context, st *SessionThread) error
	TouchSessionThread(ctx context.Context, sessionID string, at time.Time) error
	DeleteSessionThread(ctx context.Context, sessionID string) error
	ListSessionThreads(ctx context.Context, limit int) ([]*SessionThread, error)
	// PruneSessionThreads removes mappings unused since cutoff and returns how many were removed.
	PruneSessionThreads(ctx context.Context, cutoff time.Time) (int64, error)

	// LookupThread returns "" for an unknown session and touches a known one.
	LookupThread(ctx context.Context, sessionID string) (string, error)
	SaveThread(ctx context.Context, sessionID, threadID string) error

	// Close releases any resources held by the store
	Close() error
}
