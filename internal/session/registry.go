// ABOUTME: Thread-safe session to thread registry with TTL and LRU bounds
// ABOUTME: Serializes first-time thread creation per session with singleflight

package session

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Defaults applied when Options leaves a field unset.
const (
	DefaultMaxEntries = 100000
	cleanupInterval   = time.Minute
)

// ErrEmptyThreadID is returned when the creator hands back a blank id.
var ErrEmptyThreadID = errors.New("agent service returned empty thread id")

// ThreadCreator creates remote conversation threads.
type ThreadCreator interface {
	CreateThread(ctx context.Context) (string, error)
}

// ThreadStore persists the session to thread mapping. LookupThread returns
// "" with a nil error when the session is unknown.
type ThreadStore interface {
	LookupThread(ctx context.Context, sessionID string) (string, error)
	SaveThread(ctx context.Context, sessionID, threadID string) error
}

// Options configures a Registry.
type Options struct {
	// TTL is how long an unused entry stays cached. Zero disables expiry.
	TTL time.Duration
	// MaxEntries bounds the number of cached sessions.
	MaxEntries int
	// Store is optional durable backing for the mapping.
	Store  ThreadStore
	Logger *slog.Logger
}

type entry struct {
	sessionID string
	threadID  string
	lastUsed  time.Time
	element   *list.Element
}

// Registry resolves session ids to thread ids, creating threads on first use.
type Registry struct {
	creator ThreadCreator
	store   ThreadStore
	logger  *slog.Logger
	group   singleflight.Group

	mu         sync.Mutex
	entries    map[string]*entry
	order      *list.List // least recently used at front
	ttl        time.Duration
	maxEntries int
	done       chan struct{}
	closed     bool
}

// New creates a Registry. When a TTL is set, a background goroutine removes
// expired entries until Close is called.
func New(creator ThreadCreator, opts Options) *Registry {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	r := &Registry{
		creator:    creator,
		store:      opts.Store,
		logger:     opts.Logger.With("component", "session"),
		entries:    make(map[string]*entry),
		order:      list.New(),
		ttl:        opts.TTL,
		maxEntries: opts.MaxEntries,
		done:       make(chan struct{}),
	}
	if r.ttl > 0 {
		go r.cleanup()
	}
	return r
}

// Resolve returns the thread for sessionID, creating one if none is known.
// A cached hit makes no remote call.
func (r *Registry) Resolve(ctx context.Context, sessionID string) (string, error) {
	if threadID, ok := r.lookup(sessionID); ok {
		return threadID, nil
	}

	v, err, shared := r.group.Do(sessionID, func() (any, error) {
		// Another caller may have finished between our miss and acquiring the flight.
		if threadID, ok := r.lookup(sessionID); ok {
			return threadID, nil
		}
		return r.load(ctx, sessionID)
	})
	if err != nil {
		return "", err
	}
	if shared {
		r.logger.Debug("shared thread resolution", "session_id", sessionID)
	}
	return v.(string), nil
}

func (r *Registry) load(ctx context.Context, sessionID string) (string, error) {
	if r.store != nil {
		threadID, err := r.store.LookupThread(ctx, sessionID)
		if err != nil {
			return "", fmt.Errorf("looking up session thread: %w", err)
		}
		if threadID != "" {
			r.put(sessionID, threadID)
			r.logger.Debug("session rehydrated", "session_id", sessionID, "thread_id", threadID)
			return threadID, nil
		}
	}

	threadID, err := r.creator.CreateThread(ctx)
	if err != nil {
		return "", fmt.Errorf("creating thread: %w", err)
	}
	if threadID == "" {
		return "", ErrEmptyThreadID
	}

	if r.store != nil {
		if err := r.store.SaveThread(ctx, sessionID, threadID); err != nil {
			// The thread is usable; it just won't survive eviction or restart.
			r.logger.Warn("failed to persist session thread", "session_id", sessionID, "thread_id", threadID, "error", err)
		}
	}

	r.put(sessionID, threadID)
	r.logger.Info("thread created", "session_id", sessionID, "thread_id", threadID)
	return threadID, nil
}

// lookup returns a live cached thread and marks it most recently used.
// Expired entries are dropped.
func (r *Registry) lookup(sessionID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[sessionID]
	if !ok {
		return "", false
	}
	now := time.Now()
	if r.expired(e, now) {
		r.removeLocked(e)
		return "", false
	}
	e.lastUsed = now
	r.order.MoveToBack(e.element)
	return e.threadID, true
}

func (r *Registry) put(sessionID, threadID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if e, ok := r.entries[sessionID]; ok {
		e.threadID = threadID
		e.lastUsed = now
		r.order.MoveToBack(e.element)
		return
	}

	for len(r.entries) >= r.maxEntries {
		r.evictOldest()
	}

	e := &entry{sessionID: sessionID, threadID: threadID, lastUsed: now}
	e.element = r.order.PushBack(e)
	r.entries[sessionID] = e
}

// Forget drops sessionID from memory. The durable store is left untouched.
func (r *Registry) Forget(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[sessionID]; ok {
		r.removeLocked(e)
	}
}

// Len returns the number of cached sessions, including any not yet swept.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *Registry) expired(e *entry, now time.Time) bool {
	return r.ttl > 0 && now.Sub(e.lastUsed) > r.ttl
}

// evictOldest must be called with mu held.
func (r *Registry) evictOldest() {
	front := r.order.Front()
	if front == nil {
		return
	}
	e, _ := front.Value.(*entry)
	r.removeLocked(e)
	r.logger.Debug("session evicted", "session_id", e.sessionID)
}

func (r *Registry) removeLocked(e *entry) {
	r.order.Remove(e.element)
	delete(r.entries, e.sessionID)
}

func (r *Registry) cleanup() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.runCleanup()
		case <-r.done:
			return
		}
	}
}

// runCleanup removes all expired entries.
func (r *Registry) runCleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	for _, e := range r.entries {
		if r.expired(e, now) {
			r.removeLocked(e)
		}
	}
}

// Close stops the background cleanup goroutine. It is safe to call multiple times.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.closed {
		close(r.done)
		r.closed = true
	}
}
