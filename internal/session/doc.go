// Package session maps client session ids to agent-service thread ids.
//
// # Registry
//
// Registry keeps at most one thread id per session. Lookups that hit the
// in-memory map return immediately and refresh the entry's recency. Misses
// are serialized per session with singleflight, so concurrent first requests
// for the same session create exactly one remote thread while different
// sessions proceed independently.
//
// # Bounds
//
// Memory is bounded two ways:
//
//   - TTL: entries unused for longer than the TTL expire. A zero TTL keeps
//     entries until they are evicted by size.
//   - MaxEntries: when full, the least recently used entry is evicted.
//
// A background goroutine sweeps expired entries once a minute until Close.
//
// # Durability
//
// When a ThreadStore is configured, misses consult it before creating a new
// thread and newly created threads are saved to it. An evicted or expired
// session is then re-hydrated on its next request instead of losing its
// conversation history.
package session
