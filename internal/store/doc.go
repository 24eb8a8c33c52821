// Package store provides durable session mapping for the relay using SQLite.
//
// # Data Model
//
// The only persisted entity is SessionThread: the agent-service thread that
// holds a client session's conversation, with creation and last-use
// timestamps. Sessions are the primary key, so a session maps to at most
// one thread.
//
// # Implementations
//
//   - SQLiteStore: modernc.org/sqlite (pure Go), WAL journal, schema created
//     on open and idempotent column migrations for older databases.
//   - MockStore: in-memory, for tests.
//
// Both also satisfy the session package's ThreadStore through LookupThread
// and SaveThread, which is how the session registry rehydrates evicted or
// pre-restart sessions.
//
// # Timestamps
//
// Times are stored as fixed-width UTC text so ordering and pruning compare
// correctly in SQL.
package store
