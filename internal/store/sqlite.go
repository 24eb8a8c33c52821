// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Persists session to thread mappings with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// timeFormat is fixed-width so stored timestamps compare correctly as text.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL lets request goroutines read while another writes
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS session_threads (
			session_id TEXT PRIMARY KEY,
			thread_id  TEXT NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_session_threads_thread ON session_threads(thread_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema migrations for existing databases.
// These are idempotent - safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first
	migrations := []struct {
		check  string
		apply  []string
		column string
	}{
		{
			check: `SELECT 1 FROM pragma_table_info('session_threads') WHERE name = 'last_used_at'`,
			apply: []string{
				`ALTER TABLE session_threads ADD COLUMN last_used_at TEXT NOT NULL DEFAULT ''`,
				`UPDATE session_threads SET last_used_at = created_at WHERE last_used_at = ''`,
				`CREATE INDEX IF NOT EXISTS idx_session_threads_last_used ON session_threads(last_used_at)`,
			},
			column: "last_used_at",
		},
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRow(m.check).Scan(&exists)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("checking %s column: %w", m.column, err)
		}
		for _, stmt := range m.apply {
			if _, err := s.db.Exec(stmt); err != nil {
				return fmt.Errorf("adding %s column to session_threads: %w", m.column, err)
			}
		}
		s.logger.Info("applied migration", "column", m.column, "table", "session_threads")
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// GetSessionThread retrieves the mapping for a session.
// Returns ErrNotFound if the session is unknown.
func (s *SQLiteStore) GetSessionThread(ctx context.Context, sessionID string) (*SessionThread, error) {
	query := `
		SELECT session_id, thread_id, created_at, last_used_at
		FROM session_threads
		WHERE session_id = ?
	`

	var st SessionThread
	var createdAtStr, lastUsedStr string

	err := s.db.QueryRowContext(ctx, query, sessionID).Scan(
		&st.SessionID,
		&st.ThreadID,
		&createdAtStr,
		&lastUsedStr,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying session thread: %w", err)
	}

	if err := parseTimes(&st, createdAtStr, lastUsedStr); err != nil {
		return nil, err
	}
	return &st, nil
}

// SaveSessionThread upserts the mapping. An existing row keeps its created_at.
func (s *SQLiteStore) SaveSessionThread(ctx context.Context, st *SessionThread) error {
	if st.SessionID == "" || st.ThreadID == "" {
		return errors.New("session id and thread id are required")
	}

	now := time.Now().UTC()
	created := st.CreatedAt
	if created.IsZero() {
		created = now
	}
	lastUsed := st.LastUsedAt
	if lastUsed.IsZero() {
		lastUsed = created
	}

	query := `
		INSERT INTO session_threads (session_id, thread_id, created_at, last_used_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			thread_id = excluded.thread_id,
			last_used_at = excluded.last_used_at
	`

	_, err := s.db.ExecContext(ctx, query,
		st.SessionID,
		st.ThreadID,
		created.UTC().Format(timeFormat),
		lastUsed.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("saving session thread: %w", err)
	}

	s.logger.Debug("saved session thread", "session_id", st.SessionID, "thread_id", st.ThreadID)
	return nil
}

// TouchSessionThread records use of a session.
// Returns ErrNotFound if the session is unknown.
func (s *SQLiteStore) TouchSessionThread(ctx context.Context, sessionID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE session_threads SET last_used_at = ? WHERE session_id = ?`,
		at.UTC().Format(timeFormat), sessionID,
	)
	if err != nil {
		return fmt.Errorf("touching session thread: %w", err)
	}
	return requireAffected(res)
}

// DeleteSessionThread removes a mapping.
// Returns ErrNotFound if the session is unknown.
func (s *SQLiteStore) DeleteSessionThread(ctx context.Context, sessionID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM session_threads WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("deleting session thread: %w", err)
	}
	return requireAffected(res)
}

// ListSessionThreads returns mappings, most recently used first.
// A limit of zero or less returns all rows.
func (s *SQLiteStore) ListSessionThreads(ctx context.Context, limit int) ([]*SessionThread, error) {
	query := `
		SELECT session_id, thread_id, created_at, last_used_at
		FROM session_threads
		ORDER BY last_used_at DESC, session_id
	`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying session threads: %w", err)
	}
	defer rows.Close()

	var out []*SessionThread
	for rows.Next() {
		var st SessionThread
		var createdAtStr, lastUsedStr string
		if err := rows.Scan(&st.SessionID, &st.ThreadID, &createdAtStr, &lastUsedStr); err != nil {
			return nil, fmt.Errorf("scanning session thread: %w", err)
		}
		if err := parseTimes(&st, createdAtStr, lastUsedStr); err != nil {
			return nil, err
		}
		out = append(out, &st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating session threads: %w", err)
	}
	return out, nil
}

// PruneSessionThreads deletes mappings whose last use is before cutoff.
func (s *SQLiteStore) PruneSessionThreads(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM session_threads WHERE last_used_at < ?`,
		cutoff.UTC().Format(timeFormat),
	)
	if err != nil {
		return 0, fmt.Errorf("pruning session threads: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting pruned rows: %w", err)
	}
	if n > 0 {
		s.logger.Info("pruned session threads", "count", n)
	}
	return n, nil
}

// LookupThread returns the thread for sessionID, or "" when none is stored.
// It refreshes last_used_at on a hit.
func (s *SQLiteStore) LookupThread(ctx context.Context, sessionID string) (string, error) {
	st, err := s.GetSessionThread(ctx, sessionID)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if err := s.TouchSessionThread(ctx, sessionID, time.Now()); err != nil {
		s.logger.Warn("failed to touch session thread", "session_id", sessionID, "error", err)
	}
	return st.ThreadID, nil
}

// SaveThread records a newly created thread for sessionID.
func (s *SQLiteStore) SaveThread(ctx context.Context, sessionID, threadID string) error {
	return s.SaveSessionThread(ctx, &SessionThread{SessionID: sessionID, ThreadID: threadID})
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func parseTimes(st *SessionThread, createdAt, lastUsed string) error {
	var err error
	st.CreatedAt, err = time.Parse(timeFormat, createdAt)
	if err != nil {
		return fmt.Errorf("parsing created_at: %w", err)
	}
	st.LastUsedAt, err = time.Parse(timeFormat, lastUsed)
	if err != nil {
		return fmt.Errorf("parsing last_used_at: %w", err)
	}
	return nil
}
