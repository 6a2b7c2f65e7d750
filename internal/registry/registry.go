// Package registry owns per-mapping sync state.
//
// The registry is the only mutable shared state in the daemon. It remembers,
// for every mapping, what the last successful sync looked like: the header
// the remote table was created with, whether the table exists, and the
// line-count/prefix-hash bookkeeping incremental and streaming modes need.
//
// State is persisted in an embedded SQLite database (WAL mode) in the state
// directory so a restarted daemon picks up where it left off. All reads and
// writes for a given mapping are serialized through a per-mapping lock; the
// engine acquires it for the whole duration of a sync.
package registry

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// SyncState is a mapping's memory of its last successful sync.
type SyncState struct {
	FilePath     string
	LastHeader   []string
	TableCreated bool
	// LastLineCount is the number of lines successfully synced so far.
	LastLineCount int64
	// LastPrefixHash is a SHA-256 over exactly the first LastLineCount
	// lines, used to tell pure appends from rewrites.
	LastPrefixHash      string
	LastSyncAt          time.Time
	ConsecutiveFailures int
}

// Clone returns a deep copy, so strategies can derive a successor state
// without mutating the committed one.
func (s *SyncState) Clone() *SyncState {
	if s == nil {
		return nil
	}
	dup := *s
	dup.LastHeader = append([]string(nil), s.LastHeader...)
	return &dup
}

// Registry stores mappings' sync state behind per-mapping locks.
type Registry struct {
	db *sql.DB

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

const schema = `
CREATE TABLE IF NOT EXISTS sync_state (
	file_path            TEXT PRIMARY KEY,
	last_header          TEXT NOT NULL DEFAULT '[]',
	table_created        INTEGER NOT NULL DEFAULT 0,
	last_line_count      INTEGER NOT NULL DEFAULT 0,
	last_prefix_hash     TEXT NOT NULL DEFAULT '',
	last_sync_at         INTEGER NOT NULL DEFAULT 0,
	consecutive_failures INTEGER NOT NULL DEFAULT 0
);
`

// Open creates or opens the state database under dir.
func Open(dir string) (*Registry, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	path := filepath.Join(dir, "state.db")
	db, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping state database: %w", err)
	}

	// WAL keeps status reads cheap while a sync is committing.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Registry{
		db:    db,
		locks: map[string]*sync.Mutex{},
	}, nil
}

// Close releases the state database.
func (r *Registry) Close() error {
	return r.db.Close()
}

// Lock acquires the per-mapping lock for path and returns the unlock
// function. At most one sync per mapping runs at a time; this is the lock
// that enforces it.
func (r *Registry) Lock(path string) func() {
	r.mu.Lock()
	l, ok := r.locks[path]
	if !ok {
		l = &sync.Mutex{}
		r.locks[path] = l
	}
	r.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// State returns the persisted state for path, or nil when the mapping has
// never synced successfully.
func (r *Registry) State(path string) (*SyncState, error) {
	row := r.db.QueryRow(`
		SELECT last_header, table_created, last_line_count,
		       last_prefix_hash, last_sync_at, consecutive_failures
		FROM sync_state WHERE file_path = ?`, path)

	var (
		headerJSON string
		created    int
		syncedAt   int64
		st         = SyncState{FilePath: path}
	)
	err := row.Scan(&headerJSON, &created, &st.LastLineCount,
		&st.LastPrefixHash, &syncedAt, &st.ConsecutiveFailures)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read sync state for %s: %w", path, err)
	}

	if err := json.Unmarshal([]byte(headerJSON), &st.LastHeader); err != nil {
		return nil, fmt.Errorf("decode stored header for %s: %w", path, err)
	}
	st.TableCreated = created != 0
	if syncedAt > 0 {
		st.LastSyncAt = time.Unix(syncedAt, 0).UTC()
	}
	return &st, nil
}

// Commit upserts the state after a successful sync, stamping last_sync_at
// and resetting the failure streak.
func (r *Registry) Commit(st *SyncState) error {
	headerJSON, err := json.Marshal(st.LastHeader)
	if err != nil {
		return fmt.Errorf("encode header: %w", err)
	}

	st.LastSyncAt = time.Now().UTC()
	st.ConsecutiveFailures = 0

	_, err = r.db.Exec(`
		INSERT INTO sync_state
			(file_path, last_header, table_created, last_line_count,
			 last_prefix_hash, last_sync_at, consecutive_failures)
		VALUES (?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT(file_path) DO UPDATE SET
			last_header          = excluded.last_header,
			table_created        = excluded.table_created,
			last_line_count      = excluded.last_line_count,
			last_prefix_hash     = excluded.last_prefix_hash,
			last_sync_at         = excluded.last_sync_at,
			consecutive_failures = 0`,
		st.FilePath, string(headerJSON), boolToInt(st.TableCreated),
		st.LastLineCount, st.LastPrefixHash, st.LastSyncAt.Unix())
	if err != nil {
		return fmt.Errorf("commit sync state for %s: %w", st.FilePath, err)
	}
	return nil
}

// RecordFailure bumps the mapping's failure streak without touching the
// last-good state.
func (r *Registry) RecordFailure(path string) error {
	_, err := r.db.Exec(`
		INSERT INTO sync_state (file_path, consecutive_failures)
		VALUES (?, 1)
		ON CONFLICT(file_path) DO UPDATE SET
			consecutive_failures = consecutive_failures + 1`, path)
	if err != nil {
		return fmt.Errorf("record failure for %s: %w", path, err)
	}
	return nil
}

// Delete removes the state for a mapping. Called when the mapping itself is
// deleted from the configuration.
func (r *Registry) Delete(path string) error {
	if _, err := r.db.Exec(`DELETE FROM sync_state WHERE file_path = ?`, path); err != nil {
		return fmt.Errorf("delete sync state for %s: %w", path, err)
	}
	return nil
}

// All returns every persisted state, for the status command.
func (r *Registry) All() ([]*SyncState, error) {
	rows, err := r.db.Query(`
		SELECT file_path, last_header, table_created, last_line_count,
		       last_prefix_hash, last_sync_at, consecutive_failures
		FROM sync_state ORDER BY file_path`)
	if err != nil {
		return nil, fmt.Errorf("list sync state: %w", err)
	}
	defer rows.Close()

	var states []*SyncState
	for rows.Next() {
		var (
			headerJSON string
			created    int
			syncedAt   int64
			st         SyncState
		)
		if err := rows.Scan(&st.FilePath, &headerJSON, &created, &st.LastLineCount,
			&st.LastPrefixHash, &syncedAt, &st.ConsecutiveFailures); err != nil {
			return nil, fmt.Errorf("scan sync state: %w", err)
		}
		if err := json.Unmarshal([]byte(headerJSON), &st.LastHeader); err != nil {
			return nil, fmt.Errorf("decode stored header for %s: %w", st.FilePath, err)
		}
		st.TableCreated = created != 0
		if syncedAt > 0 {
			st.LastSyncAt = time.Unix(syncedAt, 0).UTC()
		}
		states = append(states, &st)
	}
	return states, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
