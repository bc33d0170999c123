package tier

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/tursodatabase/go-libsql" // registers the "libsql" driver
)

// SQLite is an embedded SQL-backed persistent tier (libSQL). Entries live
// in a single table with an index on last_access_at, which serves as the
// secondary index for eviction scans.
type SQLite struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS render_cache (
	key            TEXT PRIMARY KEY,
	value          BLOB NOT NULL,
	entry_type     TEXT NOT NULL,
	size_bytes     INTEGER NOT NULL,
	created_at     INTEGER NOT NULL,
	last_access_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_render_cache_access
	ON render_cache (last_access_at, key);
`

// NewSQLite opens (and if necessary bootstraps) an embedded libSQL
// database at path.
func NewSQLite(path string) (*SQLite, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL", path)
	db, err := sql.Open("libsql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open libsql at %s: %w", path, err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("bootstrap cache schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Get retrieves an entry by key.
func (s *SQLite) Get(ctx context.Context, key string) (*Entry, bool, error) {
	e := &Entry{Key: key}
	err := s.db.QueryRowContext(ctx,
		`SELECT value, entry_type, size_bytes, created_at, last_access_at
		 FROM render_cache WHERE key = ?`, key,
	).Scan(&e.Value, &e.EntryType, &e.SizeBytes, &e.CreatedAt, &e.LastAccessAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return e, true, nil
}

// Put upserts an entry in a single statement, so a failed write never
// leaves a partial row. The conflict clause deliberately leaves
// created_at alone: replacing a key keeps its original creation time.
func (s *SQLite) Put(ctx context.Context, e *Entry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO render_cache (key, value, entry_type, size_bytes, created_at, last_access_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			entry_type = excluded.entry_type,
			size_bytes = excluded.size_bytes,
			last_access_at = excluded.last_access_at`,
		e.Key, e.Value, e.EntryType, e.SizeBytes, e.CreatedAt, e.LastAccessAt)
	return err
}

// Delete removes an entry. Absent keys are a no-op.
func (s *SQLite) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM render_cache WHERE key = ?`, key)
	return err
}

// Clear removes all entries.
func (s *SQLite) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM render_cache`)
	return err
}

// Count returns the number of stored entries.
func (s *SQLite) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM render_cache`).Scan(&n)
	return n, err
}

// SizeEstimate returns the sum of entry size estimates.
func (s *SQLite) SizeEstimate(ctx context.Context) (int64, error) {
	var n sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT SUM(size_bytes) FROM render_cache`).Scan(&n)
	return n.Int64, err
}

// OldestFirst returns up to n keys ordered by ascending last-access time,
// ties broken by key.
func (s *SQLite) OldestFirst(ctx context.Context, n int64) ([]KeyStamp, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, last_access_at FROM render_cache
		 ORDER BY last_access_at ASC, key ASC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stamps []KeyStamp
	for rows.Next() {
		var ks KeyStamp
		if err := rows.Scan(&ks.Key, &ks.LastAccessAt); err != nil {
			return nil, err
		}
		stamps = append(stamps, ks)
	}
	return stamps, rows.Err()
}

// Recent returns metadata for up to n entries, most recently accessed
// first.
func (s *SQLite) Recent(ctx context.Context, n int64) ([]EntryInfo, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, entry_type, size_bytes, last_access_at FROM render_cache
		 ORDER BY last_access_at DESC, key DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var infos []EntryInfo
	for rows.Next() {
		var info EntryInfo
		if err := rows.Scan(&info.Key, &info.EntryType, &info.SizeBytes, &info.LastAccessAt); err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

// Touch refreshes the last-access time of key without rewriting the
// value. Absent keys are a no-op.
func (s *SQLite) Touch(ctx context.Context, key string, at int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE render_cache SET last_access_at = ? WHERE key = ?`, at, key)
	return err
}

// Close closes the underlying database handle.
func (s *SQLite) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLite)(nil)
