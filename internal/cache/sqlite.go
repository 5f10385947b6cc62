package cache

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // database/sql driver
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS entries (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	created_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_entries_expires_at ON entries (expires_at);
`

// SQLiteCache is a persistent cache tier backed by a single SQLite database
// file. Like FileCache it traffics in serialized bytes: non-[]byte values
// are JSON-encoded on write and hits come back as []byte.
type SQLiteCache struct {
	db         *sql.DB
	defaultTTL time.Duration
	now        func() time.Time
}

// NewSQLiteCache opens (creating if needed) the cache database at path. An
// unusable path is a configuration error reported immediately.
func NewSQLiteCache(path string, defaultTTL time.Duration) (*SQLiteCache, error) {
	if defaultTTL <= 0 {
		defaultTTL = DefaultMaxAge
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init cache schema: %w", err)
	}

	return &SQLiteCache{
		db:         db,
		defaultTTL: defaultTTL,
		now:        time.Now,
	}, nil
}

// Get retrieves the serialized value for key. Expired rows are deleted on
// detection and reported as misses; query failures are plain misses.
func (s *SQLiteCache) Get(ctx context.Context, key string) (any, bool) {
	var value []byte
	var expiresAt int64
	row := s.db.QueryRowContext(ctx, `SELECT value, expires_at FROM entries WHERE key = ?`, key)
	if err := row.Scan(&value, &expiresAt); err != nil {
		return nil, false
	}

	if s.now().Unix() > expiresAt {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM entries WHERE key = ?`, key)
		return nil, false
	}
	return value, true
}

// Set stores a value with the given TTL, overwriting any previous entry.
// Write failures are swallowed.
func (s *SQLiteCache) Set(ctx context.Context, key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	data, err := encodeValue(value)
	if err != nil {
		return
	}

	now := s.now()
	_, _ = s.db.ExecContext(ctx, `
		INSERT INTO entries (key, value, created_at, expires_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, created_at = excluded.created_at, expires_at = excluded.expires_at`,
		key, data, now.Unix(), now.Add(ttl).Unix())
}

// Delete removes a value from the cache.
func (s *SQLiteCache) Delete(ctx context.Context, key string) {
	_, _ = s.db.ExecContext(ctx, `DELETE FROM entries WHERE key = ?`, key)
}

// Clear removes all entries.
func (s *SQLiteCache) Clear(ctx context.Context) {
	_, _ = s.db.ExecContext(ctx, `DELETE FROM entries`)
}

// Cleanup removes expired rows and returns how many were deleted.
func (s *SQLiteCache) Cleanup(ctx context.Context) int {
	res, err := s.db.ExecContext(ctx, `DELETE FROM entries WHERE expires_at < ?`, s.now().Unix())
	if err != nil {
		return 0
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return int(n)
}

// Close releases the underlying database handle.
func (s *SQLiteCache) Close() error {
	return s.db.Close()
}

var _ Cache = (*SQLiteCache)(nil)
