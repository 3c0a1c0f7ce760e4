// Package sqlite persists cache entries in a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

const schema = `CREATE TABLE IF NOT EXISTS responses (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	expires_at INTEGER NOT NULL
)`

// Store is a SQLite-backed cache store.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Path returns the database file used for a cache name.
func Path(name string) string {
	if strings.HasSuffix(name, ".sqlite") {
		return name
	}
	return name + ".sqlite"
}

// Open opens (creating if needed) the cache database for name and prunes
// expired rows.
func Open(ctx context.Context, name string) (*Store, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("sqlite cache name is required")
	}
	db, err := sql.Open("sqlite", Path(name))
	if err != nil {
		return nil, fmt.Errorf("open sqlite cache: %w", err)
	}
	s, err := newStore(ctx, db, time.Now)
	if err != nil {
		if cerr := db.Close(); cerr != nil {
			return nil, errors.Join(err, fmt.Errorf("close sqlite cache: %w", cerr))
		}
		return nil, err
	}
	return s, nil
}

func newStore(ctx context.Context, db *sql.DB, now func() time.Time) (*Store, error) {
	// Concurrent writers on separate connections fail with SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("create sqlite cache schema: %w", err)
	}
	s := &Store{db: db, now: now}
	if _, err := s.DeleteExpired(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Get returns the value for key unless it has expired.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM responses WHERE key = ? AND expires_at > ?`,
		key, s.now().UnixNano(),
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("select cache entry: %w", err)
	}
	return value, true, nil
}

// Put upserts value under key.
func (s *Store) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("sqlite cache ttl must be > 0, got %s", ttl)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO responses (key, value, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, s.now().Add(ttl).UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("upsert cache entry: %w", err)
	}
	return nil
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM responses WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete cache entry: %w", err)
	}
	return nil
}

// DeleteExpired prunes stale rows and reports how many were removed.
func (s *Store) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM responses WHERE expires_at <= ?`, s.now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune expired cache entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count pruned cache entries: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite cache: %w", err)
	}
	return nil
}
