package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLite stores entries in a single table. The autoincrement seq column keeps
// insertion order across restarts; upserts leave it untouched.
type SQLite struct {
	db    *sql.DB
	quota int64

	watchers quotaWatchers
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(ctx context.Context, path string, quota int64) (*SQLite, error) {
	if path == "" {
		return nil, errors.New("sqlite store path not configured")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	// One connection keeps writes serialized and makes ":memory:" usable.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite ping: %w", err)
	}
	const schema = `CREATE TABLE IF NOT EXISTS engines (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		key TEXT NOT NULL UNIQUE,
		value BLOB NOT NULL
	)`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite create tables: %w", err)
	}
	return &SQLite{db: db, quota: quota}, nil
}

func (s *SQLite) Get(ctx context.Context, key string) ([]byte, error) {
	var v []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM engines WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite get: %w", err)
	}
	return v, nil
}

// Put upserts key and measures usage in one transaction, so a failed Put
// leaves the table as it was.
func (s *SQLite) Put(ctx context.Context, key string, value []byte) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite put: %w", err)
	}
	defer tx.Rollback()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO engines (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("sqlite put: %w", err)
	}
	u, err := s.usage(ctx, tx)
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite put: %w", err)
	}
	if u > 1 {
		s.watchers.notify()
	}
	return nil
}

func (s *SQLite) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM engines WHERE key = ?`, key); err != nil {
		return fmt.Errorf("sqlite delete: %w", err)
	}
	return nil
}

func (s *SQLite) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM engines ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("sqlite keys: %w", err)
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *SQLite) Usage(ctx context.Context) (float64, error) {
	return s.usage(ctx, s.db)
}

var usageQuery = `SELECT COALESCE(SUM(length(CAST(key AS BLOB)) + length(value)), 0) FROM engines`

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLite) usage(ctx context.Context, q queryRower) (float64, error) {
	if s.quota <= 0 {
		return 0, nil
	}
	var n int64
	if err := q.QueryRowContext(ctx, usageQuery).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite usage: %w", err)
	}
	return usage(n, s.quota), nil
}

func (s *SQLite) OnOverQuota(fn func()) func() { return s.watchers.add(fn) }

// Close closes the underlying database.
func (s *SQLite) Close() error { return s.db.Close() }
