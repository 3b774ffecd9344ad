package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS registry (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	version    INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);`

// SQLiteOptions tunes the SQLite store.
type SQLiteOptions struct {
	// BusyTimeout in milliseconds. Default: 10000.
	BusyTimeout int
	// Synchronous pragma value. Default: NORMAL.
	Synchronous string
	Logger      *slog.Logger
}

func (o *SQLiteOptions) defaults() {
	if o.BusyTimeout <= 0 {
		o.BusyTimeout = 10_000
	}
	if o.Synchronous == "" {
		o.Synchronous = "NORMAL"
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// SQLite is a Store kept in a single SQLite table. Every write bumps a
// monotonically increasing version so other processes can notice changes.
type SQLite struct {
	db     *sql.DB
	logger *slog.Logger
	// wmu serializes this process's writers; transactions cover the others.
	wmu sync.Mutex
}

// OpenSQLite opens (creating if needed) the registry database at path.
// Use ":memory:" for a private in-memory store.
func OpenSQLite(path string, opts SQLiteOptions) (*SQLite, error) {
	opts.defaults()
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("registry: mkdir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("registry: open: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", opts.BusyTimeout),
		fmt.Sprintf("PRAGMA synchronous = %s", opts.Synchronous),
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("registry: %s: %w", p, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("registry: schema: %w", err)
	}
	return &SQLite{db: db, logger: opts.Logger}, nil
}

// DB exposes the underlying handle.
func (s *SQLite) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *SQLite) Close() error { return s.db.Close() }

// Get implements Store.
func (s *SQLite) Get(ctx context.Context, keys ...string) (Values, error) {
	out := make(Values, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	q := "SELECT key, value FROM registry WHERE key IN (" + placeholders(len(keys)) + ")"
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, &StorageError{Op: "get", Err: err}
	}
	defer rows.Close()
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, &StorageError{Op: "get", Err: err}
		}
		out[k] = []byte(v)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "get", Err: err}
	}
	return out, nil
}

// Set implements Store. All values are written in one transaction.
func (s *SQLite) Set(ctx context.Context, v Values) error {
	if len(v) == 0 {
		return nil
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	err := runTx(ctx, s.db, func(tx *sql.Tx) error { return writeTx(ctx, tx, v) })
	if err != nil {
		return &StorageError{Op: "set", Err: err}
	}
	s.logger.Debug("registry: set", "keys", len(v))
	return nil
}

// Update implements Updater: the read, fn and the write share one
// transaction, retried when the database is busy.
func (s *SQLite) Update(ctx context.Context, key string, fn func(old json.RawMessage) (json.RawMessage, error)) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	var fnErr error
	err := runTx(ctx, s.db, func(tx *sql.Tx) error {
		var old sql.NullString
		err := tx.QueryRowContext(ctx, "SELECT value FROM registry WHERE key = ?", key).Scan(&old)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		var cur json.RawMessage
		if old.Valid {
			cur = json.RawMessage(old.String)
		}
		raw, err := fn(cur)
		if err != nil {
			fnErr = err
			return err
		}
		return writeTx(ctx, tx, Values{key: raw})
	})
	if fnErr != nil {
		return fnErr
	}
	if err != nil {
		return &StorageError{Op: "set", Err: err}
	}
	s.logger.Debug("registry: update", "key", key)
	return nil
}

// Version is the highest write version stored, 0 for an empty registry.
func (s *SQLite) Version(ctx context.Context) (int64, error) {
	var v int64
	err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM registry").Scan(&v)
	return v, err
}

// writeTx stores v under a fresh version.
func writeTx(ctx context.Context, tx *sql.Tx, v Values) error {
	var version int64
	if err := tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) + 1 FROM registry").Scan(&version); err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	for k, raw := range v {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO registry (key, value, version, updated_at) VALUES (?, ?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, version = excluded.version, updated_at = excluded.updated_at`,
			k, string(raw), version, now)
		if err != nil {
			return err
		}
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

const maxRetries = 3

// isBusy reports whether err is an SQLite BUSY condition.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}

// runTx runs fn in a transaction, retrying on BUSY with 100/200/300ms
// backoff.
func runTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	var err error
	for i := range maxRetries {
		if err = txOnce(ctx, db, fn); err == nil || !isBusy(err) {
			return err
		}
		t := time.NewTimer(time.Duration(100*(i+1)) * time.Millisecond)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("registry: retry cancelled: %w", ctx.Err())
		case <-t.C:
		}
	}
	return err
}

func txOnce(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
