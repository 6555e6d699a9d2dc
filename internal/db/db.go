package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite handle and exposes the read-only store surface.
type DB struct {
	sqlDB *sql.DB
	Store
}

func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite pragmas for performance and correctness
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := sqlDB.Exec(p); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("exec pragma %q: %w", p, err)
		}
	}

	db := &DB{sqlDB: sqlDB, Store: Store{q: sqlDB}}
	if err := db.migrate(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

func (d *DB) Close() error { return d.sqlDB.Close() }

func (d *DB) Ping() error { return d.sqlDB.Ping() }

// Tx is one transactional unit of work. Mutations performed through its
// Store are committed or rolled back atomically; hooks registered with
// AfterCommit run only once the transaction has durably committed.
type Tx struct {
	Store
	afterCommit []func()
}

// AfterCommit defers fn until after a successful commit. Hooks must handle
// their own failures: they run outside the data path.
func (t *Tx) AfterCommit(fn func()) {
	t.afterCommit = append(t.afterCommit, fn)
}

// InTx runs fn inside its own transaction. On success the after-commit
// hooks registered by fn are invoked, in order, after the commit returned.
func (d *DB) InTx(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := d.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	t := &Tx{Store: Store{q: sqlTx}}
	committed := false
	defer func() {
		// Roll back on error and on panic; panics propagate to the
		// caller's recovery boundary.
		if !committed {
			_ = sqlTx.Rollback()
		}
	}()

	if err := fn(t); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true

	for _, hook := range t.afterCommit {
		hook()
	}
	return nil
}

// querier is the intersection of *sql.DB and *sql.Tx used by the store.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store holds the entity persistence methods, usable both directly on the
// DB (reads) and inside a Tx (reconciliation writes).
type Store struct {
	q querier
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

func parseOptionalTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	return &t
}

func boolToInt64(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
