// Package ledger persists the refinement log, pattern aggregates, canonical
// edits and promotion history in a SQLite database shared by every skref
// process of a user.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"skref/internal/errors"
)

// DB represents the ledger database with transaction helpers
type DB struct {
	conn        *sql.DB
	logger      *slog.Logger
	dbPath      string
	busyTimeout time.Duration
}

// Querier is satisfied by *sql.Tx and *sql.Conn.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Open opens or creates the ledger at path. busyTimeout bounds how long a
// writer waits for another process's write transaction.
func Open(path string, busyTimeout time.Duration, logger *slog.Logger) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.NewSkrefError(errors.StorageError, "failed to create ledger directory", err)
	}
	if busyTimeout <= 0 {
		busyTimeout = 5 * time.Second
	}

	dbExists := fileExists(path)

	// Pragmas go in the DSN so that every pooled connection gets them.
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(%d)",
		filepath.ToSlash(path), busyTimeout.Milliseconds())
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.NewSkrefError(errors.StorageError, "failed to open ledger", err)
	}

	db := &DB{
		conn:        conn,
		logger:      logger,
		dbPath:      path,
		busyTimeout: busyTimeout,
	}

	if !dbExists {
		logger.Info("Creating new ledger", "path", path)
	} else {
		logger.Debug("Opening ledger", "path", path)
	}
	if err := db.migrate(context.Background()); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.dbPath
}

// View runs fn in a deferred transaction that is always rolled back, so fn
// sees one consistent snapshot and can never persist anything.
func (db *DB) View(ctx context.Context, fn func(tx *Txn) error) error {
	sqlTx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return db.classify("begin read transaction", err)
	}
	defer func() { _ = sqlTx.Rollback() }()
	return fn(&Txn{ctx: ctx, q: sqlTx})
}

// Update runs fn in an exclusive write transaction. The write lock is taken
// up front (BEGIN IMMEDIATE), so a read-modify-write inside fn can never
// interleave with another writer. Waiting longer than the busy timeout fails
// with LOCK_TIMEOUT. fn's error rolls everything back.
func (db *DB) Update(ctx context.Context, fn func(tx *Txn) error) error {
	conn, err := db.conn.Conn(ctx)
	if err != nil {
		return db.classify("acquire connection", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return db.classify("begin write transaction", err)
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		// Rollback must run even when ctx is already cancelled.
		if _, rbErr := conn.ExecContext(context.Background(), "ROLLBACK"); rbErr != nil {
			db.logger.Error("failed to rollback transaction", "error", rbErr.Error())
		}
		if p := recover(); p != nil {
			panic(p) // Re-throw panic after rollback
		}
	}()

	if err := fn(&Txn{ctx: ctx, q: conn}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return db.classify("commit", err)
	}
	committed = true
	return nil
}

// classify maps SQLite busy errors onto LOCK_TIMEOUT and the rest onto
// STORAGE_ERROR.
func (db *DB) classify(op string, err error) error {
	if err == context.Canceled || err == context.DeadlineExceeded {
		return err
	}
	if isBusy(err) {
		return errors.NewSkrefError(errors.LockTimeout,
			fmt.Sprintf("ledger %s: still locked after %s", op, db.busyTimeout), err)
	}
	return errors.NewSkrefError(errors.StorageError, "ledger "+op, err)
}

func isBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// fileExists checks if a file exists
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
