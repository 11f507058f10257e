// Package sqlite implements repository.Store on an embedded SQLite file.
//
// modernc.org/sqlite is a pure Go translation of SQLite, so the binary
// builds without a C compiler and cross-compiles like any other Go program.
//
// LAYOUT:
//   - users           one row per account
//   - user_tokens     active session tokens, one row each
//   - hacks           one row per hack, with denormalized likes/dislikes
//   - hack_reactions  one row per (hack, user) that has liked or disliked
//
// A hack's likedBy/dislikedBy lists are read back from hack_reactions. The
// counters on hacks are only ever changed in the same transaction as the
// reaction rows, so they stay equal to the list lengths.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"modernc.org/sqlite"

	"github.com/sakif/ecohacks/internal/repository"
)

// compile-time check that *DB is a complete store
var _ repository.Store = (*DB)(nil)

// querier is the part of *sql.DB and *sql.Tx the repository methods use.
// Every method goes through db.q, so the same code runs inside and outside
// a transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DB is a SQLite-backed store. The zero value is not usable; call New.
type DB struct {
	conn *sql.DB
	q    querier
	tx   *sql.Tx // non-nil inside WithTx
}

// New opens (creating if needed) the database at dbPath and runs migrations.
//
// dbPath examples:
//   - "data/ecohacks.db"  file-backed, persistent
//   - ":memory:"          in-memory, used by tests
//
// CONNECTION PARAMETERS (applied by the driver to every new connection):
//   - foreign_keys(1)   SQLite ships with FK enforcement off
//   - busy_timeout      wait for a competing writer instead of failing
//   - _txlock=immediate BEGIN IMMEDIATE: a transaction takes the write lock
//     up front, so two read-then-write transactions cannot interleave
func New(dbPath string) (*DB, error) {
	memory := dbPath == ":memory:"
	if !memory {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: creating data directory: %w", err)
		}
	}

	dsn := dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_txlock=immediate"
	if !memory {
		dsn += "&_pragma=journal_mode(WAL)"
	}

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// Every connection to ":memory:" is its own empty database, so the pool
	// must never hold more than one.
	if memory {
		conn.SetMaxOpenConns(1)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	db := &DB{conn: conn, q: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Close closes the connection pool. Calling it on a transaction-scoped DB
// is a no-op.
func (db *DB) Close() error {
	if db.tx != nil {
		return nil
	}
	return db.conn.Close()
}

// Ping checks the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// WithTx runs fn in a transaction and commits when fn returns nil.
//
// A DB that is already inside a transaction passes itself to fn, so
// repository methods that need atomicity can call WithTx without caring
// whether the service already opened one.
func (db *DB) WithTx(ctx context.Context, fn func(ctx context.Context, tx repository.Store) error) error {
	if db.tx != nil {
		return fn(ctx, db)
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: beginning transaction: %w", err)
	}

	if err := fn(ctx, &DB{conn: db.conn, q: tx, tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("sqlite: rolling back: %w", rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: committing transaction: %w", err)
	}
	return nil
}

// migrate creates the schema. CREATE ... IF NOT EXISTS makes it safe to run
// on every start.
func (db *DB) migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id             TEXT PRIMARY KEY,
			username       TEXT NOT NULL,
			email          TEXT NOT NULL UNIQUE COLLATE NOCASE,
			password       TEXT NOT NULL DEFAULT '',
			google_id      TEXT UNIQUE,
			otp_code       TEXT NOT NULL DEFAULT '',
			otp_expires_at DATETIME,
			eco_points     INTEGER NOT NULL DEFAULT 0,
			created_at     DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS user_tokens (
			token      TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			issued_at  DATETIME NOT NULL,
			expires_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_user_tokens_user_id ON user_tokens(user_id);
	`)
	if err != nil {
		return fmt.Errorf("creating users tables: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS hacks (
			id            TEXT PRIMARY KEY,
			title         TEXT NOT NULL,
			image         TEXT NOT NULL,
			description   TEXT NOT NULL,
			steps         TEXT NOT NULL DEFAULT '[]',
			likes         INTEGER NOT NULL DEFAULT 0 CHECK (likes >= 0),
			dislikes      INTEGER NOT NULL DEFAULT 0 CHECK (dislikes >= 0),
			trending      INTEGER NOT NULL DEFAULT 0,
			tutorial_link TEXT NOT NULL DEFAULT '',
			user_id       TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			posted_on     DATETIME NOT NULL,
			slug          TEXT NOT NULL,
			UNIQUE (slug, user_id)
		);
		CREATE INDEX IF NOT EXISTS idx_hacks_slug ON hacks(slug);
		CREATE INDEX IF NOT EXISTS idx_hacks_trending_posted ON hacks(trending, posted_on);

		CREATE TABLE IF NOT EXISTS hack_reactions (
			hack_id    TEXT NOT NULL REFERENCES hacks(id) ON DELETE CASCADE,
			user_id    TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			kind       TEXT NOT NULL CHECK (kind IN ('like', 'dislike')),
			reacted_at DATETIME NOT NULL,
			PRIMARY KEY (hack_id, user_id)
		);
		CREATE INDEX IF NOT EXISTS idx_hack_reactions_user_id ON hack_reactions(user_id);
	`)
	if err != nil {
		return fmt.Errorf("creating hacks tables: %w", err)
	}

	return nil
}

// Extended result codes for the two ways a unique index can be violated.
const (
	sqliteConstraintPrimaryKey = 1555
	sqliteConstraintUnique     = 2067
)

// isUniqueViolation reports whether err came from a UNIQUE or PRIMARY KEY
// constraint.
func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqliteConstraintUnique, sqliteConstraintPrimaryKey:
			return true
		}
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
