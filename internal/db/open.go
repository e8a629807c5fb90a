package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DefaultPath is used when Config.Path is empty. Relative to the working
// directory of the process.
const DefaultPath = "./lidmon.db"

// ErrIsDirectory is returned when the configured database path names a directory.
var ErrIsDirectory = errors.New("database path is a directory")

type Config struct {
	Path string // e.g. "./lidmon.db"
}

// OpenError reports that the database file could not be opened or created.
// Anything that fails after a successful Open is a query/exec failure instead.
type OpenError struct {
	Path string
	Err  error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("open %s: %v", e.Path, e.Err)
}

func (e *OpenError) Unwrap() error { return e.Err }

// DSN builds the modernc.org/sqlite DSN with per-connection PRAGMAs:
//   - foreign_keys ON
//   - WAL so external readers never block the writer
//   - synchronous NORMAL for performance with good safety
//   - busy_timeout to ride out a reader holding the lock
func DSN(path string) string {
	return fmt.Sprintf(
		"file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)",
		path,
	)
}

// Open opens the database file at cfg.Path, creating it (and its parent
// directory) if needed. It does not apply migrations; see Migrate.
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}

	if fi, err := os.Stat(cfg.Path); err == nil && fi.IsDir() {
		return nil, &OpenError{Path: cfg.Path, Err: ErrIsDirectory}
	}

	// Ensure DB parent directory exists.
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, &OpenError{Path: cfg.Path, Err: fmt.Errorf("mkdir db dir: %w", err)}
	}

	db, err := sql.Open("sqlite", DSN(cfg.Path))
	if err != nil {
		return nil, &OpenError{Path: cfg.Path, Err: fmt.Errorf("sql.Open: %w", err)}
	}

	// Single connection: one writer per process.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// Validate connection early. This is where an unwritable path shows up.
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, &OpenError{Path: cfg.Path, Err: fmt.Errorf("db ping: %w", err)}
	}

	return db, nil
}

// OpenMigrated opens the database and applies pending migrations.
func OpenMigrated(ctx context.Context, cfg Config) (*sql.DB, error) {
	db, err := Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Opener returns a function that opens cfg on every call. Used by Worker so
// that no connection is held between writes.
func Opener(cfg Config) func(ctx context.Context) (*sql.DB, error) {
	return func(ctx context.Context) (*sql.DB, error) {
		return Open(ctx, cfg)
	}
}
