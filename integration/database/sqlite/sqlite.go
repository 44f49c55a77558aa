// Package sqlite opens single-writer SQLite databases backed by the pure-Go
// modernc driver and applies embedded golang-migrate migrations.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

// DefaultMigrationsTable is the golang-migrate bookkeeping table.
const DefaultMigrationsTable = "schema_migrations"

var (
	ErrEmptyPath         = errors.New("empty sqlite database path")
	ErrNilDB             = errors.New("nil sqlite database")
	ErrMigrationFailed   = errors.New("sqlite migration failed")
	ErrHealthcheckFailed = errors.New("sqlite healthcheck failed")
)

// Open opens the database at path and applies the connection pragmas.
// Use ":memory:" or a "file:" URI for ephemeral databases.
func Open(path string) (*sql.DB, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db %s: %w", path, err)
	}

	// Single writer: one connection keeps in-memory databases shared too.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("exec %q on %s: %w", p, path, err)
		}
	}
	return db, nil
}

// Migrate applies every pending migration found under dir in fsys.
func Migrate(db *sql.DB, fsys fs.FS, dir string) error {
	if db == nil {
		return ErrNilDB
	}

	sourceDriver, err := iofs.New(fsys, dir)
	if err != nil {
		return fmt.Errorf("%w: init source %s: %w", ErrMigrationFailed, dir, err)
	}
	dbDriver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{
		MigrationsTable: DefaultMigrationsTable,
	})
	if err != nil {
		return fmt.Errorf("%w: init db driver: %w", ErrMigrationFailed, err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", dbDriver)
	if err != nil {
		return fmt.Errorf("%w: init migrator: %w", ErrMigrationFailed, err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("%w: up: %w", ErrMigrationFailed, err)
	}
	return nil
}

// Healthcheck returns a readiness probe for the database.
func Healthcheck(db *sql.DB) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			return errors.Join(ErrHealthcheckFailed, err)
		}
		return nil
	}
}
