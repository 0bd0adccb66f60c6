// Package diagnostics persists an operational event log beside the
// in-memory fusion core: rover liveness transitions, malformed/duplicate/
// timeout counters, REMAP events, and dirty-export sizes. The fusion
// core itself is a pure in-memory pipeline (no persisted state); this
// store is a supplemental observability layer for operators.
package diagnostics

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite connection holding the diagnostics schema.
type Store struct {
	db *sql.DB
}

// Open creates or opens the diagnostics database at path, applying
// pending migrations automatically. path may be ":memory:" for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open diagnostics db: %w", err)
	}

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, err
	}

	store := &Store{db: db}
	if err := store.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// applyPragmas sets the WAL/NORMAL/temp-store/busy-timeout pragmas the teacher applies
// to every sqlite handle regardless of how it was opened.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}
	return nil
}

func (s *Store) migrationsSource() (fs.FS, error) {
	return fs.Sub(migrationsFS, "migrations")
}

func (s *Store) migrateUp() error {
	sub, err := s.migrationsSource()
	if err != nil {
		return fmt.Errorf("sub migrations fs: %w", err)
	}
	sourceDriver, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create iofs source driver: %w", err)
	}
	dbDriver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("create sqlite migrate driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	// The sqlite migrate driver's Close() would close the underlying
	// *sql.DB, which Store manages separately, so m is never closed here.
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying *sql.DB for admin routes (tailsql) and
// ad-hoc queries.
func (s *Store) DB() *sql.DB { return s.db }
