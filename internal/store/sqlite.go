// Package store persists price history in SQLite or Redis.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver

	"github.com/soyeahso/koko/internal/logging"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// DB is an open price database. The schema version lives in SQLite's
// user_version pragma.
type DB struct {
	sql  *sql.DB
	path string
	log  *logging.Logger
}

// Open opens or creates the price database at path and brings its schema
// up to date.
func Open(path string, log *logging.Logger) (*DB, error) {
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	// Every connection to ":memory:" is a separate database, and SQLite
	// allows a single writer anyway.
	sqlDB.SetMaxOpenConns(1)

	for _, pragma := range []string{"journal_mode=WAL", "busy_timeout=5000"} {
		if _, err := sqlDB.Exec("PRAGMA " + pragma); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("PRAGMA %s: %w", pragma, err)
		}
	}

	db := &DB{sql: sqlDB, path: path, log: log.Sub("store")}
	from, to, err := db.upgrade(context.Background())
	if err != nil {
		sqlDB.Close()
		return nil, err
	}
	db.log.Info().Str("path", path).Int("schema", to).Int("from", from).Msg("price database opened")
	return db, nil
}

// Close closes the database.
func (db *DB) Close() error {
	db.log.Debug().Str("path", db.path).Msg("closing price database")
	return db.sql.Close()
}

// SchemaVersion reports the applied schema version.
func (db *DB) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	if err := db.sql.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return v, nil
}

// upgrade applies every migration newer than the stored version, each in
// its own transaction together with the version bump.
func (db *DB) upgrade(ctx context.Context) (from, to int, err error) {
	from, err = db.SchemaVersion(ctx)
	if err != nil {
		return 0, 0, err
	}
	to = from
	for _, m := range migrations {
		if m.Version <= to {
			continue
		}
		db.log.Info().Int("version", m.Version).Str("name", m.Name).Msg("applying migration")
		if err := db.apply(ctx, m); err != nil {
			return from, to, err
		}
		to = m.Version
	}
	return from, to, nil
}

func (db *DB) apply(ctx context.Context, m migration) error {
	tx, err := db.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %d: %w", m.Version, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return fmt.Errorf("migration %d (%s): %w", m.Version, m.Name, err)
	}
	// PRAGMA does not take bind parameters.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", m.Version)); err != nil {
		return fmt.Errorf("recording migration %d: %w", m.Version, err)
	}
	return tx.Commit()
}
