package store

import (
	"database/sql"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// newMigrator builds a migrator over the embedded migration files for the
// database at path. Callers own closing the returned db.
func newMigrator(path string) (*migrate.Migrate, *sql.DB, error) {
	db, err := sql.Open("sqlite", "file:"+path)
	if err != nil {
		return nil, nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("store: load migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("store: migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("store: create migrator: %w", err)
	}
	return m, db, nil
}

// MigrateUp applies all pending migrations to the database at path.
func MigrateUp(path string) error {
	m, db, err := newMigrator(path)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("store: migrate up: %w", err)
	}
	return nil
}

// MigrateDown rolls back the most recent migration.
func MigrateDown(path string) error {
	m, db, err := newMigrator(path)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := m.Steps(-1); err != nil {
		return fmt.Errorf("store: migrate down: %w", err)
	}
	return nil
}

// MigrateVersion reports the current schema version and dirty flag.
func MigrateVersion(path string) (uint, bool, error) {
	m, db, err := newMigrator(path)
	if err != nil {
		return 0, false, err
	}
	defer db.Close()
	v, dirty, err := m.Version()
	if err == migrate.ErrNilVersion {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("store: migration version: %w", err)
	}
	return v, dirty, nil
}
