// Package store is the sqlite persistence layer: sessions, messages,
// topics, learned expressions, and registered emojis. One database file,
// WAL mode, prepared statements for every write. Reads run concurrently;
// writes are serialized because sqlite has a single writer anyway.
package store

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store owns the database handle and all prepared statements.
type Store struct {
	db *sql.DB

	// sqlite allows one writer at a time; serializing here avoids
	// SQLITE_BUSY churn under concurrent sessions.
	writeMu sync.Mutex

	stmts struct {
		saveMessage    *sql.Stmt
		insertSession  *sql.Stmt
		touchSession   *sql.Stmt
		saveTopic      *sql.Stmt
		saveExpression *sql.Stmt
		saveEmoji      *sql.Stmt
		bumpEmoji      *sql.Stmt
	}
}

// Open opens (creating if needed) the database at path and applies
// pending migrations.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(4)

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db}
	if err := s.prepare(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func runMigrations(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("store: load migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("store: migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("store: create migrator: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("store: migrate up: %w", err)
	}
	return nil
}

func (s *Store) prepare() error {
	var err error
	prep := func(dst **sql.Stmt, q string) {
		if err != nil {
			return
		}
		*dst, err = s.db.Prepare(q)
	}

	prep(&s.stmts.saveMessage, `INSERT INTO messages
		(session_id, role, content, user_id, user_name, user_role, user_title, group_id, group_name, timestamp, message_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	prep(&s.stmts.insertSession, `INSERT INTO sessions (id, type, target_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`)
	prep(&s.stmts.touchSession, `UPDATE sessions SET updated_at = ? WHERE id = ?`)
	prep(&s.stmts.saveTopic, `INSERT INTO topics (session_id, title, keywords, summary, message_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	prep(&s.stmts.saveExpression, `INSERT INTO expressions (session_id, user_id, user_name, situation, style, example, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	prep(&s.stmts.saveEmoji, `INSERT OR IGNORE INTO emojis (file_name, description, emotion, usage_count, created_at)
		VALUES (?, ?, ?, 0, ?)`)
	prep(&s.stmts.bumpEmoji, `UPDATE emojis SET usage_count = usage_count + 1 WHERE id = ?`)

	if err != nil {
		return fmt.Errorf("store: prepare statements: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
