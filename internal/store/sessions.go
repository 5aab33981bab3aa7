package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// GetSession returns the session row, or (nil, nil) when absent.
func (s *Store) GetSession(id string) (*Session, error) {
	row := s.db.QueryRow(`SELECT id, type, target_id, created_at, updated_at, compressed_context
		FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return sess, err
}

// CreateSession inserts a new session row.
func (s *Store) CreateSession(id, typ string, targetID int64) (*Session, error) {
	now := time.Now()
	s.writeMu.Lock()
	_, err := s.stmts.insertSession.Exec(id, typ, targetID, now.UnixMilli(), now.UnixMilli())
	s.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("store: create session %s: %w", id, err)
	}
	return &Session{ID: id, Type: typ, TargetID: targetID, CreatedAt: now, UpdatedAt: now}, nil
}

// TouchSession refreshes updated_at.
func (s *Store) TouchSession(id string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.stmts.touchSession.Exec(time.Now().UnixMilli(), id); err != nil {
		return fmt.Errorf("store: touch session %s: %w", id, err)
	}
	return nil
}

// ResetSession deletes all messages of a session and clears its compressed
// context. The session row itself survives.
func (s *Store) ResetSession(id string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: reset session %s: %w", id, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM messages WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("store: reset session %s: delete messages: %w", id, err)
	}
	if _, err := tx.Exec(`UPDATE sessions SET compressed_context = NULL, updated_at = ? WHERE id = ?`,
		time.Now().UnixMilli(), id); err != nil {
		return fmt.Errorf("store: reset session %s: clear context: %w", id, err)
	}
	return tx.Commit()
}

// SetCompressedContext stores the summarized history blob.
func (s *Store) SetCompressedContext(id, context string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.db.Exec(`UPDATE sessions SET compressed_context = ?, updated_at = ? WHERE id = ?`,
		context, time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("store: set compressed context %s: %w", id, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(r rowScanner) (*Session, error) {
	var sess Session
	var created, updated int64
	var compressed sql.NullString
	if err := r.Scan(&sess.ID, &sess.Type, &sess.TargetID, &created, &updated, &compressed); err != nil {
		return nil, err
	}
	sess.CreatedAt = time.UnixMilli(created)
	sess.UpdatedAt = time.UnixMilli(updated)
	sess.CompressedContext = compressed.String
	return &sess, nil
}
