package store

import (
	"fmt"
	"time"
)

// SaveExpression inserts a learned speaking habit.
func (s *Store) SaveExpression(e *Expression) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	s.writeMu.Lock()
	res, err := s.stmts.saveExpression.Exec(e.SessionID, e.UserID, e.UserName,
		e.Situation, e.Style, e.Example, e.CreatedAt.UnixMilli())
	s.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("store: save expression: %w", err)
	}
	e.ID, _ = res.LastInsertId()
	return nil
}

// GetExpressions returns up to limit expressions, newest first.
func (s *Store) GetExpressions(sessionID string, limit int) ([]Expression, error) {
	rows, err := s.db.Query(`SELECT id, session_id, user_id, user_name, situation, style, example, created_at
		FROM expressions WHERE session_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: get expressions %s: %w", sessionID, err)
	}
	defer rows.Close()

	var out []Expression
	for rows.Next() {
		var e Expression
		var created int64
		if err := rows.Scan(&e.ID, &e.SessionID, &e.UserID, &e.UserName,
			&e.Situation, &e.Style, &e.Example, &created); err != nil {
			return nil, fmt.Errorf("store: scan expression: %w", err)
		}
		e.CreatedAt = time.UnixMilli(created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetExpressionCount returns the number of stored expressions for a session.
func (s *Store) GetExpressionCount(sessionID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM expressions WHERE session_id = ?`, sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count expressions %s: %w", sessionID, err)
	}
	return n, nil
}

// DeleteOldestExpressions keeps only the keepCount newest expressions of a
// session, deleting the oldest first.
func (s *Store) DeleteOldestExpressions(sessionID string, keepCount int) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.db.Exec(`DELETE FROM expressions WHERE session_id = ? AND id NOT IN (
		SELECT id FROM expressions WHERE session_id = ? ORDER BY created_at DESC, id DESC LIMIT ?
	)`, sessionID, sessionID, keepCount)
	if err != nil {
		return fmt.Errorf("store: delete oldest expressions %s: %w", sessionID, err)
	}
	return nil
}
