package store

import (
	"fmt"
	"strings"
	"time"
)

// SaveTopic inserts a new topic and returns its ID.
func (s *Store) SaveTopic(t *Topic) error {
	now := time.Now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = now
	}
	s.writeMu.Lock()
	res, err := s.stmts.saveTopic.Exec(t.SessionID, t.Title, t.Keywords, t.Summary,
		t.MessageCount, t.CreatedAt.UnixMilli(), t.UpdatedAt.UnixMilli())
	s.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("store: save topic: %w", err)
	}
	t.ID, _ = res.LastInsertId()
	return nil
}

// GetTopics returns up to limit topics of a session, most recently
// updated first.
func (s *Store) GetTopics(sessionID string, limit int) ([]Topic, error) {
	rows, err := s.db.Query(`SELECT id, session_id, title, keywords, summary, message_count, created_at, updated_at
		FROM topics WHERE session_id = ? ORDER BY updated_at DESC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: get topics %s: %w", sessionID, err)
	}
	defer rows.Close()

	var out []Topic
	for rows.Next() {
		var t Topic
		var created, updated int64
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Title, &t.Keywords, &t.Summary,
			&t.MessageCount, &created, &updated); err != nil {
			return nil, fmt.Errorf("store: scan topic: %w", err)
		}
		t.CreatedAt = time.UnixMilli(created)
		t.UpdatedAt = time.UnixMilli(updated)
		out = append(out, t)
	}
	return out, rows.Err()
}

// TopicPatch is a field-level merge for UpdateTopic; nil fields are left
// untouched.
type TopicPatch struct {
	Summary         *string
	Keywords        *string
	AddMessageCount int
}

// UpdateTopic applies a patch and refreshes updated_at.
func (s *Store) UpdateTopic(id int64, patch TopicPatch) error {
	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UnixMilli()}
	if patch.Summary != nil {
		sets = append(sets, "summary = ?")
		args = append(args, *patch.Summary)
	}
	if patch.Keywords != nil {
		sets = append(sets, "keywords = ?")
		args = append(args, *patch.Keywords)
	}
	if patch.AddMessageCount != 0 {
		sets = append(sets, "message_count = message_count + ?")
		args = append(args, patch.AddMessageCount)
	}
	args = append(args, id)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.db.Exec("UPDATE topics SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("store: update topic %d: %w", id, err)
	}
	return nil
}

// PruneTopics keeps only the keep most recently updated topics of a
// session.
func (s *Store) PruneTopics(sessionID string, keep int) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.db.Exec(`DELETE FROM topics WHERE session_id = ? AND id NOT IN (
		SELECT id FROM topics WHERE session_id = ? ORDER BY updated_at DESC LIMIT ?
	)`, sessionID, sessionID, keep)
	if err != nil {
		return fmt.Errorf("store: prune topics %s: %w", sessionID, err)
	}
	return nil
}
