package store

import (
	"database/sql"
	"fmt"
	"time"
)

// SaveEmoji registers a sticker. Duplicate file names are ignored
// (INSERT OR IGNORE); returns true when a new row was inserted.
func (s *Store) SaveEmoji(e *Emoji) (bool, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	s.writeMu.Lock()
	res, err := s.stmts.saveEmoji.Exec(e.FileName, e.Description, e.Emotion, e.CreatedAt.UnixMilli())
	s.writeMu.Unlock()
	if err != nil {
		return false, fmt.Errorf("store: save emoji %s: %w", e.FileName, err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		e.ID, _ = res.LastInsertId()
	}
	return n > 0, nil
}

// GetEmojisByEmotion returns up to limit emojis with the given emotion,
// most used first.
func (s *Store) GetEmojisByEmotion(emotion string, limit int) ([]Emoji, error) {
	rows, err := s.db.Query(`SELECT id, file_name, description, emotion, usage_count, created_at
		FROM emojis WHERE emotion = ? ORDER BY usage_count DESC, id ASC LIMIT ?`, emotion, limit)
	if err != nil {
		return nil, fmt.Errorf("store: get emojis by emotion %s: %w", emotion, err)
	}
	return collectEmojis(rows)
}

// GetAllEmojis returns every registered emoji.
func (s *Store) GetAllEmojis() ([]Emoji, error) {
	rows, err := s.db.Query(`SELECT id, file_name, description, emotion, usage_count, created_at
		FROM emojis ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("store: get all emojis: %w", err)
	}
	return collectEmojis(rows)
}

// IncrementEmojiUsage bumps an emoji's usage counter.
func (s *Store) IncrementEmojiUsage(id int64) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.stmts.bumpEmoji.Exec(id); err != nil {
		return fmt.Errorf("store: increment emoji usage %d: %w", id, err)
	}
	return nil
}

func collectEmojis(rows *sql.Rows) ([]Emoji, error) {
	defer rows.Close()
	var out []Emoji
	for rows.Next() {
		var e Emoji
		var created int64
		if err := rows.Scan(&e.ID, &e.FileName, &e.Description, &e.Emotion, &e.UsageCount, &created); err != nil {
			return nil, fmt.Errorf("store: scan emoji: %w", err)
		}
		e.CreatedAt = time.UnixMilli(created)
		out = append(out, e)
	}
	return out, rows.Err()
}
