package store

import (
	"database/sql"
	"fmt"
	"time"
)

// SaveMessage appends a message. No dedup: the same logical group message
// is intentionally persisted under both the group and personal sessions.
func (s *Store) SaveMessage(m *Message) error {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	s.writeMu.Lock()
	res, err := s.stmts.saveMessage.Exec(
		m.SessionID, m.Role, m.Content,
		nullInt64(m.UserID), nullStr(m.UserName), nullStr(m.UserRole), nullStr(m.UserTitle),
		nullInt64(m.GroupID), nullStr(m.GroupName),
		m.Timestamp.UnixMilli(), nullInt64(int64(m.MessageID)),
	)
	s.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("store: save message: %w", err)
	}
	m.ID, _ = res.LastInsertId()
	return nil
}

// GetMessages returns the last limit messages of a session in ascending
// time order. When before is non-zero, only rows strictly older than it
// are considered.
func (s *Store) GetMessages(sessionID string, limit int, before time.Time) ([]Message, error) {
	var rows *sql.Rows
	var err error
	if before.IsZero() {
		rows, err = s.db.Query(`SELECT * FROM (
			SELECT id, session_id, role, content, user_id, user_name, user_role, user_title,
			       group_id, group_name, timestamp, message_id
			FROM messages WHERE session_id = ? ORDER BY timestamp DESC, id DESC LIMIT ?
		) ORDER BY timestamp ASC, id ASC`, sessionID, limit)
	} else {
		rows, err = s.db.Query(`SELECT * FROM (
			SELECT id, session_id, role, content, user_id, user_name, user_role, user_title,
			       group_id, group_name, timestamp, message_id
			FROM messages WHERE session_id = ? AND timestamp < ? ORDER BY timestamp DESC, id DESC LIMIT ?
		) ORDER BY timestamp ASC, id ASC`, sessionID, before.UnixMilli(), limit)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get messages %s: %w", sessionID, err)
	}
	return collectMessages(rows)
}

// GetMessagesByUser returns a user's recent messages, oldest first.
// sessionID restricts the scope when non-empty; otherwise all sessions
// are searched (cross-group lookup via the personal-session dual write).
func (s *Store) GetMessagesByUser(userID int64, sessionID string, limit int) ([]Message, error) {
	var rows *sql.Rows
	var err error
	if sessionID == "" {
		rows, err = s.db.Query(`SELECT * FROM (
			SELECT id, session_id, role, content, user_id, user_name, user_role, user_title,
			       group_id, group_name, timestamp, message_id
			FROM messages WHERE user_id = ? ORDER BY timestamp DESC, id DESC LIMIT ?
		) ORDER BY timestamp ASC, id ASC`, userID, limit)
	} else {
		rows, err = s.db.Query(`SELECT * FROM (
			SELECT id, session_id, role, content, user_id, user_name, user_role, user_title,
			       group_id, group_name, timestamp, message_id
			FROM messages WHERE user_id = ? AND session_id = ? ORDER BY timestamp DESC, id DESC LIMIT ?
		) ORDER BY timestamp ASC, id ASC`, userID, sessionID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get messages by user %d: %w", userID, err)
	}
	return collectMessages(rows)
}

// SearchMessages does a substring match on content within a session,
// returning the newest matches in ascending time order.
func (s *Store) SearchMessages(sessionID, keyword string, limit int) ([]Message, error) {
	rows, err := s.db.Query(`SELECT * FROM (
		SELECT id, session_id, role, content, user_id, user_name, user_role, user_title,
		       group_id, group_name, timestamp, message_id
		FROM messages WHERE session_id = ? AND content LIKE ?
		ORDER BY timestamp DESC, id DESC LIMIT ?
	) ORDER BY timestamp ASC, id ASC`, sessionID, "%"+escapeLike(keyword)+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("store: search messages %s: %w", sessionID, err)
	}
	return collectMessages(rows)
}

func collectMessages(rows *sql.Rows) ([]Message, error) {
	defer rows.Close()
	var out []Message
	for rows.Next() {
		var m Message
		var ts int64
		var userID, groupID, msgID sql.NullInt64
		var userName, userRole, userTitle, groupName sql.NullString
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content,
			&userID, &userName, &userRole, &userTitle,
			&groupID, &groupName, &ts, &msgID); err != nil {
			return nil, fmt.Errorf("store: scan message: %w", err)
		}
		m.UserID = userID.Int64
		m.UserName = userName.String
		m.UserRole = userRole.String
		m.UserTitle = userTitle.String
		m.GroupID = groupID.Int64
		m.GroupName = groupName.String
		m.MessageID = int32(msgID.Int64)
		m.Timestamp = time.UnixMilli(ts)
		out = append(out, m)
	}
	return out, rows.Err()
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt64(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}

func escapeLike(s string) string {
	// LIKE wildcards inside a user keyword would match everything.
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '%', '_':
			// sqlite LIKE has no default escape char; strip rather than
			// escape so the pattern stays portable.
			continue
		default:
			out = append(out, s[i])
		}
	}
	return string(out)
}
