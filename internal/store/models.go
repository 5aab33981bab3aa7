package store

import (
	"strconv"
	"time"
)

// Session types.
const (
	SessionGroup    = "group"
	SessionPersonal = "personal"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Session is a conversation thread identity. Rows are never deleted;
// Reset only clears messages and the compressed context.
type Session struct {
	ID                string
	Type              string // SessionGroup or SessionPersonal
	TargetID          int64  // group ID or user ID
	CreatedAt         time.Time
	UpdatedAt         time.Time
	CompressedContext string // "" when null
}

// GroupSessionID builds the canonical session key for a group.
func GroupSessionID(groupID int64) string {
	return "group:" + itoa(groupID)
}

// PersonalSessionID builds the canonical session key for a user.
func PersonalSessionID(userID int64) string {
	return "personal:" + itoa(userID)
}

// Message is an immutable append-only conversation entry.
type Message struct {
	ID        int64
	SessionID string
	Role      string
	Content   string
	UserID    int64 // 0 for assistant/system rows
	UserName  string
	UserRole  string // "owner", "admin", "member" or ""
	UserTitle string
	GroupID   int64
	GroupName string
	Timestamp time.Time
	MessageID int32 // external gateway message ID, 0 when unknown
}

// Topic is a conversation thread extracted by the topic tracker.
// Keywords holds a JSON array as text.
type Topic struct {
	ID           int64
	SessionID    string
	Title        string
	Keywords     string
	Summary      string
	MessageCount int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Expression is a learned speaking habit of one group member.
type Expression struct {
	ID        int64
	SessionID string
	UserID    int64
	UserName  string
	Situation string
	Style     string
	Example   string
	CreatedAt time.Time
}

// Emoji is a registered sticker with its tagged emotion.
type Emoji struct {
	ID          int64
	FileName    string
	Description string
	Emotion     string
	UsageCount  int
	CreatedAt   time.Time
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
