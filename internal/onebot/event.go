package onebot

import (
	"encoding/json"
	"time"
)

// Post types pushed by the gateway.
const (
	PostMessage   = "message"
	PostNotice    = "notice"
	PostMetaEvent = "meta_event"
)

// Notice subtypes we care about.
const (
	NoticePoke = "poke"
)

// Sender describes the author of a group or private message.
type Sender struct {
	UserID   int64  `json:"user_id"`
	Nickname string `json:"nickname"`
	Card     string `json:"card,omitempty"`
	Role     string `json:"role,omitempty"` // "owner", "admin", "member"
	Title    string `json:"title,omitempty"`
}

// DisplayName prefers the group card over the account nickname.
func (s Sender) DisplayName() string {
	if s.Card != "" {
		return s.Card
	}
	return s.Nickname
}

// Event is a single inbound gateway event (message or notice).
type Event struct {
	Time        int64     `json:"time"`
	SelfID      int64     `json:"self_id"`
	PostType    string    `json:"post_type"`
	MessageType string    `json:"message_type,omitempty"` // "group" or "private"
	SubType     string    `json:"sub_type,omitempty"`
	NoticeType  string    `json:"notice_type,omitempty"`
	MessageID   int32     `json:"message_id,omitempty"`
	GroupID     int64     `json:"group_id,omitempty"`
	UserID      int64     `json:"user_id,omitempty"`
	TargetID    int64     `json:"target_id,omitempty"` // poke target
	Message     []Segment `json:"message,omitempty"`
	RawMessage  string    `json:"raw_message,omitempty"`
	Sender      Sender    `json:"sender,omitempty"`

	// Received is stamped by the client when the event is read off the wire.
	Received time.Time `json:"-"`
}

func (e *Event) IsGroupMessage() bool {
	return e.PostType == PostMessage && e.MessageType == "group"
}

func (e *Event) IsPrivateMessage() bool {
	return e.PostType == PostMessage && e.MessageType == "private"
}

// IsPokeAt reports whether the event is a group poke targeting userID.
func (e *Event) IsPokeAt(userID int64) bool {
	return e.PostType == PostNotice && e.NoticeType == "notify" &&
		e.SubType == NoticePoke && e.TargetID == userID
}

// ParseEvent decodes a raw frame into an Event. Frames carrying an "echo"
// field are API responses, not events; callers filter those first.
func ParseEvent(data []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	ev.Received = time.Now()
	return &ev, nil
}

// GroupInfo mirrors the gateway's get_group_info response.
type GroupInfo struct {
	GroupID        int64  `json:"group_id"`
	GroupName      string `json:"group_name"`
	MemberCount    int    `json:"member_count"`
	MaxMemberCount int    `json:"max_member_count"`
}

// GroupMember mirrors the gateway's get_group_member_info response.
type GroupMember struct {
	GroupID  int64  `json:"group_id"`
	UserID   int64  `json:"user_id"`
	Nickname string `json:"nickname"`
	Card     string `json:"card"`
	Role     string `json:"role"`
	Title    string `json:"title"`
	JoinTime int64  `json:"join_time"`
}

// StoredMsg mirrors the gateway's get_msg response.
type StoredMsg struct {
	MessageID int32     `json:"message_id"`
	RealID    int32     `json:"real_id"`
	Sender    Sender    `json:"sender"`
	Time      int64     `json:"time"`
	Message   []Segment `json:"message"`
}
