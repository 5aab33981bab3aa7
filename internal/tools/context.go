package tools

import (
	"fmt"
	"strconv"
	"time"

	"github.com/nextlevelbuilder/mingle/internal/config"
	"github.com/nextlevelbuilder/mingle/internal/onebot"
)

// Group roles as reported by the gateway.
const (
	RoleMember = "member"
	RoleAdmin  = "admin"
	RoleOwner  = "owner"
)

// SkillLoader is the slice of the skill registry the meta tools need.
type SkillLoader interface {
	ListSkills() []*Skill
	LoadSkill(sessionID, name string) error
	UnloadSkill(sessionID, name string)
}

// ListenerRegistrar is the slice of the dispatcher's listener manager the
// register_listener tool needs.
type ListenerRegistrar interface {
	Register(sessionID, typ string, userID int64, count int, reason string, timeout time.Duration) error
}

// ToolContext binds the catalog to one inbound message. GroupID is zero
// for private chats; BotRole is the bot's own role in the group.
type ToolContext struct {
	Gateway   onebot.Gateway
	Event     *onebot.Event
	SessionID string
	GroupID   int64
	UserID    int64
	Cfg       *config.Config
	Skills    SkillLoader
	Listeners ListenerRegistrar
	BotRole   string
}

func (tc *ToolContext) botIsAdmin() bool {
	return tc.BotRole == RoleAdmin || tc.BotRole == RoleOwner
}

// Argument coercion. The model sends JSON, so numbers arrive as float64
// and occasionally as numeric strings.

func argInt64(args map[string]any, key string) (int64, error) {
	v, ok := args[key]
	if !ok {
		return 0, fmt.Errorf("missing argument %q", key)
	}
	switch n := v.(type) {
	case float64:
		return int64(n), nil
	case int64:
		return n, nil
	case string:
		id, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("argument %q: %w", key, err)
		}
		return id, nil
	default:
		return 0, fmt.Errorf("argument %q: unexpected type %T", key, v)
	}
}

func argString(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", fmt.Errorf("missing argument %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("argument %q: unexpected type %T", key, v)
	}
	return s, nil
}

func argBool(args map[string]any, key string) (bool, error) {
	v, ok := args[key]
	if !ok {
		return false, fmt.Errorf("missing argument %q", key)
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("argument %q: unexpected type %T", key, v)
	}
	return b, nil
}
