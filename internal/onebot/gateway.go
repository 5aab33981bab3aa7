package onebot

import (
	"context"
	"errors"
	"time"
)

// ErrUnsupported is returned by gateway adapters that cannot express an
// operation on their underlying platform (e.g. poke on Telegram).
var ErrUnsupported = errors.New("operation not supported by this gateway")

// Gateway is the bot-platform surface the dispatcher and tools run against.
// The primary implementation is the OneBot websocket Client; secondary
// adapters (Telegram) implement the subset their platform can express and
// return ErrUnsupported for the rest.
type Gateway interface {
	SelfID() int64

	// SendGroupMsg sends segments to a group and returns the message ID.
	SendGroupMsg(ctx context.Context, groupID int64, segs []Segment) (int32, error)
	SendPrivateMsg(ctx context.Context, userID int64, segs []Segment) (int32, error)

	GetMsg(ctx context.Context, messageID int32) (*StoredMsg, error)
	GetGroupInfo(ctx context.Context, groupID int64) (*GroupInfo, error)
	GetGroupMemberInfo(ctx context.Context, groupID, userID int64) (*GroupMember, error)
	GetGroupMemberList(ctx context.Context, groupID int64) ([]GroupMember, error)
	GetGroupMsgHistory(ctx context.Context, groupID int64, count int) ([]StoredMsg, error)

	// SetGroupBan mutes a member; duration 0 lifts the mute.
	SetGroupBan(ctx context.Context, groupID, userID int64, duration time.Duration) error
	SetGroupKick(ctx context.Context, groupID, userID int64) error
	SetGroupCard(ctx context.Context, groupID, userID int64, card string) error
	SetGroupSpecialTitle(ctx context.Context, groupID, userID int64, title string) error
	SetGroupWholeBan(ctx context.Context, groupID int64, enable bool) error
	GroupPoke(ctx context.Context, groupID, userID int64) error
}
