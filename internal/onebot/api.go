package onebot

import (
	"context"
	"time"
)

// Typed wrappers over the OneBot v11 action set. Each maps 1:1 onto a
// gateway action and satisfies the Gateway interface.

func (c *Client) SelfID() int64 { return c.selfID.Load() }

func (c *Client) SendGroupMsg(ctx context.Context, groupID int64, segs []Segment) (int32, error) {
	var out struct {
		MessageID int32 `json:"message_id"`
	}
	err := c.call(ctx, "send_group_msg", map[string]any{
		"group_id": groupID,
		"message":  segs,
	}, &out)
	return out.MessageID, err
}

func (c *Client) SendPrivateMsg(ctx context.Context, userID int64, segs []Segment) (int32, error) {
	var out struct {
		MessageID int32 `json:"message_id"`
	}
	err := c.call(ctx, "send_private_msg", map[string]any{
		"user_id": userID,
		"message": segs,
	}, &out)
	return out.MessageID, err
}

func (c *Client) GetMsg(ctx context.Context, messageID int32) (*StoredMsg, error) {
	var out StoredMsg
	if err := c.call(ctx, "get_msg", map[string]any{"message_id": messageID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetGroupInfo(ctx context.Context, groupID int64) (*GroupInfo, error) {
	var out GroupInfo
	if err := c.call(ctx, "get_group_info", map[string]any{"group_id": groupID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetGroupMemberInfo(ctx context.Context, groupID, userID int64) (*GroupMember, error) {
	var out GroupMember
	err := c.call(ctx, "get_group_member_info", map[string]any{
		"group_id": groupID,
		"user_id":  userID,
		"no_cache": false,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetGroupMemberList(ctx context.Context, groupID int64) ([]GroupMember, error) {
	var out []GroupMember
	if err := c.call(ctx, "get_group_member_list", map[string]any{"group_id": groupID}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetGroupMsgHistory(ctx context.Context, groupID int64, count int) ([]StoredMsg, error) {
	var out struct {
		Messages []StoredMsg `json:"messages"`
	}
	err := c.call(ctx, "get_group_msg_history", map[string]any{
		"group_id": groupID,
		"count":    count,
	}, &out)
	return out.Messages, err
}

func (c *Client) SetGroupBan(ctx context.Context, groupID, userID int64, duration time.Duration) error {
	return c.call(ctx, "set_group_ban", map[string]any{
		"group_id": groupID,
		"user_id":  userID,
		"duration": int64(duration.Seconds()),
	}, nil)
}

func (c *Client) SetGroupKick(ctx context.Context, groupID, userID int64) error {
	return c.call(ctx, "set_group_kick", map[string]any{
		"group_id":           groupID,
		"user_id":            userID,
		"reject_add_request": false,
	}, nil)
}

func (c *Client) SetGroupCard(ctx context.Context, groupID, userID int64, card string) error {
	return c.call(ctx, "set_group_card", map[string]any{
		"group_id": groupID,
		"user_id":  userID,
		"card":     card,
	}, nil)
}

func (c *Client) SetGroupSpecialTitle(ctx context.Context, groupID, userID int64, title string) error {
	return c.call(ctx, "set_group_special_title", map[string]any{
		"group_id":      groupID,
		"user_id":       userID,
		"special_title": title,
	}, nil)
}

func (c *Client) SetGroupWholeBan(ctx context.Context, groupID int64, enable bool) error {
	return c.call(ctx, "set_group_whole_ban", map[string]any{
		"group_id": groupID,
		"enable":   enable,
	}, nil)
}

func (c *Client) GroupPoke(ctx context.Context, groupID, userID int64) error {
	return c.call(ctx, "group_poke", map[string]any{
		"group_id": groupID,
		"user_id":  userID,
	}, nil)
}
