package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nextlevelbuilder/mingle/internal/onebot"
)

// Control tool names the chat engine intercepts by name before dispatch.
const (
	NameAtUser     = "at_user"
	NameQuoteReply = "quote_reply"
	NameEndSession = "end_session"
)

const autoMuteDuration = 60 * time.Second

// memberListLimit caps the get_group_member_list response.
const memberListLimit = 50

// Catalog builds the fixed tools visible for one inbound message.
// Admin tools appear only in groups where group admin is enabled and the
// bot holds admin or owner; member-title additionally needs owner. Skill
// meta tools appear only when external skills are enabled.
func Catalog(tc *ToolContext) []*Tool {
	ts := []*Tool{
		atUserTool(),
		quoteReplyTool(),
		endSessionTool(),
		reportAbuseTool(tc),
		pokeUserTool(tc),
		groupMemberInfoTool(tc),
		groupMemberListTool(tc),
	}

	if tc.GroupID != 0 && tc.Cfg.EnableGroupAdmin && tc.botIsAdmin() {
		ts = append(ts,
			autoMuteTool(tc),
			muteMemberTool(tc),
			kickMemberTool(tc),
			setMemberCardTool(tc),
			toggleMuteAllTool(tc),
		)
		if tc.BotRole == RoleOwner {
			ts = append(ts, setMemberTitleTool(tc))
		}
	}

	if tc.Cfg.EnableExternalSkills && tc.Skills != nil {
		ts = append(ts, loadSkillTool(tc), unloadSkillTool(tc))
	}
	if tc.Cfg.EnableExternalSkills && tc.Listeners != nil {
		ts = append(ts, registerListenerTool(tc))
	}
	return ts
}

// Control tools. Their handlers never run: the engine intercepts them by
// name and mutates loop state instead.

func atUserTool() *Tool {
	return &Tool{
		Name:        NameAtUser,
		Description: "Mention a user with @ in your next message. Use when addressing someone directly.",
		Parameters: objectSchema(map[string]any{
			"user_id": prop("integer", "ID of the user to mention"),
		}, "user_id"),
		Handler: func(context.Context, map[string]any) (string, error) { return "", nil },
	}
}

func quoteReplyTool() *Tool {
	return &Tool{
		Name:        NameQuoteReply,
		Description: "Quote a specific earlier message in your next reply.",
		Parameters: objectSchema(map[string]any{
			"message_id": prop("integer", "ID of the message to quote"),
		}, "message_id"),
		Handler: func(context.Context, map[string]any) (string, error) { return "", nil },
	}
}

func endSessionTool() *Tool {
	return &Tool{
		Name:        NameEndSession,
		Description: "Stop without sending anything. Use when the conversation needs no reply from you.",
		Parameters: objectSchema(map[string]any{
			"reason": prop("string", "Optional reason for staying silent"),
		}),
		Handler: func(context.Context, map[string]any) (string, error) { return "", nil },
	}
}

func reportAbuseTool(tc *ToolContext) *Tool {
	return &Tool{
		Name:        "report_abuse",
		Description: "Report a user who is harassing or abusing others to the bot operators.",
		Parameters: objectSchema(map[string]any{
			"user_id": prop("integer", "ID of the offending user"),
			"reason":  prop("string", "What they did"),
		}, "user_id", "reason"),
		ReturnToAI: true,
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			userID, err := argInt64(args, "user_id")
			if err != nil {
				return "", err
			}
			reason, err := argString(args, "reason")
			if err != nil {
				return "", err
			}
			report := fmt.Sprintf("Abuse report from group %d: user %d — %s", tc.GroupID, userID, reason)
			var sent int
			for _, owner := range tc.Cfg.OwnerIDs {
				if _, err := tc.Gateway.SendPrivateMsg(ctx, owner, []onebot.Segment{onebot.Text(report)}); err == nil {
					sent++
				}
			}
			if sent == 0 {
				return "", fmt.Errorf("no owner could be notified")
			}
			return fmt.Sprintf("reported user %d to %d operator(s)", userID, sent), nil
		},
	}
}

func pokeUserTool(tc *ToolContext) *Tool {
	return &Tool{
		Name:        "poke_user",
		Description: "Poke a group member, a playful nudge with no text.",
		Parameters: objectSchema(map[string]any{
			"user_id": prop("integer", "ID of the user to poke"),
		}, "user_id"),
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			userID, err := argInt64(args, "user_id")
			if err != nil {
				return "", err
			}
			if tc.GroupID == 0 {
				return "", fmt.Errorf("poke only works in groups")
			}
			return "", tc.Gateway.GroupPoke(ctx, tc.GroupID, userID)
		},
	}
}

func groupMemberInfoTool(tc *ToolContext) *Tool {
	return &Tool{
		Name:        "get_group_member_info",
		Description: "Look up a group member: nickname, card, role, title, join time.",
		Parameters: objectSchema(map[string]any{
			"user_id": prop("integer", "ID of the member"),
		}, "user_id"),
		ReturnToAI: true,
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			userID, err := argInt64(args, "user_id")
			if err != nil {
				return "", err
			}
			m, err := tc.Gateway.GetGroupMemberInfo(ctx, tc.GroupID, userID)
			if err != nil {
				return "", err
			}
			out, err := json.Marshal(m)
			return string(out), err
		},
	}
}

func groupMemberListTool(tc *ToolContext) *Tool {
	return &Tool{
		Name:        "get_group_member_list",
		Description: "List group members (first 50) with the total count.",
		Parameters:  objectSchema(map[string]any{}),
		ReturnToAI:  true,
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			members, err := tc.Gateway.GetGroupMemberList(ctx, tc.GroupID)
			if err != nil {
				return "", err
			}
			total := len(members)
			if total > memberListLimit {
				members = members[:memberListLimit]
			}
			var b strings.Builder
			fmt.Fprintf(&b, "%d members total", total)
			if total > memberListLimit {
				fmt.Fprintf(&b, " (showing first %d)", memberListLimit)
			}
			for _, m := range members {
				name := m.Card
				if name == "" {
					name = m.Nickname
				}
				fmt.Fprintf(&b, "\n%d %s (%s)", m.UserID, name, m.Role)
			}
			return b.String(), nil
		},
	}
}

func autoMuteTool(tc *ToolContext) *Tool {
	return &Tool{
		Name:        "auto_mute",
		Description: "Briefly mute a member who is flooding or spamming (60 seconds).",
		Parameters: objectSchema(map[string]any{
			"user_id": prop("integer", "ID of the member to mute"),
		}, "user_id"),
		ReturnToAI: true,
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			userID, err := argInt64(args, "user_id")
			if err != nil {
				return "", err
			}
			if err := tc.Gateway.SetGroupBan(ctx, tc.GroupID, userID, autoMuteDuration); err != nil {
				return "", err
			}
			return fmt.Sprintf("muted %d for 60s", userID), nil
		},
	}
}

func muteMemberTool(tc *ToolContext) *Tool {
	return &Tool{
		Name:        "mute_member",
		Description: "Mute a member for a chosen duration. Pass 0 seconds to lift a mute.",
		Parameters: objectSchema(map[string]any{
			"user_id":    prop("integer", "ID of the member"),
			"duration_s": prop("integer", "Mute duration in seconds, 0 to unmute"),
		}, "user_id", "duration_s"),
		ReturnToAI: true,
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			userID, err := argInt64(args, "user_id")
			if err != nil {
				return "", err
			}
			seconds, err := argInt64(args, "duration_s")
			if err != nil {
				return "", err
			}
			if err := tc.Gateway.SetGroupBan(ctx, tc.GroupID, userID, time.Duration(seconds)*time.Second); err != nil {
				return "", err
			}
			if seconds == 0 {
				return fmt.Sprintf("unmuted %d", userID), nil
			}
			return fmt.Sprintf("muted %d for %ds", userID, seconds), nil
		},
	}
}

func kickMemberTool(tc *ToolContext) *Tool {
	return &Tool{
		Name:        "kick_member",
		Description: "Remove a member from the group.",
		Parameters: objectSchema(map[string]any{
			"user_id": prop("integer", "ID of the member to remove"),
		}, "user_id"),
		ReturnToAI: true,
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			userID, err := argInt64(args, "user_id")
			if err != nil {
				return "", err
			}
			if err := tc.Gateway.SetGroupKick(ctx, tc.GroupID, userID); err != nil {
				return "", err
			}
			return fmt.Sprintf("kicked %d", userID), nil
		},
	}
}

func setMemberCardTool(tc *ToolContext) *Tool {
	return &Tool{
		Name:        "set_member_card",
		Description: "Change a member's display name (group card).",
		Parameters: objectSchema(map[string]any{
			"user_id": prop("integer", "ID of the member"),
			"card":    prop("string", "New display name, empty to clear"),
		}, "user_id", "card"),
		ReturnToAI: true,
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			userID, err := argInt64(args, "user_id")
			if err != nil {
				return "", err
			}
			card, err := argString(args, "card")
			if err != nil {
				return "", err
			}
			if err := tc.Gateway.SetGroupCard(ctx, tc.GroupID, userID, card); err != nil {
				return "", err
			}
			return fmt.Sprintf("card of %d set to %q", userID, card), nil
		},
	}
}

func setMemberTitleTool(tc *ToolContext) *Tool {
	return &Tool{
		Name:        "set_member_title",
		Description: "Grant a member a special title shown next to their name.",
		Parameters: objectSchema(map[string]any{
			"user_id": prop("integer", "ID of the member"),
			"title":   prop("string", "Title text, empty to remove"),
		}, "user_id", "title"),
		ReturnToAI: true,
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			userID, err := argInt64(args, "user_id")
			if err != nil {
				return "", err
			}
			title, err := argString(args, "title")
			if err != nil {
				return "", err
			}
			if err := tc.Gateway.SetGroupSpecialTitle(ctx, tc.GroupID, userID, title); err != nil {
				return "", err
			}
			return fmt.Sprintf("title of %d set to %q", userID, title), nil
		},
	}
}

func toggleMuteAllTool(tc *ToolContext) *Tool {
	return &Tool{
		Name:        "toggle_mute_all",
		Description: "Enable or disable whole-group mute.",
		Parameters: objectSchema(map[string]any{
			"enable": prop("boolean", "true to mute everyone, false to lift"),
		}, "enable"),
		ReturnToAI: true,
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			enable, err := argBool(args, "enable")
			if err != nil {
				return "", err
			}
			if err := tc.Gateway.SetGroupWholeBan(ctx, tc.GroupID, enable); err != nil {
				return "", err
			}
			if enable {
				return "group muted", nil
			}
			return "group unmuted", nil
		},
	}
}

func loadSkillTool(tc *ToolContext) *Tool {
	var names []string
	for _, s := range tc.Skills.ListSkills() {
		names = append(names, fmt.Sprintf("%s (%s)", s.Name, s.Description))
	}
	desc := "Load a skill to gain its tools for one hour."
	if len(names) > 0 {
		desc += " Available: " + strings.Join(names, ", ")
	}
	return &Tool{
		Name:        "load_skill",
		Description: desc,
		Parameters: objectSchema(map[string]any{
			"skill_name": prop("string", "Name of the skill to load"),
		}, "skill_name"),
		ReturnToAI: true,
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			name, err := argString(args, "skill_name")
			if err != nil {
				return "", err
			}
			if err := tc.Skills.LoadSkill(tc.SessionID, name); err != nil {
				return "", err
			}
			return fmt.Sprintf("skill %q loaded for 1h; its tools are available as %s.<tool>", name, name), nil
		},
	}
}

func registerListenerTool(tc *ToolContext) *Tool {
	return &Tool{
		Name: "register_listener",
		Description: "Watch this chat and get triggered again later: either on the " +
			"next message (optionally from a specific user) or after a number of messages.",
		Parameters: objectSchema(map[string]any{
			"type":       prop("string", "\"next_user_message\" or \"message_count\""),
			"user_id":    prop("integer", "Only fire on messages from this user (next_user_message only)"),
			"count":      prop("integer", "Number of messages to wait for (message_count only)"),
			"reason":     prop("string", "Why you want to be triggered; shown to you when it fires"),
			"timeout_ms": prop("integer", "How long to keep watching, default 10 minutes, max 30"),
		}, "type", "reason"),
		ReturnToAI: true,
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			typ, err := argString(args, "type")
			if err != nil {
				return "", err
			}
			reason, err := argString(args, "reason")
			if err != nil {
				return "", err
			}
			userID, _ := argInt64(args, "user_id")
			count, _ := argInt64(args, "count")
			timeoutMS, _ := argInt64(args, "timeout_ms")
			err = tc.Listeners.Register(tc.SessionID, typ, userID, int(count), reason, time.Duration(timeoutMS)*time.Millisecond)
			if err != nil {
				return "", err
			}
			return "listener registered", nil
		},
	}
}

func unloadSkillTool(tc *ToolContext) *Tool {
	return &Tool{
		Name:        "unload_skill",
		Description: "Unload a previously loaded skill.",
		Parameters: objectSchema(map[string]any{
			"skill_name": prop("string", "Name of the skill to unload"),
		}, "skill_name"),
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			name, err := argString(args, "skill_name")
			if err != nil {
				return "", err
			}
			tc.Skills.UnloadSkill(tc.SessionID, name)
			return "", nil
		},
	}
}
