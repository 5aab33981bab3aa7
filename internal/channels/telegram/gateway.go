// Package telegram adapts the Telegram Bot API to the onebot.Gateway
// surface so the dispatcher can run against either platform. Operations
// the Bot API cannot express return onebot.ErrUnsupported.
package telegram

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mymmrac/telego"

	"github.com/nextlevelbuilder/mingle/internal/onebot"
)

// msgCacheSize bounds the in-memory message cache backing GetMsg; the Bot
// API has no message fetch endpoint.
const msgCacheSize = 512

type Handler func(ctx context.Context, ev *onebot.Event)

type Gateway struct {
	bot   *telego.Bot
	token string

	selfID       int64
	selfUsername string

	mu    sync.Mutex
	cache map[int32]*onebot.StoredMsg
	order []int32

	cancel context.CancelFunc
	done   chan struct{}
}

func New(token string) (*Gateway, error) {
	bot, err := telego.NewBot(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: create bot: %w", err)
	}
	return &Gateway{
		bot:   bot,
		token: token,
		cache: make(map[int32]*onebot.StoredMsg),
	}, nil
}

// Run starts long polling and feeds converted events to handler until ctx
// is cancelled.
func (g *Gateway) Run(ctx context.Context, handler Handler) error {
	me, err := g.bot.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("telegram: get me: %w", err)
	}
	g.selfID = me.ID
	g.selfUsername = me.Username

	pollCtx, cancel := context.WithCancel(ctx)
	g.cancel = cancel
	g.done = make(chan struct{})

	updates, err := g.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("telegram: start long polling: %w", err)
	}
	slog.Info("telegram gateway connected", "username", me.Username)

	go func() {
		defer close(g.done)
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message == nil {
					continue
				}
				ev := g.convert(update.Message)
				if ev == nil {
					continue
				}
				handler(pollCtx, ev)
			}
		}
	}()
	return nil
}

// Stop cancels polling and waits for the update loop to drain.
func (g *Gateway) Stop() {
	if g.cancel != nil {
		g.cancel()
	}
	if g.done != nil {
		select {
		case <-g.done:
		case <-time.After(10 * time.Second):
			slog.Warn("telegram polling did not stop in time")
		}
	}
}

func (g *Gateway) SelfID() int64 { return g.selfID }

// convert maps a Telegram message onto the OneBot event shape. Group IDs
// keep Telegram's negative chat IDs; the dispatcher treats them opaquely.
func (g *Gateway) convert(msg *telego.Message) *onebot.Event {
	if msg.From == nil {
		return nil
	}
	ev := &onebot.Event{
		Time:      msg.Date,
		SelfID:    g.selfID,
		PostType:  onebot.PostMessage,
		MessageID: int32(msg.MessageID),
		UserID:    msg.From.ID,
		Sender: onebot.Sender{
			UserID:   msg.From.ID,
			Nickname: senderName(msg.From),
		},
		Received: time.Now(),
	}
	switch msg.Chat.Type {
	case "group", "supergroup":
		ev.MessageType = "group"
		ev.GroupID = msg.Chat.ID
	case "private":
		ev.MessageType = "private"
	default:
		return nil
	}

	text := msg.Text
	if text == "" {
		text = msg.Caption
	}
	if g.mentionsSelf(msg) {
		ev.Message = append(ev.Message, onebot.At(g.selfID))
		text = stripMention(text, g.selfUsername)
	}
	if msg.ReplyToMessage != nil {
		quoted := msg.ReplyToMessage
		g.remember(&onebot.StoredMsg{
			MessageID: int32(quoted.MessageID),
			Sender:    onebot.Sender{UserID: quotedSenderID(quoted), Nickname: quotedSenderName(quoted)},
			Time:      quoted.Date,
			Message:   []onebot.Segment{onebot.Text(quoted.Text)},
		})
		ev.Message = append(ev.Message, onebot.Reply(int32(quoted.MessageID)))
	}
	if text != "" {
		ev.Message = append(ev.Message, onebot.Text(text))
	}
	if len(msg.Photo) > 0 {
		// The last size is the largest.
		ev.Message = append(ev.Message, g.photoSegment(msg.Photo[len(msg.Photo)-1].FileID))
	}
	if msg.Voice != nil {
		ev.Message = append(ev.Message, onebot.Segment{Type: onebot.SegRecord, Data: map[string]string{"file": msg.Voice.FileID}})
	}
	if msg.Video != nil {
		ev.Message = append(ev.Message, onebot.Segment{Type: onebot.SegVideo, Data: map[string]string{"file": msg.Video.FileID}})
	}
	if len(ev.Message) == 0 {
		return nil
	}
	ev.RawMessage = onebot.PlainText(ev.Message)
	return ev
}

func (g *Gateway) mentionsSelf(msg *telego.Message) bool {
	if g.selfUsername == "" {
		return false
	}
	needle := "@" + strings.ToLower(g.selfUsername)
	if strings.Contains(strings.ToLower(msg.Text), needle) {
		return true
	}
	if strings.Contains(strings.ToLower(msg.Caption), needle) {
		return true
	}
	if r := msg.ReplyToMessage; r != nil && r.From != nil && r.From.ID == g.selfID {
		return true
	}
	return false
}

func stripMention(text, username string) string {
	if username == "" {
		return text
	}
	lower := strings.ToLower(text)
	needle := "@" + strings.ToLower(username)
	if idx := strings.Index(lower, needle); idx >= 0 {
		text = strings.TrimSpace(text[:idx] + text[idx+len(needle):])
	}
	return text
}

// photoSegment resolves a download URL for the dispatcher's image paths.
// Failure degrades to a bare file-id segment.
func (g *Gateway) photoSegment(fileID string) onebot.Segment {
	file, err := g.bot.GetFile(context.Background(), &telego.GetFileParams{FileID: fileID})
	if err != nil || file.FilePath == "" {
		slog.Debug("telegram file lookup failed", "file_id", fileID, "error", err)
		return onebot.Segment{Type: onebot.SegImage, Data: map[string]string{"file": fileID}}
	}
	url := fmt.Sprintf("https://api.telegram.org/file/bot%s/%s", g.token, file.FilePath)
	return onebot.Segment{Type: onebot.SegImage, Data: map[string]string{"file": fileID, "url": url}}
}

func (g *Gateway) remember(m *onebot.StoredMsg) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.cache[m.MessageID]; !ok {
		g.order = append(g.order, m.MessageID)
		if len(g.order) > msgCacheSize {
			delete(g.cache, g.order[0])
			g.order = g.order[1:]
		}
	}
	g.cache[m.MessageID] = m
}

func senderName(u *telego.User) string {
	if u.Username != "" {
		return u.Username
	}
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

func quotedSenderID(m *telego.Message) int64 {
	if m.From == nil {
		return 0
	}
	return m.From.ID
}

func quotedSenderName(m *telego.Message) string {
	if m.From == nil {
		return ""
	}
	return senderName(m.From)
}

// renderSegments flattens outbound segments into HTML text plus optional
// reply target and image attachment.
func renderSegments(segs []onebot.Segment) (text string, replyTo int, image string) {
	var b strings.Builder
	for _, s := range segs {
		switch s.Type {
		case onebot.SegText:
			b.WriteString(html.EscapeString(s.Data["text"]))
		case onebot.SegAt:
			fmt.Fprintf(&b, `<a href="tg://user?id=%s">@%s</a>`, s.Data["qq"], s.Data["qq"])
		case onebot.SegReply:
			fmt.Sscanf(s.Data["id"], "%d", &replyTo)
		case onebot.SegImage:
			image = s.Data["file"]
		}
	}
	return b.String(), replyTo, image
}

func (g *Gateway) send(ctx context.Context, chatID int64, segs []onebot.Segment) (int32, error) {
	text, replyTo, image := renderSegments(segs)

	if image != "" {
		params := &telego.SendPhotoParams{
			ChatID:  telego.ChatID{ID: chatID},
			Photo:   telego.InputFile{URL: strings.TrimPrefix(image, "file://")},
			Caption: text,
		}
		msg, err := g.bot.SendPhoto(ctx, params)
		if err != nil {
			return 0, fmt.Errorf("telegram: send photo: %w", err)
		}
		return int32(msg.MessageID), nil
	}

	params := &telego.SendMessageParams{
		ChatID:    telego.ChatID{ID: chatID},
		Text:      text,
		ParseMode: telego.ModeHTML,
	}
	if replyTo != 0 {
		params.ReplyParameters = &telego.ReplyParameters{MessageID: replyTo}
	}
	msg, err := g.bot.SendMessage(ctx, params)
	if err != nil {
		return 0, fmt.Errorf("telegram: send message: %w", err)
	}
	g.remember(&onebot.StoredMsg{
		MessageID: int32(msg.MessageID),
		Sender:    onebot.Sender{UserID: g.selfID, Nickname: g.selfUsername},
		Time:      msg.Date,
		Message:   []onebot.Segment{onebot.Text(onebot.PlainText(segs))},
	})
	return int32(msg.MessageID), nil
}

func (g *Gateway) SendGroupMsg(ctx context.Context, groupID int64, segs []onebot.Segment) (int32, error) {
	return g.send(ctx, groupID, segs)
}

func (g *Gateway) SendPrivateMsg(ctx context.Context, userID int64, segs []onebot.Segment) (int32, error) {
	return g.send(ctx, userID, segs)
}

// GetMsg serves from the conversion cache; Telegram has no fetch API.
func (g *Gateway) GetMsg(ctx context.Context, messageID int32) (*onebot.StoredMsg, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if m, ok := g.cache[messageID]; ok {
		return m, nil
	}
	return nil, fmt.Errorf("telegram: message %d not cached: %w", messageID, onebot.ErrUnsupported)
}

func (g *Gateway) GetGroupInfo(ctx context.Context, groupID int64) (*onebot.GroupInfo, error) {
	chat, err := g.bot.GetChat(ctx, &telego.GetChatParams{ChatID: telego.ChatID{ID: groupID}})
	if err != nil {
		return nil, fmt.Errorf("telegram: get chat %d: %w", groupID, err)
	}
	count, err := g.bot.GetChatMemberCount(ctx, &telego.GetChatMemberCountParams{ChatID: telego.ChatID{ID: groupID}})
	if err != nil {
		count = 0
	}
	return &onebot.GroupInfo{GroupID: groupID, GroupName: chat.Title, MemberCount: count}, nil
}

func (g *Gateway) GetGroupMemberInfo(ctx context.Context, groupID, userID int64) (*onebot.GroupMember, error) {
	member, err := g.bot.GetChatMember(ctx, &telego.GetChatMemberParams{
		ChatID: telego.ChatID{ID: groupID},
		UserID: userID,
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: get chat member %d/%d: %w", groupID, userID, err)
	}
	user := member.MemberUser()
	return &onebot.GroupMember{
		GroupID:  groupID,
		UserID:   userID,
		Nickname: senderName(&user),
		Role:     mapStatus(member.MemberStatus()),
	}, nil
}

func mapStatus(status string) string {
	switch status {
	case "creator":
		return "owner"
	case "administrator":
		return "admin"
	default:
		return "member"
	}
}

// SetGroupBan mutes via member restriction; duration 0 restores the
// default permissions.
func (g *Gateway) SetGroupBan(ctx context.Context, groupID, userID int64, duration time.Duration) error {
	allowed := duration == 0
	perms := telego.ChatPermissions{
		CanSendMessages:      &allowed,
		CanSendPhotos:        &allowed,
		CanSendVideos:        &allowed,
		CanSendOtherMessages: &allowed,
	}
	params := &telego.RestrictChatMemberParams{
		ChatID:      telego.ChatID{ID: groupID},
		UserID:      userID,
		Permissions: perms,
	}
	if duration > 0 {
		params.UntilDate = time.Now().Add(duration).Unix()
	}
	if err := g.bot.RestrictChatMember(ctx, params); err != nil {
		return fmt.Errorf("telegram: restrict %d/%d: %w", groupID, userID, err)
	}
	return nil
}

// SetGroupKick removes a member without a permanent ban.
func (g *Gateway) SetGroupKick(ctx context.Context, groupID, userID int64) error {
	if err := g.bot.BanChatMember(ctx, &telego.BanChatMemberParams{
		ChatID: telego.ChatID{ID: groupID},
		UserID: userID,
	}); err != nil {
		return fmt.Errorf("telegram: kick %d/%d: %w", groupID, userID, err)
	}
	err := g.bot.UnbanChatMember(ctx, &telego.UnbanChatMemberParams{
		ChatID:       telego.ChatID{ID: groupID},
		UserID:       userID,
		OnlyIfBanned: true,
	})
	if err != nil {
		slog.Warn("telegram unban after kick failed", "group", groupID, "user", userID, "error", err)
	}
	return nil
}

// Operations with no Bot API equivalent.

func (g *Gateway) GetGroupMemberList(ctx context.Context, groupID int64) ([]onebot.GroupMember, error) {
	return nil, onebot.ErrUnsupported
}

func (g *Gateway) GetGroupMsgHistory(ctx context.Context, groupID int64, count int) ([]onebot.StoredMsg, error) {
	return nil, onebot.ErrUnsupported
}

func (g *Gateway) SetGroupCard(ctx context.Context, groupID, userID int64, card string) error {
	return onebot.ErrUnsupported
}

func (g *Gateway) SetGroupSpecialTitle(ctx context.Context, groupID, userID int64, title string) error {
	return onebot.ErrUnsupported
}

func (g *Gateway) SetGroupWholeBan(ctx context.Context, groupID int64, enable bool) error {
	return onebot.ErrUnsupported
}

func (g *Gateway) GroupPoke(ctx context.Context, groupID, userID int64) error {
	return onebot.ErrUnsupported
}
