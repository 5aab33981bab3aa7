package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/nextlevelbuilder/mingle/internal/config"
	"github.com/nextlevelbuilder/mingle/internal/engine"
	"github.com/nextlevelbuilder/mingle/internal/humanizer"
	"github.com/nextlevelbuilder/mingle/internal/onebot"
	"github.com/nextlevelbuilder/mingle/internal/prompt"
	"github.com/nextlevelbuilder/mingle/internal/store"
	"github.com/nextlevelbuilder/mingle/internal/tools"
)

const historyWindow = 30

type chatOpts struct {
	SkipPlanner   bool
	TriggerReason string
	// Synthetic marks constructed events (pokes): they are not persisted
	// as user messages twice and skip the humanizer fan-out.
	Synthetic bool
}

// processChat is the per-trigger pipeline. It runs inside its own
// goroutine; any error aborts this task only.
func (d *Dispatcher) processChat(ctx context.Context, cfg *config.Config, ev *onebot.Event, opts chatOpts) {
	var sessionID string
	if ev.IsGroupMessage() {
		sessionID = store.GroupSessionID(ev.GroupID)
	} else {
		sessionID = store.PersonalSessionID(ev.UserID)
	}

	if !d.acquire(sessionID) {
		slog.Debug("session busy, dropping event", "session", sessionID)
		return
	}
	defer d.release(sessionID)

	if err := d.ensureSessions(ev, sessionID); err != nil {
		slog.Error("session setup failed", "session", sessionID, "error", err)
		return
	}

	content, imageURLs := d.extractContent(ctx, ev)
	senderName := d.senderName(ctx, ev)

	if !opts.Synthetic {
		// The stored row keeps the message as the user wrote it; the
		// trigger annotation below is prompt-only.
		d.persistInbound(ev, sessionID, senderName, content)
		d.fanOut(ctx, ev, sessionID, imageURLs)
	}
	if opts.TriggerReason != "" {
		content = "[" + opts.TriggerReason + "] " + content
	}

	if ev.IsGroupMessage() && d.freq != nil && !d.freq.ShouldSpeak(sessionID) {
		slog.Debug("frequency gate closed", "session", sessionID)
		return
	}

	fetch := historyWindow
	if cfg.HistoryCount > 0 {
		fetch = cfg.HistoryCount
	}
	history, err := d.st.GetMessages(sessionID, fetch, time.Time{})
	if err != nil {
		slog.Error("history load failed", "session", sessionID, "error", err)
		return
	}

	var plannerThought string
	if !opts.SkipPlanner && d.planner != nil {
		decision := d.planner.Plan(ctx, sessionID, d.botName(cfg, ev.GroupID), content, history)
		switch decision.Action {
		case humanizer.ActionComplete:
			slog.Debug("planner: complete", "session", sessionID)
			return
		case humanizer.ActionWait:
			slog.Debug("planner: wait", "session", sessionID, "wait_ms", decision.WaitMS)
			return
		}
		plannerThought = decision.Reason
	}

	res := d.runEngine(ctx, cfg, ev, sessionID, senderName, content, plannerThought, history)
	if res == nil || res.Ended {
		return
	}

	if d.emit(ctx, ev, res) == 0 {
		return
	}

	if ev.IsGroupMessage() {
		d.mu.Lock()
		d.followUps[followKey{GroupID: ev.GroupID, UserID: ev.UserID}] = d.now()
		d.mu.Unlock()
	}
	if d.freq != nil {
		d.freq.RecordSpeak(sessionID)
	}
}

func (d *Dispatcher) acquire(sessionID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, busy := d.inflight[sessionID]; busy {
		return false
	}
	d.inflight[sessionID] = struct{}{}
	return true
}

func (d *Dispatcher) release(sessionID string) {
	d.mu.Lock()
	delete(d.inflight, sessionID)
	d.mu.Unlock()
}

// InFlight reports whether a session is currently being processed.
func (d *Dispatcher) InFlight(sessionID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, busy := d.inflight[sessionID]
	return busy
}

func (d *Dispatcher) ensureSessions(ev *onebot.Event, sessionID string) error {
	if ev.IsGroupMessage() {
		if _, err := d.sessions.GetOrCreate(sessionID, store.SessionGroup, ev.GroupID); err != nil {
			return err
		}
		_, err := d.sessions.GetOrCreate(store.PersonalSessionID(ev.UserID), store.SessionPersonal, ev.UserID)
		return err
	}
	_, err := d.sessions.GetOrCreate(sessionID, store.SessionPersonal, ev.UserID)
	return err
}

// extractContent renders segments to text. Images surface as URLs for
// the multimodal path; voice and video become placeholders. A quote of
// someone else's message is prefixed for context.
func (d *Dispatcher) extractContent(ctx context.Context, ev *onebot.Event) (string, []string) {
	var parts []string
	var images []string
	for _, seg := range ev.Message {
		switch seg.Type {
		case onebot.SegText:
			parts = append(parts, seg.Data["text"])
		case onebot.SegImage:
			if url := seg.Data["url"]; url != "" {
				images = append(images, url)
			}
			parts = append(parts, "[image]")
		case onebot.SegRecord:
			parts = append(parts, "[voice message]")
		case onebot.SegVideo:
			parts = append(parts, "[video]")
		}
	}
	content := strings.TrimSpace(strings.Join(parts, ""))

	if target := onebot.ReplyTarget(ev.Message); target != 0 {
		if quoted, err := d.gw.GetMsg(ctx, target); err == nil && quoted != nil && quoted.Sender.UserID != d.gw.SelfID() {
			name := quoted.Sender.DisplayName()
			if name == "" {
				name = "someone"
			}
			content = fmt.Sprintf("[Quoting %s: %q] %s", name, truncate(onebot.PlainText(quoted.Message), 80), content)
		}
	}
	return content, images
}

// persistInbound writes the message to the group session and mirrors it
// into the sender's personal session for cross-group lookups.
func (d *Dispatcher) persistInbound(ev *onebot.Event, sessionID, senderName, content string) {
	msg := store.Message{
		SessionID: sessionID,
		Role:      store.RoleUser,
		Content:   content,
		UserID:    ev.UserID,
		UserName:  senderName,
		UserRole:  ev.Sender.Role,
		UserTitle: ev.Sender.Title,
		GroupID:   ev.GroupID,
		Timestamp: ev.Received,
		MessageID: ev.MessageID,
	}
	if err := d.st.SaveMessage(&msg); err != nil {
		slog.Error("inbound not persisted", "session", sessionID, "error", err)
	}
	if ev.IsGroupMessage() {
		personal := msg
		personal.ID = 0
		personal.SessionID = store.PersonalSessionID(ev.UserID)
		if err := d.st.SaveMessage(&personal); err != nil {
			slog.Error("personal mirror not persisted", "user", ev.UserID, "error", err)
		}
	}
}

// fanOut kicks the non-blocking humanizer tasks.
func (d *Dispatcher) fanOut(ctx context.Context, ev *onebot.Event, sessionID string, imageURLs []string) {
	if d.expressions != nil {
		full := d.expressions.OnMessage(sessionID, store.Message{
			SessionID: sessionID, Role: store.RoleUser,
			UserID: ev.UserID, UserName: ev.Sender.DisplayName(),
			Content: onebot.PlainText(ev.Message), Timestamp: ev.Received,
		})
		if full {
			d.wg.Add(1)
			go func() {
				defer d.wg.Done()
				d.expressions.Learn(ctx, sessionID)
			}()
		}
	}
	if d.topics != nil && d.topics.OnMessage(sessionID) {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.topics.Analyze(ctx, sessionID)
		}()
	}
	if d.emojis != nil {
		for _, url := range imageURLs {
			url := url
			d.wg.Add(1)
			go func() {
				defer d.wg.Done()
				d.emojis.Collect(ctx, url)
			}()
		}
	}
}

// runEngine gathers context and invokes the chat engine.
func (d *Dispatcher) runEngine(ctx context.Context, cfg *config.Config, ev *onebot.Event, sessionID, senderName, content, plannerThought string, history []store.Message) *engine.Result {
	eff := cfg.EffectiveFor(ev.GroupID)
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}
	history = trimHistory(history, cfg.MaxContextTokens)

	var groupName string
	var memberCount int
	botRole := tools.RoleMember
	if ev.IsGroupMessage() {
		if info, err := d.gw.GetGroupInfo(ctx, ev.GroupID); err == nil && info != nil {
			groupName = info.GroupName
			memberCount = info.MemberCount
		}
		if self, err := d.gw.GetGroupMemberInfo(ctx, ev.GroupID, d.gw.SelfID()); err == nil && self != nil && self.Role != "" {
			botRole = self.Role
		}
	}

	var memoryCtx string
	if d.memory != nil {
		memoryCtx = d.memory.Retrieve(ctx, sessionID, senderName, content, history)
	}
	var exprCtx string
	if d.expressions != nil {
		exprCtx = d.expressions.Context(sessionID)
	}
	var topicCtx string
	if d.topics != nil {
		topicCtx = d.topics.Context(sessionID)
	}

	rng := rand.New(rand.NewSource(d.now().UnixNano()))
	chatType := "private"
	if ev.IsGroupMessage() {
		chatType = "group"
	}

	canMute := ev.IsGroupMessage() && eff.EnableGroupAdmin &&
		(botRole == tools.RoleAdmin || botRole == tools.RoleOwner)

	pctx := &prompt.Context{
		BotName:          d.botName(cfg, ev.GroupID),
		LoadedSkills:     d.skills.Loaded(sessionID),
		Expressions:      exprCtx,
		Memory:           memoryCtx,
		Topics:           topicCtx,
		Now:              d.now(),
		ChatType:         chatType,
		GroupName:        groupName,
		MemberCount:      memberCount,
		BotRole:          botRole,
		History:          renderHistory(history, d.botName(cfg, ev.GroupID)),
		Target:           prompt.TargetMessage{Name: senderName, UserID: ev.UserID, MessageID: ev.MessageID, Content: content},
		PlannerThought:   plannerThought,
		Persona:          eff.Persona,
		PersonalityState: prompt.PickPersonality(cfg.Personality, rng),
		ReplyStyle:       pickStyle(cfg, eff, rng),
		CanMute:          canMute,
		AdminTools:       canMute,
		ExternalSkills:   d.skillNames(cfg),
	}

	req := &engine.Request{
		SessionID: sessionID,
		GroupID:   ev.GroupID,
		PromptCtx: pctx,
		ToolCtx: &tools.ToolContext{
			Gateway:   d.gw,
			Event:     ev,
			SessionID: sessionID,
			GroupID:   ev.GroupID,
			UserID:    ev.UserID,
			Cfg:       cfg,
			Skills:    d.skills,
			Listeners: d.listenerRegistrar(),
			BotRole:   botRole,
		},
		Trigger:       content,
		Temperature:   cfg.Temperature,
		MaxIterations: cfg.MaxIterations,
	}

	res, err := d.eng.Run(ctx, req)
	if err != nil {
		slog.Error("engine run failed", "session", sessionID, "error", err)
		return nil
	}
	return res
}

func pickStyle(cfg *config.Config, eff config.Effective, rng *rand.Rand) string {
	style := cfg.ReplyStyle
	style.BaseStyle = eff.BaseStyle
	return prompt.PickStyle(style, rng)
}

// listenerRegistrar avoids handing a typed nil to the tool catalog.
func (d *Dispatcher) listenerRegistrar() tools.ListenerRegistrar {
	if d.listeners == nil {
		return nil
	}
	return d.listeners
}

func (d *Dispatcher) skillNames(cfg *config.Config) []string {
	if !cfg.EnableExternalSkills || d.skills == nil {
		return nil
	}
	var names []string
	for _, s := range d.skills.List() {
		names = append(names, s.Name)
	}
	return names
}

// trimHistory drops the oldest rows until the prompt history fits the
// configured context budget (in K tokens, roughly two runes per token).
func trimHistory(history []store.Message, budgetK int) []store.Message {
	if budgetK <= 0 {
		return history
	}
	budget := budgetK * 1024 * 2
	total := 0
	for i := len(history) - 1; i >= 0; i-- {
		total += len([]rune(history[i].Content)) + 32
		if total > budget {
			return history[i+1:]
		}
	}
	return history
}

func renderHistory(history []store.Message, botName string) []prompt.HistoryMessage {
	out := make([]prompt.HistoryMessage, 0, len(history))
	for _, m := range history {
		name := m.UserName
		if m.Role == store.RoleAssistant {
			name = botName
		}
		out = append(out, prompt.HistoryMessage{
			Time:      m.Timestamp,
			Name:      name,
			Role:      m.UserRole,
			Title:     m.UserTitle,
			MessageID: m.MessageID,
			Content:   m.Content,
			FromBot:   m.Role == store.RoleAssistant,
		})
	}
	return out
}

// emit sends the engine result: the first outbound carries the pending
// quote and @-mentions, each message body is split into lines, and every
// line goes out as its own send with a pacing delay. The typo pass runs
// per line. Returns the number of sends.
func (d *Dispatcher) emit(ctx context.Context, ev *onebot.Event, res *engine.Result) int {
	sent := 0
	first := true
	for mi, msg := range res.Messages {
		if mi > 0 {
			d.sleep(ctx)
		}
		for _, line := range strings.Split(msg, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if !first {
				d.sleep(ctx)
			}
			if d.typos != nil {
				line = d.typos.Apply(line)
			}

			var segs []onebot.Segment
			if first {
				if res.PendingQuote != 0 {
					segs = append(segs, onebot.Reply(res.PendingQuote))
				}
				for _, uid := range res.PendingAts {
					segs = append(segs, onebot.At(uid), onebot.Text(" "))
				}
			}
			segs = append(segs, onebot.Text(line))
			d.send(ctx, ev, segs)
			sent++
			first = false
		}
	}

	if res.EmojiPath != "" {
		d.sleep(ctx)
		d.send(ctx, ev, []onebot.Segment{onebot.Image("file://" + res.EmojiPath)})
		sent++
	}
	return sent
}

func (d *Dispatcher) send(ctx context.Context, ev *onebot.Event, segs []onebot.Segment) {
	var err error
	if ev.IsGroupMessage() {
		_, err = d.gw.SendGroupMsg(ctx, ev.GroupID, segs)
	} else {
		_, err = d.gw.SendPrivateMsg(ctx, ev.UserID, segs)
	}
	if err != nil {
		slog.Warn("send failed", "error", err)
	}
}

func (d *Dispatcher) sleep(ctx context.Context) {
	select {
	case <-time.After(d.delay):
	case <-ctx.Done():
	}
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}
