// Package dispatcher routes inbound gateway events through the trigger
// gates and into process_chat. It owns the transient coordination state:
// the in-flight guard, the follow-up window, and the poke cooldown.
package dispatcher

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nextlevelbuilder/mingle/internal/config"
	"github.com/nextlevelbuilder/mingle/internal/engine"
	"github.com/nextlevelbuilder/mingle/internal/humanizer"
	"github.com/nextlevelbuilder/mingle/internal/onebot"
	"github.com/nextlevelbuilder/mingle/internal/ratelimit"
	"github.com/nextlevelbuilder/mingle/internal/sessions"
	"github.com/nextlevelbuilder/mingle/internal/skills"
	"github.com/nextlevelbuilder/mingle/internal/store"
)

const (
	// followUpWindow is how long after the bot replies to a user that
	// user's next message gets planner consideration without a mention.
	followUpWindow = 3 * time.Minute
	// pokeCooldown throttles reactions to pokes per group.
	pokeCooldown = 10 * time.Minute
	// emitDelay paces outbound lines so the bot does not machine-gun.
	emitDelay = 300 * time.Millisecond
)

type followKey struct {
	GroupID int64
	UserID  int64
}

// Deps wires the dispatcher. All fields are required except Listeners,
// Emojis, and Typos.
type Deps struct {
	Gateway     onebot.Gateway
	Store       *store.Store
	Sessions    *sessions.Manager
	Limiter     *ratelimit.Limiter
	Skills      *skills.Registry
	Engine      *engine.Engine
	Planner     *humanizer.Planner
	Memory      *humanizer.Memory
	Topics      *humanizer.Topics
	Expressions *humanizer.Expressions
	Emojis      *humanizer.Emojis
	Frequency   *humanizer.Frequency
	Typos       *humanizer.Typos
	Listeners   *Listeners
}

type Dispatcher struct {
	gw          onebot.Gateway
	st          *store.Store
	sessions    *sessions.Manager
	limiter     *ratelimit.Limiter
	skills      *skills.Registry
	eng         *engine.Engine
	planner     *humanizer.Planner
	memory      *humanizer.Memory
	topics      *humanizer.Topics
	expressions *humanizer.Expressions
	emojis      *humanizer.Emojis
	freq        *humanizer.Frequency
	typos       *humanizer.Typos
	listeners   *Listeners

	cfg atomic.Pointer[config.Config]

	mu        sync.Mutex
	inflight  map[string]struct{}
	followUps map[followKey]time.Time
	pokeSeen  map[int64]time.Time

	delay time.Duration
	now   func() time.Time

	// wg tracks spawned tasks so Close can drain them.
	wg sync.WaitGroup
}

func New(cfg *config.Config, deps Deps) *Dispatcher {
	d := &Dispatcher{
		gw:          deps.Gateway,
		st:          deps.Store,
		sessions:    deps.Sessions,
		limiter:     deps.Limiter,
		skills:      deps.Skills,
		eng:         deps.Engine,
		planner:     deps.Planner,
		memory:      deps.Memory,
		topics:      deps.Topics,
		expressions: deps.Expressions,
		emojis:      deps.Emojis,
		freq:        deps.Frequency,
		typos:       deps.Typos,
		listeners:   deps.Listeners,
		inflight:    make(map[string]struct{}),
		followUps:   make(map[followKey]time.Time),
		pokeSeen:    make(map[int64]time.Time),
		delay:       emitDelay,
		now:         time.Now,
	}
	d.cfg.Store(cfg)
	return d
}

// UpdateConfig swaps the live config (hot reload).
func (d *Dispatcher) UpdateConfig(cfg *config.Config) { d.cfg.Store(cfg) }

// Wait blocks until all spawned chat tasks finish. For shutdown.
func (d *Dispatcher) Wait() { d.wg.Wait() }

// HandleEvent is the gateway's event callback. It never blocks on LLM
// work: chat processing runs in its own goroutine.
func (d *Dispatcher) HandleEvent(ctx context.Context, ev *onebot.Event) {
	cfg := d.cfg.Load()

	if ev.IsPokeAt(d.gw.SelfID()) {
		d.handlePoke(ctx, cfg, ev)
		return
	}
	if !ev.IsGroupMessage() && !ev.IsPrivateMessage() {
		return
	}
	if ev.UserID == d.gw.SelfID() {
		return
	}

	text := onebot.PlainText(ev.Message)
	if cmd := strings.TrimSpace(text); strings.HasPrefix(cmd, "/reset-") {
		d.handleCommand(ctx, cfg, ev, cmd)
		return
	}

	if ev.IsGroupMessage() && !cfg.GroupAllowed(ev.GroupID) {
		return
	}

	skipPlanner, reason, ok := d.decideTrigger(ctx, cfg, ev)
	if !ok {
		return
	}

	groupID := ev.GroupID // 0 in private chats
	if v := d.limiter.Allow(groupID, ev.UserID, text); !v.OK {
		slog.Debug("rate limited", "group", groupID, "user", ev.UserID, "reason", v.Reason)
		return
	}
	d.limiter.Record(groupID, ev.UserID, text)

	d.spawnChat(ctx, cfg, ev, chatOpts{SkipPlanner: skipPlanner, TriggerReason: reason})
}

// decideTrigger applies the trigger rules in order. It returns whether
// the planner may be skipped, an optional trigger reason, and whether to
// proceed at all.
func (d *Dispatcher) decideTrigger(ctx context.Context, cfg *config.Config, ev *onebot.Event) (skipPlanner bool, reason string, ok bool) {
	if ev.IsPrivateMessage() {
		return true, "", true
	}

	// Direct @-mention.
	if onebot.MentionsUser(ev.Message, d.gw.SelfID()) {
		return true, "", true
	}

	// Nickname mention, case-insensitive.
	eff := cfg.EffectiveFor(ev.GroupID)
	lower := strings.ToLower(onebot.PlainText(ev.Message))
	for _, nick := range eff.Nicknames {
		if nick != "" && strings.Contains(lower, strings.ToLower(nick)) {
			return true, "", true
		}
	}

	// One-shot listener match counts as a direct trigger.
	if d.listeners != nil {
		if why, matched := d.listeners.Match(ev); matched {
			return true, why, true
		}
	}

	// Quote of one of the bot's messages: trigger, planner consulted.
	if target := onebot.ReplyTarget(ev.Message); target != 0 {
		if quoted, err := d.gw.GetMsg(ctx, target); err == nil && quoted != nil && quoted.Sender.UserID == d.gw.SelfID() {
			return false, "", true
		}
	}

	// Follow-up window: consume the record, ask the planner directly,
	// proceed only on reply.
	key := followKey{GroupID: ev.GroupID, UserID: ev.UserID}
	d.mu.Lock()
	last, exists := d.followUps[key]
	if exists {
		delete(d.followUps, key)
	}
	d.mu.Unlock()
	if exists && d.now().Sub(last) < followUpWindow {
		sessionID := store.GroupSessionID(ev.GroupID)
		history, _ := d.st.GetMessages(sessionID, 30, time.Time{})
		decision := d.planner.Plan(ctx, sessionID, d.botName(cfg, ev.GroupID), onebot.PlainText(ev.Message), history)
		if decision.Action == humanizer.ActionReply {
			return true, "", true
		}
		slog.Debug("follow-up declined by planner", "group", ev.GroupID, "user", ev.UserID, "action", decision.Action)
		return false, "", false
	}

	return false, "", false
}

func (d *Dispatcher) botName(cfg *config.Config, groupID int64) string {
	eff := cfg.EffectiveFor(groupID)
	if len(eff.Nicknames) > 0 {
		return eff.Nicknames[0]
	}
	return "bot"
}

// handleCommand serves /reset-self and /reset-group.
func (d *Dispatcher) handleCommand(ctx context.Context, cfg *config.Config, ev *onebot.Event, cmd string) {
	switch {
	case strings.HasPrefix(cmd, "/reset-self"):
		id := store.PersonalSessionID(ev.UserID)
		if err := d.sessions.Reset(id); err != nil {
			slog.Error("reset-self failed", "session", id, "error", err)
			return
		}
		d.replyText(ctx, ev, "our private history is wiped")
	case strings.HasPrefix(cmd, "/reset-group"):
		if !ev.IsGroupMessage() {
			return
		}
		if !d.canResetGroup(cfg, ev) {
			d.replyText(ctx, ev, "only group admins can do that")
			return
		}
		id := store.GroupSessionID(ev.GroupID)
		if err := d.sessions.Reset(id); err != nil {
			slog.Error("reset-group failed", "session", id, "error", err)
			return
		}
		d.replyText(ctx, ev, "group memory wiped")
	}
}

func (d *Dispatcher) canResetGroup(cfg *config.Config, ev *onebot.Event) bool {
	for _, owner := range cfg.OwnerIDs {
		if owner == ev.UserID {
			return true
		}
	}
	role := ev.Sender.Role
	return role == "admin" || role == "owner"
}

func (d *Dispatcher) replyText(ctx context.Context, ev *onebot.Event, text string) {
	segs := []onebot.Segment{onebot.Text(text)}
	var err error
	if ev.IsGroupMessage() {
		_, err = d.gw.SendGroupMsg(ctx, ev.GroupID, segs)
	} else {
		_, err = d.gw.SendPrivateMsg(ctx, ev.UserID, segs)
	}
	if err != nil {
		slog.Warn("command reply failed", "error", err)
	}
}

// handlePoke reacts to being poked, at most once per group per cooldown.
func (d *Dispatcher) handlePoke(ctx context.Context, cfg *config.Config, ev *onebot.Event) {
	if ev.GroupID == 0 || !cfg.GroupAllowed(ev.GroupID) {
		return
	}
	now := d.now()
	d.mu.Lock()
	if last, ok := d.pokeSeen[ev.GroupID]; ok && now.Sub(last) < pokeCooldown {
		d.mu.Unlock()
		return
	}
	d.pokeSeen[ev.GroupID] = now
	d.mu.Unlock()

	name := d.senderName(ctx, ev)
	synthetic := *ev
	synthetic.PostType = "message"
	synthetic.MessageType = "group"
	synthetic.Message = []onebot.Segment{onebot.Text("[" + name + " poked you]")}

	d.spawnChat(ctx, cfg, &synthetic, chatOpts{SkipPlanner: true, Synthetic: true})
}

func (d *Dispatcher) senderName(ctx context.Context, ev *onebot.Event) string {
	if n := ev.Sender.DisplayName(); n != "" {
		return n
	}
	if ev.GroupID != 0 {
		if m, err := d.gw.GetGroupMemberInfo(ctx, ev.GroupID, ev.UserID); err == nil {
			if m.Card != "" {
				return m.Card
			}
			if m.Nickname != "" {
				return m.Nickname
			}
		}
	}
	return "someone"
}

func (d *Dispatcher) spawnChat(ctx context.Context, cfg *config.Config, ev *onebot.Event, opts chatOpts) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("process_chat panicked", "panic", r)
			}
		}()
		d.processChat(ctx, cfg, ev, opts)
	}()
}
