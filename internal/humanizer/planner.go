package humanizer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/nextlevelbuilder/mingle/internal/config"
	"github.com/nextlevelbuilder/mingle/internal/llm"
	"github.com/nextlevelbuilder/mingle/internal/store"
)

// Planner actions.
const (
	ActionReply    = "reply"
	ActionWait     = "wait"
	ActionComplete = "complete"
)

const (
	plannerHistoryLimit  = 20
	plannerDecisionLimit = 20
	plannerRecallLimit   = 5

	minWaitSeconds = 10
	maxWaitSeconds = 300
)

// Decision is the planner's advice for one trigger.
type Decision struct {
	Action string `json:"action"`
	Reason string `json:"reason"`
	// WaitSeconds is the model's suggested pause; WaitMS is the clamped
	// value the dispatcher would act on.
	WaitSeconds int   `json:"wait_seconds"`
	WaitMS      int64 `json:"-"`
}

// Planner asks a cheap model whether the bot should reply, wait, or
// consider the thread complete. Purely advisory; on any failure it
// defaults to reply so the bot never goes mute from planner errors.
type Planner struct {
	gen TextGenerator
	cfg config.PlannerConfig

	mu        sync.Mutex
	decisions map[string][]Decision // session ID → recent decisions
}

func NewPlanner(gen TextGenerator, cfg config.PlannerConfig) *Planner {
	return &Planner{gen: gen, cfg: cfg, decisions: make(map[string][]Decision)}
}

// Plan decides what to do about a trigger. History should be the most
// recent messages, ascending.
func (p *Planner) Plan(ctx context.Context, sessionID, botName, trigger string, history []store.Message) Decision {
	if !p.cfg.Enabled {
		return p.record(sessionID, Decision{Action: ActionReply, Reason: "planner disabled"})
	}

	resp, err := p.gen.GenerateText(ctx, llm.TextRequest{
		System:      "You decide whether a group-chat member should respond right now. Answer with JSON only.",
		Prompt:      p.buildPrompt(sessionID, botName, trigger, history),
		Temperature: 0.2,
		MaxTokens:   200,
	})
	if err != nil {
		slog.Warn("planner call failed, defaulting to reply", "session", sessionID, "error", err)
		return p.record(sessionID, Decision{Action: ActionReply, Reason: "planner error"})
	}

	var d Decision
	if err := llm.DecodeLoose(resp, &d); err != nil {
		slog.Warn("planner output unparseable, defaulting to reply", "session", sessionID, "raw", truncate(resp, 120))
		return p.record(sessionID, Decision{Action: ActionReply, Reason: "unparseable planner output"})
	}

	switch d.Action {
	case ActionReply, ActionComplete:
	case ActionWait:
		if d.WaitSeconds < minWaitSeconds {
			d.WaitSeconds = minWaitSeconds
		}
		if d.WaitSeconds > maxWaitSeconds {
			d.WaitSeconds = maxWaitSeconds
		}
		d.WaitMS = int64(d.WaitSeconds) * 1000
	default:
		d = Decision{Action: ActionReply, Reason: "unknown action " + d.Action}
	}
	return p.record(sessionID, d)
}

func (p *Planner) buildPrompt(sessionID, botName, trigger string, history []store.Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %q, one member of a group chat.\n\n", botName)

	if len(history) > plannerHistoryLimit {
		history = history[len(history)-plannerHistoryLimit:]
	}
	if len(history) > 0 {
		b.WriteString("Recent messages:\n")
		for _, m := range history {
			name := m.UserName
			if m.Role == store.RoleAssistant {
				name = botName
			}
			fmt.Fprintf(&b, "%s: %s\n", name, m.Content)
		}
		b.WriteString("\n")
	}

	if prev := p.Recent(sessionID); len(prev) > 0 {
		b.WriteString("Your recent decisions:\n")
		for _, d := range prev {
			fmt.Fprintf(&b, "- %s (%s)\n", d.Action, d.Reason)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Latest message: %s\n\n", trigger)
	b.WriteString(`Respond with JSON: {"action": "reply"|"wait"|"complete", "reason": "...", "wait_seconds": N}.
reply = say something now. wait = let the conversation breathe, maybe respond later. complete = the thread needs nothing from you.`)
	return b.String()
}

// Recent returns up to the last five decisions for the session.
func (p *Planner) Recent(sessionID string) []Decision {
	p.mu.Lock()
	defer p.mu.Unlock()
	log := p.decisions[sessionID]
	if len(log) > plannerRecallLimit {
		log = log[len(log)-plannerRecallLimit:]
	}
	out := make([]Decision, len(log))
	copy(out, log)
	return out
}

func (p *Planner) record(sessionID string, d Decision) Decision {
	p.mu.Lock()
	defer p.mu.Unlock()
	log := append(p.decisions[sessionID], d)
	if len(log) > plannerDecisionLimit {
		log = log[len(log)-plannerDecisionLimit:]
	}
	p.decisions[sessionID] = log
	return d
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
