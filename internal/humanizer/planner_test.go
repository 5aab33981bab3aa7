package humanizer

import (
	"context"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/mingle/internal/config"
	"github.com/nextlevelbuilder/mingle/internal/store"
)

func TestPlanner_Disabled(t *testing.T) {
	gen := &stubGen{}
	p := NewPlanner(gen, config.PlannerConfig{Enabled: false})
	d := p.Plan(context.Background(), "group:1", "miku", "hi", nil)
	if d.Action != ActionReply {
		t.Errorf("action = %q", d.Action)
	}
	if gen.calls != 0 {
		t.Error("disabled planner must not call the model")
	}
}

func TestPlanner_ParsesDecision(t *testing.T) {
	tests := []struct {
		name       string
		resp       string
		wantAction string
		wantWaitMS int64
	}{
		{"reply", `{"action":"reply","reason":"direct question"}`, ActionReply, 0},
		{"complete", `{"action":"complete","reason":"done"}`, ActionComplete, 0},
		{"wait clamped low", `{"action":"wait","wait_seconds":2}`, ActionWait, 10_000},
		{"wait clamped high", `{"action":"wait","wait_seconds":900}`, ActionWait, 300_000},
		{"wait in range", `{"action":"wait","wait_seconds":30}`, ActionWait, 30_000},
		{"fenced json", "```json\n{\"action\":\"wait\",\"wait_seconds\":30}\n```", ActionWait, 30_000},
		{"garbage defaults to reply", "no json here", ActionReply, 0},
		{"unknown action defaults to reply", `{"action":"ponder"}`, ActionReply, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPlanner(&stubGen{resp: tt.resp}, config.PlannerConfig{Enabled: true})
			d := p.Plan(context.Background(), "group:1", "miku", "hi", nil)
			if d.Action != tt.wantAction {
				t.Errorf("action = %q, want %q", d.Action, tt.wantAction)
			}
			if d.WaitMS != tt.wantWaitMS {
				t.Errorf("waitMS = %d, want %d", d.WaitMS, tt.wantWaitMS)
			}
		})
	}
}

func TestPlanner_ErrorDefaultsToReply(t *testing.T) {
	p := NewPlanner(&stubGen{err: context.DeadlineExceeded}, config.PlannerConfig{Enabled: true})
	if d := p.Plan(context.Background(), "group:1", "miku", "hi", nil); d.Action != ActionReply {
		t.Errorf("action = %q", d.Action)
	}
}

func TestPlanner_DecisionLog(t *testing.T) {
	p := NewPlanner(&stubGen{resp: `{"action":"reply"}`}, config.PlannerConfig{Enabled: true})
	for i := 0; i < 30; i++ {
		p.Plan(context.Background(), "group:1", "miku", "hi", nil)
	}
	p.mu.Lock()
	stored := len(p.decisions["group:1"])
	p.mu.Unlock()
	if stored != plannerDecisionLimit {
		t.Errorf("stored %d decisions, want %d", stored, plannerDecisionLimit)
	}
	if got := len(p.Recent("group:1")); got != plannerRecallLimit {
		t.Errorf("Recent returned %d, want %d", got, plannerRecallLimit)
	}
}

func TestPlanner_PromptIncludesHistoryAndDecisions(t *testing.T) {
	gen := &stubGen{resp: `{"action":"reply"}`}
	p := NewPlanner(gen, config.PlannerConfig{Enabled: true})
	history := []store.Message{
		{Role: store.RoleUser, UserName: "Bob", Content: "anyone around?"},
		{Role: store.RoleAssistant, Content: "yeah"},
	}
	p.Plan(context.Background(), "group:1", "miku", "really?", history)
	p.Plan(context.Background(), "group:1", "miku", "again?", history)

	last := gen.prompts[len(gen.prompts)-1]
	if !strings.Contains(last, "Bob: anyone around?") || !strings.Contains(last, "miku: yeah") {
		t.Errorf("history missing from prompt:\n%s", last)
	}
	if !strings.Contains(last, "Your recent decisions:") {
		t.Error("prior decisions missing from second prompt")
	}
}
