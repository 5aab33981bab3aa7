package prompt

import (
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/mingle/internal/config"
)

func baseContext() *Context {
	return &Context{
		BotName:  "miku",
		Now:      time.Date(2024, 3, 15, 14, 30, 0, 0, time.UTC),
		ChatType: "group",
		GroupName: "dev chat",
		MemberCount: 12,
		BotRole:  "member",
		Persona:  "a sleepy cat person",
		Target:   TargetMessage{Name: "Bob", UserID: 42, MessageID: 555, Content: "hi"},
	}
}

func TestSectionOrder(t *testing.T) {
	c := baseContext()
	c.Iteration = 1
	c.ToolResults = []ToolResult{{Name: "get_group_member_info", Result: "{}"}}
	c.LoadedSkills = []string{"weather"}
	c.Expressions = "- says lol a lot"
	c.Memory = "Bob likes trains"
	c.Topics = "- mechanical keyboards: endless switch debate"
	c.History = []HistoryMessage{{Time: c.Now, Name: "Bob", Content: "hi"}}
	c.PlannerThought = "worth replying"

	out := Build(c)
	sections := []string{
		"## Tool results",
		"## Loaded skills",
		"## How people talk here",
		"## Things you remember",
		"## Ongoing topics",
		"## Environment",
		"## Recent messages",
		"## Target message",
		"## Your earlier thought",
		"## Who you are",
		"## How to reply",
		"## Response format",
	}
	last := -1
	for _, s := range sections {
		idx := strings.Index(out, s)
		if idx < 0 {
			t.Fatalf("section %q missing", s)
		}
		if idx < last {
			t.Errorf("section %q out of order", s)
		}
		last = idx
	}
}

func TestEmptySectionsOmitted(t *testing.T) {
	out := Build(baseContext())
	for _, s := range []string{"## Tool results", "## Loaded skills", "## How people talk here", "## Things you remember", "## Ongoing topics", "## Recent messages", "## Your earlier thought"} {
		if strings.Contains(out, s) {
			t.Errorf("empty section %q present", s)
		}
	}
	if !strings.Contains(out, "**Bob (id 555): hi**") {
		t.Error("target message block missing")
	}
}

func TestToolResultsOnlyAfterFirstIteration(t *testing.T) {
	c := baseContext()
	c.ToolResults = []ToolResult{{Name: "x", Result: "y"}}
	c.Iteration = 0
	if strings.Contains(Build(c), "## Tool results") {
		t.Error("tool results shown on iteration 0")
	}
	c.Iteration = 1
	if !strings.Contains(Build(c), "## Tool results") {
		t.Error("tool results missing on iteration 1")
	}
}

func TestAbuseRulesDependOnMute(t *testing.T) {
	c := baseContext()
	c.CanMute = true
	if !strings.Contains(Build(c), "auto_mute") {
		t.Error("mute-capable prompt should mention auto_mute")
	}
	c.CanMute = false
	if strings.Contains(Build(c), "auto_mute") {
		t.Error("non-admin prompt should not offer auto_mute")
	}
}

func TestHistoryLineRendering(t *testing.T) {
	m := HistoryMessage{
		Time: time.Date(2024, 3, 15, 9, 5, 0, 0, time.UTC),
		Name: "Alice", Role: "admin", Title: "VIP", MessageID: 77, Content: "morning",
	}
	got := renderHistoryLine(m)
	want := "[09:05] Alice(admin)[VIP] #77: morning"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	plain := renderHistoryLine(HistoryMessage{Time: m.Time, Name: "Bob", Role: "member", Content: "yo"})
	if plain != "[09:05] Bob: yo" {
		t.Errorf("plain line = %q", plain)
	}
}

func TestPickPersonality(t *testing.T) {
	cfg := config.PersonalityConfig{States: []string{"grumpy", "hyper"}, StateProbability: 1.0}
	rng := rand.New(rand.NewSource(1))
	if got := PickPersonality(cfg, rng); got != "grumpy" && got != "hyper" {
		t.Errorf("got %q", got)
	}
	cfg.StateProbability = 0
	if got := PickPersonality(cfg, rng); got != "" {
		t.Errorf("zero probability returned %q", got)
	}
}

func TestPickStyle(t *testing.T) {
	cfg := config.ReplyStyleConfig{BaseStyle: "casual", MultipleStyles: []string{"dramatic"}, MultipleProbability: 0}
	rng := rand.New(rand.NewSource(1))
	if got := PickStyle(cfg, rng); got != "casual" {
		t.Errorf("got %q, want base style", got)
	}
	cfg.MultipleProbability = 1
	if got := PickStyle(cfg, rng); got != "dramatic" {
		t.Errorf("got %q, want dramatic", got)
	}
}
