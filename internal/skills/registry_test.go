package skills

import (
	"context"
	"testing"
	"time"

	"github.com/nextlevelbuilder/mingle/internal/tools"
)

func echoTool(name string) *tools.Tool {
	return &tools.Tool{
		Name:       name,
		Handler:    func(context.Context, map[string]any) (string, error) { return name, nil },
		ReturnToAI: true,
	}
}

func testRegistry() (*Registry, *time.Time) {
	r := NewRegistry()
	now := time.Unix(1_700_000_000, 0)
	r.now = func() time.Time { return now }
	r.Register(&tools.Skill{
		Name:  "weather",
		Tools: []*tools.Tool{echoTool("current"), echoTool("forecast")},
	})
	return r, &now
}

func TestLoadQualifiesToolNames(t *testing.T) {
	r, _ := testRegistry()

	ss, err := r.Load("group:1", "weather")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := ss.Tools["weather.current"]; !ok {
		t.Errorf("missing qualified tool, have %v", ss.Tools)
	}

	got := r.SessionTools("group:1")
	if len(got) != 2 {
		t.Fatalf("session tools = %d, want 2", len(got))
	}
	if _, ok := got["weather.forecast"]; !ok {
		t.Error("forecast not visible")
	}

	if _, err := r.Load("group:1", "nope"); err == nil {
		t.Error("unknown skill should error")
	}
}

func TestExpiryIsLazy(t *testing.T) {
	r, now := testRegistry()
	r.Load("group:1", "weather")

	*now = now.Add(59 * time.Minute)
	if len(r.SessionTools("group:1")) != 2 {
		t.Error("tools should survive inside the TTL")
	}

	*now = now.Add(2 * time.Minute)
	if got := r.SessionTools("group:1"); len(got) != 0 {
		t.Errorf("expired tools still visible: %v", got)
	}
	if names := r.Loaded("group:1"); len(names) != 0 {
		t.Errorf("expired skill still listed: %v", names)
	}
}

func TestReloadRefreshesTTL(t *testing.T) {
	r, now := testRegistry()
	r.Load("group:1", "weather")

	*now = now.Add(50 * time.Minute)
	r.Load("group:1", "weather")

	*now = now.Add(50 * time.Minute)
	if len(r.SessionTools("group:1")) != 2 {
		t.Error("reload should have reset the TTL")
	}
}

func TestUnloadAndSweep(t *testing.T) {
	r, now := testRegistry()
	r.Load("group:1", "weather")
	r.Load("group:2", "weather")

	r.Unload("group:1", "weather")
	if len(r.SessionTools("group:1")) != 0 {
		t.Error("unloaded skill still visible")
	}

	*now = now.Add(2 * time.Hour)
	if purged := r.Sweep(); purged != 1 {
		t.Errorf("sweep purged %d, want 1", purged)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.sessions) != 0 {
		t.Errorf("empty session maps not removed: %d", len(r.sessions))
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	r, _ := testRegistry()
	r.Load("group:1", "weather")
	if len(r.SessionTools("group:2")) != 0 {
		t.Error("skill leaked across sessions")
	}
}
