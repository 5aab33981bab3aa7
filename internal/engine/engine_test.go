package engine

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/mingle/internal/config"
	"github.com/nextlevelbuilder/mingle/internal/llm"
	"github.com/nextlevelbuilder/mingle/internal/onebot"
	"github.com/nextlevelbuilder/mingle/internal/prompt"
	"github.com/nextlevelbuilder/mingle/internal/store"
	"github.com/nextlevelbuilder/mingle/internal/tools"
)

// scriptedLLM replays responses and records each request.
type scriptedLLM struct {
	responses []*llm.ChatResponse
	requests  []llm.ChatRequest
}

func (s *scriptedLLM) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	s.requests = append(s.requests, req)
	if len(s.responses) == 0 {
		return &llm.ChatResponse{}, nil
	}
	r := s.responses[0]
	if len(s.responses) > 1 {
		s.responses = s.responses[1:]
	}
	return r, nil
}

type recordingSaver struct{ saved []*store.Message }

func (r *recordingSaver) SaveMessage(m *store.Message) error {
	r.saved = append(r.saved, m)
	return nil
}

type staticSkills struct{ tools map[string]*tools.Tool }

func (s *staticSkills) SessionTools(string) map[string]*tools.Tool { return s.tools }

// minimal gateway: member info only, everything else unused by these tests.
type testGateway struct{ onebot.Gateway }

func (testGateway) SelfID() int64 { return 999 }
func (testGateway) GetGroupMemberInfo(ctx context.Context, gid, uid int64) (*onebot.GroupMember, error) {
	return &onebot.GroupMember{GroupID: gid, UserID: uid, Nickname: "Bob", Role: "member"}, nil
}
func (testGateway) GroupPoke(ctx context.Context, gid, uid int64) error { return nil }

func testRequest() *Request {
	cfg := config.Default()
	cfg.APIKey = "k"
	return &Request{
		SessionID: "group:100",
		GroupID:   100,
		Trigger:   "hi",
		PromptCtx: &prompt.Context{
			BotName:  "miku",
			Now:      time.Now(),
			ChatType: "group",
			Persona:  "test persona",
			Target:   prompt.TargetMessage{Name: "Bob", UserID: 42, MessageID: 1, Content: "hi"},
		},
		ToolCtx: &tools.ToolContext{
			Gateway:   testGateway{},
			SessionID: "group:100",
			GroupID:   100,
			UserID:    42,
			Cfg:       cfg,
			BotRole:   tools.RoleMember,
		},
	}
}

func newTestEngine(l LLM) (*Engine, *recordingSaver) {
	saver := &recordingSaver{}
	return New(l, saver, &staticSkills{}, nil), saver
}

func TestRun_PlainReplySplitsOnSeparator(t *testing.T) {
	mock := &scriptedLLM{responses: []*llm.ChatResponse{
		{Content: "hey\n---\nhow's it going?"},
	}}
	e, saver := newTestEngine(mock)

	res, err := e.Run(context.Background(), testRequest())
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Messages) != 2 || res.Messages[0] != "hey" || res.Messages[1] != "how's it going?" {
		t.Errorf("messages = %q", res.Messages)
	}
	if len(mock.requests) != 1 {
		t.Errorf("completions = %d, want 1", len(mock.requests))
	}
	// Raw text persisted, separator intact.
	if len(saver.saved) != 1 || saver.saved[0].Content != "hey\n---\nhow's it going?" {
		t.Errorf("persisted = %+v", saver.saved)
	}
	if saver.saved[0].Role != store.RoleAssistant {
		t.Errorf("role = %q", saver.saved[0].Role)
	}
}

func TestRun_ToolLoop(t *testing.T) {
	mock := &scriptedLLM{responses: []*llm.ChatResponse{
		{ToolCalls: []llm.ToolCall{
			{ID: "1", Name: "at_user", Arguments: `{"user_id": 42}`},
			{ID: "2", Name: "get_group_member_info", Arguments: `{"user_id": 42}`},
		}},
		{Content: "ok Bob\n"},
	}}
	e, _ := newTestEngine(mock)

	res, err := e.Run(context.Background(), testRequest())
	if err != nil {
		t.Fatal(err)
	}
	if len(mock.requests) != 2 {
		t.Fatalf("completions = %d, want 2", len(mock.requests))
	}
	if len(res.PendingAts) != 1 || res.PendingAts[0] != 42 {
		t.Errorf("pendingAts = %v", res.PendingAts)
	}
	if len(res.Messages) != 1 || res.Messages[0] != "ok Bob" {
		t.Errorf("messages = %q", res.Messages)
	}
	if len(res.ToolCalls) != 2 {
		t.Errorf("tool calls recorded = %d", len(res.ToolCalls))
	}
	// The member-info result reaches the second prompt.
	sys := mock.requests[1].Messages[0].Content
	if !strings.Contains(sys, "## Tool results") || !strings.Contains(sys, "Bob") {
		t.Errorf("tool results missing from second prompt:\n%s", sys)
	}
	// And not the first.
	if strings.Contains(mock.requests[0].Messages[0].Content, "## Tool results") {
		t.Error("tool results present on iteration 0")
	}
}

func TestRun_EndSession(t *testing.T) {
	mock := &scriptedLLM{responses: []*llm.ChatResponse{
		{Content: "thinking...", ToolCalls: []llm.ToolCall{
			{ID: "1", Name: "end_session", Arguments: `{"reason":"nothing to add"}`},
		}},
	}}
	e, saver := newTestEngine(mock)

	res, err := e.Run(context.Background(), testRequest())
	if err != nil {
		t.Fatal(err)
	}
	if !res.Ended || len(res.Messages) != 0 {
		t.Errorf("res = %+v", res)
	}
	if len(saver.saved) != 0 {
		t.Error("end_session must not persist an assistant row")
	}
}

func TestRun_QuoteReply(t *testing.T) {
	mock := &scriptedLLM{responses: []*llm.ChatResponse{
		{ToolCalls: []llm.ToolCall{{ID: "1", Name: "quote_reply", Arguments: `{"message_id": 555}`}}},
		{Content: "that one"},
	}}
	e, _ := newTestEngine(mock)
	res, err := e.Run(context.Background(), testRequest())
	if err != nil {
		t.Fatal(err)
	}
	if res.PendingQuote != 555 {
		t.Errorf("pendingQuote = %d", res.PendingQuote)
	}
	// Control tools alone don't keep the loop running; but with no
	// returning tools the loop breaks after dispatching them.
	if len(mock.requests) != 1 {
		t.Errorf("completions = %d, want 1", len(mock.requests))
	}
}

func TestRun_NonReturningToolBreaksLoop(t *testing.T) {
	mock := &scriptedLLM{responses: []*llm.ChatResponse{
		{Content: "poking", ToolCalls: []llm.ToolCall{{ID: "1", Name: "poke_user", Arguments: `{"user_id": 42}`}}},
	}}
	e, _ := newTestEngine(mock)
	res, err := e.Run(context.Background(), testRequest())
	if err != nil {
		t.Fatal(err)
	}
	if len(mock.requests) != 1 {
		t.Errorf("completions = %d, want 1", len(mock.requests))
	}
	if len(res.Messages) != 1 || res.Messages[0] != "poking" {
		t.Errorf("messages = %q", res.Messages)
	}
}

func TestRun_IterationCap(t *testing.T) {
	// Model loops forever on a returning tool.
	loop := &llm.ChatResponse{ToolCalls: []llm.ToolCall{
		{ID: "1", Name: "get_group_member_info", Arguments: `{"user_id": 42}`},
	}}
	mock := &scriptedLLM{responses: []*llm.ChatResponse{loop}}
	e, _ := newTestEngine(mock)

	req := testRequest()
	req.MaxIterations = 3
	if _, err := e.Run(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	if len(mock.requests) != 3 {
		t.Errorf("completions = %d, want 3", len(mock.requests))
	}

	// -1 means uncapped, which still stops at the safety limit.
	mock2 := &scriptedLLM{responses: []*llm.ChatResponse{loop}}
	e2, _ := newTestEngine(mock2)
	req2 := testRequest()
	req2.MaxIterations = -1
	if _, err := e2.Run(context.Background(), req2); err != nil {
		t.Fatal(err)
	}
	if len(mock2.requests) != uncappedIterations {
		t.Errorf("completions = %d, want %d", len(mock2.requests), uncappedIterations)
	}
}

func TestRun_UnknownToolErrorReturns(t *testing.T) {
	mock := &scriptedLLM{responses: []*llm.ChatResponse{
		{ToolCalls: []llm.ToolCall{{ID: "1", Name: "no_such_tool", Arguments: `{}`}}},
		{Content: "fine"},
	}}
	e, _ := newTestEngine(mock)
	res, err := e.Run(context.Background(), testRequest())
	if err != nil {
		t.Fatal(err)
	}
	if len(mock.requests) != 2 {
		t.Fatalf("completions = %d, want 2", len(mock.requests))
	}
	sys := mock.requests[1].Messages[0].Content
	if !strings.Contains(sys, "unknown tool") {
		t.Error("error result not fed back to the model")
	}
	if len(res.Messages) != 1 {
		t.Errorf("messages = %q", res.Messages)
	}
}

func TestRun_SessionSkillToolVisibleAndCallable(t *testing.T) {
	called := false
	skillTool := &tools.Tool{
		Name:        "current",
		Description: "current weather",
		ReturnToAI:  true,
		Handler: func(context.Context, map[string]any) (string, error) {
			called = true
			return "sunny", nil
		},
	}
	mock := &scriptedLLM{responses: []*llm.ChatResponse{
		{ToolCalls: []llm.ToolCall{{ID: "1", Name: "weather.current", Arguments: `{}`}}},
		{Content: "it's sunny"},
	}}
	saver := &recordingSaver{}
	e := New(mock, saver, &staticSkills{tools: map[string]*tools.Tool{"weather.current": skillTool}}, nil)

	res, err := e.Run(context.Background(), testRequest())
	if err != nil {
		t.Fatal(err)
	}
	if !called {
		t.Error("skill tool handler not invoked")
	}
	if res.Messages[0] != "it's sunny" {
		t.Errorf("messages = %q", res.Messages)
	}
	// Qualified name offered to the model.
	found := false
	for _, d := range mock.requests[0].Tools {
		if d.Name == "weather.current" {
			found = true
		}
	}
	if !found {
		t.Error("session tool not declared to the model")
	}
}

func TestSplitReply(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"single", "hey", []string{"hey"}},
		{"two parts", "a\n---\nb", []string{"a", "b"}},
		{"separator with spaces", "a\n --- \nb", []string{"a", "b"}},
		{"empty segments dropped", "---\na\n---\n---\n", []string{"a"}},
		{"inline dashes kept", "a --- b", []string{"a --- b"}},
		{"empty", "", nil},
		{"whitespace only", "  \n \n", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SplitReply(tt.in)
			if len(got) != len(tt.want) {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("part %d = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}
