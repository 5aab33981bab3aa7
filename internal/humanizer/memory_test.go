package humanizer

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/mingle/internal/config"
	"github.com/nextlevelbuilder/mingle/internal/llm"
	"github.com/nextlevelbuilder/mingle/internal/store"
)

func memoryConfig() config.MemoryConfig {
	return config.MemoryConfig{Enabled: true, MaxIterations: 3, TimeoutMs: 15_000}
}

func TestMemory_Disabled(t *testing.T) {
	gen := &stubGen{}
	m := NewMemory(gen, &stubChat{}, openTestStore(t), config.MemoryConfig{Enabled: false})
	if got := m.Retrieve(context.Background(), "group:1", "Bob", "hi", nil); got != "" {
		t.Errorf("disabled memory returned %q", got)
	}
	if gen.calls != 0 {
		t.Error("disabled memory must not call the model")
	}
}

func TestMemory_SentinelShortCircuits(t *testing.T) {
	chat := &stubChat{}
	m := NewMemory(&stubGen{resp: "NO_RETRIEVAL_NEEDED"}, chat, openTestStore(t), memoryConfig())
	if got := m.Retrieve(context.Background(), "group:1", "Bob", "hi", nil); got != "" {
		t.Errorf("got %q", got)
	}
	if len(chat.requests) != 0 {
		t.Error("sentinel should skip the search stage")
	}
	// Sentinel anywhere in the response counts.
	m2 := NewMemory(&stubGen{resp: "I think NO_RETRIEVAL_NEEDED here."}, chat, openTestStore(t), memoryConfig())
	if got := m2.Retrieve(context.Background(), "group:1", "Bob", "hi", nil); got != "" {
		t.Errorf("embedded sentinel: got %q", got)
	}
}

func TestMemory_FoundAnswerTerminates(t *testing.T) {
	chat := &stubChat{responses: []*llm.ChatResponse{
		{ToolCalls: []llm.ToolCall{{ID: "c1", Name: "search_chat_history", Arguments: `{"keyword":"train"}`}}},
		{ToolCalls: []llm.ToolCall{{ID: "c2", Name: "found_answer", Arguments: `{"answer":"Bob likes trains","found":true}`}}},
	}}
	st := openTestStore(t)
	st.SaveMessage(&store.Message{SessionID: "group:1", Role: store.RoleUser, UserName: "Bob", Content: "I love trains", Timestamp: time.Now()})

	m := NewMemory(&stubGen{resp: "What does Bob like?"}, chat, st, memoryConfig())
	got := m.Retrieve(context.Background(), "group:1", "Alice", "what does bob like?", nil)
	if got != "Bob likes trains" {
		t.Errorf("got %q", got)
	}
	if len(chat.requests) != 2 {
		t.Fatalf("made %d completions, want 2", len(chat.requests))
	}
	// Every emitted tool call id has exactly one tool-result message.
	second := chat.requests[1].Messages
	var results []llm.Message
	for _, msg := range second {
		if msg.Role == llm.RoleTool {
			results = append(results, msg)
		}
	}
	if len(results) != 1 || results[0].ToolCallID != "c1" {
		t.Errorf("tool results = %+v", results)
	}
	if !strings.Contains(results[0].Content, "I love trains") {
		t.Errorf("search result missing: %q", results[0].Content)
	}
}

func TestMemory_NotFoundReturnsNothing(t *testing.T) {
	chat := &stubChat{responses: []*llm.ChatResponse{
		{ToolCalls: []llm.ToolCall{{ID: "c1", Name: "found_answer", Arguments: `{"found":false}`}}},
	}}
	m := NewMemory(&stubGen{resp: "Question?"}, chat, openTestStore(t), memoryConfig())
	if got := m.Retrieve(context.Background(), "group:1", "Bob", "hi", nil); got != "" {
		t.Errorf("found=false returned %q", got)
	}
}

func TestMemory_IterationCapReturnsAccumulated(t *testing.T) {
	st := openTestStore(t)
	st.SaveMessage(&store.Message{SessionID: "group:1", Role: store.RoleUser, UserName: "Bob", Content: "cats rule", Timestamp: time.Now()})

	// The model searches forever and never calls found_answer.
	search := &llm.ChatResponse{ToolCalls: []llm.ToolCall{{ID: "c", Name: "search_chat_history", Arguments: `{"keyword":"cats"}`}}}
	chat := &stubChat{responses: []*llm.ChatResponse{search, search, search, search}}

	m := NewMemory(&stubGen{resp: "Question?"}, chat, st, memoryConfig())
	got := m.Retrieve(context.Background(), "group:1", "Alice", "cats?", nil)
	if !strings.Contains(got, "cats rule") {
		t.Errorf("accumulated output missing search results: %q", got)
	}
	if len(chat.requests) != 3 {
		t.Errorf("made %d completions, want max_iterations=3", len(chat.requests))
	}
}

func TestMemory_BadArgumentsBecomeEmpty(t *testing.T) {
	chat := &stubChat{responses: []*llm.ChatResponse{
		{ToolCalls: []llm.ToolCall{{ID: "c1", Name: "search_chat_history", Arguments: "not json"}}},
	}}
	m := NewMemory(&stubGen{resp: "Question?"}, chat, openTestStore(t), memoryConfig())
	// Must not panic; malformed args degrade to an empty search.
	if got := m.Retrieve(context.Background(), "group:1", "Bob", "hi", nil); got != "" {
		t.Errorf("got %q", got)
	}
}
