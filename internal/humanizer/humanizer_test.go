package humanizer

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/nextlevelbuilder/mingle/internal/llm"
	"github.com/nextlevelbuilder/mingle/internal/store"
)

// stubGen returns canned text and records prompts.
type stubGen struct {
	resp    string
	err     error
	calls   int
	prompts []string
}

func (s *stubGen) GenerateText(ctx context.Context, req llm.TextRequest) (string, error) {
	s.calls++
	s.prompts = append(s.prompts, req.Prompt)
	return s.resp, s.err
}

// stubChat replays scripted responses and records every request.
type stubChat struct {
	responses []*llm.ChatResponse
	requests  []llm.ChatRequest
}

func (s *stubChat) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	s.requests = append(s.requests, req)
	if len(s.responses) == 0 {
		return &llm.ChatResponse{}, nil
	}
	r := s.responses[0]
	s.responses = s.responses[1:]
	return r, nil
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}
