package humanizer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nextlevelbuilder/mingle/internal/config"
	"github.com/nextlevelbuilder/mingle/internal/llm"
	"github.com/nextlevelbuilder/mingle/internal/store"
)

// NoRetrievalNeeded is the stage-1 sentinel: the trigger can be answered
// without digging through history.
const NoRetrievalNeeded = "NO_RETRIEVAL_NEEDED"

const (
	memoryHistoryLimit = 15
	memorySearchLimit  = 10
)

// MemoryStore is the slice of the store the search tools need.
type MemoryStore interface {
	SearchMessages(sessionID, keyword string, limit int) ([]store.Message, error)
	GetMessagesByUser(userID int64, sessionID string, limit int) ([]store.Message, error)
}

// Memory answers "does the bot need to remember anything for this reply?"
// with a two-stage loop: generate one key question, then run a small
// search agent over chat history until it finds an answer or runs out of
// budget.
type Memory struct {
	gen  TextGenerator
	chat ChatCompleter
	st   MemoryStore
	cfg  config.MemoryConfig
}

func NewMemory(gen TextGenerator, chat ChatCompleter, st MemoryStore, cfg config.MemoryConfig) *Memory {
	return &Memory{gen: gen, chat: chat, st: st, cfg: cfg}
}

// Retrieve returns retrieved context for the prompt, or "" when nothing
// is needed or nothing was found. Errors are logged, never propagated;
// a reply without memory beats no reply.
func (m *Memory) Retrieve(ctx context.Context, sessionID, senderName, trigger string, history []store.Message) string {
	if !m.cfg.Enabled {
		return ""
	}
	timeout := time.Duration(m.cfg.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	question, err := m.generateQuestion(ctx, senderName, trigger, history)
	if err != nil {
		slog.Warn("memory question generation failed", "session", sessionID, "error", err)
		return ""
	}
	if question == "" {
		return ""
	}
	return m.search(ctx, sessionID, question)
}

func (m *Memory) generateQuestion(ctx context.Context, senderName, trigger string, history []store.Message) (string, error) {
	var b strings.Builder
	if len(history) > memoryHistoryLimit {
		history = history[len(history)-memoryHistoryLimit:]
	}
	for _, msg := range history {
		fmt.Fprintf(&b, "%s: %s\n", msg.UserName, msg.Content)
	}
	fmt.Fprintf(&b, "\n%s just said: %s\n\n", senderName, trigger)
	fmt.Fprintf(&b, "If replying well requires a specific fact from older chat history, state that ONE question. Otherwise answer exactly %s.", NoRetrievalNeeded)

	resp, err := m.gen.GenerateText(ctx, llm.TextRequest{
		System:      "You prepare memory lookups for a chat participant.",
		Prompt:      b.String(),
		Temperature: 0.2,
		MaxTokens:   100,
	})
	if err != nil {
		return "", err
	}
	if strings.Contains(resp, NoRetrievalNeeded) {
		return "", nil
	}
	return strings.TrimSpace(resp), nil
}

var memoryTools = []llm.ToolDef{
	{
		Name:        "search_chat_history",
		Description: "Search this chat's history for messages containing a keyword.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"keyword": map[string]any{"type": "string"},
			},
			"required": []string{"keyword"},
		},
	},
	{
		Name:        "search_user_history",
		Description: "Fetch a user's recent messages across all chats.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"user_id": map[string]any{"type": "integer"},
			},
			"required": []string{"user_id"},
		},
	},
	{
		Name:        "found_answer",
		Description: "Report the final answer, or found=false when the history has nothing.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"answer": map[string]any{"type": "string"},
				"found":  map[string]any{"type": "boolean"},
			},
			"required": []string{"found"},
		},
	},
}

// search drives the bounded agent loop. Returns the found answer, or the
// accumulated tool output on cap/timeout, or "".
func (m *Memory) search(ctx context.Context, sessionID, question string) string {
	maxIter := m.cfg.MaxIterations
	if maxIter <= 0 {
		maxIter = 3
	}

	msgs := []llm.Message{
		{Role: llm.RoleSystem, Content: "You search chat history to answer one question. Use the tools; when you know the answer (or know it is not there), call found_answer."},
		{Role: llm.RoleUser, Content: "Question: " + question},
	}
	var accumulated []string

	for i := 0; i < maxIter; i++ {
		resp, err := m.chat.Chat(ctx, llm.ChatRequest{
			Messages:    msgs,
			Tools:       memoryTools,
			Temperature: 0.2,
			MaxTokens:   400,
		})
		if err != nil {
			slog.Debug("memory search aborted", "session", sessionID, "iteration", i, "error", err)
			break
		}
		if len(resp.ToolCalls) == 0 {
			break
		}

		msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Content: resp.Content, ToolCalls: resp.ToolCalls})
		done := false
		var answer string
		for _, call := range resp.ToolCalls {
			var args map[string]any
			if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
				args = map[string]any{}
			}
			result := m.runSearchTool(sessionID, call.Name, args)
			if call.Name == "found_answer" {
				done = true
				if found, _ := args["found"].(bool); found {
					answer, _ = args["answer"].(string)
				}
			} else if result != "" {
				accumulated = append(accumulated, result)
			}
			// One result per call id, even for the terminal tool.
			msgs = append(msgs, llm.Message{Role: llm.RoleTool, ToolCallID: call.ID, Name: call.Name, Content: result})
		}
		if done {
			return answer
		}
	}
	return strings.Join(accumulated, "\n")
}

func (m *Memory) runSearchTool(sessionID, name string, args map[string]any) string {
	switch name {
	case "search_chat_history":
		keyword, _ := args["keyword"].(string)
		if keyword == "" {
			return ""
		}
		found, err := m.st.SearchMessages(sessionID, keyword, memorySearchLimit)
		if err != nil {
			return ""
		}
		return formatFound(found)
	case "search_user_history":
		var userID int64
		if f, ok := args["user_id"].(float64); ok {
			userID = int64(f)
		}
		if userID == 0 {
			return ""
		}
		found, err := m.st.GetMessagesByUser(userID, "", memorySearchLimit)
		if err != nil {
			return ""
		}
		return formatFound(found)
	case "found_answer":
		return "ok"
	default:
		return ""
	}
}

func formatFound(msgs []store.Message) string {
	if len(msgs) == 0 {
		return "no matches"
	}
	var b strings.Builder
	for _, m := range msgs {
		fmt.Fprintf(&b, "[%s] %s: %s\n", m.Timestamp.Format("01-02 15:04"), m.UserName, m.Content)
	}
	return strings.TrimRight(b.String(), "\n")
}
