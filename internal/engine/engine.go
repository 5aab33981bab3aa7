// Package engine drives the bounded tool-calling loop that turns one
// trigger into outbound chat messages.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/mingle/internal/llm"
	"github.com/nextlevelbuilder/mingle/internal/prompt"
	"github.com/nextlevelbuilder/mingle/internal/store"
	"github.com/nextlevelbuilder/mingle/internal/tools"
)

const (
	defaultMaxIterations = 20
	// Cap applied when the configured max is -1 ("unbounded"): a runaway
	// loop burns tokens fast.
	uncappedIterations = 64
)

// LLM is the completion surface the engine needs.
type LLM interface {
	Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error)
}

// MessageSaver persists the assistant's raw reply.
type MessageSaver interface {
	SaveMessage(m *store.Message) error
}

// SkillTools supplies the session's loaded skill tools each iteration.
type SkillTools interface {
	SessionTools(sessionID string) map[string]*tools.Tool
}

// EmojiPicker maybe returns a sticker path for the reply.
type EmojiPicker interface {
	Pick(ctx context.Context, replyText string) string
}

// Request is one engine run.
type Request struct {
	SessionID string
	GroupID   int64
	// PromptCtx is re-rendered every iteration with fresh tool results.
	PromptCtx *prompt.Context
	// ToolCtx binds the fixed catalog to this message.
	ToolCtx *tools.ToolContext
	// Trigger is the user-visible content of the target message.
	Trigger string

	Temperature   float32
	MaxIterations int // 0 = default, -1 = uncapped (still safety-limited)
}

// Result is what the dispatcher emits.
type Result struct {
	// Messages are the reply bodies, split on --- separator lines.
	Messages []string
	// PendingAts are user IDs to @-mention on the first outbound.
	PendingAts []int64
	// PendingQuote is the message ID to quote on the first outbound, 0 for none.
	PendingQuote int32
	ToolCalls    []llm.ToolCall
	EmojiPath    string
	Reasoning    string
	// Ended is set when the model called end_session: emit nothing.
	Ended bool
}

type Engine struct {
	llm    LLM
	saver  MessageSaver
	skills SkillTools
	emojis EmojiPicker // nil disables stickers
	tracer trace.Tracer
}

func New(l LLM, saver MessageSaver, skills SkillTools, emojis EmojiPicker) *Engine {
	return &Engine{
		llm:    l,
		saver:  saver,
		skills: skills,
		emojis: emojis,
		tracer: otel.Tracer("mingle/engine"),
	}
}

// Run executes the tool loop and returns the parsed reply.
func (e *Engine) Run(ctx context.Context, req *Request) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "engine.run", trace.WithAttributes(
		attribute.String("session.id", req.SessionID),
	))
	defer span.End()

	maxIter := req.MaxIterations
	switch {
	case maxIter == -1:
		maxIter = uncappedIterations
	case maxIter <= 0:
		maxIter = defaultMaxIterations
	}

	catalog := tools.Catalog(req.ToolCtx)
	byName := make(map[string]*tools.Tool, len(catalog))
	for _, t := range catalog {
		byName[t.Name] = t
	}

	res := &Result{}
	var toolResults []prompt.ToolResult
	lastText := ""

	for iteration := 0; iteration < maxIter; iteration++ {
		req.PromptCtx.Iteration = iteration
		req.PromptCtx.ToolResults = toolResults

		sessionTools := e.skills.SessionTools(req.SessionID)
		defs := make([]llm.ToolDef, 0, len(catalog)+len(sessionTools))
		visible := make(map[string]*tools.Tool, len(byName)+len(sessionTools))
		for name, t := range byName {
			visible[name] = t
			defs = append(defs, llm.ToolDef{Name: name, Description: t.Description, Parameters: t.Parameters})
		}
		for name, t := range sessionTools {
			visible[name] = t
			defs = append(defs, llm.ToolDef{Name: name, Description: t.Description, Parameters: t.Parameters})
		}

		resp, err := e.complete(ctx, req, defs, iteration)
		if err != nil {
			return nil, fmt.Errorf("engine: completion %d: %w", iteration, err)
		}
		if resp.Reasoning != "" {
			res.Reasoning = resp.Reasoning
		}
		if resp.Content != "" {
			lastText = resp.Content
		}
		if len(resp.ToolCalls) == 0 {
			break
		}

		toolResults = nil
		returning := false
		for _, call := range resp.ToolCalls {
			res.ToolCalls = append(res.ToolCalls, call)
			args := parseArgs(call.Arguments)

			switch call.Name {
			case tools.NameAtUser:
				if id, err := userIDArg(args); err == nil {
					res.PendingAts = append(res.PendingAts, id)
				}
				continue
			case tools.NameQuoteReply:
				if id, ok := messageIDArg(args); ok {
					res.PendingQuote = id
				}
				continue
			case tools.NameEndSession:
				slog.Debug("model ended session", "session", req.SessionID, "reason", args["reason"])
				return &Result{Ended: true, ToolCalls: res.ToolCalls}, nil
			}

			tool, ok := visible[call.Name]
			if !ok {
				toolResults = append(toolResults, prompt.ToolResult{Name: call.Name, Result: `{"error": "unknown tool"}`})
				returning = true
				continue
			}
			out, err := e.invoke(ctx, tool, call.Name, args)
			if err != nil {
				out = fmt.Sprintf(`{"error": %q}`, err.Error())
			}
			if tool.ReturnToAI {
				toolResults = append(toolResults, prompt.ToolResult{Name: call.Name, Result: out})
				returning = true
			}
		}
		if !returning {
			break
		}
	}

	res.Messages = SplitReply(lastText)
	span.SetAttributes(
		attribute.Int("engine.iterations.tool_calls", len(res.ToolCalls)),
		attribute.Int("engine.messages", len(res.Messages)),
	)

	if lastText != "" {
		err := e.saver.SaveMessage(&store.Message{
			SessionID: req.SessionID,
			Role:      store.RoleAssistant,
			Content:   lastText,
			GroupID:   req.GroupID,
			Timestamp: time.Now(),
		})
		if err != nil {
			slog.Error("assistant message not persisted", "session", req.SessionID, "error", err)
		}
	}

	if e.emojis != nil && lastText != "" {
		res.EmojiPath = e.emojis.Pick(ctx, lastText)
	}
	return res, nil
}

func (e *Engine) complete(ctx context.Context, req *Request, defs []llm.ToolDef, iteration int) (*llm.ChatResponse, error) {
	ctx, span := e.tracer.Start(ctx, "engine.completion", trace.WithAttributes(
		attribute.Int("engine.iteration", iteration),
		attribute.Int("engine.tools", len(defs)),
	))
	defer span.End()

	return e.llm.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: prompt.Build(req.PromptCtx)},
			{Role: llm.RoleUser, Content: req.Trigger},
		},
		Tools:       defs,
		Temperature: req.Temperature,
	})
}

func (e *Engine) invoke(ctx context.Context, tool *tools.Tool, name string, args map[string]any) (string, error) {
	ctx, span := e.tracer.Start(ctx, "engine.tool", trace.WithAttributes(
		attribute.String("tool.name", name),
	))
	defer span.End()
	return tool.Call(ctx, args)
}

// SplitReply splits model output into outbound messages on lines that
// consist solely of ---, trimming and dropping empties.
func SplitReply(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	var out []string
	var current []string
	flush := func() {
		msg := strings.TrimSpace(strings.Join(current, "\n"))
		if msg != "" {
			out = append(out, msg)
		}
		current = current[:0]
	}
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "---" {
			flush()
			continue
		}
		current = append(current, line)
	}
	flush()
	return out
}

func parseArgs(raw string) map[string]any {
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil || args == nil {
		return map[string]any{}
	}
	return args
}

func userIDArg(args map[string]any) (int64, error) {
	switch v := args["user_id"].(type) {
	case float64:
		return int64(v), nil
	case string:
		var id int64
		_, err := fmt.Sscanf(v, "%d", &id)
		return id, err
	default:
		return 0, fmt.Errorf("missing user_id")
	}
}

func messageIDArg(args map[string]any) (int32, bool) {
	if v, ok := args["message_id"].(float64); ok {
		return int32(v), true
	}
	return 0, false
}
