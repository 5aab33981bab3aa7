package humanizer

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/mingle/internal/config"
	"github.com/nextlevelbuilder/mingle/internal/llm"
	"github.com/nextlevelbuilder/mingle/internal/store"
)

const (
	expressionBatchSize  = 30
	expressionMinPerUser = 3
	// sampling pool is sample_size * expressionSamplePool newest rows
	expressionSamplePool = 3
)

// ExpressionStore is the store surface the learner uses.
type ExpressionStore interface {
	SaveExpression(e *store.Expression) error
	GetExpressions(sessionID string, limit int) ([]store.Expression, error)
	GetExpressionCount(sessionID string) (int, error)
	DeleteOldestExpressions(sessionID string, keep int) error
}

// Expressions learns how regulars in a chat actually phrase things, so
// the bot can blend in. Messages buffer per session; a full buffer
// triggers one batched LLM analysis.
type Expressions struct {
	st  ExpressionStore
	gen TextGenerator
	cfg config.ExpressionConfig

	mu      sync.Mutex
	buffers map[string][]store.Message

	rng *rand.Rand
}

func NewExpressions(st ExpressionStore, gen TextGenerator, cfg config.ExpressionConfig) *Expressions {
	return &Expressions{
		st:      st,
		gen:     gen,
		cfg:     cfg,
		buffers: make(map[string][]store.Message),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// OnMessage buffers an inbound user message and reports whether the
// buffer is full. The caller runs Learn asynchronously when true.
func (e *Expressions) OnMessage(sessionID string, msg store.Message) bool {
	if !e.cfg.Enabled || msg.Role != store.RoleUser || msg.Content == "" {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.buffers[sessionID] = append(e.buffers[sessionID], msg)
	return len(e.buffers[sessionID]) >= expressionBatchSize
}

// Learn drains the session buffer and extracts speaking habits for every
// user with enough material. Failures are logged and swallowed.
func (e *Expressions) Learn(ctx context.Context, sessionID string) {
	e.mu.Lock()
	batch := e.buffers[sessionID]
	delete(e.buffers, sessionID)
	e.mu.Unlock()
	if len(batch) == 0 {
		return
	}

	byUser := make(map[int64][]store.Message)
	for _, m := range batch {
		byUser[m.UserID] = append(byUser[m.UserID], m)
	}

	for userID, msgs := range byUser {
		if len(msgs) < expressionMinPerUser {
			continue
		}
		e.learnUser(ctx, sessionID, userID, msgs)
	}

	e.enforceCap(sessionID)
}

type learnedHabit struct {
	Situation string `json:"situation"`
	Style     string `json:"style"`
	Example   string `json:"example"`
}

func (e *Expressions) learnUser(ctx context.Context, sessionID string, userID int64, msgs []store.Message) {
	var b strings.Builder
	name := msgs[0].UserName
	fmt.Fprintf(&b, "Messages from %s:\n", name)
	for _, m := range msgs {
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	b.WriteString(`
Describe 2-4 speaking habits of this person.
JSON: [{"situation":"when ...","style":"...","example":"..."}]`)

	resp, err := e.gen.GenerateText(ctx, llm.TextRequest{
		System:      "You study how chat users phrase things. Answer with JSON only.",
		Prompt:      b.String(),
		Temperature: 0.3,
		MaxTokens:   500,
	})
	if err != nil {
		slog.Warn("expression analysis failed", "session", sessionID, "user", userID, "error", err)
		return
	}

	var habits []learnedHabit
	if err := llm.DecodeLoose(resp, &habits); err != nil {
		slog.Warn("expression output unparseable", "session", sessionID, "user", userID)
		return
	}

	for _, h := range habits {
		if h.Example == "" {
			continue
		}
		err := e.st.SaveExpression(&store.Expression{
			SessionID: sessionID,
			UserID:    userID,
			UserName:  name,
			Situation: h.Situation,
			Style:     h.Style,
			Example:   h.Example,
		})
		if err != nil {
			slog.Warn("expression save failed", "session", sessionID, "error", err)
		}
	}
}

func (e *Expressions) enforceCap(sessionID string) {
	n, err := e.st.GetExpressionCount(sessionID)
	if err != nil {
		return
	}
	maxExpr := e.cfg.MaxExpressions
	if maxExpr <= 0 {
		maxExpr = 100
	}
	if n > maxExpr {
		if err := e.st.DeleteOldestExpressions(sessionID, maxExpr); err != nil {
			slog.Warn("expression cap enforcement failed", "session", sessionID, "error", err)
		}
	}
}

// Context samples learned habits as a bullet list for the prompt, or ""
// when the session has none.
func (e *Expressions) Context(sessionID string) string {
	sample := e.cfg.SampleSize
	if sample <= 0 {
		sample = 8
	}
	pool, err := e.st.GetExpressions(sessionID, sample*expressionSamplePool)
	if err != nil || len(pool) == 0 {
		return ""
	}

	e.mu.Lock()
	e.rng.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
	e.mu.Unlock()
	if len(pool) > sample {
		pool = pool[:sample]
	}

	var b strings.Builder
	for _, ex := range pool {
		fmt.Fprintf(&b, "- %s %s: e.g. %q\n", ex.UserName, ex.Situation, ex.Example)
	}
	return strings.TrimRight(b.String(), "\n")
}
