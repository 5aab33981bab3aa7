package humanizer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/mingle/internal/config"
	"github.com/nextlevelbuilder/mingle/internal/llm"
	"github.com/nextlevelbuilder/mingle/internal/store"
)

const (
	topicAnalyzeHistory  = 80
	topicMinForTimeCheck = 15
	// titleSimilarity is the character-set Jaccard threshold above which
	// a returned topic updates an existing row instead of inserting.
	titleSimilarity = 0.7
)

// TopicStore is the store surface the tracker uses.
type TopicStore interface {
	GetMessages(sessionID string, limit int, before time.Time) ([]store.Message, error)
	GetTopics(sessionID string, limit int) ([]store.Topic, error)
	SaveTopic(t *store.Topic) error
	UpdateTopic(id int64, patch store.TopicPatch) error
	PruneTopics(sessionID string, keep int) error
}

type topicState struct {
	sinceCheck int
	lastCheck  time.Time
}

// Topics watches message flow per session and periodically asks the model
// what threads the chat is discussing.
type Topics struct {
	st  TopicStore
	gen TextGenerator
	cfg config.TopicConfig

	mu    sync.Mutex
	state map[string]*topicState

	now func() time.Time
}

func NewTopics(st TopicStore, gen TextGenerator, cfg config.TopicConfig) *Topics {
	return &Topics{st: st, gen: gen, cfg: cfg, state: make(map[string]*topicState), now: time.Now}
}

// OnMessage counts an inbound message and reports whether an analysis
// pass is due. The caller runs Analyze asynchronously when true.
func (t *Topics) OnMessage(sessionID string) bool {
	if !t.cfg.Enabled {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.state[sessionID]
	if st == nil {
		st = &topicState{lastCheck: t.now()}
		t.state[sessionID] = st
	}
	st.sinceCheck++

	due := st.sinceCheck >= t.cfg.MessageThreshold
	if !due {
		elapsed := t.now().Sub(st.lastCheck)
		due = elapsed > time.Duration(t.cfg.TimeThresholdMs)*time.Millisecond && st.sinceCheck >= topicMinForTimeCheck
	}
	if due {
		st.lastCheck = t.now()
		st.sinceCheck = 0
	}
	return due
}

type analyzedTopic struct {
	Title          string   `json:"title"`
	Keywords       []string `json:"keywords"`
	Summary        string   `json:"summary"`
	IsContinuation bool     `json:"is_continuation"`
}

// Analyze extracts topics from recent history and upserts them. Failures
// are logged and swallowed; topic tracking never blocks a reply.
func (t *Topics) Analyze(ctx context.Context, sessionID string) {
	msgs, err := t.st.GetMessages(sessionID, topicAnalyzeHistory, time.Time{})
	if err != nil || len(msgs) == 0 {
		return
	}
	existing, err := t.st.GetTopics(sessionID, t.cfg.MaxTopicsPerSession)
	if err != nil {
		slog.Warn("topic load failed", "session", sessionID, "error", err)
		return
	}

	resp, err := t.gen.GenerateText(ctx, llm.TextRequest{
		System:      "You extract discussion topics from chat logs. Answer with JSON only.",
		Prompt:      buildTopicPrompt(msgs, existing),
		Temperature: 0.3,
		MaxTokens:   800,
	})
	if err != nil {
		slog.Warn("topic analysis failed", "session", sessionID, "error", err)
		return
	}

	var parsed struct {
		Topics []analyzedTopic `json:"topics"`
	}
	if err := llm.DecodeLoose(resp, &parsed); err != nil {
		slog.Warn("topic output unparseable", "session", sessionID)
		return
	}

	batch := len(msgs)
	for _, at := range parsed.Topics {
		if at.Title == "" {
			continue
		}
		t.upsert(sessionID, at, existing, batch)
	}
	if err := t.st.PruneTopics(sessionID, t.cfg.MaxTopicsPerSession); err != nil {
		slog.Warn("topic prune failed", "session", sessionID, "error", err)
	}
}

func (t *Topics) upsert(sessionID string, at analyzedTopic, existing []store.Topic, batch int) {
	keywords, _ := json.Marshal(at.Keywords)

	for _, ex := range existing {
		if ex.Title == at.Title || jaccard(ex.Title, at.Title) > titleSimilarity {
			kw := string(keywords)
			err := t.st.UpdateTopic(ex.ID, store.TopicPatch{
				Summary:         &at.Summary,
				Keywords:        &kw,
				AddMessageCount: batch,
			})
			if err != nil {
				slog.Warn("topic update failed", "topic", ex.ID, "error", err)
			}
			return
		}
	}

	err := t.st.SaveTopic(&store.Topic{
		SessionID:    sessionID,
		Title:        at.Title,
		Keywords:     string(keywords),
		Summary:      at.Summary,
		MessageCount: batch,
	})
	if err != nil {
		slog.Warn("topic insert failed", "session", sessionID, "error", err)
	}
}

// Context formats current topics for prompt injection.
func (t *Topics) Context(sessionID string) string {
	topics, err := t.st.GetTopics(sessionID, t.cfg.MaxTopicsPerSession)
	if err != nil || len(topics) == 0 {
		return ""
	}
	var b strings.Builder
	for _, tp := range topics {
		fmt.Fprintf(&b, "- %s: %s\n", tp.Title, tp.Summary)
	}
	return strings.TrimRight(b.String(), "\n")
}

func buildTopicPrompt(msgs []store.Message, existing []store.Topic) string {
	var b strings.Builder
	b.WriteString("Chat log:\n")
	for _, m := range msgs {
		fmt.Fprintf(&b, "%s: %s\n", m.UserName, m.Content)
	}
	if len(existing) > 0 {
		b.WriteString("\nKnown topics:\n")
		for _, tp := range existing {
			fmt.Fprintf(&b, "- %s\n", tp.Title)
		}
	}
	b.WriteString(`
Extract the topics being discussed. Reuse a known topic's exact title when the discussion continues it.
JSON: {"topics":[{"title":"...","keywords":["..."],"summary":"...","is_continuation":false}]}`)
	return b.String()
}

// jaccard computes character-set similarity of two strings.
func jaccard(a, b string) float64 {
	setA := make(map[rune]struct{})
	for _, r := range a {
		setA[r] = struct{}{}
	}
	setB := make(map[rune]struct{})
	for _, r := range b {
		setB[r] = struct{}{}
	}
	if len(setA) == 0 && len(setB) == 0 {
		return 1
	}
	inter := 0
	for r := range setA {
		if _, ok := setB[r]; ok {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	return float64(inter) / float64(union)
}
