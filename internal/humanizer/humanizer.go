// Package humanizer holds the background analyzers that make the bot read
// like a person: memory retrieval, topic tracking, action planning,
// expression learning, the emoji picker, the speaking-frequency gate, and
// the typo pass. Everything here is advisory; the dispatcher decides.
package humanizer

import (
	"context"

	"github.com/nextlevelbuilder/mingle/internal/llm"
)

// TextGenerator is the slice of the LLM client the single-shot analyzers
// need. Narrow interfaces keep the analyzers testable with stubs.
type TextGenerator interface {
	GenerateText(ctx context.Context, req llm.TextRequest) (string, error)
}

// ChatCompleter runs tool-calling completions (memory retrieval).
type ChatCompleter interface {
	Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error)
}

// VisionDescriber describes an image (emoji registration).
type VisionDescriber interface {
	GenerateVision(ctx context.Context, prompt, mime, imageB64 string) (string, error)
	Multimodal() bool
}
