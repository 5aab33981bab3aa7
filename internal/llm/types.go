package llm

// Provider-agnostic chat types. The dispatcher, engine, and humanizer
// analyzers speak these; client.go converts to the OpenAI wire format.

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ImagePart is an image attachment for multimodal messages. URL may be a
// remote URL or a data: URI with base64 content.
type ImagePart struct {
	URL string `json:"url"`
}

// Message is one conversation entry.
type Message struct {
	Role       string      `json:"role"`
	Content    string      `json:"content"`
	Images     []ImagePart `json:"images,omitempty"`
	ToolCalls  []ToolCall  `json:"tool_calls,omitempty"`
	ToolCallID string      `json:"tool_call_id,omitempty"` // for role=tool
	Name       string      `json:"name,omitempty"`
}

// ToolCall is a tool invocation requested by the model. Arguments is the
// raw JSON string as emitted; callers parse it defensively.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolDef describes a callable tool for the model.
type ToolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ChatRequest is the input to a tool-calling completion.
type ChatRequest struct {
	Messages    []Message
	Tools       []ToolDef
	Model       string // empty = client default
	Temperature float32
	MaxTokens   int
}

// ChatResponse is the result of a completion.
type ChatResponse struct {
	Content   string
	Reasoning string
	ToolCalls []ToolCall
}

// TextRequest is the input to a plain text generation call.
type TextRequest struct {
	System      string
	Prompt      string
	Model       string
	Temperature float32
	MaxTokens   int
}
