package llm

import (
	"context"
	"fmt"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"
)

// Config holds the connection settings for an OpenAI-compatible endpoint.
type Config struct {
	APIURL       string
	APIKey       string
	Model        string
	WorkingModel string // cheaper model for background analyzers; falls back to Model
	Multimodal   bool
	Temperature  float32
}

// Client wraps an OpenAI-compatible API with the three completion surfaces
// the bot needs: tool-calling chat, plain text generation, and vision.
type Client struct {
	api          *openai.Client
	model        string
	workingModel string
	multimodal   bool
	temperature  float32
}

func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm: api_key is not configured")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("llm: model is not configured")
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.APIURL != "" {
		oc.BaseURL = cfg.APIURL
	}
	working := cfg.WorkingModel
	if working == "" {
		working = cfg.Model
	}
	temp := cfg.Temperature
	if temp <= 0 {
		temp = 0.8
	}
	return &Client{
		api:          openai.NewClientWithConfig(oc),
		model:        cfg.Model,
		workingModel: working,
		multimodal:   cfg.Multimodal,
		temperature:  temp,
	}, nil
}

// Model returns the default chat model.
func (c *Client) Model() string { return c.model }

// WorkingModel returns the model used by background analyzers.
func (c *Client) WorkingModel() string { return c.workingModel }

// Multimodal reports whether the configured model accepts image input.
func (c *Client) Multimodal() bool { return c.multimodal }

// Chat performs a tool-calling completion.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	oreq := openai.ChatCompletionRequest{
		Model:       c.pickModel(req.Model),
		Messages:    toOpenAIMessages(req.Messages),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if oreq.Temperature == 0 {
		oreq.Temperature = c.temperature
	}
	for _, td := range req.Tools {
		oreq.Tools = append(oreq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        td.Name,
				Description: td.Description,
				Parameters:  td.Parameters,
			},
		})
	}

	resp, err := c.api.CreateChatCompletion(ctx, oreq)
	if err != nil {
		return nil, fmt.Errorf("llm: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("llm: chat completion returned no choices")
	}
	msg := resp.Choices[0].Message

	out := &ChatResponse{
		Content:   msg.Content,
		Reasoning: msg.ReasoningContent,
	}
	for _, tc := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	slog.Debug("llm chat",
		"model", oreq.Model,
		"messages", len(oreq.Messages),
		"tool_calls", len(out.ToolCalls),
		"content_len", len(out.Content),
	)
	return out, nil
}

// GenerateText performs a plain completion used by the background
// analyzers (planner, topic tracker, expression learner, memory stage 1).
func (c *Client) GenerateText(ctx context.Context, req TextRequest) (string, error) {
	var msgs []openai.ChatCompletionMessage
	if req.System != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: RoleSystem, Content: req.System})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{Role: RoleUser, Content: req.Prompt})

	model := req.Model
	if model == "" {
		model = c.workingModel
	}
	temp := req.Temperature
	if temp == 0 {
		temp = c.temperature
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    msgs,
		Temperature: temp,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("llm: generate text: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("llm: generate text returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// GenerateVision sends a prompt plus one base64 image to the multimodal
// model. Callers must check Multimodal() first.
func (c *Client) GenerateVision(ctx context.Context, prompt, mime, imageB64 string) (string, error) {
	if !c.multimodal {
		return "", fmt.Errorf("llm: model is not multimodal")
	}
	dataURI := fmt.Sprintf("data:%s;base64,%s", mime, imageB64)

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{{
			Role: RoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: prompt},
				{
					Type:     openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{URL: dataURI, Detail: openai.ImageURLDetailLow},
				},
			},
		}},
		Temperature: 0.2,
		MaxTokens:   300,
	})
	if err != nil {
		return "", fmt.Errorf("llm: vision completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("llm: vision completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *Client) pickModel(override string) string {
	if override != "" {
		return override
	}
	return c.model
}

func toOpenAIMessages(msgs []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		om := openai.ChatCompletionMessage{
			Role:       m.Role,
			ToolCallID: m.ToolCallID,
			Name:       m.Name,
		}
		if len(m.Images) > 0 {
			parts := []openai.ChatMessagePart{}
			if m.Content != "" {
				parts = append(parts, openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeText, Text: m.Content,
				})
			}
			for _, img := range m.Images {
				parts = append(parts, openai.ChatMessagePart{
					Type:     openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{URL: img.URL, Detail: openai.ImageURLDetailAuto},
				})
			}
			om.MultiContent = parts
		} else {
			om.Content = m.Content
		}
		for _, tc := range m.ToolCalls {
			om.ToolCalls = append(om.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		out = append(out, om)
	}
	return out
}
