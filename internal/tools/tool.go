// Package tools defines the fixed tool catalog the chat engine exposes to
// the model, plus the Tool and Skill types shared with the skill registry.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Handler executes a tool call. The returned string is what the model (or
// the chat, for control tools) sees.
type Handler func(ctx context.Context, args map[string]any) (string, error)

// Tool is one callable function.
type Tool struct {
	Name        string
	Description string
	// Parameters is a JSON-schema object describing the arguments.
	Parameters map[string]any
	Handler    Handler
	// ReturnToAI controls whether the handler's result is fed back into
	// the tool loop. Control tools set it false: their effect happens
	// outside the conversation.
	ReturnToAI bool

	compileOnce sync.Once
	compiled    *jsonschema.Schema
	compileErr  error
}

// Skill is a named bundle of tools registered globally; its tools become
// callable only once the skill is loaded into a session.
type Skill struct {
	Name        string
	Description string
	Tools       []*Tool
}

// ValidateArgs checks args against the tool's parameter schema. Tools
// without a schema accept anything.
func (t *Tool) ValidateArgs(args map[string]any) error {
	if t.Parameters == nil {
		return nil
	}
	t.compileOnce.Do(func() {
		raw, err := json.Marshal(t.Parameters)
		if err != nil {
			t.compileErr = fmt.Errorf("tool %s: marshal schema: %w", t.Name, err)
			return
		}
		t.compiled, err = jsonschema.CompileString(t.Name+".json", string(raw))
		if err != nil {
			t.compileErr = fmt.Errorf("tool %s: compile schema: %w", t.Name, err)
		}
	})
	if t.compileErr != nil {
		return t.compileErr
	}
	// Round-trip so numbers and nested values take the shapes the
	// validator expects.
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("tool %s: marshal args: %w", t.Name, err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	if err := t.compiled.Validate(doc); err != nil {
		return fmt.Errorf("tool %s: invalid arguments: %w", t.Name, err)
	}
	return nil
}

// Call validates args and runs the handler.
func (t *Tool) Call(ctx context.Context, args map[string]any) (string, error) {
	if err := t.ValidateArgs(args); err != nil {
		return "", err
	}
	return t.Handler(ctx, args)
}

// objectSchema is a shorthand for the JSON-schema object tools declare.
func objectSchema(props map[string]any, required ...string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func prop(typ, desc string) map[string]any {
	return map[string]any{"type": typ, "description": desc}
}
