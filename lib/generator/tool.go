// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package generator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tidwall/jsonc"

	"github.com/bureau-foundation/camille/lib/llm"
)

// Handler executes a tool call. input is the model's argument object,
// unparsed. The returned string is the tool result; an error becomes
// an error result the model can react to, never a failed turn.
type Handler func(ctx context.Context, input json.RawMessage) (string, error)

// Tool is a tool offered to the model.
type Tool struct {
	Definition llm.ToolDefinition
	Handler    Handler
}

// Toolset indexes tools by name.
type Toolset struct {
	order []string
	tools map[string]Tool
}

// NewToolset returns a Toolset holding tools. A later tool replaces
// an earlier one with the same name.
func NewToolset(tools ...Tool) *Toolset {
	set := &Toolset{tools: make(map[string]Tool, len(tools))}
	for _, tool := range tools {
		set.Add(tool)
	}
	return set
}

// Add registers tool.
func (s *Toolset) Add(tool Tool) {
	name := tool.Definition.Name
	if _, exists := s.tools[name]; !exists {
		s.order = append(s.order, name)
	}
	s.tools[name] = tool
}

// Definitions returns the definitions of all tools in registration
// order.
func (s *Toolset) Definitions() []llm.ToolDefinition {
	if s == nil {
		return nil
	}
	definitions := make([]llm.ToolDefinition, 0, len(s.order))
	for _, name := range s.order {
		definitions = append(definitions, s.tools[name].Definition)
	}
	return definitions
}

// Call runs the named tool.
func (s *Toolset) Call(ctx context.Context, use llm.ToolUse) llm.ToolResult {
	result := llm.ToolResult{ToolUseID: use.ID}
	var tool Tool
	var ok bool
	if s != nil {
		tool, ok = s.tools[use.Name]
	}
	if !ok {
		result.Content = fmt.Sprintf("unknown tool %q", use.Name)
		result.IsError = true
		return result
	}
	output, err := tool.Handler(ctx, use.Input)
	if err != nil {
		result.Content = err.Error()
		result.IsError = true
		return result
	}
	result.Content = output
	return result
}

// DecodeArguments unmarshals a tool's argument object into target.
// Models occasionally emit comments or trailing commas; those are
// stripped first. Empty input decodes as {}.
func DecodeArguments(input json.RawMessage, target any) error {
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	if err := json.Unmarshal(jsonc.ToJSON(input), target); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

// ObjectSchema builds a JSON Schema object with string properties, all
// of them required. descriptions maps property name to description.
func ObjectSchema(descriptions map[string]string, order ...string) json.RawMessage {
	properties := make(map[string]any, len(order))
	for _, name := range order {
		properties[name] = map[string]string{"type": "string", "description": descriptions[name]}
	}
	required := order
	if required == nil {
		required = []string{}
	}
	schema, _ := json.Marshal(map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	})
	return schema
}
