// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const openaiCompletionsPath = "/v1/chat/completions"

// OpenAI implements [Provider] for the Chat Completions API and the
// servers that speak it (OpenRouter, Mistral, vLLM, Ollama, llama.cpp).
//
// [Request.System] becomes the leading system message. Instruction
// blocks become system messages at their place in the conversation,
// which after windowing is the front.
type OpenAI struct {
	config HTTPConfig
}

// NewOpenAI creates an OpenAI-compatible provider. An empty BaseURL
// defaults to https://api.openai.com.
func NewOpenAI(config HTTPConfig) *OpenAI {
	if config.BaseURL == "" {
		config.BaseURL = "https://api.openai.com"
	}
	return &OpenAI{config: config}
}

// Stream implements [Provider].
func (provider *OpenAI) Stream(ctx context.Context, request Request) (*EventStream, error) {
	headers := http.Header{}
	if provider.config.APIKey != "" {
		headers.Set("Authorization", "Bearer "+provider.config.APIKey)
	}
	body, err := provider.config.openStream(ctx, openaiCompletionsPath, headers, buildOpenAIRequest(request), "llm/openai")
	if err != nil {
		return nil, err
	}
	parser := &openaiParser{scanner: NewSSEScanner(body)}
	return NewEventStream(parser.next, body), nil
}

type openaiRequest struct {
	Model         string          `json:"model"`
	Messages      []openaiMessage `json:"messages"`
	Tools         []openaiTool    `json:"tools,omitempty"`
	MaxTokens     int             `json:"max_tokens,omitempty"`
	Temperature   *float64        `json:"temperature,omitempty"`
	Stream        bool            `json:"stream"`
	StreamOptions struct {
		IncludeUsage bool `json:"include_usage"`
	} `json:"stream_options"`
}

// openaiMessage is a chat message. Content is omitted on assistant
// messages that only call tools.
type openaiMessage struct {
	Role       string           `json:"role"`
	Content    *string          `json:"content,omitempty"`
	ToolCalls  []openaiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openaiToolCall struct {
	Index    int    `json:"index,omitempty"`
	ID       string `json:"id,omitempty"`
	Type     string `json:"type,omitempty"`
	Function struct {
		Name      string `json:"name,omitempty"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type openaiTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string          `json:"name"`
		Description string          `json:"description,omitempty"`
		Parameters  json.RawMessage `json:"parameters"`
	} `json:"function"`
}

func openaiText(role, text string) openaiMessage {
	return openaiMessage{Role: role, Content: &text}
}

func buildOpenAIRequest(request Request) openaiRequest {
	wire := openaiRequest{
		Model:       request.Model,
		MaxTokens:   request.MaxTokens,
		Temperature: request.Temperature,
		Stream:      true,
	}
	wire.StreamOptions.IncludeUsage = true

	if request.System != "" {
		wire.Messages = append(wire.Messages, openaiText("system", request.System))
	}
	for _, message := range request.Messages {
		wire.Messages = append(wire.Messages, toOpenAIMessages(message)...)
	}
	for _, definition := range request.Tools {
		tool := openaiTool{Type: "function"}
		tool.Function.Name = definition.Name
		tool.Function.Description = definition.Description
		tool.Function.Parameters = definition.InputSchema
		wire.Tools = append(wire.Tools, tool)
	}
	return wire
}

// toOpenAIMessages converts one message. Instructions come out first
// as system messages. A user message's tool results each become a
// role "tool" message, and its text is joined into one user message.
func toOpenAIMessages(message Message) []openaiMessage {
	instructions, rest := splitInstructions(message)
	var wire []openaiMessage
	for _, text := range instructions {
		wire = append(wire, openaiText("system", text))
	}

	var text []string
	if rest.Role == RoleAssistant {
		assistant := openaiMessage{Role: "assistant"}
		for _, block := range rest.Content {
			switch {
			case block.Type == ContentText:
				text = append(text, block.Text)
			case block.Type == ContentToolUse && block.ToolUse != nil:
				call := openaiToolCall{ID: block.ToolUse.ID, Type: "function"}
				call.Function.Name = block.ToolUse.Name
				call.Function.Arguments = string(block.ToolUse.Input)
				if call.Function.Arguments == "" {
					call.Function.Arguments = "{}"
				}
				assistant.ToolCalls = append(assistant.ToolCalls, call)
			}
		}
		if len(text) > 0 {
			joined := strings.Join(text, "")
			assistant.Content = &joined
		}
		if assistant.Content != nil || len(assistant.ToolCalls) > 0 {
			wire = append(wire, assistant)
		}
		return wire
	}

	for _, block := range rest.Content {
		switch {
		case block.Type == ContentText:
			text = append(text, block.Text)
		case block.Type == ContentToolResult && block.ToolResult != nil:
			result := openaiText("tool", block.ToolResult.Content)
			result.ToolCallID = block.ToolResult.ToolUseID
			wire = append(wire, result)
		}
	}
	if len(text) > 0 {
		wire = append(wire, openaiText("user", strings.Join(text, "")))
	}
	return wire
}

// openaiParser turns completion chunks into StreamEvents. Text is
// surfaced as it arrives; the finished text and tool-call blocks are
// queued when finish_reason arrives and handed out one per call.
type openaiParser struct {
	scanner *SSEScanner
	text    strings.Builder
	calls   []*openaiPartialCall
	queued  []StreamEvent
}

type openaiPartialCall struct {
	id        string
	name      string
	arguments strings.Builder
}

type openaiUsage struct {
	PromptTokens        int64 `json:"prompt_tokens"`
	CompletionTokens    int64 `json:"completion_tokens"`
	PromptTokensDetails *struct {
		CachedTokens int64 `json:"cached_tokens"`
	} `json:"prompt_tokens_details,omitempty"`
}

type openaiChunk struct {
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content   string           `json:"content"`
			ToolCalls []openaiToolCall `json:"tool_calls"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *openaiUsage `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (parser *openaiParser) next(response *Response) (StreamEvent, error) {
	for {
		if len(parser.queued) > 0 {
			event := parser.queued[0]
			parser.queued = parser.queued[1:]
			return event, nil
		}
		if !parser.scanner.Next() {
			if err := parser.scanner.Err(); err != nil {
				return StreamEvent{}, fmt.Errorf("llm/openai: reading stream: %w", err)
			}
			return StreamEvent{}, io.EOF
		}
		data := parser.scanner.Event().Data
		if data == "[DONE]" {
			parser.queued = append(parser.queued, StreamEvent{Type: EventDone})
			continue
		}

		var chunk openaiChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return StreamEvent{}, fmt.Errorf("llm/openai: parsing chunk: %w", err)
		}
		if chunk.Error != nil {
			return StreamEvent{Type: EventError, Error: &ProviderError{
				StatusCode: http.StatusOK,
				Type:       chunk.Error.Type,
				Message:    chunk.Error.Message,
			}}, nil
		}
		if response.Model == "" {
			response.Model = chunk.Model
		}
		if chunk.Usage != nil {
			response.Usage = Usage{
				InputTokens:  chunk.Usage.PromptTokens,
				OutputTokens: chunk.Usage.CompletionTokens,
			}
			if details := chunk.Usage.PromptTokensDetails; details != nil {
				response.Usage.CacheReadTokens = details.CachedTokens
			}
		}
		if event, ok := parser.apply(chunk, response); ok {
			return event, nil
		}
	}
}

// apply folds the first choice of chunk into the parser and returns a
// text delta to surface, if the chunk carried one.
func (parser *openaiParser) apply(chunk openaiChunk, response *Response) (StreamEvent, bool) {
	if len(chunk.Choices) == 0 {
		return StreamEvent{}, false
	}
	choice := chunk.Choices[0]

	for _, delta := range choice.Delta.ToolCalls {
		for len(parser.calls) <= delta.Index {
			parser.calls = append(parser.calls, &openaiPartialCall{})
		}
		call := parser.calls[delta.Index]
		if delta.ID != "" {
			call.id = delta.ID
		}
		if delta.Function.Name != "" {
			call.name = delta.Function.Name
		}
		call.arguments.WriteString(delta.Function.Arguments)
	}

	if choice.FinishReason != nil {
		response.StopReason = openaiStopReason(*choice.FinishReason)
		parser.finish(choice.Delta.Content)
		return StreamEvent{}, false
	}
	if choice.Delta.Content == "" {
		return StreamEvent{}, false
	}
	parser.text.WriteString(choice.Delta.Content)
	return StreamEvent{Type: EventTextDelta, Text: choice.Delta.Content}, true
}

// finish queues the completed blocks, preceded by a trailing text
// delta that arrived together with finish_reason.
func (parser *openaiParser) finish(trailing string) {
	if trailing != "" {
		parser.text.WriteString(trailing)
		parser.queued = append(parser.queued, StreamEvent{Type: EventTextDelta, Text: trailing})
	}
	if parser.text.Len() > 0 {
		parser.queued = append(parser.queued, StreamEvent{Type: EventContentBlockDone, ContentBlock: TextBlock(parser.text.String())})
		parser.text.Reset()
	}
	for _, call := range parser.calls {
		arguments := call.arguments.String()
		if arguments == "" {
			arguments = "{}"
		}
		parser.queued = append(parser.queued, StreamEvent{
			Type:         EventContentBlockDone,
			ContentBlock: ToolUseBlock(call.id, call.name, json.RawMessage(arguments)),
		})
	}
	parser.calls = nil
}

func openaiStopReason(reason string) StopReason {
	switch reason {
	case "stop":
		return StopReasonEndTurn
	case "tool_calls":
		return StopReasonToolUse
	case "length":
		return StopReasonMaxTokens
	}
	return StopReason(reason)
}
