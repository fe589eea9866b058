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

const (
	anthropicVersion      = "2023-06-01"
	anthropicMessagesPath = "/v1/messages"
)

// Anthropic implements [Provider] for the Anthropic Messages API.
//
// Instruction blocks become system text blocks, in conversation order,
// ahead of [Request.System]. The last instruction block carries an
// ephemeral cache breakpoint: the instructions of a thread repeat
// verbatim on every turn while the per-request system text does not.
type Anthropic struct {
	config HTTPConfig
}

// NewAnthropic creates an Anthropic provider. An empty BaseURL
// defaults to https://api.anthropic.com.
func NewAnthropic(config HTTPConfig) *Anthropic {
	if config.BaseURL == "" {
		config.BaseURL = "https://api.anthropic.com"
	}
	return &Anthropic{config: config}
}

// Stream implements [Provider].
func (provider *Anthropic) Stream(ctx context.Context, request Request) (*EventStream, error) {
	headers := http.Header{}
	headers.Set("anthropic-version", anthropicVersion)
	if provider.config.APIKey != "" {
		headers.Set("x-api-key", provider.config.APIKey)
	}
	body, err := provider.config.openStream(ctx, anthropicMessagesPath, headers, buildAnthropicRequest(request), "llm/anthropic")
	if err != nil {
		return nil, err
	}
	parser := &anthropicParser{scanner: NewSSEScanner(body), blocks: make(map[int]*anthropicPartialBlock)}
	return NewEventStream(parser.next, body), nil
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      []anthropicText    `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
	Stream      bool               `json:"stream"`
	Temperature *float64           `json:"temperature,omitempty"`
}

type anthropicText struct {
	Type         string                 `json:"type"`
	Text         string                 `json:"text"`
	CacheControl *anthropicCacheControl `json:"cache_control,omitempty"`
}

type anthropicCacheControl struct {
	Type string `json:"type"`
}

type anthropicMessage struct {
	Role    string           `json:"role"`
	Content []anthropicBlock `json:"content"`
}

// anthropicBlock is a content block in either direction. Tool results
// carry Content as a JSON string.
type anthropicBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

type anthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

func buildAnthropicRequest(request Request) anthropicRequest {
	wire := anthropicRequest{
		Model:       request.Model,
		MaxTokens:   request.MaxTokens,
		Stream:      true,
		Temperature: request.Temperature,
	}
	for _, message := range request.Messages {
		instructions, rest := splitInstructions(message)
		for _, text := range instructions {
			wire.System = append(wire.System, anthropicText{Type: "text", Text: text})
		}
		if converted := toAnthropicMessage(rest); len(converted.Content) > 0 {
			wire.Messages = append(wire.Messages, converted)
		}
	}
	if count := len(wire.System); count > 0 {
		wire.System[count-1].CacheControl = &anthropicCacheControl{Type: "ephemeral"}
	}
	if request.System != "" {
		wire.System = append(wire.System, anthropicText{Type: "text", Text: request.System})
	}
	for _, tool := range request.Tools {
		wire.Tools = append(wire.Tools, anthropicTool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.InputSchema,
		})
	}
	return wire
}

func toAnthropicMessage(message Message) anthropicMessage {
	wire := anthropicMessage{Role: string(message.Role)}
	for _, block := range message.Content {
		switch {
		case block.Type == ContentText:
			wire.Content = append(wire.Content, anthropicBlock{Type: "text", Text: block.Text})
		case block.Type == ContentToolUse && block.ToolUse != nil:
			wire.Content = append(wire.Content, anthropicBlock{
				Type:  "tool_use",
				ID:    block.ToolUse.ID,
				Name:  block.ToolUse.Name,
				Input: block.ToolUse.Input,
			})
		case block.Type == ContentToolResult && block.ToolResult != nil:
			content, _ := json.Marshal(block.ToolResult.Content)
			wire.Content = append(wire.Content, anthropicBlock{
				Type:      "tool_result",
				ToolUseID: block.ToolResult.ToolUseID,
				Content:   content,
				IsError:   block.ToolResult.IsError,
			})
		}
	}
	return wire
}

// anthropicParser turns the Messages API event stream into
// StreamEvents. Blocks are opened by content_block_start, grown by
// deltas and surfaced whole on content_block_stop.
type anthropicParser struct {
	scanner *SSEScanner
	blocks  map[int]*anthropicPartialBlock
}

type anthropicPartialBlock struct {
	kind  string
	id    string
	name  string
	text  strings.Builder
	input strings.Builder
}

func (block *anthropicPartialBlock) finish() ContentBlock {
	if block.kind == "tool_use" {
		input := block.input.String()
		if input == "" {
			input = "{}"
		}
		return ToolUseBlock(block.id, block.name, json.RawMessage(input))
	}
	return TextBlock(block.text.String())
}

type anthropicUsage struct {
	InputTokens              int64 `json:"input_tokens"`
	OutputTokens             int64 `json:"output_tokens"`
	CacheCreationInputTokens int64 `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int64 `json:"cache_read_input_tokens"`
}

// anthropicEvent is the union of the data payloads the parser reads.
type anthropicEvent struct {
	Index   int `json:"index"`
	Message struct {
		Model string         `json:"model"`
		Usage anthropicUsage `json:"usage"`
	} `json:"message"`
	ContentBlock anthropicBlock `json:"content_block"`
	Delta        struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		PartialJSON string `json:"partial_json"`
		StopReason  string `json:"stop_reason"`
	} `json:"delta"`
	Usage anthropicUsage `json:"usage"`
}

func (parser *anthropicParser) next(response *Response) (StreamEvent, error) {
	for parser.scanner.Next() {
		sse := parser.scanner.Event()
		event, emit, err := parser.handle(sse, response)
		if err != nil {
			return StreamEvent{}, fmt.Errorf("llm/anthropic: %s: %w", sse.Type, err)
		}
		if emit {
			return event, nil
		}
	}
	if err := parser.scanner.Err(); err != nil {
		return StreamEvent{}, fmt.Errorf("llm/anthropic: reading stream: %w", err)
	}
	return StreamEvent{}, io.EOF
}

// handle applies one SSE event to the parser state and response. emit
// reports whether event should be surfaced.
func (parser *anthropicParser) handle(sse SSEEvent, response *Response) (event StreamEvent, emit bool, err error) {
	switch sse.Type {
	case "message_stop":
		return StreamEvent{Type: EventDone}, true, nil
	case "error":
		var envelope wireError
		if json.Unmarshal([]byte(sse.Data), &envelope) != nil || envelope.Error.Message == "" {
			envelope.Error.Message = sse.Data
		}
		return StreamEvent{Type: EventError, Error: &ProviderError{
			StatusCode: http.StatusOK,
			Type:       envelope.Error.Type,
			Message:    envelope.Error.Message,
		}}, true, nil
	case "message_start", "content_block_start", "content_block_delta", "content_block_stop", "message_delta":
	default:
		return StreamEvent{}, false, nil
	}

	var data anthropicEvent
	if err := json.Unmarshal([]byte(sse.Data), &data); err != nil {
		return StreamEvent{}, false, err
	}
	switch sse.Type {
	case "message_start":
		response.Model = data.Message.Model
		response.Usage = Usage{
			InputTokens:      data.Message.Usage.InputTokens,
			OutputTokens:     data.Message.Usage.OutputTokens,
			CacheReadTokens:  data.Message.Usage.CacheReadInputTokens,
			CacheWriteTokens: data.Message.Usage.CacheCreationInputTokens,
		}
	case "content_block_start":
		parser.blocks[data.Index] = &anthropicPartialBlock{
			kind: data.ContentBlock.Type,
			id:   data.ContentBlock.ID,
			name: data.ContentBlock.Name,
		}
	case "content_block_delta":
		block, ok := parser.blocks[data.Index]
		if !ok {
			return StreamEvent{}, false, nil
		}
		switch data.Delta.Type {
		case "text_delta":
			block.text.WriteString(data.Delta.Text)
			return StreamEvent{Type: EventTextDelta, Text: data.Delta.Text}, true, nil
		case "input_json_delta":
			block.input.WriteString(data.Delta.PartialJSON)
		}
	case "content_block_stop":
		block, ok := parser.blocks[data.Index]
		if !ok {
			return StreamEvent{}, false, nil
		}
		delete(parser.blocks, data.Index)
		if block.kind != "text" && block.kind != "tool_use" {
			// Thinking and other server-side blocks are not
			// conversation content.
			return StreamEvent{}, false, nil
		}
		return StreamEvent{Type: EventContentBlockDone, ContentBlock: block.finish()}, true, nil
	case "message_delta":
		response.StopReason = anthropicStopReason(data.Delta.StopReason)
		response.Usage.OutputTokens += data.Usage.OutputTokens
	}
	return StreamEvent{}, false, nil
}

func anthropicStopReason(reason string) StopReason {
	switch reason {
	case "end_turn":
		return StopReasonEndTurn
	case "tool_use":
		return StopReasonToolUse
	case "max_tokens":
		return StopReasonMaxTokens
	case "stop_sequence":
		return StopReasonStopSequence
	}
	return StopReason(reason)
}
