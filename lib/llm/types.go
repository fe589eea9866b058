// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"encoding/json"
	"strings"
)

// Role identifies the author of a [Message].
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ContentType discriminates the variants of [ContentBlock].
type ContentType string

const (
	// ContentInstruction is a standing system instruction carried in
	// the conversation history rather than in [Request.System]. It
	// persists across turns and survives history windowing. Each
	// provider places instruction blocks where its API expects system
	// text.
	ContentInstruction ContentType = "instruction"

	ContentText       ContentType = "text"
	ContentToolUse    ContentType = "tool_use"
	ContentToolResult ContentType = "tool_result"
)

// Message is one turn of a conversation.
type Message struct {
	Role    Role           `json:"role"`
	Content []ContentBlock `json:"content"`
}

// ContentBlock is a tagged union. Type selects which of the other
// fields is meaningful.
type ContentBlock struct {
	Type       ContentType `json:"type"`
	Text       string      `json:"text,omitempty"`
	ToolUse    *ToolUse    `json:"tool_use,omitempty"`
	ToolResult *ToolResult `json:"tool_result,omitempty"`
}

// ToolUse is a tool invocation requested by the model.
type ToolUse struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult answers a [ToolUse] with the same ID.
type ToolResult struct {
	ToolUseID string `json:"tool_use_id"`
	Content   string `json:"content"`
	IsError   bool   `json:"is_error,omitempty"`
}

// TextBlock returns a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: ContentText, Text: text}
}

// InstructionBlock returns a standing instruction content block.
func InstructionBlock(text string) ContentBlock {
	return ContentBlock{Type: ContentInstruction, Text: text}
}

// ToolUseBlock returns a tool_use content block.
func ToolUseBlock(id, name string, input json.RawMessage) ContentBlock {
	return ContentBlock{
		Type:    ContentToolUse,
		ToolUse: &ToolUse{ID: id, Name: name, Input: input},
	}
}

// ToolResultBlock returns a tool_result content block.
func ToolResultBlock(toolUseID, content string, isError bool) ContentBlock {
	return ContentBlock{
		Type:       ContentToolResult,
		ToolResult: &ToolResult{ToolUseID: toolUseID, Content: content, IsError: isError},
	}
}

// UserMessage returns a user message with a single text block.
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Content: []ContentBlock{TextBlock(text)}}
}

// AssistantMessage returns an assistant message with a single text block.
func AssistantMessage(text string) Message {
	return Message{Role: RoleAssistant, Content: []ContentBlock{TextBlock(text)}}
}

// ToolResultMessage wraps tool results in a user message, which is
// how every supported provider expects them to be returned.
func ToolResultMessage(results ...ToolResult) Message {
	message := Message{Role: RoleUser}
	for _, result := range results {
		message.Content = append(message.Content, ToolResultBlock(result.ToolUseID, result.Content, result.IsError))
	}
	return message
}

// splitInstructions returns the text of message's instruction blocks
// and a copy of message without them. The input is not modified.
func splitInstructions(message Message) ([]string, Message) {
	var instructions []string
	rest := Message{Role: message.Role}
	for _, block := range message.Content {
		if block.Type == ContentInstruction {
			instructions = append(instructions, block.Text)
			continue
		}
		rest.Content = append(rest.Content, block)
	}
	return instructions, rest
}

// ToolDefinition declares a tool the model may call. InputSchema is a
// JSON Schema object describing the tool's arguments.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// Request is a provider-agnostic completion request.
type Request struct {
	Model string

	// System is per-request system text. It follows the standing
	// instructions found in Messages.
	System      string
	Messages    []Message
	Tools       []ToolDefinition
	MaxTokens   int
	Temperature *float64
}

// StopReason reports why the model stopped generating.
type StopReason string

const (
	StopReasonEndTurn      StopReason = "end_turn"
	StopReasonToolUse      StopReason = "tool_use"
	StopReasonMaxTokens    StopReason = "max_tokens"
	StopReasonStopSequence StopReason = "stop_sequence"
)

// Usage reports token consumption for one request.
type Usage struct {
	InputTokens      int64
	OutputTokens     int64
	CacheReadTokens  int64
	CacheWriteTokens int64
}

// Response is a complete model response.
type Response struct {
	Content    []ContentBlock
	StopReason StopReason
	Usage      Usage
	Model      string
}

// ToolUses returns the tool invocations in the response, in order.
func (response *Response) ToolUses() []ToolUse {
	var uses []ToolUse
	for _, block := range response.Content {
		if block.Type == ContentToolUse && block.ToolUse != nil {
			uses = append(uses, *block.ToolUse)
		}
	}
	return uses
}

// TextContent returns the concatenation of all text blocks.
func (response *Response) TextContent() string {
	var builder strings.Builder
	for _, block := range response.Content {
		if block.Type == ContentText {
			builder.WriteString(block.Text)
		}
	}
	return builder.String()
}

// StreamEventType discriminates [StreamEvent].
type StreamEventType int

const (
	// EventTextDelta carries an incremental piece of text in Text.
	EventTextDelta StreamEventType = iota

	// EventContentBlockDone carries a finished block in ContentBlock.
	EventContentBlockDone

	// EventDone marks the end of the response.
	EventDone

	// EventError carries a stream-level error in Error.
	EventError
)

// StreamEvent is one event yielded by an [EventStream].
type StreamEvent struct {
	Type         StreamEventType
	Text         string
	ContentBlock ContentBlock
	Error        error
}
