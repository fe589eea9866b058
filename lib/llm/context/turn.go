// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package context

import "github.com/bureau-foundation/camille/lib/llm"

// TurnKind classifies a message for windowing purposes.
type TurnKind int

const (
	// TurnInstruction is a user-role message holding only standing
	// instruction blocks.
	TurnInstruction TurnKind = iota

	// TurnUserRequest is a user-role message with at least one text
	// block: a prompt typed by a person. Only these may open a window.
	TurnUserRequest

	// TurnToolResult is a user-role message carrying tool results and
	// no text.
	TurnToolResult

	// TurnToolCall is an assistant message that requests at least one
	// tool invocation.
	TurnToolCall

	// TurnAssistantResponse is an assistant message with no tool calls.
	TurnAssistantResponse
)

func (kind TurnKind) String() string {
	switch kind {
	case TurnInstruction:
		return "instruction"
	case TurnUserRequest:
		return "user_request"
	case TurnToolResult:
		return "tool_result"
	case TurnToolCall:
		return "tool_call"
	case TurnAssistantResponse:
		return "assistant_response"
	default:
		return "unknown"
	}
}

// Classify returns the kind of a message. A user-role message with
// neither text nor tool results (for example an empty one) classifies
// as TurnToolResult, which windowing treats as a dangling continuation.
func Classify(message llm.Message) TurnKind {
	if message.Role == llm.RoleAssistant {
		for _, block := range message.Content {
			if block.Type == llm.ContentToolUse {
				return TurnToolCall
			}
		}
		return TurnAssistantResponse
	}

	hasInstruction := false
	for _, block := range message.Content {
		switch block.Type {
		case llm.ContentText:
			return TurnUserRequest
		case llm.ContentInstruction:
			hasInstruction = true
		}
	}
	if hasInstruction && !hasToolResult(message) {
		return TurnInstruction
	}
	return TurnToolResult
}

func hasToolResult(message llm.Message) bool {
	for _, block := range message.Content {
		if block.Type == llm.ContentToolResult {
			return true
		}
	}
	return false
}

// Instructions returns every instruction fragment in history, in order.
func Instructions(history []llm.Message) []string {
	var fragments []string
	for _, message := range history {
		if message.Role != llm.RoleUser {
			continue
		}
		for _, block := range message.Content {
			if block.Type == llm.ContentInstruction {
				fragments = append(fragments, block.Text)
			}
		}
	}
	return fragments
}
