// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package llm provides a provider-agnostic interface for Large Language
// Model APIs with streaming and tool-use support.
//
// The primary abstraction is [Provider], which streams a response to a
// [Request]. Provider implementations translate between the common
// types in this package and each vendor's wire format.
//
// Conversation turns are [Message] values whose [ContentBlock] variants
// are text, tool_use, tool_result, and instruction. Instruction blocks
// are standing system instructions stored in conversation history. They
// travel to the provider inside the messages, and each provider moves
// them to wherever its API takes system text.
//
// Streaming uses Server-Sent Events, parsed by [SSEScanner], for the
// HTTP providers. [EventStream] yields [StreamEvent] values as they
// arrive while assembling the complete [Response].
//
// Current provider implementations:
//   - [Anthropic]: Claude models via the Messages API (/v1/messages)
//   - [OpenAI]: any OpenAI-compatible chat completions endpoint
//   - [Gemini]: Google Gemini models via google.golang.org/genai
package llm
