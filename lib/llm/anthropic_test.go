// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// anthropicTestServer creates a test HTTP server and returns an
// Anthropic provider pointed at it.
func anthropicTestServer(t *testing.T, handler http.HandlerFunc) *Anthropic {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewAnthropic(HTTPConfig{BaseURL: server.URL, APIKey: "test-key"})
}

// drainStream reads stream to io.EOF and returns the concatenated
// text deltas.
func drainStream(t *testing.T, stream *EventStream) string {
	t.Helper()
	var text string
	for {
		event, err := stream.Next()
		if err == io.EOF {
			return text
		}
		if err != nil {
			t.Fatalf("Next() error: %v", err)
		}
		if event.Type == EventTextDelta {
			text += event.Text
		}
	}
}

func writeSSE(writer http.ResponseWriter, events ...string) {
	writer.Header().Set("Content-Type", "text/event-stream")
	for _, event := range events {
		io.WriteString(writer, event)
	}
}

func TestAnthropicRequestPlacesInstructionsInSystem(t *testing.T) {
	t.Parallel()

	var captured anthropicRequest
	provider := anthropicTestServer(t, func(writer http.ResponseWriter, request *http.Request) {
		if request.URL.Path != "/v1/messages" {
			t.Errorf("path = %q, want /v1/messages", request.URL.Path)
		}
		if got := request.Header.Get("x-api-key"); got != "test-key" {
			t.Errorf("x-api-key = %q, want test-key", got)
		}
		if got := request.Header.Get("anthropic-version"); got != anthropicVersion {
			t.Errorf("anthropic-version = %q", got)
		}
		if got := request.Header.Get("Accept"); got != "text/event-stream" {
			t.Errorf("Accept = %q", got)
		}
		if err := json.NewDecoder(request.Body).Decode(&captured); err != nil {
			writer.WriteHeader(http.StatusBadRequest)
			return
		}
		writeSSE(writer, "event: message_stop\ndata: {}\n\n")
	})

	stream, err := provider.Stream(context.Background(), Request{
		Model:     "claude-test",
		System:    "Current time: noon",
		MaxTokens: 256,
		Messages: []Message{
			{Role: RoleUser, Content: []ContentBlock{InstructionBlock("You are Camille."), InstructionBlock("Be terse.")}},
			{Role: RoleUser, Content: []ContentBlock{TextBlock("alice: hello")}},
		},
		Tools: []ToolDefinition{{Name: "fetch_url", InputSchema: json.RawMessage(`{"type":"object"}`)}},
	})
	if err != nil {
		t.Fatalf("Stream() error: %v", err)
	}
	defer stream.Close()
	drainStream(t, stream)

	wantSystem := []anthropicText{
		{Type: "text", Text: "You are Camille."},
		{Type: "text", Text: "Be terse.", CacheControl: &anthropicCacheControl{Type: "ephemeral"}},
		{Type: "text", Text: "Current time: noon"},
	}
	if diff := cmp.Diff(wantSystem, captured.System); diff != "" {
		t.Errorf("system mismatch (-want +got):\n%s", diff)
	}
	wantMessages := []anthropicMessage{
		{Role: "user", Content: []anthropicBlock{{Type: "text", Text: "alice: hello"}}},
	}
	if diff := cmp.Diff(wantMessages, captured.Messages); diff != "" {
		t.Errorf("messages mismatch (-want +got):\n%s", diff)
	}
	if !captured.Stream || captured.MaxTokens != 256 {
		t.Errorf("stream = %v, max_tokens = %d", captured.Stream, captured.MaxTokens)
	}
	if len(captured.Tools) != 1 || captured.Tools[0].Name != "fetch_url" {
		t.Errorf("tools = %+v", captured.Tools)
	}
}

func TestAnthropicRequestWithoutInstructions(t *testing.T) {
	t.Parallel()

	wire := buildAnthropicRequest(Request{Model: "m", Messages: []Message{UserMessage("hi")}})
	if wire.System != nil {
		t.Errorf("system = %+v, want none", wire.System)
	}
	wire = buildAnthropicRequest(Request{Model: "m", System: "ctx", Messages: []Message{UserMessage("hi")}})
	if len(wire.System) != 1 || wire.System[0].CacheControl != nil {
		t.Errorf("system = %+v, want one uncached block", wire.System)
	}
}

func TestAnthropicStreamHTTPError(t *testing.T) {
	t.Parallel()

	provider := anthropicTestServer(t, func(writer http.ResponseWriter, request *http.Request) {
		writer.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(writer, `{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`)
	})

	_, err := provider.Stream(context.Background(), Request{Model: "m", Messages: []Message{UserMessage("x")}})
	var providerError *ProviderError
	if !errors.As(err, &providerError) {
		t.Fatalf("error = %v, want *ProviderError", err)
	}
	if !providerError.IsRateLimited() {
		t.Errorf("IsRateLimited() = false for %d", providerError.StatusCode)
	}
	if providerError.Type != "rate_limit_error" || providerError.Message != "slow down" {
		t.Errorf("error = %+v", providerError)
	}
}

func TestAnthropicStream(t *testing.T) {
	t.Parallel()

	provider := anthropicTestServer(t, func(writer http.ResponseWriter, request *http.Request) {
		writeSSE(writer,
			"event: message_start\ndata: {\"message\":{\"model\":\"claude-test\",\"usage\":{\"input_tokens\":20,\"cache_read_input_tokens\":15}}}\n\n",
			"event: content_block_start\ndata: {\"index\":0,\"content_block\":{\"type\":\"text\"}}\n\n",
			"event: content_block_delta\ndata: {\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":\"Hel\"}}\n\n",
			"event: ping\ndata: {}\n\n",
			"event: content_block_delta\ndata: {\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":\"lo\"}}\n\n",
			"event: content_block_stop\ndata: {\"index\":0}\n\n",
			"event: content_block_start\ndata: {\"index\":1,\"content_block\":{\"type\":\"tool_use\",\"id\":\"toolu_9\",\"name\":\"update_user_notes\"}}\n\n",
			"event: content_block_delta\ndata: {\"index\":1,\"delta\":{\"type\":\"input_json_delta\",\"partial_json\":\"{\\\"notes\\\":\"}}\n\n",
			"event: content_block_delta\ndata: {\"index\":1,\"delta\":{\"type\":\"input_json_delta\",\"partial_json\":\"\\\"likes tea\\\"}\"}}\n\n",
			"event: content_block_stop\ndata: {\"index\":1}\n\n",
			"event: message_delta\ndata: {\"delta\":{\"stop_reason\":\"tool_use\"},\"usage\":{\"output_tokens\":9}}\n\n",
			"event: message_stop\ndata: {}\n\n",
		)
	})

	stream, err := provider.Stream(context.Background(), Request{Model: "claude-test", Messages: []Message{UserMessage("hi")}})
	if err != nil {
		t.Fatalf("Stream() error: %v", err)
	}
	defer stream.Close()

	if text := drainStream(t, stream); text != "Hello" {
		t.Errorf("streamed text = %q, want Hello", text)
	}
	want := Response{
		Content: []ContentBlock{
			TextBlock("Hello"),
			ToolUseBlock("toolu_9", "update_user_notes", json.RawMessage(`{"notes":"likes tea"}`)),
		},
		StopReason: StopReasonToolUse,
		Usage:      Usage{InputTokens: 20, OutputTokens: 9, CacheReadTokens: 15},
		Model:      "claude-test",
	}
	if diff := cmp.Diff(want, stream.Response()); diff != "" {
		t.Errorf("Response() mismatch (-want +got):\n%s", diff)
	}
}

func TestAnthropicStreamErrorEvent(t *testing.T) {
	t.Parallel()

	provider := anthropicTestServer(t, func(writer http.ResponseWriter, request *http.Request) {
		writeSSE(writer, "event: error\ndata: {\"type\":\"error\",\"error\":{\"type\":\"overloaded_error\",\"message\":\"busy\"}}\n\n")
	})

	stream, err := provider.Stream(context.Background(), Request{Model: "m", Messages: []Message{UserMessage("x")}})
	if err != nil {
		t.Fatalf("Stream() error: %v", err)
	}
	defer stream.Close()

	event, err := stream.Next()
	if err != nil {
		t.Fatalf("Next() error: %v", err)
	}
	var providerError *ProviderError
	if event.Type != EventError || !errors.As(event.Error, &providerError) || providerError.Type != "overloaded_error" {
		t.Errorf("event = %+v, want overloaded_error EventError", event)
	}
}

func TestAnthropicToolResultWireFormat(t *testing.T) {
	t.Parallel()

	message := ToolResultMessage(ToolResult{ToolUseID: "toolu_1", Content: "done", IsError: true})
	wire := toAnthropicMessage(message)
	if wire.Role != "user" || len(wire.Content) != 1 {
		t.Fatalf("wire = %+v", wire)
	}
	block := wire.Content[0]
	if block.Type != "tool_result" || block.ToolUseID != "toolu_1" || !block.IsError {
		t.Errorf("block = %+v", block)
	}
	if string(block.Content) != `"done"` {
		t.Errorf("content = %s, want JSON string", block.Content)
	}
}
