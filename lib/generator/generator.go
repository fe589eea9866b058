// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package generator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/bureau-foundation/camille/lib/llm"
)

// DefaultMaxModelCalls bounds the model calls of one turn.
const DefaultMaxModelCalls = 16

// ErrTooManyModelCalls is returned by Turn.Next when the model keeps
// calling tools past the configured limit.
var ErrTooManyModelCalls = errors.New("generator: too many model calls in one turn")

// Config configures a Generator.
type Config struct {
	// Provider is the LLM backend. Required.
	Provider llm.Provider

	// Model is the provider's model identifier. Required.
	Model string

	// MaxTokens bounds each model response. Defaults to 4096.
	MaxTokens int

	// Temperature is passed through when non-nil.
	Temperature *float64

	// MaxModelCalls defaults to DefaultMaxModelCalls.
	MaxModelCalls int

	Logger *slog.Logger
}

// Generator produces turns from one configured model.
type Generator struct {
	provider      llm.Provider
	model         string
	maxTokens     int
	temperature   *float64
	maxModelCalls int
	logger        *slog.Logger
}

// New returns a Generator for config.
func New(config Config) (*Generator, error) {
	if config.Provider == nil {
		return nil, fmt.Errorf("generator: provider is required")
	}
	if config.Model == "" {
		return nil, fmt.Errorf("generator: model is required")
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = 4096
	}
	if config.MaxModelCalls <= 0 {
		config.MaxModelCalls = DefaultMaxModelCalls
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Generator{
		provider:      config.Provider,
		model:         config.Model,
		maxTokens:     config.MaxTokens,
		temperature:   config.Temperature,
		maxModelCalls: config.MaxModelCalls,
		logger:        config.Logger,
	}, nil
}

// Model returns the configured model identifier.
func (g *Generator) Model() string {
	return g.model
}

// TurnRequest is the input of one turn.
type TurnRequest struct {
	// History is the prior conversation, already windowed.
	History []llm.Message

	// Input is the new user message. It opens the turn's delta.
	Input llm.Message

	// Tools the model may call during the turn.
	Tools *Toolset

	// System is context for this turn only. It is appended to the
	// hoisted standing instructions and never becomes part of the
	// delta.
	System string
}

// OutputKind discriminates Output.
type OutputKind int

const (
	// OutputText is a text block produced by the model.
	OutputText OutputKind = iota

	// OutputToolCall is a tool invocation requested by the model.
	OutputToolCall

	// OutputToolResult is the result of executing a tool call.
	OutputToolResult
)

func (kind OutputKind) String() string {
	switch kind {
	case OutputText:
		return "text"
	case OutputToolCall:
		return "tool_call"
	case OutputToolResult:
		return "tool_result"
	default:
		return "unknown"
	}
}

// Output is one item yielded by Turn.Next. Exactly one of Text,
// ToolCall and ToolResult is meaningful, selected by Kind.
type Output struct {
	Kind       OutputKind
	Text       string
	ToolCall   *llm.ToolUse
	ToolResult *llm.ToolResult
}

// Turn is an in-progress turn. It is not safe for concurrent use.
type Turn struct {
	generator *Generator
	request   TurnRequest

	delta   []llm.Message
	pending []Output
	calls   int
	done    bool
	usage   llm.Usage
}

// GenerateTurn starts a turn. No model call is made until the first
// call to Next.
func (g *Generator) GenerateTurn(ctx context.Context, request TurnRequest) (*Turn, error) {
	if len(request.Input.Content) == 0 {
		return nil, fmt.Errorf("generator: turn input is empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Turn{
		generator: g,
		request:   request,
		delta:     []llm.Message{request.Input},
	}, nil
}

// Next returns the next output of the turn, making model calls and
// running tools as needed. It returns io.EOF once the model has
// answered without calling a tool.
func (t *Turn) Next(ctx context.Context) (Output, error) {
	for len(t.pending) == 0 {
		if t.done {
			return Output{}, io.EOF
		}
		if err := t.step(ctx); err != nil {
			return Output{}, err
		}
	}
	output := t.pending[0]
	t.pending = t.pending[1:]
	return output, nil
}

// Delta returns the messages the turn has added so far, beginning
// with the input. After Next returns io.EOF it is the complete turn.
func (t *Turn) Delta() []llm.Message {
	return t.delta
}

// Usage returns the token usage summed over the turn's model calls.
func (t *Turn) Usage() llm.Usage {
	return t.usage
}

// step makes one model call, queues its outputs, and runs any tool
// calls it requested.
func (t *Turn) step(ctx context.Context) error {
	g := t.generator
	if t.calls >= g.maxModelCalls {
		return fmt.Errorf("%w (%d)", ErrTooManyModelCalls, g.maxModelCalls)
	}
	t.calls++

	conversation := make([]llm.Message, 0, len(t.request.History)+len(t.delta))
	conversation = append(conversation, t.request.History...)
	conversation = append(conversation, t.delta...)

	request := llm.Request{
		Model:       g.model,
		System:      t.request.System,
		Messages:    conversation,
		Tools:       t.request.Tools.Definitions(),
		MaxTokens:   g.maxTokens,
		Temperature: g.temperature,
	}

	response, err := g.call(ctx, request)
	if err != nil {
		return fmt.Errorf("generator: model call %d: %w", t.calls, err)
	}
	t.usage.InputTokens += response.Usage.InputTokens
	t.usage.OutputTokens += response.Usage.OutputTokens
	t.usage.CacheReadTokens += response.Usage.CacheReadTokens
	t.usage.CacheWriteTokens += response.Usage.CacheWriteTokens

	t.delta = append(t.delta, llm.Message{Role: llm.RoleAssistant, Content: response.Content})
	for _, block := range response.Content {
		switch block.Type {
		case llm.ContentText:
			t.pending = append(t.pending, Output{Kind: OutputText, Text: block.Text})
		case llm.ContentToolUse:
			if block.ToolUse != nil {
				t.pending = append(t.pending, Output{Kind: OutputToolCall, ToolCall: block.ToolUse})
			}
		}
	}

	uses := response.ToolUses()
	g.logger.Debug("model call completed",
		"model", g.model,
		"call", t.calls,
		"stop_reason", response.StopReason,
		"tool_calls", len(uses),
		"input_tokens", response.Usage.InputTokens,
		"output_tokens", response.Usage.OutputTokens,
	)
	if len(uses) == 0 {
		t.done = true
		return nil
	}

	results := make([]llm.ToolResult, 0, len(uses))
	for _, use := range uses {
		var result llm.ToolResult
		if ctx.Err() != nil {
			result = llm.ToolResult{ToolUseID: use.ID, Content: "execution cancelled", IsError: true}
		} else {
			result = t.request.Tools.Call(ctx, use)
		}
		if result.IsError {
			g.logger.Info("tool returned error", "name", use.Name, "id", use.ID, "error", result.Content)
		} else {
			g.logger.Debug("tool completed", "name", use.Name, "id", use.ID, "output_length", len(result.Content))
		}
		results = append(results, result)
		t.pending = append(t.pending, Output{Kind: OutputToolResult, ToolResult: &results[len(results)-1]})
	}
	t.delta = append(t.delta, llm.ToolResultMessage(results...))
	return nil
}

// call streams one request and returns the accumulated response.
func (g *Generator) call(ctx context.Context, request llm.Request) (*llm.Response, error) {
	stream, err := g.provider.Stream(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("starting stream: %w", err)
	}
	defer stream.Close()

	for {
		event, err := stream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading stream: %w", err)
		}
		if event.Type == llm.EventError && event.Error != nil {
			return nil, fmt.Errorf("stream error: %w", event.Error)
		}
	}

	response := stream.Response()
	return &response, nil
}
