// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"strings"

	"google.golang.org/genai"
)

// Gemini implements [Provider] for Google's Gemini API through the
// genai SDK. Instruction blocks, then [Request.System], form the
// request's system instruction. Every harm category is set to
// BLOCK_NONE; filtered answers otherwise arrive as empty responses.
type Gemini struct {
	models *genai.Models
}

// NewGemini creates a Gemini provider. BaseURL overrides the SDK's
// default endpoint when set.
func NewGemini(ctx context.Context, config HTTPConfig) (*Gemini, error) {
	clientConfig := &genai.ClientConfig{
		APIKey:     config.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: config.HTTPClient,
	}
	if config.BaseURL != "" {
		clientConfig.HTTPOptions.BaseURL = config.BaseURL
	}
	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("llm/gemini: creating client: %w", err)
	}
	return &Gemini{models: client.Models}, nil
}

// Stream implements [Provider]. Text parts are surfaced as they
// arrive; function calls are emitted as complete blocks at the end.
func (provider *Gemini) Stream(ctx context.Context, request Request) (*EventStream, error) {
	contents, config := buildGeminiRequest(request)
	next, stop := iter.Pull2(provider.models.GenerateContentStream(ctx, request.Model, contents, config))

	var accumulator geminiAccumulator
	var pending []StreamEvent
	finished := false

	return NewEventStream(func(response *Response) (StreamEvent, error) {
		for {
			if len(pending) > 0 {
				event := pending[0]
				pending = pending[1:]
				return event, nil
			}
			if finished {
				return StreamEvent{}, io.EOF
			}

			chunk, err, ok := next()
			if !ok {
				finished = true
				complete := accumulator.response()
				response.Model = complete.Model
				response.StopReason = complete.StopReason
				response.Usage = complete.Usage
				for _, block := range complete.Content {
					pending = append(pending, StreamEvent{Type: EventContentBlockDone, ContentBlock: block})
				}
				pending = append(pending, StreamEvent{Type: EventDone})
				continue
			}
			if err != nil {
				return StreamEvent{}, fmt.Errorf("llm/gemini: streaming content: %w", err)
			}
			for _, text := range accumulator.add(chunk) {
				pending = append(pending, StreamEvent{Type: EventTextDelta, Text: text})
			}
		}
	}, stopCloser(stop)), nil
}

type stopCloser func()

func (stop stopCloser) Close() error {
	stop()
	return nil
}

var geminiHarmCategories = []genai.HarmCategory{
	genai.HarmCategoryHarassment,
	genai.HarmCategoryHateSpeech,
	genai.HarmCategorySexuallyExplicit,
	genai.HarmCategoryDangerousContent,
}

func buildGeminiRequest(request Request) ([]*genai.Content, *genai.GenerateContentConfig) {
	config := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(request.MaxTokens),
	}
	if request.Temperature != nil {
		temperature := float32(*request.Temperature)
		config.Temperature = &temperature
	}
	for _, category := range geminiHarmCategories {
		config.SafetySettings = append(config.SafetySettings, &genai.SafetySetting{
			Category:  category,
			Threshold: genai.HarmBlockThresholdBlockNone,
		})
	}
	if len(request.Tools) > 0 {
		tool := &genai.Tool{}
		for _, definition := range request.Tools {
			var schema any
			if len(definition.InputSchema) > 0 {
				_ = json.Unmarshal(definition.InputSchema, &schema)
			}
			tool.FunctionDeclarations = append(tool.FunctionDeclarations, &genai.FunctionDeclaration{
				Name:                 definition.Name,
				Description:          definition.Description,
				ParametersJsonSchema: schema,
			})
		}
		config.Tools = []*genai.Tool{tool}
	}

	// Function responses must carry the function name, which our tool
	// results only reference by call ID.
	toolNames := make(map[string]string)
	var contents []*genai.Content
	var system []*genai.Part
	for _, message := range request.Messages {
		instructions, rest := splitInstructions(message)
		for _, text := range instructions {
			system = append(system, genai.NewPartFromText(text))
		}
		content := &genai.Content{Role: genai.RoleUser}
		if rest.Role == RoleAssistant {
			content.Role = genai.RoleModel
		}
		for _, block := range rest.Content {
			switch block.Type {
			case ContentText:
				content.Parts = append(content.Parts, genai.NewPartFromText(block.Text))
			case ContentToolUse:
				if block.ToolUse == nil {
					continue
				}
				toolNames[block.ToolUse.ID] = block.ToolUse.Name
				args := make(map[string]any)
				_ = json.Unmarshal(block.ToolUse.Input, &args)
				content.Parts = append(content.Parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{ID: block.ToolUse.ID, Name: block.ToolUse.Name, Args: args},
				})
			case ContentToolResult:
				if block.ToolResult == nil {
					continue
				}
				key := "output"
				if block.ToolResult.IsError {
					key = "error"
				}
				content.Parts = append(content.Parts, &genai.Part{
					FunctionResponse: &genai.FunctionResponse{
						ID:       block.ToolResult.ToolUseID,
						Name:     toolNames[block.ToolResult.ToolUseID],
						Response: map[string]any{key: block.ToolResult.Content},
					},
				})
			}
		}
		if len(content.Parts) > 0 {
			contents = append(contents, content)
		}
	}
	if request.System != "" {
		system = append(system, genai.NewPartFromText(request.System))
	}
	if len(system) > 0 {
		config.SystemInstruction = &genai.Content{Role: genai.RoleUser, Parts: system}
	}
	return contents, config
}

// geminiAccumulator folds one or more GenerateContentResponse chunks
// into a single Response.
type geminiAccumulator struct {
	text       strings.Builder
	calls      []ContentBlock
	model      string
	stopReason StopReason
	usage      Usage
}

// add folds chunk in and returns its text parts.
func (accumulator *geminiAccumulator) add(chunk *genai.GenerateContentResponse) []string {
	if chunk == nil {
		return nil
	}
	if chunk.ModelVersion != "" {
		accumulator.model = chunk.ModelVersion
	}
	if chunk.UsageMetadata != nil {
		accumulator.usage = Usage{
			InputTokens:     int64(chunk.UsageMetadata.PromptTokenCount),
			OutputTokens:    int64(chunk.UsageMetadata.CandidatesTokenCount),
			CacheReadTokens: int64(chunk.UsageMetadata.CachedContentTokenCount),
		}
	}
	if len(chunk.Candidates) == 0 {
		return nil
	}
	candidate := chunk.Candidates[0]
	if candidate.FinishReason != "" {
		accumulator.stopReason = mapGeminiFinishReason(candidate.FinishReason)
	}
	if candidate.Content == nil {
		return nil
	}

	var texts []string
	for _, part := range candidate.Content.Parts {
		switch {
		case part.Thought:
			// Thought summaries are not conversation content.
		case part.FunctionCall != nil:
			id := part.FunctionCall.ID
			if id == "" {
				id = fmt.Sprintf("call_%d", len(accumulator.calls))
			}
			input, err := json.Marshal(part.FunctionCall.Args)
			if err != nil || part.FunctionCall.Args == nil {
				input = []byte("{}")
			}
			accumulator.calls = append(accumulator.calls, ToolUseBlock(id, part.FunctionCall.Name, input))
		case part.Text != "":
			accumulator.text.WriteString(part.Text)
			texts = append(texts, part.Text)
		}
	}
	return texts
}

func (accumulator *geminiAccumulator) response() *Response {
	response := &Response{
		Model:      accumulator.model,
		StopReason: accumulator.stopReason,
		Usage:      accumulator.usage,
	}
	if accumulator.text.Len() > 0 {
		response.Content = append(response.Content, TextBlock(accumulator.text.String()))
	}
	response.Content = append(response.Content, accumulator.calls...)
	if len(accumulator.calls) > 0 {
		response.StopReason = StopReasonToolUse
	}
	return response
}

func mapGeminiFinishReason(reason genai.FinishReason) StopReason {
	switch reason {
	case genai.FinishReasonStop:
		return StopReasonEndTurn
	case genai.FinishReasonMaxTokens:
		return StopReasonMaxTokens
	default:
		return StopReason(strings.ToLower(string(reason)))
	}
}
