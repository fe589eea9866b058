// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Provider streams model responses. Implementations translate
// [Request] into a vendor wire format, including the placement of
// instruction blocks, and parse the vendor's stream back into
// [StreamEvent] values.
type Provider interface {
	// Stream sends request and returns an [EventStream] over the
	// response. The caller must Close the stream, even after an early
	// return.
	Stream(ctx context.Context, request Request) (*EventStream, error)
}

// HTTPConfig locates an HTTP provider endpoint.
type HTTPConfig struct {
	// BaseURL is the API root, e.g. "https://api.anthropic.com". The
	// provider appends its own path.
	BaseURL string

	// APIKey is sent in the provider's authentication header. Empty
	// disables authentication, which is useful for local servers.
	APIKey string

	// HTTPClient defaults to http.DefaultClient.
	HTTPClient *http.Client
}

// openStream POSTs body as JSON to path under the base URL and returns
// the event-stream body. A non-200 answer is read into a
// *ProviderError and the body is closed.
func (config HTTPConfig) openStream(ctx context.Context, path string, headers http.Header, body any, prefix string) (io.ReadCloser, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%s: encoding request: %w", prefix, err)
	}
	endpoint := strings.TrimRight(config.BaseURL, "/") + path
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", prefix, err)
	}
	request.Header = headers.Clone()
	if request.Header == nil {
		request.Header = http.Header{}
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "text/event-stream")

	client := config.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	response, err := client.Do(request)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", prefix, err)
	}
	if response.StatusCode != http.StatusOK {
		defer response.Body.Close()
		return nil, readProviderError(response)
	}
	return response.Body, nil
}

// EventStream yields the events of one streamed response while
// assembling the complete [Response]: finished content blocks are
// collected as they pass through Next, and the parser records model,
// stop reason and usage directly on the response it is handed.
// EventStream is not safe for concurrent use.
type EventStream struct {
	next     func(response *Response) (StreamEvent, error)
	closer   io.Closer
	response Response
	done     bool
}

// NewEventStream returns a stream driven by next, which returns io.EOF
// after the last event. closer, which may be nil, is closed by Close.
func NewEventStream(next func(response *Response) (StreamEvent, error), closer io.Closer) *EventStream {
	return &EventStream{next: next, closer: closer}
}

// ReplayResponse returns a stream that yields the blocks of an
// already complete response, then EventDone.
func ReplayResponse(complete Response) *EventStream {
	index := 0
	return NewEventStream(func(response *Response) (StreamEvent, error) {
		switch {
		case index < len(complete.Content):
			block := complete.Content[index]
			index++
			return StreamEvent{Type: EventContentBlockDone, ContentBlock: block}, nil
		case index == len(complete.Content):
			index++
			response.Model = complete.Model
			response.StopReason = complete.StopReason
			response.Usage = complete.Usage
			return StreamEvent{Type: EventDone}, nil
		default:
			return StreamEvent{}, io.EOF
		}
	}, nil)
}

// Next returns the next event, or io.EOF once the stream is exhausted.
func (stream *EventStream) Next() (StreamEvent, error) {
	if stream.done {
		return StreamEvent{}, io.EOF
	}
	event, err := stream.next(&stream.response)
	if err == io.EOF {
		stream.done = true
	}
	if err != nil {
		return StreamEvent{}, err
	}
	if event.Type == EventContentBlockDone {
		stream.response.Content = append(stream.response.Content, event.ContentBlock)
	}
	return event, nil
}

// Response returns what has been assembled so far; after io.EOF it is
// the complete response.
func (stream *EventStream) Response() Response {
	return stream.response
}

// Close releases the underlying connection.
func (stream *EventStream) Close() error {
	if stream.closer == nil {
		return nil
	}
	return stream.closer.Close()
}

// ProviderError is a non-200 answer from a model API.
type ProviderError struct {
	StatusCode int

	// Type is the vendor's error type, e.g. "rate_limit_error".
	Type    string
	Message string
}

func (err *ProviderError) Error() string {
	if err.Type == "" {
		return fmt.Sprintf("llm: HTTP %d: %s", err.StatusCode, err.Message)
	}
	return fmt.Sprintf("llm: HTTP %d: %s: %s", err.StatusCode, err.Type, err.Message)
}

// IsRateLimited reports a 429 answer.
func (err *ProviderError) IsRateLimited() bool {
	return err.StatusCode == http.StatusTooManyRequests
}

// readProviderError parses the {"error":{"type","message"}} body both
// vendors use, falling back to the raw text.
func readProviderError(response *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(response.Body, 4096))
	providerError := &ProviderError{StatusCode: response.StatusCode}

	var envelope wireError
	if json.Unmarshal(body, &envelope) == nil && envelope.Error.Message != "" {
		providerError.Type = envelope.Error.Type
		providerError.Message = envelope.Error.Message
		return providerError
	}
	providerError.Message = strings.TrimSpace(string(body))
	return providerError
}

// wireError is the error envelope of both HTTP vendors, in answers and
// in-stream.
type wireError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}
