// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"bufio"
	"io"
	"strings"
)

// SSEEvent is a single Server-Sent Event.
type SSEEvent struct {
	// Type is the "event:" field, empty for the default event type.
	Type string

	// Data is the payload. Multiple "data:" lines are joined with
	// newlines.
	Data string
}

// SSEScanner reads Server-Sent Events from an [io.Reader]. Events are
// delimited by blank lines; comment lines and fields other than
// "event" and "data" are ignored.
//
//	scanner := NewSSEScanner(reader)
//	for scanner.Next() {
//	    event := scanner.Event()
//	}
//	if err := scanner.Err(); err != nil {
//	    // handle error
//	}
type SSEScanner struct {
	reader  *bufio.Reader
	current SSEEvent
	err     error
}

// NewSSEScanner creates a scanner that reads SSE events from reader.
func NewSSEScanner(reader io.Reader) *SSEScanner {
	return &SSEScanner{reader: bufio.NewReaderSize(reader, 64*1024)}
}

// Next advances to the next event. It returns false at the end of the
// stream or on error; [SSEScanner.Err] distinguishes the two.
func (scanner *SSEScanner) Next() bool {
	if scanner.err != nil {
		return false
	}
	scanner.current = SSEEvent{}

	var eventType string
	var data []string
	emit := func() bool {
		scanner.current = SSEEvent{Type: eventType, Data: strings.Join(data, "\n")}
		return true
	}

	for {
		line, err := scanner.reader.ReadString('\n')
		if err != nil && line == "" {
			scanner.err = err
			if err == io.EOF && len(data) > 0 {
				return emit()
			}
			return false
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if len(data) > 0 {
				return emit()
			}
			eventType = ""
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "data":
			data = append(data, value)
		case "event":
			eventType = value
		}
	}
}

// Event returns the most recently parsed event.
func (scanner *SSEScanner) Event() SSEEvent {
	return scanner.current
}

// Err returns the first non-EOF error encountered.
func (scanner *SSEScanner) Err() error {
	if scanner.err == io.EOF {
		return nil
	}
	return scanner.err
}
