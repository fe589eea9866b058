// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package generator runs one conversational turn against an LLM
// provider: it sends the history plus the new input, executes any tool
// calls the model makes, feeds the results back, and repeats until the
// model answers without calling a tool.
//
// A turn is consumed as an iterator. [Turn.Next] yields each piece of
// model text, tool call and tool result as soon as it exists, so the
// caller can post text while later model calls are still pending.
// When Next returns io.EOF, [Turn.Delta] holds every message the turn
// added to the conversation, starting with the input, ready to be
// committed to history.
//
// Standing instruction blocks travel to the provider unchanged inside
// the conversation; each provider places them as system text.
package generator
