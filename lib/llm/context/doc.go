// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package context bounds conversation history before it is sent to a
// model.
//
// [WindowHistory] keeps the most recent messages of a conversation
// while restoring the two invariants that naive truncation breaks: the
// window must open on a user request, and standing instructions
// (instruction content blocks, see [llm.ContentInstruction]) must
// survive for the life of the conversation.
//
// [Classify] maps a message to its [TurnKind]. A user-role message
// with text is a request and may open a window; user-role messages
// holding only tool results continue the preceding exchange and never
// open one.
package context
