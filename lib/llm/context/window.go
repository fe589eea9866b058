// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package context

import "github.com/bureau-foundation/camille/lib/llm"

// WindowHistory bounds history to roughly maxTurns messages while
// keeping it valid generator input:
//
//  1. History no longer than maxTurns is returned unchanged (the same
//     slice, not a copy).
//  2. Every instruction fragment of the full history is collected.
//  3. The oldest len(history)-maxTurns messages are dropped.
//  4. Leading messages that are not user requests (tool results,
//     assistant continuations, bare instruction turns) are dropped, so
//     the window never opens on an orphaned tool exchange.
//  5. The collected fragments are consolidated into one instruction
//     turn prepended to the window. Fragments still present in
//     retained messages are moved, not copied, so each appears exactly
//     once and windowing the result again is a no-op.
//
// The result may hold maxTurns+1 messages when an instruction turn is
// prepended. A negative maxTurns is treated as zero.
func WindowHistory(history []llm.Message, maxTurns int) []llm.Message {
	if maxTurns < 0 {
		maxTurns = 0
	}
	if len(history) <= maxTurns {
		return history
	}

	fragments := Instructions(history)

	remaining := history[len(history)-maxTurns:]
	for len(remaining) > 0 && Classify(remaining[0]) != TurnUserRequest {
		remaining = remaining[1:]
	}

	windowed := make([]llm.Message, 0, len(remaining)+1)
	if len(fragments) > 0 {
		instructionTurn := llm.Message{Role: llm.RoleUser}
		for _, fragment := range fragments {
			instructionTurn.Content = append(instructionTurn.Content, llm.InstructionBlock(fragment))
		}
		windowed = append(windowed, instructionTurn)
	}
	for _, message := range remaining {
		message = withoutInstructions(message)
		if len(message.Content) > 0 {
			windowed = append(windowed, message)
		}
	}
	return windowed
}

// withoutInstructions returns message with its instruction blocks
// removed. Messages without instructions are returned as-is.
func withoutInstructions(message llm.Message) llm.Message {
	count := 0
	for _, block := range message.Content {
		if block.Type == llm.ContentInstruction {
			count++
		}
	}
	if count == 0 {
		return message
	}

	stripped := llm.Message{Role: message.Role}
	if count < len(message.Content) {
		stripped.Content = make([]llm.ContentBlock, 0, len(message.Content)-count)
	}
	for _, block := range message.Content {
		if block.Type != llm.ContentInstruction {
			stripped.Content = append(stripped.Content, block)
		}
	}
	return stripped
}
