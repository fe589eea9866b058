// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package turn answers Mattermost posts. [Orchestrator.HandlePost]
// runs one conversational turn per post: it resolves the post's
// thread, loads the windowed history, gathers the channel, its members
// and the sender from the entity cache, signals typing, drives a
// [generator.Turn] while posting each piece of model text as soon as
// it arrives, and commits the turn's messages to the history store.
//
// Failures after the post has been accepted are turn-local: the
// orchestrator posts "Error: ..." into the thread, logs, and returns
// nil so the session keeps dispatching events.
//
// The tools offered to the model (notes, model profiles, personality
// prompts, URL fetch)
// are built per turn in tools.go, bound to the post's sender and
// channel.
package turn
