// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package session consumes one Mattermost websocket connection.
//
// [Session.Run] is the event loop: it reads a frame, decodes it with
// [mattermost.Decode], records its sequence number, and hands the event
// to a [Dispatcher]. Each handler runs to completion before the next
// frame is read, so at most one turn is in flight per connection and
// the entity cache has a single writer.
//
// [Dispatcher.Dispatch] switches over the closed set of event kinds.
// Only two outcomes end a session: a failed resync on hello (without
// knowing its own identity the bot cannot tell its own posts apart and
// would answer itself) and the stream closing. Everything else is
// logged and skipped.
//
// [Supervise] restarts sessions with exponential backoff.
package session
