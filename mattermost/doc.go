// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package mattermost is camille's transport to a Mattermost server.
//
// [Client] wraps the /api/v4 REST endpoints the bot needs (identity,
// users, teams, channels, memberships, posting) behind a rate limiter.
// [Client.Connect] opens the websocket event stream as a [Stream],
// whose frames [Decode] turns into typed [Event] values with a closed
// [Kind]. [SequenceTracker] keeps the two sequence counters of a
// connection: the highest seq received from the server and the
// client's own outbound action counter.
//
// Errors returned by the server are [*APIError]; [IsNotFound] reports
// a 404 through any amount of wrapping.
package mattermost
