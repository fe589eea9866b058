// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package entitycache keeps the local replica of one Mattermost
// server's users, teams, channels, and channel memberships.
//
// A [Cache] is constructed per server connection and passed to the
// components that need it; there is no process-wide instance. It is
// filled by [Cache.ResyncAll] when the event stream says hello, kept
// current by the upsert and membership methods as events arrive, and
// fills gaps on demand: [Cache.GetUser] and [Cache.GetChannel] fetch
// from the server on a miss, and [Cache.AddMembership] materializes
// both ends of a membership before recording it.
//
// Users and channels also carry local fields the server knows nothing
// about (free-text notes and a model preference) that the bot's tools
// edit. Remote updates never overwrite them, and [Cache.Snapshot]
// persists them across restarts.
package entitycache
