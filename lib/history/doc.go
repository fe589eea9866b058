// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package history persists conversation transcripts and hands bounded
// windows of them to the turn orchestrator.
//
// A post resolves to a [Thread] (the root post's ID, or the post's own
// ID for a root). Two interchangeable [Store] strategies exist; a
// deployment picks one:
//
//   - [ThreadStore] keeps one append-only log per thread. Each turn adds
//     one [Interaction] row and nothing is ever rewritten, so there is
//     no read-modify-write race. Backends: [SQLiteLog] and [MemoryLog].
//
//   - [DocumentHistory] keeps the whole (windowed) history of a channel
//     as one document guarded by an optimistic revision token. A stale
//     token fails the save with [ErrConflict]; the store reloads,
//     re-windows, reapplies the new messages and retries. Backends:
//     [PebbleDocuments], [CouchDocuments] and [MemoryDocuments].
//
// Transcripts are JSON arrays of llm.Message. Binary backends frame
// them with lib/blob so they are compressed at rest.
package history
