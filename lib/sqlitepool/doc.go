// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool opens the SQLite database behind the append-only
// interaction log.
//
// It wraps zombiezen.com/go/sqlite's sqlitex.Pool and applies the same
// pragmas to every connection:
//
//   - journal_mode=WAL: readers never block the writer.
//   - synchronous=NORMAL: commits survive a process crash without an
//     fsync per transaction.
//   - busy_timeout=5000: wait for the write lock instead of failing.
//   - foreign_keys=ON: interactions reference their thread row.
//   - temp_store=MEMORY.
package sqlitepool
