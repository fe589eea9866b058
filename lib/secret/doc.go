// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret keeps credentials (Mattermost access tokens and model
// provider API keys) out of the Go heap.
//
// [Buffer] memory comes from mmap(MAP_ANONYMOUS), is mlock'd so it is
// never swapped, is marked MADV_DONTDUMP, and is zeroed on Close. The
// garbage collector never sees it, so the secret cannot be copied
// around by heap compaction. [Buffer.String] makes a heap copy and is
// meant only for the moment a request header is built.
package secret
