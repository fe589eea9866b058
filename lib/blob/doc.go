// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package blob frames opaque byte payloads (serialized conversation
// transcripts, entity cache snapshots) with a compression tag and the
// uncompressed length, so stored data stays readable when the writer's
// compression choice changes.
//
// Frame layout:
//
//	[1 byte CompressionTag][uvarint uncompressed length][payload]
//
// [Encode] falls back to [CompressionNone] when the requested
// algorithm does not shrink the data. [Decode] accepts any tag.
package blob
