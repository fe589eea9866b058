// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the project's CBOR configuration.
//
// JSON is used for everything that crosses a process boundary: the
// Mattermost REST and websocket APIs, LLM provider APIs, and stored
// conversation transcripts (which must stay readable by other tools).
// CBOR is used for private on-disk state, currently the entity cache
// snapshot, where compactness and deterministic bytes matter more than
// readability.
//
// Struct tags follow one rule: a `json` tag alone controls naming for
// both formats, because fxamacker/cbor falls back to `json` tags when
// no `cbor` tag is present.
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
package codec
