// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds the raw-stderr exit path used by cmd/camille
// before or after its structured logger exists.
package process
