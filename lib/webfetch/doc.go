// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package webfetch retrieves a URL and reduces it to readable text for
// a model. HTML is parsed with golang.org/x/net/html; script, style and
// other non-content elements are dropped and whitespace is collapsed.
// Plain text and JSON bodies are passed through. Both the download and
// the returned text are bounded.
package webfetch
