// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package metrics holds the Prometheus collectors of a camille
// process. Collectors live on a per-process registry rather than the
// global default so tests can build isolated instances. Every series
// carries a "server" label naming the configured Mattermost server.
//
// [Server] returns the view of one server. Its methods are safe to call
// on a nil receiver, so components take an optional *Server and record
// unconditionally.
package metrics
