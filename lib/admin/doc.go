// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package admin serves the operator-facing HTTP endpoints of camille:
//
//   - GET /healthz reports per-server session state as JSON. It
//     answers 200 when every configured server has a live session
//     and 503 otherwise.
//   - GET /metrics serves the Prometheus registry of [metrics.Metrics].
//   - GET /version reports the build.
//
// The endpoints are unauthenticated and meant for a loopback or
// cluster-internal listener.
package admin
