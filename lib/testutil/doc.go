// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for camille packages.
//
// [RequireReceive], [RequireClosed] and [RequireDone] bound how long a
// test waits on a channel. Tests that drive goroutines (sessions, the
// admin server, the binary's server loop) use them instead of writing
// their own select with time.After, so a regression fails with a
// message instead of hanging until the test binary times out. They
// are the only place in the test suite where wall-clock timeouts
// appear; everything else runs on [clock.FakeClock].
package testutil
