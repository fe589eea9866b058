// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source.
//
// The turn orchestrator stamps dynamic context with Now, and the
// reconnect loop in cmd/camille waits out its backoff with After. Tests
// substitute Fake and drive time explicitly:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	go loop(c)
//	c.WaitForTimers(1)
//	c.Advance(5 * time.Second)
package clock
