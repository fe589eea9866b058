// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mattermost

import "sync/atomic"

// SequenceTracker holds the two sequence counters of one connection.
// They are independent: the client's outbound actions never move the
// record of what the server has sent, and out-of-order server frames
// never move the outbound counter.
//
// The zero value is ready to use. All methods are safe for concurrent
// use.
type SequenceTracker struct {
	lastSeen atomic.Int64
	outbound atomic.Int64
}

// Observe records a sequence number received from the server. The
// tracked maximum never decreases.
func (t *SequenceTracker) Observe(seq int64) {
	for {
		current := t.lastSeen.Load()
		if seq <= current || t.lastSeen.CompareAndSwap(current, seq) {
			return
		}
	}
}

// LastSeen returns the highest sequence number observed.
func (t *SequenceTracker) LastSeen() int64 {
	return t.lastSeen.Load()
}

// NextOutbound increments the outbound counter and returns the new
// value. The first call returns 1.
func (t *SequenceTracker) NextOutbound() int64 {
	return t.outbound.Add(1)
}
