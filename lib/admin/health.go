// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package admin

import (
	"slices"
	"sync"
	"time"

	"github.com/bureau-foundation/camille/lib/clock"
)

// ServerHealth is the state of one server's session.
type ServerHealth struct {
	Server    string    `json:"server"`
	Connected bool      `json:"connected"`
	Since     time.Time `json:"since"`
	LastError string    `json:"last_error,omitempty"`
}

// Health tracks session state for /healthz. Safe for concurrent use.
type Health struct {
	clock clock.Clock

	mu      sync.Mutex
	servers map[string]*ServerHealth
}

// NewHealth returns a Health expecting the given servers. Each starts
// disconnected.
func NewHealth(clk clock.Clock, servers ...string) *Health {
	if clk == nil {
		clk = clock.Real()
	}
	health := &Health{clock: clk, servers: make(map[string]*ServerHealth)}
	now := clk.Now()
	for _, server := range servers {
		health.servers[server] = &ServerHealth{Server: server, Since: now}
	}
	return health
}

// Connected marks server's session live.
func (h *Health) Connected(server string) {
	h.set(server, true, "")
}

// Disconnected marks server's session down, recording err if non-nil.
func (h *Health) Disconnected(server string, err error) {
	message := ""
	if err != nil {
		message = err.Error()
	}
	h.set(server, false, message)
}

func (h *Health) set(server string, connected bool, lastError string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	state, ok := h.servers[server]
	if !ok {
		state = &ServerHealth{Server: server}
		h.servers[server] = state
	}
	if state.Connected != connected || state.Since.IsZero() {
		state.Since = h.clock.Now()
	}
	state.Connected = connected
	if lastError != "" {
		state.LastError = lastError
	}
}

// Report returns every server's state sorted by name, and whether all
// are connected.
func (h *Health) Report() ([]ServerHealth, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	report := make([]ServerHealth, 0, len(h.servers))
	healthy := true
	for _, state := range h.servers {
		report = append(report, *state)
		healthy = healthy && state.Connected
	}
	slices.SortFunc(report, func(a, b ServerHealth) int {
		if a.Server < b.Server {
			return -1
		}
		if a.Server > b.Server {
			return 1
		}
		return 0
	})
	return report, healthy
}
