// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/bureau-foundation/camille/lib/clock"
)

// SuperviseConfig configures Supervise.
type SuperviseConfig struct {
	// Attempt connects and runs one session. It is called again after
	// it returns, unless Permanent reports the error as final.
	Attempt func(ctx context.Context) error

	// Permanent reports errors that must not be retried. Nil retries
	// everything.
	Permanent func(err error) bool

	// MinBackoff and MaxBackoff bound the delay between attempts.
	// Defaults: 1 second and 1 minute.
	MinBackoff time.Duration
	MaxBackoff time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

// Supervise runs Attempt until ctx is cancelled or Attempt fails
// permanently. The delay between attempts doubles after each quick
// failure; an attempt that lived longer than MaxBackoff resets it.
// Supervise returns ctx.Err() on cancellation and the permanent error
// otherwise.
func Supervise(ctx context.Context, config SuperviseConfig) error {
	if config.MinBackoff <= 0 {
		config.MinBackoff = time.Second
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = time.Minute
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	backoff := config.MinBackoff
	for {
		started := config.Clock.Now()
		err := config.Attempt(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil && config.Permanent != nil && config.Permanent(err) {
			return err
		}
		if config.Clock.Now().Sub(started) > config.MaxBackoff {
			backoff = config.MinBackoff
		}

		config.Logger.Warn("session ended, reconnecting", "error", err, "backoff", backoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-config.Clock.After(backoff):
		}
		backoff = min(backoff*2, config.MaxBackoff)
	}
}
