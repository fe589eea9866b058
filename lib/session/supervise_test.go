// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/bureau-foundation/camille/lib/clock"
	"github.com/bureau-foundation/camille/lib/entitycache"
	"github.com/bureau-foundation/camille/lib/testutil"
)

var errDropped = errors.New("connection dropped")

type attemptLog struct {
	mu    sync.Mutex
	times []time.Duration
}

func (l *attemptLog) add(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.times = append(l.times, d)
}

func (l *attemptLog) get() []time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]time.Duration(nil), l.times...)
}

func TestSuperviseBacksOffExponentially(t *testing.T) {
	t.Parallel()

	epoch := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fake := clock.Fake(epoch)
	attempts := &attemptLog{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Supervise(ctx, SuperviseConfig{
			Attempt: func(context.Context) error {
				attempts.add(fake.Now().Sub(epoch))
				return errDropped
			},
			MinBackoff: time.Second,
			MaxBackoff: 4 * time.Second,
			Clock:      fake,
			Logger:     slog.New(slog.DiscardHandler),
		})
	}()

	for _, delay := range []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 4 * time.Second} {
		fake.WaitForTimers(1)
		fake.Advance(delay - time.Millisecond)
		if fake.PendingCount() != 1 {
			t.Fatalf("backoff fired before %v elapsed", delay)
		}
		fake.Advance(time.Millisecond)
	}
	fake.WaitForTimers(1)
	cancel()

	if err := testutil.RequireDone(t, done, testutil.DefaultTimeout, "Supervise after cancel"); !errors.Is(err, context.Canceled) {
		t.Errorf("Supervise() = %v, want context.Canceled", err)
	}
	want := []time.Duration{0, time.Second, 3 * time.Second, 7 * time.Second, 11 * time.Second}
	if diff := cmp.Diff(want, attempts.get()); diff != "" {
		t.Errorf("attempt times (-want +got):\n%s", diff)
	}
}

func TestSuperviseResetsBackoffAfterStableSession(t *testing.T) {
	t.Parallel()

	epoch := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fake := clock.Fake(epoch)
	attempts := &attemptLog{}
	calls := 0

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Supervise(ctx, SuperviseConfig{
			Attempt: func(context.Context) error {
				calls++
				attempts.add(fake.Now().Sub(epoch))
				// The third session stays up for an hour.
				if calls == 3 {
					fake.Advance(time.Hour)
				}
				return errDropped
			},
			MinBackoff: time.Second,
			MaxBackoff: time.Minute,
			Clock:      fake,
			Logger:     slog.New(slog.DiscardHandler),
		})
	}()

	for _, delay := range []time.Duration{time.Second, 2 * time.Second, time.Second} {
		fake.WaitForTimers(1)
		fake.Advance(delay)
	}
	fake.WaitForTimers(1)
	cancel()
	testutil.RequireDone(t, done, testutil.DefaultTimeout, "Supervise after cancel")

	base := 3 * time.Second
	want := []time.Duration{0, time.Second, base, base + time.Hour + time.Second}
	if diff := cmp.Diff(want, attempts.get()); diff != "" {
		t.Errorf("attempt times (-want +got):\n%s", diff)
	}
}

func TestSuperviseStopsOnPermanentError(t *testing.T) {
	t.Parallel()

	wrapped := fmt.Errorf("session: resync: %w", entitycache.ErrIdentity)

	calls := 0
	err := Supervise(context.Background(), SuperviseConfig{
		Attempt: func(context.Context) error {
			calls++
			return wrapped
		},
		Permanent: func(err error) bool { return errors.Is(err, entitycache.ErrIdentity) },
		Clock:     clock.Fake(time.Unix(0, 0)),
		Logger:    slog.New(slog.DiscardHandler),
	})
	if !errors.Is(err, entitycache.ErrIdentity) {
		t.Errorf("Supervise() = %v, want ErrIdentity", err)
	}
	if calls != 1 {
		t.Errorf("attempts = %d, want 1", calls)
	}
}

func TestSuperviseCancelledDuringAttempt(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	err := Supervise(ctx, SuperviseConfig{
		Attempt: func(ctx context.Context) error {
			cancel()
			<-ctx.Done()
			return ctx.Err()
		},
		Clock:  clock.Fake(time.Unix(0, 0)),
		Logger: slog.New(slog.DiscardHandler),
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Supervise() = %v, want context.Canceled", err)
	}
}
