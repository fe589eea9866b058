// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/bureau-foundation/camille/lib/entitycache"
	"github.com/bureau-foundation/camille/mattermost"
)

// fakeCache records every mutation as a line of text.
type fakeCache struct {
	mu        sync.Mutex
	self      entitycache.User
	resyncErr error
	memberErr error
	calls     []string
}

func (c *fakeCache) record(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, fmt.Sprintf(format, args...))
}

func (c *fakeCache) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

func (c *fakeCache) ResyncAll(context.Context) (entitycache.User, error) {
	c.record("resync")
	if c.resyncErr != nil {
		return entitycache.User{}, c.resyncErr
	}
	return c.self, nil
}

func (c *fakeCache) UpsertUser(user *mattermost.User) {
	c.record("upsert user %s %s", user.ID, user.Username)
}

func (c *fakeCache) UpsertChannel(channel *mattermost.Channel) {
	c.record("upsert channel %s %s", channel.ID, channel.Name)
}

func (c *fakeCache) AddMembership(_ context.Context, channelID, userID string) error {
	c.record("add %s %s", channelID, userID)
	return c.memberErr
}

func (c *fakeCache) RemoveMembership(_ context.Context, channelID, userID string) error {
	c.record("remove %s %s", channelID, userID)
	return c.memberErr
}

func (c *fakeCache) DropChannel(channelID string) {
	c.record("drop %s", channelID)
}

type fakePosts struct {
	mu    sync.Mutex
	posts []string
	err   error
}

func (p *fakePosts) HandlePost(_ context.Context, post *mattermost.Post) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.posts = append(p.posts, post.ID)
	return p.err
}

func (p *fakePosts) Handled() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.posts...)
}

// frame builds the JSON of a server event frame.
func frame(t *testing.T, kind string, data any, broadcast mattermost.Broadcast, seq int64) []byte {
	t.Helper()
	encodedData, err := json.Marshal(data)
	if err != nil {
		t.Fatal(err)
	}
	encoded, err := json.Marshal(map[string]any{
		"event":     kind,
		"data":      json.RawMessage(encodedData),
		"broadcast": broadcast,
		"seq":       seq,
	})
	if err != nil {
		t.Fatal(err)
	}
	return encoded
}

// embedded encodes value as a JSON string, the way the server nests
// posts, users and channels inside event data.
func embedded(t *testing.T, value any) string {
	t.Helper()
	encoded, err := json.Marshal(value)
	if err != nil {
		t.Fatal(err)
	}
	return string(encoded)
}

func event(t *testing.T, kind string, data any, broadcast mattermost.Broadcast) *mattermost.Event {
	t.Helper()
	decoded, err := mattermost.Decode(1, frame(t, kind, data, broadcast, 1))
	if err != nil {
		t.Fatalf("Decode(%s): %v", kind, err)
	}
	return decoded
}

func postedEvent(t *testing.T, post mattermost.Post) *mattermost.Event {
	return event(t, "posted", map[string]any{"post": embedded(t, post)}, mattermost.Broadcast{ChannelID: post.ChannelID})
}

func helloEvent(t *testing.T) *mattermost.Event {
	return event(t, "hello", map[string]any{"server_version": "9.11.0"}, mattermost.Broadcast{UserID: "bot"})
}

func newTestDispatcher(cache *fakeCache, posts *fakePosts) *Dispatcher {
	return NewDispatcher(DispatcherConfig{
		Cache:  cache,
		Posts:  posts,
		Logger: slog.New(slog.DiscardHandler),
	})
}

func TestDispatchHelloResyncs(t *testing.T) {
	t.Parallel()

	cache := &fakeCache{self: entitycache.User{ID: "bot", Username: "camille"}}
	var resynced []string
	dispatcher := NewDispatcher(DispatcherConfig{
		Cache:    cache,
		Posts:    &fakePosts{},
		OnResync: func(self entitycache.User) { resynced = append(resynced, self.Username) },
		Logger:   slog.New(slog.DiscardHandler),
	})

	if dispatcher.Self() != "" {
		t.Errorf("Self() before hello = %q", dispatcher.Self())
	}
	if err := dispatcher.Dispatch(context.Background(), helloEvent(t)); err != nil {
		t.Fatalf("Dispatch(hello): %v", err)
	}
	if dispatcher.Self() != "bot" {
		t.Errorf("Self() = %q, want bot", dispatcher.Self())
	}
	if diff := cmp.Diff([]string{"camille"}, resynced); diff != "" {
		t.Errorf("OnResync calls (-want +got):\n%s", diff)
	}
}

func TestDispatchHelloResyncFailureIsFatal(t *testing.T) {
	t.Parallel()

	cache := &fakeCache{resyncErr: fmt.Errorf("GetMe: %w", entitycache.ErrIdentity)}
	dispatcher := newTestDispatcher(cache, &fakePosts{})

	err := dispatcher.Dispatch(context.Background(), helloEvent(t))
	if !errors.Is(err, entitycache.ErrIdentity) {
		t.Fatalf("Dispatch(hello) = %v, want ErrIdentity", err)
	}
	if dispatcher.Self() != "" {
		t.Errorf("Self() = %q after failed resync", dispatcher.Self())
	}
}

func TestDispatchPostFiltering(t *testing.T) {
	t.Parallel()

	cache := &fakeCache{self: entitycache.User{ID: "bot"}}
	posts := &fakePosts{}
	dispatcher := newTestDispatcher(cache, posts)
	ctx := context.Background()

	// Dropped: no identity yet.
	if err := dispatcher.Dispatch(ctx, postedEvent(t, mattermost.Post{ID: "early", UserID: "alice", ChannelID: "c1"})); err != nil {
		t.Fatal(err)
	}
	if err := dispatcher.Dispatch(ctx, helloEvent(t)); err != nil {
		t.Fatal(err)
	}

	for _, post := range []mattermost.Post{
		{ID: "own", UserID: "bot", ChannelID: "c1", Message: "my reply"},
		{ID: "join", UserID: "alice", ChannelID: "c1", Type: "system_join_channel"},
		{ID: "hook", UserID: "hookbot", ChannelID: "c1", Props: map[string]any{"from_bot": "true"}},
		{ID: "answer-me", UserID: "alice", ChannelID: "c1", Message: "hi camille"},
	} {
		if err := dispatcher.Dispatch(ctx, postedEvent(t, post)); err != nil {
			t.Fatalf("Dispatch(%s): %v", post.ID, err)
		}
	}

	if diff := cmp.Diff([]string{"answer-me"}, posts.Handled()); diff != "" {
		t.Errorf("handled posts (-want +got):\n%s", diff)
	}
}

func TestDispatchPostHandlerErrorIsNotFatal(t *testing.T) {
	t.Parallel()

	cache := &fakeCache{self: entitycache.User{ID: "bot"}}
	posts := &fakePosts{err: errors.New("model unavailable")}
	dispatcher := newTestDispatcher(cache, posts)
	ctx := context.Background()

	if err := dispatcher.Dispatch(ctx, helloEvent(t)); err != nil {
		t.Fatal(err)
	}
	err := dispatcher.Dispatch(ctx, postedEvent(t, mattermost.Post{ID: "p1", UserID: "alice", ChannelID: "c1"}))
	if err != nil {
		t.Errorf("Dispatch(posted) = %v, want nil", err)
	}
}

func TestDispatchEntityEvents(t *testing.T) {
	t.Parallel()

	cache := &fakeCache{self: entitycache.User{ID: "bot"}}
	dispatcher := newTestDispatcher(cache, &fakePosts{})
	ctx := context.Background()

	events := []*mattermost.Event{
		helloEvent(t),
		event(t, "user_updated",
			map[string]any{"user": embedded(t, mattermost.User{ID: "alice", Username: "alice2"})},
			mattermost.Broadcast{}),
		event(t, "channel_updated",
			map[string]any{"channel": embedded(t, mattermost.Channel{ID: "c1", Name: "general"})},
			mattermost.Broadcast{ChannelID: "c1"}),
		// Channel members see the new member in data.
		event(t, "user_added",
			map[string]any{"user_id": "bea", "team_id": "t1"},
			mattermost.Broadcast{ChannelID: "c1"}),
		event(t, "user_removed",
			map[string]any{"user_id": "bea", "remover_id": "alice"},
			mattermost.Broadcast{ChannelID: "c1"}),
		// The removed user itself sees the channel in data and only
		// itself in the broadcast scope.
		event(t, "user_removed",
			map[string]any{"channel_id": "c2", "remover_id": "alice"},
			mattermost.Broadcast{UserID: "bot"}),
		event(t, "reaction_added", map[string]any{}, mattermost.Broadcast{}),
	}
	for _, ev := range events {
		if err := dispatcher.Dispatch(ctx, ev); err != nil {
			t.Fatalf("Dispatch(%s): %v", ev.RawKind, err)
		}
	}

	want := []string{
		"resync",
		"upsert user alice alice2",
		"upsert channel c1 general",
		"add c1 bea",
		"remove c1 bea",
		"drop c2",
	}
	if diff := cmp.Diff(want, cache.Calls()); diff != "" {
		t.Errorf("cache calls (-want +got):\n%s", diff)
	}
}

func TestDispatchMembershipErrorsAreNotFatal(t *testing.T) {
	t.Parallel()

	cache := &fakeCache{self: entitycache.User{ID: "bot"}, memberErr: entitycache.ErrNotFound}
	dispatcher := newTestDispatcher(cache, &fakePosts{})
	ctx := context.Background()

	for _, ev := range []*mattermost.Event{
		event(t, "user_added", map[string]any{"user_id": "ghost"}, mattermost.Broadcast{ChannelID: "c1"}),
		event(t, "user_removed", map[string]any{"user_id": "ghost"}, mattermost.Broadcast{ChannelID: "c1"}),
		// Undecodable payloads are skipped too.
		event(t, "user_added", map[string]any{}, mattermost.Broadcast{}),
		event(t, "user_updated", map[string]any{"user": "{not json"}, mattermost.Broadcast{}),
	} {
		if err := dispatcher.Dispatch(ctx, ev); err != nil {
			t.Errorf("Dispatch(%s) = %v, want nil", ev.RawKind, err)
		}
	}
}
