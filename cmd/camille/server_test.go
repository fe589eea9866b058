// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/bureau-foundation/camille/lib/admin"
	"github.com/bureau-foundation/camille/lib/clock"
	"github.com/bureau-foundation/camille/lib/config"
	"github.com/bureau-foundation/camille/lib/entitycache"
	"github.com/bureau-foundation/camille/lib/generator"
	"github.com/bureau-foundation/camille/lib/history"
	"github.com/bureau-foundation/camille/lib/llm"
	"github.com/bureau-foundation/camille/lib/metrics"
	"github.com/bureau-foundation/camille/lib/testutil"
	"github.com/bureau-foundation/camille/lib/turn"
	"github.com/bureau-foundation/camille/mattermost"
)

// echoProvider greets whoever sent the last user message.
type echoProvider struct {
	mu       sync.Mutex
	requests []llm.Request
}

func (p *echoProvider) Stream(_ context.Context, request llm.Request) (*llm.EventStream, error) {
	p.mu.Lock()
	p.requests = append(p.requests, request)
	p.mu.Unlock()

	last := request.Messages[len(request.Messages)-1]
	sender, _, _ := strings.Cut(last.Content[len(last.Content)-1].Text, ":")
	return llm.ReplayResponse(llm.Response{
		Content:    []llm.ContentBlock{llm.TextBlock("Hello, " + sender + "!")},
		StopReason: llm.StopReasonEndTurn,
	}), nil
}

func (p *echoProvider) Requests() []llm.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]llm.Request(nil), p.requests...)
}

// fakeMattermost serves the REST calls of a resync, accepts posts and
// streams the given frames after hello.
type fakeMattermost struct {
	t      *testing.T
	frames [][]byte
	posts  chan mattermost.Post
	typing chan string
}

func (f *fakeMattermost) handler() http.Handler {
	reply := func(value any) http.HandlerFunc {
		return func(writer http.ResponseWriter, request *http.Request) {
			if request.Header.Get("Authorization") != "Bearer test-token" {
				writer.WriteHeader(http.StatusUnauthorized)
				return
			}
			writer.Header().Set("Content-Type", "application/json")
			json.NewEncoder(writer).Encode(value)
		}
	}
	bot := mattermost.User{ID: "bot", Username: "camille", IsBot: true}
	alice := mattermost.User{ID: "alice", Username: "alice", FirstName: "Alice"}

	mux := http.NewServeMux()
	mux.Handle("GET /api/v4/users/me", reply(bot))
	mux.Handle("GET /api/v4/users", reply([]mattermost.User{bot, alice}))
	mux.Handle("GET /api/v4/users/bot/teams", reply([]mattermost.Team{{ID: "t1", Name: "crew"}}))
	mux.Handle("GET /api/v4/users/bot/teams/t1/channels", reply([]mattermost.Channel{
		{ID: "c1", TeamID: "t1", Type: mattermost.ChannelOpen, Name: "general"},
	}))
	mux.Handle("GET /api/v4/channels/c1/members", reply([]mattermost.ChannelMember{
		{ChannelID: "c1", UserID: "bot"},
		{ChannelID: "c1", UserID: "alice"},
	}))
	mux.HandleFunc("POST /api/v4/posts", func(writer http.ResponseWriter, request *http.Request) {
		var post mattermost.Post
		if err := json.NewDecoder(request.Body).Decode(&post); err != nil {
			writer.WriteHeader(http.StatusBadRequest)
			return
		}
		post.ID = "reply-1"
		post.UserID = "bot"
		f.posts <- post
		writer.WriteHeader(http.StatusCreated)
		json.NewEncoder(writer).Encode(post)
	})
	upgrader := websocket.Upgrader{}
	mux.HandleFunc("/api/v4/websocket", func(writer http.ResponseWriter, request *http.Request) {
		conn, err := upgrader.Upgrade(writer, request, nil)
		if err != nil {
			f.t.Errorf("Upgrade: %v", err)
			return
		}
		defer conn.Close()

		conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"hello","data":{"server_version":"9.11.0"},"broadcast":{"user_id":"bot"},"seq":0}`))
		for _, frame := range f.frames {
			conn.WriteMessage(websocket.TextMessage, frame)
		}
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			select {
			case f.typing <- string(data):
			default:
			}
		}
	})
	return mux
}

func postedFrame(t *testing.T, post mattermost.Post, seq int64) []byte {
	t.Helper()
	encodedPost, err := json.Marshal(post)
	if err != nil {
		t.Fatal(err)
	}
	frame, err := json.Marshal(map[string]any{
		"event":     "posted",
		"data":      map[string]any{"post": string(encodedPost), "channel_type": "O"},
		"broadcast": map[string]any{"channel_id": post.ChannelID},
		"seq":       seq,
	})
	if err != nil {
		t.Fatal(err)
	}
	return frame
}

func TestRunServerAnswersPost(t *testing.T) {
	t.Parallel()

	fake := &fakeMattermost{
		t: t,
		frames: [][]byte{
			postedFrame(t, mattermost.Post{ID: "p1", UserID: "alice", ChannelID: "c1", Message: "hello camille"}, 1),
		},
		posts:  make(chan mattermost.Post, 4),
		typing: make(chan string, 4),
	}
	server := httptest.NewServer(fake.handler())
	t.Cleanup(server.Close)

	provider := &echoProvider{}
	gen, err := generator.New(generator.Config{Provider: provider, Model: "echo"})
	if err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.StateDir = t.TempDir()
	cfg.DefaultModel = "echo"
	serverConfig := config.ServerConfig{Name: "e2e", URL: server.URL, Token: "test-token"}
	cfg.Servers = []config.ServerConfig{serverConfig}

	logger := slog.New(slog.DiscardHandler)
	health := admin.NewHealth(nil, "e2e")
	b := &bot{
		config: cfg,
		store:  history.NewThreadStore(history.ThreadStoreConfig{Log: history.NewMemoryLog(), Logger: logger}),
		profiles: map[string]*turn.Profile{
			"echo": {Name: "echo", Personality: "You are {name}.", Generator: gen},
		},
		metrics: metrics.New(),
		health:  health,
		clock:   clock.Real(),
		logger:  logger,
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.runServer(ctx, serverConfig) }()

	defer cancel()

	reply := testutil.RequireReceive(t, fake.posts, testutil.DefaultTimeout, "waiting for the reply post")
	if reply.ChannelID != "c1" || reply.RootID != "p1" || reply.Message != "Hello, alice!" {
		t.Errorf("reply = %+v", reply)
	}
	if reply.PendingPostID == "" {
		t.Error("reply has no pending_post_id")
	}

	action := testutil.RequireReceive(t, fake.typing, testutil.DefaultTimeout, "waiting for the typing action")
	if !strings.Contains(action, `"user_typing"`) || !strings.Contains(action, `"parent_id":"p1"`) {
		t.Errorf("typing action = %s", action)
	}

	if _, healthy := health.Report(); !healthy {
		t.Error("health not reporting the live session")
	}

	requests := provider.Requests()
	if len(requests) != 1 {
		t.Fatalf("model requests = %d, want 1", len(requests))
	}
	first := requests[0].Messages[0].Content[0]
	if first.Type != llm.ContentInstruction || !strings.HasPrefix(first.Text, "You are camille.") {
		t.Errorf("personality block = %+v", first)
	}

	cancel()
	if err := testutil.RequireDone(t, done, testutil.DefaultTimeout, "waiting for runServer to stop"); err != nil {
		t.Errorf("runServer() = %v", err)
	}

	restored := entitycache.New(entitycache.Config{Server: "e2e"})
	if err := restored.LoadFile(cfg.SnapshotPath("e2e")); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if _, err := os.Stat(cfg.SnapshotPath("e2e")); err != nil {
		t.Errorf("snapshot not written: %v", err)
	}
	if stats := restored.Stats(); stats.Users != 2 || stats.Channels != 1 {
		t.Errorf("restored stats = %+v", stats)
	}
}

func TestSessionResult(t *testing.T) {
	t.Parallel()

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		ctx  context.Context
		err  error
		want string
	}{
		{cancelled, context.Canceled, "cancelled"},
		{context.Background(), entitycache.ErrIdentity, "identity"},
		{context.Background(), mattermost.ErrStreamClosed, "closed"},
		{context.Background(), errors.New("dial tcp: refused"), "error"},
	}
	for _, test := range tests {
		if got := sessionResult(test.ctx, test.err); got != test.want {
			t.Errorf("sessionResult(%v) = %q, want %q", test.err, got, test.want)
		}
	}
}
