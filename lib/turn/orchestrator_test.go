// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package turn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/bureau-foundation/camille/lib/clock"
	"github.com/bureau-foundation/camille/lib/entitycache"
	"github.com/bureau-foundation/camille/lib/generator"
	"github.com/bureau-foundation/camille/lib/history"
	"github.com/bureau-foundation/camille/lib/llm"
	"github.com/bureau-foundation/camille/lib/webfetch"
	"github.com/bureau-foundation/camille/mattermost"
)

var testNow = time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)

// scriptedProvider answers successive Stream calls with the scripted
// responses and records every request.
type scriptedProvider struct {
	responses []llm.Response
	requests  []llm.Request
	err       error
}

func (p *scriptedProvider) Stream(ctx context.Context, request llm.Request) (*llm.EventStream, error) {
	p.requests = append(p.requests, request)
	if p.err != nil {
		return nil, p.err
	}
	if len(p.responses) == 0 {
		return nil, errors.New("script exhausted")
	}
	response := p.responses[0]
	p.responses = p.responses[1:]
	return llm.ReplayResponse(response), nil
}

func text(content string) llm.Response {
	return llm.Response{Content: []llm.ContentBlock{llm.TextBlock(content)}, StopReason: llm.StopReasonEndTurn}
}

func toolCall(id, name, input string, preamble string) llm.Response {
	response := llm.Response{StopReason: llm.StopReasonToolUse}
	if preamble != "" {
		response.Content = append(response.Content, llm.TextBlock(preamble))
	}
	response.Content = append(response.Content, llm.ToolUseBlock(id, name, json.RawMessage(input)))
	return response
}

type fakeEntities struct {
	users    map[string]entitycache.User
	channels map[string]entitycache.Channel
	members  map[string][]string
}

func newFakeEntities() *fakeEntities {
	return &fakeEntities{
		users: map[string]entitycache.User{
			"bot":   {ID: "bot", Username: "camille", FirstName: "Camille", IsBot: true},
			"alice": {ID: "alice", Username: "alice", FirstName: "Alice"},
			"bea":   {ID: "bea", Username: "bea"},
		},
		channels: map[string]entitycache.Channel{
			"c1": {ID: "c1", TeamID: "t1", Type: mattermost.ChannelOpen, Name: "general", DisplayName: "General"},
			"ts": {ID: "ts", TeamID: "t1", Type: mattermost.ChannelOpen, Name: "town-square"},
		},
		members: map[string][]string{"c1": {"alice", "bea", "bot"}},
	}
}

func (f *fakeEntities) Self() string { return "bot" }

func (f *fakeEntities) GetUser(ctx context.Context, userID string) (entitycache.User, error) {
	user, ok := f.users[userID]
	if !ok {
		return entitycache.User{}, fmt.Errorf("%w: user %s", entitycache.ErrNotFound, userID)
	}
	return user, nil
}

func (f *fakeEntities) GetChannel(ctx context.Context, channelID string) (entitycache.Channel, error) {
	channel, ok := f.channels[channelID]
	if !ok {
		return entitycache.Channel{}, fmt.Errorf("%w: channel %s", entitycache.ErrNotFound, channelID)
	}
	return channel, nil
}

func (f *fakeEntities) Members(channelID string) []entitycache.User {
	var members []entitycache.User
	for _, id := range f.members[channelID] {
		members = append(members, f.users[id])
	}
	return members
}

func (f *fakeEntities) SetUserNotes(userID, notes string) error {
	user, ok := f.users[userID]
	if !ok {
		return entitycache.ErrNotFound
	}
	user.Notes = notes
	f.users[userID] = user
	return nil
}

func (f *fakeEntities) SetChannelNotes(channelID, notes string) error {
	channel, ok := f.channels[channelID]
	if !ok {
		return entitycache.ErrNotFound
	}
	channel.Notes = notes
	f.channels[channelID] = channel
	return nil
}

func (f *fakeEntities) SetModelPreference(userID, profile string) error {
	user, ok := f.users[userID]
	if !ok {
		return entitycache.ErrNotFound
	}
	user.ModelPreference = profile
	f.users[userID] = user
	return nil
}

func (f *fakeEntities) SavePrompt(userID, name, text string) error {
	user, ok := f.users[userID]
	if !ok {
		return entitycache.ErrNotFound
	}
	prompts := maps.Clone(user.Prompts)
	if prompts == nil {
		prompts = make(map[string]string)
	}
	prompts[name] = text
	user.Prompts = prompts
	f.users[userID] = user
	return nil
}

func (f *fakeEntities) DeletePrompt(userID, name string) error {
	user, ok := f.users[userID]
	if _, exists := user.Prompts[name]; !ok || !exists {
		return entitycache.ErrNotFound
	}
	prompts := maps.Clone(user.Prompts)
	delete(prompts, name)
	user.Prompts = prompts
	if user.ActivePrompt == name {
		user.ActivePrompt = ""
	}
	f.users[userID] = user
	return nil
}

func (f *fakeEntities) UsePrompt(userID, name string) error {
	user, ok := f.users[userID]
	if _, exists := user.Prompts[name]; !ok || (name != "" && !exists) {
		return entitycache.ErrNotFound
	}
	user.ActivePrompt = name
	f.users[userID] = user
	return nil
}

type sentPost struct {
	ChannelID string
	RootID    string
	Message   string
}

type fakePoster struct {
	posts []sentPost
	err   error
}

func (p *fakePoster) CreatePost(ctx context.Context, channelID, rootID, message string) (*mattermost.Post, error) {
	if p.err != nil {
		return nil, p.err
	}
	p.posts = append(p.posts, sentPost{channelID, rootID, message})
	return &mattermost.Post{ID: fmt.Sprintf("reply%d", len(p.posts)), ChannelID: channelID, RootID: rootID, Message: message}, nil
}

type typing struct {
	ChannelID string
	ParentID  string
	Seq       int64
}

type fakeTypist struct {
	sent []typing
	err  error
}

func (f *fakeTypist) SendTyping(channelID, parentID string, seq int64) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, typing{channelID, parentID, seq})
	return nil
}

type harness struct {
	orchestrator *Orchestrator
	entities     *fakeEntities
	poster       *fakePoster
	typist       *fakeTypist
	store        *history.ThreadStore
	providers    map[string]*scriptedProvider
	localChanges int
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	h := &harness{
		entities:  newFakeEntities(),
		poster:    &fakePoster{},
		typist:    &fakeTypist{},
		store:     history.NewThreadStore(history.ThreadStoreConfig{Log: history.NewMemoryLog(), Clock: clock.Fake(testNow)}),
		providers: map[string]*scriptedProvider{"default": {}, "fast": {}},
	}
	profiles := make(map[string]*Profile)
	for name, provider := range h.providers {
		gen, err := generator.New(generator.Config{Provider: provider, Model: name + "-model"})
		if err != nil {
			t.Fatalf("generator.New: %v", err)
		}
		profiles[name] = &Profile{Name: name, Description: name + " profile", Generator: gen}
	}
	profiles["default"].Personality = "You are {name}, a cheerful comrade."

	config := Config{
		Entities:       h.entities,
		Poster:         h.poster,
		Typist:         h.typist,
		Sequencer:      &mattermost.SequenceTracker{},
		Store:          h.store,
		Profiles:       profiles,
		DefaultProfile: "default",
		IgnoreChannels: []string{"town-square"},
		OnLocalChange:  func() { h.localChanges++ },
		Clock:          clock.Fake(testNow),
		Logger:         slog.New(slog.DiscardHandler),
	}
	if mutate != nil {
		mutate(&config)
	}
	orchestrator, err := New(config)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.orchestrator = orchestrator
	return h
}

func (h *harness) handle(t *testing.T, post *mattermost.Post) {
	t.Helper()
	if err := h.orchestrator.HandlePost(context.Background(), post); err != nil {
		t.Fatalf("HandlePost: %v", err)
	}
}

func (h *harness) threadHistory(t *testing.T, threadID string) []llm.Message {
	t.Helper()
	messages, err := h.store.LoadHistory(context.Background(), history.Thread{ID: threadID, ChannelID: "c1"})
	if err != nil {
		t.Fatalf("LoadHistory: %v", err)
	}
	return messages
}

func rootPost(id, userID, message string) *mattermost.Post {
	return &mattermost.Post{ID: id, UserID: userID, ChannelID: "c1", Message: message, CreateAt: testNow.UnixMilli()}
}

func TestHandlePostAnswersAndCommits(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.providers["default"].responses = []llm.Response{text("Bonjour Alice !")}

	h.handle(t, rootPost("p1", "alice", "hello"))

	wantPosts := []sentPost{{ChannelID: "c1", RootID: "p1", Message: "Bonjour Alice !"}}
	if diff := cmp.Diff(wantPosts, h.poster.posts); diff != "" {
		t.Errorf("posts (-want +got):\n%s", diff)
	}
	wantTyping := []typing{{ChannelID: "c1", ParentID: "p1", Seq: 1}}
	if diff := cmp.Diff(wantTyping, h.typist.sent); diff != "" {
		t.Errorf("typing (-want +got):\n%s", diff)
	}

	wantHistory := []llm.Message{
		{Role: llm.RoleUser, Content: []llm.ContentBlock{
			llm.InstructionBlock("You are Camille, a cheerful comrade."),
			llm.TextBlock("alice: hello"),
		}},
		llm.AssistantMessage("Bonjour Alice !"),
	}
	if diff := cmp.Diff(wantHistory, h.threadHistory(t, "p1")); diff != "" {
		t.Errorf("committed history (-want +got):\n%s", diff)
	}

	request := h.providers["default"].requests[0]
	if strings.Contains(request.System, "cheerful comrade") {
		t.Errorf("personality duplicated into System:\n%s", request.System)
	}
	for _, want := range []string{`"name": "general"`, `"username": "bea"`, "Current time: 2026-05-01T09:30:00Z", "Message sender:"} {
		if !strings.Contains(request.System, want) {
			t.Errorf("System lacks %q:\n%s", want, request.System)
		}
	}
	if diff := cmp.Diff(wantHistory[:1], request.Messages); diff != "" {
		t.Errorf("provider messages (-want +got):\n%s", diff)
	}
	var toolNames []string
	for _, tool := range request.Tools {
		toolNames = append(toolNames, tool.Name)
	}
	wantTools := []string{
		ToolUpdateUserNotes, ToolUpdateChannelNotes, ToolSetModelPreference, ToolListModelProfiles,
		ToolCreatePrompt, ToolListPrompts, ToolDeletePrompt, ToolUsePrompt,
	}
	if diff := cmp.Diff(wantTools, toolNames); diff != "" {
		t.Errorf("tools (-want +got):\n%s", diff)
	}
}

func TestHandlePostReplyContinuesThread(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.providers["default"].responses = []llm.Response{text("Salut."), text("Ça va bien.")}

	h.handle(t, rootPost("p1", "alice", "salut"))
	reply := rootPost("p2", "bea", "ça va ?")
	reply.RootID = "p1"
	h.handle(t, reply)

	second := h.providers["default"].requests[1]
	wantMessages := []llm.Message{
		{Role: llm.RoleUser, Content: []llm.ContentBlock{
			llm.InstructionBlock("You are Camille, a cheerful comrade."),
			llm.TextBlock("alice: salut"),
		}},
		llm.AssistantMessage("Salut."),
		llm.UserMessage("bea: ça va ?"),
	}
	if diff := cmp.Diff(wantMessages, second.Messages); diff != "" {
		t.Errorf("second turn messages (-want +got):\n%s", diff)
	}

	committed := h.threadHistory(t, "p1")
	if len(committed) != 4 {
		t.Fatalf("thread has %d messages, want 4", len(committed))
	}
	instructions := 0
	for _, message := range committed {
		for _, block := range message.Content {
			if block.Type == llm.ContentInstruction {
				instructions++
			}
		}
	}
	if instructions != 1 {
		t.Errorf("personality stored %d times, want once", instructions)
	}
	if got := h.poster.posts[1]; got.RootID != "p1" {
		t.Errorf("reply posted under root %q, want p1", got.RootID)
	}
}

func TestHandlePostStreamsTextAroundToolCalls(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.providers["default"].responses = []llm.Response{
		toolCall("call_1", ToolUpdateUserNotes, `{"notes": "Aime le thé."}`, "Je note."),
		toolCall("call_2", ToolUpdateChannelNotes, `{"notes": "Canal général."}`, "   "),
		text("C'est noté."),
	}

	h.handle(t, rootPost("p1", "alice", "j'aime le thé"))

	var messages []string
	for _, post := range h.poster.posts {
		messages = append(messages, post.Message)
	}
	if diff := cmp.Diff([]string{"Je note.", "C'est noté."}, messages); diff != "" {
		t.Errorf("posts (-want +got):\n%s", diff)
	}
	if got := h.entities.users["alice"].Notes; got != "Aime le thé." {
		t.Errorf("alice notes = %q", got)
	}
	if got := h.entities.channels["c1"].Notes; got != "Canal général." {
		t.Errorf("channel notes = %q", got)
	}
	if h.localChanges != 2 {
		t.Errorf("local changes = %d, want 2", h.localChanges)
	}
	if got := len(h.threadHistory(t, "p1")); got != 6 {
		t.Errorf("committed %d messages, want 6", got)
	}
}

func TestHandlePostNotesForAnotherMember(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.providers["default"].responses = []llm.Response{
		toolCall("call_1", ToolUpdateUserNotes, `{"notes": "Bea aime le vélo.", "username": "bea"}`, ""),
		toolCall("call_2", ToolUpdateUserNotes, `{"notes": "x", "username": "mallory"}`, ""),
		text("Ok."),
	}
	h.handle(t, rootPost("p1", "alice", "bea aime le vélo"))

	if got := h.entities.users["bea"].Notes; got != "Bea aime le vélo." {
		t.Errorf("bea notes = %q", got)
	}
	committed := h.threadHistory(t, "p1")
	results := committed[4].Content
	if len(results) != 1 || !results[0].ToolResult.IsError || !strings.Contains(results[0].ToolResult.Content, "mallory") {
		t.Errorf("unknown member result = %+v", results)
	}
}

func TestHandlePostGeneratorFailureReportsAndKeepsHistory(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.providers["default"].responses = []llm.Response{text("First answer.")}
	h.handle(t, rootPost("p1", "alice", "one"))
	before := h.threadHistory(t, "p1")

	h.providers["default"].err = &llm.ProviderError{StatusCode: 529, Type: "overloaded_error", Message: "busy"}
	reply := rootPost("p2", "alice", "two")
	reply.RootID = "p1"
	h.handle(t, reply)

	last := h.poster.posts[len(h.poster.posts)-1]
	if last.RootID != "p1" || !strings.HasPrefix(last.Message, "Error: ") || !strings.Contains(last.Message, "busy") {
		t.Errorf("error post = %+v", last)
	}
	if diff := cmp.Diff(before, h.threadHistory(t, "p1")); diff != "" {
		t.Errorf("history changed by failed turn (-before +after):\n%s", diff)
	}
}

func TestHandlePostFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		setup func(*harness)
		post  *mattermost.Post
		want  string
	}{
		{
			name: "unknown channel",
			post: &mattermost.Post{ID: "p1", UserID: "alice", ChannelID: "gone", Message: "hi"},
			want: "resolving channel",
		},
		{
			name: "unknown sender",
			post: rootPost("p1", "ghost", "hi"),
			want: "resolving sender",
		},
		{
			name:  "typing fails",
			setup: func(h *harness) { h.typist.err = errors.New("stream closed") },
			post:  rootPost("p1", "alice", "hi"),
			want:  "sending typing indicator",
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, nil)
			if test.setup != nil {
				test.setup(h)
			}
			h.handle(t, test.post)
			if len(h.poster.posts) != 1 {
				t.Fatalf("posts = %+v, want one error report", h.poster.posts)
			}
			if got := h.poster.posts[0].Message; !strings.HasPrefix(got, "Error: ") || !strings.Contains(got, test.want) {
				t.Errorf("error post = %q, want it to mention %q", got, test.want)
			}
			if len(h.providers["default"].requests) != 0 {
				t.Error("model called despite failure")
			}
			if got := h.threadHistory(t, "p1"); len(got) != 0 {
				t.Errorf("failed turn committed %+v", got)
			}
		})
	}
}

func TestHandlePostReportFailureIsReturned(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.poster.err = errors.New("server down")
	h.providers["default"].responses = []llm.Response{text("hi")}
	err := h.orchestrator.HandlePost(context.Background(), rootPost("p1", "alice", "hello"))
	if err == nil || !strings.Contains(err.Error(), "server down") {
		t.Errorf("HandlePost error = %v", err)
	}
}

func TestHandlePostIgnoreRules(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.handle(t, rootPost("p1", "alice", ".hidden"))
	h.handle(t, &mattermost.Post{ID: "p2", UserID: "alice", ChannelID: "ts", Message: "hello"})

	if len(h.poster.posts) != 0 || len(h.typist.sent) != 0 {
		t.Errorf("ignored posts produced output: posts %+v typing %+v", h.poster.posts, h.typist.sent)
	}
	if len(h.providers["default"].requests) != 0 {
		t.Error("model called for an ignored post")
	}
}

func TestHandlePostDuplicateIsSilent(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.providers["default"].responses = []llm.Response{text("once"), text("twice")}
	post := rootPost("p1", "alice", "hello")
	h.handle(t, post)
	h.handle(t, post)

	wantPosts := []sentPost{{ChannelID: "c1", RootID: "p1", Message: "once"}}
	if diff := cmp.Diff(wantPosts, h.poster.posts); diff != "" {
		t.Errorf("posts (-want +got):\n%s", diff)
	}
	if got := len(h.providers["default"].requests); got != 1 {
		t.Errorf("model calls = %d, want 1", got)
	}
	if got := len(h.typist.sent); got != 1 {
		t.Errorf("typing indicators = %d, want 1", got)
	}
	if got := len(h.threadHistory(t, "p1")); got != 2 {
		t.Errorf("thread has %d messages, want 2", got)
	}
}

func TestHandlePostProfileSelection(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.providers["default"].responses = []llm.Response{
		toolCall("call_1", ToolSetModelPreference, `{"profile": "missing"}`, ""),
		toolCall("call_2", ToolSetModelPreference, `{"profile": "fast"}`, ""),
		text("Switched."),
	}
	h.providers["fast"].responses = []llm.Response{text("Fast reply.")}

	h.handle(t, rootPost("p1", "alice", "use the fast model"))
	if got := h.entities.users["alice"].ModelPreference; got != "fast" {
		t.Fatalf("preference = %q, want fast", got)
	}
	results := h.threadHistory(t, "p1")[2].Content
	if !results[0].ToolResult.IsError || !strings.Contains(results[0].ToolResult.Content, "available: default, fast") {
		t.Errorf("unknown profile result = %+v", results[0].ToolResult)
	}

	h.handle(t, rootPost("p2", "alice", "hello"))
	if len(h.providers["fast"].requests) != 1 {
		t.Fatalf("fast profile calls = %d, want 1", len(h.providers["fast"].requests))
	}
	for _, message := range h.providers["fast"].requests[0].Messages {
		for _, block := range message.Content {
			if block.Type == llm.ContentInstruction {
				t.Errorf("fast profile received a personality: %q", block.Text)
			}
		}
	}

	h.entities.users["bea"] = entitycache.User{ID: "bea", Username: "bea", ModelPreference: "retired"}
	h.providers["default"].responses = []llm.Response{text("Default reply.")}
	h.handle(t, rootPost("p3", "bea", "hello"))
	if got := h.poster.posts[len(h.poster.posts)-1].Message; got != "Default reply." {
		t.Errorf("unknown preference answered with %q", got)
	}
}

func TestHandlePostUserPrompts(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.providers["default"].responses = []llm.Response{
		toolCall("call_1", ToolCreatePrompt, `{"name": "pirate", "text": "You are {name}, a pirate."}`, ""),
		toolCall("call_2", ToolUsePrompt, `{"name": "missing"}`, ""),
		toolCall("call_3", ToolUsePrompt, `{"name": "pirate"}`, ""),
		toolCall("call_4", ToolListPrompts, `{}`, ""),
		text("Arr."),
	}
	h.handle(t, rootPost("p1", "alice", "talk like a pirate from now on"))

	alice := h.entities.users["alice"]
	if text, ok := alice.ActivePromptText(); !ok || text != "You are {name}, a pirate." {
		t.Fatalf("active prompt = %q, %v", text, ok)
	}
	if h.localChanges != 2 {
		t.Errorf("local changes = %d, want 2", h.localChanges)
	}
	committed := h.threadHistory(t, "p1")
	if result := committed[4].Content[0].ToolResult; !result.IsError {
		t.Errorf("use_prompt(missing) result = %+v", result)
	}
	listing := committed[8].Content[0].ToolResult
	if listing.IsError || listing.Content != `[{"name":"pirate","text":"You are {name}, a pirate.","active":true}]` {
		t.Errorf("list_prompts result = %+v", listing)
	}

	// A new conversation opens with the prompt instead of the profile's
	// personality.
	h.providers["default"].responses = []llm.Response{text("Ahoy.")}
	h.handle(t, rootPost("p2", "alice", "hello"))
	request := h.providers["default"].requests[len(h.providers["default"].requests)-1]
	wantInput := llm.Message{Role: llm.RoleUser, Content: []llm.ContentBlock{
		llm.InstructionBlock("You are Camille, a pirate."),
		llm.TextBlock("alice: hello"),
	}}
	if diff := cmp.Diff([]llm.Message{wantInput}, request.Messages); diff != "" {
		t.Errorf("new conversation messages (-want +got):\n%s", diff)
	}

	if strings.Contains(request.System, "pirate") {
		t.Errorf("saved prompts leaked into the channel context:\n%s", request.System)
	}

	// Other users keep the profile's personality.
	h.providers["default"].responses = []llm.Response{text("Salut.")}
	h.handle(t, rootPost("p3", "bea", "hello"))
	first := h.threadHistory(t, "p3")[0].Content[0]
	if first.Text != "You are Camille, a cheerful comrade." {
		t.Errorf("bea's personality = %q", first.Text)
	}

	h.providers["default"].responses = []llm.Response{
		toolCall("call_5", ToolDeletePrompt, `{"name": "pirate"}`, ""),
		text("Done."),
	}
	h.handle(t, rootPost("p4", "alice", "forget the pirate"))
	if alice := h.entities.users["alice"]; alice.ActivePrompt != "" || len(alice.Prompts) != 0 {
		t.Errorf("alice after delete = %+v", alice)
	}
}

func TestListModelProfilesTool(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.providers["default"].responses = []llm.Response{
		toolCall("call_1", ToolListModelProfiles, `{}`, ""),
		text("Voilà."),
	}
	h.handle(t, rootPost("p1", "alice", "which models?"))

	result := h.threadHistory(t, "p1")[2].Content[0].ToolResult
	var listing []struct {
		Name    string `json:"name"`
		Model   string `json:"model"`
		Default bool   `json:"default"`
		Current bool   `json:"current"`
	}
	if err := json.Unmarshal([]byte(result.Content), &listing); err != nil {
		t.Fatalf("decoding listing %q: %v", result.Content, err)
	}
	if len(listing) != 2 || listing[0].Name != "default" || !listing[0].Default || !listing[0].Current || listing[1].Model != "fast-model" {
		t.Errorf("listing = %+v", listing)
	}
}

func TestFetchURLTool(t *testing.T) {
	t.Parallel()

	page := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writer.Header().Set("Content-Type", "text/html")
		fmt.Fprint(writer, "<html><body><p>Le pain et la liberté.</p></body></html>")
	}))
	t.Cleanup(page.Close)

	h := newHarness(t, func(config *Config) {
		config.Fetcher = webfetch.New(webfetch.Config{})
	})
	h.providers["default"].responses = []llm.Response{
		toolCall("call_1", ToolFetchURL, fmt.Sprintf(`{"url": %q}`, page.URL), ""),
		text("Résumé."),
	}
	h.handle(t, rootPost("p1", "alice", "lis ça"))

	result := h.threadHistory(t, "p1")[2].Content[0].ToolResult
	if result.IsError || result.Content != "Le pain et la liberté." {
		t.Errorf("fetch result = %+v", result)
	}
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{}); err == nil {
		t.Error("New accepted an empty config")
	}
	h := newHarness(t, nil)
	_, err := New(Config{
		Entities:       h.entities,
		Poster:         h.poster,
		Typist:         h.typist,
		Sequencer:      &mattermost.SequenceTracker{},
		Store:          h.store,
		DefaultProfile: "missing",
	})
	if err == nil {
		t.Error("New accepted an unknown default profile")
	}
}
