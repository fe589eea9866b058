// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mattermost

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"
)

func TestDecodeSkipsNonEvents(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		messageType int
		frame       string
		wantErr     error
	}{
		{name: "binary frame", messageType: websocket.BinaryMessage, frame: `{"event":"posted"}`},
		{name: "seq reply", messageType: websocket.TextMessage, frame: `{"status":"OK","seq_reply":3}`},
		{name: "neither", messageType: websocket.TextMessage, frame: `{"status":"OK"}`, wantErr: ErrNoEvent},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			event, err := Decode(test.messageType, []byte(test.frame))
			if event != nil {
				t.Errorf("Decode() event = %+v, want nil", event)
			}
			if !errors.Is(err, test.wantErr) {
				t.Errorf("Decode() error = %v, want %v", err, test.wantErr)
			}
		})
	}
}

func TestDecodeMalformed(t *testing.T) {
	t.Parallel()

	event, err := Decode(websocket.TextMessage, []byte(`{"event": "posted",`))
	if event != nil || err == nil {
		t.Fatalf("Decode() = %+v, %v; want nil and an error", event, err)
	}
	if errors.Is(err, ErrNoEvent) {
		t.Error("malformed frame reported as ErrNoEvent")
	}
}

func TestDecodeKinds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw  string
		want Kind
	}{
		{"hello", KindHello},
		{"posted", KindPosted},
		{"user_updated", KindUserUpdated},
		{"channel_updated", KindChannelUpdated},
		{"user_added", KindUserAdded},
		{"user_removed", KindUserRemoved},
		{"reaction_added", KindUnknown},
	}
	for _, test := range tests {
		frame := `{"event":"` + test.raw + `","data":{},"broadcast":{},"seq":7}`
		event, err := Decode(websocket.TextMessage, []byte(frame))
		if err != nil {
			t.Fatalf("Decode(%s): %v", test.raw, err)
		}
		if event.Kind != test.want || event.RawKind != test.raw || event.Seq != 7 {
			t.Errorf("Decode(%s) = kind %s raw %q seq %d", test.raw, event.Kind, event.RawKind, event.Seq)
		}
	}
	if KindUserRemoved.String() != "user_removed" || Kind(99).String() != "unknown" {
		t.Error("Kind.String mismatch")
	}
}

func TestEventPost(t *testing.T) {
	t.Parallel()

	frame := `{
		"event": "posted",
		"data": {
			"channel_type": "O",
			"post": "{\"id\":\"p1\",\"user_id\":\"u1\",\"channel_id\":\"c1\",\"root_id\":\"\",\"message\":\"hi\",\"type\":\"\",\"create_at\":1700000000000,\"props\":{\"from_bot\":\"true\"}}"
		},
		"broadcast": {"channel_id": "c1"},
		"seq": 12
	}`
	event, err := Decode(websocket.TextMessage, []byte(frame))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	post, err := event.Post()
	if err != nil {
		t.Fatalf("Post(): %v", err)
	}
	want := &Post{
		ID:        "p1",
		UserID:    "u1",
		ChannelID: "c1",
		Message:   "hi",
		CreateAt:  1700000000000,
		Props:     map[string]any{"from_bot": "true"},
	}
	if diff := cmp.Diff(want, post); diff != "" {
		t.Errorf("Post() mismatch (-want +got):\n%s", diff)
	}
	if !post.FromBot() || post.IsSystem() {
		t.Errorf("FromBot() = %v, IsSystem() = %v", post.FromBot(), post.IsSystem())
	}
}

func TestEventUserAndChannel(t *testing.T) {
	t.Parallel()

	userEvent := &Event{RawKind: "user_updated", Data: []byte(`{"user":{"id":"u1","username":"alice","delete_at":0}}`)}
	user, err := userEvent.User()
	if err != nil || user.ID != "u1" || user.Username != "alice" {
		t.Errorf("User() = %+v, %v", user, err)
	}

	// channel_updated carries the channel as an embedded JSON string.
	channelEvent := &Event{RawKind: "channel_updated", Data: []byte(`{"channel":"{\"id\":\"c1\",\"type\":\"P\",\"name\":\"ops\"}"}`)}
	channel, err := channelEvent.Channel()
	if err != nil || channel.ID != "c1" || channel.Type != ChannelPrivate {
		t.Errorf("Channel() = %+v, %v", channel, err)
	}

	missing := &Event{RawKind: "user_updated", Data: []byte(`{}`)}
	if _, err := missing.User(); err == nil {
		t.Error("User() on event without user succeeded")
	}
}

func TestEventMembership(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		event   Event
		want    ChannelMember
		wantErr bool
	}{
		{
			name:  "added, seen by channel",
			event: Event{RawKind: "user_added", Data: []byte(`{"user_id":"u1","team_id":"t1"}`), Broadcast: Broadcast{ChannelID: "c1"}},
			want:  ChannelMember{ChannelID: "c1", UserID: "u1"},
		},
		{
			name:  "removed, seen by the removed user",
			event: Event{RawKind: "user_removed", Data: []byte(`{"channel_id":"c2","remover_id":"u9"}`), Broadcast: Broadcast{UserID: "me"}},
			want:  ChannelMember{ChannelID: "c2", UserID: "me"},
		},
		{
			name:    "no channel",
			event:   Event{RawKind: "user_removed", Data: []byte(`{"user_id":"u1"}`)},
			wantErr: true,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			got, err := test.event.Membership()
			if (err != nil) != test.wantErr {
				t.Fatalf("Membership() error = %v, wantErr %v", err, test.wantErr)
			}
			if got != test.want {
				t.Errorf("Membership() = %+v, want %+v", got, test.want)
			}
		})
	}
}
