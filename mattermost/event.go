// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mattermost

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gorilla/websocket"
)

// Kind is the closed set of event kinds the bot reacts to. Everything
// else decodes as KindUnknown with the wire name kept in
// Event.RawKind.
type Kind int

const (
	KindUnknown Kind = iota
	KindHello
	KindPosted
	KindUserUpdated
	KindChannelUpdated
	KindUserAdded
	KindUserRemoved
)

var kindNames = [...]string{
	KindUnknown:        "unknown",
	KindHello:          "hello",
	KindPosted:         "posted",
	KindUserUpdated:    "user_updated",
	KindChannelUpdated: "channel_updated",
	KindUserAdded:      "user_added",
	KindUserRemoved:    "user_removed",
}

var kindsByName = func() map[string]Kind {
	kinds := make(map[string]Kind, len(kindNames)-1)
	for kind, name := range kindNames {
		if Kind(kind) != KindUnknown {
			kinds[name] = Kind(kind)
		}
	}
	return kinds
}()

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// ErrNoEvent is returned by Decode for a frame that carries neither an
// event nor a seq_reply. The frame is skipped; callers log it.
var ErrNoEvent = errors.New("mattermost: frame has neither event nor seq_reply")

// Broadcast is the delivery scope the server attached to an event.
type Broadcast struct {
	ChannelID string          `json:"channel_id"`
	UserID    string          `json:"user_id"`
	TeamID    string          `json:"team_id"`
	OmitUsers map[string]bool `json:"omit_users,omitempty"`
}

// Event is one decoded server event.
type Event struct {
	Kind      Kind
	RawKind   string
	Data      json.RawMessage
	Broadcast Broadcast
	Seq       int64
}

type wireFrame struct {
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
	Broadcast Broadcast       `json:"broadcast"`
	Seq       int64           `json:"seq"`
	SeqReply  *int64          `json:"seq_reply"`
}

// Decode turns one websocket frame into an Event.
//
// Non-text frames and replies to the client's own actions (seq_reply)
// yield nil, nil. A frame with neither field yields nil, ErrNoEvent.
// Malformed JSON yields nil and the decoding error. None of these are
// reasons to close the connection.
func Decode(messageType int, frame []byte) (*Event, error) {
	if messageType != websocket.TextMessage {
		return nil, nil
	}

	var wire wireFrame
	if err := json.Unmarshal(frame, &wire); err != nil {
		return nil, fmt.Errorf("mattermost: decoding frame: %w", err)
	}
	if wire.Event == "" {
		if wire.SeqReply != nil {
			return nil, nil
		}
		return nil, ErrNoEvent
	}

	return &Event{
		Kind:      kindsByName[wire.Event],
		RawKind:   wire.Event,
		Data:      wire.Data,
		Broadcast: wire.Broadcast,
		Seq:       wire.Seq,
	}, nil
}

// HelloData is the payload of a hello event.
type HelloData struct {
	ServerVersion string `json:"server_version"`
	ConnectionID  string `json:"connection_id"`
}

// Hello decodes the payload of a KindHello event.
func (e *Event) Hello() (*HelloData, error) {
	var data HelloData
	if err := e.decodeData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// Post decodes the post carried by a KindPosted event. The server
// sends the post as a JSON document embedded in a string field.
func (e *Event) Post() (*Post, error) {
	var data struct {
		Post json.RawMessage `json:"post"`
	}
	if err := e.decodeData(&data); err != nil {
		return nil, err
	}
	var post Post
	if err := decodeEmbedded(data.Post, &post); err != nil {
		return nil, fmt.Errorf("mattermost: decoding %s post: %w", e.RawKind, err)
	}
	return &post, nil
}

// User decodes the user carried by a KindUserUpdated event.
func (e *Event) User() (*User, error) {
	var data struct {
		User json.RawMessage `json:"user"`
	}
	if err := e.decodeData(&data); err != nil {
		return nil, err
	}
	var user User
	if err := decodeEmbedded(data.User, &user); err != nil {
		return nil, fmt.Errorf("mattermost: decoding %s user: %w", e.RawKind, err)
	}
	return &user, nil
}

// Channel decodes the channel carried by a KindChannelUpdated event.
func (e *Event) Channel() (*Channel, error) {
	var data struct {
		Channel json.RawMessage `json:"channel"`
	}
	if err := e.decodeData(&data); err != nil {
		return nil, err
	}
	var channel Channel
	if err := decodeEmbedded(data.Channel, &channel); err != nil {
		return nil, fmt.Errorf("mattermost: decoding %s channel: %w", e.RawKind, err)
	}
	return &channel, nil
}

// Membership decodes the (channel, user) pair of a KindUserAdded or
// KindUserRemoved event. The server names the pair differently
// depending on who receives the event: channel members get the user in
// data and the channel in the broadcast scope, while the removed user
// gets the channel in data and itself in the broadcast scope.
func (e *Event) Membership() (ChannelMember, error) {
	var data ChannelMember
	if err := e.decodeData(&data); err != nil {
		return ChannelMember{}, err
	}
	member := ChannelMember{ChannelID: e.Broadcast.ChannelID, UserID: data.UserID}
	if member.ChannelID == "" {
		member.ChannelID = data.ChannelID
	}
	if member.UserID == "" {
		member.UserID = e.Broadcast.UserID
	}
	if member.ChannelID == "" || member.UserID == "" {
		return ChannelMember{}, fmt.Errorf("mattermost: %s event without channel and user", e.RawKind)
	}
	return member, nil
}

func (e *Event) decodeData(target any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("mattermost: %s event has no data", e.RawKind)
	}
	if err := json.Unmarshal(e.Data, target); err != nil {
		return fmt.Errorf("mattermost: decoding %s data: %w", e.RawKind, err)
	}
	return nil
}

// decodeEmbedded decodes a field that is either a JSON object or a JSON
// string containing one.
func decodeEmbedded(raw json.RawMessage, target any) error {
	if len(raw) == 0 {
		return errors.New("field missing")
	}
	if raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return err
		}
		raw = json.RawMessage(inner)
	}
	return json.Unmarshal(raw, target)
}
