// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package turn

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/bureau-foundation/camille/lib/entitycache"
)

// channelInfo is the channel as the model sees it.
type channelInfo struct {
	entitycache.Channel
	Members []entitycache.User `json:"members"`
}

// dynamicContext renders the per-turn system context: the time, the
// channel with its members, and the sender. It is sent with every
// model call of the turn and never stored.
func dynamicContext(now time.Time, channel entitycache.Channel, members []entitycache.User, sender entitycache.User) (string, error) {
	visible := make([]entitycache.User, 0, len(members))
	for _, member := range members {
		visible = append(visible, withoutPrompts(member))
	}
	channelJSON, err := json.MarshalIndent(channelInfo{Channel: channel, Members: visible}, "", "    ")
	if err != nil {
		return "", fmt.Errorf("encoding channel context: %w", err)
	}
	senderJSON, err := json.MarshalIndent(withoutPrompts(sender), "", "    ")
	if err != nil {
		return "", fmt.Errorf("encoding sender context: %w", err)
	}

	var builder strings.Builder
	builder.WriteString("You are connected to a Mattermost server. ")
	builder.WriteString("Each user message starts with the sender's username followed by a colon.\n\n")
	fmt.Fprintf(&builder, "Current time: %s\n\n", now.UTC().Format(time.RFC3339))
	fmt.Fprintf(&builder, "Channel infos:\n```json\n%s\n```\n\n", channelJSON)
	fmt.Fprintf(&builder, "Message sender:\n```json\n%s\n```", senderJSON)
	return builder.String(), nil
}

// withoutPrompts hides a user's saved prompts, which are the user's own
// and not channel context.
func withoutPrompts(user entitycache.User) entitycache.User {
	user.Prompts = nil
	user.ActivePrompt = ""
	return user
}
