// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mattermost

// Timestamps on every record are milliseconds since the Unix epoch. A
// non-zero DeleteAt marks a record the server has deleted.

// User is a Mattermost account.
type User struct {
	ID        string `json:"id"`
	CreateAt  int64  `json:"create_at"`
	UpdateAt  int64  `json:"update_at"`
	DeleteAt  int64  `json:"delete_at"`
	Username  string `json:"username"`
	Nickname  string `json:"nickname"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	IsBot     bool   `json:"is_bot,omitempty"`
}

// ChannelType is the single-letter channel type code.
type ChannelType string

const (
	ChannelOpen    ChannelType = "O"
	ChannelPrivate ChannelType = "P"
	ChannelDirect  ChannelType = "D"
	ChannelGroup   ChannelType = "G"
)

// Channel is a Mattermost channel. TeamID is empty for direct and group
// channels.
type Channel struct {
	ID          string      `json:"id"`
	CreateAt    int64       `json:"create_at"`
	UpdateAt    int64       `json:"update_at"`
	DeleteAt    int64       `json:"delete_at"`
	TeamID      string      `json:"team_id"`
	Type        ChannelType `json:"type"`
	Name        string      `json:"name"`
	DisplayName string      `json:"display_name"`
	Header      string      `json:"header"`
	Purpose     string      `json:"purpose"`
}

// Team is a Mattermost team.
type Team struct {
	ID          string `json:"id"`
	CreateAt    int64  `json:"create_at"`
	UpdateAt    int64  `json:"update_at"`
	DeleteAt    int64  `json:"delete_at"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
}

// ChannelMember is one (channel, user) membership row.
type ChannelMember struct {
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id"`
}

// Post is a message. RootID is empty for a thread root. Type is empty
// for ordinary user posts and set (e.g. "system_join_channel") for
// server-generated ones.
type Post struct {
	ID            string         `json:"id"`
	CreateAt      int64          `json:"create_at"`
	UpdateAt      int64          `json:"update_at"`
	DeleteAt      int64          `json:"delete_at"`
	UserID        string         `json:"user_id"`
	ChannelID     string         `json:"channel_id"`
	RootID        string         `json:"root_id"`
	Message       string         `json:"message"`
	Type          string         `json:"type"`
	Props         map[string]any `json:"props,omitempty"`
	PendingPostID string         `json:"pending_post_id,omitempty"`
}

// FromBot reports whether the post was created by a bot or webhook
// integration. The server sets props.from_bot as the string "true";
// some integrations send a boolean.
func (p *Post) FromBot() bool {
	switch value := p.Props["from_bot"].(type) {
	case bool:
		return value
	case string:
		return value == "true"
	}
	return false
}

// IsSystem reports whether the post was generated by the server
// (joins, leaves, header changes).
func (p *Post) IsSystem() bool {
	return p.Type != ""
}
