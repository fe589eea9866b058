// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package entitycache

import "github.com/bureau-foundation/camille/mattermost"

// User is a cached user. Notes, ModelPreference and the prompt fields
// are local.
type User struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Nickname  string `json:"nickname,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	IsBot     bool   `json:"is_bot,omitempty"`
	CreateAt  int64  `json:"create_at"`
	UpdateAt  int64  `json:"update_at"`
	DeleteAt  int64  `json:"delete_at,omitempty"`

	Notes           string `json:"notes,omitempty"`
	ModelPreference string `json:"model_preference,omitempty"`

	// Prompts are personality prompts the user saved, by name. The
	// map is replaced, never mutated, so copies of a User may share it.
	Prompts map[string]string `json:"prompts,omitempty"`

	// ActivePrompt names the prompt that replaces the profile's
	// personality in the user's new conversations. Empty selects the
	// profile's own.
	ActivePrompt string `json:"active_prompt,omitempty"`
}

// ActivePromptText returns the text of the user's active prompt.
func (u User) ActivePromptText() (string, bool) {
	if u.ActivePrompt == "" {
		return "", false
	}
	text, ok := u.Prompts[u.ActivePrompt]
	return text, ok
}

// Channel is a cached channel. Notes is local.
type Channel struct {
	ID          string                 `json:"id"`
	TeamID      string                 `json:"team_id,omitempty"`
	Type        mattermost.ChannelType `json:"type"`
	Name        string                 `json:"name"`
	DisplayName string                 `json:"display_name,omitempty"`
	Header      string                 `json:"header,omitempty"`
	Purpose     string                 `json:"purpose,omitempty"`
	CreateAt    int64                  `json:"create_at"`
	UpdateAt    int64                  `json:"update_at"`
	DeleteAt    int64                  `json:"delete_at,omitempty"`

	Notes string `json:"notes,omitempty"`
}

// Team is a cached team.
type Team struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name,omitempty"`
	CreateAt    int64  `json:"create_at"`
	UpdateAt    int64  `json:"update_at"`
	DeleteAt    int64  `json:"delete_at,omitempty"`
}

// Stats counts the cached records.
type Stats struct {
	Users       int
	Channels    int
	Teams       int
	Memberships int
}

func userFromRemote(remote *mattermost.User) User {
	return User{
		ID:        remote.ID,
		Username:  remote.Username,
		Nickname:  remote.Nickname,
		FirstName: remote.FirstName,
		LastName:  remote.LastName,
		IsBot:     remote.IsBot,
		CreateAt:  remote.CreateAt,
		UpdateAt:  remote.UpdateAt,
		DeleteAt:  remote.DeleteAt,
	}
}

func channelFromRemote(remote *mattermost.Channel) Channel {
	return Channel{
		ID:          remote.ID,
		TeamID:      remote.TeamID,
		Type:        remote.Type,
		Name:        remote.Name,
		DisplayName: remote.DisplayName,
		Header:      remote.Header,
		Purpose:     remote.Purpose,
		CreateAt:    remote.CreateAt,
		UpdateAt:    remote.UpdateAt,
		DeleteAt:    remote.DeleteAt,
	}
}

func teamFromRemote(remote *mattermost.Team) Team {
	return Team{
		ID:          remote.ID,
		Name:        remote.Name,
		DisplayName: remote.DisplayName,
		CreateAt:    remote.CreateAt,
		UpdateAt:    remote.UpdateAt,
		DeleteAt:    remote.DeleteAt,
	}
}
