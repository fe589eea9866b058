// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mattermost

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/google/uuid"
)

// MaxPerPage is the largest page size the server accepts.
const MaxPerPage = 200

// GetMe returns the authenticated user.
func (c *Client) GetMe(ctx context.Context) (*User, error) {
	return c.GetUser(ctx, "me")
}

// GetUser returns one user by ID.
func (c *Client) GetUser(ctx context.Context, userID string) (*User, error) {
	var user User
	if err := c.getJSON(ctx, "/users/"+url.PathEscape(userID), nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// GetUsers returns one page of all users visible to the client.
// Iteration ends on a page shorter than perPage.
func (c *Client) GetUsers(ctx context.Context, page, perPage int) ([]User, error) {
	var users []User
	if err := c.getJSON(ctx, "/users", pageQuery(page, perPage), &users); err != nil {
		return nil, err
	}
	return users, nil
}

// GetUserTeams returns the teams userID belongs to.
func (c *Client) GetUserTeams(ctx context.Context, userID string) ([]Team, error) {
	var teams []Team
	if err := c.getJSON(ctx, "/users/"+url.PathEscape(userID)+"/teams", nil, &teams); err != nil {
		return nil, err
	}
	return teams, nil
}

// GetTeamChannels returns the channels of teamID that userID belongs
// to, including direct and group channels.
func (c *Client) GetTeamChannels(ctx context.Context, userID, teamID string) ([]Channel, error) {
	var channels []Channel
	path := "/users/" + url.PathEscape(userID) + "/teams/" + url.PathEscape(teamID) + "/channels"
	if err := c.getJSON(ctx, path, nil, &channels); err != nil {
		return nil, err
	}
	return channels, nil
}

// GetChannel returns one channel by ID.
func (c *Client) GetChannel(ctx context.Context, channelID string) (*Channel, error) {
	var channel Channel
	if err := c.getJSON(ctx, "/channels/"+url.PathEscape(channelID), nil, &channel); err != nil {
		return nil, err
	}
	return &channel, nil
}

// GetChannelMembers returns every membership row of a channel,
// following pages until the server runs out.
func (c *Client) GetChannelMembers(ctx context.Context, channelID string) ([]ChannelMember, error) {
	var members []ChannelMember
	for page := 0; ; page++ {
		var batch []ChannelMember
		path := "/channels/" + url.PathEscape(channelID) + "/members"
		if err := c.getJSON(ctx, path, pageQuery(page, MaxPerPage), &batch); err != nil {
			return nil, err
		}
		members = append(members, batch...)
		if len(batch) < MaxPerPage {
			return members, nil
		}
	}
}

// CreatePost posts message into channelID. A non-empty rootID makes
// the post a reply in that thread.
func (c *Client) CreatePost(ctx context.Context, channelID, rootID, message string) (*Post, error) {
	request := Post{
		ChannelID:     channelID,
		RootID:        rootID,
		Message:       message,
		PendingPostID: uuid.NewString(),
	}
	body, err := c.doRequest(ctx, http.MethodPost, "/posts", nil, request)
	if err != nil {
		return nil, fmt.Errorf("mattermost: creating post in %s: %w", channelID, err)
	}
	var post Post
	if err := json.Unmarshal(body, &post); err != nil {
		return nil, fmt.Errorf("mattermost: decoding created post: %w", err)
	}
	return &post, nil
}

func pageQuery(page, perPage int) url.Values {
	return url.Values{
		"page":     {strconv.Itoa(page)},
		"per_page": {strconv.Itoa(perPage)},
	}
}
