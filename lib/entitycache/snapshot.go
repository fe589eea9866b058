// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package entitycache

import (
	"cmp"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"github.com/bureau-foundation/camille/lib/blob"
	"github.com/bureau-foundation/camille/lib/codec"
	"github.com/bureau-foundation/camille/mattermost"
)

const snapshotVersion = 1

type snapshot struct {
	Version     int                        `json:"version"`
	Server      string                     `json:"server"`
	SelfID      string                     `json:"self_id,omitempty"`
	Users       []User                     `json:"users"`
	Channels    []Channel                  `json:"channels"`
	Teams       []Team                     `json:"teams"`
	Memberships []mattermost.ChannelMember `json:"memberships"`
}

// Snapshot serializes the cache as zstd-compressed CBOR. Records are
// sorted so equal caches produce equal bytes.
func (c *Cache) Snapshot() ([]byte, error) {
	c.mu.Lock()
	state := snapshot{Version: snapshotVersion, Server: c.server, SelfID: c.selfID}
	for _, user := range c.users {
		state.Users = append(state.Users, *user)
	}
	for _, channel := range c.channels {
		state.Channels = append(state.Channels, *channel)
	}
	for _, team := range c.teams {
		state.Teams = append(state.Teams, *team)
	}
	for channelID, set := range c.members {
		for userID := range set {
			state.Memberships = append(state.Memberships, mattermost.ChannelMember{ChannelID: channelID, UserID: userID})
		}
	}
	c.mu.Unlock()

	slices.SortFunc(state.Users, func(a, b User) int { return cmp.Compare(a.ID, b.ID) })
	slices.SortFunc(state.Channels, func(a, b Channel) int { return cmp.Compare(a.ID, b.ID) })
	slices.SortFunc(state.Teams, func(a, b Team) int { return cmp.Compare(a.ID, b.ID) })
	slices.SortFunc(state.Memberships, func(a, b mattermost.ChannelMember) int {
		return cmp.Or(cmp.Compare(a.ChannelID, b.ChannelID), cmp.Compare(a.UserID, b.UserID))
	})

	encoded, err := codec.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("entitycache: encoding snapshot: %w", err)
	}
	return blob.Encode(encoded, blob.CompressionZstd)
}

// Restore replaces the cache contents with a snapshot taken from a
// cache for the same server. Memberships whose channel or user is
// absent from the snapshot are dropped.
func (c *Cache) Restore(data []byte) error {
	decoded, err := blob.Decode(data)
	if err != nil {
		return fmt.Errorf("entitycache: reading snapshot: %w", err)
	}
	var state snapshot
	if err := codec.Unmarshal(decoded, &state); err != nil {
		return fmt.Errorf("entitycache: decoding snapshot: %w", err)
	}
	if state.Version != snapshotVersion {
		return fmt.Errorf("entitycache: snapshot version %d, want %d", state.Version, snapshotVersion)
	}
	if state.Server != c.server {
		return fmt.Errorf("entitycache: snapshot belongs to server %q, not %q", state.Server, c.server)
	}

	users := make(map[string]*User, len(state.Users))
	for index := range state.Users {
		users[state.Users[index].ID] = &state.Users[index]
	}
	channels := make(map[string]*Channel, len(state.Channels))
	for index := range state.Channels {
		channels[state.Channels[index].ID] = &state.Channels[index]
	}
	teams := make(map[string]*Team, len(state.Teams))
	for index := range state.Teams {
		teams[state.Teams[index].ID] = &state.Teams[index]
	}
	members := make(map[string]map[string]struct{})
	for _, member := range state.Memberships {
		if channels[member.ChannelID] == nil || users[member.UserID] == nil {
			continue
		}
		set, ok := members[member.ChannelID]
		if !ok {
			set = make(map[string]struct{})
			members[member.ChannelID] = set
		}
		set[member.UserID] = struct{}{}
	}

	c.mu.Lock()
	c.selfID = state.SelfID
	c.users = users
	c.channels = channels
	c.teams = teams
	c.members = members
	c.mu.Unlock()
	return nil
}

// SaveFile writes a snapshot to path, replacing any previous one
// atomically.
func (c *Cache) SaveFile(path string) error {
	data, err := c.Snapshot()
	if err != nil {
		return err
	}
	temporary, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("entitycache: %w", err)
	}
	defer os.Remove(temporary.Name())

	if _, err := temporary.Write(data); err != nil {
		temporary.Close()
		return fmt.Errorf("entitycache: writing snapshot: %w", err)
	}
	if err := temporary.Sync(); err != nil {
		temporary.Close()
		return fmt.Errorf("entitycache: syncing snapshot: %w", err)
	}
	if err := temporary.Close(); err != nil {
		return fmt.Errorf("entitycache: %w", err)
	}
	if err := os.Rename(temporary.Name(), path); err != nil {
		return fmt.Errorf("entitycache: %w", err)
	}
	return nil
}

// LoadFile restores the snapshot at path. A missing file is not an
// error: the cache stays empty and the next resync fills it.
func (c *Cache) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("entitycache: %w", err)
	}
	return c.Restore(data)
}
