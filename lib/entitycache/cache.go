// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package entitycache

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/bureau-foundation/camille/mattermost"
)

var (
	// ErrNotFound is returned when the server has no record for an ID,
	// or reports it deleted.
	ErrNotFound = errors.New("entitycache: not found")

	// ErrIdentity is returned by ResyncAll when the authenticated user
	// cannot be resolved. Without it the bot cannot recognize its own
	// posts, so the session must stop.
	ErrIdentity = errors.New("entitycache: cannot resolve own identity")
)

// Remote is the subset of the Mattermost API the cache reads from.
// *mattermost.Client implements it.
type Remote interface {
	GetMe(ctx context.Context) (*mattermost.User, error)
	GetUser(ctx context.Context, userID string) (*mattermost.User, error)
	GetUsers(ctx context.Context, page, perPage int) ([]mattermost.User, error)
	GetUserTeams(ctx context.Context, userID string) ([]mattermost.Team, error)
	GetTeamChannels(ctx context.Context, userID, teamID string) ([]mattermost.Channel, error)
	GetChannel(ctx context.Context, channelID string) (*mattermost.Channel, error)
	GetChannelMembers(ctx context.Context, channelID string) ([]mattermost.ChannelMember, error)
}

// Config configures a Cache.
type Config struct {
	// Server names the Mattermost server this cache replicates.
	// Snapshots record it and refuse to restore into a cache for a
	// different server.
	Server string

	// Remote is the server API. Required.
	Remote Remote

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Cache is the entity replica of one server. All methods are safe for
// concurrent use; in practice the session's event loop is the only
// writer and the metrics endpoint the only other reader.
type Cache struct {
	server string
	remote Remote
	logger *slog.Logger

	mu       sync.Mutex
	selfID   string
	users    map[string]*User
	channels map[string]*Channel
	teams    map[string]*Team
	// members maps channel ID to the set of member user IDs. Every key
	// is a cached channel and every member a cached user.
	members map[string]map[string]struct{}
}

// New returns an empty Cache.
func New(config Config) *Cache {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		server:   config.Server,
		remote:   config.Remote,
		logger:   logger.With("server", config.Server),
		users:    make(map[string]*User),
		channels: make(map[string]*Channel),
		teams:    make(map[string]*Team),
		members:  make(map[string]map[string]struct{}),
	}
}

// Self returns the ID of the authenticated user, or "" before the
// first successful ResyncAll.
func (c *Cache) Self() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selfID
}

// ResyncAll refreshes the cache from the server: the authenticated
// user, every user, the user's teams, each team's channels the user
// belongs to, and each of those channels' members. Every fetched
// record is upserted and each fetched channel's member set replaced.
// Local fields survive.
//
// Failing to resolve the authenticated user returns an error wrapping
// ErrIdentity. Any other failure is also returned; the caller treats
// both as the end of the session.
func (c *Cache) ResyncAll(ctx context.Context) (User, error) {
	me, err := c.remote.GetMe(ctx)
	if err != nil {
		return User{}, fmt.Errorf("%w: %w", ErrIdentity, err)
	}
	if me.ID == "" {
		return User{}, fmt.Errorf("%w: server returned an empty user ID", ErrIdentity)
	}
	c.UpsertUser(me)
	c.mu.Lock()
	c.selfID = me.ID
	c.mu.Unlock()

	for page := 0; ; page++ {
		users, err := c.remote.GetUsers(ctx, page, mattermost.MaxPerPage)
		if err != nil {
			return User{}, fmt.Errorf("entitycache: listing users page %d: %w", page, err)
		}
		for index := range users {
			c.UpsertUser(&users[index])
		}
		if len(users) < mattermost.MaxPerPage {
			break
		}
	}

	teams, err := c.remote.GetUserTeams(ctx, me.ID)
	if err != nil {
		return User{}, fmt.Errorf("entitycache: listing teams: %w", err)
	}
	synced := make(map[string]bool)
	for teamIndex := range teams {
		team := &teams[teamIndex]
		c.upsertTeam(team)

		channels, err := c.remote.GetTeamChannels(ctx, me.ID, team.ID)
		if err != nil {
			return User{}, fmt.Errorf("entitycache: listing channels of team %s: %w", team.Name, err)
		}
		for channelIndex := range channels {
			channel := &channels[channelIndex]
			// Direct and group channels are listed under every team.
			if synced[channel.ID] {
				continue
			}
			synced[channel.ID] = true

			c.UpsertChannel(channel)
			if channel.DeleteAt > 0 {
				continue
			}
			members, err := c.remote.GetChannelMembers(ctx, channel.ID)
			if err != nil {
				return User{}, fmt.Errorf("entitycache: listing members of channel %s: %w", channel.Name, err)
			}
			c.replaceMembers(ctx, channel.ID, members)
		}
	}

	stats := c.Stats()
	c.logger.Info("entity cache resynced",
		"self", me.Username,
		"users", stats.Users,
		"teams", stats.Teams,
		"channels", stats.Channels,
		"memberships", stats.Memberships,
	)

	self, _ := c.cachedUser(me.ID)
	return self, nil
}

// replaceMembers sets a channel's member set to exactly members.
// Members missing from the cache (for instance users the listing
// skipped) are fetched; ones that cannot be fetched are left out.
func (c *Cache) replaceMembers(ctx context.Context, channelID string, members []mattermost.ChannelMember) {
	set := make(map[string]struct{}, len(members))
	for _, member := range members {
		if _, err := c.GetUser(ctx, member.UserID); err != nil {
			c.logger.Warn("skipping member that cannot be resolved",
				"channel_id", channelID,
				"user_id", member.UserID,
				"error", err,
			)
			continue
		}
		set[member.UserID] = struct{}{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.channels[channelID]; ok {
		c.members[channelID] = set
	}
}

// GetUser returns a user, fetching it from the server on a miss. A
// user the server does not know, or reports deleted, yields an error
// wrapping ErrNotFound.
func (c *Cache) GetUser(ctx context.Context, userID string) (User, error) {
	if user, ok := c.cachedUser(userID); ok {
		return user, nil
	}

	remote, err := c.remote.GetUser(ctx, userID)
	if err != nil {
		if mattermost.IsNotFound(err) {
			return User{}, fmt.Errorf("%w: user %s", ErrNotFound, userID)
		}
		return User{}, fmt.Errorf("entitycache: fetching user %s: %w", userID, err)
	}
	if remote.DeleteAt > 0 {
		return User{}, fmt.Errorf("%w: user %s is deleted", ErrNotFound, userID)
	}
	c.UpsertUser(remote)
	c.logger.Debug("user fetched on demand", "user_id", userID, "username", remote.Username)

	user, _ := c.cachedUser(userID)
	return user, nil
}

// GetChannel returns a channel, fetching it from the server on a miss.
func (c *Cache) GetChannel(ctx context.Context, channelID string) (Channel, error) {
	if channel, ok := c.cachedChannel(channelID); ok {
		return channel, nil
	}

	remote, err := c.remote.GetChannel(ctx, channelID)
	if err != nil {
		if mattermost.IsNotFound(err) {
			return Channel{}, fmt.Errorf("%w: channel %s", ErrNotFound, channelID)
		}
		return Channel{}, fmt.Errorf("entitycache: fetching channel %s: %w", channelID, err)
	}
	if remote.DeleteAt > 0 {
		return Channel{}, fmt.Errorf("%w: channel %s is deleted", ErrNotFound, channelID)
	}
	c.UpsertChannel(remote)
	c.logger.Debug("channel fetched on demand", "channel_id", channelID, "name", remote.Name)

	channel, _ := c.cachedChannel(channelID)
	return channel, nil
}

// UpsertUser applies a remote user record. A record with DeleteAt set
// removes the user and its memberships instead. Local fields of an
// existing record are kept.
func (c *Cache) UpsertUser(remote *mattermost.User) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if remote.DeleteAt > 0 {
		delete(c.users, remote.ID)
		for _, set := range c.members {
			delete(set, remote.ID)
		}
		return
	}

	updated := userFromRemote(remote)
	if existing, ok := c.users[remote.ID]; ok {
		updated.Notes = existing.Notes
		updated.ModelPreference = existing.ModelPreference
		updated.Prompts = existing.Prompts
		updated.ActivePrompt = existing.ActivePrompt
	}
	c.users[remote.ID] = &updated
}

// UpsertChannel applies a remote channel record. A record with
// DeleteAt set removes the channel and its memberships instead.
func (c *Cache) UpsertChannel(remote *mattermost.Channel) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if remote.DeleteAt > 0 {
		delete(c.channels, remote.ID)
		delete(c.members, remote.ID)
		return
	}

	updated := channelFromRemote(remote)
	if existing, ok := c.channels[remote.ID]; ok {
		updated.Notes = existing.Notes
	}
	c.channels[remote.ID] = &updated
}

func (c *Cache) upsertTeam(remote *mattermost.Team) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if remote.DeleteAt > 0 {
		delete(c.teams, remote.ID)
		return
	}
	team := teamFromRemote(remote)
	c.teams[remote.ID] = &team
}

// AddMembership records that userID is a member of channelID. Either
// end missing from the cache is fetched first; if a fetch fails the
// membership is not recorded and the error is returned. Adding an
// existing membership is a no-op.
func (c *Cache) AddMembership(ctx context.Context, channelID, userID string) error {
	if err := c.materialize(ctx, channelID, userID); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// A concurrent delete between materialize and here would leave a
	// dangling row.
	if c.channels[channelID] == nil || c.users[userID] == nil {
		return fmt.Errorf("%w: channel %s or user %s removed while adding membership", ErrNotFound, channelID, userID)
	}
	set, ok := c.members[channelID]
	if !ok {
		set = make(map[string]struct{})
		c.members[channelID] = set
	}
	set[userID] = struct{}{}
	return nil
}

// RemoveMembership removes userID from channelID. Either end missing
// from the cache is fetched first so the channel's record stays
// current; a fetch failure is returned and nothing changes.
func (c *Cache) RemoveMembership(ctx context.Context, channelID, userID string) error {
	if err := c.materialize(ctx, channelID, userID); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.members[channelID], userID)
	return nil
}

func (c *Cache) materialize(ctx context.Context, channelID, userID string) error {
	if _, err := c.GetChannel(ctx, channelID); err != nil {
		return err
	}
	if _, err := c.GetUser(ctx, userID); err != nil {
		return err
	}
	return nil
}

// DropChannel forgets a channel and all of its memberships. The
// session calls it when the bot itself leaves or is removed.
func (c *Cache) DropChannel(channelID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.channels, channelID)
	delete(c.members, channelID)
}

// IsMember reports whether userID is a cached member of channelID.
func (c *Cache) IsMember(channelID, userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.members[channelID][userID]
	return ok
}

// Members returns the cached members of a channel sorted by username.
func (c *Cache) Members(channelID string) []User {
	c.mu.Lock()
	defer c.mu.Unlock()

	members := make([]User, 0, len(c.members[channelID]))
	for userID := range c.members[channelID] {
		if user, ok := c.users[userID]; ok {
			members = append(members, *user)
		}
	}
	slices.SortFunc(members, func(a, b User) int {
		return cmp.Or(cmp.Compare(a.Username, b.Username), cmp.Compare(a.ID, b.ID))
	})
	return members
}

// Teams returns the teams in which userID belongs to at least one
// cached channel, sorted by name. Team membership is not tracked on
// its own; it follows from channel membership.
func (c *Cache) Teams(userID string) []Team {
	c.mu.Lock()
	defer c.mu.Unlock()

	seen := make(map[string]bool)
	var teams []Team
	for channelID, set := range c.members {
		if _, member := set[userID]; !member {
			continue
		}
		channel := c.channels[channelID]
		if channel == nil || channel.TeamID == "" || seen[channel.TeamID] {
			continue
		}
		seen[channel.TeamID] = true
		if team, ok := c.teams[channel.TeamID]; ok {
			teams = append(teams, *team)
		}
	}
	slices.SortFunc(teams, func(a, b Team) int { return cmp.Compare(a.Name, b.Name) })
	return teams
}

// SetUserNotes replaces the local notes of a cached user.
func (c *Cache) SetUserNotes(userID, notes string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	user, ok := c.users[userID]
	if !ok {
		return fmt.Errorf("%w: user %s", ErrNotFound, userID)
	}
	user.Notes = notes
	return nil
}

// SetChannelNotes replaces the local notes of a cached channel.
func (c *Cache) SetChannelNotes(channelID, notes string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	channel, ok := c.channels[channelID]
	if !ok {
		return fmt.Errorf("%w: channel %s", ErrNotFound, channelID)
	}
	channel.Notes = notes
	return nil
}

// SetModelPreference records which model profile a user wants replies
// from. An empty profile clears the preference.
func (c *Cache) SetModelPreference(userID, profile string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	user, ok := c.users[userID]
	if !ok {
		return fmt.Errorf("%w: user %s", ErrNotFound, userID)
	}
	user.ModelPreference = profile
	return nil
}

// SavePrompt stores a personality prompt for a user under name,
// replacing any prompt of the same name.
func (c *Cache) SavePrompt(userID, name, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	user, ok := c.users[userID]
	if !ok {
		return fmt.Errorf("%w: user %s", ErrNotFound, userID)
	}
	prompts := maps.Clone(user.Prompts)
	if prompts == nil {
		prompts = make(map[string]string)
	}
	prompts[name] = text
	user.Prompts = prompts
	return nil
}

// DeletePrompt removes a saved prompt. Deleting the active prompt
// returns the user to the profile's personality.
func (c *Cache) DeletePrompt(userID, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	user, ok := c.users[userID]
	if !ok {
		return fmt.Errorf("%w: user %s", ErrNotFound, userID)
	}
	if _, exists := user.Prompts[name]; !exists {
		return fmt.Errorf("%w: prompt %q of user %s", ErrNotFound, name, userID)
	}
	prompts := maps.Clone(user.Prompts)
	delete(prompts, name)
	if len(prompts) == 0 {
		prompts = nil
	}
	user.Prompts = prompts
	if user.ActivePrompt == name {
		user.ActivePrompt = ""
	}
	return nil
}

// UsePrompt makes a saved prompt the user's active one. An empty name
// returns the user to the profile's personality.
func (c *Cache) UsePrompt(userID, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	user, ok := c.users[userID]
	if !ok {
		return fmt.Errorf("%w: user %s", ErrNotFound, userID)
	}
	if _, exists := user.Prompts[name]; name != "" && !exists {
		return fmt.Errorf("%w: prompt %q of user %s", ErrNotFound, name, userID)
	}
	user.ActivePrompt = name
	return nil
}

// Stats counts the cached records.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	stats := Stats{Users: len(c.users), Channels: len(c.channels), Teams: len(c.teams)}
	for _, set := range c.members {
		stats.Memberships += len(set)
	}
	return stats
}

func (c *Cache) cachedUser(userID string) (User, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if user, ok := c.users[userID]; ok {
		return *user, true
	}
	return User{}, false
}

func (c *Cache) cachedChannel(channelID string) (Channel, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if channel, ok := c.channels[channelID]; ok {
		return *channel, true
	}
	return Channel{}, false
}
