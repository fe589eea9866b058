// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/camille/lib/entitycache"
	"github.com/bureau-foundation/camille/lib/metrics"
	"github.com/bureau-foundation/camille/mattermost"
)

// Cache is the part of the entity cache the dispatcher mutates.
// *entitycache.Cache implements it.
type Cache interface {
	ResyncAll(ctx context.Context) (entitycache.User, error)
	UpsertUser(user *mattermost.User)
	UpsertChannel(channel *mattermost.Channel)
	AddMembership(ctx context.Context, channelID, userID string) error
	RemoveMembership(ctx context.Context, channelID, userID string) error
	DropChannel(channelID string)
}

// PostHandler answers posts. *turn.Orchestrator implements it.
type PostHandler interface {
	HandlePost(ctx context.Context, post *mattermost.Post) error
}

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	Cache Cache
	Posts PostHandler

	// OnResync is called after every successful resync with the
	// bot's own user.
	OnResync func(self entitycache.User)

	Metrics *metrics.Server
	Logger  *slog.Logger
}

// Dispatcher applies events to the cache and routes posts.
type Dispatcher struct {
	cache    Cache
	posts    PostHandler
	onResync func(entitycache.User)
	metrics  *metrics.Server
	logger   *slog.Logger

	// self is the bot's user ID, empty until the first resync.
	self string
}

// NewDispatcher returns a Dispatcher.
func NewDispatcher(config DispatcherConfig) *Dispatcher {
	if config.OnResync == nil {
		config.OnResync = func(entitycache.User) {}
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Dispatcher{
		cache:    config.Cache,
		posts:    config.Posts,
		onResync: config.OnResync,
		metrics:  config.Metrics,
		logger:   config.Logger,
	}
}

// Self returns the bot's user ID, or "" before the first hello.
func (d *Dispatcher) Self() string {
	return d.self
}

// Dispatch handles one event. A non-nil error is fatal to the session.
func (d *Dispatcher) Dispatch(ctx context.Context, event *mattermost.Event) error {
	d.metrics.Event(event.Kind.String())

	switch event.Kind {
	case mattermost.KindHello:
		return d.hello(ctx, event)
	case mattermost.KindPosted:
		d.posted(ctx, event)
	case mattermost.KindUserUpdated:
		user, err := event.User()
		if err != nil {
			d.logger.Warn("undecodable user_updated event", "seq", event.Seq, "error", err)
			return nil
		}
		d.cache.UpsertUser(user)
	case mattermost.KindChannelUpdated:
		channel, err := event.Channel()
		if err != nil {
			d.logger.Warn("undecodable channel_updated event", "seq", event.Seq, "error", err)
			return nil
		}
		d.cache.UpsertChannel(channel)
	case mattermost.KindUserAdded:
		member, err := event.Membership()
		if err != nil {
			d.logger.Warn("undecodable user_added event", "seq", event.Seq, "error", err)
			return nil
		}
		if err := d.cache.AddMembership(ctx, member.ChannelID, member.UserID); err != nil {
			d.logger.Warn("membership not recorded",
				"channel_id", member.ChannelID,
				"user_id", member.UserID,
				"error", err,
			)
		}
	case mattermost.KindUserRemoved:
		member, err := event.Membership()
		if err != nil {
			d.logger.Warn("undecodable user_removed event", "seq", event.Seq, "error", err)
			return nil
		}
		if d.self != "" && member.UserID == d.self {
			d.logger.Info("removed from channel", "channel_id", member.ChannelID)
			d.cache.DropChannel(member.ChannelID)
			return nil
		}
		if err := d.cache.RemoveMembership(ctx, member.ChannelID, member.UserID); err != nil {
			d.logger.Warn("membership removal skipped",
				"channel_id", member.ChannelID,
				"user_id", member.UserID,
				"error", err,
			)
		}
	case mattermost.KindUnknown:
		d.logger.Debug("ignoring event", "event", event.RawKind, "seq", event.Seq)
	default:
		d.logger.Debug("unhandled event kind", "kind", event.Kind.String(), "seq", event.Seq)
	}
	return nil
}

func (d *Dispatcher) hello(ctx context.Context, event *mattermost.Event) error {
	if hello, err := event.Hello(); err == nil {
		d.logger.Info("connected",
			"server_version", hello.ServerVersion,
			"connection_id", hello.ConnectionID,
		)
	}
	self, err := d.cache.ResyncAll(ctx)
	if err != nil {
		return fmt.Errorf("session: resync: %w", err)
	}
	d.self = self.ID
	d.onResync(self)
	return nil
}

func (d *Dispatcher) posted(ctx context.Context, event *mattermost.Event) {
	post, err := event.Post()
	if err != nil {
		d.logger.Warn("undecodable posted event", "seq", event.Seq, "error", err)
		return
	}
	switch {
	case d.self == "":
		d.logger.Warn("dropping post received before resync", "post_id", post.ID)
		return
	case post.UserID == d.self:
		return
	case post.IsSystem():
		d.logger.Debug("ignoring system post", "post_id", post.ID, "type", post.Type)
		return
	case post.FromBot():
		d.logger.Debug("ignoring bot post", "post_id", post.ID, "user_id", post.UserID)
		return
	}

	if err := d.posts.HandlePost(ctx, post); err != nil {
		d.logger.Error("post not handled", "post_id", post.ID, "error", err)
	}
}
