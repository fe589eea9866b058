// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/camille/lib/admin"
	"github.com/bureau-foundation/camille/lib/clock"
	"github.com/bureau-foundation/camille/lib/config"
	"github.com/bureau-foundation/camille/lib/entitycache"
	"github.com/bureau-foundation/camille/lib/history"
	"github.com/bureau-foundation/camille/lib/metrics"
	"github.com/bureau-foundation/camille/lib/session"
	"github.com/bureau-foundation/camille/lib/turn"
	"github.com/bureau-foundation/camille/lib/version"
	"github.com/bureau-foundation/camille/lib/webfetch"
	"github.com/bureau-foundation/camille/mattermost"
)

// bot holds what every server's sessions share.
type bot struct {
	config   *config.Config
	store    history.Store
	profiles map[string]*turn.Profile
	fetcher  *webfetch.Fetcher
	metrics  *metrics.Metrics
	health   *admin.Health
	clock    clock.Clock
	logger   *slog.Logger
}

// runServer runs sessions against one server until ctx is cancelled or
// the bot's identity cannot be resolved. The latter stops only this
// server; /healthz keeps reporting it down.
func (b *bot) runServer(ctx context.Context, server config.ServerConfig) error {
	logger := b.logger.With("server", server.Name)

	token, err := server.ResolveToken()
	if err != nil {
		return err
	}
	defer token.Close()

	client, err := mattermost.NewClient(mattermost.ClientConfig{
		ServerURL:         server.URL,
		Token:             token,
		RequestsPerSecond: server.RequestsPerSecond,
		UserAgent:         version.UserAgent(),
		Logger:            logger,
	})
	if err != nil {
		return err
	}

	cache := entitycache.New(entitycache.Config{Server: server.Name, Remote: client, Logger: logger})
	snapshotPath := b.config.SnapshotPath(server.Name)
	if err := cache.LoadFile(snapshotPath); err != nil {
		logger.Warn("cache snapshot not restored, starting empty", "path", snapshotPath, "error", err)
	}
	if err := b.metrics.RegisterCache(server.Name, cache); err != nil {
		return fmt.Errorf("server %s: %w", server.Name, err)
	}
	saveCache := func() {
		if err := cache.SaveFile(snapshotPath); err != nil {
			logger.Error("saving cache snapshot", "path", snapshotPath, "error", err)
		}
	}
	defer saveCache()

	serverMetrics := b.metrics.Server(server.Name)
	err = session.Supervise(ctx, session.SuperviseConfig{
		Attempt: func(ctx context.Context) error {
			err := b.runSession(ctx, client, cache, saveCache, server.Name, serverMetrics, logger)
			b.health.Disconnected(server.Name, err)
			serverMetrics.SessionEnded(sessionResult(ctx, err))
			client.CloseIdleConnections()
			return err
		},
		Permanent: func(err error) bool {
			return errors.Is(err, entitycache.ErrIdentity)
		},
		Clock:  b.clock,
		Logger: logger,
	})
	if errors.Is(err, entitycache.ErrIdentity) {
		logger.Error("giving up on server: cannot resolve own identity", "error", err)
		return nil
	}
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// runSession connects once and processes events until the stream
// ends.
func (b *bot) runSession(ctx context.Context, client *mattermost.Client, cache *entitycache.Cache,
	saveCache func(), serverName string, serverMetrics *metrics.Server, logger *slog.Logger) error {

	stream, err := client.Connect(ctx)
	if err != nil {
		return err
	}
	defer stream.Close()

	sequence := &mattermost.SequenceTracker{}
	orchestrator, err := turn.New(turn.Config{
		Entities:       cache,
		Poster:         client,
		Typist:         stream,
		Sequencer:      sequence,
		Store:          history.Namespaced(b.store, serverName),
		Profiles:       b.profiles,
		DefaultProfile: b.config.DefaultModel,
		WindowSize:     b.config.WindowSize,
		IgnoreChannels: b.config.IgnoreChannels,
		Fetcher:        b.fetcher,
		OnLocalChange:  saveCache,
		Clock:          b.clock,
		Metrics:        serverMetrics,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	dispatcher := session.NewDispatcher(session.DispatcherConfig{
		Cache: cache,
		Posts: orchestrator,
		OnResync: func(self entitycache.User) {
			logger.Info("resynced", "user_id", self.ID, "username", self.Username, "stats", cache.Stats())
			b.health.Connected(serverName)
		},
		Metrics: serverMetrics,
		Logger:  logger,
	})

	return session.New(session.Config{
		Frames:     stream,
		Sequence:   sequence,
		Dispatcher: dispatcher,
		Metrics:    serverMetrics,
		Logger:     logger,
	}).Run(ctx)
}

// sessionResult labels why a session ended.
func sessionResult(ctx context.Context, err error) string {
	switch {
	case ctx.Err() != nil:
		return "cancelled"
	case errors.Is(err, entitycache.ErrIdentity):
		return "identity"
	case errors.Is(err, mattermost.ErrStreamClosed):
		return "closed"
	default:
		return "error"
	}
}
