// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"log/slog"

	"github.com/bureau-foundation/camille/lib/metrics"
	"github.com/bureau-foundation/camille/mattermost"
)

// FrameSource yields websocket frames. *mattermost.Stream implements
// it.
type FrameSource interface {
	Next(ctx context.Context) (mattermost.Frame, error)
}

// Config configures a Session.
type Config struct {
	Frames     FrameSource
	Sequence   *mattermost.SequenceTracker
	Dispatcher *Dispatcher
	Metrics    *metrics.Server
	Logger     *slog.Logger
}

// Session is the event loop of one connection.
type Session struct {
	frames     FrameSource
	sequence   *mattermost.SequenceTracker
	dispatcher *Dispatcher
	metrics    *metrics.Server
	logger     *slog.Logger
}

// New returns a Session.
func New(config Config) *Session {
	if config.Sequence == nil {
		config.Sequence = &mattermost.SequenceTracker{}
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Session{
		frames:     config.Frames,
		sequence:   config.Sequence,
		dispatcher: config.Dispatcher,
		metrics:    config.Metrics,
		logger:     config.Logger,
	}
}

// Run processes frames until the stream ends, ctx is cancelled, or the
// dispatcher reports a fatal error, and returns that cause.
func (s *Session) Run(ctx context.Context) error {
	for {
		frame, err := s.frames.Next(ctx)
		if err != nil {
			return err
		}

		event, err := mattermost.Decode(frame.Type, frame.Data)
		switch {
		case errors.Is(err, mattermost.ErrNoEvent):
			s.logger.Warn("frame carries neither event nor seq_reply", "bytes", len(frame.Data))
			continue
		case err != nil:
			s.metrics.DecodeError()
			s.logger.Warn("undecodable frame", "error", err, "bytes", len(frame.Data))
			continue
		case event == nil:
			continue
		}

		s.sequence.Observe(event.Seq)
		if err := s.dispatcher.Dispatch(ctx, event); err != nil {
			return err
		}
	}
}
