// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package history

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/camille/lib/clock"
	"github.com/bureau-foundation/camille/lib/llm"
	llmcontext "github.com/bureau-foundation/camille/lib/llm/context"
)

// InteractionLog is the append-only backend of a ThreadStore.
type InteractionLog interface {
	// Append records the thread if it is new and adds interaction to
	// it. An existing interaction ID yields ErrDuplicateInteraction
	// and changes nothing.
	Append(ctx context.Context, thread Thread, interaction Interaction) error

	// List returns the interactions of a thread ordered by
	// (CreatedAt, ID). An unknown thread has none.
	List(ctx context.Context, threadID string) ([]Interaction, error)
}

// ThreadStoreConfig configures a ThreadStore.
type ThreadStoreConfig struct {
	// Log is the backend. Required.
	Log InteractionLog

	// Clock stamps new interactions. Defaults to clock.Real().
	Clock clock.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// ThreadStore is the append-only Store: one log of interactions per
// thread, replayed in order.
type ThreadStore struct {
	log    InteractionLog
	clock  clock.Clock
	logger *slog.Logger
}

// NewThreadStore returns a ThreadStore over config.Log.
func NewThreadStore(config ThreadStoreConfig) *ThreadStore {
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &ThreadStore{log: config.Log, clock: config.Clock, logger: config.Logger}
}

// LoadHistory concatenates the messages of every interaction of
// thread in creation order.
func (s *ThreadStore) LoadHistory(ctx context.Context, thread Thread) ([]llm.Message, error) {
	interactions, err := s.log.List(ctx, thread.ID)
	if err != nil {
		return nil, fmt.Errorf("history: listing interactions of thread %s: %w", thread.ID, err)
	}
	var history []llm.Message
	for _, interaction := range interactions {
		history = append(history, interaction.Messages...)
	}
	return history, nil
}

// AppendInteraction adds one interaction to thread. Existing
// interactions are never touched.
func (s *ThreadStore) AppendInteraction(ctx context.Context, thread Thread, interactionID string, delta []llm.Message) error {
	interaction := Interaction{
		ID:        interactionID,
		ThreadID:  thread.ID,
		CreatedAt: s.clock.Now().UTC(),
		Messages:  delta,
	}
	if err := s.log.Append(ctx, thread, interaction); err != nil {
		return fmt.Errorf("history: appending interaction %s to thread %s: %w", interactionID, thread.ID, err)
	}
	s.logger.Debug("interaction appended",
		"thread_id", thread.ID,
		"interaction_id", interactionID,
		"messages", len(delta),
	)
	return nil
}

// Load implements Store. A post that already has an interaction in
// the thread is a duplicate.
func (s *ThreadStore) Load(ctx context.Context, thread Thread, interactionID string, maxTurns int) (*Snapshot, error) {
	interactions, err := s.log.List(ctx, thread.ID)
	if err != nil {
		return nil, fmt.Errorf("history: listing interactions of thread %s: %w", thread.ID, err)
	}
	var history []llm.Message
	for _, interaction := range interactions {
		if interactionID != "" && interaction.ID == interactionID {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateInteraction, interactionID)
		}
		history = append(history, interaction.Messages...)
	}
	return &Snapshot{
		Thread:   thread,
		History:  llmcontext.WindowHistory(history, maxTurns),
		MaxTurns: maxTurns,
	}, nil
}

// Commit implements Store.
func (s *ThreadStore) Commit(ctx context.Context, snapshot *Snapshot, interactionID string, delta []llm.Message) error {
	return s.AppendInteraction(ctx, snapshot.Thread, interactionID, delta)
}
