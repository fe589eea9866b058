// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/bureau-foundation/camille/lib/llm"
	llmcontext "github.com/bureau-foundation/camille/lib/llm/context"
)

// DefaultMaxSaveAttempts bounds the reload-and-retry loop of
// DocumentHistory.Commit.
const DefaultMaxSaveAttempts = 3

// recordedInteractions is how many recent interaction IDs a history
// document remembers for duplicate detection.
const recordedInteractions = 256

// Documents is a revisioned key/value backend. Documents are JSON.
type Documents interface {
	// Load returns the current revision and body of key, or
	// ErrNotFound.
	Load(ctx context.Context, key string) (revision string, document []byte, err error)

	// Save replaces key if its current revision is revision (""
	// meaning the key must not exist yet) and returns the new
	// revision. A mismatch yields ErrConflict.
	Save(ctx context.Context, key, revision string, document []byte) (string, error)
}

// historyDocument is the stored form of a channel's history.
type historyDocument struct {
	History []llm.Message `json:"history"`

	// Interactions holds the post IDs of the most recent committed
	// turns, oldest first.
	Interactions []string `json:"interactions,omitempty"`
}

func (document historyDocument) committed(interactionID string) bool {
	return interactionID != "" && slices.Contains(document.Interactions, interactionID)
}

// record returns the interaction list with interactionID appended,
// keeping the newest recordedInteractions entries.
func (document historyDocument) record(interactionID string) []string {
	recorded := append(slices.Clone(document.Interactions), interactionID)
	if excess := len(recorded) - recordedInteractions; excess > 0 {
		recorded = recorded[excess:]
	}
	return recorded
}

// DocumentKey returns the document key of a channel's history.
func DocumentKey(channelID string) string {
	return "channel_" + channelID
}

// DocumentHistoryConfig configures a DocumentHistory.
type DocumentHistoryConfig struct {
	// Documents is the backend. Required.
	Documents Documents

	// MaxSaveAttempts defaults to DefaultMaxSaveAttempts.
	MaxSaveAttempts int

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// DocumentHistory is the revisioned Store: one document per channel
// holding the windowed history, rewritten on every turn. All threads
// of a channel share it.
type DocumentHistory struct {
	documents   Documents
	maxAttempts int
	logger      *slog.Logger
}

// NewDocumentHistory returns a DocumentHistory over config.Documents.
func NewDocumentHistory(config DocumentHistoryConfig) *DocumentHistory {
	if config.MaxSaveAttempts <= 0 {
		config.MaxSaveAttempts = DefaultMaxSaveAttempts
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &DocumentHistory{
		documents:   config.Documents,
		maxAttempts: config.MaxSaveAttempts,
		logger:      config.Logger,
	}
}

// Load implements Store. A channel without a document has an empty
// history and an empty revision.
func (h *DocumentHistory) Load(ctx context.Context, thread Thread, interactionID string, maxTurns int) (*Snapshot, error) {
	revision, document, err := h.load(ctx, thread.ChannelID)
	if err != nil {
		return nil, err
	}
	if document.committed(interactionID) {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateInteraction, interactionID)
	}
	return &Snapshot{
		Thread:       thread,
		History:      llmcontext.WindowHistory(document.History, maxTurns),
		Revision:     revision,
		MaxTurns:     maxTurns,
		interactions: document.Interactions,
	}, nil
}

// Commit implements Store. It saves the snapshot's history followed by
// delta. On a revision conflict it reloads the document, windows it
// again, appends delta to that and retries, up to MaxSaveAttempts
// saves in total. Another writer having already committed
// interactionID yields ErrDuplicateInteraction.
func (h *DocumentHistory) Commit(ctx context.Context, snapshot *Snapshot, interactionID string, delta []llm.Message) error {
	key := DocumentKey(snapshot.Thread.ChannelID)
	revision := snapshot.Revision
	base := snapshot.History
	recorded := historyDocument{Interactions: snapshot.interactions}.record(interactionID)

	for attempt := 1; ; attempt++ {
		history := make([]llm.Message, 0, len(base)+len(delta))
		history = append(history, base...)
		history = append(history, delta...)

		encoded, err := json.Marshal(historyDocument{History: history, Interactions: recorded})
		if err != nil {
			return fmt.Errorf("history: encoding document %s: %w", key, err)
		}

		newRevision, err := h.documents.Save(ctx, key, revision, encoded)
		if err == nil {
			snapshot.Revision = newRevision
			snapshot.History = history
			snapshot.interactions = recorded
			h.logger.Debug("history document saved",
				"key", key,
				"revision", newRevision,
				"attempt", attempt,
				"messages", len(history),
			)
			return nil
		}
		if !errors.Is(err, ErrConflict) {
			return fmt.Errorf("history: saving document %s: %w", key, err)
		}
		if attempt >= h.maxAttempts {
			return fmt.Errorf("history: saving document %s after %d attempts: %w", key, attempt, err)
		}

		h.logger.Info("history document changed underneath, retrying",
			"key", key,
			"stale_revision", revision,
			"attempt", attempt,
		)
		var current historyDocument
		revision, current, err = h.load(ctx, snapshot.Thread.ChannelID)
		if err != nil {
			return err
		}
		if current.committed(interactionID) {
			return fmt.Errorf("%w: %s", ErrDuplicateInteraction, interactionID)
		}
		base = llmcontext.WindowHistory(current.History, snapshot.MaxTurns)
		recorded = current.record(interactionID)
	}
}

func (h *DocumentHistory) load(ctx context.Context, channelID string) (string, historyDocument, error) {
	key := DocumentKey(channelID)
	revision, data, err := h.documents.Load(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return "", historyDocument{}, nil
	}
	if err != nil {
		return "", historyDocument{}, fmt.Errorf("history: loading document %s: %w", key, err)
	}
	var document historyDocument
	if err := json.Unmarshal(data, &document); err != nil {
		return "", historyDocument{}, fmt.Errorf("history: decoding document %s: %w", key, err)
	}
	return revision, document, nil
}
