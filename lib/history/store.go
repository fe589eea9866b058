// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bureau-foundation/camille/lib/blob"
	"github.com/bureau-foundation/camille/lib/llm"
	"github.com/bureau-foundation/camille/mattermost"
)

var (
	// ErrNotFound is returned by Documents.Load for an absent key.
	ErrNotFound = errors.New("history: not found")

	// ErrConflict is returned by Documents.Save when the revision is
	// stale, and by DocumentHistory.Commit when retries run out.
	ErrConflict = errors.New("history: revision conflict")

	// ErrDuplicateInteraction is returned when an interaction ID has
	// already been committed.
	ErrDuplicateInteraction = errors.New("history: duplicate interaction")
)

// Thread is a conversation: a root post and all replies to it.
type Thread struct {
	ID        string
	ChannelID string
	CreatedAt time.Time
}

// ResolveThread maps a post to its thread. A reply belongs to the
// thread of its root; a root post starts a thread keyed by its own ID.
// CreatedAt is the post's creation time, which for a reply is only an
// upper bound on the thread's.
func ResolveThread(post *mattermost.Post) Thread {
	threadID := post.RootID
	if threadID == "" {
		threadID = post.ID
	}
	return Thread{
		ID:        threadID,
		ChannelID: post.ChannelID,
		CreatedAt: time.UnixMilli(post.CreateAt).UTC(),
	}
}

// Interaction is one completed turn: the input message and everything
// the generator produced for it.
type Interaction struct {
	// ID is the ID of the post that triggered the turn.
	ID        string
	ThreadID  string
	CreatedAt time.Time
	Messages  []llm.Message
}

// Snapshot is what a Store hands the orchestrator: a window of history
// plus whatever the store needs to commit against it.
type Snapshot struct {
	Thread Thread

	// History is the windowed history, ready for the generator.
	History []llm.Message

	// Revision is the document revision History was read at. Empty
	// for append-only stores and for documents that do not exist yet.
	Revision string

	// MaxTurns is the window size History was cut to.
	MaxTurns int

	// interactions is the recent interaction list of a revisioned
	// document, carried into the next save.
	interactions []string
}

// Store loads windowed history and commits the messages of one turn.
type Store interface {
	// Load returns the history of thread windowed to maxTurns. If
	// interactionID has already been committed it returns
	// ErrDuplicateInteraction instead. An empty interactionID skips
	// that check.
	Load(ctx context.Context, thread Thread, interactionID string, maxTurns int) (*Snapshot, error)

	// Commit persists delta, the messages produced by the turn that
	// interactionID triggered, after the history in snapshot.
	Commit(ctx context.Context, snapshot *Snapshot, interactionID string, delta []llm.Message) error
}

// EncodeMessages serializes messages as a framed JSON array.
func EncodeMessages(messages []llm.Message, compression blob.CompressionTag) ([]byte, error) {
	if messages == nil {
		messages = []llm.Message{}
	}
	encoded, err := json.Marshal(messages)
	if err != nil {
		return nil, fmt.Errorf("history: encoding messages: %w", err)
	}
	return blob.Encode(encoded, compression)
}

// DecodeMessages is the inverse of EncodeMessages.
func DecodeMessages(frame []byte) ([]llm.Message, error) {
	encoded, err := blob.Decode(frame)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	var messages []llm.Message
	if err := json.Unmarshal(encoded, &messages); err != nil {
		return nil, fmt.Errorf("history: decoding messages: %w", err)
	}
	return messages, nil
}
