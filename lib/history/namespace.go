// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package history

import (
	"context"

	"github.com/bureau-foundation/camille/lib/llm"
)

// Namespaced returns a Store that keeps one server's records apart
// from those of other servers sharing store. Thread, channel and
// interaction IDs are stored as namespace + ":" + ID. Snapshots handed
// out carry the caller's unprefixed thread.
func Namespaced(store Store, namespace string) Store {
	return &namespacedStore{store: store, prefix: namespace + ":"}
}

type namespacedStore struct {
	store  Store
	prefix string
}

func (s *namespacedStore) id(id string) string {
	if id == "" {
		return ""
	}
	return s.prefix + id
}

func (s *namespacedStore) thread(thread Thread) Thread {
	thread.ID = s.id(thread.ID)
	thread.ChannelID = s.id(thread.ChannelID)
	return thread
}

func (s *namespacedStore) Load(ctx context.Context, thread Thread, interactionID string, maxTurns int) (*Snapshot, error) {
	snapshot, err := s.store.Load(ctx, s.thread(thread), s.id(interactionID), maxTurns)
	if err != nil {
		return nil, err
	}
	snapshot.Thread = thread
	return snapshot, nil
}

func (s *namespacedStore) Commit(ctx context.Context, snapshot *Snapshot, interactionID string, delta []llm.Message) error {
	inner := *snapshot
	inner.Thread = s.thread(snapshot.Thread)
	if err := s.store.Commit(ctx, &inner, s.id(interactionID), delta); err != nil {
		return err
	}
	inner.Thread = snapshot.Thread
	*snapshot = inner
	return nil
}
