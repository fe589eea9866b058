// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package history

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strconv"
	"sync"
)

// MemoryLog is an InteractionLog held in memory. It backs tests and
// deployments that do not need history to survive a restart.
type MemoryLog struct {
	mu           sync.Mutex
	threads      map[string]Thread
	interactions map[string][]Interaction
	seen         map[string]bool
}

// NewMemoryLog returns an empty MemoryLog.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{
		threads:      make(map[string]Thread),
		interactions: make(map[string][]Interaction),
		seen:         make(map[string]bool),
	}
}

// Append implements InteractionLog.
func (l *MemoryLog) Append(ctx context.Context, thread Thread, interaction Interaction) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.seen[interaction.ID] {
		return fmt.Errorf("%w: %s", ErrDuplicateInteraction, interaction.ID)
	}
	if _, ok := l.threads[thread.ID]; !ok {
		l.threads[thread.ID] = thread
	}
	l.seen[interaction.ID] = true
	interaction.ThreadID = thread.ID
	interaction.Messages = slices.Clone(interaction.Messages)
	l.interactions[thread.ID] = append(l.interactions[thread.ID], interaction)
	return nil
}

// List implements InteractionLog.
func (l *MemoryLog) List(ctx context.Context, threadID string) ([]Interaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	interactions := slices.Clone(l.interactions[threadID])
	slices.SortStableFunc(interactions, func(a, b Interaction) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	return interactions, nil
}

// MemoryDocuments is a Documents backend held in memory. Revisions are
// decimal counters.
type MemoryDocuments struct {
	mu        sync.Mutex
	documents map[string]memoryDocument
}

type memoryDocument struct {
	revision int
	body     []byte
}

// NewMemoryDocuments returns an empty MemoryDocuments.
func NewMemoryDocuments() *MemoryDocuments {
	return &MemoryDocuments{documents: make(map[string]memoryDocument)}
}

// Load implements Documents.
func (d *MemoryDocuments) Load(ctx context.Context, key string) (string, []byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	document, ok := d.documents[key]
	if !ok {
		return "", nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return strconv.Itoa(document.revision), slices.Clone(document.body), nil
}

// Save implements Documents.
func (d *MemoryDocuments) Save(ctx context.Context, key, revision string, body []byte) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	current := ""
	document, exists := d.documents[key]
	if exists {
		current = strconv.Itoa(document.revision)
	}
	if revision != current {
		return "", fmt.Errorf("%w: %s is at revision %q, not %q", ErrConflict, key, current, revision)
	}
	document.revision++
	document.body = slices.Clone(body)
	d.documents[key] = document
	return strconv.Itoa(document.revision), nil
}
