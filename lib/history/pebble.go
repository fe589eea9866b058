// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package history

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/camille/lib/blob"
)

// PebbleDocumentsConfig configures PebbleDocuments.
type PebbleDocumentsConfig struct {
	// Dir is the pebble data directory. Created if missing.
	Dir string

	// Compression frames stored values. Defaults to zstd.
	Compression *blob.CompressionTag

	Logger *slog.Logger
}

// PebbleDocuments is a Documents backend on a local pebble database.
// A document's revision is the hex BLAKE3 digest of its stored value,
// so revisions survive restarts without a separate counter.
type PebbleDocuments struct {
	db          *pebble.DB
	compression blob.CompressionTag
	logger      *slog.Logger

	// mu serializes compare-and-set. Pebble has no conditional write.
	mu sync.Mutex
}

// OpenPebbleDocuments opens or creates the database in config.Dir.
func OpenPebbleDocuments(config PebbleDocumentsConfig) (*PebbleDocuments, error) {
	if config.Dir == "" {
		return nil, fmt.Errorf("history: pebble directory is required")
	}
	compression := blob.CompressionZstd
	if config.Compression != nil {
		compression = *config.Compression
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	db, err := pebble.Open(config.Dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("history: opening pebble database %s: %w", config.Dir, err)
	}
	config.Logger.Info("history documents opened", "backend", "pebble", "dir", config.Dir)
	return &PebbleDocuments{db: db, compression: compression, logger: config.Logger}, nil
}

// Close flushes and closes the database.
func (d *PebbleDocuments) Close() error {
	return d.db.Close()
}

// Load implements Documents.
func (d *PebbleDocuments) Load(ctx context.Context, key string) (string, []byte, error) {
	value, err := d.get(key)
	if err != nil {
		return "", nil, err
	}
	document, err := blob.Decode(value)
	if err != nil {
		return "", nil, fmt.Errorf("history: document %s: %w", key, err)
	}
	return revisionOf(value), document, nil
}

// Save implements Documents.
func (d *PebbleDocuments) Save(ctx context.Context, key, revision string, document []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	value, err := blob.Encode(document, d.compression)
	if err != nil {
		return "", fmt.Errorf("history: framing document %s: %w", key, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	current := ""
	existing, err := d.get(key)
	switch {
	case err == nil:
		current = revisionOf(existing)
	case !errors.Is(err, ErrNotFound):
		return "", err
	}
	if current != revision {
		return "", fmt.Errorf("%w: %s is at revision %q, not %q", ErrConflict, key, current, revision)
	}

	if err := d.db.Set([]byte(key), value, pebble.Sync); err != nil {
		return "", fmt.Errorf("history: writing document %s: %w", key, err)
	}
	return revisionOf(value), nil
}

// get returns a copy of the raw stored value of key.
func (d *PebbleDocuments) get(key string) ([]byte, error) {
	value, closer, err := d.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("history: reading document %s: %w", key, err)
	}
	defer closer.Close()
	return append([]byte(nil), value...), nil
}

func revisionOf(value []byte) string {
	sum := blake3.Sum256(value)
	return hex.EncodeToString(sum[:])
}
