// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package history

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/camille/lib/blob"
	"github.com/bureau-foundation/camille/lib/sqlitepool"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS threads (
	id         TEXT PRIMARY KEY,
	channel_id TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS interactions (
	id         TEXT PRIMARY KEY,
	thread_id  TEXT NOT NULL REFERENCES threads(id),
	created_at INTEGER NOT NULL,
	messages   BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS interactions_by_thread
	ON interactions (thread_id, created_at, id);
`

// SQLiteLogConfig configures a SQLiteLog.
type SQLiteLogConfig struct {
	// Path is the database file. Required.
	Path string

	// Compression is applied to stored transcripts. The zero value
	// stores them uncompressed.
	Compression blob.CompressionTag

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// SQLiteLog is an InteractionLog in a SQLite database. Timestamps are
// stored as Unix nanoseconds.
type SQLiteLog struct {
	pool        *sqlitepool.Pool
	compression blob.CompressionTag
	logger      *slog.Logger
}

// OpenSQLiteLog opens (creating if needed) the database at
// config.Path.
func OpenSQLiteLog(config SQLiteLogConfig) (*SQLiteLog, error) {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:   config.Path,
		Logger: config.Logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, sqliteSchema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	return &SQLiteLog{pool: pool, compression: config.Compression, logger: config.Logger}, nil
}

// Close closes the database.
func (l *SQLiteLog) Close() error {
	return l.pool.Close()
}

// Append implements InteractionLog.
func (l *SQLiteLog) Append(ctx context.Context, thread Thread, interaction Interaction) (err error) {
	frame, err := EncodeMessages(interaction.Messages, l.compression)
	if err != nil {
		return err
	}

	conn, err := l.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer l.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("history: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	err = sqlitex.Execute(conn,
		`INSERT OR IGNORE INTO threads (id, channel_id, created_at) VALUES (?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{thread.ID, thread.ChannelID, thread.CreatedAt.UnixNano()}})
	if err != nil {
		return fmt.Errorf("history: inserting thread %s: %w", thread.ID, err)
	}

	err = sqlitex.Execute(conn,
		`INSERT INTO interactions (id, thread_id, created_at, messages) VALUES (?, ?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{interaction.ID, thread.ID, interaction.CreatedAt.UnixNano(), frame}})
	if sqlite.ErrCode(err) == sqlite.ResultConstraintPrimaryKey {
		return fmt.Errorf("%w: %s", ErrDuplicateInteraction, interaction.ID)
	}
	if err != nil {
		return fmt.Errorf("history: inserting interaction %s: %w", interaction.ID, err)
	}
	return nil
}

// List implements InteractionLog.
func (l *SQLiteLog) List(ctx context.Context, threadID string) ([]Interaction, error) {
	conn, err := l.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer l.pool.Put(conn)

	var interactions []Interaction
	err = sqlitex.Execute(conn,
		`SELECT id, created_at, messages FROM interactions
		 WHERE thread_id = ? ORDER BY created_at, id`,
		&sqlitex.ExecOptions{
			Args: []any{threadID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				frame := make([]byte, stmt.ColumnLen(2))
				stmt.ColumnBytes(2, frame)
				messages, err := DecodeMessages(frame)
				if err != nil {
					return fmt.Errorf("interaction %s: %w", stmt.ColumnText(0), err)
				}
				interactions = append(interactions, Interaction{
					ID:        stmt.ColumnText(0),
					ThreadID:  threadID,
					CreatedAt: time.Unix(0, stmt.ColumnInt64(1)).UTC(),
					Messages:  messages,
				})
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("history: listing thread %s: %w", threadID, err)
	}
	return interactions, nil
}
