// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/camille/lib/blob"
	"github.com/bureau-foundation/camille/lib/clock"
	"github.com/bureau-foundation/camille/lib/config"
	"github.com/bureau-foundation/camille/lib/history"
)

// openStore opens the configured history backend. The returned
// function releases it.
func openStore(cfg *config.Config, logger *slog.Logger) (history.Store, func(), error) {
	compression, err := blob.ParseCompressionTag(cfg.History.Compression)
	if err != nil {
		return nil, nil, err
	}
	logger = logger.With("backend", cfg.History.Backend)
	closeWith := func(name string, close func() error) func() {
		return func() {
			if err := close(); err != nil {
				logger.Error("closing history store", "store", name, "error", err)
			}
		}
	}

	switch cfg.History.Backend {
	case config.BackendSQLite:
		log, err := history.OpenSQLiteLog(history.SQLiteLogConfig{
			Path:        cfg.HistoryPath(),
			Compression: compression,
			Logger:      logger,
		})
		if err != nil {
			return nil, nil, err
		}
		store := history.NewThreadStore(history.ThreadStoreConfig{Log: log, Clock: clock.Real(), Logger: logger})
		return store, closeWith("sqlite", log.Close), nil

	case config.BackendMemory:
		logger.Warn("history is kept in memory and lost on exit")
		store := history.NewThreadStore(history.ThreadStoreConfig{Log: history.NewMemoryLog(), Logger: logger})
		return store, func() {}, nil

	case config.BackendPebble:
		documents, err := history.OpenPebbleDocuments(history.PebbleDocumentsConfig{
			Dir:         cfg.HistoryPath(),
			Compression: &compression,
			Logger:      logger,
		})
		if err != nil {
			return nil, nil, err
		}
		store := history.NewDocumentHistory(history.DocumentHistoryConfig{Documents: documents, Logger: logger})
		return store, closeWith("pebble", documents.Close), nil

	case config.BackendCouchDB:
		password, err := cfg.History.CouchDB.ResolvePassword()
		if err != nil {
			return nil, nil, err
		}
		documents, err := history.NewCouchDocuments(history.CouchDocumentsConfig{
			URL:      cfg.History.CouchDB.URL,
			Username: cfg.History.CouchDB.Username,
			Password: password,
			Logger:   logger,
		})
		if err != nil {
			if password != nil {
				password.Close()
			}
			return nil, nil, err
		}
		store := history.NewDocumentHistory(history.DocumentHistoryConfig{Documents: documents, Logger: logger})
		release := func() {
			if password != nil {
				password.Close()
			}
		}
		return store, release, nil
	}
	return nil, nil, fmt.Errorf("unknown history backend %q", cfg.History.Backend)
}
