// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"

	"github.com/bureau-foundation/camille/lib/config"
)

// newLogger returns the process logger and installs it as the slog
// default. Terminals get the text handler; everything else (journald,
// container log collectors) gets JSON.
func newLogger(logConfig config.LogConfig, writer io.Writer) (*slog.Logger, error) {
	level, err := logConfig.SlogLevel()
	if err != nil {
		return nil, err
	}
	options := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if isTerminal(writer) {
		handler = slog.NewTextHandler(writer, options)
	} else {
		handler = slog.NewJSONHandler(writer, options)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, nil
}

func isTerminal(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	return ok && term.IsTerminal(int(file.Fd()))
}
