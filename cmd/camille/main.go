// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/camille/lib/admin"
	"github.com/bureau-foundation/camille/lib/clock"
	"github.com/bureau-foundation/camille/lib/config"
	"github.com/bureau-foundation/camille/lib/metrics"
	"github.com/bureau-foundation/camille/lib/process"
	"github.com/bureau-foundation/camille/lib/version"
	"github.com/bureau-foundation/camille/lib/webfetch"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		configPath  string
		logLevel    string
		checkOnly   bool
		showVersion bool
	)
	flag.StringVarP(&configPath, "config", "c", "", "path to camille.yaml (default: $CAMILLE_CONFIG)")
	flag.StringVar(&logLevel, "log-level", "", "override log.level (debug, info, warn, error)")
	flag.BoolVar(&checkOnly, "check", false, "validate the configuration and exit")
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.Parse()

	if showVersion {
		fmt.Println("camille", version.Full())
		return nil
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if checkOnly {
		fmt.Printf("configuration OK: %d server(s), %d model profile(s)\n", len(cfg.Servers), len(cfg.Models))
		return nil
	}

	logger, err := newLogger(cfg.Log, os.Stderr)
	if err != nil {
		return err
	}
	logger.Info("starting camille", "version", version.Info())

	if err := cfg.EnsurePaths(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	profiles, err := buildProfiles(ctx, cfg, logger)
	if err != nil {
		return err
	}

	var fetcher *webfetch.Fetcher
	if !cfg.Fetch.Disabled {
		fetcher = webfetch.New(webfetch.Config{UserAgent: cfg.Fetch.UserAgent, Logger: logger})
	}

	serverNames := make([]string, 0, len(cfg.Servers))
	for _, server := range cfg.Servers {
		serverNames = append(serverNames, server.Name)
	}

	bot := &bot{
		config:   cfg,
		store:    store,
		profiles: profiles,
		fetcher:  fetcher,
		metrics:  metrics.New(),
		health:   admin.NewHealth(clock.Real(), serverNames...),
		clock:    clock.Real(),
		logger:   logger,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	if cfg.Admin.Listen != "" {
		adminServer, err := admin.NewServer(admin.Config{
			Address: cfg.Admin.Listen,
			Health:  bot.health,
			Metrics: bot.metrics,
			Logger:  logger,
		})
		if err != nil {
			return err
		}
		group.Go(func() error { return adminServer.Serve(groupCtx) })
	}
	for _, server := range cfg.Servers {
		group.Go(func() error { return bot.runServer(groupCtx, server) })
	}

	err = group.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	logger.Info("camille stopped")
	return err
}

// loadConfig loads path, or $CAMILLE_CONFIG when path is empty.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Load()
	}
	return config.LoadFile(path)
}
