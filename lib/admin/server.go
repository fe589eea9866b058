// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/bureau-foundation/camille/lib/metrics"
	"github.com/bureau-foundation/camille/lib/version"
)

// Config configures a Server.
type Config struct {
	// Address is the TCP listen address (e.g. "127.0.0.1:9464",
	// ":0"). Required.
	Address string

	Health  *Health
	Metrics *metrics.Metrics

	// ShutdownTimeout defaults to 10 seconds.
	ShutdownTimeout time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Server serves the admin endpoints on a TCP listener.
type Server struct {
	address         string
	handler         http.Handler
	logger          *slog.Logger
	shutdownTimeout time.Duration

	// ready is closed once the listener is bound.
	ready chan struct{}
	addr  net.Addr
}

// NewServer returns a Server. Call Serve to start accepting
// connections.
func NewServer(config Config) (*Server, error) {
	if config.Address == "" {
		return nil, errors.New("admin: Address is required")
	}
	if config.Health == nil {
		return nil, errors.New("admin: Health is required")
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = 10 * time.Second
	}

	return &Server{
		address:         config.Address,
		handler:         NewRouter(config.Health, config.Metrics),
		logger:          config.Logger,
		shutdownTimeout: config.ShutdownTimeout,
		ready:           make(chan struct{}),
	}, nil
}

// NewRouter returns the admin routes. metrics may be nil, which leaves
// /metrics unrouted.
func NewRouter(health *Health, registry *metrics.Metrics) *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/healthz", func(writer http.ResponseWriter, request *http.Request) {
		report, healthy := health.Report()
		status := http.StatusOK
		if !healthy {
			status = http.StatusServiceUnavailable
		}
		writeJSON(writer, status, map[string]any{
			"healthy": healthy,
			"servers": report,
		})
	}).Methods(http.MethodGet, http.MethodHead)
	router.HandleFunc("/version", func(writer http.ResponseWriter, request *http.Request) {
		writeJSON(writer, http.StatusOK, map[string]string{
			"version": version.Short(),
			"commit":  version.Commit(),
		})
	}).Methods(http.MethodGet)
	if registry != nil {
		router.Handle("/metrics", registry.Handler()).Methods(http.MethodGet)
	}
	return router
}

func writeJSON(writer http.ResponseWriter, status int, body any) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	json.NewEncoder(writer).Encode(body)
}

// Ready returns a channel closed once the server is accepting
// connections.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the bound address. Only valid after Ready is closed.
func (s *Server) Addr() net.Addr {
	return s.addr
}

// Serve accepts connections until ctx is cancelled, then shuts down
// gracefully, waiting up to ShutdownTimeout for in-flight requests.
func (s *Server) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("admin: listening on %s: %w", s.address, err)
	}
	s.addr = listener.Addr()
	close(s.ready)

	server := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("admin server listening", "address", s.addr.String())

	serveDone := make(chan error, 1)
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveDone <- err
		}
		close(serveDone)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveDone:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("admin: shutdown: %w", err)
	}
	<-serveDone
	s.logger.Info("admin server stopped")
	return nil
}
