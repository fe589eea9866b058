// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bureau-foundation/camille/lib/entitycache"
)

const namespace = "camille"

// Turn outcomes.
const (
	OutcomeSuccess   = "success"
	OutcomeError     = "error"
	OutcomeDuplicate = "duplicate"
)

// Metrics is the process-wide set of collectors.
type Metrics struct {
	registry *prometheus.Registry

	sessions     *prometheus.CounterVec
	events       *prometheus.CounterVec
	decodeErrors *prometheus.CounterVec
	turns        *prometheus.CounterVec
	turnDuration *prometheus.HistogramVec
	tokens       *prometheus.CounterVec
	toolCalls    *prometheus.CounterVec
	posts        *prometheus.CounterVec
}

// New creates the collectors and registers them, together with the Go
// runtime and process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Websocket sessions by how they ended.",
		}, []string{"server", "result"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Websocket events dispatched, by kind.",
		}, []string{"server", "kind"}),
		decodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_decode_errors_total",
			Help:      "Websocket frames that could not be decoded.",
		}, []string{"server"}),
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Conversation turns handled, by outcome.",
		}, []string{"server", "outcome"}),
		turnDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Wall time from receiving a post to committing its turn.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
		}, []string{"server"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_tokens_total",
			Help:      "Model tokens consumed, by model and direction.",
		}, []string{"server", "model", "direction"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool calls made by the model, by tool and result.",
		}, []string{"server", "tool", "result"}),
		posts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "posts_total",
			Help:      "Posts created, by result.",
		}, []string{"server", "result"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.sessions,
		m.events,
		m.decodeErrors,
		m.turns,
		m.turnDuration,
		m.tokens,
		m.toolCalls,
		m.posts,
	)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Server returns the collectors of one server. A nil Metrics yields a
// nil Server, which records nothing.
func (m *Metrics) Server(name string) *Server {
	if m == nil {
		return nil
	}
	return &Server{metrics: m, name: name}
}

// RegisterCache exports the record counts of a server's entity cache
// as gauges sampled at scrape time. Call once per server.
func (m *Metrics) RegisterCache(server string, cache *entitycache.Cache) error {
	gauge := func(kind string, value func(entitycache.Stats) int) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "cache_entities",
			Help:        "Records held in the entity cache, by kind.",
			ConstLabels: prometheus.Labels{"server": server, "kind": kind},
		}, func() float64 { return float64(value(cache.Stats())) })
	}
	for _, collector := range []prometheus.Collector{
		gauge("users", func(stats entitycache.Stats) int { return stats.Users }),
		gauge("channels", func(stats entitycache.Stats) int { return stats.Channels }),
		gauge("teams", func(stats entitycache.Stats) int { return stats.Teams }),
		gauge("memberships", func(stats entitycache.Stats) int { return stats.Memberships }),
	} {
		if err := m.registry.Register(collector); err != nil {
			return err
		}
	}
	return nil
}

// Server records the activity of one configured server.
type Server struct {
	metrics *Metrics
	name    string
}

// SessionEnded counts a finished session. result is a short reason
// such as "closed", "identity" or "cancelled".
func (s *Server) SessionEnded(result string) {
	if s == nil {
		return
	}
	s.metrics.sessions.WithLabelValues(s.name, result).Inc()
}

// Event counts a dispatched event.
func (s *Server) Event(kind string) {
	if s == nil {
		return
	}
	s.metrics.events.WithLabelValues(s.name, kind).Inc()
}

// DecodeError counts an undecodable frame.
func (s *Server) DecodeError() {
	if s == nil {
		return
	}
	s.metrics.decodeErrors.WithLabelValues(s.name).Inc()
}

// Turn records a finished turn.
func (s *Server) Turn(outcome string, elapsed time.Duration) {
	if s == nil {
		return
	}
	s.metrics.turns.WithLabelValues(s.name, outcome).Inc()
	s.metrics.turnDuration.WithLabelValues(s.name).Observe(elapsed.Seconds())
}

// Tokens adds model token usage.
func (s *Server) Tokens(model string, input, output int64) {
	if s == nil {
		return
	}
	s.metrics.tokens.WithLabelValues(s.name, model, "input").Add(float64(input))
	s.metrics.tokens.WithLabelValues(s.name, model, "output").Add(float64(output))
}

// ToolCall counts a tool call.
func (s *Server) ToolCall(tool string, failed bool) {
	if s == nil {
		return
	}
	result := "ok"
	if failed {
		result = "error"
	}
	s.metrics.toolCalls.WithLabelValues(s.name, tool, result).Inc()
}

// Post counts a created post.
func (s *Server) Post(failed bool) {
	if s == nil {
		return
	}
	result := "ok"
	if failed {
		result = "error"
	}
	s.metrics.posts.WithLabelValues(s.name, result).Inc()
}
