// File: server/options.go
// Package server defines functional options for the dispatch engines.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"log/slog"

	"github.com/momentics/hioload-stomp/control"
	"github.com/momentics/hioload-stomp/internal/concurrency"
)

// Option customizes engine initialization.
type Option func(*options)

type options struct {
	log      *slog.Logger
	metrics  *control.MetricsRegistry
	ids      *IDSource
	executor *concurrency.Executor
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithMetrics reports engine counters to m.
func WithMetrics(m *control.MetricsRegistry) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithIDSource shares a connection id counter between engines, so a TCP
// engine and a WebSocket listener never hand out the same id.
func WithIDSource(ids *IDSource) Option {
	return func(o *options) {
		if ids != nil {
			o.ids = ids
		}
	}
}

// WithExecutor runs reactor frame processing on exec instead of a pool the
// engine creates and owns. The caller closes exec.
func WithExecutor(exec *concurrency.Executor) Option {
	return func(o *options) {
		o.executor = exec
	}
}
