// File: server/server.go
// Package server hosts the dispatch engines that move STOMP frames between
// sockets and the broker state machine.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"

	"github.com/momentics/hioload-stomp/api"
	"github.com/momentics/hioload-stomp/control"
	"github.com/momentics/hioload-stomp/internal/broker"
	"github.com/momentics/hioload-stomp/internal/logger"
	"github.com/momentics/hioload-stomp/internal/session"
	"github.com/momentics/hioload-stomp/pool"
	"github.com/momentics/hioload-stomp/protocol"
)

// Server is a running dispatch engine.
type Server interface {
	// Serve accepts and processes connections until ctx is cancelled or
	// Shutdown is called. A graceful stop returns nil.
	Serve(ctx context.Context) error
	// Addr is the bound listening address, valid right after New.
	Addr() net.Addr
	// Shutdown stops accepting, closes every live connection and waits for
	// their handlers to finish. Idempotent.
	Shutdown() error
}

// IDSource hands out connection identifiers, starting at 1.
type IDSource struct {
	next atomic.Int64
}

// NewIDSource returns a fresh counter.
func NewIDSource() *IDSource {
	return &IDSource{}
}

// Next returns a process-unique connection id.
func (s *IDSource) Next() int64 {
	return s.next.Add(1)
}

// New builds the engine selected by mode and binds its listener.
func New(mode Mode, cfg *Config, registry *session.Registry, opts ...Option) (Server, error) {
	if registry == nil {
		return nil, fmt.Errorf("nil registry: %w", api.ErrInvalidArgument)
	}
	e := newEnv(cfg, registry, opts...)
	var (
		srv Server
		err error
	)
	switch mode {
	case ModeThreadPerConnection:
		srv, err = newThreadPerConnection(e)
	case ModeReactor:
		srv, err = newReactor(e)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
	if err != nil {
		return nil, err
	}
	return srv, nil
}

// env is what every engine shares: configuration, the registry, metrics and
// the per-connection protocol factory.
type env struct {
	cfg      *Config
	registry *session.Registry
	log      *slog.Logger
	metrics  *control.MetricsRegistry
	ids      *IDSource
	buffers  *pool.BytePool
	opts     options
}

func newEnv(cfg *Config, registry *session.Registry, opts ...Option) *env {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	o := options{log: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.metrics == nil {
		o.metrics = control.NewMetricsRegistry()
	}
	if o.ids == nil {
		o.ids = NewIDSource()
	}
	return &env{
		cfg:      cfg,
		registry: registry,
		log:      o.log,
		metrics:  o.metrics,
		ids:      o.ids,
		buffers:  pool.NewBytePool(cfg.ReadBufferSize),
		opts:     o,
	}
}

func (e *env) newProtocol(id int64) *broker.Protocol {
	return broker.NewProtocol(id, e.registry,
		broker.WithHost(e.cfg.Host),
		broker.WithVersion(e.cfg.Version),
		broker.WithLogger(e.log),
		broker.WithCounter(e.metrics),
	)
}

func (e *env) newCodec() *protocol.Codec {
	return protocol.NewCodec(e.cfg.MaxFrameSize)
}

// opened registers h and updates connection gauges.
func (e *env) opened(h api.ConnectionHandler) error {
	if err := e.registry.RegisterHandle(h.ID(), h); err != nil {
		return err
	}
	e.metrics.Inc(control.MetricConnectionsAccepted)
	e.metrics.Add(control.MetricConnectionsActive, 1)
	e.log.Debug("connection opened", logger.ConnID(h.ID()))
	return nil
}

// closed removes every trace of connection id from the registry.
func (e *env) closed(id int64) {
	e.registry.Disconnect(id)
	e.metrics.Add(control.MetricConnectionsActive, -1)
	e.log.Debug("connection closed", logger.ConnID(id))
}

// sent accounts one outbound frame.
func (e *env) sent(f *protocol.Frame) {
	e.metrics.Inc(control.MetricFramesOut)
	if f.Command == protocol.CmdError {
		e.metrics.Inc(control.MetricErrorsSent)
	}
}

// handle runs one inbound frame through p and applies the response part of
// the outcome. It reports whether the connection stays open.
func (e *env) handle(p *broker.Protocol, h api.ConnectionHandler, text string) bool {
	e.metrics.Inc(control.MetricFramesIn)
	out := p.Process(text)
	if out.Frame != nil {
		if err := h.Send(out.Frame); err != nil {
			e.log.Debug("response write failed", logger.ConnID(h.ID()), logger.Error(err))
			return false
		}
	}
	return !out.Closes()
}
