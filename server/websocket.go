// File: server/websocket.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// STOMP over WebSocket. Every upgraded connection gets its own goroutine,
// like the thread-per-connection engine, but frames travel inside WebSocket
// messages instead of a raw byte stream.

package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/momentics/hioload-stomp/api"
	"github.com/momentics/hioload-stomp/internal/logger"
	"github.com/momentics/hioload-stomp/internal/session"
	"github.com/momentics/hioload-stomp/protocol"
)

// WebSocketPath is the upgrade endpoint.
const WebSocketPath = "/stomp"

// WebSocketSubprotocols are offered during the upgrade; a client that asks
// for none is still accepted.
var WebSocketSubprotocols = []string{"v12.stomp", "stomp"}

type wsServer struct {
	*env
	ln       net.Listener
	srv      *http.Server
	upgrader websocket.Upgrader

	running atomic.Bool
	closing atomic.Bool

	mu    sync.Mutex
	conns map[int64]*wsConn
	wg    sync.WaitGroup
}

// NewWebSocket binds cfg.WSAddr and serves STOMP on WebSocketPath. Pass the
// same IDSource as the TCP engine so connection ids stay unique.
func NewWebSocket(cfg *Config, registry *session.Registry, opts ...Option) (Server, error) {
	if registry == nil {
		return nil, fmt.Errorf("nil registry: %w", api.ErrInvalidArgument)
	}
	e := newEnv(cfg, registry, opts...)
	if e.cfg.WSAddr == "" {
		return nil, fmt.Errorf("%w: websocket address is empty", ErrInvalidConfig)
	}
	ln, err := net.Listen("tcp", e.cfg.WSAddr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", e.cfg.WSAddr, err)
	}
	s := &wsServer{
		env: e,
		ln:  ln,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  e.cfg.ReadBufferSize,
			WriteBufferSize: e.cfg.ReadBufferSize,
			Subprotocols:    WebSocketSubprotocols,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		conns: make(map[int64]*wsConn),
	}
	s.srv = &http.Server{Handler: s.routes()}
	return s, nil
}

func (s *wsServer) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get(WebSocketPath, s.upgrade)
	return r
}

func (s *wsServer) Addr() net.Addr { return s.ln.Addr() }

func (s *wsServer) Serve(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	if s.closing.Load() {
		return ErrServerClosed
	}
	stop := context.AfterFunc(ctx, func() { _ = s.Shutdown() })
	defer stop()

	s.log.Info("websocket listener started", "addr", s.ln.Addr().String(), "path", WebSocketPath)
	err := s.srv.Serve(s.ln)
	if errors.Is(err, http.ErrServerClosed) {
		s.wg.Wait()
		return nil
	}
	return err
}

func (s *wsServer) upgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", "remote", r.RemoteAddr, logger.Error(err))
		return
	}
	if s.cfg.MaxFrameSize > 0 {
		conn.SetReadLimit(int64(s.cfg.MaxFrameSize) + 2)
	}
	wc := &wsConn{id: s.ids.Next(), conn: conn, env: s.env}

	s.mu.Lock()
	if s.closing.Load() {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.conns[wc.id] = wc
	s.wg.Add(1)
	s.mu.Unlock()

	s.run(wc)
}

func (s *wsServer) run(wc *wsConn) {
	defer s.wg.Done()
	defer func() {
		_ = wc.Close()
		s.mu.Lock()
		delete(s.conns, wc.id)
		s.mu.Unlock()
	}()
	if err := s.opened(wc); err != nil {
		s.log.Error("register connection", logger.ConnID(wc.id), logger.Error(err))
		return
	}
	defer s.closed(wc.id)

	p := s.newProtocol(wc.id)
	codec := s.newCodec()
	for {
		_, msg, err := wc.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) &&
				!errors.Is(err, net.ErrClosed) {
				s.log.Debug("websocket read failed", logger.ConnID(wc.id), logger.Error(err))
			}
			return
		}
		for _, text := range codec.Decode(msg) {
			if !s.handle(p, wc, text) {
				return
			}
		}
		if cerr := codec.Err(); cerr != nil {
			s.log.Warn("dropping connection", logger.ConnID(wc.id), logger.Error(cerr))
			return
		}
	}
}

func (s *wsServer) Shutdown() error {
	s.mu.Lock()
	first := s.closing.CompareAndSwap(false, true)
	live := make([]*wsConn, 0, len(s.conns))
	for _, c := range s.conns {
		live = append(live, c)
	}
	s.mu.Unlock()

	var err error
	if first {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		err = s.srv.Shutdown(ctx)
		if !s.running.Load() {
			err = errors.Join(err, s.ln.Close())
		}
	}
	for _, c := range live {
		_ = c.Close()
	}
	s.wg.Wait()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	return err
}

// wsConn is the registry handle of a WebSocket peer. One frame is one text
// message.
type wsConn struct {
	id   int64
	conn *websocket.Conn
	env  *env

	mu     sync.Mutex
	closed atomic.Bool
}

func (c *wsConn) ID() int64 { return c.id }

func (c *wsConn) Send(f *protocol.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return api.ErrConnectionClosed
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, f.Bytes()); err != nil {
		return fmt.Errorf("conn %d write: %w", c.id, err)
	}
	c.env.sent(f)
	return nil
}

func (c *wsConn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.conn.Close()
}
