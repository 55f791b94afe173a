// File: server/tpc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Thread-per-connection engine: one goroutine owns each socket and runs the
// blocking read, decode, process and write cycle.

package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/momentics/hioload-stomp/api"
	"github.com/momentics/hioload-stomp/internal/logger"
	"github.com/momentics/hioload-stomp/protocol"
)

type tpcServer struct {
	*env
	ln net.Listener

	running atomic.Bool
	closing atomic.Bool

	mu    sync.Mutex
	conns map[int64]*tpcConn
	wg    sync.WaitGroup
}

func newThreadPerConnection(e *env) (*tpcServer, error) {
	ln, err := net.Listen("tcp", e.cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", e.cfg.ListenAddr, err)
	}
	return &tpcServer{env: e, ln: ln, conns: make(map[int64]*tpcConn)}, nil
}

func (s *tpcServer) Addr() net.Addr { return s.ln.Addr() }

func (s *tpcServer) Serve(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	if s.closing.Load() {
		return ErrServerClosed
	}
	stop := context.AfterFunc(ctx, func() { _ = s.Shutdown() })
	defer stop()

	s.log.Info("thread-per-connection engine listening", "addr", s.ln.Addr().String())
	for {
		c, err := s.ln.Accept()
		if err != nil {
			if s.closing.Load() || errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}
		s.accept(c)
	}
}

func (s *tpcServer) accept(c net.Conn) {
	tc := &tpcConn{id: s.ids.Next(), conn: c, env: s.env}
	s.mu.Lock()
	if s.closing.Load() {
		s.mu.Unlock()
		_ = c.Close()
		return
	}
	s.conns[tc.id] = tc
	s.wg.Add(1)
	s.mu.Unlock()
	go s.run(tc)
}

func (s *tpcServer) run(tc *tpcConn) {
	defer s.wg.Done()
	defer func() {
		_ = tc.Close()
		s.mu.Lock()
		delete(s.conns, tc.id)
		s.mu.Unlock()
	}()
	if err := s.opened(tc); err != nil {
		s.log.Error("register connection", logger.ConnID(tc.id), logger.Error(err))
		return
	}
	defer s.closed(tc.id)

	p := s.newProtocol(tc.id)
	codec := s.newCodec()
	buf := s.buffers.GetBuffer()
	defer s.buffers.PutBuffer(buf)

	for {
		n, err := tc.conn.Read(buf)
		if n > 0 {
			for _, text := range codec.Decode(buf[:n]) {
				if !s.handle(p, tc, text) {
					return
				}
			}
			if cerr := codec.Err(); cerr != nil {
				s.log.Warn("dropping connection", logger.ConnID(tc.id), logger.Error(cerr))
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.log.Debug("read failed", logger.ConnID(tc.id), logger.Error(err))
			}
			return
		}
	}
}

func (s *tpcServer) Shutdown() error {
	s.mu.Lock()
	if !s.closing.CompareAndSwap(false, true) {
		s.mu.Unlock()
		s.wg.Wait()
		return nil
	}
	live := make([]*tpcConn, 0, len(s.conns))
	for _, c := range s.conns {
		live = append(live, c)
	}
	s.mu.Unlock()

	err := s.ln.Close()
	for _, c := range live {
		_ = c.Close()
	}
	s.wg.Wait()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	return err
}

// tpcConn is the registry handle of a blocking connection. Writes are
// serialized so fan-out from other goroutines never interleaves frames.
type tpcConn struct {
	id   int64
	conn net.Conn
	env  *env

	mu     sync.Mutex
	closed atomic.Bool
}

func (c *tpcConn) ID() int64 { return c.id }

func (c *tpcConn) Send(f *protocol.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return api.ErrConnectionClosed
	}
	if _, err := c.conn.Write(f.Bytes()); err != nil {
		return fmt.Errorf("conn %d write: %w", c.id, err)
	}
	c.env.sent(f)
	return nil
}

// Close does not take the write lock, so it also unblocks a Send stuck on a
// slow peer.
func (c *tpcConn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.conn.Close()
}
