//go:build linux

// File: server/reactor_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Reactor engine: non-blocking sockets multiplexed over epoll loops. Loops
// only move bytes; frame processing runs on the shared executor, one Lane
// per connection.

package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-stomp/api"
	"github.com/momentics/hioload-stomp/internal/broker"
	"github.com/momentics/hioload-stomp/internal/concurrency"
	"github.com/momentics/hioload-stomp/internal/logger"
	"github.com/momentics/hioload-stomp/protocol"
	"github.com/momentics/hioload-stomp/reactor"
)

type reactorServer struct {
	*env
	lfd  int
	addr net.Addr

	exec     *concurrency.Executor
	ownsExec bool

	loops    []*eventLoop
	next     atomic.Uint64
	loopWG   sync.WaitGroup
	connWG   sync.WaitGroup
	running  atomic.Bool
	closing  atomic.Bool
	shutOnce sync.Once
	done     chan struct{}
}

func newReactor(e *env) (*reactorServer, error) {
	lfd, addr, err := listenTCP(e.cfg.ListenAddr)
	if err != nil {
		return nil, err
	}
	s := &reactorServer{env: e, lfd: lfd, addr: addr, done: make(chan struct{})}

	for i := 0; i < max(e.cfg.Loops, 1); i++ {
		r, err := reactor.New()
		if err != nil {
			s.release()
			return nil, fmt.Errorf("event loop %d: %w", i, err)
		}
		s.loops = append(s.loops, &eventLoop{
			index: i,
			srv:   s,
			poll:  r,
			conns: make(map[int]*reactorConn),
			buf:   e.buffers.GetBuffer(),
		})
	}
	if err := s.loops[0].poll.Register(lfd, reactor.EventRead, s.onAccept); err != nil {
		s.release()
		return nil, fmt.Errorf("register listener: %w", err)
	}

	s.exec = e.opts.executor
	if s.exec == nil {
		s.exec = concurrency.NewExecutor(e.cfg.Workers, concurrency.WithExecutorLogger(e.log))
		s.ownsExec = true
	}
	return s, nil
}

func (s *reactorServer) Addr() net.Addr { return s.addr }

// Executor exposes the frame-processing pool for stats probes.
func (s *reactorServer) Executor() *concurrency.Executor { return s.exec }

func (s *reactorServer) Serve(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	if s.closing.Load() {
		return ErrServerClosed
	}
	stop := context.AfterFunc(ctx, func() { _ = s.Shutdown() })
	defer stop()

	s.log.Info("reactor engine listening", "addr", s.addr.String(),
		"loops", len(s.loops), "workers", s.exec.NumWorkers())
	for _, l := range s.loops {
		s.loopWG.Add(1)
		go l.run()
	}
	<-s.done
	return nil
}

func (s *reactorServer) Shutdown() error {
	s.shutOnce.Do(func() {
		s.closing.Store(true)
		for _, l := range s.loops {
			_ = l.poll.Wake()
		}
		s.loopWG.Wait()

		for _, l := range s.loops {
			for _, c := range l.snapshot() {
				c.teardown()
			}
		}
		s.connWG.Wait()
		s.release()
		close(s.done)
	})
	<-s.done
	return nil
}

// release frees descriptors and the owned executor.
func (s *reactorServer) release() {
	if s.ownsExec && s.exec != nil {
		s.exec.Close()
	}
	for _, l := range s.loops {
		_ = l.poll.Close()
		s.buffers.PutBuffer(l.buf)
	}
	_ = unix.Close(s.lfd)
}

// onAccept drains the accept backlog and spreads sockets over the loops.
func (s *reactorServer) onAccept(fd int, _ reactor.FDEventType) {
	for {
		nfd, _, err := unix.Accept4(fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			if errors.Is(err, unix.EINTR) || errors.Is(err, unix.ECONNABORTED) {
				continue
			}
			if !errors.Is(err, unix.EAGAIN) && !s.closing.Load() {
				s.log.Warn("accept failed", logger.Error(err))
			}
			return
		}
		if s.closing.Load() {
			_ = unix.Close(nfd)
			return
		}
		l := s.loops[int(s.next.Add(1)-1)%len(s.loops)]
		if err := l.attach(nfd); err != nil {
			s.log.Warn("attach connection", "loop", l.index, logger.Error(err))
		}
	}
}

// eventLoop owns one epoll instance and the sockets registered on it.
type eventLoop struct {
	index int
	srv   *reactorServer
	poll  reactor.Reactor
	buf   []byte // read scratch, used only on the loop goroutine

	mu      sync.Mutex
	conns   map[int]*reactorConn
	retired []int // descriptors to close between polls
	stopped bool
}

func (l *eventLoop) run() {
	defer l.srv.loopWG.Done()
	defer l.stop()
	for !l.srv.closing.Load() {
		if _, err := l.poll.Poll(-1); err != nil {
			l.srv.log.Error("event loop stopped", "loop", l.index, logger.Error(err))
			return
		}
		l.closeRetired()
	}
}

// retire closes fd on the loop goroutine between two polls, so its number
// cannot be reused by accept while this loop may still read it. Once the
// loop has stopped, fd is closed at once.
func (l *eventLoop) retire(fd int) {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		_ = unix.Close(fd)
		return
	}
	l.retired = append(l.retired, fd)
	l.mu.Unlock()
	_ = l.poll.Wake()
}

func (l *eventLoop) closeRetired() {
	l.mu.Lock()
	fds := l.retired
	l.retired = nil
	l.mu.Unlock()
	for _, fd := range fds {
		_ = unix.Close(fd)
	}
}

func (l *eventLoop) stop() {
	l.mu.Lock()
	l.stopped = true
	l.mu.Unlock()
	l.closeRetired()
}

func (l *eventLoop) attach(fd int) error {
	s := l.srv
	c := &reactorConn{
		id:    s.ids.Next(),
		fd:    fd,
		loop:  l,
		env:   s.env,
		codec: s.newCodec(),
		lane:  concurrency.NewLane(s.exec, s.log),
		out:   queue.New(),
	}
	c.proto = s.newProtocol(c.id)
	if err := s.opened(c); err != nil {
		_ = unix.Close(fd)
		return err
	}
	s.connWG.Add(1)

	l.mu.Lock()
	l.conns[fd] = c
	l.mu.Unlock()
	if err := l.poll.Register(fd, reactor.EventRead, l.dispatch); err != nil {
		c.teardown()
		return fmt.Errorf("register conn %d: %w", c.id, err)
	}
	return nil
}

func (l *eventLoop) lookup(fd int) (*reactorConn, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.conns[fd]
	return c, ok
}

func (l *eventLoop) remove(c *reactorConn) {
	l.mu.Lock()
	if l.conns[c.fd] == c {
		delete(l.conns, c.fd)
	}
	l.mu.Unlock()
}

func (l *eventLoop) snapshot() []*reactorConn {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*reactorConn, 0, len(l.conns))
	for _, c := range l.conns {
		out = append(out, c)
	}
	return out
}

func (l *eventLoop) dispatch(fd int, ev reactor.FDEventType) {
	c, ok := l.lookup(fd)
	if !ok {
		return
	}
	if ev&reactor.EventWrite != 0 {
		c.flush()
	}
	if ev&reactor.EventRead != 0 {
		c.read(l.buf)
	}
	if ev&reactor.EventError != 0 {
		c.read(l.buf)
		c.teardown()
	}
}

// reactorConn is the registry handle of a non-blocking connection. Codec is
// touched only by its loop; proto only by tasks on its lane.
type reactorConn struct {
	id    int64
	fd    int
	loop  *eventLoop
	env   *env
	proto *broker.Protocol
	codec *protocol.Codec
	lane  *concurrency.Lane

	mu              sync.Mutex
	out             *queue.Queue // of []byte
	head            []byte       // unsent remainder of the oldest chunk
	writeArmed      bool
	readDone        bool // peer sent EOF; no more reads
	closeAfterFlush bool
	closed          bool

	once sync.Once
}

func (c *reactorConn) ID() int64 { return c.id }

func (c *reactorConn) Send(f *protocol.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.closeAfterFlush {
		return api.ErrConnectionClosed
	}
	b := f.Bytes()
	if c.head == nil && c.out.Length() == 0 {
		n, err := unix.Write(c.fd, b)
		if err != nil && !errors.Is(err, unix.EAGAIN) && !errors.Is(err, unix.EINTR) {
			return fmt.Errorf("conn %d write: %w", c.id, err)
		}
		if n > 0 {
			b = b[n:]
		}
		if len(b) == 0 {
			c.env.sent(f)
			return nil
		}
	}
	c.out.Add(b)
	c.env.sent(f)
	if !c.writeArmed {
		c.writeArmed = true
		if err := c.loop.poll.Modify(c.fd, c.interest()); err != nil {
			c.writeArmed = false
			return fmt.Errorf("conn %d arm write: %w", c.id, err)
		}
	}
	return nil
}

// interest is the epoll interest set for the current state. Caller holds c.mu.
func (c *reactorConn) interest() reactor.FDEventType {
	var ev reactor.FDEventType
	if !c.readDone {
		ev |= reactor.EventRead
	}
	if c.writeArmed {
		ev |= reactor.EventWrite
	}
	return ev
}

// flush writes queued bytes until the socket would block.
func (c *reactorConn) flush() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	for c.head != nil || c.out.Length() > 0 {
		if c.head == nil {
			c.head = c.out.Remove().([]byte)
		}
		n, err := unix.Write(c.fd, c.head)
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
			c.mu.Unlock()
			return
		}
		if err != nil {
			c.mu.Unlock()
			c.env.log.Debug("flush failed", logger.ConnID(c.id), logger.Error(err))
			c.teardown()
			return
		}
		if n < len(c.head) {
			c.head = c.head[n:]
			continue
		}
		c.head = nil
	}
	if c.writeArmed {
		c.writeArmed = false
		_ = c.loop.poll.Modify(c.fd, c.interest())
	}
	done := c.closeAfterFlush
	c.mu.Unlock()
	if done {
		c.teardown()
	}
}

// read drains the socket and queues every completed frame on the lane.
func (c *reactorConn) read(buf []byte) {
	for c.readable() {
		n, err := unix.Read(c.fd, buf)
		switch {
		case n > 0:
			for _, text := range c.codec.Decode(buf[:n]) {
				if lerr := c.lane.Submit(c.task(text)); lerr != nil {
					c.teardown()
					return
				}
			}
			if cerr := c.codec.Err(); cerr != nil {
				c.env.log.Warn("dropping connection", logger.ConnID(c.id), logger.Error(cerr))
				c.teardown()
				return
			}
		case err == nil:
			c.shutRead()
			return
		case errors.Is(err, unix.EINTR):
		case errors.Is(err, unix.EAGAIN):
			return
		default:
			c.env.log.Debug("read failed", logger.ConnID(c.id), logger.Error(err))
			c.teardown()
			return
		}
	}
}

func (c *reactorConn) readable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && !c.readDone
}

// shutRead handles the peer's EOF. Frames already read still run on the
// lane and their replies are flushed before the socket closes.
func (c *reactorConn) shutRead() {
	c.mu.Lock()
	if c.closed || c.readDone {
		c.mu.Unlock()
		return
	}
	c.readDone = true
	err := c.loop.poll.Modify(c.fd, c.interest())
	c.mu.Unlock()
	if err != nil {
		c.teardown()
		return
	}
	if err := c.lane.Submit(c.finish); err != nil {
		c.teardown()
	}
}

func (c *reactorConn) task(text string) concurrency.TaskFunc {
	return func() {
		if !c.env.handle(c.proto, c, text) {
			c.finish()
		}
	}
}

// finish closes once the outbound queue is empty.
func (c *reactorConn) finish() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.head != nil || c.out.Length() > 0 {
		c.closeAfterFlush = true
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.teardown()
}

// teardown stops all I/O at once, hands the descriptor to its loop for
// closing and drops the registry entry behind every frame already queued on
// the lane.
func (c *reactorConn) teardown() {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.out = queue.New()
		c.head = nil
		_ = c.loop.poll.Unregister(c.fd)
		c.mu.Unlock()
		c.loop.remove(c)
		c.loop.retire(c.fd)

		release := func() {
			c.lane.Close()
			c.env.closed(c.id)
			c.loop.srv.connWG.Done()
		}
		if err := c.lane.Submit(release); err != nil {
			release()
		}
	})
}

func (c *reactorConn) Close() error {
	c.teardown()
	return nil
}

// listenTCP opens a non-blocking listening socket bound to addr.
func listenTCP(addr string) (int, net.Addr, error) {
	ta, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return -1, nil, fmt.Errorf("resolve %s: %w", addr, err)
	}
	family := unix.AF_INET
	var sa unix.Sockaddr
	if ip4 := ta.IP.To4(); ta.IP == nil || ip4 != nil {
		s4 := &unix.SockaddrInet4{Port: ta.Port}
		if ip4 != nil {
			copy(s4.Addr[:], ip4)
		}
		sa = s4
	} else {
		family = unix.AF_INET6
		s6 := &unix.SockaddrInet6{Port: ta.Port}
		copy(s6.Addr[:], ta.IP.To16())
		sa = s6
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return -1, nil, fmt.Errorf("socket: %w", err)
	}
	fail := func(op string, err error) (int, net.Addr, error) {
		_ = unix.Close(fd)
		return -1, nil, fmt.Errorf("%s %s: %w", op, addr, err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fail("setsockopt", err)
	}
	if err := unix.Bind(fd, sa); err != nil {
		return fail("bind", err)
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		return fail("listen", err)
	}
	bound, err := unix.Getsockname(fd)
	if err != nil {
		return fail("getsockname", err)
	}
	switch b := bound.(type) {
	case *unix.SockaddrInet4:
		return fd, &net.TCPAddr{IP: net.IP(append([]byte(nil), b.Addr[:]...)), Port: b.Port}, nil
	case *unix.SockaddrInet6:
		return fd, &net.TCPAddr{IP: net.IP(append([]byte(nil), b.Addr[:]...)), Port: b.Port}, nil
	default:
		return fail("getsockname", api.ErrNotSupported)
	}
}
