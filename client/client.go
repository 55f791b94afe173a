// File: client/client.go
// Package client provides a blocking STOMP 1.2 client for the broker.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// The client keeps one TCP connection and a background reader. MESSAGE
// frames are buffered for Receive; CONNECTED, RECEIPT and ERROR frames
// answer the request methods, which wait for their receipt.
// - Lifecycle callbacks: OnConnect, OnClose, OnError
// - Idempotent Close

package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/momentics/hioload-stomp/protocol"
)

// ErrClosed is returned once the connection is gone.
var ErrClosed = errors.New("stomp client closed")

// ServerError carries an ERROR frame sent by the broker.
type ServerError struct {
	Frame *protocol.Frame
}

func (e *ServerError) Error() string {
	return "stomp server error: " + e.Frame.Headers.Value(protocol.HdrMessage)
}

// ConnEventHandler defines lifecycle callback signatures.
type ConnEventHandler interface {
	OnConnect(session string)
	OnClose()
	OnError(err error)
}

// Config holds all configurable parameters for the client.
type Config struct {
	Addr           string        // broker host:port
	Host           string        // CONNECT host header
	Version        string        // CONNECT accept-version header
	DialTimeout    time.Duration // TCP connect timeout
	WriteTimeout   time.Duration // per-frame write deadline, 0 = none
	ReadBufferSize int           // socket read chunk
	Backlog        int           // buffered MESSAGE frames
}

// DefaultConfig returns settings matching the broker defaults.
func DefaultConfig(addr string) Config {
	return Config{
		Addr:           addr,
		Host:           "stomp.cs.bgu.ac.il",
		Version:        "1.2",
		DialTimeout:    5 * time.Second,
		WriteTimeout:   5 * time.Second,
		ReadBufferSize: 4096,
		Backlog:        256,
	}
}

// Client is a single STOMP connection.
type Client struct {
	cfg  Config
	conn net.Conn

	messages chan *protocol.Frame
	replies  chan *protocol.Frame
	quit     chan struct{} // closed by Close
	done     chan struct{} // closed when the reader exits

	writeMu sync.Mutex
	reqMu   sync.Mutex // one outstanding request at a time

	mu       sync.Mutex
	handlers []ConnEventHandler
	err      error
	session  string

	closed  atomic.Bool
	receipt atomic.Int64
}

// Dial connects to cfg.Addr and starts the background reader.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = 4096
	}
	if cfg.Backlog < 0 {
		cfg.Backlog = 0
	}
	d := net.Dialer{Timeout: cfg.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.Addr, err)
	}
	c := &Client{
		cfg:      cfg,
		conn:     conn,
		messages: make(chan *protocol.Frame, cfg.Backlog),
		replies:  make(chan *protocol.Frame, 4),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// RegisterHandler adds a lifecycle event handler.
func (c *Client) RegisterHandler(h ConnEventHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, h)
}

func (c *Client) snapshotHandlers() []ConnEventHandler {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ConnEventHandler(nil), c.handlers...)
}

// Session returns the id from the last CONNECTED frame.
func (c *Client) Session() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Err reports why the connection ended, or nil while it is alive.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} { return c.done }

// SendFrame writes one frame without waiting for an answer.
func (c *Client) SendFrame(f *protocol.Frame) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.cfg.WriteTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	}
	if _, err := c.conn.Write(f.Bytes()); err != nil {
		return fmt.Errorf("write %s: %w", f.Command, err)
	}
	return nil
}

// Connect logs in and returns the session id.
func (c *Client) Connect(ctx context.Context, login, passcode string) (string, error) {
	f := protocol.NewFrame(protocol.CmdConnect).
		Set(protocol.HdrAcceptVersion, c.cfg.Version).
		Set(protocol.HdrHost, c.cfg.Host).
		Set(protocol.HdrLogin, login).
		Set(protocol.HdrPasscode, passcode)

	c.reqMu.Lock()
	defer c.reqMu.Unlock()
	if err := c.SendFrame(f); err != nil {
		return "", err
	}
	reply, err := c.await(ctx, func(r *protocol.Frame) bool { return r.Command == protocol.CmdConnected })
	if err != nil {
		return "", err
	}
	session := reply.Headers.Value(protocol.HdrSession)
	c.mu.Lock()
	c.session = session
	c.mu.Unlock()
	for _, h := range c.snapshotHandlers() {
		h.OnConnect(session)
	}
	return session, nil
}

// Subscribe joins destination under subscription id and waits for the receipt.
func (c *Client) Subscribe(ctx context.Context, destination string, id int) error {
	f := protocol.NewFrame(protocol.CmdSubscribe).
		Set(protocol.HdrDestination, destination).
		Set(protocol.HdrID, strconv.Itoa(id))
	return c.request(ctx, f)
}

// Unsubscribe leaves the channel joined under id.
func (c *Client) Unsubscribe(ctx context.Context, id int) error {
	f := protocol.NewFrame(protocol.CmdUnsubscribe).Set(protocol.HdrID, strconv.Itoa(id))
	return c.request(ctx, f)
}

// Send publishes body to destination and waits until the broker has fanned
// it out.
func (c *Client) Send(ctx context.Context, destination, body string) error {
	f := protocol.NewFrame(protocol.CmdSend).Set(protocol.HdrDestination, destination)
	f.Body = body
	return c.request(ctx, f)
}

// Disconnect logs out, waits for the receipt and closes the socket.
func (c *Client) Disconnect(ctx context.Context) error {
	err := c.request(ctx, protocol.NewFrame(protocol.CmdDisconnect))
	return errors.Join(err, c.Close())
}

// Receive returns the next MESSAGE frame.
func (c *Client) Receive(ctx context.Context) (*protocol.Frame, error) {
	select {
	case f := <-c.messages:
		return f, nil
	default:
	}
	select {
	case f := <-c.messages:
		return f, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		select {
		case f := <-c.messages:
			return f, nil
		default:
			return nil, c.Err()
		}
	}
}

// Close shuts the connection down. Idempotent.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(c.quit)
	return c.conn.Close()
}

func (c *Client) request(ctx context.Context, f *protocol.Frame) error {
	id := "r-" + strconv.FormatInt(c.receipt.Add(1), 10)
	f.Set(protocol.HdrReceipt, id)

	c.reqMu.Lock()
	defer c.reqMu.Unlock()
	if err := c.SendFrame(f); err != nil {
		return err
	}
	_, err := c.await(ctx, func(r *protocol.Frame) bool {
		return r.Command == protocol.CmdReceipt && r.Headers.Value(protocol.HdrReceiptID) == id
	})
	return err
}

// await consumes replies until match accepts one or an ERROR arrives.
func (c *Client) await(ctx context.Context, match func(*protocol.Frame) bool) (*protocol.Frame, error) {
	for {
		select {
		case r := <-c.replies:
			if r.Command == protocol.CmdError {
				return nil, &ServerError{Frame: r}
			}
			if match(r) {
				return r, nil
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.done:
			select {
			case r := <-c.replies:
				if r.Command == protocol.CmdError {
					return nil, &ServerError{Frame: r}
				}
				if match(r) {
					return r, nil
				}
			default:
			}
			return nil, c.Err()
		}
	}
}

func (c *Client) readLoop() {
	codec := protocol.NewCodec(0)
	buf := make([]byte, c.cfg.ReadBufferSize)
	for {
		n, err := c.conn.Read(buf)
		for _, text := range codec.Decode(buf[:n]) {
			f, perr := protocol.ParseFrame(text)
			if errors.Is(perr, protocol.ErrEmptyFrame) {
				continue
			}
			if perr != nil {
				c.finish(fmt.Errorf("parse server frame: %w", perr))
				return
			}
			if !c.dispatch(f) {
				c.finish(ErrClosed)
				return
			}
		}
		if err != nil {
			c.finish(err)
			return
		}
	}
}

func (c *Client) dispatch(f *protocol.Frame) bool {
	out := c.replies
	if f.Command == protocol.CmdMessage {
		out = c.messages
	}
	select {
	case out <- f:
		return true
	case <-c.quit:
		return false
	}
}

func (c *Client) finish(cause error) {
	if errors.Is(cause, io.EOF) || errors.Is(cause, net.ErrClosed) {
		cause = ErrClosed
	}
	c.mu.Lock()
	c.err = cause
	c.mu.Unlock()
	_ = c.Close()

	for _, h := range c.snapshotHandlers() {
		if !errors.Is(cause, ErrClosed) {
			h.OnError(cause)
		}
		h.OnClose()
	}
	close(c.done)
}
