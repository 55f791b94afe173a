// Package fake
// Author: momentics <momentics@gmail.com>
//
// Fake implementations for testing and development.
// Provides predictable, controllable behavior for the connection and
// executor contracts.

package fake

import (
	"sync"

	"github.com/momentics/hioload-stomp/api"
	"github.com/momentics/hioload-stomp/protocol"
)

// Conn is an in-memory api.ConnectionHandler that records every frame.
type Conn struct {
	id int64

	mu      sync.Mutex
	frames  []*protocol.Frame
	closed  bool
	sendErr error
	discard bool
}

// NewConn creates a recording connection handle.
func NewConn(id int64) *Conn {
	return &Conn{id: id}
}

// NewSink creates a handle that accepts frames without keeping them.
func NewSink(id int64) *Conn {
	return &Conn{id: id, discard: true}
}

// ID implements api.ConnectionHandler.
func (c *Conn) ID() int64 { return c.id }

// Send implements api.ConnectionHandler.
func (c *Conn) Send(f *protocol.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return api.ErrConnectionClosed
	}
	if c.sendErr != nil {
		return c.sendErr
	}
	if !c.discard {
		c.frames = append(c.frames, f)
	}
	return nil
}

// Close implements api.ConnectionHandler.
func (c *Conn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

// SetSendError makes every following Send fail with err. Nil restores.
func (c *Conn) SetSendError(err error) {
	c.mu.Lock()
	c.sendErr = err
	c.mu.Unlock()
}

// Closed reports whether Close was called.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Frames returns a copy of every frame sent so far.
func (c *Conn) Frames() []*protocol.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*protocol.Frame(nil), c.frames...)
}

// Messages returns only the MESSAGE frames.
func (c *Conn) Messages() []*protocol.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*protocol.Frame
	for _, f := range c.frames {
		if f.Command == protocol.CmdMessage {
			out = append(out, f)
		}
	}
	return out
}

// Reset drops the recorded frames.
func (c *Conn) Reset() {
	c.mu.Lock()
	c.frames = nil
	c.mu.Unlock()
}
