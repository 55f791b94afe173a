// File: api/handler.go
// Package api defines the connection handle contract.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

import "github.com/momentics/hioload-stomp/protocol"

// ConnectionHandler pushes frames to one remote peer. Each dispatch engine
// provides its own implementation; the session registry and the protocol
// state machine only see this contract.
//
// Send must be safe for concurrent use: fan-out delivers to a handler from
// the goroutines of other connections.
type ConnectionHandler interface {
	// ID returns the connection identifier assigned at accept time.
	ID() int64
	// Send encodes f and writes (or queues) it for delivery.
	Send(f *protocol.Frame) error
	// Close shuts the underlying connection down. Idempotent.
	Close() error
}
