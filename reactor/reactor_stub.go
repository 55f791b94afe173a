//go:build !linux
// +build !linux

// File: reactor/reactor_stub.go
// Author: momentics <momentics@gmail.com>
//
// Stub implementation for unsupported platforms.

package reactor

import "github.com/momentics/hioload-stomp/api"

// New returns api.ErrNotSupported outside Linux.
func New() (Reactor, error) {
	return nil, api.ErrNotSupported
}
