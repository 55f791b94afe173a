// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Error definitions for the server package.

package server

import "errors"

var (
	// ErrUnknownMode indicates a dispatch mode other than tpc or reactor.
	ErrUnknownMode = errors.New("unknown dispatch mode")
	// ErrInvalidConfig indicates a configuration value out of range.
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrAlreadyRunning is returned by a second concurrent Serve.
	ErrAlreadyRunning = errors.New("server already running")
	// ErrServerClosed is returned by Serve after Shutdown.
	ErrServerClosed = errors.New("server closed")
)
