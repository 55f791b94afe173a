// Package api
// Author: momentics <momentics@gmail.com>
//
// Common error types shared by the dispatch engines and the registry.

package api

import "errors"

// Common errors used across the broker.
var (
	ErrConnectionClosed = errors.New("connection is closed")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrNotSupported     = errors.New("operation not supported")
	ErrAlreadyExists    = errors.New("resource already exists")
	ErrNotFound         = errors.New("resource not found")
)
