// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Error definitions for the protocol package.

package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyFrame is returned for frame text that holds only EOLs.
	ErrEmptyFrame = errors.New("empty frame")

	// ErrMalformedHeader indicates a header line without a colon.
	ErrMalformedHeader = errors.New("malformed header line")

	// ErrFrameTooLarge indicates an inbound frame exceeded the codec limit.
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")
)

// MalformedHeaderError carries the offending header line.
type MalformedHeaderError struct {
	Line string
}

func (e *MalformedHeaderError) Error() string {
	return fmt.Sprintf("%v: %q", ErrMalformedHeader, e.Line)
}

// Unwrap lets errors.Is match ErrMalformedHeader.
func (e *MalformedHeaderError) Unwrap() error {
	return ErrMalformedHeader
}
