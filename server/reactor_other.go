//go:build !linux

// File: server/reactor_other.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"fmt"

	"github.com/momentics/hioload-stomp/api"
)

func newReactor(*env) (Server, error) {
	return nil, fmt.Errorf("reactor engine: %w", api.ErrNotSupported)
}
