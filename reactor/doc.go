// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides the poll-mode readiness reactor used by the
// reactor dispatch engine, implemented on Linux epoll.
package reactor
