// Package pool
// Author: momentics <momentics@gmail.com>
//
// Reusable read buffers for the dispatch engines: a generic sync.Pool
// wrapper and a fixed-size byte buffer pool built on it.
package pool
