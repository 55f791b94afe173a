// File: internal/concurrency/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Concurrency primitives for the reactor dispatch engine: a bounded worker
// pool (Executor) and per-connection serial queues (Lane) that keep one
// connection's frames in order while many connections share the pool.
package concurrency
