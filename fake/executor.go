// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package fake

import "sync/atomic"

// Executor runs every task inline on the submitting goroutine.
type Executor struct {
	runs atomic.Int64
}

// Submit implements api.Executor.
func (e *Executor) Submit(task func()) error {
	e.runs.Add(1)
	task()
	return nil
}

// NumWorkers implements api.Executor.
func (e *Executor) NumWorkers() int { return 1 }

// Runs returns the number of submitted tasks.
func (e *Executor) Runs() int64 { return e.runs.Load() }
