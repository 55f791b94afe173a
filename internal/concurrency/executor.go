// File: internal/concurrency/executor.go
// Package concurrency implements the worker pool behind the reactor engine.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Executor dispatches tasks across a fixed set of worker goroutines fed by a
// bounded queue. Submit blocks while the queue is full, which is the only
// back-pressure the reactor applies to event loops.

package concurrency

import (
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
)

// TaskFunc is a unit of work to execute.
type TaskFunc = func()

// queueFactor sizes the task queue relative to the worker count.
const queueFactor = 64

// Executor manages a pool of worker goroutines.
type Executor struct {
	tasks      chan TaskFunc
	closeCh    chan struct{}
	closed     atomic.Bool
	wg         sync.WaitGroup
	numWorkers int
	log        *slog.Logger

	// statistics
	totalTasks     atomic.Int64
	completedTasks atomic.Int64
	panics         atomic.Int64
}

// ExecutorOption customizes an Executor.
type ExecutorOption func(*Executor)

// WithExecutorLogger sets the logger used to report recovered panics.
func WithExecutorLogger(l *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		if l != nil {
			e.log = l
		}
	}
}

// NewExecutor creates an Executor with numWorkers goroutines.
// If numWorkers <= 0, defaults to runtime.NumCPU().
func NewExecutor(numWorkers int, opts ...ExecutorOption) *Executor {
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	e := &Executor{
		tasks:      make(chan TaskFunc, numWorkers*queueFactor),
		closeCh:    make(chan struct{}),
		numWorkers: numWorkers,
		log:        slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	e.wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		w := &worker{id: i, executor: e}
		go w.run()
	}
	return e
}

// Submit enqueues a task, blocking while the queue is full. It returns
// ErrExecutorClosed once Close has been called.
func (e *Executor) Submit(task TaskFunc) error {
	if task == nil {
		return ErrNilTask
	}
	if e.closed.Load() {
		return ErrExecutorClosed
	}
	select {
	case e.tasks <- task:
		e.totalTasks.Add(1)
		return nil
	case <-e.closeCh:
		return ErrExecutorClosed
	}
}

// NumWorkers returns the number of workers.
func (e *Executor) NumWorkers() int {
	return e.numWorkers
}

// Close stops accepting tasks, runs what is already queued and waits for
// the workers to exit.
func (e *Executor) Close() {
	if e.closed.CompareAndSwap(false, true) {
		close(e.closeCh)
	}
	e.wg.Wait()
}

// Stats returns basic executor metrics.
func (e *Executor) Stats() map[string]int64 {
	total := e.totalTasks.Load()
	completed := e.completedTasks.Load()
	return map[string]int64{
		"total_tasks":     total,
		"completed_tasks": completed,
		"pending_tasks":   total - completed,
		"panics":          e.panics.Load(),
		"num_workers":     int64(e.numWorkers),
	}
}

// worker represents a single executor goroutine.
type worker struct {
	id       int
	executor *Executor
}

// run is the main loop for a worker.
func (w *worker) run() {
	defer w.executor.wg.Done()
	for {
		select {
		case task := <-w.executor.tasks:
			w.executeTask(task)
		case <-w.executor.closeCh:
			w.drain()
			return
		}
	}
}

// drain runs tasks that were queued before Close.
func (w *worker) drain() {
	for {
		select {
		case task := <-w.executor.tasks:
			w.executeTask(task)
		default:
			return
		}
	}
}

// executeTask runs the task and updates statistics, recovering from panics.
func (w *worker) executeTask(task TaskFunc) {
	defer func() {
		if r := recover(); r != nil {
			w.executor.panics.Add(1)
			w.executor.log.Error("executor task panicked", "worker", w.id, "panic", r)
		}
		w.executor.completedTasks.Add(1)
	}()
	task()
}
