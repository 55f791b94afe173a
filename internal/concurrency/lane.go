// File: internal/concurrency/lane.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Lane runs the tasks of one connection on a shared executor strictly in
// submission order and never two at a time.

package concurrency

import (
	"log/slog"
	"sync"

	"github.com/eapache/queue"

	"github.com/momentics/hioload-stomp/api"
)

// Lane is a serial task queue multiplexed onto an api.Executor. At most one
// drain of a lane is scheduled on the executor at any time.
type Lane struct {
	exec api.Executor
	log  *slog.Logger

	mu      sync.Mutex
	pending *queue.Queue
	running bool
	closed  bool
}

// NewLane binds a lane to exec. A nil logger falls back to slog.Default.
func NewLane(exec api.Executor, log *slog.Logger) *Lane {
	if log == nil {
		log = slog.Default()
	}
	return &Lane{exec: exec, log: log, pending: queue.New()}
}

// Submit queues task behind every task submitted earlier.
func (l *Lane) Submit(task TaskFunc) error {
	if task == nil {
		return ErrNilTask
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrLaneClosed
	}
	l.pending.Add(task)
	if l.running {
		l.mu.Unlock()
		return nil
	}
	l.running = true
	l.mu.Unlock()
	return l.schedule()
}

// schedule hands a drain to the executor. On failure the queued tasks are
// dropped and the lane is closed, since nothing would ever run them.
func (l *Lane) schedule() error {
	if err := l.exec.Submit(l.drain); err != nil {
		l.mu.Lock()
		l.running = false
		l.closed = true
		l.pending = queue.New()
		l.mu.Unlock()
		return err
	}
	return nil
}

// drain runs tasks until the lane is empty. It never resubmits itself: a
// worker blocked on a full executor queue could otherwise stall the pool.
func (l *Lane) drain() {
	for {
		l.mu.Lock()
		if l.closed || l.pending.Length() == 0 {
			l.running = false
			l.mu.Unlock()
			return
		}
		task := l.pending.Remove().(TaskFunc)
		l.mu.Unlock()
		l.run(task)
	}
}

func (l *Lane) run(task TaskFunc) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("lane task panicked", "panic", r)
		}
	}()
	task()
}

// Len returns the number of queued tasks.
func (l *Lane) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pending.Length()
}

// Close discards queued tasks and rejects new ones. A task already running
// completes.
func (l *Lane) Close() {
	l.mu.Lock()
	l.closed = true
	l.pending = queue.New()
	l.mu.Unlock()
}
