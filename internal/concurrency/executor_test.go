package concurrency

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutor_RunsTasks(t *testing.T) {
	e := NewExecutor(4)
	defer e.Close()

	const n = 1000
	var wg sync.WaitGroup
	var count atomic.Int64
	wg.Add(n)
	for i := 0; i < n; i++ {
		require.NoError(t, e.Submit(func() {
			count.Add(1)
			wg.Done()
		}))
	}
	wg.Wait()
	assert.Equal(t, int64(n), count.Load())
	assert.Equal(t, 4, e.NumWorkers())
}

func TestExecutor_DefaultsToNumCPU(t *testing.T) {
	e := NewExecutor(0)
	defer e.Close()
	assert.Positive(t, e.NumWorkers())
}

func TestExecutor_SurvivesPanics(t *testing.T) {
	e := NewExecutor(1)
	defer e.Close()

	require.NoError(t, e.Submit(func() { panic("boom") }))
	done := make(chan struct{})
	require.NoError(t, e.Submit(func() { close(done) }))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not survive a panicking task")
	}
	assert.Eventually(t, func() bool { return e.Stats()["panics"] == 1 }, time.Second, 5*time.Millisecond)
}

func TestExecutor_CloseDrainsAndRejects(t *testing.T) {
	e := NewExecutor(2)
	var ran atomic.Int64
	for i := 0; i < 50; i++ {
		require.NoError(t, e.Submit(func() { ran.Add(1) }))
	}
	e.Close()
	assert.Equal(t, int64(50), ran.Load())

	assert.ErrorIs(t, e.Submit(func() {}), ErrExecutorClosed)
	assert.ErrorIs(t, e.Submit(nil), ErrNilTask)

	st := e.Stats()
	assert.Equal(t, int64(50), st["total_tasks"])
	assert.Equal(t, int64(50), st["completed_tasks"])
	assert.Zero(t, st["pending_tasks"])

	e.Close() // idempotent
}
