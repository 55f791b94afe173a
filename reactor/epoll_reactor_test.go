//go:build linux

package reactor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func socketPair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func newTestReactor(t *testing.T) Reactor {
	t.Helper()
	r, err := New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestEpoll_ReadReadiness(t *testing.T) {
	r := newTestReactor(t)
	a, b := socketPair(t)

	var got FDEventType
	calls := 0
	require.NoError(t, r.Register(a, EventRead, func(fd int, ev FDEventType) {
		assert.Equal(t, a, fd)
		got = ev
		calls++
	}))

	n, err := r.Poll(0)
	require.NoError(t, err)
	assert.Zero(t, n, "nothing to read yet")

	_, err = unix.Write(b, []byte("CONNECT\n\n\x00"))
	require.NoError(t, err)

	n, err = r.Poll(1000)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, calls)
	assert.NotZero(t, got&EventRead)
}

func TestEpoll_ModifyArmsWrite(t *testing.T) {
	r := newTestReactor(t)
	a, _ := socketPair(t)

	var got FDEventType
	require.NoError(t, r.Register(a, EventRead, func(_ int, ev FDEventType) { got = ev }))
	n, err := r.Poll(0)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, r.Modify(a, EventRead|EventWrite))
	n, err = r.Poll(1000)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NotZero(t, got&EventWrite)
}

func TestEpoll_UnregisterStopsCallbacks(t *testing.T) {
	r := newTestReactor(t)
	a, b := socketPair(t)

	called := false
	require.NoError(t, r.Register(a, EventRead, func(int, FDEventType) { called = true }))
	require.NoError(t, r.Unregister(a))

	_, err := unix.Write(b, []byte("x"))
	require.NoError(t, err)
	n, err := r.Poll(50)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.False(t, called)
}

func TestEpoll_HangupReportsError(t *testing.T) {
	r := newTestReactor(t)
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	require.NoError(t, err)
	defer unix.Close(fds[0])

	var got FDEventType
	require.NoError(t, r.Register(fds[0], EventRead, func(_ int, ev FDEventType) { got = ev }))
	require.NoError(t, unix.Close(fds[1]))

	_, err = r.Poll(1000)
	require.NoError(t, err)
	assert.NotZero(t, got&EventError)
}

func TestEpoll_HalfCloseIsReadable(t *testing.T) {
	r := newTestReactor(t)
	a, b := socketPair(t)

	var got FDEventType
	require.NoError(t, r.Register(a, EventRead, func(_ int, ev FDEventType) { got = ev }))
	require.NoError(t, unix.Shutdown(b, unix.SHUT_WR))

	n, err := r.Poll(1000)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NotZero(t, got&EventRead)
	assert.Zero(t, got&EventError)

	// dropping read interest silences the pending EOF
	require.NoError(t, r.Modify(a, 0))
	n, err = r.Poll(50)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEpoll_WakeInterruptsPoll(t *testing.T) {
	r := newTestReactor(t)
	done := make(chan struct{})
	go func() {
		defer close(done)
		n, err := r.Poll(-1)
		assert.NoError(t, err)
		assert.Zero(t, n)
	}()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, r.Wake())
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Wake did not interrupt Poll")
	}
}

func TestEpoll_PanickingCallbackIsContained(t *testing.T) {
	r := newTestReactor(t)
	a, b := socketPair(t)
	require.NoError(t, r.Register(a, EventRead, func(int, FDEventType) { panic("handler bug") }))
	_, err := unix.Write(b, []byte("x"))
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		_, err := r.Poll(1000)
		assert.NoError(t, err)
	})
}
