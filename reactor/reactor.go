// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral readiness reactor interface.

package reactor

// FDEventType is a bit set of readiness conditions.
type FDEventType uint32

const (
	// EventRead reports readable data, a pending accept or the peer's EOF.
	EventRead FDEventType = 1 << iota
	// EventWrite reports free space in the socket send buffer.
	EventWrite
	// EventError reports an error or hang-up on the descriptor.
	EventError
)

// FDCallback is invoked on the polling goroutine for every ready descriptor.
type FDCallback func(fd int, events FDEventType)

// Reactor multiplexes readiness of many descriptors onto one polling
// goroutine. Register, Modify, Unregister and Wake may be called from any
// goroutine; Poll must be called from exactly one.
type Reactor interface {
	// Register starts watching fd for events and routes readiness to cb.
	Register(fd int, events FDEventType, cb FDCallback) error
	// Modify replaces the interest set of a registered fd.
	Modify(fd int, events FDEventType) error
	// Unregister stops watching fd. It does not close it.
	Unregister(fd int) error
	// Poll waits up to timeoutMs (negative blocks) and dispatches callbacks.
	// It returns the number of descriptors dispatched.
	Poll(timeoutMs int) (int, error)
	// Wake interrupts a blocked Poll.
	Wake() error
	// Close releases the reactor's own descriptors.
	Close() error
}
