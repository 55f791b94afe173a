// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Runtime metrics collector for broker monitoring.
// Counters are lock-free once registered; gauges are set wholesale.

package control

import (
	"sync"
	"sync/atomic"
	"time"
)

// Well-known broker metric names.
const (
	MetricConnectionsAccepted = "connections.accepted"
	MetricConnectionsActive   = "connections.active"
	MetricFramesIn            = "frames.in"
	MetricFramesOut           = "frames.out"
	MetricErrorsSent          = "errors.sent"
	MetricMessagesPublished   = "messages.published"
)

// MetricsRegistry holds counters and arbitrary gauge values.
type MetricsRegistry struct {
	mu       sync.RWMutex
	counters map[string]*atomic.Int64
	gauges   map[string]any
	updated  atomic.Int64 // unix nanos
}

// NewMetricsRegistry creates a registry with the broker counters at zero.
func NewMetricsRegistry() *MetricsRegistry {
	mr := &MetricsRegistry{
		counters: make(map[string]*atomic.Int64),
		gauges:   make(map[string]any),
	}
	for _, name := range []string{
		MetricConnectionsAccepted, MetricConnectionsActive, MetricFramesIn,
		MetricFramesOut, MetricErrorsSent, MetricMessagesPublished,
	} {
		mr.counters[name] = new(atomic.Int64)
	}
	return mr
}

func (mr *MetricsRegistry) counter(name string) *atomic.Int64 {
	mr.mu.RLock()
	c, ok := mr.counters[name]
	mr.mu.RUnlock()
	if ok {
		return c
	}
	mr.mu.Lock()
	defer mr.mu.Unlock()
	if c, ok = mr.counters[name]; !ok {
		c = new(atomic.Int64)
		mr.counters[name] = c
	}
	return c
}

// Add adds delta to the named counter, creating it on first use.
func (mr *MetricsRegistry) Add(name string, delta int64) {
	mr.counter(name).Add(delta)
	mr.updated.Store(time.Now().UnixNano())
}

// Inc adds one to the named counter.
func (mr *MetricsRegistry) Inc(name string) {
	mr.Add(name, 1)
}

// Counter returns the current value of a counter, zero when unknown.
func (mr *MetricsRegistry) Counter(name string) int64 {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	if c, ok := mr.counters[name]; ok {
		return c.Load()
	}
	return 0
}

// Set sets or updates a gauge key.
func (mr *MetricsRegistry) Set(key string, value any) {
	mr.mu.Lock()
	mr.gauges[key] = value
	mr.mu.Unlock()
	mr.updated.Store(time.Now().UnixNano())
}

// UpdatedAt reports when any metric last changed.
func (mr *MetricsRegistry) UpdatedAt() time.Time {
	n := mr.updated.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// GetSnapshot returns the latest counters and gauges in one map.
func (mr *MetricsRegistry) GetSnapshot() map[string]any {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	out := make(map[string]any, len(mr.counters)+len(mr.gauges))
	for k, v := range mr.gauges {
		out[k] = v
	}
	for k, c := range mr.counters {
		out[k] = c.Load()
	}
	return out
}
