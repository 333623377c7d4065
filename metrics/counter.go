package metrics

import "sync/atomic"

// Counter is a monotonically increasing (or decreasing) int64 counter.
type Counter struct {
	value atomic.Int64
}

// Inc adds delta to the counter.
func (c *Counter) Inc(delta int64) { c.value.Add(delta) }

// Value returns the current counter value.
func (c *Counter) Value() int64 { return c.value.Load() }

// Gauge is a point-in-time int64 value that can move up or down.
type Gauge struct {
	value atomic.Int64
}

// Set stores v as the gauge's current value.
func (g *Gauge) Set(v int64) { g.value.Store(v) }

// Value returns the current gauge value.
func (g *Gauge) Value() int64 { return g.value.Load() }
