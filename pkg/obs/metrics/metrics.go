// Package metrics is a tiny in-memory counter registry. The core FaaS repos
// in the retrieval pack only wire a Prometheus client into scheduler-level
// concerns outside this core's scope, so a dependency-free counter map
// (in the teacher's own stats-event spirit, pkg/stats) is grounded instead
// of pulling in client_golang for a handful of counters.
package metrics

import (
	"sync"
	"sync/atomic"
)

// Counters is a set of named atomic counters, safe for concurrent use.
type Counters struct {
	values sync.Map
}

// New returns an empty counter set.
func New() *Counters {
	return &Counters{}
}

// Inc increments the named counter by delta (delta may be negative).
func (c *Counters) Inc(name string, delta int64) {
	v, _ := c.values.LoadOrStore(name, new(int64))
	atomic.AddInt64(v.(*int64), delta)
}

// Snapshot returns a point-in-time copy of every counter's value.
func (c *Counters) Snapshot() map[string]int64 {
	out := make(map[string]int64)
	c.values.Range(func(key, value any) bool {
		out[key.(string)] = atomic.LoadInt64(value.(*int64))
		return true
	})
	return out
}
