// Package portalloc allocates host ports for containers attached in
// containerd-NAT mode (spec §5 "Port allocator"), released on container
// removal and safe under concurrent Ensure calls. Grounded on the
// teacher's general pattern of small mutex-guarded free-list allocators
// (pkg/lb and pkg/worker use plain maps behind a mutex for similar
// bookkeeping); no single teacher file does this directly so the shape
// here is an in-use set plus a round-robin cursor behind a sync.Mutex, the
// idiomatic choice already used throughout the teacher's package set.
package portalloc

import (
	"fmt"
	"sync"
)

// Allocator hands out host ports from [lo, hi], tracking which are
// currently in use.
type Allocator struct {
	mu       sync.Mutex
	lo, hi   int
	next     int
	inUse    map[int]struct{}
}

// New builds an Allocator over the inclusive range [lo, hi].
func New(lo, hi int) *Allocator {
	return &Allocator{lo: lo, hi: hi, next: lo, inUse: make(map[int]struct{})}
}

// Acquire returns the first free port at or after the cursor, wrapping
// around the range. A released port is not handed out again until the
// cursor comes back round to it.
func (a *Allocator) Acquire() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := 0; i <= a.hi-a.lo; i++ {
		candidate := a.lo + (a.next-a.lo+i)%(a.hi-a.lo+1)
		if _, taken := a.inUse[candidate]; !taken {
			a.inUse[candidate] = struct{}{}
			a.next = candidate + 1
			return candidate, nil
		}
	}
	return 0, fmt.Errorf("portalloc: no free port in range [%d, %d]", a.lo, a.hi)
}

// Release returns port to the free pool.
func (a *Allocator) Release(port int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.inUse, port)
}
