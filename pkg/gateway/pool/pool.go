// Package pool implements the Gateway's per-function ContainerPool
// (spec §4.4): a semaphore of max_capacity permits, a LIFO idle stack for
// cache warmth, and a FIFO waiter queue for fairness under saturation.
// Grounded on the teacher's functionController.acquireSlot/enqueueWaiter/
// notifyWaiters (pkg/leaf/function_controller.go) for the mutex-guarded
// waiter-list shape, generalized from "pick a worker index" to "hand out a
// warm handle or a provisioning token".
package pool

import (
	"context"
	"time"

	"github.com/esb-platform/esb/pkg/esberrors"
)

// Handle is a short-lived reference to a specific container, obtained via
// Acquire and returned via Release or Evict (spec GLOSSARY).
type Handle struct {
	ContainerID string
	Address     string
}

// AcquireResult is returned by Acquire.
type AcquireResult struct {
	// Warm is set when idle reuse produced a handle directly.
	Warm *Handle
	// ProvisionToken is set when a permit was reserved but no warm handle
	// exists; the caller must call the Orchestrator's Ensure and then
	// Release or Evict the resulting handle like any other.
	ProvisionToken bool
}

type waiter struct {
	ch chan acquireOutcome
}

type acquireOutcome struct {
	handle *Handle
	token  bool
}

// Pool is one function's ContainerPool.
type Pool struct {
	maxCapacity int

	mu      chan struct{} // binary mutex, so Acquire's blocking wait can select on ctx.Done() cleanly
	idle    []*Handle
	inUse   int
	waiters []*waiter
}

// New creates a Pool. maxCapacity == 0 disables the function: Acquire
// returns esberrors.ErrDisabled immediately.
func New(maxCapacity int) *Pool {
	p := &Pool{
		maxCapacity: maxCapacity,
		mu:          make(chan struct{}, 1),
	}
	p.mu <- struct{}{}
	return p
}

func (p *Pool) lock()   { <-p.mu }
func (p *Pool) unlock() { p.mu <- struct{}{} }

// Acquire obtains a permit, following the order of checks in spec §4.4:
// (a) pop an idle warm handle if any, (b) reserve a permit and hand back a
// ProvisionToken if under capacity, (c) else enqueue as a FIFO waiter until
// woken, evicted, or ctx is done.
func (p *Pool) Acquire(ctx context.Context) (AcquireResult, error) {
	if p.maxCapacity == 0 {
		return AcquireResult{}, esberrors.ErrDisabled
	}

	p.lock()
	if n := len(p.idle); n > 0 {
		h := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.inUse++
		p.unlock()
		return AcquireResult{Warm: h}, nil
	}
	if p.inUse+len(p.idle) < p.maxCapacity {
		p.inUse++
		p.unlock()
		return AcquireResult{ProvisionToken: true}, nil
	}

	w := &waiter{ch: make(chan acquireOutcome, 1)}
	p.waiters = append(p.waiters, w)
	p.unlock()

	select {
	case out := <-w.ch:
		return AcquireResult{Warm: out.handle, ProvisionToken: out.token}, nil
	case <-ctx.Done():
		// ctx.Done() and w.ch can both become ready at once; select may
		// pick ctx.Done() even though Release/Evict already handed this
		// waiter a permit. removeWaiter re-checks w.ch under the same lock
		// it uses to scan the waiter list, so a handover that already
		// happened is never silently dropped (mirrors
		// golang.org/x/sync/semaphore.Weighted.Acquire's same race).
		if out, handedOver := p.removeWaiter(w); handedOver {
			return AcquireResult{Warm: out.handle, ProvisionToken: out.token}, nil
		}
		return AcquireResult{}, esberrors.ErrAcquireTimedOut
	}
}

// AcquireTimeout is a convenience wrapper applying a deadline (default
// POOL_ACQUIRE_TIMEOUT).
func (p *Pool) AcquireTimeout(parent context.Context, timeout time.Duration) (AcquireResult, error) {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	return p.Acquire(ctx)
}

// removeWaiter drops target from the waiter queue if it is still queued.
// If it is not — Release or Evict already popped it and handed it a
// permit via w.ch — that outcome is read back here (non-blockingly, but
// guaranteed present: the handover's send always happens before the
// handover's unlock, which always happens before this lock is granted)
// so the caller can honor it instead of reporting a timeout that would
// otherwise strand the permit forever.
func (p *Pool) removeWaiter(target *waiter) (acquireOutcome, bool) {
	p.lock()
	defer p.unlock()
	for i, w := range p.waiters {
		if w == target {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			return acquireOutcome{}, false
		}
	}
	select {
	case out := <-target.ch:
		return out, true
	default:
		return acquireOutcome{}, false
	}
}

// Release returns handle to the pool. If a waiter is queued, the slot is
// handed to it directly (never touching the idle stack), preserving FIFO
// fairness; otherwise it goes on top of the LIFO idle stack for cache
// warmth.
func (p *Pool) Release(handle *Handle) {
	p.lock()
	defer p.unlock()

	if w, ok := p.popWaiter(); ok {
		// slot handover: inUse stays the same, ownership transfers to the waiter.
		w.ch <- acquireOutcome{handle: handle}
		return
	}
	p.inUse--
	p.idle = append(p.idle, handle)
}

// Evict frees the permit without returning the handle to the idle stack —
// used when the handle's worker is known unhealthy. The freed permit still
// wakes a waiter (as a ProvisionToken, since there's no live handle to hand
// over).
func (p *Pool) Evict(*Handle) {
	p.lock()
	defer p.unlock()

	if w, ok := p.popWaiter(); ok {
		w.ch <- acquireOutcome{token: true}
		return
	}
	p.inUse--
}

// popWaiter must be called with the pool locked.
func (p *Pool) popWaiter() (*waiter, bool) {
	if len(p.waiters) == 0 {
		return nil, false
	}
	w := p.waiters[0]
	p.waiters = p.waiters[1:]
	return w, true
}

// InFlight returns the number of permits currently checked out (BUSY +
// PROVISIONING, i.e. not idle), for invariant checks and tests.
func (p *Pool) InFlight() int {
	p.lock()
	defer p.unlock()
	return p.inUse
}

// IdleCount returns the number of idle warm handles.
func (p *Pool) IdleCount() int {
	p.lock()
	defer p.unlock()
	return len(p.idle)
}

// WaiterCount returns the number of queued waiters.
func (p *Pool) WaiterCount() int {
	p.lock()
	defer p.unlock()
	return len(p.waiters)
}

// MaxCapacity returns the configured capacity.
func (p *Pool) MaxCapacity() int { return p.maxCapacity }
