// Package breaker implements the Gateway's per-function CircuitBreaker
// (spec §4.3): CLOSED/OPEN/HALF_OPEN, guarded by a per-function mutex with
// lock-free atomic reads while CLOSED. Grounded on the teacher's
// dataplane/net.Breaker for the "atomic fast path, mutex on state
// transition" split, though the failure-counting state machine here has no
// analogue in the teacher (that Breaker is a concurrency limiter, not a
// failure detector) and is built from spec.md §4.3 directly.
package breaker

import (
	"sync"
	"sync/atomic"
	"time"
)

// State is one of CLOSED, OPEN, HALF_OPEN.
type State int32

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Open:
		return "OPEN"
	case HalfOpen:
		return "HALF_OPEN"
	default:
		return "CLOSED"
	}
}

// Params configures a Breaker.
type Params struct {
	Threshold       int           // consecutive failures before opening
	RecoveryTimeout time.Duration // time in OPEN before allowing a probe
}

// Breaker is a single function's circuit breaker.
type Breaker struct {
	params Params
	now    func() time.Time

	state atomic.Int32 // fast-path read while CLOSED

	mu                 sync.Mutex
	consecutiveFailures int
	openedAt           time.Time
	probeInFlight      bool
}

// New creates a Breaker in the CLOSED state.
func New(params Params) *Breaker {
	if params.Threshold <= 0 {
		params.Threshold = 5
	}
	if params.RecoveryTimeout <= 0 {
		params.RecoveryTimeout = 30 * time.Second
	}
	return &Breaker{params: params, now: time.Now}
}

// Allow reports whether a call should be forwarded upstream right now, and
// if so whether this call is the single HALF_OPEN probe (the caller must
// report its outcome via ProbeSuccess/ProbeFailure instead of
// Success/Failure when isProbe is true).
func (b *Breaker) Allow() (allowed bool, isProbe bool) {
	if State(b.state.Load()) == Closed {
		return true, false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch State(b.state.Load()) {
	case Closed:
		return true, false
	case Open:
		if b.now().Sub(b.openedAt) < b.params.RecoveryTimeout {
			return false, false
		}
		// Recovery timeout elapsed: transition to HALF_OPEN and admit one probe.
		b.state.Store(int32(HalfOpen))
		b.probeInFlight = true
		return true, true
	case HalfOpen:
		if b.probeInFlight {
			return false, false
		}
		b.probeInFlight = true
		return true, true
	}
	return false, false
}

// Success records a non-probe success: resets the failure counter.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFailures = 0
}

// Failure records a non-probe failure. Only 5xx / network-level / a
// Lambda-system-error trip the breaker; client 4xx must not be passed here.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFailures++
	if State(b.state.Load()) == Closed && b.consecutiveFailures >= b.params.Threshold {
		b.trip()
	}
}

// ProbeSuccess closes the breaker after a successful HALF_OPEN probe.
func (b *Breaker) ProbeSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFailures = 0
	b.probeInFlight = false
	b.state.Store(int32(Closed))
}

// ProbeFailure re-opens the breaker after a failed HALF_OPEN probe.
func (b *Breaker) ProbeFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probeInFlight = false
	b.trip()
}

// trip must be called with mu held.
func (b *Breaker) trip() {
	b.openedAt = b.now()
	b.state.Store(int32(Open))
}

// State returns the current state for observability.
func (b *Breaker) State() State {
	return State(b.state.Load())
}
