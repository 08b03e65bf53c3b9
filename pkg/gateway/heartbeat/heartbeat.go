// Package heartbeat implements the Gateway's HeartbeatJanitor (spec §4.6): a
// single cooperative loop that periodically reports every container id this
// Gateway currently has checked out or cached, so the Orchestrator's Reaper
// does not reap containers whose only activity is Gateway-observed.
// Grounded on the teacher's SmallState.RunReconciler loop shape
// (pkg/leaf/state/reconciler.go), swapping the gRPC status stream for a
// simple periodic push.
package heartbeat

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Reporter sends a heartbeat report to the Orchestrator. Losing a report is
// tolerated (spec §4.6): errors are logged, not retried inline.
type Reporter interface {
	Heartbeat(ctx context.Context, ids []string) error
}

// InFlightSet tracks container ids currently checked out or cached by this
// Gateway.
type InFlightSet struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

// NewInFlightSet builds an empty set.
func NewInFlightSet() *InFlightSet {
	return &InFlightSet{ids: make(map[string]struct{})}
}

// Track marks id as in-flight (checked out or cached).
func (s *InFlightSet) Track(id string) {
	if id == "" {
		return
	}
	s.mu.Lock()
	s.ids[id] = struct{}{}
	s.mu.Unlock()
}

// Untrack removes id, e.g. once evicted or expired from the host cache.
func (s *InFlightSet) Untrack(id string) {
	s.mu.Lock()
	delete(s.ids, id)
	s.mu.Unlock()
}

// Snapshot returns every currently tracked id.
func (s *InFlightSet) Snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	return out
}

// Janitor runs the periodic heartbeat loop.
type Janitor struct {
	interval time.Duration
	set      *InFlightSet
	reporter Reporter
	logger   *slog.Logger
}

// New builds a Janitor at the given period (spec default HEARTBEAT_INTERVAL
// = 30s).
func New(interval time.Duration, set *InFlightSet, reporter Reporter, logger *slog.Logger) *Janitor {
	return &Janitor{interval: interval, set: set, reporter: reporter, logger: logger}
}

// Run blocks, sending a heartbeat every interval until ctx is done.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ids := j.set.Snapshot()
			if len(ids) == 0 {
				continue
			}
			reportCtx, cancel := context.WithTimeout(ctx, j.interval)
			if err := j.reporter.Heartbeat(reportCtx, ids); err != nil {
				j.logger.Warn("heartbeat report failed, will retry next tick", "error", err, "count", len(ids))
			}
			cancel()
		}
	}
}
