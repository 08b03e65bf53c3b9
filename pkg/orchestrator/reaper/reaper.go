// Package reaper implements the Orchestrator's idle-timeout sweeper (spec
// §4.9): a periodic background task that stops and removes containers
// that have sat idle too long, and flags apparently stuck ones. Grounded
// on the teacher's reconciler loop shape (pkg/leaf/state/reconciler.go,
// cmd/leafv2/main.go's periodic goroutines), generalized from a
// state-scraping reconciler to a store-driven sweep over LifecycleStore.
package reaper

import (
	"context"
	"log/slog"
	"time"

	"github.com/esb-platform/esb/pkg/orchestrator/lifecycle"
	"github.com/esb-platform/esb/pkg/orchestrator/portalloc"
	"github.com/esb-platform/esb/pkg/orchestrator/runtime"
)

// Reaper periodically sweeps the LifecycleStore for idle and stuck
// containers.
type Reaper struct {
	store           *lifecycle.Store
	driver          runtime.Driver
	ports           *portalloc.Allocator
	interval        time.Duration
	defaultIdle     time.Duration
	perFunctionIdle func(functionName string) time.Duration
	logger          *slog.Logger
}

// New builds a Reaper. perFunctionIdle, if non-nil, overrides defaultIdle
// per function (spec §3 function descriptor's idle_timeout_s). ports is
// nil unless the runtime backend needed an explicit host-port lease per
// container (spec §5 "Port allocator"), in which case a torn-down
// container's port is returned to the free pool.
func New(store *lifecycle.Store, driver runtime.Driver, ports *portalloc.Allocator, interval, defaultIdle time.Duration, perFunctionIdle func(string) time.Duration, logger *slog.Logger) *Reaper {
	return &Reaper{
		store:           store,
		driver:          driver,
		ports:           ports,
		interval:        interval,
		defaultIdle:     defaultIdle,
		perFunctionIdle: perFunctionIdle,
		logger:          logger,
	}
}

// Run blocks, sweeping every interval until ctx is done.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Reaper) sweep(ctx context.Context) {
	now := time.Now()
	for _, rec := range r.store.AllRecords() {
		idleTimeout := r.defaultIdle
		if r.perFunctionIdle != nil {
			if override := r.perFunctionIdle(rec.FunctionName); override > 0 {
				idleTimeout = override
			}
		}

		switch rec.State {
		case lifecycle.Idle, lifecycle.Paused:
			if now.Sub(rec.LastUsedAt) > idleTimeout {
				r.stopAndRemove(ctx, rec)
			}
		case lifecycle.Busy, lifecycle.Ready:
			stuckThreshold := idleTimeout * 4
			if now.Sub(rec.LastUsedAt) > stuckThreshold {
				r.logger.Warn("reaper: stuck container, tearing down",
					"container_id", rec.ID, "function", rec.FunctionName, "state", rec.State,
					"last_used_at", rec.LastUsedAt)
				r.stopAndRemove(ctx, rec)
			}
		}
	}
}

func (r *Reaper) stopAndRemove(ctx context.Context, rec lifecycle.Record) {
	r.store.SetState(rec.FunctionName, rec.ID, lifecycle.Stopping)
	if err := r.driver.Remove(ctx, rec.ID, true); err != nil && err != runtime.ErrNotFound {
		r.logger.Warn("reaper: failed to remove container", "container_id", rec.ID, "error", err)
		return
	}
	r.store.SetState(rec.FunctionName, rec.ID, lifecycle.Gone)
	r.store.Remove(rec.FunctionName, rec.ID)
	if r.ports != nil && rec.HostPort != 0 {
		r.ports.Release(rec.HostPort)
	}
}
