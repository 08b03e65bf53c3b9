// Package adoptsync implements the Orchestrator's startup reconciliation
// against the container runtime (spec §4.10): since the control plane is
// stateless across restarts, every esb-managed container found running is
// adopted into a fresh LifecycleStore, and every exited one is cleaned up.
// Grounded on the teacher's SmallState reconciler (pkg/leaf/state) and
// worker startup sequence (cmd/workerNode/main.go), generalized from a
// periodic scrape to a one-shot run-before-serving reconciliation walking
// runtime.Driver.List rather than a durable store.
package adoptsync

import (
	"context"
	"log/slog"
	"time"

	"github.com/esb-platform/esb/pkg/orchestrator/lifecycle"
	"github.com/esb-platform/esb/pkg/orchestrator/runtime"
)

// Result summarizes one AdoptSync pass, for the startup log line.
type Result struct {
	Adopted int
	Removed int
}

// Run queries the runtime for every container bearing the created_by=esb
// label, inserts READY records for running ones and removes exited ones.
// Must complete before the Orchestrator begins serving EnsureRPC calls
// (spec §4.10).
func Run(ctx context.Context, driver runtime.Driver, store *lifecycle.Store, logger *slog.Logger) (Result, error) {
	infos, err := driver.List(ctx, map[string]string{"created_by": "esb"})
	if err != nil {
		return Result{}, err
	}

	var res Result
	now := time.Now()

	for _, info := range infos {
		fn := info.Labels["esb_function"]
		if fn == "" {
			continue
		}

		switch info.State {
		case runtime.StateRunning:
			store.Put(lifecycle.Record{
				ID:           info.ID,
				FunctionName: fn,
				Address:      info.Address,
				State:        lifecycle.Ready,
				CreatedAt:    now,
				LastUsedAt:   now,
				Labels:       info.Labels,
			})
			res.Adopted++
		case runtime.StateExited, runtime.StateUnknown:
			if err := driver.Remove(ctx, info.ID, true); err != nil && err != runtime.ErrNotFound {
				logger.Warn("adoptsync: failed to remove stale container", "container_id", info.ID, "error", err)
				continue
			}
			res.Removed++
		}
	}

	logger.Info("adoptsync complete", "adopted", res.Adopted, "removed", res.Removed)
	return res, nil
}
