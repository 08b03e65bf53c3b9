// Package ensure implements the Orchestrator's EnsureRPC handler (spec
// §4.7): the idempotent "container for function F is running and ready"
// operation, with per-function coalescing so concurrent callers share one
// in-flight provision. Grounded on the teacher's function_controller.go
// (the same warm/cold-path branching, minus the gRPC call shape), using
// golang.org/x/sync/singleflight in place of the teacher's hand-rolled
// per-function mutex+condition-variable coalescing for the exact
// "first caller does the work, followers await the result" semantics
// spec §5 requires.
package ensure

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/esb-platform/esb/pkg/esberrors"
	"github.com/esb-platform/esb/pkg/orchestrator/lifecycle"
	"github.com/esb-platform/esb/pkg/orchestrator/portalloc"
	"github.com/esb-platform/esb/pkg/orchestrator/runtime"
	"github.com/esb-platform/esb/pkg/routing"
)

// Result is what a successful Ensure call returns to the Gateway.
type Result struct {
	ContainerID string
	Address     string
}

// Handler implements the EnsureRPC.
type Handler struct {
	store            *lifecycle.Store
	driver           runtime.Driver
	table            *routing.Table
	ports            *portalloc.Allocator
	coldStartTimeout time.Duration
	logger           *slog.Logger

	flight singleflight.Group
}

// New builds an EnsureRPC handler. ports is nil when the runtime backend
// assigns its own host ports (e.g. Docker's default ephemeral binding);
// when non-nil, coldStart draws a host port from it for every new
// container and returns it on removal.
func New(store *lifecycle.Store, driver runtime.Driver, table *routing.Table, ports *portalloc.Allocator, coldStartTimeout time.Duration, logger *slog.Logger) *Handler {
	return &Handler{store: store, driver: driver, table: table, ports: ports, coldStartTimeout: coldStartTimeout, logger: logger}
}

// Ensure resolves functionName to a ready container, creating one if
// necessary. Concurrent calls for the same function coalesce onto a
// single in-flight operation (spec §4.7, §5).
func (h *Handler) Ensure(ctx context.Context, functionName string) (Result, error) {
	v, err, _ := h.flight.Do(functionName, func() (any, error) {
		return h.ensureOnce(context.WithoutCancel(ctx), functionName)
	})
	if err != nil {
		return Result{}, err
	}
	return v.(Result), nil
}

func (h *Handler) ensureOnce(ctx context.Context, functionName string) (Result, error) {
	now := time.Now()

	// Warm path: an existing READY or IDLE container.
	if rec, ok := h.store.FindWarm(functionName); ok {
		h.store.Touch(functionName, rec.ID, now)
		return Result{ContainerID: rec.ID, Address: rec.Address}, nil
	}

	// Paused path: resume rather than create.
	if rec, ok := h.store.FindPaused(functionName); ok {
		if err := h.driver.Resume(ctx, rec.ID); err != nil {
			return Result{}, fmt.Errorf("resume container %s: %w", rec.ID, err)
		}
		info, err := h.driver.Inspect(ctx, rec.ID)
		if err != nil {
			return Result{}, fmt.Errorf("inspect resumed container %s: %w", rec.ID, err)
		}
		h.store.SetAddress(functionName, rec.ID, info.Address)
		h.store.SetState(functionName, rec.ID, lifecycle.Ready)
		h.store.Touch(functionName, rec.ID, now)
		return Result{ContainerID: rec.ID, Address: info.Address}, nil
	}

	fn := h.table.Function(functionName)
	if fn == nil {
		return Result{}, esberrors.ErrNotFound
	}

	if h.store.CountActive(functionName) >= fn.Capacity() {
		return Result{}, esberrors.ErrAtCapacity
	}

	return h.coldStart(ctx, fn, now)
}

// coldStart creates, starts and waits for readiness on a brand-new
// container, rolling back on any failed step using a context detached
// from the caller's cancellation (spec §4.7, §5).
func (h *Handler) coldStart(ctx context.Context, fn *routing.Function, now time.Time) (Result, error) {
	if err := h.driver.EnsureImage(ctx, fn.ImageRef); err != nil {
		return Result{}, fmt.Errorf("ensure image %s: %w", fn.ImageRef, err)
	}

	labels := map[string]string{"created_by": "esb", "esb_function": fn.Name}
	spec := runtime.Spec{
		Image:  fn.ImageRef,
		Env:    fn.Env,
		Labels: labels,
	}

	var hostPort int
	if h.ports != nil {
		p, err := h.ports.Acquire()
		if err != nil {
			return Result{}, fmt.Errorf("acquire host port: %w", err)
		}
		hostPort = p
		spec.HostPort = p
	}

	id, err := h.driver.Create(ctx, spec)
	if err != nil {
		if h.ports != nil {
			h.ports.Release(hostPort)
		}
		if err == runtime.ErrConflict {
			return h.adoptExisting(ctx, fn, now)
		}
		return Result{}, fmt.Errorf("create container: %w", err)
	}

	h.store.Put(lifecycle.Record{
		ID:           id,
		FunctionName: fn.Name,
		State:        lifecycle.Provisioning,
		CreatedAt:    now,
		LastUsedAt:   now,
		Labels:       labels,
		HostPort:     hostPort,
	})

	if err := h.driver.Start(ctx, id); err != nil {
		h.rollback(id, hostPort)
		return Result{}, fmt.Errorf("start container %s: %w", id, err)
	}

	info, err := runtime.WaitReady(ctx, h.driver, id, h.coldStartTimeout)
	if err != nil {
		h.rollback(id, hostPort)
		return Result{}, fmt.Errorf("container %s did not become ready: %w", id, err)
	}

	h.store.SetAddress(fn.Name, id, info.Address)
	h.store.SetState(fn.Name, id, lifecycle.Ready)
	h.store.Touch(fn.Name, id, now)

	return Result{ContainerID: id, Address: info.Address}, nil
}

// ReleasePort returns hostPort to the port allocator, if one is configured.
// Callers that remove a container outside of Ensure's own rollback path
// (Reaper, the evict RPC) use this to keep the allocator's free list
// accurate.
func (h *Handler) ReleasePort(hostPort int) {
	if h.ports != nil && hostPort != 0 {
		h.ports.Release(hostPort)
	}
}

// adoptExisting handles the 409/Conflict path: a container with our
// chosen name already exists, presumably ours from a prior crashed
// attempt. Inspect and adopt it if it is ours and alive, else fail.
func (h *Handler) adoptExisting(ctx context.Context, fn *routing.Function, now time.Time) (Result, error) {
	infos, err := h.driver.List(ctx, map[string]string{"esb_function": fn.Name})
	if err != nil || len(infos) == 0 {
		return Result{}, esberrors.ErrProvisionFailed
	}
	info := infos[0]
	if info.State != runtime.StateRunning || info.Address == "" {
		return Result{}, esberrors.ErrProvisionFailed
	}
	h.store.Put(lifecycle.Record{
		ID:           info.ID,
		FunctionName: fn.Name,
		Address:      info.Address,
		State:        lifecycle.Ready,
		CreatedAt:    now,
		LastUsedAt:   now,
		Labels:       info.Labels,
	})
	return Result{ContainerID: info.ID, Address: info.Address}, nil
}

// rollback performs best-effort cleanup of a failed provision using a
// context detached from caller cancellation, so a cancelled client
// request never leaks a half-created container or a leased host port
// (spec §4.7, §5).
func (h *Handler) rollback(id string, hostPort int) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := h.driver.Remove(ctx, id, true); err != nil {
		h.logger.Warn("rollback: failed to remove container", "container_id", id, "error", err)
	}
	if h.ports != nil {
		h.ports.Release(hostPort)
	}
}
