// Package mock is a deterministic in-memory runtime.Driver, used by
// Orchestrator-side tests in place of a real Docker daemon. Grounded on the
// teacher's test doubles under pkg/worker/containerRuntime (the package
// exposes a ContainerRuntime interface specifically so tests can swap in a
// fake), generalized to the spec's Driver contract.
package mock

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/esb-platform/esb/pkg/orchestrator/runtime"
)

// Runtime is a fake container runtime: Create/Start/Pause/Resume/Remove
// mutate an in-memory table instead of talking to Docker. Each created
// container gets a real loopback listener serving a trivial 200-OK
// handler, so WaitReady's TCP-dial-then-HTTP-ping probe has something
// genuine to reach instead of a synthesized address nothing answers on.
type Runtime struct {
	mu         sync.Mutex
	containers map[string]*runtime.Info
	listeners  map[string]net.Listener

	// FailNextCreate, when true, makes the next Create call return an
	// error instead of succeeding. Tests use this to exercise cold-path
	// failure handling in the EnsureRPC handler.
	FailNextCreate atomic.Bool
}

// New builds an empty mock runtime.
func New() *Runtime {
	return &Runtime{
		containers: make(map[string]*runtime.Info),
		listeners:  make(map[string]net.Listener),
	}
}

func (r *Runtime) EnsureImage(ctx context.Context, ref string) error {
	return nil
}

func (r *Runtime) Create(ctx context.Context, spec runtime.Spec) (string, error) {
	if r.FailNextCreate.CompareAndSwap(true, false) {
		return "", fmt.Errorf("mock: simulated create failure")
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", fmt.Errorf("mock: listen: %w", err)
	}
	srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})}
	go srv.Serve(ln)

	r.mu.Lock()
	defer r.mu.Unlock()
	id := fmt.Sprintf("mock-%d", len(r.containers)+1)
	r.containers[id] = &runtime.Info{
		ID:      id,
		State:   runtime.StateExited,
		Address: ln.Addr().String(),
		Labels:  spec.Labels,
	}
	r.listeners[id] = ln
	return id, nil
}

func (r *Runtime) Start(ctx context.Context, id string) error {
	return r.transition(id, runtime.StateRunning)
}

func (r *Runtime) Pause(ctx context.Context, id string) error {
	return r.transition(id, runtime.StatePaused)
}

func (r *Runtime) Resume(ctx context.Context, id string) error {
	return r.transition(id, runtime.StateRunning)
}

func (r *Runtime) Remove(ctx context.Context, id string, force bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.containers[id]; !ok {
		return runtime.ErrNotFound
	}
	if ln, ok := r.listeners[id]; ok {
		_ = ln.Close()
		delete(r.listeners, id)
	}
	delete(r.containers, id)
	return nil
}

func (r *Runtime) Inspect(ctx context.Context, id string) (runtime.Info, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.containers[id]
	if !ok {
		return runtime.Info{}, runtime.ErrNotFound
	}
	return *info, nil
}

func (r *Runtime) List(ctx context.Context, labelSelector map[string]string) ([]runtime.Info, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]runtime.Info, 0, len(r.containers))
	for _, info := range r.containers {
		if matchesLabels(info.Labels, labelSelector) {
			out = append(out, *info)
		}
	}
	return out, nil
}

func (r *Runtime) transition(id string, state runtime.ContainerState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.containers[id]
	if !ok {
		return runtime.ErrNotFound
	}
	info.State = state
	return nil
}

func matchesLabels(have, want map[string]string) bool {
	for k, v := range want {
		if have[k] != v {
			return false
		}
	}
	return true
}
