// Package orchestrator wires LifecycleStore and the EnsureRPC handler into
// the Orchestrator's internal HTTP surface (spec §6): POST
// /containers/{ensure,heartbeat,evict}. AdoptSync and the Reaper are run
// around this server by cmd/orchestrator, not by this package. Grounded on the
// teacher's pkg/leaf/api.API (plain net/http handlers wrapping the
// control-plane core), adapted from the teacher's gRPC controller surface
// to JSON-over-HTTP per the spec's "HTTP or gRPC-equivalent" allowance.
package orchestrator

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/esb-platform/esb/pkg/esberrors"
	"github.com/esb-platform/esb/pkg/obs/metrics"
	"github.com/esb-platform/esb/pkg/orchestrator/ensure"
	"github.com/esb-platform/esb/pkg/orchestrator/hoststats"
	"github.com/esb-platform/esb/pkg/orchestrator/lifecycle"
	"github.com/esb-platform/esb/pkg/orchestrator/portalloc"
	"github.com/esb-platform/esb/pkg/orchestrator/runtime"
	"github.com/esb-platform/esb/pkg/reqid"
	"github.com/esb-platform/esb/pkg/routing"
)

// Server is the Orchestrator's internal RPC surface.
type Server struct {
	store   *lifecycle.Store
	driver  runtime.Driver
	table   *routing.Table
	ensure  *ensure.Handler
	metrics *metrics.Counters
	logger  *slog.Logger
}

// New builds a Server. coldStartTimeout bounds EnsureRPC's cold-start
// readiness wait. ports is nil unless the runtime backend needs explicit
// host-port assignment (spec §5 "Port allocator").
func New(store *lifecycle.Store, driver runtime.Driver, table *routing.Table, ports *portalloc.Allocator, coldStartTimeout time.Duration, logger *slog.Logger) *Server {
	return &Server{
		store:   store,
		driver:  driver,
		table:   table,
		ensure:  ensure.New(store, driver, table, ports, coldStartTimeout, logger),
		metrics: metrics.New(),
		logger:  logger,
	}
}

// Routes registers the Orchestrator's internal RPC handlers on mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /containers/ensure", s.handleEnsure)
	mux.HandleFunc("POST /containers/heartbeat", s.handleHeartbeat)
	mux.HandleFunc("POST /containers/evict", s.handleEvict)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /debug/vars", s.handleDebugVars)
}

func (s *Server) handleDebugVars(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap, err := hoststats.Read(r.Context())
	if err != nil {
		s.logger.Warn("health: host stats unavailable", "error", err)
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":               "ok",
		"host_memory_used_pct": snap.UsedPercent,
		"host_memory_available": snap.AvailableBytes,
	})
}

func (s *Server) handleEnsure(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FunctionName string `json:"function_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	id := r.Header.Get(reqid.Header)
	ctx := r.Context()
	if id != "" {
		ctx = reqid.WithContext(ctx, id)
		s.logger.Debug("ensure requested", "request_id", id, "function", req.FunctionName)
	}

	result, err := s.ensure.Ensure(ctx, req.FunctionName)
	if err != nil {
		s.metrics.Inc("ensure_failed_total", 1)
		s.writeEnsureError(w, err)
		return
	}
	s.metrics.Inc("ensure_ok_total", 1)

	writeJSON(w, http.StatusOK, map[string]string{
		"container_id": result.ContainerID,
		"address":      result.Address,
	})
}

func (s *Server) writeEnsureError(w http.ResponseWriter, err error) {
	switch err {
	case esberrors.ErrNotFound:
		http.Error(w, err.Error(), http.StatusNotFound)
	case esberrors.ErrAtCapacity:
		if snap, statErr := hoststats.Read(context.Background()); statErr == nil {
			s.logger.Info("ensure: at capacity", "host_memory_used_pct", snap.UsedPercent)
		}
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		s.logger.Error("ensure failed", "error", err)
		http.Error(w, "provisioning failed", http.StatusServiceUnavailable)
	}
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs []string `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	now := time.Now()
	for _, id := range req.IDs {
		s.touchByContainerID(id, now)
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) touchByContainerID(id string, now time.Time) {
	if fn, ok := s.store.FunctionFor(id); ok {
		s.store.Touch(fn, id, now)
	}
}

func (s *Server) handleEvict(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ContainerID string `json:"container_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	if fn, ok := s.store.FunctionFor(req.ContainerID); ok {
		rec, _ := s.store.Get(fn, req.ContainerID)
		s.store.SetState(fn, req.ContainerID, lifecycle.Stopping)
		if err := s.driver.Remove(r.Context(), req.ContainerID, true); err != nil && err != runtime.ErrNotFound {
			s.logger.Warn("evict: failed to remove container", "container_id", req.ContainerID, "error", err)
		}
		s.store.Remove(fn, req.ContainerID)
		s.ensure.ReleasePort(rec.HostPort)
		s.metrics.Inc("evicted_total", 1)
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
