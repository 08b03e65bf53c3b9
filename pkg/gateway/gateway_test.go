package gateway

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/esb-platform/esb/pkg/gateway/orchclient"
	"github.com/esb-platform/esb/pkg/routing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func addrOf(srv *httptest.Server) string {
	return strings.TrimPrefix(srv.URL, "http://")
}

func newTestContext(t *testing.T, worker *httptest.Server, orch *httptest.Server, cfg Config) *Context {
	t.Helper()
	one := 1
	tbl := &routing.Table{Functions: []routing.Function{
		{Name: "hello", MaxCapacity: &one, InvokeTimeoutMs: 2000},
	}}
	client := orchclient.New(orch.URL, time.Second)
	return NewContext(cfg, tbl, client, testLogger())
}

func defaultConfig() Config {
	return Config{
		ContainerCacheTTL:       time.Minute,
		PoolAcquireTimeout:      100 * time.Millisecond,
		CircuitBreakerThreshold: 5,
		CircuitBreakerRecovery:  time.Second,
		HeartbeatInterval:       time.Second,
		InvokeTimeoutDefault:    time.Second,
		EnableContainerPooling:  true,
	}
}

func TestInvoke_ColdStartThenWarmReuse(t *testing.T) {
	worker := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("hi"))
	}))
	defer worker.Close()

	ensureCalls := 0
	orch := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ensureCalls++
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(orchclient.EnsureResponse{ContainerID: "c1", Address: addrOf(worker)})
	}))
	defer orch.Close()

	c := newTestContext(t, worker, orch, defaultConfig())

	req := httptest.NewRequest(http.MethodGet, "/api/hello", nil)
	rec := httptest.NewRecorder()
	require.NoError(t, c.Invoke(rec, req, "hello"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, ensureCalls)

	// Second call reuses the warm handle: pool is capacity 1, so the first
	// call must have released it back before this one can proceed.
	req2 := httptest.NewRequest(http.MethodGet, "/api/hello", nil)
	rec2 := httptest.NewRecorder()
	require.NoError(t, c.Invoke(rec2, req2, "hello"))
	assert.Equal(t, http.StatusOK, rec2.Code)
	assert.Equal(t, 1, ensureCalls, "warm reuse must not call Ensure again")
}

func TestInvoke_HostCacheHitSkipsEnsureOnFreshPermit(t *testing.T) {
	worker := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer worker.Close()

	ensureCalls := 0
	orch := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ensureCalls++
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(orchclient.EnsureResponse{ContainerID: "c1", Address: addrOf(worker)})
	}))
	defer orch.Close()

	ten := 10
	tbl := &routing.Table{Functions: []routing.Function{{Name: "hello", MaxCapacity: &ten, InvokeTimeoutMs: 2000}}}
	client := orchclient.New(orch.URL, time.Second)
	c := NewContext(defaultConfig(), tbl, client, testLogger())

	// Pre-populate the host cache so the first ever acquire (a fresh
	// ProvisionToken, not a warm handle) resolves without calling Ensure.
	c.HostCache.Put("hello", addrOf(worker))

	req := httptest.NewRequest(http.MethodGet, "/api/hello", nil)
	rec := httptest.NewRecorder()
	require.NoError(t, c.Invoke(rec, req, "hello"))
	assert.Equal(t, 0, ensureCalls, "a hit in the host cache must short-circuit Ensure")
}

func TestInvoke_ServerErrorInvalidatesHostCacheAndEvictsUpstream(t *testing.T) {
	worker := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer worker.Close()

	evicted := make(chan string, 1)
	orch := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/containers/evict" {
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			evicted <- body["container_id"]
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(orchclient.EnsureResponse{ContainerID: "c1", Address: addrOf(worker)})
	}))
	defer orch.Close()

	c := newTestContext(t, worker, orch, defaultConfig())

	req := httptest.NewRequest(http.MethodGet, "/api/hello", nil)
	rec := httptest.NewRecorder()
	err := c.Invoke(rec, req, "hello")
	assert.Error(t, err)

	select {
	case id := <-evicted:
		assert.Equal(t, "c1", id)
	case <-time.After(time.Second):
		t.Fatal("expected an async Evict call to the orchestrator")
	}

	_, ok := c.HostCache.Get("hello")
	assert.False(t, ok, "host cache entry must be invalidated on server error")
	assert.Equal(t, http.StatusBadGateway, rec.Code, "the raw upstream status must not leak to the client")
}

func TestInvoke_PoolAcquireTimeoutReturnsErrorWithoutCallingEnsure(t *testing.T) {
	worker := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer worker.Close()

	ensureCalls := 0
	orch := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ensureCalls++
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(orchclient.EnsureResponse{ContainerID: "c1", Address: addrOf(worker)})
	}))
	defer orch.Close()

	cfg := defaultConfig()
	cfg.PoolAcquireTimeout = 5 * time.Millisecond
	c := newTestContext(t, worker, orch, cfg)

	// Occupy the single capacity-1 slot with an in-flight request.
	done := make(chan struct{})
	go func() {
		defer close(done)
		req := httptest.NewRequest(http.MethodGet, "/api/hello", nil)
		rec := httptest.NewRecorder()
		_ = c.Invoke(rec, req, "hello")
	}()
	time.Sleep(5 * time.Millisecond)

	req2 := httptest.NewRequest(http.MethodGet, "/api/hello", nil)
	rec2 := httptest.NewRecorder()
	err := c.Invoke(rec2, req2, "hello")
	assert.Error(t, err)

	<-done
}

func TestInvoke_DisabledFunctionReturnsError(t *testing.T) {
	worker := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer worker.Close()
	orch := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer orch.Close()

	zero := 0
	tbl := &routing.Table{Functions: []routing.Function{{Name: "disabled", MaxCapacity: &zero}}}
	client := orchclient.New(orch.URL, time.Second)
	c := NewContext(defaultConfig(), tbl, client, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/disabled", nil)
	rec := httptest.NewRecorder()
	err := c.Invoke(rec, req, "disabled")
	assert.Error(t, err)
}

func TestPoolFor_PoolingDisabledCapsCapacityAtOne(t *testing.T) {
	tbl := &routing.Table{Functions: []routing.Function{{Name: "hello"}}}
	cfg := defaultConfig()
	cfg.EnableContainerPooling = false
	c := NewContext(cfg, tbl, orchclient.New("http://unused", time.Second), testLogger())

	p := c.poolFor("hello")
	assert.Equal(t, 1, p.MaxCapacity())
}
