// Package gateway wires the Gateway's per-function state (route table, host
// cache, pools, breakers) into the PoolOrchestrator glue invoked once per
// request (spec §4.5), following the "one context object, no globals"
// design note in spec.md §9.
package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/esb-platform/esb/pkg/esberrors"
	"github.com/esb-platform/esb/pkg/gateway/breaker"
	"github.com/esb-platform/esb/pkg/gateway/heartbeat"
	"github.com/esb-platform/esb/pkg/gateway/hostcache"
	"github.com/esb-platform/esb/pkg/gateway/orchclient"
	"github.com/esb-platform/esb/pkg/gateway/pool"
	"github.com/esb-platform/esb/pkg/gateway/proxy"
	"github.com/esb-platform/esb/pkg/gateway/route"
	"github.com/esb-platform/esb/pkg/obs/metrics"
	"github.com/esb-platform/esb/pkg/routing"
)

// Config bundles the Gateway-side tunables that Context needs (a subset of
// pkg/config.Gateway; cmd/gateway copies the fields across).
type Config struct {
	ContainerCacheTTL       time.Duration
	PoolAcquireTimeout      time.Duration
	CircuitBreakerThreshold int
	CircuitBreakerRecovery  time.Duration
	HeartbeatInterval       time.Duration
	InvokeTimeoutDefault    time.Duration
	// EnableContainerPooling, when false, makes every pool act as a
	// single-slot queue regardless of the function's configured capacity
	// (spec §6 ENABLE_CONTAINER_POOLING).
	EnableContainerPooling bool
}

// Context is the single object holding every piece of per-function mutable
// state the Gateway needs, created once at startup and shared by every
// request handler (spec §9).
type Context struct {
	cfg Config

	Matcher   *route.Matcher
	HostCache *hostcache.Cache
	Orch      *orchclient.Client
	InFlight  *heartbeat.InFlightSet
	Metrics   *metrics.Counters
	logger    *slog.Logger

	table *routing.Table

	mu       sync.Mutex
	pools    map[string]*pool.Pool
	breakers map[string]*breaker.Breaker
}

// NewContext builds a Context for the given routing table.
func NewContext(cfg Config, table *routing.Table, orch *orchclient.Client, logger *slog.Logger) *Context {
	return &Context{
		cfg:       cfg,
		Matcher:   route.New(table),
		HostCache: hostcache.New(cfg.ContainerCacheTTL),
		Orch:      orch,
		InFlight:  heartbeat.NewInFlightSet(),
		Metrics:   metrics.New(),
		logger:    logger,
		table:     table,
		pools:     make(map[string]*pool.Pool),
		breakers:  make(map[string]*breaker.Breaker),
	}
}

func (c *Context) poolFor(name string) *pool.Pool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.pools[name]; ok {
		return p
	}
	capacity := 50
	for _, fn := range c.table.Functions {
		if fn.Name == name {
			capacity = fn.Capacity()
			break
		}
	}
	if !c.cfg.EnableContainerPooling && capacity > 1 {
		capacity = 1
	}
	p := pool.New(capacity)
	c.pools[name] = p
	return p
}

func (c *Context) breakerFor(name string) *breaker.Breaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.breakers[name]; ok {
		return b
	}
	b := breaker.New(breaker.Params{
		Threshold:       c.cfg.CircuitBreakerThreshold,
		RecoveryTimeout: c.cfg.CircuitBreakerRecovery,
	})
	c.breakers[name] = b
	return b
}

// Invoke runs the full PoolOrchestrator sequence for one request against
// function name (spec §4.5): breaker check, pool acquire, warm/cache/Ensure
// resolution, proxy invoke, and the guaranteed release-or-evict on every
// exit path.
func (c *Context) Invoke(w http.ResponseWriter, r *http.Request, name string) error {
	b := c.breakerFor(name)
	allowed, isProbe := b.Allow()
	if !allowed {
		c.Metrics.Inc("breaker_rejected_total", 1)
		return esberrors.ErrBreakerOpen
	}

	p := c.poolFor(name)
	result, err := p.AcquireTimeout(r.Context(), c.cfg.PoolAcquireTimeout)
	if err != nil {
		c.Metrics.Inc("pool_acquire_timeout_total", 1)
		return err
	}

	handle, provisioned, err := c.resolveHandle(r.Context(), name, result)
	if err != nil {
		// Never provisioned a handle: free the reserved permit without
		// touching the idle stack.
		p.Evict(nil)
		c.recordFailure(b, isProbe)
		return err
	}

	c.InFlight.Track(handle.ContainerID)

	// Scoped acquisition: exactly one of release/evict runs on every exit
	// path, including cancellation (spec §4.5 guarantee).
	outcome, invokeErr := proxy.Invoke(w, r, handle.Address, c.invokeTimeout(name))

	switch outcome {
	case proxy.Success:
		p.Release(handle)
		c.recordSuccess(b, isProbe)
	default:
		c.HostCache.Invalidate(name)
		c.InFlight.Untrack(handle.ContainerID)
		p.Evict(handle)
		c.recordFailure(b, isProbe)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = c.Orch.Evict(ctx, handle.ContainerID)
		}()
	}

	_ = provisioned
	return invokeErr
}

// resolveHandle turns an AcquireResult into a concrete worker handle,
// consulting the host cache or calling Ensure on a cold/provisioning
// outcome (spec §4.5 step 3).
func (c *Context) resolveHandle(ctx context.Context, name string, result pool.AcquireResult) (*pool.Handle, bool, error) {
	if result.Warm != nil {
		return result.Warm, false, nil
	}

	if addr, ok := c.HostCache.Get(name); ok {
		return &pool.Handle{Address: addr}, false, nil
	}

	resp, err := c.Orch.Ensure(ctx, name)
	if err != nil {
		return nil, false, err
	}
	c.HostCache.Put(name, resp.Address)
	return &pool.Handle{ContainerID: resp.ContainerID, Address: resp.Address}, true, nil
}

func (c *Context) invokeTimeout(name string) time.Duration {
	for _, fn := range c.table.Functions {
		if fn.Name == name && fn.InvokeTimeoutMs > 0 {
			return time.Duration(fn.InvokeTimeoutMs) * time.Millisecond
		}
	}
	return c.cfg.InvokeTimeoutDefault
}

func (c *Context) recordSuccess(b *breaker.Breaker, isProbe bool) {
	if isProbe {
		b.ProbeSuccess()
		return
	}
	b.Success()
}

func (c *Context) recordFailure(b *breaker.Breaker, isProbe bool) {
	if isProbe {
		b.ProbeFailure()
		return
	}
	b.Failure()
}

// Heartbeat reports every in-flight container id to the Orchestrator.
func (c *Context) Heartbeat(ctx context.Context, ids []string) error {
	return c.Orch.Heartbeat(ctx, ids)
}
