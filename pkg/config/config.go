// Package config loads the environment variables recognised by the Gateway
// and Orchestrator (spec §6), following the teacher's flat Config-struct
// plus applyDefaults idiom (pkg/leafv2.Config) rather than a viper/koanf
// singleton.
package config

import (
	"os"
	"strconv"
	"time"
)

// Gateway holds every Gateway-side tunable from spec §6.
type Gateway struct {
	ListenAddr             string
	RoutingTablePath       string
	OrchestratorAddr       string
	ContainerCacheTTL      time.Duration
	PoolAcquireTimeout     time.Duration
	CircuitBreakerThreshold int
	CircuitBreakerRecovery time.Duration
	HeartbeatInterval      time.Duration
	InvokeTimeoutDefault   time.Duration
	EnableContainerPooling bool
	TLSCertPath            string
	TLSKeyPath             string
}

// Orchestrator holds every Orchestrator-side tunable from spec §6.
type Orchestrator struct {
	ListenAddr           string
	RoutingTablePath     string
	IdleTimeout          time.Duration
	ReaperInterval        time.Duration
	StuckMultiplier      int
	ColdStartTimeout     time.Duration
	RuntimeBackend       string
	RuntimeNetwork       string
	PortRangeLow         int
	PortRangeHigh        int
}

// DefaultGateway returns spec-mandated defaults, then applies any matching
// environment-variable overrides.
func DefaultGateway() Gateway {
	g := Gateway{
		ListenAddr:              ":8443",
		RoutingTablePath:        "routes.json",
		OrchestratorAddr:        "http://127.0.0.1:9090",
		ContainerCacheTTL:       envDuration("CONTAINER_CACHE_TTL", 30*time.Second),
		PoolAcquireTimeout:      envDuration("POOL_ACQUIRE_TIMEOUT", 5*time.Second),
		CircuitBreakerThreshold: envInt("CIRCUIT_BREAKER_THRESHOLD", 5),
		CircuitBreakerRecovery:  envDuration("CIRCUIT_BREAKER_RECOVERY_TIMEOUT", 30*time.Second),
		HeartbeatInterval:       envDuration("HEARTBEAT_INTERVAL", 30*time.Second),
		InvokeTimeoutDefault:    envDuration("LAMBDA_INVOKE_TIMEOUT", 30*time.Second),
		EnableContainerPooling:  envBool("ENABLE_CONTAINER_POOLING", false),
	}
	return g
}

// DefaultOrchestrator returns spec-mandated defaults, then applies any
// matching environment-variable overrides.
func DefaultOrchestrator() Orchestrator {
	return Orchestrator{
		ListenAddr:       ":9090",
		RoutingTablePath: "routes.json",
		IdleTimeout:      envMinutes("IDLE_TIMEOUT_MINUTES", 5*time.Minute),
		ReaperInterval:   60 * time.Second,
		StuckMultiplier:  4,
		ColdStartTimeout: 30 * time.Second,
		RuntimeBackend:   "docker",
		RuntimeNetwork:   envString("LAMBDA_NETWORK", "bridge"),
		PortRangeLow:     30000,
		PortRangeHigh:    40000,
	}
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// envMinutes reads key as minutes, falling back to def when unset or
// unparsable.
func envMinutes(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return time.Duration(f * float64(time.Minute))
		}
	}
	return def
}

// envDuration reads key as seconds (spec §6 documents every timeout in
// seconds), falling back to def when unset or unparsable.
func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return time.Duration(f * float64(time.Second))
		}
	}
	return def
}
