// Package routing holds the static function descriptor and the routing
// table it is loaded from (spec §3, §4.1).
package routing

import (
	"encoding/json"
	"fmt"
	"os"
)

// Route is a single (method, path-pattern) mapping to a function name.
// Path-patterns are literal segments plus single-segment wildcards, e.g.
// "/api/{id}".
type Route struct {
	Method string `json:"method"`
	Path   string `json:"path"`
}

// Function is the static, immutable-per-run descriptor loaded from the
// routing table (spec §3).
type Function struct {
	Name     string            `json:"name"`
	ImageRef string            `json:"image_ref"`
	Handler  string            `json:"handler"`
	Routes   []Route           `json:"routes"`
	Env      map[string]string `json:"env"`
	// MaxCapacity is reserved-concurrency for this function. nil in the
	// source JSON means "unset" and defaults to 50; an explicit 0 means the
	// function is disabled (spec §3, §4.4).
	MaxCapacity     *int `json:"max_capacity"`
	InvokeTimeoutMs int  `json:"invoke_timeout_ms"`
	IdleTimeoutS    int  `json:"idle_timeout_s"`
}

// Capacity returns the effective max_capacity, applying the default-50 rule.
func (f Function) Capacity() int {
	if f.MaxCapacity == nil {
		return 50
	}
	return *f.MaxCapacity
}

// Table is the full set of function descriptors loaded from the routing
// table file.
type Table struct {
	Functions []Function `json:"functions"`
}

// Function looks up a function descriptor by name, or nil if absent.
func (t *Table) Function(name string) *Function {
	for i := range t.Functions {
		if t.Functions[i].Name == name {
			return &t.Functions[i]
		}
	}
	return nil
}

// Load reads and parses the routing table at path. Every function without an
// explicit MaxCapacity gets the spec-mandated default of 50.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("routing: read table: %w", err)
	}
	var t Table
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("routing: parse table: %w", err)
	}
	return &t, nil
}
