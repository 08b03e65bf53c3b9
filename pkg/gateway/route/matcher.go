// Package route implements the Gateway's RouteMatcher (spec §4.1):
// path+method to function-name resolution, with literal-segment /
// single-wildcard patterns and atomic reload.
package route

import (
	"strings"
	"sync/atomic"

	"github.com/esb-platform/esb/pkg/esberrors"
	"github.com/esb-platform/esb/pkg/routing"
)

type compiledRoute struct {
	method    string
	segments  []string // "" element marks a wildcard segment
	literals  int       // count of non-wildcard segments, for tie-break
	function  string
}

// Matcher resolves (method, path) to a function name. Reload is an atomic
// pointer swap so concurrent lookups never observe a partially-updated
// table.
type Matcher struct {
	table atomic.Pointer[[]compiledRoute]
}

// New builds a Matcher from a routing table.
func New(t *routing.Table) *Matcher {
	m := &Matcher{}
	m.Reload(t)
	return m
}

// Reload atomically swaps in a new routing table. Safe to call concurrently
// with Match.
func (m *Matcher) Reload(t *routing.Table) {
	compiled := make([]compiledRoute, 0)
	for _, fn := range t.Functions {
		for _, r := range fn.Routes {
			segs := splitPath(r.Path)
			literals := 0
			for _, s := range segs {
				if !isWildcard(s) {
					literals++
				}
			}
			compiled = append(compiled, compiledRoute{
				method:   strings.ToUpper(r.Method),
				segments: segs,
				literals: literals,
				function: fn.Name,
			})
		}
	}
	m.table.Store(&compiled)
}

// Match resolves method+path to a function name. It returns
// esberrors.ErrNotFound when no path matches, and esberrors.ErrMethodNotAllowed
// when a path matches for a different method (spec §4.1: 405 semantics).
func (m *Matcher) Match(method, path string) (string, error) {
	segs := splitPath(path)
	table := *m.table.Load()

	var best *compiledRoute
	pathMatched := false

	for i := range table {
		r := &table[i]
		if !segmentsMatch(r.segments, segs) {
			continue
		}
		pathMatched = true
		if r.method != strings.ToUpper(method) {
			continue
		}
		if best == nil || betterMatch(*r, *best) {
			candidate := *r
			best = &candidate
		}
	}

	if best != nil {
		return best.function, nil
	}
	if pathMatched {
		return "", esberrors.ErrMethodNotAllowed
	}
	return "", esberrors.ErrNotFound
}

// betterMatch reports whether a wins over b under the tie-break rule: most
// literal segments wins, then longest pattern.
func betterMatch(a, b compiledRoute) bool {
	if a.literals != b.literals {
		return a.literals > b.literals
	}
	return len(a.segments) > len(b.segments)
}

func segmentsMatch(pattern, path []string) bool {
	if len(pattern) != len(path) {
		return false
	}
	for i, p := range pattern {
		if isWildcard(p) {
			continue
		}
		if p != path[i] {
			return false
		}
	}
	return true
}

func isWildcard(segment string) bool {
	return strings.HasPrefix(segment, "{") && strings.HasSuffix(segment, "}")
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return []string{}
	}
	return strings.Split(trimmed, "/")
}
