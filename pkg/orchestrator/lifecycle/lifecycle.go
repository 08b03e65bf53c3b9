// Package lifecycle implements the Orchestrator's LifecycleStore (spec
// §4.8): an in-memory function_name -> []ContainerRecord mapping plus a
// container_id index, guarded by locks sharded per function to avoid
// global contention (spec §5). Grounded on the teacher's
// pkg/leaf/state.WorkerStateMap/FunctionState/InstanceState shape
// (function -> running/idle instance lists with last-activity timestamps),
// generalized from a scrape-based read model to a mutation-driven store
// the Orchestrator owns directly.
package lifecycle

import (
	"sync"
	"time"
)

// State is where a ContainerRecord sits in the state machine of spec §4.12.
type State string

const (
	Provisioning State = "PROVISIONING"
	Ready        State = "READY"
	Busy         State = "BUSY"
	Idle         State = "IDLE"
	Paused       State = "PAUSED"
	Stopping     State = "STOPPING"
	Gone         State = "GONE"
)

// Record is one tracked container (spec §3 "Container record").
type Record struct {
	ID           string
	FunctionName string
	Address      string
	State        State
	LastUsedAt   time.Time
	CreatedAt    time.Time
	Labels       map[string]string
	HostPort     int // 0 unless the runtime driver needed an explicit host-port binding
}

type shard struct {
	mu       sync.Mutex
	records  map[string]*Record // container id -> record
	byFunc   map[string][]string // function name -> ordered container ids
}

// Store is the sharded LifecycleStore. Shard count is fixed at construction;
// a function's records always land in the same shard, so per-function
// operations only ever take one lock. A small separate index maps
// container id to function name, for RPCs (heartbeat, evict) that only
// carry a container id.
type Store struct {
	shards    []*shard
	numShards int

	idxMu sync.Mutex
	idx   map[string]string // container id -> function name
}

// New builds a Store with n shards. n should be a small power of two; the
// Orchestrator default is 16.
func New(n int) *Store {
	if n <= 0 {
		n = 1
	}
	shards := make([]*shard, n)
	for i := range shards {
		shards[i] = &shard{
			records: make(map[string]*Record),
			byFunc:  make(map[string][]string),
		}
	}
	return &Store{shards: shards, numShards: n, idx: make(map[string]string)}
}

func (s *Store) shardFor(functionName string) *shard {
	h := fnv32(functionName)
	return s.shards[int(h)%s.numShards]
}

// Put inserts or replaces a record. Callers own record construction; Put
// does not mutate timestamps.
func (s *Store) Put(rec Record) {
	sh := s.shardFor(rec.FunctionName)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if _, exists := sh.records[rec.ID]; !exists {
		sh.byFunc[rec.FunctionName] = append(sh.byFunc[rec.FunctionName], rec.ID)
	}
	cp := rec
	sh.records[rec.ID] = &cp

	s.idxMu.Lock()
	s.idx[rec.ID] = rec.FunctionName
	s.idxMu.Unlock()
}

// FunctionFor returns the function name owning container id, if known.
func (s *Store) FunctionFor(id string) (string, bool) {
	s.idxMu.Lock()
	defer s.idxMu.Unlock()
	fn, ok := s.idx[id]
	return fn, ok
}

// Get returns a copy of the record for id, if present.
func (s *Store) Get(functionName, id string) (Record, bool) {
	sh := s.shardFor(functionName)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	rec, ok := sh.records[id]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// ListFunction returns copies of every record for functionName.
func (s *Store) ListFunction(functionName string) []Record {
	sh := s.shardFor(functionName)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	ids := sh.byFunc[functionName]
	out := make([]Record, 0, len(ids))
	for _, id := range ids {
		if rec, ok := sh.records[id]; ok {
			out = append(out, *rec)
		}
	}
	return out
}

// CountActive returns how many records for functionName are in any of
// {PROVISIONING, READY, BUSY, IDLE, PAUSED} (spec §3 invariant 1).
func (s *Store) CountActive(functionName string) int {
	n := 0
	for _, rec := range s.ListFunction(functionName) {
		switch rec.State {
		case Provisioning, Ready, Busy, Idle, Paused:
			n++
		}
	}
	return n
}

// FindWarm returns the first record for functionName in READY or IDLE
// state, for the EnsureRPC warm path (spec §4.7).
func (s *Store) FindWarm(functionName string) (Record, bool) {
	for _, rec := range s.ListFunction(functionName) {
		if rec.State == Ready || rec.State == Idle {
			return rec, true
		}
	}
	return Record{}, false
}

// FindPaused returns the first record for functionName in PAUSED state.
func (s *Store) FindPaused(functionName string) (Record, bool) {
	for _, rec := range s.ListFunction(functionName) {
		if rec.State == Paused {
			return rec, true
		}
	}
	return Record{}, false
}

// Touch advances last_used_at to now, a monotone non-decreasing update
// (spec §3 invariant 3).
func (s *Store) Touch(functionName, id string, now time.Time) {
	s.mutate(functionName, id, func(rec *Record) {
		if now.After(rec.LastUsedAt) {
			rec.LastUsedAt = now
		}
	})
}

// SetState transitions a record's state in place.
func (s *Store) SetState(functionName, id string, state State) {
	s.mutate(functionName, id, func(rec *Record) {
		rec.State = state
	})
}

// SetAddress records the runtime-assigned address, e.g. after resuming a
// paused container whose host port changed.
func (s *Store) SetAddress(functionName, id, address string) {
	s.mutate(functionName, id, func(rec *Record) {
		rec.Address = address
	})
}

func (s *Store) mutate(functionName, id string, fn func(*Record)) {
	sh := s.shardFor(functionName)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if rec, ok := sh.records[id]; ok {
		fn(rec)
	}
}

// Remove drops a record entirely, once the runtime has confirmed it GONE.
func (s *Store) Remove(functionName, id string) {
	sh := s.shardFor(functionName)
	sh.mu.Lock()
	delete(sh.records, id)
	ids := sh.byFunc[functionName]
	for i, existing := range ids {
		if existing == id {
			sh.byFunc[functionName] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	sh.mu.Unlock()

	s.idxMu.Lock()
	delete(s.idx, id)
	s.idxMu.Unlock()
}

// AllRecords returns a copy of every record across every function, for the
// Reaper's sweep.
func (s *Store) AllRecords() []Record {
	var out []Record
	for _, sh := range s.shards {
		sh.mu.Lock()
		for _, rec := range sh.records {
			out = append(out, *rec)
		}
		sh.mu.Unlock()
	}
	return out
}

// fnv32 is a tiny allocation-free string hash for shard selection.
func fnv32(s string) uint32 {
	const prime = 16777619
	h := uint32(2166136261)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime
	}
	return h
}
