package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_PutGet(t *testing.T) {
	s := New(4)
	now := time.Now()
	s.Put(Record{ID: "c1", FunctionName: "hello", State: Ready, CreatedAt: now, LastUsedAt: now})

	rec, ok := s.Get("hello", "c1")
	require.True(t, ok)
	assert.Equal(t, Ready, rec.State)
}

func TestStore_FindWarmPrefersReadyOrIdle(t *testing.T) {
	s := New(4)
	now := time.Now()
	s.Put(Record{ID: "c1", FunctionName: "hello", State: Provisioning, CreatedAt: now, LastUsedAt: now})
	s.Put(Record{ID: "c2", FunctionName: "hello", State: Idle, CreatedAt: now, LastUsedAt: now})

	rec, ok := s.FindWarm("hello")
	require.True(t, ok)
	assert.Equal(t, "c2", rec.ID)
}

func TestStore_TouchIsMonotone(t *testing.T) {
	s := New(4)
	early := time.Now()
	late := early.Add(time.Minute)
	s.Put(Record{ID: "c1", FunctionName: "hello", State: Ready, CreatedAt: early, LastUsedAt: late})

	s.Touch("hello", "c1", early) // earlier timestamp must not move last_used_at backwards
	rec, _ := s.Get("hello", "c1")
	assert.Equal(t, late, rec.LastUsedAt)

	evenLater := late.Add(time.Minute)
	s.Touch("hello", "c1", evenLater)
	rec, _ = s.Get("hello", "c1")
	assert.Equal(t, evenLater, rec.LastUsedAt)
}

func TestStore_CountActiveExcludesGone(t *testing.T) {
	s := New(4)
	now := time.Now()
	s.Put(Record{ID: "c1", FunctionName: "hello", State: Busy, CreatedAt: now, LastUsedAt: now})
	s.Put(Record{ID: "c2", FunctionName: "hello", State: Idle, CreatedAt: now, LastUsedAt: now})
	s.Put(Record{ID: "c3", FunctionName: "hello", State: Gone, CreatedAt: now, LastUsedAt: now})

	assert.Equal(t, 2, s.CountActive("hello"))
}

func TestStore_RemoveDropsFromIndexAndList(t *testing.T) {
	s := New(4)
	now := time.Now()
	s.Put(Record{ID: "c1", FunctionName: "hello", State: Idle, CreatedAt: now, LastUsedAt: now})

	s.Remove("hello", "c1")

	_, ok := s.Get("hello", "c1")
	assert.False(t, ok)
	_, ok = s.FunctionFor("c1")
	assert.False(t, ok)
	assert.Empty(t, s.ListFunction("hello"))
}

func TestStore_FunctionForAcrossShards(t *testing.T) {
	s := New(8)
	now := time.Now()
	s.Put(Record{ID: "c1", FunctionName: "alpha", State: Idle, CreatedAt: now, LastUsedAt: now})
	s.Put(Record{ID: "c2", FunctionName: "beta", State: Idle, CreatedAt: now, LastUsedAt: now})

	fn, ok := s.FunctionFor("c2")
	require.True(t, ok)
	assert.Equal(t, "beta", fn)
}
