package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := New(Params{Threshold: 3, RecoveryTimeout: time.Minute})

	for i := 0; i < 2; i++ {
		allowed, isProbe := b.Allow()
		require.True(t, allowed)
		require.False(t, isProbe)
		b.Failure()
	}
	assert.Equal(t, Closed, b.State())

	allowed, _ := b.Allow()
	require.True(t, allowed)
	b.Failure()
	assert.Equal(t, Open, b.State())

	allowed, _ = b.Allow()
	assert.False(t, allowed)
}

func TestBreaker_SuccessResetsCounter(t *testing.T) {
	b := New(Params{Threshold: 2, RecoveryTimeout: time.Minute})

	b.Allow()
	b.Failure()
	b.Allow()
	b.Success()
	b.Allow()
	b.Failure()
	assert.Equal(t, Closed, b.State(), "success should have reset the failure counter")
}

func TestBreaker_HalfOpenAllowsOneProbe(t *testing.T) {
	now := time.Now()
	b := New(Params{Threshold: 1, RecoveryTimeout: 10 * time.Second})
	b.now = func() time.Time { return now }

	b.Allow()
	b.Failure()
	assert.Equal(t, Open, b.State())

	now = now.Add(11 * time.Second)

	allowed, isProbe := b.Allow()
	require.True(t, allowed)
	require.True(t, isProbe)
	assert.Equal(t, HalfOpen, b.State())

	allowed, _ = b.Allow()
	assert.False(t, allowed, "a second caller must see OPEN behavior while a probe is in flight")
}

func TestBreaker_ProbeSuccessCloses(t *testing.T) {
	now := time.Now()
	b := New(Params{Threshold: 1, RecoveryTimeout: 10 * time.Second})
	b.now = func() time.Time { return now }

	b.Allow()
	b.Failure()
	now = now.Add(11 * time.Second)
	_, isProbe := b.Allow()
	require.True(t, isProbe)

	b.ProbeSuccess()
	assert.Equal(t, Closed, b.State())

	allowed, isProbe := b.Allow()
	assert.True(t, allowed)
	assert.False(t, isProbe)
}

func TestBreaker_ProbeFailureReopens(t *testing.T) {
	now := time.Now()
	b := New(Params{Threshold: 1, RecoveryTimeout: 10 * time.Second})
	b.now = func() time.Time { return now }

	b.Allow()
	b.Failure()
	now = now.Add(11 * time.Second)
	b.Allow()

	b.ProbeFailure()
	assert.Equal(t, Open, b.State())
}
