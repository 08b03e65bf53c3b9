package metrics

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInc_AccumulatesAcrossGoroutines(t *testing.T) {
	c := New()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Inc("requests_total", 1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(100), c.Snapshot()["requests_total"])
}

func TestInc_NegativeDelta(t *testing.T) {
	c := New()
	c.Inc("in_flight", 5)
	c.Inc("in_flight", -2)
	assert.Equal(t, int64(3), c.Snapshot()["in_flight"])
}

func TestSnapshot_UnknownCounterAbsent(t *testing.T) {
	c := New()
	_, ok := c.Snapshot()["nope"]
	assert.False(t, ok)
}
