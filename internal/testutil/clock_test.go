package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeterministicClock_StartsAtEpoch(t *testing.T) {
	clock := NewDeterministicClock()
	assert.Equal(t, int64(0), clock.Current().UnixMilli())
}

func TestDeterministicClock_NextIncrementsMonotonically(t *testing.T) {
	clock := NewDeterministicClock()

	assert.Equal(t, int64(100), clock.NextMillis())
	assert.Equal(t, int64(100), clock.Current().UnixMilli())

	assert.Equal(t, int64(200), clock.NextMillis())
	assert.Equal(t, int64(300), clock.NextMillis())
	assert.Equal(t, int64(300), clock.Current().UnixMilli())
}

func TestDeterministicClock_CustomBase(t *testing.T) {
	base := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	clock := NewDeterministicClockAt(base, time.Second)

	assert.Equal(t, base.Add(time.Second), clock.Next())
	assert.Equal(t, base.Add(2*time.Second), clock.Next())
}

func TestDeterministicClock_Reset(t *testing.T) {
	clock := NewDeterministicClock()

	clock.Next()
	clock.Next()
	clock.Next()
	assert.Equal(t, int64(300), clock.Current().UnixMilli())

	clock.Reset()
	assert.Equal(t, int64(0), clock.Current().UnixMilli())
	assert.Equal(t, int64(100), clock.NextMillis())
}

func TestDeterministicClock_ThreadSafe(t *testing.T) {
	clock := NewDeterministicClock()
	const numGoroutines = 50
	const callsPerGoroutine = 50

	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	results := make([][]int64, numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		results[i] = make([]int64, callsPerGoroutine)
		go func(idx int) {
			defer wg.Done()
			for j := 0; j < callsPerGoroutine; j++ {
				results[idx][j] = clock.NextMillis()
			}
		}(i)
	}
	wg.Wait()

	seen := make(map[int64]bool)
	for i := range results {
		for _, v := range results[i] {
			require.False(t, seen[v], "duplicate value %d", v)
			seen[v] = true
		}
	}
	assert.Len(t, seen, numGoroutines*callsPerGoroutine)
}
