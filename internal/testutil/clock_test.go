package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenClock_NextIncrementsMonotonically(t *testing.T) {
	clock := NewTokenClock()
	assert.Equal(t, int64(0), clock.Current())

	assert.Equal(t, int64(1), clock.Next())
	assert.Equal(t, int64(2), clock.Next())
	assert.Equal(t, int64(2), clock.Current())

	clock.Reset()
	assert.Equal(t, int64(1), clock.Next())
}

func TestTokenClock_ThreadSafe(t *testing.T) {
	clock := NewTokenClock()
	const goroutines = 50
	const calls = 100

	var wg sync.WaitGroup
	results := make([][]int64, goroutines)
	for i := range results {
		results[i] = make([]int64, calls)
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			for j := 0; j < calls; j++ {
				results[idx][j] = clock.Next()
			}
		}(i)
	}
	wg.Wait()

	seen := make(map[int64]bool)
	for _, r := range results {
		for _, v := range r {
			require.False(t, seen[v], "duplicate value %d", v)
			seen[v] = true
		}
	}
	assert.Len(t, seen, goroutines*calls)
}

func TestManualClock(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewManualClock(start)
	assert.Equal(t, start, clock.Now())

	clock.Advance(90 * time.Second)
	assert.Equal(t, start.Add(90*time.Second), clock.Now())
}

func TestSequentialIDs(t *testing.T) {
	gen := NewSequentialIDs("doc")
	assert.Equal(t, "doc-0001", gen.Generate())
	assert.Equal(t, "doc-0002", gen.Generate())

	assert.Equal(t, "id-0001", NewSequentialIDs("").Generate())
}
