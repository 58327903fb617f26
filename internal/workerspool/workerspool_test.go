package workerspool

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitToStartBoundsParallelism(t *testing.T) {
	const target = 3
	pool := NewWithParallelism(target)

	var running, peak atomic.Int32
	var wg sync.WaitGroup
	wg.Add(50)
	for i := 0; i < 50; i++ {
		pool.WaitToStart(func() {
			defer wg.Done()
			now := running.Add(1)
			for {
				old := peak.Load()
				if now <= old || peak.CompareAndSwap(old, now) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			running.Add(-1)
		})
	}
	wg.Wait()
	assert.LessOrEqual(t, peak.Load(), int32(goroutineToParallelismRatio*target))
	assert.Greater(t, peak.Load(), int32(1))
}

func TestDisabledRunsInline(t *testing.T) {
	pool := NewWithParallelism(0)
	require.False(t, pool.IsEnabled())
	ran := false
	pool.WaitToStart(func() { ran = true })
	// Inline execution: visible without any synchronization.
	assert.True(t, ran)
}

func TestStartIfAvailable(t *testing.T) {
	pool := NewWithParallelism(1)
	block := make(chan struct{})
	var wg sync.WaitGroup

	// Fill every slot with blocked tasks.
	for pool.StartIfAvailable(func() { <-block }) {
	}
	assert.False(t, pool.StartIfAvailable(func() {}))

	// Sleeping workers lend their slot out.
	pool.WorkerIsAsleep()
	wg.Add(1)
	assert.True(t, pool.StartIfAvailable(func() { wg.Done() }))
	pool.WorkerRestarted()

	close(block)
	wg.Wait()
}

func TestParallelizeCoversAllIndices(t *testing.T) {
	for _, parallelism := range []int{0, 1, 4, -1} {
		pool := NewWithParallelism(parallelism)
		hits := make([]atomic.Int32, 100)
		pool.Parallelize(len(hits), func(i int) {
			hits[i].Add(1)
		})
		for i := range hits {
			require.Equal(t, int32(1), hits[i].Load(), "parallelism=%d index=%d", parallelism, i)
		}
	}
}

func TestParallelizeZeroAndOne(t *testing.T) {
	pool := New()
	pool.Parallelize(0, func(int) { t.Fatal("no tasks expected") })
	var n int
	pool.Parallelize(1, func(i int) { n = i + 1 })
	assert.Equal(t, 1, n)
}
