// Package workerspool bounds the number of goroutines evaluation work runs
// on. Backends split batches and board positions into disjoint tasks and feed
// them through a shared Pool, so total parallelism stays near a target no
// matter how many handles are evaluating at once.
package workerspool

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// Pool limits concurrent tasks to a soft parallelism target. The number of
// live goroutines may exceed the target because sleeping workers lend their
// slot out.
type Pool struct {
	// maxParallelism is a soft target on the limit of parallel work to do.
	// The actual number of goroutines can be higher, because of waits and such.
	maxParallelism int
	mu             sync.Mutex
	cond           sync.Cond // Signaled whenever numRunning decreases.
	numRunning     int

	// extraParallelism is temporarily increased while a worker sleeps.
	extraParallelism atomic.Int32
}

// New returns a Pool targeting runtime.NumCPU() parallel tasks.
func New() *Pool {
	p := &Pool{}
	p.maxParallelism = runtime.NumCPU()
	p.cond = sync.Cond{L: &p.mu}
	return p
}

// NewWithParallelism returns a Pool with an explicit target: 0 disables
// parallelism (tasks run inline), -1 removes the limit.
func NewWithParallelism(maxParallelism int) *Pool {
	p := New()
	p.maxParallelism = maxParallelism
	return p
}

// IsEnabled returns whether parallelism is enabled (maxParallelism != 0).
func (p *Pool) IsEnabled() bool {
	return p.maxParallelism != 0
}

// IsUnlimited returns whether parallelism is unlimited (maxParallelism < 0).
func (p *Pool) IsUnlimited() bool {
	return p.maxParallelism < 0
}

// MaxParallelism returns the soft parallelism target.
func (p *Pool) MaxParallelism() int {
	return p.maxParallelism
}

// SetMaxParallelism changes the target. Only call this before any tasks run;
// changing it mid-flight leaves the accounting undefined.
func (p *Pool) SetMaxParallelism(maxParallelism int) {
	p.maxParallelism = maxParallelism
}

const goroutineToParallelismRatio = 2

// lockedIsFull returns whether all available workers are in use.
//
// It must be called with p.mu held.
func (p *Pool) lockedIsFull() bool {
	if p.maxParallelism == 0 {
		return true
	} else if p.maxParallelism < 0 {
		return false
	}
	return p.numRunning >= goroutineToParallelismRatio*p.maxParallelism+int(p.extraParallelism.Load())
}

// WaitToStart blocks until a worker slot frees up, then runs task on it.
//
// If parallelism is disabled the task runs inline before WaitToStart returns,
// which can deadlock callers that rely on concurrency.
func (p *Pool) WaitToStart(task func()) {
	if p.IsUnlimited() {
		go task()
		return
	} else if p.maxParallelism == 0 {
		task()
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for p.lockedIsFull() {
		p.cond.Wait()
	}
	p.lockedRunTaskInGoroutine(task)
}

// lockedRunTaskInGoroutine starts task and keeps tabs on p.numRunning.
//
// It must be called with p.mu held.
func (p *Pool) lockedRunTaskInGoroutine(task func()) {
	p.numRunning++
	go func() {
		task()
		p.mu.Lock()
		p.numRunning--
		p.cond.Signal()
		p.mu.Unlock()
	}()
}

// StartIfAvailable runs task in a separate goroutine if a slot is free and
// returns whether it did. The caller synchronizes task completion itself.
func (p *Pool) StartIfAvailable(task func()) bool {
	if p.IsUnlimited() {
		go task()
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lockedIsFull() {
		return false
	}
	p.lockedRunTaskInGoroutine(task)
	return true
}

// WorkerIsAsleep tells the pool the calling worker is blocked waiting on
// other workers, temporarily raising the parallelism target so progress
// continues. Pair with WorkerRestarted.
func (p *Pool) WorkerIsAsleep() {
	p.extraParallelism.Add(1)
}

// WorkerRestarted undoes a WorkerIsAsleep.
func (p *Pool) WorkerRestarted() {
	p.extraParallelism.Add(-1)
}

// Parallelize runs fn(i) for every i in [0, n) and returns when all calls
// finished. Tasks are independent; fn must not assume any ordering. With
// parallelism disabled everything runs inline on the calling goroutine, which
// keeps single-threaded runs fully deterministic.
func (p *Pool) Parallelize(n int, fn func(i int)) {
	if n <= 0 {
		return
	}
	if !p.IsEnabled() || n == 1 {
		for i := 0; i < n; i++ {
			fn(i)
		}
		return
	}
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		p.WaitToStart(func() {
			defer wg.Done()
			fn(i)
		})
	}
	wg.Wait()
}
