package common

import (
	"runtime"
	"sync"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"
)

// NewComputePool creates the worker pool used by CPU-side kernels and decoders.
// A non-positive worker count uses one worker per CPU.
//
// Parameters:
//   - workers: the number of workers
//
// Returns:
//   - worker.DynamicWorkerPool: the pool
func NewComputePool(workers int) worker.DynamicWorkerPool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return worker.NewDynamicWorkerPool(workers, 256, 1*time.Second)
}

// ParallelFor runs fn(i) for every i in [0, n) on the pool and blocks until all calls return.
// A WaitGroup is the barrier; pool.Wait() only returns once workers idle out.
//
// Parameters:
//   - pool: the worker pool
//   - n: the number of tasks
//   - fn: the task body
func ParallelFor(pool worker.DynamicWorkerPool, n int, fn func(i int)) {
	var wg sync.WaitGroup
	wg.Add(n)
	for i := range n {
		pool.SubmitTask(worker.Task{
			ID: i,
			Do: func() (any, error) {
				defer wg.Done()
				fn(i)
				return nil, nil
			},
		})
	}
	wg.Wait()
}
