// Package workerpool provides a small semaphore-bounded fan-out helper used
// by the fingerprint engine to hash many inputs concurrently while bounding
// how many tasks run at once (one goroutine per task, gated by a semaphore).
package workerpool

import (
	"context"
	"runtime"
	"sync"
)

// Task is a unit of work submitted to a Pool.
type Task func(ctx context.Context) (interface{}, error)

// Result is a Task's outcome, kept at the same index as its Task.
type Result struct {
	Value interface{}
	Error error
}

// Pool runs tasks concurrently, bounded by a semaphore.
type Pool struct {
	maxWorkers int
	semaphore  chan struct{}
}

// DefaultMaxWorkers is used when New is given a non-positive worker count:
// one worker per host CPU, matching the fingerprint engine's digest
// parallelism requirement.
var DefaultMaxWorkers = runtime.NumCPU()

// New creates a Pool capped at maxWorkers, or DefaultMaxWorkers if
// maxWorkers is non-positive. The cap never exceeds the host's CPU count.
func New(maxWorkers int) *Pool {
	if maxWorkers <= 0 {
		maxWorkers = DefaultMaxWorkers
	}
	if maxCPU := runtime.NumCPU(); maxWorkers > maxCPU {
		maxWorkers = maxCPU
	}
	if maxWorkers < 1 {
		maxWorkers = 1
	}

	return &Pool{
		maxWorkers: maxWorkers,
		semaphore:  make(chan struct{}, maxWorkers),
	}
}

// Run executes every task concurrently, respecting the pool's worker cap,
// and returns results in the same order as tasks.
func (p *Pool) Run(ctx context.Context, tasks []Task) []Result {
	if len(tasks) == 0 {
		return []Result{}
	}

	results := make([]Result, len(tasks))
	var wg sync.WaitGroup

	for i, task := range tasks {
		wg.Add(1)
		go func(index int, t Task) {
			defer wg.Done()

			select {
			case p.semaphore <- struct{}{}:
				defer func() { <-p.semaphore }()
			case <-ctx.Done():
				results[index] = Result{Error: ctx.Err()}
				return
			}

			value, err := t(ctx)
			results[index] = Result{Value: value, Error: err}
		}(i, task)
	}

	wg.Wait()
	return results
}

// MaxWorkers returns the pool's worker cap.
func (p *Pool) MaxWorkers() int {
	return p.maxWorkers
}
