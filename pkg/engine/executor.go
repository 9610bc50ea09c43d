package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Stats aggregates instance outcomes for one run. Completed counts
// instances that actually executed; cancelled instances never ran.
type Stats struct {
	Completed int
	Passed    int
	Failed    int
	Errors    int
	Cancelled int
}

// InstanceResult is one instance's outcome as seen by the executor.
type InstanceResult struct {
	Index         int
	InstanceID    string
	CorrelationID string
	ScenarioID    string
	Passed        bool
	Cancelled     bool
	Error         string
	DurationMS    float64
}

// Executor runs instance tasks with bounded concurrency and graceful
// cancellation: cancel stops unstarted instances, in-flight instances
// run to completion.
type Executor struct {
	parallelism int
	cancelled   atomic.Bool
}

// NewExecutor creates an executor capped at parallelism in-flight
// instances.
func NewExecutor(parallelism int) *Executor {
	if parallelism < 1 {
		parallelism = 1
	}
	return &Executor{parallelism: parallelism}
}

// Cancel prevents instances that have not started from running. Safe
// to call from a signal handler goroutine.
func (e *Executor) Cancel() {
	e.cancelled.Store(true)
}

// Cancelled reports whether a cancel was requested.
func (e *Executor) Cancelled() bool {
	return e.cancelled.Load()
}

// Run executes total instances through exec, at most parallelism at a
// time. Results are collected in completion order; onComplete (if set)
// fires once per finished instance under the collection lock, so a
// progress display has a single writer. A panicking instance becomes
// an error result and never disturbs its siblings.
func (e *Executor) Run(ctx context.Context, total int, exec func(ctx context.Context, index int) InstanceResult, onComplete func(InstanceResult)) ([]InstanceResult, Stats) {
	sem := make(chan struct{}, e.parallelism)
	var wg sync.WaitGroup
	var mu sync.Mutex
	results := make([]InstanceResult, 0, total)

	record := func(result InstanceResult) {
		mu.Lock()
		defer mu.Unlock()
		results = append(results, result)
		if onComplete != nil {
			onComplete(result)
		}
	}

	for i := 0; i < total; i++ {
		wg.Add(1)
		go func(index int) {
			defer wg.Done()
			if e.cancelled.Load() || ctx.Err() != nil {
				record(InstanceResult{Index: index, Cancelled: true})
				return
			}
			sem <- struct{}{}
			defer func() { <-sem }()
			// Cancel may have landed while waiting for a slot.
			if e.cancelled.Load() || ctx.Err() != nil {
				record(InstanceResult{Index: index, Cancelled: true})
				return
			}
			record(runProtected(ctx, exec, index))
		}(i)
	}
	wg.Wait()

	var stats Stats
	for _, result := range results {
		switch {
		case result.Cancelled:
			stats.Cancelled++
		case result.Error != "":
			stats.Completed++
			stats.Errors++
		case result.Passed:
			stats.Completed++
			stats.Passed++
		default:
			stats.Completed++
			stats.Failed++
		}
	}
	return results, stats
}

func runProtected(ctx context.Context, exec func(ctx context.Context, index int) InstanceResult, index int) (result InstanceResult) {
	defer func() {
		if r := recover(); r != nil {
			result = InstanceResult{Index: index, Error: fmt.Sprintf("panic: %v", r)}
		}
	}()
	return exec(ctx, index)
}
