package world

import (
	"context"
	"runtime"

	"golang.org/x/sync/semaphore"
)

// CPUGate bounds concurrent CPU-heavy payload work (compression and tag-tree
// encode/decode). Connection goroutines queue here instead of running large
// jobs inline, so a burst of chunk requests degrades latency rather than
// starving the scheduler.
type CPUGate struct {
	sem *semaphore.Weighted
}

// NewCPUGate admits up to n jobs at once; n <= 0 means one per CPU.
func NewCPUGate(n int) *CPUGate {
	if n <= 0 {
		n = runtime.NumCPU()
	}
	return &CPUGate{sem: semaphore.NewWeighted(int64(n))}
}

// Do runs f once a slot is free. The only error is the context's, while
// waiting for admission; f itself is never interrupted.
func (g *CPUGate) Do(ctx context.Context, f func()) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer g.sem.Release(1)
	f()
	return nil
}
