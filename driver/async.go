package driver

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// AsyncExecutor is the completion-callback pipeline of spec.md §5's
// asynchronous surface: "operations take a completion callback and return
// immediately; they may suspend at every I/O boundary." Go has no
// first-class coroutines to suspend, so each submitted operation runs on
// its own goroutine; AsyncExecutor's only job is bounding how many of those
// goroutines may be doing I/O at once, the same role the semaphore plays
// in the teacher's connection-pool checkout path.
type AsyncExecutor struct {
	sem *semaphore.Weighted
}

// NewAsyncExecutor returns an executor that runs at most maxConcurrent
// operations at a time. maxConcurrent <= 0 means unbounded.
func NewAsyncExecutor(maxConcurrent int64) *AsyncExecutor {
	if maxConcurrent <= 0 {
		return &AsyncExecutor{}
	}
	return &AsyncExecutor{sem: semaphore.NewWeighted(maxConcurrent)}
}

// Submit runs fn on its own goroutine, once a concurrency slot is free,
// and delivers its result to done. It returns immediately, matching the
// execute_async contract; if ctx is canceled before a slot frees up, done
// is invoked with ctx.Err() and fn never runs.
func (e *AsyncExecutor) Submit(ctx context.Context, fn func(context.Context) error, done func(error)) {
	if e.sem == nil {
		go func() { done(fn(ctx)) }()
		return
	}
	go func() {
		if err := e.sem.Acquire(ctx, 1); err != nil {
			done(err)
			return
		}
		defer e.sem.Release(1)
		done(fn(ctx))
	}()
}

// ExecuteAsync is the execute_async counterpart to Operation.Execute
// (spec.md §5): it submits op's synchronous execution to executor and
// invokes done with the result once it completes, without blocking the
// caller. The two surfaces share every component below Execute itself —
// server selection, retry, command dispatch — exactly as spec.md requires.
func (op Operation) ExecuteAsync(ctx context.Context, opCtx *OperationContext, executor *AsyncExecutor, done func(error)) {
	executor.Submit(ctx, func(ctx context.Context) error {
		return op.Execute(ctx, opCtx)
	}, done)
}
