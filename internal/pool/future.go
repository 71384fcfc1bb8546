package pool

import (
	"context"
	"time"
)

// State is the lifecycle position of a pool task.
type State string

const (
	StateQueued    State = "QUEUED"
	StateRunning   State = "RUNNING"
	StateRetrying  State = "RETRYING"
	StateCompleted State = "COMPLETED"
	StateFailed    State = "FAILED"
)

// IsTerminal reports whether s is COMPLETED or FAILED.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Result is the terminal outcome of a task.
type Result struct {
	TaskID string
	State  State
	Value  any
	Err    error
	// Cached is set when the value came from the cache without running.
	Cached   bool
	Attempts int
	// Duration covers the final attempt only; zero for cache hits.
	Duration time.Duration
}

// Future resolves once its task reaches a terminal state.
type Future struct {
	id     string
	done   chan struct{}
	result Result
}

func newFuture(id string) *Future {
	return &Future{id: id, done: make(chan struct{})}
}

// ID returns the task ID.
func (f *Future) ID() string { return f.id }

// Done is closed when the result is available.
func (f *Future) Done() <-chan struct{} { return f.done }

// Result returns the outcome and whether it is available yet.
func (f *Future) Result() (Result, bool) {
	select {
	case <-f.done:
		return f.result, true
	default:
		return Result{}, false
	}
}

// Wait blocks until the task finishes or ctx ends.
func (f *Future) Wait(ctx context.Context) (Result, error) {
	select {
	case <-f.done:
		return f.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (f *Future) resolve(r Result) {
	f.result = r
	close(f.done)
}
