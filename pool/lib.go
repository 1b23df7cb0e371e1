// Package pool implements a high-concurrency pool of expensive, reusable
// handles to a remote service. Clients borrow a handle, use it, and return
// it; the pool amortizes creation cost, enforces min/max capacity, retires
// handles that have aged out or failed a liveness probe, and serves borrows
// with a bounded wait.
//
// The pool is generic over the handle type H. The embedder supplies a
// Factory that knows how to open, validate, close and abort real handles;
// the concurrent handoff bag, the per-handle state machine, and the
// housekeeping loop live here.
package pool

import (
	"context"
	"time"
)

// Factory opens and disposes of the real handles the pool manages.
type Factory[H any] interface {
	// Open creates a new handle. It is called from adder workers and may
	// be slow; it must honor ctx.
	Open(ctx context.Context) (H, error)

	// Validate probes a handle for liveness within the given budget.
	Validate(h H, timeout time.Duration) bool

	// Close disposes of a handle. It must be idempotent and must not panic.
	Close(h H)

	// Abort forcefully terminates a handle during shutdown, best effort.
	Abort(h H)
}

// Recorder receives the pool's metrics. The zero recorder is a no-op; a live
// implementation is stats.Recorder.
type Recorder interface {
	RecordBorrow(wait time.Duration)
	RecordUsage(d time.Duration)
	RecordTimeout()
	RecordCloseOverflow()
}

type nopRecorder struct{}

func (nopRecorder) RecordBorrow(time.Duration) {}
func (nopRecorder) RecordUsage(time.Duration)  {}
func (nopRecorder) RecordTimeout()             {}
func (nopRecorder) RecordCloseOverflow()       {}
