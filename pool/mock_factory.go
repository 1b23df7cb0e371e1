package pool

import (
	"context"
	"sync/atomic"
	"time"
)

// MockHandle is the handle type produced by MockFactory.
type MockHandle struct {
	ID      int
	closed  atomic.Bool
	aborted atomic.Bool
}

func (h *MockHandle) Closed() bool  { return h.closed.Load() }
func (h *MockHandle) Aborted() bool { return h.aborted.Load() }

// MockFactory is an in-memory Factory for tests. Behavior hooks must be set
// before the factory is handed to a pool.
type MockFactory struct {
	// OpenErr, when set, is consulted with the attempt ordinal (starting
	// at 0); a non-nil result fails that open.
	OpenErr func(attempt int32) error

	// ValidateFn, when set, decides liveness; the default is "alive
	// unless closed".
	ValidateFn func(h *MockHandle) bool

	// OpenDelay slows every open down, honoring ctx.
	OpenDelay time.Duration

	attempts atomic.Int32
	opened   atomic.Int32
	closed   atomic.Int32
	aborted  atomic.Int32
}

var _ Factory[*MockHandle] = (*MockFactory)(nil)

func (f *MockFactory) Open(ctx context.Context) (*MockHandle, error) {
	attempt := f.attempts.Add(1) - 1
	if f.OpenDelay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.OpenDelay):
		}
	}
	if f.OpenErr != nil {
		if err := f.OpenErr(attempt); err != nil {
			return nil, err
		}
	}
	return &MockHandle{ID: int(f.opened.Add(1)) - 1}, nil
}

func (f *MockFactory) Validate(h *MockHandle, timeout time.Duration) bool {
	if h.closed.Load() {
		return false
	}
	if f.ValidateFn != nil {
		return f.ValidateFn(h)
	}
	return true
}

func (f *MockFactory) Close(h *MockHandle) {
	if h.closed.CompareAndSwap(false, true) {
		f.closed.Add(1)
	}
}

func (f *MockFactory) Abort(h *MockHandle) {
	if h.aborted.CompareAndSwap(false, true) {
		f.aborted.Add(1)
	}
	f.Close(h)
}

func (f *MockFactory) Attempts() int { return int(f.attempts.Load()) }
func (f *MockFactory) Opened() int   { return int(f.opened.Load()) }
func (f *MockFactory) Closes() int   { return int(f.closed.Load()) }
func (f *MockFactory) Aborts() int   { return int(f.aborted.Load()) }
