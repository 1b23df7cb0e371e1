package pool

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// entry is one pooled slot: it owns one real handle together with the state
// atom that encodes ownership, the access stamps housekeeping relies on, and
// the cancellable timers attached to the handle's life.
//
// The state atom is the sole mutex for handoff: every ownership transfer is
// a CAS performed by the bag. The entry-local mutex only guards the timer
// fields, which are touched off the hot path.
type entry[H any] struct {
	handle H

	state   atomic.Int32
	evicted atomic.Bool

	// lastAccessed is stamped at creation, on handout, and on return, as
	// unix nanos. Read concurrently by the housekeeper and the borrow
	// loop's alive-bypass check.
	lastAccessed atomic.Int64
	creationTime time.Time

	mu   sync.Mutex
	eol  *time.Timer // scheduled soft eviction at maxLifetime - variance
	leak *time.Timer // logs if a borrow outlives the leak threshold
}

func newEntry[H any](handle H, now time.Time) *entry[H] {
	e := &entry[H]{
		handle:       handle,
		creationTime: now,
	}
	e.lastAccessed.Store(now.UnixNano())
	return e
}

// State exposes the state atom to the bag.
func (e *entry[H]) State() *atomic.Int32 { return &e.state }

func (e *entry[H]) touch(now time.Time) {
	e.lastAccessed.Store(now.UnixNano())
}

func (e *entry[H]) lastAccess() time.Time {
	return time.Unix(0, e.lastAccessed.Load())
}

func (e *entry[H]) markEvicted()    { e.evicted.Store(true) }
func (e *entry[H]) isEvicted() bool { return e.evicted.Load() }

// setEol attaches the cancellable end-of-life timer.
func (e *entry[H]) setEol(t *time.Timer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.eol = t
}

// setLeak attaches the leak-detection timer for the current borrow.
func (e *entry[H]) setLeak(t *time.Timer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.leak != nil {
		e.leak.Stop()
	}
	e.leak = t
}

// cancelLeak stops the leak timer, if armed.
func (e *entry[H]) cancelLeak() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.leak != nil {
		e.leak.Stop()
		e.leak = nil
	}
}

// stopTimers cancels both timers. Called when the entry is removed; a
// stopped AfterFunc is released immediately, so cancelled end-of-life tasks
// do not accumulate anywhere.
func (e *entry[H]) stopTimers() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.eol != nil {
		e.eol.Stop()
		e.eol = nil
	}
	if e.leak != nil {
		e.leak.Stop()
		e.leak = nil
	}
}

func (e *entry[H]) String() string {
	return fmt.Sprintf("entry{created=%s, lastAccessed=%s, evicted=%v}",
		e.creationTime.Format(time.RFC3339), e.lastAccess().Format(time.RFC3339), e.isEvicted())
}
