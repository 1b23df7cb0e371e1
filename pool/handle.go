package pool

import (
	"sync/atomic"
	"time"
)

// Handle is the wrapper handed to a borrower. It guarantees single release:
// however many times Close is called, the entry goes back to the bag exactly
// once, and a late Close is a logged no-op rather than a double return.
//
// Callers should release on every exit path, typically with defer:
//
//	h, err := p.Borrow(ctx)
//	if err != nil { ... }
//	defer h.Close()
type Handle[H any] struct {
	pool     *Pool[H]
	entry    *entry[H]
	borrowed time.Time
	closed   atomic.Bool
}

// Value returns the raw handle. It must not be used after Close.
func (h *Handle[H]) Value() H { return h.entry.handle }

// Close returns the handle to the pool. It is safe to call more than once;
// only the first call releases.
func (h *Handle[H]) Close() error {
	if !h.closed.CompareAndSwap(false, true) {
		h.pool.log.Warnf("%s - handle returned twice, ignoring", h.pool.name)
		return nil
	}

	p := h.pool
	h.entry.cancelLeak()
	p.recorder.RecordUsage(p.clock.Now().Sub(h.borrowed))
	h.entry.touch(p.clock.Now())
	p.bag.Requite(h.entry)
	return nil
}

// newHandle wraps entry for a borrower, stamping last access and arming the
// leak timer.
func (p *Pool[H]) newHandle(e *entry[H], now time.Time) *Handle[H] {
	e.touch(now)

	if threshold := p.leakThreshold(); threshold > 0 {
		e.setLeak(time.AfterFunc(threshold, func() {
			p.log.Warnf("%s - borrow exceeded leak detection threshold (%v), handle may have leaked: %s",
				p.name, threshold, e)
		}))
	}

	return &Handle[H]{pool: p, entry: e, borrowed: now}
}
