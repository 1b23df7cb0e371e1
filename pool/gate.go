package pool

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// gatePermits bounds concurrent borrow admissions. The number only needs to
// exceed any plausible borrower count; suspension works by draining all of
// them.
const gatePermits = 10000

// admissionGate lets the pool be quiesced without shutting down. When
// suspension is disabled the gate is a no-op; otherwise it is a bounded
// permit set where each borrow holds one permit for the duration of the
// acquisition (not the usage), and suspend drains every permit so new
// borrows block until resume.
type admissionGate struct {
	sem *semaphore.Weighted // nil means the faux gate
}

func newGate(suspendable bool) *admissionGate {
	if !suspendable {
		return &admissionGate{}
	}
	return &admissionGate{sem: semaphore.NewWeighted(gatePermits)}
}

func (g *admissionGate) faux() bool { return g.sem == nil }

// acquire admits one borrower, blocking while the gate is drained. The ctx
// deadline bounds the wait, so a borrow suspended past its budget times out
// with the suspended time included.
func (g *admissionGate) acquire(ctx context.Context) error {
	if g.sem == nil {
		return nil
	}
	return g.sem.Acquire(ctx, 1)
}

func (g *admissionGate) release() {
	if g.sem != nil {
		g.sem.Release(1)
	}
}

// suspend drains the gate. It waits for borrows currently inside the
// admission section (bounded by their own deadlines), never for handles
// that are merely in use.
func (g *admissionGate) suspend() {
	g.sem.Acquire(context.Background(), gatePermits) //nolint:errcheck // background ctx cannot fail
}

// resume restores the drained permits.
func (g *admissionGate) resume() {
	g.sem.Release(gatePermits)
}
