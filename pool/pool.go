package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/superfly/sessionpool/bag"
	"github.com/superfly/sessionpool/clock"
)

// State is the engine-level pool state.
type State int32

const (
	StateNormal State = iota
	StateSuspended
	StateShutdown
)

func (s State) String() string {
	switch s {
	case StateNormal:
		return "normal"
	case StateSuspended:
		return "suspended"
	case StateShutdown:
		return "shutdown"
	}
	return fmt.Sprintf("state-%d", int32(s))
}

const shutdownStageTimeout = 5 * time.Second

// Pool orchestrates handle creation, borrowing, return, eviction and
// shutdown over a concurrent handoff bag.
type Pool[H any] struct {
	cfg     Config
	name    string
	factory Factory[H]

	log      logrus.FieldLogger
	clock    clock.Clock
	recorder Recorder

	bag  *bag.Bag[*entry[H]]
	gate *admissionGate

	state atomic.Int32

	// total counts live entries plus creations in flight; a slot is
	// reserved before the factory is called so the cap can never be
	// overshot.
	total atomic.Int32

	// Mutable at runtime via the management surface.
	connTimeoutNs  atomic.Int64
	validTimeoutNs atomic.Int64
	leakNs         atomic.Int64

	failMu      sync.Mutex
	lastFailure error

	closer        *closerPool
	addTokens     chan struct{}
	creatorWG     sync.WaitGroup
	createLimiter *rate.Limiter

	prevTick atomic.Int64 // last housekeeping stamp, unix nanos

	lifeCtx context.Context
	stop    context.CancelFunc

	suspendMu sync.Mutex
}

type settings struct {
	log      logrus.FieldLogger
	clock    clock.Clock
	recorder Recorder
}

// Opt adjusts the pool's injected collaborators.
type Opt func(*settings)

// WithLogger sets the logger. The default is logrus.StandardLogger().
func WithLogger(l logrus.FieldLogger) Opt {
	return func(s *settings) { s.log = l }
}

// WithClock sets the time source, for tests.
func WithClock(c clock.Clock) Opt {
	return func(s *settings) { s.clock = c }
}

// WithRecorder sets the metrics sink. The default discards everything.
func WithRecorder(r Recorder) Opt {
	return func(s *settings) { s.recorder = r }
}

// New builds a pool over factory and begins filling it toward MinimumIdle.
// With InitializationFailFast set, one handle is opened and validated
// synchronously first and construction fails if that does not work.
func New[H any](factory Factory[H], cfg Config, opts ...Opt) (*Pool[H], error) {
	if factory == nil {
		return nil, fmt.Errorf("no handle factory provided")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := settings{
		log:      logrus.StandardLogger(),
		clock:    clock.System(),
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(&s)
	}

	lifeCtx, stop := context.WithCancel(context.Background())
	p := &Pool[H]{
		cfg:      cfg,
		name:     cfg.Name,
		factory:  factory,
		log:      s.log,
		clock:    s.clock,
		recorder: s.recorder,
		gate:     newGate(cfg.AllowPoolSuspension),
		lifeCtx:  lifeCtx,
		stop:     stop,
	}
	p.bag = bag.New[*entry[H]](p)
	p.closer = newCloserPool(cfg.MaximumPoolSize, p.recorder.RecordCloseOverflow)
	p.addTokens = make(chan struct{}, cfg.MaximumPoolSize)
	if cfg.MaxCreateRate > 0 {
		p.createLimiter = rate.NewLimiter(rate.Limit(cfg.MaxCreateRate), 1)
	}

	p.connTimeoutNs.Store(int64(cfg.ConnectionTimeout))
	p.validTimeoutNs.Store(int64(cfg.ValidationTimeout))
	p.leakNs.Store(int64(cfg.LeakDetectionThreshold))
	// The first tick fires a full period after construction.
	p.prevTick.Store(p.clock.Now().UnixNano())

	if cfg.InitializationFailFast {
		if err := p.checkFailFast(); err != nil {
			stop()
			p.closer.stop()
			return nil, err
		}
	}

	go p.housekeeperLoop()
	p.fillPool()
	return p, nil
}

// checkFailFast proves the factory works: open one handle, validate it,
// close it. The only synchronous startup check.
func (p *Pool[H]) checkFailFast() error {
	ctx, cancel := context.WithTimeout(p.lifeCtx, p.connTimeout())
	defer cancel()

	h, err := p.factory.Open(ctx)
	if err != nil {
		return &InitError{Cause: err}
	}
	alive := p.factory.Validate(h, p.validationTimeout())
	p.factory.Close(h)
	if !alive {
		return &InitError{Cause: fmt.Errorf("%s - initial handle failed validation", p.name)}
	}
	return nil
}

// Borrow claims a handle with the pool's default deadline.
func (p *Pool[H]) Borrow(ctx context.Context) (*Handle[H], error) {
	return p.BorrowTimeout(ctx, p.connTimeout())
}

// BorrowTimeout claims a handle, waiting up to hardTimeout. Handles that
// fail the liveness re-check are closed and the wait continues within the
// same budget; only an exhausted deadline surfaces as TimeoutError.
func (p *Pool[H]) BorrowTimeout(ctx context.Context, hardTimeout time.Duration) (*Handle[H], error) {
	if State(p.state.Load()) == StateShutdown {
		return nil, ErrPoolClosed
	}

	start := p.clock.Now()

	gctx, cancel := context.WithTimeout(ctx, hardTimeout)
	err := p.gate.acquire(gctx)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, p.timeoutError(start)
	}
	defer p.gate.release()

	timeout := hardTimeout - p.clock.Now().Sub(start)
	for timeout > 0 {
		e, err := p.bag.Borrow(ctx, timeout)
		if err != nil {
			if errors.Is(err, bag.ErrTimeout) {
				break
			}
			if errors.Is(err, bag.ErrBagClosed) {
				return nil, ErrPoolClosed
			}
			return nil, err
		}

		now := p.clock.Now()
		if e.isEvicted() ||
			(now.Sub(e.lastAccess()) > p.cfg.AliveBypassWindow && !p.factory.Validate(e.handle, p.validationTimeout())) {
			// Throw away the dead handle; its replacement is the
			// creator's problem, and the caller keeps whatever budget
			// remains.
			p.closeEntry(e, "handle is evicted or dead")
			timeout = hardTimeout - p.clock.Now().Sub(start)
			continue
		}

		p.recorder.RecordBorrow(now.Sub(start))
		return p.newHandle(e, now), nil
	}

	return nil, p.timeoutError(start)
}

func (p *Pool[H]) timeoutError(start time.Time) error {
	p.logPoolState("Timeout failure ")
	p.recorder.RecordTimeout()
	return &TimeoutError{
		Pool:        p.name,
		Elapsed:     p.clock.Now().Sub(start),
		LastFailure: p.lastCreateFailure(),
	}
}

// Evict retires the handle behind h. If the caller still holds h the entry
// is closed directly; if h was already returned the entry is marked and
// reclaimed as soon as it is idle.
func (p *Pool[H]) Evict(h *Handle[H]) {
	h.entry.cancelLeak()
	owner := h.closed.CompareAndSwap(false, true)
	p.softEvict(h.entry, "handle evicted by user", owner)
}

// SoftEvictAll marks every entry for eviction and reclaims the idle ones
// immediately. In-use entries are reclaimed by whoever touches them next.
func (p *Pool[H]) SoftEvictAll() {
	for _, e := range p.bag.Values() {
		p.softEvict(e, "handle evicted", false)
	}
}

// softEvict marks the entry and closes it if the caller owns it or it can
// be reserved. Losing the reserve race is fine: the winner observes the
// eviction mark and routes the entry to closure itself.
func (p *Pool[H]) softEvict(e *entry[H], reason string, owner bool) {
	e.markEvicted()
	if owner || p.bag.Reserve(e) {
		p.closeEntry(e, reason)
	}
}

// closeEntry detaches an exclusively-held entry from the bag and submits
// the real handle for disposal.
func (p *Pool[H]) closeEntry(e *entry[H], reason string) {
	if !p.bag.Remove(e) {
		return
	}
	tc := p.total.Add(-1)
	if tc < 0 {
		p.log.Warnf("%s - unexpected value of total=%d", p.name, tc)
	}
	e.stopTimers()

	h := e.handle
	p.closer.submit(func() {
		p.factory.Close(h)
		p.log.Debugf("%s - closed handle (%s)", p.name, reason)
	})
}

// Suspend drains the admission gate so new borrows block until Resume.
func (p *Pool[H]) Suspend() error {
	if p.gate.faux() {
		return fmt.Errorf("%s - %w", p.name, ErrNotSuspendable)
	}
	p.suspendMu.Lock()
	defer p.suspendMu.Unlock()

	if p.state.CompareAndSwap(int32(StateNormal), int32(StateSuspended)) {
		p.gate.suspend()
	}
	return nil
}

// Resume restores admissions and refills the pool so released waiters find
// handles.
func (p *Pool[H]) Resume() {
	p.suspendMu.Lock()
	defer p.suspendMu.Unlock()

	if p.state.CompareAndSwap(int32(StateSuspended), int32(StateNormal)) {
		p.fillPool()
		p.gate.resume()
	}
}

// Shutdown closes the pool: soft-evicts everything, waits briefly for
// in-flight creations, then repeatedly aborts in-use handles until the pool
// is empty or the stage budget runs out. Idempotent.
func (p *Pool[H]) Shutdown() error {
	for {
		s := p.state.Load()
		if State(s) == StateShutdown {
			return nil
		}
		if p.state.CompareAndSwap(s, int32(StateShutdown)) {
			break
		}
	}

	p.log.Infof("%s - close initiated...", p.name)
	p.logPoolState("Before closing ")

	p.stop()
	p.SoftEvictAll()
	if !waitTimeout(&p.creatorWG, shutdownStageTimeout) {
		p.log.Warnf("%s - creators still running after %v", p.name, shutdownStageTimeout)
	}
	p.bag.Close()

	assassin := newCloserPool(p.cfg.MaximumPoolSize, nil)
	start := p.clock.Now()
	for p.total.Load() > 0 && p.clock.Now().Sub(start) < shutdownStageTimeout {
		p.abortActive(assassin)
		p.SoftEvictAll()
		if p.total.Load() > 0 {
			time.Sleep(50 * time.Millisecond)
		}
	}
	assassin.stop()
	p.closer.stop()

	p.logPoolState("After closing ")
	p.log.Infof("%s - closed", p.name)

	if tc := p.total.Load(); tc > 0 {
		return fmt.Errorf("%s - %d handles not reclaimed during shutdown", p.name, tc)
	}
	return nil
}

// abortActive force-terminates handles still in use during shutdown.
func (p *Pool[H]) abortActive(assassin *closerPool) {
	for _, e := range p.bag.ValuesIn(bag.StateInUse) {
		e.stopTimers()
		h := e.handle
		assassin.submit(func() { p.factory.Abort(h) })
		if p.bag.Remove(e) {
			p.total.Add(-1)
		}
	}
}

// ItemNeeded implements bag.Listener: a borrower found the bag dry. Spawn a
// creator unless the adder is already saturated; creation requests are
// idempotent, the housekeeper re-requests on the next tick.
func (p *Pool[H]) ItemNeeded() {
	if State(p.state.Load()) != StateNormal {
		return
	}
	select {
	case p.addTokens <- struct{}{}:
		p.creatorWG.Add(1)
		go func() {
			defer p.creatorWG.Done()
			defer func() { <-p.addTokens }()
			p.runCreator()
		}()
	default:
		// Adder saturated; discard.
	}
}

// Gauges for the management surface.

func (p *Pool[H]) Name() string { return p.name }

// PoolState returns the engine state.
func (p *Pool[H]) PoolState() State { return State(p.state.Load()) }

// Active returns the number of handles currently borrowed.
func (p *Pool[H]) Active() int { return p.bag.Count(bag.StateInUse) }

// Idle returns the number of handles ready to borrow.
func (p *Pool[H]) Idle() int { return p.bag.Count(bag.StateNotInUse) }

// Total returns the number of live handles, including creations in flight.
func (p *Pool[H]) Total() int { return int(p.total.Load()) }

// Waiting returns the number of borrowers parked for a handle.
func (p *Pool[H]) Waiting() int { return p.bag.Pending() }

// Runtime-mutable knobs. Updates are visible to the next borrow; the
// housekeeper needs no restart.

func (p *Pool[H]) ConnectionTimeout() time.Duration { return p.connTimeout() }
func (p *Pool[H]) SetConnectionTimeout(d time.Duration) {
	p.connTimeoutNs.Store(int64(d))
}

func (p *Pool[H]) ValidationTimeout() time.Duration { return p.validationTimeout() }
func (p *Pool[H]) SetValidationTimeout(d time.Duration) {
	p.validTimeoutNs.Store(int64(d))
}

func (p *Pool[H]) LeakDetectionThreshold() time.Duration { return p.leakThreshold() }
func (p *Pool[H]) SetLeakDetectionThreshold(d time.Duration) {
	p.leakNs.Store(int64(d))
}

func (p *Pool[H]) connTimeout() time.Duration       { return time.Duration(p.connTimeoutNs.Load()) }
func (p *Pool[H]) validationTimeout() time.Duration { return time.Duration(p.validTimeoutNs.Load()) }
func (p *Pool[H]) leakThreshold() time.Duration     { return time.Duration(p.leakNs.Load()) }

func (p *Pool[H]) setLastFailure(err error) {
	p.failMu.Lock()
	defer p.failMu.Unlock()
	p.lastFailure = err
}

func (p *Pool[H]) lastCreateFailure() error {
	p.failMu.Lock()
	defer p.failMu.Unlock()
	return p.lastFailure
}

func (p *Pool[H]) logPoolState(prefix string) {
	p.log.Debugf("%s - %sstats (total=%d, active=%d, idle=%d, waiting=%d)",
		p.name, prefix, p.Total(), p.Active(), p.Idle(), p.Waiting())
}

// waitTimeout waits on wg up to d.
func waitTimeout(wg *sync.WaitGroup, d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}
