package pool

import (
	"slices"
	"time"

	"github.com/samber/lo"

	"github.com/superfly/sessionpool/bag"
)

// retrogradeAllowance tolerates small backward steps, per the NTP spec.
const retrogradeAllowance = 128 * time.Millisecond

// housekeeperLoop runs houseKeep with a fixed delay between ticks: the next
// delay starts only after the previous tick completes, so a slow tick never
// overlaps itself.
func (p *Pool[H]) housekeeperLoop() {
	for {
		select {
		case <-p.lifeCtx.Done():
			return
		case <-time.After(p.cfg.HousekeepingPeriod):
		}
		p.houseKeep()
	}
}

// houseKeep is one maintenance tick: defend against clock jumps, retire
// handles idle beyond IdleTimeout down to MinimumIdle, and refill. A panic
// here is logged and absorbed; one bad tick must not kill the loop.
func (p *Pool[H]) houseKeep() {
	defer func() {
		if r := recover(); r != nil {
			p.log.Errorf("%s - unexpected panic in housekeeping task: %v", p.name, r)
		}
	}()

	// Borrow deadlines and the leak threshold are read through atomics at
	// their point of use, so management updates are already live.
	period := p.cfg.HousekeepingPeriod
	now := p.clock.Now()
	prev := time.Unix(0, p.prevTick.Load())

	if now.Add(retrogradeAllowance).Before(prev.Add(period)) {
		// The clock moved backward: every lastAccessed stamp is now
		// unreliable, so retire everything rather than risk serving
		// stale handles.
		p.log.Warnf("%s - retrograde clock change detected (housekeeper delta=%v), soft-evicting handles from pool",
			p.name, now.Sub(prev))
		p.prevTick.Store(now.UnixNano())
		p.SoftEvictAll()
		p.fillPool()
		return
	}
	if now.After(prev.Add(period * 3 / 2)) {
		// Forward motion merely accelerates natural retirement; no
		// point evicting.
		p.log.Warnf("%s - goroutine starvation or clock leap detected (housekeeper delta=%v)",
			p.name, now.Sub(prev))
	}
	p.prevTick.Store(now.UnixNano())

	if idleTimeout := p.cfg.IdleTimeout; idleTimeout > 0 {
		idle := p.bag.ValuesIn(bag.StateNotInUse)
		removable := len(idle) - p.cfg.MinimumIdle
		if removable > 0 {
			p.logPoolState("Before cleanup ")

			expired := lo.Filter(idle, func(e *entry[H], _ int) bool {
				return now.Sub(e.lastAccess()) > idleTimeout
			})
			slices.SortFunc(expired, func(a, b *entry[H]) int {
				return a.lastAccess().Compare(b.lastAccess())
			})
			for _, e := range expired {
				if removable == 0 {
					break
				}
				if p.bag.Reserve(e) {
					p.closeEntry(e, "handle has passed idleTimeout")
					removable--
				}
			}

			p.logPoolState("After cleanup ")
		}
	}

	p.fillPool()
}

// fillPool tops the pool up toward MinimumIdle, bounded by MaximumPoolSize
// and discounting creations already queued.
func (p *Pool[H]) fillPool() {
	want := min(p.cfg.MaximumPoolSize-p.Total(), p.cfg.MinimumIdle-p.Idle()) - len(p.addTokens)
	for i := 0; i < want; i++ {
		p.ItemNeeded()
	}
}
