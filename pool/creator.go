package pool

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

const (
	createBackoffStart = 250 * time.Millisecond
	createBackoffCap   = 10 * time.Second
)

// eolLifetime returns the effective lifetime for a new entry: maxLifetime
// minus a random variance of up to 2.5%, so a cohort of entries created
// together never expires together and triggers a thundering-herd refill.
// Short lifetimes get no variance.
func eolLifetime(maxLifetime time.Duration) time.Duration {
	var variance time.Duration
	if maxLifetime > 10*time.Second {
		variance = time.Duration(rand.Int63n(int64(maxLifetime / 40)))
	}
	return maxLifetime - variance
}

// runCreator grows the pool by one entry, retrying transient factory
// failures with backoff for as long as the pool is normal and below
// capacity. Returns whether an entry was added.
func (p *Pool[H]) runCreator() bool {
	backoff := createBackoffStart
	for State(p.state.Load()) == StateNormal {
		if !p.reserveSlot() {
			// At capacity.
			return false
		}

		e, err := p.createEntry()
		if err == nil {
			if aerr := p.bag.Add(e); aerr != nil {
				p.releaseSlot()
				e.stopTimers()
				p.factory.Close(e.handle)
				return false
			}
			p.log.Debugf("%s - added handle (total=%d)", p.name, p.total.Load())
			return true
		}

		p.releaseSlot()
		p.setLastFailure(err)
		if State(p.state.Load()) == StateNormal {
			p.log.Debugf("%s - cannot open handle from factory: %v", p.name, err)
		}

		if !p.sleepInterruptible(backoff) {
			return false
		}
		backoff = minDuration(createBackoffCap, minDuration(p.connTimeout(), backoff*3/2))
	}
	// Pool is suspended or shut down.
	return false
}

// createEntry opens one handle and wraps it, arming the end-of-life timer.
func (p *Pool[H]) createEntry() (*entry[H], error) {
	if p.createLimiter != nil {
		if err := p.createLimiter.Wait(p.lifeCtx); err != nil {
			return nil, fmt.Errorf("create limiter: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(p.lifeCtx, p.connTimeout())
	defer cancel()
	h, err := p.factory.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("factory.Open: %w", err)
	}

	e := newEntry(h, p.clock.Now())
	if maxLifetime := p.cfg.MaxLifetime; maxLifetime > 0 {
		lifetime := eolLifetime(maxLifetime)
		e.setEol(time.AfterFunc(lifetime, func() {
			p.softEvict(e, "handle has passed maxLifetime", false)
		}))
	}
	return e, nil
}

// reserveSlot claims a unit of capacity before creation starts, so total
// can never overshoot MaximumPoolSize.
func (p *Pool[H]) reserveSlot() bool {
	for {
		t := p.total.Load()
		if int(t) >= p.cfg.MaximumPoolSize {
			return false
		}
		if p.total.CompareAndSwap(t, t+1) {
			return true
		}
	}
}

func (p *Pool[H]) releaseSlot() {
	p.total.Add(-1)
}

// sleepInterruptible sleeps for d unless the pool is stopped first.
func (p *Pool[H]) sleepInterruptible(d time.Duration) bool {
	select {
	case <-p.lifeCtx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
