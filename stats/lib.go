// Package stats collects live pool metrics: borrow wait and handle usage
// distributions, plus counters for borrow timeouts and close-queue overflow.
// Distributions accumulate count, min, max, average, variance and standard
// deviation incrementally via Welford's algorithm.
// Reference: https://en.wikipedia.org/wiki/Algorithms_for_calculating_variance#Welford's_online_algorithm
package stats

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// Collector incrementally accumulates a distribution of float64 samples.
type Collector struct {
	mu        sync.Mutex
	count     float64
	min       float64
	max       float64
	avg       float64
	meanDist2 float64
}

// NewCollector returns an empty collector.
func NewCollector() *Collector {
	return &Collector{
		min: math.Inf(1),
		max: math.Inf(-1),
	}
}

// Add accumulates x into the collected statistics.
func (p *Collector) Add(x float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.count += 1.0
	if x < p.min {
		p.min = x
	}
	if x > p.max {
		p.max = x
	}
	delta := x - p.avg
	p.avg += delta / p.count
	delta2 := x - p.avg
	p.meanDist2 += delta * delta2
}

// AddDuration accumulates a duration sample, in seconds.
func (p *Collector) AddDuration(d time.Duration) {
	p.Add(d.Seconds())
}

// Dist is a processed snapshot of a collector.
type Dist struct {
	Count  int     `json:"count"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Avg    float64 `json:"avg"`
	Var    float64 `json:"var"`
	StdDev float64 `json:"stddev"`
}

// Stats processes the collected statistics and returns them. An empty
// collector yields the zero Dist: the snapshots are JSON-encoded for the
// management surface, which rules out NaN and infinities.
func (p *Collector) Stats() *Dist {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.count == 0 {
		return &Dist{}
	}

	v := p.meanDist2 / p.count
	return &Dist{
		Count:  int(p.count),
		Min:    p.min,
		Max:    p.max,
		Avg:    p.avg,
		Var:    v,
		StdDev: math.Sqrt(v),
	}
}

// Reset discards all accumulated samples.
func (p *Collector) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.count = 0
	p.min = math.Inf(1)
	p.max = math.Inf(-1)
	p.avg = 0
	p.meanDist2 = 0
}

// Recorder aggregates everything the pool reports about itself.
type Recorder struct {
	borrowWait *Collector
	usage      *Collector

	timeouts       atomic.Int64
	closeOverflows atomic.Int64
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		borrowWait: NewCollector(),
		usage:      NewCollector(),
	}
}

// RecordBorrow records how long a successful borrow waited.
func (p *Recorder) RecordBorrow(wait time.Duration) {
	p.borrowWait.AddDuration(wait)
}

// RecordUsage records how long a handle was out before being returned.
func (p *Recorder) RecordUsage(d time.Duration) {
	p.usage.AddDuration(d)
}

// RecordTimeout counts a borrow that exhausted its deadline.
func (p *Recorder) RecordTimeout() {
	p.timeouts.Add(1)
}

// RecordCloseOverflow counts a disposal that ran on the caller because the
// close queue was saturated.
func (p *Recorder) RecordCloseOverflow() {
	p.closeOverflows.Add(1)
}

// Snapshot is a point-in-time view of a recorder, JSON-ready for the
// management surface.
type Snapshot struct {
	BorrowWait     *Dist `json:"borrow_wait"`
	Usage          *Dist `json:"usage"`
	Timeouts       int64 `json:"timeouts"`
	CloseOverflows int64 `json:"close_overflows"`
}

// Snapshot returns the current state of the recorder.
func (p *Recorder) Snapshot() *Snapshot {
	return &Snapshot{
		BorrowWait:     p.borrowWait.Stats(),
		Usage:          p.usage.Stats(),
		Timeouts:       p.timeouts.Load(),
		CloseOverflows: p.closeOverflows.Load(),
	}
}
