package pull

import (
	"sync"
	"time"
)

// Frequency throttles pull requests per partition channel. Consecutive
// connection failures on a channel double its interval up to a ceiling;
// any successful exchange restores the base rate. This recovers transport
// outages locally instead of surfacing them through the job pipeline.
type Frequency struct {
	mu     sync.Mutex
	errs   map[string]int
	base   time.Duration
	max    time.Duration
	nextAt map[string]time.Time
}

// NewFrequency creates a throttle with the given base and ceiling
// intervals.
func NewFrequency(base, max time.Duration) *Frequency {
	if base <= 0 {
		base = time.Second
	}
	if max < base {
		max = base
	}
	return &Frequency{
		errs:   make(map[string]int),
		base:   base,
		max:    max,
		nextAt: make(map[string]time.Time),
	}
}

// Interval returns the current pull interval of the channel.
func (f *Frequency) Interval(mpc string) time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.intervalLocked(mpc)
}

func (f *Frequency) intervalLocked(mpc string) time.Duration {
	interval := f.base
	for i := 0; i < f.errs[mpc]; i++ {
		interval *= 2
		if interval >= f.max {
			return f.max
		}
	}
	return interval
}

// Error records a connection failure on the channel, opening a backoff
// window from now.
func (f *Frequency) Error(mpc string, now time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[mpc]++
	f.nextAt[mpc] = now.Add(f.intervalLocked(mpc))
}

// Success restores the base rate of the channel.
func (f *Frequency) Success(mpc string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.errs, mpc)
	delete(f.nextAt, mpc)
}

// ShouldPull reports whether the channel's backoff window has passed.
func (f *Frequency) ShouldPull(mpc string, now time.Time) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !now.Before(f.nextAt[mpc])
}
