// Package ratelimit implements small rate-limiting combinators used to
// protect the persistent store from invalidation storms driven by rapid
// user actions.
//
// A Debouncer coalesces bursts of calls into one call after a quiet period.
// A Throttler runs at most one call per fixed interval regardless of how
// often it is triggered. State is per-instance; two limiters never share
// timers or bookkeeping.
package ratelimit

import (
	"sync"
	"time"
)

// Debouncer coalesces bursts of Do calls into a single invocation of the
// most recent function, fired once no call has arrived for the configured
// quiet period.
type Debouncer struct {
	quiet time.Duration

	mu    sync.Mutex
	timer *time.Timer
}

// NewDebouncer creates a debouncer with the given quiet period.
func NewDebouncer(quiet time.Duration) *Debouncer {
	return &Debouncer{quiet: quiet}
}

// Do schedules fn to run after the quiet period, replacing any previously
// scheduled function that has not fired yet.
func (d *Debouncer) Do(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.quiet, fn)
}

// Stop cancels any pending invocation. It is safe to call repeatedly.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// Throttler runs at most one function per interval. Calls arriving inside
// the interval are dropped, not queued.
type Throttler struct {
	interval time.Duration

	mu   sync.Mutex
	last time.Time
}

// NewThrottler creates a throttler with the given minimum interval between
// invocations.
func NewThrottler(interval time.Duration) *Throttler {
	return &Throttler{interval: interval}
}

// Do runs fn if at least the configured interval has elapsed since the last
// accepted call. It reports whether fn ran.
func (t *Throttler) Do(fn func()) bool {
	t.mu.Lock()
	now := time.Now()
	if !t.last.IsZero() && now.Sub(t.last) < t.interval {
		t.mu.Unlock()
		return false
	}
	t.last = now
	t.mu.Unlock()

	fn()
	return true
}

// Reset clears the throttle window so the next Do call runs immediately.
func (t *Throttler) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last = time.Time{}
}
