package audio

import (
	"context"
	"sync"
	"time"
)

// Debouncer rate-limits gesture triggers. A periodic timer advances the
// counter; a trigger is accepted once the counter has reached the
// threshold and resets it to zero.
//
// Safe for concurrent use: the timer and the sensor callbacks run on
// different goroutines.
type Debouncer struct {
	mu        sync.Mutex
	ticks     int
	threshold int
}

// NewDebouncer returns a debouncer that is ready to fire immediately.
func NewDebouncer(threshold int) *Debouncer {
	if threshold < 0 {
		threshold = 0
	}
	return &Debouncer{ticks: threshold, threshold: threshold}
}

// Tick advances the counter. It saturates at the threshold.
func (d *Debouncer) Tick() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ticks < d.threshold {
		d.ticks++
	}
}

// TryTrigger reports whether a trigger is allowed now and, if so, resets
// the counter.
func (d *Debouncer) TryTrigger() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ticks < d.threshold {
		return false
	}
	d.ticks = 0
	return true
}

// Ticks returns the current counter value.
func (d *Debouncer) Ticks() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ticks
}

// Run calls Tick every interval until ctx is canceled.
func (d *Debouncer) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Tick()
		}
	}
}
