package batch

import (
	"sync"
	"time"
)

type windowRecord struct {
	Timestamps []time.Time `json:"timestamps"`
}

// WindowLimiter counts events per key over a sliding window.
type WindowLimiter struct {
	mu      sync.Mutex
	records map[string]*windowRecord
	max     int
	window  time.Duration
	now     func() time.Time
}

// NewWindowLimiter creates a limiter that admits max events per key within
// window.
func NewWindowLimiter(max int, window time.Duration) *WindowLimiter {
	return &WindowLimiter{
		records: make(map[string]*windowRecord),
		max:     max,
		window:  window,
		now:     time.Now,
	}
}

// Allow records an event for key and reports whether it fits in the window.
// Rejected events are not recorded.
func (wl *WindowLimiter) Allow(key string) bool {
	wl.mu.Lock()
	defer wl.mu.Unlock()

	now := wl.now()
	rec, ok := wl.records[key]
	if !ok {
		rec = &windowRecord{}
		wl.records[key] = rec
	}
	wl.prune(rec, now)

	if len(rec.Timestamps) >= wl.max {
		return false
	}
	rec.Timestamps = append(rec.Timestamps, now)
	return true
}

// Remaining returns events left for key in the current window.
func (wl *WindowLimiter) Remaining(key string) int {
	wl.mu.Lock()
	defer wl.mu.Unlock()

	rec := wl.records[key]
	if rec == nil {
		return wl.max
	}
	wl.prune(rec, wl.now())
	rem := wl.max - len(rec.Timestamps)
	if rem < 0 {
		rem = 0
	}
	return rem
}

// Reset forgets every event for key.
func (wl *WindowLimiter) Reset(key string) {
	wl.mu.Lock()
	defer wl.mu.Unlock()
	delete(wl.records, key)
}

func (wl *WindowLimiter) prune(rec *windowRecord, now time.Time) {
	cutoff := now.Add(-wl.window)
	valid := rec.Timestamps[:0]
	for _, t := range rec.Timestamps {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	rec.Timestamps = valid
}
