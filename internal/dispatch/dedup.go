package dispatch

import (
	"sync"
	"time"
)

// Default dedup windows
const (
	DefaultDedupWindow    = 5 * time.Minute
	DefaultDedupRetention = 30 * time.Minute
)

type dispatchRecord struct {
	pattern string
	at      time.Time
}

// Deduper suppresses repeat escalations of the same pattern string
// inside a rolling window, so a crash loop files one report instead of
// one per match
type Deduper struct {
	mu        sync.Mutex
	window    time.Duration
	retention time.Duration
	recent    []dispatchRecord
	now       func() time.Time
}

// NewDeduper creates a deduper with the given suppress window and
// record retention; non-positive values fall back to the defaults
func NewDeduper(window, retention time.Duration) *Deduper {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	if retention <= 0 {
		retention = DefaultDedupRetention
	}
	return &Deduper{window: window, retention: retention, now: time.Now}
}

// ShouldDispatch prunes stale records, then reports whether pattern may
// escalate now. An allowed dispatch is recorded immediately, before
// delivery is attempted, so a broken executor cannot hot-loop
// escalations.
func (d *Deduper) ShouldDispatch(pattern string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	d.pruneLocked(now)

	for _, r := range d.recent {
		if r.pattern == pattern && now.Sub(r.at) < d.window {
			return false
		}
	}
	d.recent = append(d.recent, dispatchRecord{pattern: pattern, at: now})
	return true
}

// Len returns how many dispatch records are currently retained
func (d *Deduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.recent)
}

func (d *Deduper) pruneLocked(now time.Time) {
	kept := d.recent[:0]
	for _, r := range d.recent {
		if now.Sub(r.at) < d.retention {
			kept = append(kept, r)
		}
	}
	d.recent = kept
}
