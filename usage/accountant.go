// Package usage tracks per-key request timestamps in memory: a bounded
// sliding window per key, used for per-key usage statistics. Key
// rotation order does not consult it.
package usage

import (
	"sync"
	"time"
)

const (
	// DefaultMaxTimestampsPerKey bounds the length of each key's window.
	DefaultMaxTimestampsPerKey = 10000
	// DefaultWindowSeconds is the retention horizon for a timestamp.
	DefaultWindowSeconds = 86400
)

// Counts is the result of Aggregate for one key: request counts over
// the last minute, hour, and day.
type Counts struct {
	Last1m  int
	Last1h  int
	Last24h int
}

// Accountant owns one usage window per key_id for the life of the
// process.
type Accountant struct {
	mu                  sync.Mutex
	windows             map[string][]time.Time
	maxTimestampsPerKey int
	windowSeconds       int
}

// New returns an Accountant. maxTimestamps and windowSeconds fall back
// to the defaults above when zero.
func New(maxTimestamps, windowSeconds int) *Accountant {
	if maxTimestamps <= 0 {
		maxTimestamps = DefaultMaxTimestampsPerKey
	}
	if windowSeconds <= 0 {
		windowSeconds = DefaultWindowSeconds
	}
	return &Accountant{
		windows:             make(map[string][]time.Time),
		maxTimestampsPerKey: maxTimestamps,
		windowSeconds:       windowSeconds,
	}
}

// Record appends now to key_id's window, evicts entries older than the
// configured retention window, then trims from the head until the
// length is within the configured cap.
func (a *Accountant) Record(keyID string, now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	w := append(a.windows[keyID], now)
	cutoff := now.Add(-time.Duration(a.windowSeconds) * time.Second)

	i := 0
	for i < len(w) && w[i].Before(cutoff) {
		i++
	}
	w = w[i:]

	if excess := len(w) - a.maxTimestampsPerKey; excess > 0 {
		w = w[excess:]
	}

	a.windows[keyID] = w
}

// Aggregate returns, for every known key_id, the count of timestamps
// within {1m, 1h, 24h} of now, computed in a single pass per key.
func (a *Accountant) Aggregate(now time.Time) map[string]Counts {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make(map[string]Counts, len(a.windows))
	for keyID, ts := range a.windows {
		var c Counts
		for _, t := range ts {
			age := now.Sub(t)
			if age <= time.Minute {
				c.Last1m++
			}
			if age <= time.Hour {
				c.Last1h++
			}
			if age <= 24*time.Hour {
				c.Last24h++
			}
		}
		out[keyID] = c
	}
	return out
}

// CountInWindow returns the number of recorded timestamps for keyID
// that fall within w of now.
func (a *Accountant) CountInWindow(keyID string, now time.Time, w time.Duration) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, t := range a.windows[keyID] {
		if now.Sub(t) <= w {
			n++
		}
	}
	return n
}

// Forget discards the window for a single key, e.g. after deletion.
func (a *Accountant) Forget(keyID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.windows, keyID)
}

// GC drops windows for any key_id absent from validIDs, reclaiming
// entries for keys the repository no longer holds.
func (a *Accountant) GC(validIDs map[string]struct{}) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for keyID := range a.windows {
		if _, ok := validIDs[keyID]; !ok {
			delete(a.windows, keyID)
		}
	}
}

// Len reports the current window length for keyID, for tests and
// diagnostics.
func (a *Accountant) Len(keyID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.windows[keyID])
}

// Sizes reports the current window length for every known key.
func (a *Accountant) Sizes() map[string]int {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]int, len(a.windows))
	for keyID, w := range a.windows {
		out[keyID] = len(w)
	}
	return out
}
