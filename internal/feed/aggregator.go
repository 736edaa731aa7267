// Package feed turns raw upstream rate samples into oracle update
// candidates. A sliding median over the last N samples filters out
// single-tick spikes before they reach the deviation check.
package feed

import (
	"sort"
	"sync"
)

// Aggregator keeps a fixed-size sliding window of rate samples.
type Aggregator struct {
	mu     sync.Mutex
	window []uint64
	size   int
	next   int
	filled bool
}

// NewAggregator creates an aggregator over the last size samples.
func NewAggregator(size int) *Aggregator {
	if size <= 0 {
		size = 5
	}
	return &Aggregator{
		window: make([]uint64, size),
		size:   size,
	}
}

// Add records a sample, evicting the oldest when the window is full.
// Zero rates are ignored.
func (a *Aggregator) Add(rate uint64) {
	if rate == 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.window[a.next] = rate
	a.next = (a.next + 1) % a.size
	if a.next == 0 {
		a.filled = true
	}
}

// Ready reports whether a full window has been collected.
func (a *Aggregator) Ready() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.filled
}

// Median returns the median of the current window. The second return is
// false until the window is full. For even window sizes the lower middle
// is used, keeping the result one of the observed samples.
func (a *Aggregator) Median() (uint64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.filled {
		return 0, false
	}
	sorted := make([]uint64, a.size)
	copy(sorted, a.window)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return sorted[(a.size-1)/2], true
}
