package metrics

import (
	"math"
	"sort"
	"sync"
	"time"
)

// RollingWindow keeps the most recent durations in a fixed-capacity ring
// buffer. Once full, each Record overwrites the oldest sample, so memory is
// bounded regardless of load. Safe for concurrent use.
type RollingWindow struct {
	mu      sync.Mutex
	samples []time.Duration
	next    int
	full    bool
}

// NewRollingWindow creates a window holding at most capacity samples
func NewRollingWindow(capacity int) *RollingWindow {
	if capacity <= 0 {
		capacity = 1
	}
	return &RollingWindow{samples: make([]time.Duration, capacity)}
}

// Record adds a sample, evicting the oldest when the window is full
func (w *RollingWindow) Record(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.samples[w.next] = d
	w.next++
	if w.next == len(w.samples) {
		w.next = 0
		w.full = true
	}
}

// Len returns the number of samples held
func (w *RollingWindow) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lenLocked()
}

// Cap returns the window capacity
func (w *RollingWindow) Cap() int {
	return len(w.samples)
}

// Reset drops every sample
func (w *RollingWindow) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.next = 0
	w.full = false
}

// Snapshot returns the samples in insertion order, oldest first
func (w *RollingWindow) Snapshot() []time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.full {
		return append([]time.Duration(nil), w.samples[:w.next]...)
	}
	out := make([]time.Duration, 0, len(w.samples))
	out = append(out, w.samples[w.next:]...)
	return append(out, w.samples[:w.next]...)
}

// Percentile returns the nearest-rank percentile p (0-100) of the held
// samples, or 0 when the window is empty.
func (w *RollingWindow) Percentile(p float64) time.Duration {
	return percentile(w.sorted(), p)
}

// Percentiles returns p50, p95 and p99 from a single sorted copy
func (w *RollingWindow) Percentiles() Percentiles {
	s := w.sorted()
	return Percentiles{
		P50: percentile(s, 50),
		P95: percentile(s, 95),
		P99: percentile(s, 99),
	}
}

// Summarize computes p50, p95 and p99 of arbitrary samples
func Summarize(samples []time.Duration) Percentiles {
	s := append([]time.Duration(nil), samples...)
	sort.Slice(s, func(i, j int) bool { return s[i] < s[j] })
	return Percentiles{
		P50: percentile(s, 50),
		P95: percentile(s, 95),
		P99: percentile(s, 99),
	}
}

// Percentiles is a latency summary
type Percentiles struct {
	P50 time.Duration `json:"p50"`
	P95 time.Duration `json:"p95"`
	P99 time.Duration `json:"p99"`
}

func (w *RollingWindow) sorted() []time.Duration {
	w.mu.Lock()
	s := append([]time.Duration(nil), w.samples[:w.lenLocked()]...)
	w.mu.Unlock()

	sort.Slice(s, func(i, j int) bool { return s[i] < s[j] })
	return s
}

func (w *RollingWindow) lenLocked() int {
	if w.full {
		return len(w.samples)
	}
	return w.next
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	rank := int(math.Ceil(p / 100 * float64(len(sorted))))
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}
