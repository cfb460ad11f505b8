// Package history provides a bounded, concurrency-safe ring buffer used
// to retain the most recent anomaly records in memory. When the buffer
// is full the oldest entry is evicted.
package history

import "sync"

// DefaultRecentLimit applies when a caller asks for recent entries
// without an explicit limit.
const DefaultRecentLimit = 100

// MaxRecentLimit caps how many entries a single query may return.
const MaxRecentLimit = 1000

// Ring is a fixed-capacity ring buffer of the newest T values.
type Ring[T any] struct {
	mu    sync.Mutex
	buf   []T
	start int // index of the oldest entry
	count int
}

// NewRing creates a ring holding at most capacity entries. Capacity
// must be positive.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Append stores v, evicting the oldest entry when full.
func (r *Ring[T]) Append(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = v
		r.count++
		return
	}
	r.buf[r.start] = v
	r.start = (r.start + 1) % len(r.buf)
}

// Recent returns up to limit entries, newest first. A non-positive
// limit selects DefaultRecentLimit; limits above MaxRecentLimit are
// clamped. The returned slice is a copy.
func (r *Ring[T]) Recent(limit int) []T {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	if limit > MaxRecentLimit {
		limit = MaxRecentLimit
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.count
	if limit < n {
		n = limit
	}
	out := make([]T, n)
	for i := 0; i < n; i++ {
		// Walk backwards from the newest entry.
		idx := (r.start + r.count - 1 - i) % len(r.buf)
		out[i] = r.buf[idx]
	}
	return out
}

// Len returns the number of stored entries.
func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Clear discards all entries.
func (r *Ring[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	var zero T
	for i := range r.buf {
		r.buf[i] = zero
	}
	r.start, r.count = 0, 0
}
