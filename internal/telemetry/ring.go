// Package telemetry provides bounded rolling histories for runtime
// statistics. All data stays in-process - nothing is reported externally.
package telemetry

import "sync"

// DefaultHistoryCap is the default capacity for rolling histories.
const DefaultHistoryCap = 100

// Ring is a fixed-capacity FIFO buffer. When full, the oldest entry is
// evicted. All methods are safe for concurrent use.
type Ring[T any] struct {
	mu    sync.RWMutex
	items []T
	head  int // next write position
	size  int
	cap   int
}

// NewRing creates a ring buffer with the given capacity.
// Non-positive capacities fall back to DefaultHistoryCap.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = DefaultHistoryCap
	}
	return &Ring[T]{
		items: make([]T, capacity),
		cap:   capacity,
	}
}

// Push appends an entry, evicting the oldest when the buffer is full.
func (r *Ring[T]) Push(item T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.items[r.head] = item
	r.head = (r.head + 1) % r.cap
	if r.size < r.cap {
		r.size++
	}
}

// Snapshot returns all entries in FIFO order (oldest first).
func (r *Ring[T]) Snapshot() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]T, r.size)
	if r.size < r.cap {
		copy(out, r.items[:r.size])
		return out
	}
	copy(out, r.items[r.head:])
	copy(out[r.cap-r.head:], r.items[:r.head])
	return out
}

// Tail returns up to n of the most recent entries, oldest first.
func (r *Ring[T]) Tail(n int) []T {
	all := r.Snapshot()
	if n <= 0 || n >= len(all) {
		return all
	}
	return all[len(all)-n:]
}

// Len returns the current number of entries.
func (r *Ring[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

// Cap returns the configured capacity.
func (r *Ring[T]) Cap() int {
	return r.cap
}

// Clear removes all entries.
func (r *Ring[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.head = 0
	r.size = 0
}
