// Package buffer provides a bounded ring buffer used by the real-time
// monitor to cap its session data-point history. Writes never block; when
// the buffer is full the oldest item is dropped.
package buffer

import (
	"sync"
	"sync/atomic"
)

// Ring is a thread-safe fixed-capacity ring buffer with drop-oldest overflow.
type Ring[T any] struct {
	mu       sync.RWMutex
	items    []T
	capacity int
	size     int
	head     int // next write position
	tail     int // oldest item position

	dropped int64
}

// NewRing creates a ring buffer with the given capacity (minimum 1).
func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring[T]{
		items:    make([]T, capacity),
		capacity: capacity,
	}
}

// Append adds an item, dropping the oldest when full.
func (r *Ring[T]) Append(item T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.size == r.capacity {
		r.tail = (r.tail + 1) % r.capacity
		r.size--
		atomic.AddInt64(&r.dropped, 1)
	}

	r.items[r.head] = item
	r.head = (r.head + 1) % r.capacity
	r.size++
}

// Snapshot returns the buffered items, oldest first.
func (r *Ring[T]) Snapshot() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]T, 0, r.size)
	for i := 0; i < r.size; i++ {
		out = append(out, r.items[(r.tail+i)%r.capacity])
	}
	return out
}

// Filter returns the buffered items satisfying keep, oldest first.
func (r *Ring[T]) Filter(keep func(T) bool) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []T
	for i := 0; i < r.size; i++ {
		item := r.items[(r.tail+i)%r.capacity]
		if keep(item) {
			out = append(out, item)
		}
	}
	return out
}

// Len returns the number of buffered items.
func (r *Ring[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

// Cap returns the buffer capacity.
func (r *Ring[T]) Cap() int {
	return r.capacity
}

// Dropped returns the total number of items dropped to overflow.
func (r *Ring[T]) Dropped() int64 {
	return atomic.LoadInt64(&r.dropped)
}

// Clear removes all buffered items.
func (r *Ring[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.size = 0
	r.head = 0
	r.tail = 0
}
