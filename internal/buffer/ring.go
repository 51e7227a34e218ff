// Package buffer provides a bounded ring used for change logs and local
// change history.
package buffer

import (
	"sync"
)

// Ring is a thread-safe bounded sequence that keeps the most recent items
// up to a specified capacity. When the ring is full, the oldest item is
// discarded to make room for the new one.
//
// The server uses it as the per-session change log replayed to late joiners,
// and the sync client uses it for its local change history.
type Ring[T any] struct {
	items    []T
	start    int
	size     int
	capacity int
	mu       sync.RWMutex
}

// NewRing creates a new Ring with the specified capacity.
// The capacity must be greater than 0; if not, it defaults to 1.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring[T]{
		items:    make([]T, capacity),
		capacity: capacity,
	}
}

// Push appends an item. If the ring is full the oldest item is evicted and
// returned with evicted set to true.
func (r *Ring[T]) Push(item T) (old T, evicted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.size < r.capacity {
		r.items[(r.start+r.size)%r.capacity] = item
		r.size++
		return old, false
	}

	old = r.items[r.start]
	r.items[r.start] = item
	r.start = (r.start + 1) % r.capacity
	return old, true
}

// Items returns a copy of all items, oldest first.
// The returned slice is safe to use without holding the lock.
func (r *Ring[T]) Items() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.size == 0 {
		return nil
	}

	result := make([]T, r.size)
	for i := 0; i < r.size; i++ {
		result[i] = r.items[(r.start+i)%r.capacity]
	}
	return result
}

// DropWhile removes items from the oldest end for as long as fn returns
// true, and reports how many were removed.
func (r *Ring[T]) DropWhile(fn func(T) bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	dropped := 0
	for r.size > 0 && fn(r.items[r.start]) {
		r.items[r.start] = zero
		r.start = (r.start + 1) % r.capacity
		r.size--
		dropped++
	}
	if r.size == 0 {
		r.start = 0
	}
	return dropped
}

// Clear removes all items from the ring.
func (r *Ring[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	for i := range r.items {
		r.items[i] = zero
	}
	r.start = 0
	r.size = 0
}

// Len returns the current number of items in the ring.
func (r *Ring[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.size
}

// Cap returns the capacity of the ring.
func (r *Ring[T]) Cap() int {
	return r.capacity
}
