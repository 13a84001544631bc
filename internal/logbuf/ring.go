// Package logbuf keeps a bounded history of recent events.
package logbuf

import "sync"

// Ring is a thread-safe ring buffer that stores the last N items.
type Ring[T any] struct {
	mu    sync.Mutex
	items []T
	size  int
	pos   int
	full  bool
}

// New creates a ring buffer that stores the last n items. n must be
// positive.
func New[T any](n int) *Ring[T] {
	if n < 1 {
		n = 1
	}
	return &Ring[T]{
		items: make([]T, n),
		size:  n,
	}
}

// Add appends v, evicting the oldest item when full.
func (r *Ring[T]) Add(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.items[r.pos] = v
	r.pos = (r.pos + 1) % r.size
	if r.pos == 0 {
		r.full = true
	}
}

// Items returns all stored items in order, oldest first.
func (r *Ring[T]) Items() []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.full {
		result := make([]T, r.pos)
		copy(result, r.items[:r.pos])
		return result
	}

	result := make([]T, r.size)
	copy(result, r.items[r.pos:])
	copy(result[r.size-r.pos:], r.items[:r.pos])
	return result
}

// Last returns the last n items. If fewer items exist, returns all of them.
func (r *Ring[T]) Last(n int) []T {
	all := r.Items()
	if n >= len(all) {
		return all
	}
	return all[len(all)-n:]
}

// Len returns the number of stored items.
func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full {
		return r.size
	}
	return r.pos
}
