package buffer

// Ring keeps the most recent values up to a fixed capacity, evicting the
// oldest value first when full.
type Ring[T any] struct {
	entries []T
	start   int
	count   int
}

// NewRing creates a ring with the given capacity. Capacities below one are
// treated as one.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{entries: make([]T, capacity)}
}

// Push appends value and reports whether an older value was evicted to make
// room.
func (r *Ring[T]) Push(value T) bool {
	if r == nil || len(r.entries) == 0 {
		return false
	}
	if r.count < len(r.entries) {
		r.entries[(r.start+r.count)%len(r.entries)] = value
		r.count++
		return false
	}
	r.entries[r.start] = value
	r.start = (r.start + 1) % len(r.entries)
	return true
}

// Last returns the most recently pushed value.
func (r *Ring[T]) Last() (T, bool) {
	var zero T
	if r == nil || r.count == 0 {
		return zero, false
	}
	return r.entries[(r.start+r.count-1)%len(r.entries)], true
}

// ReplaceLast overwrites the most recently pushed value in place and reports
// whether there was one.
func (r *Ring[T]) ReplaceLast(value T) bool {
	if r == nil || r.count == 0 {
		return false
	}
	r.entries[(r.start+r.count-1)%len(r.entries)] = value
	return true
}

// Len returns the number of stored values.
func (r *Ring[T]) Len() int {
	if r == nil {
		return 0
	}
	return r.count
}

// Cap returns the ring capacity.
func (r *Ring[T]) Cap() int {
	if r == nil {
		return 0
	}
	return len(r.entries)
}

// Items returns the stored values oldest first. The returned slice is a copy.
func (r *Ring[T]) Items() []T {
	if r == nil || r.count == 0 {
		return nil
	}
	items := make([]T, 0, r.count)
	for i := 0; i < r.count; i++ {
		items = append(items, r.entries[(r.start+i)%len(r.entries)])
	}
	return items
}
