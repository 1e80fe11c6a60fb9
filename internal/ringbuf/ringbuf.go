// Package ringbuf provides a fixed-capacity ring that keeps the most recent
// values, overwriting the oldest when full. It is not safe for concurrent
// use; callers hold their own lock.
package ringbuf

// Ring keeps the last Cap() values pushed. Capacity is a power of two so
// positions wrap with a mask.
type Ring[T any] struct {
	buf     []T
	mask    uint64
	head    uint64 // total pushes
	evicted uint64
}

// New creates a ring. capacity is rounded up to the next power of two.
// Minimum capacity is 2.
func New[T any](capacity int) *Ring[T] {
	n := max(nextPow2(capacity), 2)
	return &Ring[T]{
		buf:  make([]T, n),
		mask: uint64(n - 1),
	}
}

// Push appends v. Reports whether the oldest value was overwritten.
func (r *Ring[T]) Push(v T) bool {
	full := r.head >= uint64(len(r.buf))
	r.buf[r.head&r.mask] = v
	r.head++
	if full {
		r.evicted++
	}
	return full
}

// Len returns the number of values held.
func (r *Ring[T]) Len() int {
	return int(min(r.head, uint64(len(r.buf))))
}

// Cap returns the ring capacity.
func (r *Ring[T]) Cap() int { return len(r.buf) }

// Evicted returns how many values have been overwritten.
func (r *Ring[T]) Evicted() uint64 { return r.evicted }

// Items returns a copy of the held values, oldest first.
func (r *Ring[T]) Items() []T {
	n := uint64(r.Len())
	out := make([]T, 0, n)
	for i := r.head - n; i < r.head; i++ {
		out = append(out, r.buf[i&r.mask])
	}
	return out
}

// Each calls fn for every held value, oldest first, until fn returns false.
func (r *Ring[T]) Each(fn func(T) bool) {
	n := uint64(r.Len())
	for i := r.head - n; i < r.head; i++ {
		if !fn(r.buf[i&r.mask]) {
			return
		}
	}
}

// nextPow2 returns the smallest power of 2 >= n.
func nextPow2(n int) int {
	if n <= 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}
