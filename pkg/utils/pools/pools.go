package pools

import "sync"

// SlicePool is a pool of slices that keeps only buffers of at least size
// capacity
type SlicePool[T any] struct {
	pool sync.Pool
	size int
}

// NewSlicePool creates a new SlicePool handing out slices of capacity size
func NewSlicePool[T any](size int) *SlicePool[T] {
	return &SlicePool[T]{
		pool: sync.Pool{
			New: func() any {
				s := make([]T, 0, size)
				return &s
			},
		},
		size: size,
	}
}

// Get retrieves an empty slice from the pool
func (p *SlicePool[T]) Get() []T {
	return (*p.pool.Get().(*[]T))[:0]
}

// Put returns a slice to the pool
func (p *SlicePool[T]) Put(s []T) {
	if cap(s) < p.size {
		// If capacity is less than expected, let GC handle it
		return
	}
	s = s[:0]
	p.pool.Put(&s)
}
