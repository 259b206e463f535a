package hotreload

import (
	"sync/atomic"
)

// Reloadable holds a value that readers load without locking while a
// reloader replaces it wholesale.
type Reloadable[T any] struct {
	value   atomic.Pointer[T]
	version atomic.Int64
}

func NewReloadable[T any](initial *T) *Reloadable[T] {
	r := &Reloadable[T]{}
	if initial != nil {
		r.value.Store(initial)
	}
	return r
}

// Get returns the current value, which callers must not mutate.
func (r *Reloadable[T]) Get() *T {
	return r.value.Load()
}

// Swap installs next and returns the previous value.
func (r *Reloadable[T]) Swap(next *T) *T {
	old := r.value.Swap(next)
	r.version.Add(1)
	return old
}

// Version counts swaps since construction.
func (r *Reloadable[T]) Version() int64 {
	return r.version.Load()
}
