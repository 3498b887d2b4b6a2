package scatter

import "sync/atomic"

// Slot is a single-writer-wins cell. The first successful TrySet fixes its
// value; every later TrySet is a no-op.
type Slot[T any] struct {
	v atomic.Pointer[T]
}

// TrySet stores v if the slot is still empty and reports whether it did.
func (s *Slot[T]) TrySet(v T) bool {
	return s.v.CompareAndSwap(nil, &v)
}

// Get returns the stored value, if any.
func (s *Slot[T]) Get() (T, bool) {
	p := s.v.Load()
	if p == nil {
		var zero T
		return zero, false
	}
	return *p, true
}

// Filled reports whether a value has been stored.
func (s *Slot[T]) Filled() bool {
	return s.v.Load() != nil
}
