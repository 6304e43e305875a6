// Package reactive provides the scalar and keyed reactive primitives the
// entity graph is built from: Signal, Collection, and a disposal Scope that
// ties subscriber lifetime to entity lifetime.
package reactive

import "sync"

// Cleanup is returned by a subscriber and run before that subscriber fires
// again, or when it is detached.
type Cleanup func()

// Subscriber observes a Signal's value. The returned Cleanup, if non-nil,
// runs immediately before the subscriber's next invocation and on detach.
type Subscriber[T any] func(value T) Cleanup

type subscription[T any] struct {
	id  uint64
	fn  Subscriber[T]
	gen Cleanup
}

// Signal is a reactive cell. Zero value is not usable; use NewSignal.
type Signal[T any] struct {
	mu     sync.Mutex
	value  T
	subs   []subscription[T]
	nextID uint64
}

// NewSignal creates a Signal holding the given initial value.
func NewSignal[T any](initial T) *Signal[T] {
	return &Signal[T]{value: initial}
}

// Get returns the current value.
func (s *Signal[T]) Get() T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

// Set writes a new value and fires subscribers if it differs from the
// current value under ==. Callers with non-comparable T should use
// SetForce.
func (s *Signal[T]) Set(v T) {
	s.mu.Lock()
	if any(v) == any(s.value) {
		s.mu.Unlock()
		return
	}
	s.value = v
	subs := append([]subscription[T](nil), s.subs...)
	s.mu.Unlock()
	s.fire(subs, v)
}

// SetForce writes a new value and always fires subscribers, regardless of
// equality. Used for non-comparable T (slices, maps, structs containing
// either).
func (s *Signal[T]) SetForce(v T) {
	s.mu.Lock()
	s.value = v
	subs := append([]subscription[T](nil), s.subs...)
	s.mu.Unlock()
	s.fire(subs, v)
}

func (s *Signal[T]) fire(subs []subscription[T], v T) {
	for i := range subs {
		if subs[i].gen != nil {
			subs[i].gen()
		}
		gen := subs[i].fn(v)
		s.mu.Lock()
		for j := range s.subs {
			if s.subs[j].id == subs[i].id {
				s.subs[j].gen = gen
				break
			}
		}
		s.mu.Unlock()
	}
}

// Watch registers fn to run on every future change. It does not fire for
// the current value. The returned Cleanup detaches the subscriber.
func (s *Signal[T]) Watch(fn Subscriber[T]) Cleanup {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs = append(s.subs, subscription[T]{id: id, fn: fn})
	s.mu.Unlock()
	return func() { s.detach(id) }
}

// Use fires fn once immediately with the current value, then on every
// future change, matching spec.md's current-then-future contract.
func (s *Signal[T]) Use(fn Subscriber[T]) Cleanup {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	current := s.value
	s.subs = append(s.subs, subscription[T]{id: id, fn: fn})
	s.mu.Unlock()

	gen := fn(current)
	if gen != nil {
		s.mu.Lock()
		for j := range s.subs {
			if s.subs[j].id == id {
				s.subs[j].gen = gen
				break
			}
		}
		s.mu.Unlock()
	}
	return func() { s.detach(id) }
}

func (s *Signal[T]) detach(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.subs {
		if s.subs[i].id == id {
			if s.subs[i].gen != nil {
				s.subs[i].gen()
			}
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			return
		}
	}
}

// Release returns the current value and atomically detaches every
// subscriber without running their cleanups — used when an owning entity
// is torn down and subscriber cleanup is handled by the owning Scope
// instead.
func (s *Signal[T]) Release() T {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.value
	s.subs = nil
	return v
}

// Dispose detaches all subscribers, running their cleanups first. Safe to
// call multiple times.
func (s *Signal[T]) Dispose() {
	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()
	for i := range subs {
		if subs[i].gen != nil {
			subs[i].gen()
		}
	}
}
