package reactive

import (
	"sync"
	"sync/atomic"
)

// Subscribable is a value source that notifies listeners after it changes.
type Subscribable interface {
	Subscribe(listener func()) (unsubscribe func())
}

type listener struct {
	fn     func()
	active atomic.Bool
}

// Store holds a single value. Listeners are called synchronously on the
// goroutine that called Set, after the new value is visible to Get.
// Identical values are not deduplicated.
type Store[T any] struct {
	lk        sync.Mutex
	value     T
	listeners []*listener
}

var _ Subscribable = (*Store[int])(nil)

func NewStore[T any](initial T) *Store[T] {
	return &Store[T]{value: initial}
}

func (s *Store[T]) Get() T {
	s.lk.Lock()
	defer s.lk.Unlock()
	return s.value
}

// Set replaces the value and notifies listeners. A Set issued from inside a
// listener takes effect immediately; listeners still pending in the outer
// round observe it through Get.
func (s *Store[T]) Set(value T) {
	s.lk.Lock()
	s.value = value
	snapshot := make([]*listener, len(s.listeners))
	copy(snapshot, s.listeners)
	s.lk.Unlock()

	notify(snapshot)
}

// Update computes the next value from the current one under the store lock,
// then notifies listeners.
func (s *Store[T]) Update(fn func(prev T) T) {
	s.lk.Lock()
	s.value = fn(s.value)
	snapshot := make([]*listener, len(s.listeners))
	copy(snapshot, s.listeners)
	s.lk.Unlock()

	notify(snapshot)
}

// Modify is Update for callers that may keep the current value. Listeners are
// only notified when fn reports a change.
func (s *Store[T]) Modify(fn func(prev T) (next T, changed bool)) bool {
	s.lk.Lock()
	next, changed := fn(s.value)
	if !changed {
		s.lk.Unlock()
		return false
	}
	s.value = next
	snapshot := make([]*listener, len(s.listeners))
	copy(snapshot, s.listeners)
	s.lk.Unlock()

	notify(snapshot)
	return true
}

func (s *Store[T]) Subscribe(fn func()) func() {
	l := &listener{fn: fn}
	l.active.Store(true)

	s.lk.Lock()
	s.listeners = append(s.listeners, l)
	s.lk.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.active.Store(false)

			s.lk.Lock()
			defer s.lk.Unlock()
			for i, item := range s.listeners {
				if item == l {
					s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
					break
				}
			}
		})
	}
}

// ListenerCount is mostly useful to assert that subscriptions were released.
func (s *Store[T]) ListenerCount() int {
	s.lk.Lock()
	defer s.lk.Unlock()
	return len(s.listeners)
}

func notify(listeners []*listener) {
	for _, l := range listeners {
		// skip listeners removed by an earlier listener of this round
		if l.active.Load() {
			l.fn()
		}
	}
}
