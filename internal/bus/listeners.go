package bus

import (
	"fmt"
	"sync"
)

// Listeners is an ordered observer registry. Callbacks run synchronously in
// registration order; removing one never reorders the rest.
type Listeners[T any] struct {
	mu    sync.RWMutex
	next  uint64
	order []uint64
	fns   map[uint64]func(T)
	// OnPanic, when set, receives panics recovered from a callback.
	OnPanic func(recovered any)
}

// Add registers fn and returns a function that removes it. Calling the
// returned function more than once is harmless.
func (l *Listeners[T]) Add(fn func(T)) (remove func()) {
	l.mu.Lock()
	if l.fns == nil {
		l.fns = make(map[uint64]func(T))
	}
	id := l.next
	l.next++
	l.fns[id] = fn
	l.order = append(l.order, id)
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			delete(l.fns, id)
			for i, v := range l.order {
				if v == id {
					l.order = append(l.order[:i:i], l.order[i+1:]...)
					break
				}
			}
		})
	}
}

// Notify delivers v to every registered callback. A panicking callback does
// not prevent delivery to the ones after it.
func (l *Listeners[T]) Notify(v T) {
	l.mu.RLock()
	fns := make([]func(T), 0, len(l.order))
	for _, id := range l.order {
		fns = append(fns, l.fns[id])
	}
	onPanic := l.OnPanic
	l.mu.RUnlock()

	for _, fn := range fns {
		call(fn, v, onPanic)
	}
}

// Len returns the number of registered callbacks.
func (l *Listeners[T]) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.order)
}

// Reset drops every callback.
func (l *Listeners[T]) Reset() {
	l.mu.Lock()
	l.order = nil
	l.fns = nil
	l.mu.Unlock()
}

func call[T any](fn func(T), v T, onPanic func(any)) {
	defer func() {
		if r := recover(); r != nil && onPanic != nil {
			onPanic(fmt.Sprint(r))
		}
	}()
	fn(v)
}
