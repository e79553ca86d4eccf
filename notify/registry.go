package notify

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/atomic"
)

type subscriber[T any] struct {
	id       uuid.UUID
	listener T
	active   atomic.Bool
}

// Subscription is the handle returned by Registry.Subscribe.
type Subscription struct {
	id     uuid.UUID
	cancel func()
}

// ID identifies the subscription.
func (s *Subscription) ID() string {
	return s.id.String()
}

// Cancel removes the listener. Once Cancel returns, no callback that has not
// already started is delivered to it. Cancel is idempotent.
func (s *Subscription) Cancel() {
	if s != nil && s.cancel != nil {
		s.cancel()
	}
}

// Registry is an ordered set of listeners of type T whose callbacks are
// delivered on an executor.
type Registry[T any] struct {
	exec Executor

	mu   sync.Mutex
	subs []*subscriber[T]
}

// NewRegistry returns a registry delivering on exec.
func NewRegistry[T any](exec Executor) *Registry[T] {
	return &Registry[T]{exec: exec}
}

// Subscribe adds listener at the end of the delivery order.
func (r *Registry[T]) Subscribe(listener T) *Subscription {
	sub := &subscriber[T]{id: uuid.New(), listener: listener}
	sub.active.Store(true)

	r.mu.Lock()
	r.subs = append(r.subs, sub)
	r.mu.Unlock()

	return &Subscription{id: sub.id, cancel: func() { r.remove(sub) }}
}

func (r *Registry[T]) remove(sub *subscriber[T]) {
	if !sub.active.CompareAndSwap(true, false) {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, s := range r.subs {
		if s == sub {
			r.subs = append(r.subs[:i:i], r.subs[i+1:]...)
			return
		}
	}
}

// Len reports the number of active listeners.
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// Dispatch delivers fn to every listener registered at the time of the call,
// as one task on the registry's executor. Listeners cancelled before the task
// runs are skipped.
func (r *Registry[T]) Dispatch(fn func(T)) {
	r.mu.Lock()
	if len(r.subs) == 0 {
		r.mu.Unlock()
		return
	}
	snapshot := make([]*subscriber[T], len(r.subs))
	copy(snapshot, r.subs)
	r.mu.Unlock()

	r.exec.Post(func() {
		for _, sub := range snapshot {
			if sub.active.Load() {
				fn(sub.listener)
			}
		}
	})
}
