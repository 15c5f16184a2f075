// Package notify provides a synchronous, in-process event fan-out with
// disposable subscriptions.
package notify

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Hub delivers published values to its subscribers in subscription order.
// Delivery happens on the publisher's goroutine and outside the hub's lock,
// so a handler may subscribe, close its own subscription, or publish again.
type Hub[T any] struct {
	mu   sync.Mutex
	subs []*Subscription
	fns  map[string]func(T)
}

// Subscription is returned by Subscribe. Closing it unsubscribes.
type Subscription struct {
	id     string
	closed atomic.Bool
	cancel func(id string)
}

// ID returns the subscription's unique identifier.
func (s *Subscription) ID() string { return s.id }

// Close unsubscribes. It is safe to call more than once and on a nil
// subscription.
func (s *Subscription) Close() error {
	if s == nil || s.closed.Swap(true) {
		return nil
	}
	if s.cancel != nil {
		s.cancel(s.id)
	}
	return nil
}

// Active reports whether the subscription is still receiving events.
func (s *Subscription) Active() bool {
	return s != nil && !s.closed.Load()
}

// Subscribe registers fn and returns its subscription.
func (h *Hub[T]) Subscribe(fn func(T)) *Subscription {
	sub := &Subscription{id: uuid.NewString(), cancel: h.remove}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fns == nil {
		h.fns = make(map[string]func(T))
	}
	h.fns[sub.id] = fn
	h.subs = append(h.subs, sub)
	return sub
}

func (h *Hub[T]) remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.fns, id)
	for i, s := range h.subs {
		if s.id == id {
			h.subs = append(h.subs[:i:i], h.subs[i+1:]...)
			break
		}
	}
}

// Publish calls every active subscriber with v.
func (h *Hub[T]) Publish(v T) {
	h.mu.Lock()
	subs := make([]*Subscription, len(h.subs))
	copy(subs, h.subs)
	fns := make([]func(T), len(subs))
	for i, s := range subs {
		fns[i] = h.fns[s.id]
	}
	h.mu.Unlock()

	for i, s := range subs {
		// A handler earlier in this round may have closed s.
		if !s.Active() {
			continue
		}
		fns[i](v)
	}
}

// Len returns the number of active subscriptions.
func (h *Hub[T]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close drops every subscription.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = nil
	h.fns = nil
	h.mu.Unlock()
	for _, s := range subs {
		s.closed.Store(true)
	}
}
