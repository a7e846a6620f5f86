package authclient

import (
	"sync"

	"sentrywallet/login"
)

// hub fans auth events out to the listeners of one browser. Delivery is
// synchronous, on the emitting goroutine, to a snapshot of the listeners, and
// never under the hub lock, so a listener may unsubscribe from inside fn.
type hub struct {
	mu        sync.Mutex
	listeners map[uint64]func(login.Event)
	next      uint64
}

func newHub() *hub {
	return &hub{listeners: make(map[uint64]func(login.Event))}
}

func (h *hub) subscribe(fn func(login.Event)) *subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	h.listeners[h.next] = fn
	return &subscription{hub: h, id: h.next}
}

func (h *hub) emit(ev login.Event) {
	h.mu.Lock()
	fns := make([]func(login.Event), 0, len(h.listeners))
	for _, fn := range h.listeners {
		fns = append(fns, fn)
	}
	h.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

func (h *hub) size() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.listeners)
}

type subscription struct {
	hub  *hub
	id   uint64
	once sync.Once
}

func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.listeners, s.id)
		s.hub.mu.Unlock()
	})
}
