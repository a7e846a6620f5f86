package login

import (
	"sync"

	"go.uber.org/zap"
)

// Subscriber keeps the view attached to the auth event stream and triggers
// the gate when a sign-in arrives.
type Subscriber struct {
	client AuthClient
	gate   *Gate
	logger *zap.Logger

	// mu is held for reading while an event is handled, so Stop waits for an
	// in-flight delivery and nothing is handled once Stop has returned.
	mu      sync.RWMutex
	started bool
	stopped bool
	sub     Subscription
}

// NewSubscriber builds a detached subscriber.
func NewSubscriber(client AuthClient, gate *Gate, logger *zap.Logger) *Subscriber {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Subscriber{client: client, gate: gate, logger: logger}
}

// Start opens the subscription. Calling Start twice, or after Stop, does nothing.
func (s *Subscriber) Start() {
	s.mu.Lock()
	if s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	// The client may deliver synchronously from inside OnAuthStateChange.
	sub := s.client.OnAuthStateChange(s.handle)

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		if sub != nil {
			sub.Unsubscribe()
		}
		return
	}
	s.sub = sub
	s.mu.Unlock()
}

// Stop releases the subscription. It is safe to call more than once.
func (s *Subscriber) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
}

func (s *Subscriber) handle(ev Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		s.logger.Debug("dropping auth event after teardown", zap.String("event", string(ev.Kind)))
		return
	}
	if ev.Kind != EventSignedIn || ev.Session == nil {
		return
	}
	s.gate.TriggerOnce()
}
