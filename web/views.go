package web

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"sentrywallet/login"
)

// activation is one login view together with the page it was rendered into.
type activation struct {
	view *login.View
	page *page

	mu       sync.Mutex
	lastSeen time.Time
}

func (a *activation) touch(now time.Time) {
	a.mu.Lock()
	a.lastSeen = now
	a.mu.Unlock()
}

func (a *activation) idleSince() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastSeen
}

// viewStore keeps the live login view of each browser. A browser has at most
// one; opening the login page again tears the previous one down.
type viewStore struct {
	idleTTL time.Duration
	now     func() time.Time
	logger  *zap.Logger
	onDrop  func()

	mu    sync.Mutex
	views map[string]*activation
}

func newViewStore(idleTTL time.Duration, now func() time.Time, logger *zap.Logger, onDrop func()) *viewStore {
	if onDrop == nil {
		onDrop = func() {}
	}
	return &viewStore{
		idleTTL: idleTTL,
		now:     now,
		logger:  logger,
		onDrop:  onDrop,
		views:   make(map[string]*activation),
	}
}

func (s *viewStore) put(browser string, a *activation) {
	a.touch(s.now())
	s.mu.Lock()
	prev := s.views[browser]
	s.views[browser] = a
	s.mu.Unlock()

	if prev != nil {
		prev.view.Teardown()
		s.onDrop()
	}
}

func (s *viewStore) get(browser string) *activation {
	s.mu.Lock()
	a := s.views[browser]
	s.mu.Unlock()
	if a != nil {
		a.touch(s.now())
	}
	return a
}

// remove tears down the browser's view if it is still a.
func (s *viewStore) remove(browser string, a *activation) {
	s.mu.Lock()
	if s.views[browser] != a {
		s.mu.Unlock()
		return
	}
	delete(s.views, browser)
	s.mu.Unlock()

	a.view.Teardown()
	s.onDrop()
}

func (s *viewStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.views)
}

// sweep tears down views idle for longer than the TTL.
func (s *viewStore) sweep() int {
	cutoff := s.now().Add(-s.idleTTL)
	var stale []*activation

	s.mu.Lock()
	for id, a := range s.views {
		if a.idleSince().Before(cutoff) {
			stale = append(stale, a)
			delete(s.views, id)
		}
	}
	s.mu.Unlock()

	for _, a := range stale {
		a.view.Teardown()
		s.onDrop()
	}
	return len(stale)
}

// closeAll tears down every view.
func (s *viewStore) closeAll() {
	s.mu.Lock()
	all := s.views
	s.views = make(map[string]*activation)
	s.mu.Unlock()

	for _, a := range all {
		a.view.Teardown()
		s.onDrop()
	}
}

func (s *viewStore) run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.closeAll()
			return nil
		case <-ticker.C:
			if n := s.sweep(); n > 0 {
				s.logger.Debug("tore down idle login views", zap.Int("count", n))
			}
		}
	}
}
