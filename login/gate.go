package login

import (
	"sync"

	"go.uber.org/zap"
)

// Gate performs the navigation to the dashboard at most once per view
// activation, whichever signal gets there first.
type Gate struct {
	browser Browser
	nav     Navigator
	logger  *zap.Logger

	mu        sync.Mutex
	triggered bool
}

// NewGate returns an unlatched gate. Navigate must not block on the
// teardown of the view that owns the gate.
func NewGate(browser Browser, nav Navigator, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{browser: browser, nav: nav, logger: logger}
}

// TriggerOnce strips OAuth redirect artifacts from the address and navigates
// to the dashboard. Only the first call has any effect; it returns true.
func (g *Gate) TriggerOnce() bool {
	g.mu.Lock()
	if g.triggered {
		g.mu.Unlock()
		return false
	}
	g.triggered = true
	g.mu.Unlock()

	if g.browser != nil && g.browser.HasRedirectArtifacts() {
		g.browser.ReplaceState()
	}
	g.logger.Debug("navigating to dashboard")
	if g.nav != nil {
		g.nav.Navigate(DashboardPath)
	}
	return true
}

// Triggered reports whether the gate has already fired.
func (g *Gate) Triggered() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.triggered
}
