package login

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Config wires a View to its collaborators.
type Config struct {
	Client    AuthClient
	Browser   Browser
	Navigator Navigator
	Logger    *zap.Logger
}

// View is one activation of the login screen: a session lookup, a live event
// subscription and the form, all sharing one navigation gate.
type View struct {
	client AuthClient
	gate   *Gate
	form   *Form
	sub    *Subscriber
	logger *zap.Logger

	activateOnce sync.Once
	teardownOnce sync.Once
	cancel       context.CancelFunc
	settled      chan struct{}
	mu           sync.Mutex
	authed       bool
}

// NewView builds an inactive view.
func NewView(cfg Config) *View {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	gate := NewGate(cfg.Browser, cfg.Navigator, logger)
	return &View{
		client:  cfg.Client,
		gate:    gate,
		form:    NewForm(cfg.Client, gate, cfg.Browser, logger),
		sub:     NewSubscriber(cfg.Client, gate, logger),
		logger:  logger,
		cancel:  func() {},
		settled: make(chan struct{}),
	}
}

// Activate opens the event subscription and starts the session lookup in the
// background. ctx bounds the lookup and should outlive a single request.
func (v *View) Activate(ctx context.Context) {
	v.activateOnce.Do(func() {
		lookupCtx, cancel := context.WithCancel(ctx)
		v.mu.Lock()
		v.cancel = cancel
		v.mu.Unlock()

		v.sub.Start()
		go func() {
			defer close(v.settled)
			found := Bootstrap(lookupCtx, v.client, v.gate, v.logger)
			v.mu.Lock()
			v.authed = found
			v.mu.Unlock()
		}()
	})
}

// Settled is closed once the session lookup has resolved.
func (v *View) Settled() <-chan struct{} {
	return v.settled
}

// Teardown closes the subscription and abandons the lookup. Events delivered
// afterwards are ignored. It is safe to call more than once.
func (v *View) Teardown() {
	v.teardownOnce.Do(func() {
		v.sub.Stop()
		v.mu.Lock()
		cancel := v.cancel
		v.mu.Unlock()
		cancel()
	})
}

// Form returns the credential form of this activation.
func (v *View) Form() *Form {
	return v.form
}

// Navigated reports whether the view has sent the user to the dashboard.
func (v *View) Navigated() bool {
	return v.gate.Triggered()
}

// SessionFound reports whether the settled lookup found a session.
func (v *View) SessionFound() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.authed
}
