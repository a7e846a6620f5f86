package authclient

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"sentrywallet/auth"
)

const defaultIdleTTL = 30 * time.Minute

// Service is the Auth Service capability the client drives.
type Service interface {
	SignUp(ctx context.Context, req auth.SignUpRequest) (auth.SignUpResult, error)
	SignInWithPassword(ctx context.Context, req auth.SignInRequest) (auth.Session, error)
	GetSession(ctx context.Context, accessToken string) (auth.Session, error)
	ConfirmEmail(ctx context.Context, token string) (auth.Session, error)
	StartOAuth(ctx context.Context, provider, redirectTo string) (string, error)
	ExchangeCode(ctx context.Context, code string) (auth.Session, error)
}

// Options configures a Registry.
type Options struct {
	// IdleTTL is how long an untouched browser keeps its state.
	IdleTTL time.Duration
	Logger  *zap.Logger
	Now     func() time.Time
}

// Registry holds the client side auth state of every browser: its stored
// session and the listeners of its event stream.
type Registry struct {
	svc     Service
	idleTTL time.Duration
	logger  *zap.Logger
	now     func() time.Time

	mu     sync.Mutex
	states map[string]*browserState
}

type browserState struct {
	hub *hub

	mu       sync.Mutex
	session  *auth.Session
	lastCode string
	lastSeen time.Time
}

// NewRegistry returns an empty registry backed by svc.
func NewRegistry(svc Service, opts Options) *Registry {
	r := &Registry{
		svc:     svc,
		idleTTL: opts.IdleTTL,
		logger:  opts.Logger,
		now:     opts.Now,
		states:  make(map[string]*browserState),
	}
	if r.idleTTL <= 0 {
		r.idleTTL = defaultIdleTTL
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// Client returns a client bound to one browser and its current address. loc
// may be nil when the caller has no address to inspect.
func (r *Registry) Client(browserID string, loc Location) *Client {
	return &Client{
		svc:    r.svc,
		state:  r.state(browserID),
		loc:    loc,
		logger: r.logger.With(zap.String("browser", browserID)),
	}
}

func (r *Registry) state(browserID string) *browserState {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[browserID]
	if !ok {
		st = &browserState{hub: newHub()}
		r.states[browserID] = st
	}
	st.mu.Lock()
	st.lastSeen = now
	st.mu.Unlock()
	return st
}

// Len returns the number of tracked browsers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.states)
}

// Sweep forgets browsers idle for longer than the TTL that have no live
// listeners. It returns how many were dropped.
func (r *Registry) Sweep() int {
	cutoff := r.now().Add(-r.idleTTL)
	r.mu.Lock()
	defer r.mu.Unlock()
	dropped := 0
	for id, st := range r.states {
		st.mu.Lock()
		idle := st.lastSeen.Before(cutoff)
		st.mu.Unlock()
		if idle && st.hub.size() == 0 {
			delete(r.states, id)
			dropped++
		}
	}
	return dropped
}

// Run sweeps every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				r.logger.Debug("swept idle browsers", zap.Int("count", n))
			}
		}
	}
}
