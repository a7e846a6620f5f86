package login

import (
	"context"
	"sync"
	"time"
)

type fakeClient struct {
	mu sync.Mutex

	session    *Session
	sessionErr error

	signInUser *User
	signInErr  error
	signUpUser *User
	signUpErr  error
	oauthErr   error
	panicWith  any
	// release, when set, holds password calls until closed.
	release chan struct{}
	entered chan struct{}

	signInCalls int
	signUpCalls int
	oauthCalls  int
	lastSignUp  SignUpRequest
	lastOAuth   [2]string

	listeners         map[int]func(Event)
	nextID            int
	ignoreUnsubscribe bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{listeners: make(map[int]func(Event))}
}

func (c *fakeClient) GetSession(ctx context.Context) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.panicWith != nil {
		panic(c.panicWith)
	}
	return c.session, c.sessionErr
}

func (c *fakeClient) OnAuthStateChange(fn func(Event)) Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	return &fakeSubscription{client: c, id: id}
}

func (c *fakeClient) SignInWithPassword(ctx context.Context, email, password string) (*User, error) {
	c.mu.Lock()
	c.signInCalls++
	release, entered, p := c.release, c.entered, c.panicWith
	user, err := c.signInUser, c.signInErr
	c.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if release != nil {
		<-release
	}
	if p != nil {
		panic(p)
	}
	return user, err
}

func (c *fakeClient) SignUp(ctx context.Context, req SignUpRequest) (*User, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.signUpCalls++
	c.lastSignUp = req
	if c.panicWith != nil {
		panic(c.panicWith)
	}
	return c.signUpUser, c.signUpErr
}

func (c *fakeClient) SignInWithOAuth(ctx context.Context, provider, redirectTo string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.oauthCalls++
	c.lastOAuth = [2]string{provider, redirectTo}
	if c.panicWith != nil {
		panic(c.panicWith)
	}
	return c.oauthErr
}

func (c *fakeClient) emit(ev Event) {
	c.mu.Lock()
	fns := make([]func(Event), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (c *fakeClient) listenerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.listeners)
}

func (c *fakeClient) calls() (signIn, signUp, oauth int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.signInCalls, c.signUpCalls, c.oauthCalls
}

type fakeSubscription struct {
	client *fakeClient
	id     int
}

func (s *fakeSubscription) Unsubscribe() {
	s.client.mu.Lock()
	defer s.client.mu.Unlock()
	if s.client.ignoreUnsubscribe {
		return
	}
	delete(s.client.listeners, s.id)
}

type fakeBrowser struct {
	mu        sync.Mutex
	origin    string
	artifacts bool
	replaced  int
}

func (b *fakeBrowser) Origin() string { return b.origin }

func (b *fakeBrowser) HasRedirectArtifacts() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.artifacts
}

func (b *fakeBrowser) ReplaceState() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.artifacts = false
	b.replaced++
}

func (b *fakeBrowser) replaceCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.replaced
}

type recordingNavigator struct {
	mu    sync.Mutex
	paths []string
}

func (n *recordingNavigator) Navigate(path string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.paths = append(n.paths, path)
}

func (n *recordingNavigator) visited() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.paths...)
}

func signedInSession() *Session {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return &Session{
		AccessToken: "token-1",
		ExpiresAt:   now.Add(time.Hour),
		User:        User{ID: "user-1", Email: "alice@example.com", EmailConfirmedAt: &now},
	}
}
