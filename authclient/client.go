// Package authclient is the browser side of the Auth Service: it keeps each
// browser's session, detects OAuth return codes in the address and publishes
// auth state changes to the login view.
package authclient

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"sentrywallet/auth"
	"sentrywallet/login"
)

// Location is the address bar of the page the client was created for.
type Location interface {
	// Query returns a query parameter of the current address.
	Query(key string) string
	// Assign sends the browser to an external URL.
	Assign(url string)
}

// Client implements login.AuthClient for one browser.
type Client struct {
	svc    Service
	state  *browserState
	loc    Location
	logger *zap.Logger
}

var _ login.AuthClient = (*Client)(nil)

// GetSession returns the browser's session. When the address carries a flow
// code from an OAuth return trip it is exchanged first and SIGNED_IN is
// emitted. A stored session that no longer validates is dropped.
func (c *Client) GetSession(ctx context.Context) (*login.Session, error) {
	if c.loc != nil {
		if code := c.loc.Query("error"); code != "" {
			msg := c.loc.Query("error_description")
			if msg == "" {
				msg = code
			}
			return nil, &login.ProviderError{Code: code, Message: msg}
		}
		if code := c.loc.Query("code"); code != "" && c.claimCode(code) {
			session, err := c.svc.ExchangeCode(ctx, code)
			if err != nil {
				return nil, providerError("exchange code", err)
			}
			return c.signedIn(session), nil
		}
	}

	c.state.mu.Lock()
	stored := c.state.session
	c.state.mu.Unlock()
	if stored == nil {
		return nil, nil
	}

	session, err := c.svc.GetSession(ctx, stored.AccessToken)
	if errors.Is(err, auth.ErrInvalidToken) {
		c.logger.Debug("stored session no longer valid")
		c.clear(stored.AccessToken)
		return nil, nil
	}
	if err != nil {
		return nil, providerError("get session", err)
	}
	return toSession(session), nil
}

// OnAuthStateChange registers fn for every later auth event of this browser.
func (c *Client) OnAuthStateChange(fn func(login.Event)) login.Subscription {
	return c.state.hub.subscribe(fn)
}

// SignInWithPassword opens a session and emits SIGNED_IN.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*login.User, error) {
	session, err := c.svc.SignInWithPassword(ctx, auth.SignInRequest{Email: email, Password: password})
	if err != nil {
		return nil, providerError("sign in", err)
	}
	s := c.signedIn(session)
	return &s.User, nil
}

// SignUp creates the account. When the account is usable right away the
// browser is signed in as well.
func (c *Client) SignUp(ctx context.Context, req login.SignUpRequest) (*login.User, error) {
	res, err := c.svc.SignUp(ctx, auth.SignUpRequest{
		Email:    req.Email,
		Password: req.Password,
		FullName: req.FullName,
	})
	if err != nil {
		return nil, providerError("sign up", err)
	}
	if res.Session != nil {
		c.signedIn(*res.Session)
	}
	user := toUser(res.User)
	return &user, nil
}

// SignInWithOAuth sends the browser to the provider.
func (c *Client) SignInWithOAuth(ctx context.Context, provider, redirectTo string) error {
	target, err := c.svc.StartOAuth(ctx, provider, redirectTo)
	if err != nil {
		return providerError("start oauth", err)
	}
	if c.loc == nil {
		return errors.New("authclient: no location to redirect")
	}
	c.loc.Assign(target)
	return nil
}

// VerifyEmail redeems a confirmation link and signs the browser in.
func (c *Client) VerifyEmail(ctx context.Context, token string) (*login.Session, error) {
	session, err := c.svc.ConfirmEmail(ctx, token)
	if err != nil {
		return nil, providerError("verify email", err)
	}
	return c.signedIn(session), nil
}

// SignOut forgets the session and emits SIGNED_OUT. Signing out twice is a no-op.
func (c *Client) SignOut(ctx context.Context) error {
	c.state.mu.Lock()
	had := c.state.session != nil
	c.state.session = nil
	c.state.mu.Unlock()

	if had {
		c.state.hub.emit(login.Event{Kind: login.EventSignedOut})
	}
	return nil
}

// Listeners returns the number of live subscriptions of this browser.
func (c *Client) Listeners() int {
	return c.state.hub.size()
}

func (c *Client) signedIn(session auth.Session) *login.Session {
	c.state.mu.Lock()
	c.state.session = &session
	c.state.mu.Unlock()

	s := toSession(session)
	c.state.hub.emit(login.Event{Kind: login.EventSignedIn, Session: s})
	return s
}

// claimCode reports whether code has not been exchanged for this browser yet.
func (c *Client) claimCode(code string) bool {
	c.state.mu.Lock()
	defer c.state.mu.Unlock()
	if c.state.lastCode == code {
		return false
	}
	c.state.lastCode = code
	return true
}

func (c *Client) clear(token string) {
	c.state.mu.Lock()
	defer c.state.mu.Unlock()
	if c.state.session != nil && c.state.session.AccessToken == token {
		c.state.session = nil
	}
}

func toUser(u auth.User) login.User {
	return login.User{
		ID:               u.ID,
		Email:            u.Email,
		FullName:         u.FullName,
		EmailConfirmedAt: u.EmailConfirmedAt,
	}
}

func toSession(s auth.Session) *login.Session {
	return &login.Session{
		AccessToken: s.AccessToken,
		ExpiresAt:   s.ExpiresAt,
		User:        toUser(s.User),
	}
}
