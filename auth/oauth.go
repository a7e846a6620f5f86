package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

const (
	oauthStateTTL = 10 * time.Minute
	flowCodeTTL   = 5 * time.Minute

	googleUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"
)

var (
	// ErrProviderDisabled signals an unknown or unconfigured OAuth provider.
	ErrProviderDisabled = errors.New("auth: provider is not enabled")
	// ErrInvalidState signals an unknown or expired OAuth state parameter.
	ErrInvalidState = errors.New("auth: invalid oauth state")
	// ErrInvalidFlowCode signals an unknown, expired or reused flow code.
	ErrInvalidFlowCode = errors.New("auth: invalid flow code")
	// ErrInvalidRedirect signals a redirect target that is not an absolute URL.
	ErrInvalidRedirect = errors.New("auth: invalid redirect url")
)

// OAuthProvider is an external identity provider.
type OAuthProvider struct {
	Config      *oauth2.Config
	UserInfoURL string
}

// GoogleProvider configures Google sign-in. callbackURL is the address of
// the service's OAuth callback endpoint.
func GoogleProvider(clientID, clientSecret, callbackURL string) OAuthProvider {
	return OAuthProvider{
		Config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     endpoints.Google,
			RedirectURL:  callbackURL,
			Scopes:       []string{"openid", "email", "profile"},
		},
		UserInfoURL: googleUserInfoURL,
	}
}

// CallbackParams are the query parameters a provider returns with.
type CallbackParams struct {
	State            string
	Code             string
	Error            string
	ErrorDescription string
}

type pendingAuth struct {
	provider   string
	verifier   string
	redirectTo string
	expiresAt  time.Time
}

type flowGrant struct {
	userID    string
	expiresAt time.Time
}

type flowStore struct {
	mu      sync.Mutex
	pending map[string]pendingAuth
	grants  map[string]flowGrant
}

func newFlowStore() *flowStore {
	return &flowStore{
		pending: make(map[string]pendingAuth),
		grants:  make(map[string]flowGrant),
	}
}

func (f *flowStore) putPending(state string, p pendingAuth) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending[state] = p
}

func (f *flowStore) takePending(state string, now time.Time) (pendingAuth, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pending[state]
	delete(f.pending, state)
	if !ok || now.After(p.expiresAt) {
		return pendingAuth{}, false
	}
	return p, true
}

func (f *flowStore) putGrant(code string, g flowGrant) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.grants[code] = g
}

func (f *flowStore) takeGrant(code string, now time.Time) (flowGrant, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.grants[code]
	delete(f.grants, code)
	if !ok || now.After(g.expiresAt) {
		return flowGrant{}, false
	}
	return g, true
}

func (f *flowStore) sweep(now time.Time) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for k, p := range f.pending {
		if now.After(p.expiresAt) {
			delete(f.pending, k)
			n++
		}
	}
	for k, g := range f.grants {
		if now.After(g.expiresAt) {
			delete(f.grants, k)
			n++
		}
	}
	return n
}

// ProviderEnabled reports whether the named provider is configured.
func (s *Service) ProviderEnabled(name string) bool {
	p, ok := s.providers[name]
	return ok && p.Config != nil && p.Config.ClientID != ""
}

// StartOAuth returns the provider's authorization URL. The browser comes back
// through CompleteOAuth and is finally sent to redirectTo with a flow code.
func (s *Service) StartOAuth(ctx context.Context, provider, redirectTo string) (string, error) {
	if !s.ProviderEnabled(provider) {
		return "", ErrProviderDisabled
	}
	target, err := url.Parse(redirectTo)
	if err != nil || !target.IsAbs() {
		return "", ErrInvalidRedirect
	}

	state := uuid.NewString()
	verifier := oauth2.GenerateVerifier()
	s.flows.putPending(state, pendingAuth{
		provider:   provider,
		verifier:   verifier,
		redirectTo: redirectTo,
		expiresAt:  s.now().Add(oauthStateTTL),
	})

	cfg := s.providers[provider].Config
	return cfg.AuthCodeURL(state, oauth2.AccessTypeOnline, oauth2.S256ChallengeOption(verifier)), nil
}

// CompleteOAuth handles the provider callback and returns where to send the
// browser: redirectTo carrying either a one-time code or the provider error.
func (s *Service) CompleteOAuth(ctx context.Context, params CallbackParams) (string, error) {
	pending, ok := s.flows.takePending(params.State, s.now())
	if !ok {
		return "", ErrInvalidState
	}

	if params.Error != "" {
		return withQuery(pending.redirectTo, map[string]string{
			"error":             params.Error,
			"error_description": params.ErrorDescription,
		})
	}

	provider := s.providers[pending.provider]
	token, err := provider.Config.Exchange(ctx, params.Code, oauth2.VerifierOption(pending.verifier))
	if err != nil {
		s.logger.Warn("oauth code exchange failed", zap.String("provider", pending.provider), zap.Error(err))
		return withQuery(pending.redirectTo, map[string]string{
			"error":             "server_error",
			"error_description": "Unable to exchange external code",
		})
	}

	info, err := fetchUserInfo(ctx, provider, token)
	if err != nil {
		return "", err
	}
	if !info.EmailVerified {
		s.logger.Warn("oauth identity without a verified email", zap.String("provider", pending.provider))
		return withQuery(pending.redirectTo, map[string]string{
			"error":             "access_denied",
			"error_description": "Email address is not verified with the provider",
		})
	}
	user, err := s.ensureOAuthUser(ctx, Provider(pending.provider), info)
	if err != nil {
		return "", err
	}

	code := uuid.NewString()
	s.flows.putGrant(code, flowGrant{userID: user.ID, expiresAt: s.now().Add(flowCodeTTL)})
	return withQuery(pending.redirectTo, map[string]string{"code": code})
}

// ExchangeCode redeems a flow code for a session. Codes are single use.
func (s *Service) ExchangeCode(ctx context.Context, code string) (Session, error) {
	grant, ok := s.flows.takeGrant(code, s.now())
	if !ok {
		return Session{}, ErrInvalidFlowCode
	}
	user, err := s.repo.GetUserByID(ctx, grant.userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(user)
}

type userInfo struct {
	Subject       string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
}

func fetchUserInfo(ctx context.Context, provider OAuthProvider, token *oauth2.Token) (userInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, provider.UserInfoURL, nil)
	if err != nil {
		return userInfo{}, fmt.Errorf("auth: userinfo request: %w", err)
	}
	resp, err := provider.Config.Client(ctx, token).Do(req)
	if err != nil {
		return userInfo{}, fmt.Errorf("auth: fetch userinfo: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return userInfo{}, fmt.Errorf("auth: fetch userinfo: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var info userInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return userInfo{}, fmt.Errorf("auth: decode userinfo: %w", err)
	}
	if info.Email == "" {
		return userInfo{}, fmt.Errorf("auth: userinfo has no email")
	}
	return info, nil
}

// ensureOAuthUser finds or creates the account behind a provider identity.
// The provider vouches for the address, so the account is confirmed. An
// unconfirmed password account was never proven to belong to the address
// owner; the provider identity takes it over and its password stops working.
func (s *Service) ensureOAuthUser(ctx context.Context, provider Provider, info userInfo) (User, error) {
	email := normalizeEmail(info.Email)
	name := strings.TrimSpace(info.Name)
	now := s.now().UTC()

	user, err := s.repo.GetUserByEmail(ctx, email)
	switch {
	case errors.Is(err, ErrUserNotFound):
		user, err = s.repo.CreateUser(ctx, CreateUserParams{
			Email:            email,
			FullName:         name,
			Provider:         provider,
			EmailConfirmedAt: &now,
		})
		if errors.Is(err, ErrDuplicateEmail) {
			// Lost a race with a concurrent callback for the same address.
			return s.repo.GetUserByEmail(ctx, email)
		}
		return user, err
	case err != nil:
		return User{}, err
	case !user.Confirmed():
		claimed, err := s.repo.ClaimUnconfirmed(ctx, user.ID, ClaimParams{
			FullName:    name,
			Provider:    provider,
			ConfirmedAt: now,
		})
		if errors.Is(err, ErrAlreadyConfirmed) {
			// The owner confirmed by email in the meantime.
			return s.repo.GetUserByID(ctx, user.ID)
		}
		if err == nil {
			s.logger.Info("unconfirmed account claimed by provider identity",
				zap.String("user_id", user.ID), zap.String("provider", string(provider)))
		}
		return claimed, err
	default:
		return user, nil
	}
}

func withQuery(raw string, values map[string]string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("auth: redirect url: %w", err)
	}
	q := u.Query()
	for k, v := range values {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
