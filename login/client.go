package login

import (
	"context"
	"time"
)

const (
	// DashboardPath is where the view sends an authenticated user.
	DashboardPath = "/dashboard"
	// Path is the route of the login view itself; OAuth flows return here.
	Path = "/login"

	// ProviderGoogle names the Google OAuth provider.
	ProviderGoogle = "google"
)

// User is the subset of the Auth Service user the login view looks at.
type User struct {
	ID               string
	Email            string
	FullName         string
	EmailConfirmedAt *time.Time
}

// Confirmed reports whether the user's email address has been confirmed.
func (u User) Confirmed() bool {
	return u.EmailConfirmedAt != nil && !u.EmailConfirmedAt.IsZero()
}

// Session is proof of authentication issued by the Auth Service. The view only
// cares whether one is present.
type Session struct {
	AccessToken string
	ExpiresAt   time.Time
	User        User
}

// EventKind identifies an authentication state change.
type EventKind string

const (
	EventSignedIn    EventKind = "SIGNED_IN"
	EventSignedOut   EventKind = "SIGNED_OUT"
	EventUserUpdated EventKind = "USER_UPDATED"
)

// Event is delivered to OnAuthStateChange callbacks.
type Event struct {
	Kind    EventKind
	Session *Session
}

// Subscription is a live registration on the auth event stream. Unsubscribe
// must be called to release it.
type Subscription interface {
	Unsubscribe()
}

// SignUpRequest carries the fields of a new account.
type SignUpRequest struct {
	Email    string
	Password string
	FullName string
}

// AuthClient is the Auth Service capability consumed by the login view.
//
// Structured rejections (bad credentials, duplicate email, disabled provider)
// are reported as *ProviderError. Any other error is treated as unexpected.
type AuthClient interface {
	GetSession(ctx context.Context) (*Session, error)
	OnAuthStateChange(fn func(Event)) Subscription
	SignInWithPassword(ctx context.Context, email, password string) (*User, error)
	SignUp(ctx context.Context, req SignUpRequest) (*User, error)
	// SignInWithOAuth starts a redirect based login. On success the browser
	// is already on its way to the provider.
	SignInWithOAuth(ctx context.Context, provider, redirectTo string) error
}

// ProviderError is a structured failure reported by the Auth Service. Message
// is shown to the user verbatim.
type ProviderError struct {
	Code    string
	Message string
}

func (e *ProviderError) Error() string {
	if e.Code == "" {
		return "login: auth service: " + e.Message
	}
	return "login: auth service: " + e.Code + ": " + e.Message
}

// Browser is the address bar of the page hosting the view.
type Browser interface {
	// Origin returns scheme and host, e.g. "https://wallet.example.com".
	Origin() string
	// HasRedirectArtifacts reports whether the current address still carries
	// parameters or a fragment appended by an OAuth provider.
	HasRedirectArtifacts() bool
	// ReplaceState rewrites the current address without those artifacts and
	// without adding a history entry.
	ReplaceState()
}

// Navigator moves the page to another route of the application.
type Navigator interface {
	Navigate(path string)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(path string)

// Navigate calls f(path).
func (f NavigatorFunc) Navigate(path string) { f(path) }
