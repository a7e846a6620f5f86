package auth

import "time"

// Provider records how an account was created.
type Provider string

const (
	ProviderEmail  Provider = "email"
	ProviderGoogle Provider = "google"
)

// User is the domain representation of an account.
// It mirrors the users table and carries no JSON annotations so it can be
// reused by different presentation layers.
type User struct {
	ID               string
	Email            string
	FullName         string
	PasswordHash     string
	Provider         Provider
	EmailConfirmedAt *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Confirmed reports whether the user has verified their email address.
func (u User) Confirmed() bool {
	return u.EmailConfirmedAt != nil
}

// SignUpRequest contains registration data supplied by callers.
type SignUpRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

// SignInRequest contains password credentials.
type SignInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Session is an authenticated session for one user.
type Session struct {
	AccessToken string
	TokenType   string
	ExpiresAt   time.Time
	User        User
}

// SignUpResult is returned by SignUp. Session is nil while the email address
// awaits confirmation.
type SignUpResult struct {
	User    User
	Session *Session
}
