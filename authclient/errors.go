package authclient

import (
	"errors"
	"fmt"

	"sentrywallet/auth"
	"sentrywallet/login"
)

// rejections maps Auth Service sentinels to what the user is shown.
var rejections = []struct {
	err     error
	code    string
	message string
}{
	{auth.ErrInvalidCredentials, "invalid_credentials", "Invalid login credentials"},
	{auth.ErrEmailNotConfirmed, "email_not_confirmed", "Email not confirmed"},
	{auth.ErrDuplicateEmail, "user_already_exists", "User already registered"},
	{auth.ErrWeakPassword, "weak_password", "Password should be at least 6 characters"},
	{auth.ErrPasswordTooLong, "weak_password", "Password cannot be longer than 72 characters"},
	{auth.ErrMissingFields, "validation_failed", "Email and full name are required"},
	{auth.ErrProviderDisabled, "validation_failed", "Unsupported provider: provider is not enabled"},
	{auth.ErrInvalidRedirect, "validation_failed", "Invalid redirect URL"},
	{auth.ErrInvalidFlowCode, "flow_state_not_found", "Invalid flow state, no valid flow state found"},
	{auth.ErrInvalidToken, "otp_expired", "Email link is invalid or has expired"},
}

// providerError converts err into a *login.ProviderError when it is a known
// rejection and wraps it with op otherwise.
func providerError(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, r := range rejections {
		if errors.Is(err, r.err) {
			return &login.ProviderError{Code: r.code, Message: r.message}
		}
	}
	return fmt.Errorf("authclient: %s: %w", op, err)
}
