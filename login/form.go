package login

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"go.uber.org/zap"
)

// MinSignUpPasswordLength is the shortest password accepted when creating an account.
const MinSignUpPasswordLength = 6

const (
	msgCheckEmail       = "Please check your email for confirmation link"
	msgUnexpected       = "An unexpected error occurred"
	msgGoogleUnexpected = "An unexpected error occurred with Google login"
	googleErrorPrefix   = "Error with Google login: "
)

// ErrBusy is returned when a submission is already in flight.
var ErrBusy = errors.New("login: submission already in progress")

// Field names a credential input.
type Field string

const (
	FieldEmail    Field = "email"
	FieldPassword Field = "password"
	FieldFullName Field = "fullName"
)

// Mode selects between signing in and creating an account.
type Mode int

const (
	ModeSignIn Mode = iota
	ModeSignUp
)

func (m Mode) String() string {
	if m == ModeSignUp {
		return "sign_up"
	}
	return "sign_in"
}

// Status is the submission state of the form.
type Status int

const (
	StatusIdle Status = iota
	StatusSubmitting
	StatusFailed
	StatusSucceeded
)

func (s Status) String() string {
	switch s {
	case StatusSubmitting:
		return "submitting"
	case StatusFailed:
		return "failed"
	case StatusSucceeded:
		return "succeeded"
	default:
		return "idle"
	}
}

// Credentials hold what the user typed. They live only as long as the form.
type Credentials struct {
	Email    string
	Password string
	FullName string
}

// State is a snapshot of the form. Message is the single status line; in the
// Failed state it may also carry the "check your email" notice after sign-up.
type State struct {
	Mode         Mode
	Credentials  Credentials
	Status       Status
	Message      string
	ShowPassword bool
	// Busy is set while an Auth Service call is outstanding. It survives a
	// mode toggle and stays set after a Google redirect has started; Submit
	// and GoogleLogin return ErrBusy while it is set.
	Busy bool
}

// Submitting reports whether a submission is in flight.
func (s State) Submitting() bool { return s.Status == StatusSubmitting }

// ValidationError is a client-side rejection; the Auth Service was not called.
type ValidationError struct {
	Field   Field
	Message string
}

func (e *ValidationError) Error() string {
	return "login: " + e.Message
}

// Form owns the credential inputs and the submission state machine.
type Form struct {
	client  AuthClient
	gate    *Gate
	browser Browser
	logger  *zap.Logger

	mu    sync.Mutex
	state State
	// gen changes on every mode toggle; late results of an older generation
	// do not overwrite the state.
	gen uint64
}

// NewForm returns an idle sign-in form.
func NewForm(client AuthClient, gate *Gate, browser Browser, logger *zap.Logger) *Form {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Form{client: client, gate: gate, browser: browser, logger: logger}
}

// State returns a snapshot of the form.
func (f *Form) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// SetField updates one credential. Typing dismisses the last error.
func (f *Form) SetField(name Field, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch name {
	case FieldEmail:
		f.state.Credentials.Email = value
	case FieldPassword:
		f.state.Credentials.Password = value
	case FieldFullName:
		f.state.Credentials.FullName = value
	default:
		return
	}
	if f.state.Status == StatusFailed {
		f.state.Status = StatusIdle
		f.state.Message = ""
	}
}

// ToggleMode switches between sign-in and sign-up, clearing the credentials
// and the status line together.
func (f *Form) ToggleMode() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state.Mode == ModeSignUp {
		f.state.Mode = ModeSignIn
	} else {
		f.state.Mode = ModeSignUp
	}
	f.state.Credentials = Credentials{}
	f.state.Status = StatusIdle
	f.state.Message = ""
	f.gen++
}

// TogglePasswordVisibility flips whether the password input is masked.
func (f *Form) TogglePasswordVisibility() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state.ShowPassword = !f.state.ShowPassword
}

// Submit validates the credentials and calls the Auth Service for the current
// mode. It returns ErrBusy or a *ValidationError when nothing was sent; every
// other outcome is reported through State.
func (f *Form) Submit(ctx context.Context) error {
	f.mu.Lock()
	if f.state.Busy {
		f.mu.Unlock()
		return ErrBusy
	}
	mode, creds := f.state.Mode, f.state.Credentials
	if verr := validate(mode, creds); verr != nil {
		f.state.Status = StatusFailed
		f.state.Message = verr.Message
		f.mu.Unlock()
		return verr
	}
	f.state.Busy = true
	f.state.Status = StatusSubmitting
	f.state.Message = ""
	gen := f.gen
	f.mu.Unlock()

	var res outcome
	if mode == ModeSignUp {
		res = f.signUp(ctx, creds)
	} else {
		res = f.signIn(ctx, creds)
	}

	f.mu.Lock()
	f.state.Busy = false
	if gen == f.gen {
		f.state.Status = res.status
		f.state.Message = res.message
	}
	f.mu.Unlock()

	if res.navigate {
		f.gate.TriggerOnce()
	}
	return nil
}

// GoogleLogin starts the redirect based Google login. On success the status
// stays Submitting: the browser is leaving and the return trip is a new view
// activation.
func (f *Form) GoogleLogin(ctx context.Context) error {
	f.mu.Lock()
	if f.state.Busy {
		f.mu.Unlock()
		return ErrBusy
	}
	f.state.Busy = true
	f.state.Status = StatusSubmitting
	f.state.Message = ""
	gen := f.gen
	f.mu.Unlock()

	redirectTo := LoginURL(f.browser)
	err := guard(func() error {
		return f.client.SignInWithOAuth(ctx, ProviderGoogle, redirectTo)
	})
	if err == nil {
		return nil
	}

	message := msgGoogleUnexpected
	var perr *ProviderError
	if errors.As(err, &perr) {
		message = googleErrorPrefix + perr.Message
	} else {
		f.logger.Error("google login failed", zap.Error(err))
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.state.Busy = false
	if gen == f.gen {
		f.state.Status = StatusFailed
		f.state.Message = message
	}
	return nil
}

// LoginURL is the address OAuth providers send the browser back to.
func LoginURL(b Browser) string {
	if b == nil {
		return Path
	}
	return strings.TrimRight(b.Origin(), "/") + Path
}

type outcome struct {
	status   Status
	message  string
	navigate bool
}

func (f *Form) signIn(ctx context.Context, creds Credentials) outcome {
	var user *User
	err := guard(func() error {
		var err error
		user, err = f.client.SignInWithPassword(ctx, creds.Email, creds.Password)
		return err
	})
	if err != nil {
		return f.failure(err, "sign in")
	}
	if user == nil {
		return outcome{status: StatusIdle}
	}
	return outcome{status: StatusSucceeded, navigate: true}
}

func (f *Form) signUp(ctx context.Context, creds Credentials) outcome {
	var user *User
	err := guard(func() error {
		var err error
		user, err = f.client.SignUp(ctx, SignUpRequest{
			Email:    creds.Email,
			Password: creds.Password,
			FullName: creds.FullName,
		})
		return err
	})
	if err != nil {
		return f.failure(err, "sign up")
	}
	switch {
	case user == nil:
		return outcome{status: StatusIdle}
	case user.Confirmed():
		return outcome{status: StatusSucceeded, navigate: true}
	default:
		return outcome{status: StatusFailed, message: msgCheckEmail}
	}
}

func (f *Form) failure(err error, op string) outcome {
	var perr *ProviderError
	if errors.As(err, &perr) {
		return outcome{status: StatusFailed, message: perr.Message}
	}
	f.logger.Error(op+" failed", zap.Error(err))
	return outcome{status: StatusFailed, message: msgUnexpected}
}

func validate(mode Mode, creds Credentials) *ValidationError {
	if mode == ModeSignUp && strings.TrimSpace(creds.FullName) == "" {
		return &ValidationError{Field: FieldFullName, Message: "Full name is required"}
	}
	if strings.TrimSpace(creds.Email) == "" {
		return &ValidationError{Field: FieldEmail, Message: "Email address is required"}
	}
	if creds.Password == "" {
		return &ValidationError{Field: FieldPassword, Message: "Password is required"}
	}
	if mode == ModeSignUp && utf8.RuneCountInString(creds.Password) < MinSignUpPasswordLength {
		return &ValidationError{
			Field:   FieldPassword,
			Message: fmt.Sprintf("Password must be at least %d characters long", MinSignUpPasswordLength),
		}
	}
	return nil
}

// guard turns a panic inside an Auth Service call into an error so the view
// never crashes and Submitting is always left.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("login: auth service panicked: %v", r)
		}
	}()
	return fn()
}
