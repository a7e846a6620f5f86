package auth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLength is the shortest password accepted for new accounts.
const MinPasswordLength = 6

// MaxPasswordBytes is the longest password bcrypt can hash.
const MaxPasswordBytes = 72

const (
	purposeAccess  = "access"
	purposeConfirm = "email_confirmation"

	defaultSessionTTL = time.Hour
	confirmTokenTTL   = 24 * time.Hour
)

var (
	// ErrInvalidCredentials signals wrong email or password.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrWeakPassword signals password doesn't meet requirements.
	ErrWeakPassword = errors.New("auth: password must be at least 6 characters")
	// ErrPasswordTooLong signals a password bcrypt would refuse.
	ErrPasswordTooLong = errors.New("auth: password must be at most 72 bytes")
	// ErrMissingFields signals that email or full name is empty.
	ErrMissingFields = errors.New("auth: email and full_name are required")
	// ErrEmailNotConfirmed signals a sign-in before the address was verified.
	ErrEmailNotConfirmed = errors.New("auth: email not confirmed")
	// ErrInvalidToken signals a malformed, expired or misused token.
	ErrInvalidToken = errors.New("auth: invalid token")
)

// Options configures a Service. Zero values fall back to development defaults.
type Options struct {
	JWTSecret  string
	SessionTTL time.Duration
	// AutoConfirm marks new password accounts as confirmed immediately.
	AutoConfirm bool
	// ConfirmURL is the absolute address of the email confirmation endpoint.
	ConfirmURL string
	Mailer     Mailer
	Providers  map[string]OAuthProvider
	Now        func() time.Time
	Logger     *zap.Logger
}

// Service handles authentication business logic.
type Service struct {
	repo        Repository
	jwtSecret   []byte
	sessionTTL  time.Duration
	autoConfirm bool
	confirmURL  string
	mailer      Mailer
	providers   map[string]OAuthProvider
	flows       *flowStore
	now         func() time.Time
	logger      *zap.Logger
}

type tokenClaims struct {
	Purpose string `json:"purpose"`
	Email   string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// NewService creates a new authentication service.
func NewService(repo Repository, opts Options) *Service {
	s := &Service{
		repo:        repo,
		jwtSecret:   []byte(opts.JWTSecret),
		sessionTTL:  opts.SessionTTL,
		autoConfirm: opts.AutoConfirm,
		confirmURL:  opts.ConfirmURL,
		mailer:      opts.Mailer,
		providers:   opts.Providers,
		flows:       newFlowStore(),
		now:         opts.Now,
		logger:      opts.Logger,
	}
	if s.sessionTTL <= 0 {
		s.sessionTTL = defaultSessionTTL
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.mailer == nil {
		s.mailer = NewLogMailer(s.logger)
	}
	if s.providers == nil {
		s.providers = map[string]OAuthProvider{}
	}
	return s
}

// SignUp creates a password account. A session is issued only when the
// account is confirmed on creation; otherwise a confirmation link is mailed.
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (SignUpResult, error) {
	email := normalizeEmail(req.Email)
	fullName := strings.TrimSpace(req.FullName)
	if email == "" || fullName == "" {
		return SignUpResult{}, ErrMissingFields
	}
	if utf8.RuneCountInString(req.Password) < MinPasswordLength {
		return SignUpResult{}, ErrWeakPassword
	}
	if len(req.Password) > MaxPasswordBytes {
		return SignUpResult{}, ErrPasswordTooLong
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return SignUpResult{}, fmt.Errorf("auth: hash password: %w", err)
	}

	params := CreateUserParams{
		Email:        email,
		FullName:     fullName,
		PasswordHash: string(passwordHash),
		Provider:     ProviderEmail,
	}
	if s.autoConfirm {
		at := s.now().UTC()
		params.EmailConfirmedAt = &at
	}
	user, err := s.repo.CreateUser(ctx, params)
	if err != nil {
		return SignUpResult{}, err
	}

	if user.Confirmed() {
		session, err := s.issueSession(user)
		if err != nil {
			return SignUpResult{}, err
		}
		return SignUpResult{User: user, Session: &session}, nil
	}

	if err := s.sendConfirmation(ctx, user); err != nil {
		return SignUpResult{}, err
	}
	return SignUpResult{User: user}, nil
}

// SignInWithPassword authenticates a user and opens a session.
func (s *Service) SignInWithPassword(ctx context.Context, req SignInRequest) (Session, error) {
	user, err := s.repo.GetUserByEmail(ctx, normalizeEmail(req.Email))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return Session{}, ErrInvalidCredentials
		}
		return Session{}, err
	}

	// OAuth-only accounts have no password hash and can never match.
	if user.PasswordHash == "" {
		return Session{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return Session{}, ErrInvalidCredentials
	}
	if !user.Confirmed() {
		return Session{}, ErrEmailNotConfirmed
	}

	return s.issueSession(user)
}

// GetSession validates an access token and reloads its user.
func (s *Service) GetSession(ctx context.Context, accessToken string) (Session, error) {
	claims, err := s.parseToken(accessToken, purposeAccess)
	if err != nil {
		return Session{}, err
	}
	user, err := s.repo.GetUserByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return Session{}, ErrInvalidToken
		}
		return Session{}, err
	}
	return Session{
		AccessToken: accessToken,
		TokenType:   "bearer",
		ExpiresAt:   claims.ExpiresAt.Time,
		User:        user,
	}, nil
}

// ConfirmEmail redeems a confirmation token and signs the user in. A token
// works once: an account that is already confirmed rejects it.
func (s *Service) ConfirmEmail(ctx context.Context, token string) (Session, error) {
	claims, err := s.parseToken(token, purposeConfirm)
	if err != nil {
		return Session{}, err
	}
	user, err := s.repo.ConfirmEmail(ctx, claims.Subject, s.now())
	if err != nil {
		if errors.Is(err, ErrUserNotFound) || errors.Is(err, ErrAlreadyConfirmed) {
			return Session{}, ErrInvalidToken
		}
		return Session{}, err
	}
	return s.issueSession(user)
}

// Sweep drops expired OAuth state and flow codes.
func (s *Service) Sweep() int {
	return s.flows.sweep(s.now())
}

func (s *Service) sendConfirmation(ctx context.Context, user User) error {
	token, err := s.signToken(user, purposeConfirm, confirmTokenTTL)
	if err != nil {
		return fmt.Errorf("auth: generate confirmation token: %w", err)
	}
	link, err := url.Parse(s.confirmURL)
	if err != nil {
		return fmt.Errorf("auth: confirm url: %w", err)
	}
	q := link.Query()
	q.Set("token", token)
	link.RawQuery = q.Encode()

	if err := s.mailer.SendConfirmation(ctx, user.Email, link.String()); err != nil {
		return fmt.Errorf("auth: send confirmation: %w", err)
	}
	return nil
}

func (s *Service) issueSession(user User) (Session, error) {
	token, err := s.signToken(user, purposeAccess, s.sessionTTL)
	if err != nil {
		return Session{}, fmt.Errorf("auth: generate token: %w", err)
	}
	return Session{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresAt:   s.now().Add(s.sessionTTL).Truncate(time.Second),
		User:        user,
	}, nil
}

func (s *Service) signToken(user User, purpose string, ttl time.Duration) (string, error) {
	now := s.now()
	claims := tokenClaims{
		Purpose: purpose,
		Email:   user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
}

func (s *Service) parseToken(tokenString, purpose string) (*tokenClaims, error) {
	claims := &tokenClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return s.jwtSecret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Purpose != purpose || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
