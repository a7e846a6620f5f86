// Package config loads the service configuration from the environment.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// DefaultJWTSecret is the SENTRY_JWT_SECRET used when none is set. Tokens
// signed with it can be forged by anyone who has read this file.
const DefaultJWTSecret = "dev-secret-change-me"

// Config is the process configuration.
type Config struct {
	HTTPAddr  string `env:"SENTRY_HTTP_ADDR" envDefault:":8080"`
	PublicURL string `env:"SENTRY_PUBLIC_URL" envDefault:"http://localhost:8080"`
	// DatabaseURL selects the Postgres repository; empty keeps users in memory.
	DatabaseURL string `env:"DATABASE_URL"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	JWTSecret   string        `env:"SENTRY_JWT_SECRET" envDefault:"dev-secret-change-me"`
	SessionTTL  time.Duration `env:"SENTRY_SESSION_TTL" envDefault:"1h"`
	AutoConfirm bool          `env:"SENTRY_AUTO_CONFIRM" envDefault:"false"`

	// Cookie keys are hex encoded. Empty keys are generated at start-up,
	// which invalidates browser cookies on every restart.
	CookieHashKey  string `env:"SENTRY_COOKIE_HASH_KEY"`
	CookieBlockKey string `env:"SENTRY_COOKIE_BLOCK_KEY"`

	GoogleClientID     string `env:"SENTRY_GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `env:"SENTRY_GOOGLE_CLIENT_SECRET"`

	SplashDelay time.Duration `env:"SENTRY_SPLASH_DELAY" envDefault:"2500ms"`
	// ViewIdleTTL bounds how long an abandoned login view and its browser state live.
	ViewIdleTTL time.Duration `env:"SENTRY_VIEW_IDLE_TTL" envDefault:"30m"`
}

// Load parses the environment into a Config and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values env tags cannot express.
func (c Config) Validate() error {
	var errs []error
	u, err := url.Parse(c.PublicURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("config: SENTRY_PUBLIC_URL must be an absolute URL, got %q", c.PublicURL))
	}
	if strings.TrimSpace(c.JWTSecret) == "" {
		errs = append(errs, errors.New("config: SENTRY_JWT_SECRET is required"))
	}
	if c.SessionTTL <= 0 {
		errs = append(errs, errors.New("config: SENTRY_SESSION_TTL must be positive"))
	}
	if _, err := decodeKey(c.CookieHashKey, hashKeySizes); err != nil {
		errs = append(errs, fmt.Errorf("config: SENTRY_COOKIE_HASH_KEY: %w", err))
	}
	if _, err := decodeKey(c.CookieBlockKey, blockKeySizes); err != nil {
		errs = append(errs, fmt.Errorf("config: SENTRY_COOKIE_BLOCK_KEY: %w", err))
	}
	if (c.GoogleClientID == "") != (c.GoogleClientSecret == "") {
		errs = append(errs, errors.New("config: SENTRY_GOOGLE_CLIENT_ID and SENTRY_GOOGLE_CLIENT_SECRET must be set together"))
	}
	return errors.Join(errs...)
}

// Origin is the scheme and host of PublicURL.
func (c Config) Origin() string {
	u, err := url.Parse(c.PublicURL)
	if err != nil {
		return strings.TrimRight(c.PublicURL, "/")
	}
	return u.Scheme + "://" + u.Host
}

// UsesDefaultJWTSecret reports whether tokens are signed with DefaultJWTSecret.
func (c Config) UsesDefaultJWTSecret() bool {
	return c.JWTSecret == DefaultJWTSecret
}

// GoogleEnabled reports whether Google sign-in is configured.
func (c Config) GoogleEnabled() bool {
	return c.GoogleClientID != ""
}

// CookieKeys returns the decoded cookie keys; nil means "generate".
func (c Config) CookieKeys() (hashKey, blockKey []byte) {
	hashKey, _ = decodeKey(c.CookieHashKey, hashKeySizes)
	blockKey, _ = decodeKey(c.CookieBlockKey, blockKeySizes)
	return hashKey, blockKey
}

// The hash key signs with HMAC-SHA256; the block key is an AES key.
var (
	hashKeySizes  = []int{32, 64}
	blockKeySizes = []int{16, 24, 32}
)

func decodeKey(s string, sizes []int) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("not hex: %w", err)
	}
	if !slices.Contains(sizes, len(key)) {
		return nil, fmt.Errorf("want one of %v bytes, got %d", sizes, len(key))
	}
	return key, nil
}
