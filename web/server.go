// Package web hosts the login view and the surrounding pages over HTTP.
package web

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"sentrywallet/auth"
	"sentrywallet/authclient"
	"sentrywallet/observability"
)

const (
	defaultSettleTimeout = 3 * time.Second
	defaultSplashDelay   = 2500 * time.Millisecond
	defaultViewIdleTTL   = 30 * time.Minute
)

// AuthService is the Auth Service surface the HTTP layer needs.
type AuthService interface {
	authclient.Service
	CompleteOAuth(ctx context.Context, params auth.CallbackParams) (string, error)
}

// Config wires a Server.
type Config struct {
	// Origin is the public scheme and host, e.g. "https://wallet.example.com".
	Origin   string
	Auth     AuthService
	Registry *authclient.Registry
	Logger   *zap.Logger

	CookieHashKey  []byte
	CookieBlockKey []byte

	SplashDelay time.Duration
	// SettleTimeout bounds how long GET /login waits for the session lookup.
	SettleTimeout time.Duration
	ViewIdleTTL   time.Duration
	// BaseContext outlives requests; session lookups run under it.
	BaseContext context.Context
	Now         func() time.Time
}

// Server serves the application routes.
type Server struct {
	origin        string
	auth          AuthService
	registry      *authclient.Registry
	logger        *zap.Logger
	splashDelay   time.Duration
	settleTimeout time.Duration
	baseCtx       context.Context

	ids      *browserIDs
	views    *viewStore
	renderer *renderer
	metrics  *metrics
	router   chi.Router
}

// NewServer builds the router and its dependencies.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Auth == nil || cfg.Registry == nil {
		return nil, fmt.Errorf("web: auth service and registry are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	baseCtx := cfg.BaseContext
	if baseCtx == nil {
		baseCtx = context.Background()
	}

	ids, err := newBrowserIDs(cfg.CookieHashKey, cfg.CookieBlockKey, strings.HasPrefix(cfg.Origin, "https://"))
	if err != nil {
		return nil, err
	}
	rn, err := newRenderer()
	if err != nil {
		return nil, err
	}

	s := &Server{
		origin:        strings.TrimRight(cfg.Origin, "/"),
		auth:          cfg.Auth,
		registry:      cfg.Registry,
		logger:        logger,
		splashDelay:   orDefault(cfg.SplashDelay, defaultSplashDelay),
		settleTimeout: orDefault(cfg.SettleTimeout, defaultSettleTimeout),
		baseCtx:       baseCtx,
		ids:           ids,
		renderer:      rn,
		metrics:       newMetrics(),
	}
	s.views = newViewStore(orDefault(cfg.ViewIdleTTL, defaultViewIdleTTL), now, logger, s.metrics.activeViews.Dec)
	s.router = s.routes()
	return s, nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.InjectLogger(s.logger))
	r.Use(observability.RequestLogger)
	r.Use(observability.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", s.metrics.handler())

	r.Group(func(r chi.Router) {
		r.Use(s.ids.middleware)
		r.Use(HTMX)

		r.Get("/", s.handleSplash)
		r.Get("/dashboard", s.handleDashboard)
		r.Post("/logout", s.handleLogout)

		r.Route("/login", func(r chi.Router) {
			r.Get("/", s.handleLoginPage)
			r.Post("/", s.handleLoginSubmit)
			r.Post("/mode", s.handleLoginMode)
			r.Post("/password-visibility", s.handlePasswordVisibility)
			r.Post("/google", s.handleGoogleLogin)
			r.Get("/status", s.handleLoginStatus)
		})

		r.Get("/auth/callback", s.handleOAuthCallback)
		r.Get("/auth/confirm", s.handleConfirmEmail)
	})
	return r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Run tears down idle login views every interval until ctx is done, then
// tears down the rest.
func (s *Server) Run(ctx context.Context, interval time.Duration) error {
	return s.views.run(ctx, interval)
}

// Close tears down every live login view.
func (s *Server) Close() {
	s.views.closeAll()
}

func (s *Server) handleSplash(w http.ResponseWriter, r *http.Request) {
	s.renderer.render(w, r, "splash", "layout", http.StatusOK, splashData{
		PageTitle:    "Welcome",
		DelaySeconds: strconv.FormatFloat(s.splashDelay.Seconds(), 'f', -1, 64),
		Next:         "/dashboard",
	})
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	client := s.registry.Client(browserID(r.Context()), nil)
	session, err := client.GetSession(r.Context())
	if err != nil {
		observability.FromContext(r.Context()).Warn("dashboard session lookup failed", zap.Error(err))
	}
	if session == nil {
		redirect(w, r, "/login")
		return
	}
	s.renderer.render(w, r, "dashboard", "layout", http.StatusOK, dashboardData{
		PageTitle: "Dashboard",
		Email:     session.User.Email,
		FullName:  session.User.FullName,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	client := s.registry.Client(browserID(r.Context()), nil)
	if err := client.SignOut(r.Context()); err != nil {
		observability.FromContext(r.Context()).Warn("sign out failed", zap.Error(err))
	}
	redirect(w, r, "/login")
}
