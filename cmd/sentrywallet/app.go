package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"sentrywallet/auth"
	"sentrywallet/authclient"
	"sentrywallet/config"
	"sentrywallet/db"
	"sentrywallet/observability"
	"sentrywallet/web"
)

const (
	janitorInterval = time.Minute
	shutdownTimeout = 10 * time.Second
)

var loadConfig = config.Load

// app owns every long lived component of a serving process.
type app struct {
	cfg      config.Config
	logger   *zap.Logger
	pool     *pgxpool.Pool
	auth     *auth.Service
	registry *authclient.Registry
	server   *web.Server
}

func newApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	if cfg.UsesDefaultJWTSecret() {
		logger.Warn("SENTRY_JWT_SECRET is not set, sessions are signed with the built-in development secret")
	}

	repo, err := a.openRepository(ctx)
	if err != nil {
		return nil, err
	}

	providers := map[string]auth.OAuthProvider{}
	if cfg.GoogleEnabled() {
		providers[string(auth.ProviderGoogle)] = auth.GoogleProvider(
			cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.Origin()+"/auth/callback")
	}
	a.auth = auth.NewService(repo, auth.Options{
		JWTSecret:   cfg.JWTSecret,
		SessionTTL:  cfg.SessionTTL,
		AutoConfirm: cfg.AutoConfirm,
		ConfirmURL:  cfg.Origin() + "/auth/confirm",
		Mailer:      auth.NewLogMailer(logger),
		Providers:   providers,
		Logger:      logger,
	})
	a.registry = authclient.NewRegistry(a.auth, authclient.Options{
		IdleTTL: cfg.ViewIdleTTL,
		Logger:  logger,
	})

	hashKey, blockKey := cfg.CookieKeys()
	a.server, err = web.NewServer(web.Config{
		Origin:         cfg.Origin(),
		Auth:           a.auth,
		Registry:       a.registry,
		Logger:         logger,
		CookieHashKey:  hashKey,
		CookieBlockKey: blockKey,
		SplashDelay:    cfg.SplashDelay,
		ViewIdleTTL:    cfg.ViewIdleTTL,
		BaseContext:    ctx,
	})
	if err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) openRepository(ctx context.Context) (auth.Repository, error) {
	if a.cfg.DatabaseURL == "" {
		a.logger.Warn("DATABASE_URL is not set, accounts are kept in memory")
		return auth.NewMemoryRepository(), nil
	}
	pool, err := db.NewPool(ctx, a.cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("bootstrap database pool: %w", err)
	}
	applied, err := db.Migrate(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	a.logger.Info("database ready", zap.Strings("migrations", applied))
	a.pool = pool
	return auth.NewRepository(pool), nil
}

// run serves on ln until ctx is done, then shuts the HTTP server down and
// waits for the janitors.
func (a *app) run(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.server,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("http server listening", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return a.server.Run(gctx, janitorInterval)
	})
	g.Go(func() error {
		return a.registry.Run(gctx, janitorInterval)
	})
	g.Go(func() error {
		ticker := time.NewTicker(janitorInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if n := a.auth.Sweep(); n > 0 {
					a.logger.Debug("expired oauth flows dropped", zap.Int("count", n))
				}
			}
		}
	})
	return g.Wait()
}

func (a *app) close() {
	if a.server != nil {
		a.server.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

func serve(ctx context.Context, cfg config.Config) error {
	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	ln, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.HTTPAddr, err)
	}
	return a.run(ctx, ln)
}

func migrate(ctx context.Context, cfg config.Config) ([]string, error) {
	if cfg.DatabaseURL == "" {
		return nil, errors.New("migrate: DATABASE_URL is required")
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("bootstrap database pool: %w", err)
	}
	defer pool.Close()
	return db.Migrate(ctx, pool)
}
