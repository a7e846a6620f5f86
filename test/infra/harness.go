package infra

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sentrywallet/db"
)

// Harness owns a migrated, per-run schema and the pool pointed at it.
type Harness struct {
	pool    *pgxpool.Pool
	dsn     string
	schema  string
	release func(context.Context) error
}

// NewHarness acquires a database, creates an isolated schema and applies the
// migrations to it. Errors wrap ErrNoDatabase when no server could be found,
// so callers can skip instead of failing.
func NewHarness(ctx context.Context) (*Harness, error) {
	return NewHarnessWithDSN(ctx, "")
}

// NewHarnessWithDSN is NewHarness against an explicit server when dsn is set.
func NewHarnessWithDSN(ctx context.Context, dsn string) (*Harness, error) {
	h := &Harness{
		dsn:     dsn,
		schema:  fmt.Sprintf("sentry_run_%d", time.Now().UnixNano()),
		release: func(context.Context) error { return nil },
	}
	if h.dsn == "" {
		var err error
		h.dsn, h.release, err = Acquire(ctx)
		if err != nil {
			if !errors.Is(err, ErrNoDatabase) {
				err = fmt.Errorf("%w: %v", ErrNoDatabase, err)
			}
			return nil, err
		}
	}

	if err := h.exec(ctx, "CREATE SCHEMA "+h.ident()); err != nil {
		_ = h.release(ctx)
		return nil, fmt.Errorf("infra: create schema %s: %w", h.schema, err)
	}

	pool, err := h.connect(ctx)
	if err == nil {
		if _, err = db.Migrate(ctx, pool); err != nil {
			pool.Close()
		}
	}
	if err != nil {
		_ = h.exec(ctx, "DROP SCHEMA IF EXISTS "+h.ident()+" CASCADE")
		_ = h.release(ctx)
		return nil, err
	}
	h.pool = pool
	return h, nil
}

func (h *Harness) ident() string {
	return pgx.Identifier{h.schema}.Sanitize()
}

// connect opens a pool whose connections resolve unqualified names in the
// run schema. public stays on the path for gen_random_uuid.
func (h *Harness) connect(ctx context.Context) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(h.dsn)
	if err != nil {
		return nil, fmt.Errorf("infra: parse pool config: %w", err)
	}
	cfg.MaxConns = 32
	setPath := fmt.Sprintf("SET search_path TO %s, public", h.ident())
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		_, err := conn.Exec(ctx, setPath)
		return err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("infra: connect pool: %w", err)
	}
	return pool, nil
}

// exec runs one statement on a short lived connection outside the pool.
func (h *Harness) exec(ctx context.Context, sql string) error {
	conn, err := pgx.Connect(ctx, h.dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, sql)
	return err
}

// Pool exposes the configured pgx pool.
func (h *Harness) Pool() *pgxpool.Pool {
	return h.pool
}

// Close drops the run schema and releases the database.
func (h *Harness) Close(ctx context.Context) error {
	h.pool.Close()
	dropErr := h.exec(ctx, "DROP SCHEMA IF EXISTS "+h.ident()+" CASCADE")
	return errors.Join(dropErr, h.release(ctx))
}
