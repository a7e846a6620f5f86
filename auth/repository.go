package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrUserNotFound signals that the user does not exist.
	ErrUserNotFound = errors.New("auth: user not found")
	// ErrDuplicateEmail signals that the email is already registered.
	ErrDuplicateEmail = errors.New("auth: email already exists")
	// ErrAlreadyConfirmed signals that the address was verified earlier.
	ErrAlreadyConfirmed = errors.New("auth: email already confirmed")
)

// Repository handles data access for authentication.
type Repository interface {
	CreateUser(ctx context.Context, params CreateUserParams) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	GetUserByID(ctx context.Context, userID string) (User, error)
	// ConfirmEmail stamps the confirmation time of an unconfirmed account.
	// It returns ErrAlreadyConfirmed when the account was confirmed before.
	ConfirmEmail(ctx context.Context, userID string, at time.Time) (User, error)
	// ClaimUnconfirmed hands an unconfirmed account to a provider identity:
	// the password and name chosen at sign-up are discarded and the account
	// is confirmed. It returns ErrAlreadyConfirmed when the account was
	// confirmed before.
	ClaimUnconfirmed(ctx context.Context, userID string, params ClaimParams) (User, error)
}

// ClaimParams describe the provider identity taking over an account.
type ClaimParams struct {
	FullName    string
	Provider    Provider
	ConfirmedAt time.Time
}

// CreateUserParams contains write parameters for creating users.
type CreateUserParams struct {
	Email            string
	FullName         string
	PasswordHash     string
	Provider         Provider
	EmailConfirmedAt *time.Time
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a PostgreSQL-backed auth repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const userColumns = `id, email, full_name, password_hash, provider, email_confirmed_at, created_at, updated_at`

// CreateUser inserts a new user. Emails are unique regardless of case.
func (r *PGRepository) CreateUser(ctx context.Context, params CreateUserParams) (User, error) {
	const insertSQL = `
		INSERT INTO users (email, full_name, password_hash, provider, email_confirmed_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + userColumns

	provider := params.Provider
	if provider == "" {
		provider = ProviderEmail
	}
	user, err := scanUser(r.pool.QueryRow(ctx, insertSQL,
		params.Email, params.FullName, params.PasswordHash, provider, params.EmailConfirmedAt))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return User{}, ErrDuplicateEmail
		}
		return User{}, fmt.Errorf("auth: create user: %w", err)
	}

	return user, nil
}

// GetUserByEmail retrieves a user by email address, ignoring case.
func (r *PGRepository) GetUserByEmail(ctx context.Context, email string) (User, error) {
	const selectSQL = `SELECT ` + userColumns + ` FROM users WHERE lower(email) = lower($1)`

	user, err := scanUser(r.pool.QueryRow(ctx, selectSQL, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("auth: get user by email: %w", err)
	}

	return user, nil
}

// GetUserByID retrieves a user by ID.
func (r *PGRepository) GetUserByID(ctx context.Context, userID string) (User, error) {
	const selectSQL = `SELECT ` + userColumns + ` FROM users WHERE id::text = $1`

	user, err := scanUser(r.pool.QueryRow(ctx, selectSQL, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("auth: get user by id: %w", err)
	}

	return user, nil
}

// ConfirmEmail marks the user's address as verified.
func (r *PGRepository) ConfirmEmail(ctx context.Context, userID string, at time.Time) (User, error) {
	const updateSQL = `
		UPDATE users
		SET email_confirmed_at = $2, updated_at = now()
		WHERE id::text = $1 AND email_confirmed_at IS NULL
		RETURNING ` + userColumns

	user, err := scanUser(r.pool.QueryRow(ctx, updateSQL, userID, at))
	if err != nil {
		return User{}, r.unconfirmedMiss(ctx, userID, "confirm email", err)
	}

	return user, nil
}

// ClaimUnconfirmed resets the credentials of an unconfirmed account for a
// provider identity.
func (r *PGRepository) ClaimUnconfirmed(ctx context.Context, userID string, params ClaimParams) (User, error) {
	const updateSQL = `
		UPDATE users
		SET password_hash = '', full_name = $2, provider = $3,
		    email_confirmed_at = $4, updated_at = now()
		WHERE id::text = $1 AND email_confirmed_at IS NULL
		RETURNING ` + userColumns

	user, err := scanUser(r.pool.QueryRow(ctx, updateSQL,
		userID, params.FullName, params.Provider, params.ConfirmedAt))
	if err != nil {
		return User{}, r.unconfirmedMiss(ctx, userID, "claim user", err)
	}

	return user, nil
}

// unconfirmedMiss explains an update guarded by "email_confirmed_at IS NULL"
// that matched no row.
func (r *PGRepository) unconfirmedMiss(ctx context.Context, userID, op string, err error) error {
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("auth: %s: %w", op, err)
	}
	if _, err := r.GetUserByID(ctx, userID); err != nil {
		return err
	}
	return ErrAlreadyConfirmed
}

func scanUser(row pgx.Row) (User, error) {
	var (
		user        User
		provider    string
		confirmedAt *time.Time
	)
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.FullName,
		&user.PasswordHash,
		&provider,
		&confirmedAt,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return User{}, err
	}

	user.Provider = Provider(provider)
	user.EmailConfirmedAt = confirmedAt
	return user, nil
}
