package auth

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is a Repository kept in process memory. It backs local
// runs without a database and the unit tests.
type MemoryRepository struct {
	mu           sync.RWMutex
	usersByEmail map[string]User
	usersByID    map[string]User
	now          func() time.Time
}

// NewMemoryRepository returns an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		usersByEmail: make(map[string]User),
		usersByID:    make(map[string]User),
		now:          time.Now,
	}
}

func (m *MemoryRepository) CreateUser(ctx context.Context, params CreateUserParams) (User, error) {
	key := strings.ToLower(params.Email)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.usersByEmail[key]; exists {
		return User{}, ErrDuplicateEmail
	}

	provider := params.Provider
	if provider == "" {
		provider = ProviderEmail
	}
	now := m.now().UTC()
	user := User{
		ID:               uuid.NewString(),
		Email:            params.Email,
		FullName:         params.FullName,
		PasswordHash:     params.PasswordHash,
		Provider:         provider,
		EmailConfirmedAt: params.EmailConfirmedAt,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	m.usersByEmail[key] = user
	m.usersByID[user.ID] = user
	return user, nil
}

func (m *MemoryRepository) GetUserByEmail(ctx context.Context, email string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	user, ok := m.usersByEmail[strings.ToLower(email)]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}

func (m *MemoryRepository) GetUserByID(ctx context.Context, userID string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	user, ok := m.usersByID[userID]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}

func (m *MemoryRepository) ConfirmEmail(ctx context.Context, userID string, at time.Time) (User, error) {
	return m.updateUnconfirmed(userID, func(user *User) {
		stamp := at.UTC()
		user.EmailConfirmedAt = &stamp
	})
}

func (m *MemoryRepository) ClaimUnconfirmed(ctx context.Context, userID string, params ClaimParams) (User, error) {
	return m.updateUnconfirmed(userID, func(user *User) {
		stamp := params.ConfirmedAt.UTC()
		user.PasswordHash = ""
		user.FullName = params.FullName
		user.Provider = params.Provider
		user.EmailConfirmedAt = &stamp
	})
}

func (m *MemoryRepository) updateUnconfirmed(userID string, apply func(*User)) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.usersByID[userID]
	if !ok {
		return User{}, ErrUserNotFound
	}
	if user.EmailConfirmedAt != nil {
		return User{}, ErrAlreadyConfirmed
	}
	apply(&user)
	user.UpdatedAt = m.now().UTC()
	m.usersByID[user.ID] = user
	m.usersByEmail[strings.ToLower(user.Email)] = user
	return user, nil
}

// Len returns the number of stored users.
func (m *MemoryRepository) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.usersByID)
}
