package devfaas

import (
	"context"
	"sync"
)

type memoryRepository struct {
	mu     sync.RWMutex
	nextID int64
	users  map[string]User
}

// NewMemoryRepository builds an in-memory user store.
func NewMemoryRepository() Repository {
	return &memoryRepository{users: make(map[string]User)}
}

func (r *memoryRepository) Create(_ context.Context, user User) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.users[user.Username]; exists {
		return User{}, ErrUserExists
	}
	r.nextID++
	user.ID = r.nextID
	r.users[user.Username] = user
	return user, nil
}

func (r *memoryRepository) FindByUsername(_ context.Context, username string) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.users[username]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}

func (r *memoryRepository) Update(_ context.Context, user User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.users[user.Username]
	if !ok || existing.ID != user.ID {
		return ErrUserNotFound
	}
	r.users[user.Username] = user
	return nil
}
