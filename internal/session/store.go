// Package session owns the authenticated identity of a client session. A Store
// is single-owner: only the flow orchestrator writes to it.
package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Identity is the authenticated user of a session.
type Identity struct {
	UserID          string    `json:"user_id"`
	Username        string    `json:"username"`
	AuthenticatedAt time.Time `json:"authenticated_at"`
}

// ErrNoIdentity is returned by Login for an identity without a username.
var ErrNoIdentity = errors.New("session: identity has no username")

// Persister keeps a trace of the session outside the process.
type Persister interface {
	Save(ctx context.Context, key string, id Identity, ttl time.Duration) error
	Load(ctx context.Context, key string) (Identity, bool, error)
	Delete(ctx context.Context, key string) error
}

// Store holds the current identity for one client session.
type Store struct {
	mu        sync.RWMutex
	key       string
	current   *Identity
	persister Persister
	ttl       time.Duration
	onLogin   func(*Store)
}

// NewStore builds a store for the session identified by key. persister may be
// nil, in which case the session lives in memory only.
func NewStore(key string, persister Persister, ttl time.Duration) *Store {
	return &Store{key: key, persister: persister, ttl: ttl}
}

// Key returns the session identifier.
func (s *Store) Key() string { return s.key }

// Login replaces any existing identity.
func (s *Store) Login(ctx context.Context, id Identity) error {
	if id.Username == "" {
		return ErrNoIdentity
	}
	if id.AuthenticatedAt.IsZero() {
		id.AuthenticatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	if s.persister != nil {
		if err := s.persister.Save(ctx, s.key, id, s.ttl); err != nil {
			s.mu.Unlock()
			return err
		}
	}
	s.current = &id
	s.mu.Unlock()

	if s.onLogin != nil {
		s.onLogin(s)
	}
	return nil
}

// Logout clears the identity in memory and any persisted trace. Logging out an
// empty session is a no-op.
func (s *Store) Logout(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = nil
	if s.persister == nil {
		return nil
	}
	return s.persister.Delete(ctx, s.key)
}

// Current returns the authenticated identity, if any. An identity older than
// the store's TTL is treated as expired and dropped.
func (s *Store) Current() (Identity, bool) {
	s.mu.RLock()
	cur := s.current
	s.mu.RUnlock()
	if cur == nil {
		return Identity{}, false
	}
	if s.ttl > 0 && time.Since(cur.AuthenticatedAt) > s.ttl {
		s.mu.Lock()
		if s.current == cur {
			s.current = nil
		}
		s.mu.Unlock()
		return Identity{}, false
	}
	return *cur, true
}

// Restore reloads the identity from the persister, e.g. after a restart.
func (s *Store) Restore(ctx context.Context) (bool, error) {
	if s.persister == nil {
		return false, nil
	}
	id, ok, err := s.persister.Load(ctx, s.key)
	if err != nil || !ok {
		return false, err
	}
	s.mu.Lock()
	s.current = &id
	s.mu.Unlock()
	return true, nil
}

// vacant reports whether the store holds no live identity. A store busy with
// a write is not vacant.
func (s *Store) vacant() bool {
	if !s.mu.TryRLock() {
		return false
	}
	cur := s.current
	s.mu.RUnlock()
	return cur == nil || (s.ttl > 0 && time.Since(cur.AuthenticatedAt) > s.ttl)
}
