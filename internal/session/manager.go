package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const defaultIdle = 30 * time.Minute

type managed struct {
	store    *Store
	lastUsed time.Time
}

// Manager maps browser session ids to their Store. Stores without a live
// identity are dropped once idle; a persisted trace brings them back.
type Manager struct {
	mu        sync.Mutex
	stores    map[string]*managed
	persister Persister
	ttl       time.Duration
	idle      time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewManager builds a manager. persister may be nil.
func NewManager(persister Persister, ttl time.Duration, logger *slog.Logger) *Manager {
	idle := ttl
	if idle <= 0 {
		idle = defaultIdle
	}
	return &Manager{
		stores:    make(map[string]*managed),
		persister: persister,
		ttl:       ttl,
		idle:      idle,
		logger:    logger,
		now:       time.Now,
	}
}

// Store returns the store for key, creating it and restoring any persisted
// trace on first use.
func (m *Manager) Store(ctx context.Context, key string) *Store {
	if s, ok := m.cached(key); ok {
		return s
	}
	s := m.newStore(key)
	m.restore(ctx, s)
	return m.adopt(s, false)
}

// Lookup returns the identity of the session key without keeping anything
// for sessions it has never seen.
func (m *Manager) Lookup(ctx context.Context, key string) (Identity, bool) {
	if s, ok := m.cached(key); ok {
		return s.Current()
	}
	s := m.newStore(key)
	if !m.restore(ctx, s) {
		return Identity{}, false
	}
	return m.adopt(s, false).Current()
}

// Forget drops the in-memory store for key after logging it out.
func (m *Manager) Forget(ctx context.Context, key string) error {
	m.mu.Lock()
	e, ok := m.stores[key]
	delete(m.stores, key)
	m.mu.Unlock()
	s := m.newStore(key)
	if ok {
		s = e.store
	}
	return s.Logout(ctx)
}

// Len returns the number of stores held in memory.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.stores)
}

func (m *Manager) newStore(key string) *Store {
	s := NewStore(key, m.persister, m.ttl)
	s.onLogin = func(s *Store) { m.adopt(s, true) }
	return s
}

func (m *Manager) cached(key string) (*Store, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.stores[key]
	if !ok {
		return nil, false
	}
	e.lastUsed = m.now()
	return e.store, true
}

func (m *Manager) restore(ctx context.Context, s *Store) bool {
	ok, err := s.Restore(ctx)
	if err != nil && m.logger != nil {
		m.logger.Warn("session restore failed", slog.Any("error", err))
	}
	return ok
}

// adopt registers s under its key. Unless replace is set, a store registered
// concurrently for the same key wins.
func (m *Manager) adopt(s *Store, replace bool) *Store {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepLocked()
	if e, ok := m.stores[s.key]; ok && !replace {
		e.lastUsed = m.now()
		return e.store
	}
	m.stores[s.key] = &managed{store: s, lastUsed: m.now()}
	return s
}

func (m *Manager) sweepLocked() {
	now := m.now()
	for key, e := range m.stores {
		if now.Sub(e.lastUsed) > m.idle && e.store.vacant() {
			delete(m.stores, key)
		}
	}
}
