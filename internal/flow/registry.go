package flow

import (
	"sync"
	"time"
)

// Factory builds a fresh machine for a browser session.
type Factory func(sessionKey string) *Machine

type entry struct {
	machine  *Machine
	lastUsed time.Time
}

// Registry keeps exactly one active Machine per browser session.
type Registry struct {
	mu      sync.Mutex
	flows   map[string]*entry
	factory Factory
	idle    time.Duration
	now     func() time.Time
}

// NewRegistry builds a registry. Flows untouched for longer than idle are
// dropped; a non-positive idle keeps them until abandoned.
func NewRegistry(factory Factory, idle time.Duration) *Registry {
	return &Registry{
		flows:   make(map[string]*entry),
		factory: factory,
		idle:    idle,
		now:     time.Now,
	}
}

// Start begins a new flow for key, cancelling any previous one.
func (r *Registry) Start(key string) *Machine {
	m := r.factory(key)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepLocked()
	if prev, ok := r.flows[key]; ok {
		prev.machine.Cancel()
	}
	r.flows[key] = &entry{machine: m, lastUsed: r.now()}
	return m
}

// Get returns the active flow for key.
func (r *Registry) Get(key string) (*Machine, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.flows[key]
	if !ok {
		return nil, false
	}
	if r.expired(e) {
		e.machine.Cancel()
		delete(r.flows, key)
		return nil, false
	}
	e.lastUsed = r.now()
	return e.machine, true
}

// Abandon cancels and forgets the flow for key.
func (r *Registry) Abandon(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.flows[key]
	if !ok {
		return false
	}
	e.machine.Cancel()
	delete(r.flows, key)
	return true
}

// Len returns the number of tracked flows.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.flows)
}

func (r *Registry) expired(e *entry) bool {
	return r.idle > 0 && r.now().Sub(e.lastUsed) > r.idle
}

func (r *Registry) sweepLocked() {
	for key, e := range r.flows {
		if r.expired(e) {
			e.machine.Cancel()
			delete(r.flows, key)
		}
	}
}
