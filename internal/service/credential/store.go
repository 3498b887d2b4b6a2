// Package credential keeps per-session platform credentials valid.
package credential

import (
	"sort"
	"sync"
	"sync/atomic"

	"bitable-report/internal/domain"
)

var _ domain.CredentialStore = (*MemoryStore)(nil)

// MemoryStore holds one session's credential. Readers load the current
// pointer; writers swap in a new value, so a Credential is never observed
// half-updated.
type MemoryStore struct {
	cur atomic.Pointer[domain.Credential]
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Get returns the live credential, if any.
func (s *MemoryStore) Get() (*domain.Credential, bool) {
	c := s.cur.Load()
	return c, c != nil
}

// Replace installs c as the live credential.
func (s *MemoryStore) Replace(c *domain.Credential) {
	s.cur.Store(c)
}

// Clear destroys the live credential.
func (s *MemoryStore) Clear() {
	s.cur.Store(nil)
}

// Registry maps session IDs to their credential stores.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*MemoryStore
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*MemoryStore)}
}

// Open returns the session for id, creating an empty store on first use.
func (r *Registry) Open(id string) *domain.Session {
	r.mu.RLock()
	store, ok := r.sessions[id]
	r.mu.RUnlock()
	if ok {
		return &domain.Session{ID: id, Credentials: store}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if store, ok = r.sessions[id]; !ok {
		store = NewMemoryStore()
		r.sessions[id] = store
	}
	return &domain.Session{ID: id, Credentials: store}
}

// Lookup returns the session for id without creating one.
func (r *Registry) Lookup(id string) (*domain.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	store, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	return &domain.Session{ID: id, Credentials: store}, true
}

// Close ends the session and destroys its credential.
func (r *Registry) Close(id string) {
	r.mu.Lock()
	store, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if ok {
		store.Clear()
	}
}

// Snapshot returns every open session, ordered by ID.
func (r *Registry) Snapshot() []*domain.Session {
	r.mu.RLock()
	out := make([]*domain.Session, 0, len(r.sessions))
	for id, store := range r.sessions {
		out = append(out, &domain.Session{ID: id, Credentials: store})
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of open sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
