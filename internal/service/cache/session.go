// Package cache memoizes aggregate report rows in two tiers: an in-memory
// tier scoped to one session and a durable, TTL-bound tier on disk.
package cache

import (
	"sync"

	"bitable-report/internal/domain"
)

// SessionTier holds entries in memory, one map per session. Entries never
// expire; they go away on Invalidate or when the session ends.
type SessionTier struct {
	mu       sync.RWMutex
	sessions map[string]map[string]*domain.CacheEntry
}

// NewSessionTier creates an empty SessionTier.
func NewSessionTier() *SessionTier {
	return &SessionTier{sessions: make(map[string]map[string]*domain.CacheEntry)}
}

// Get returns the session's entry for key.
func (t *SessionTier) Get(sessionID, key string) (*domain.CacheEntry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.sessions[sessionID][key]
	return e, ok
}

// Put stores entry for the session, replacing any previous one.
func (t *SessionTier) Put(sessionID string, entry *domain.CacheEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entries, ok := t.sessions[sessionID]
	if !ok {
		entries = make(map[string]*domain.CacheEntry)
		t.sessions[sessionID] = entries
	}
	entries[entry.Key] = entry
}

// Delete removes the session's entry for key.
func (t *SessionTier) Delete(sessionID, key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions[sessionID], key)
}

// Drop removes every entry of the session.
func (t *SessionTier) Drop(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, sessionID)
}

// Len returns the number of entries held for the session.
func (t *SessionTier) Len(sessionID string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions[sessionID])
}
