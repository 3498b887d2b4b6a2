package cache

import (
	"log/slog"

	"bitable-report/internal/domain"
)

// DurableTier persists entries across sessions and restarts.
type DurableTier interface {
	Load(key string) (*domain.CacheEntry, bool)
	Save(entry *domain.CacheEntry) error
	Delete(key string)
}

var _ DurableTier = (*FileStore)(nil)

// AggregateCache layers the per-session tier in front of the durable tier.
// The cache is advisory: durable-tier failures degrade to misses and are
// never returned to callers.
type AggregateCache struct {
	session *SessionTier
	durable DurableTier
	logger  *slog.Logger
}

// New creates an AggregateCache. durable may be nil to run memory-only.
func New(session *SessionTier, durable DurableTier, logger *slog.Logger) *AggregateCache {
	return &AggregateCache{session: session, durable: durable, logger: logger}
}

// ForSession returns the cache view of one session.
func (c *AggregateCache) ForSession(sessionID string) *Scope {
	return &Scope{cache: c, sessionID: sessionID}
}

// EndSession drops the session tier of a finished session. Durable entries
// are shared and stay.
func (c *AggregateCache) EndSession(sessionID string) {
	c.session.Drop(sessionID)
}

// Scope is the cache as seen by one session.
type Scope struct {
	cache     *AggregateCache
	sessionID string
}

// Lookup checks the session tier, then the durable tier. A durable hit is
// copied into the session tier before it is returned.
func (s *Scope) Lookup(key string) (*domain.CacheEntry, domain.CacheTier, bool) {
	if e, ok := s.cache.session.Get(s.sessionID, key); ok {
		return e, domain.TierSession, true
	}
	if s.cache.durable == nil {
		return nil, domain.TierNone, false
	}
	e, ok := s.cache.durable.Load(key)
	if !ok {
		return nil, domain.TierNone, false
	}
	s.cache.session.Put(s.sessionID, e)
	return e, domain.TierDurable, true
}

// Store writes entry to the session tier, then to the durable tier. A
// durable write failure is logged and otherwise ignored.
func (s *Scope) Store(entry *domain.CacheEntry) {
	s.cache.session.Put(s.sessionID, entry)
	if s.cache.durable == nil {
		return
	}
	if err := s.cache.durable.Save(entry); err != nil {
		s.cache.logger.Warn("durable cache write failed", "key", entry.Key, "error", err)
	}
}

// Invalidate removes key from both tiers.
func (s *Scope) Invalidate(key string) {
	s.cache.session.Delete(s.sessionID, key)
	if s.cache.durable != nil {
		s.cache.durable.Delete(key)
	}
}
