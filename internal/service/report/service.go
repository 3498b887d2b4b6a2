// Package report builds the dashboard reports and serves them through the
// two-tier aggregate cache.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"bitable-report/internal/domain"
	"bitable-report/internal/service/cache"
	"bitable-report/internal/service/records"
)

// Result is the output of a Builder. Rows must be JSON-encodable.
type Result struct {
	Rows     any
	Complete bool
	Failed   []string
}

// Builder computes the rows of one report kind.
type Builder interface {
	Build(ctx context.Context, sess *domain.Session, rng domain.Range) (Result, error)
}

// Service answers report requests from the cache or from a live build.
type Service struct {
	cache    *cache.AggregateCache
	creds    records.CredentialSource
	builders map[domain.ReportKind]Builder
	now      func() time.Time
	logger   *slog.Logger
}

// Option customizes a Service.
type Option func(*Service)

// WithClock overrides the time source used to stamp live reports.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a Service.
func NewService(c *cache.AggregateCache, creds records.CredentialSource, builders map[domain.ReportKind]Builder, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		cache:    c,
		creds:    creds,
		builders: builders,
		now:      time.Now,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetReport returns the report for kind and range, preferring a cached copy.
// On a miss it builds the report live and caches it when every partition
// contributed. A session that never signed in gets no report, cached or not.
func (s *Service) GetReport(ctx context.Context, sess *domain.Session, kind domain.ReportKind, rng domain.Range) (*domain.Report, error) {
	b, ok := s.builders[kind]
	if !ok {
		return nil, domain.ErrValidation("unknown report kind %q", kind)
	}
	if err := requireCredential(sess); err != nil {
		return nil, err
	}
	key := domain.ReportKey(kind, rng)
	scope := s.cache.ForSession(sess.ID)

	if e, tier, ok := scope.Lookup(key); ok {
		s.logger.Debug("report served from cache", "key", key, "tier", tier)
		return &domain.Report{
			Key:       key,
			Kind:      kind,
			Range:     rng,
			Rows:      e.Rows,
			FetchedAt: e.FetchedAt,
			Source:    domain.SourceCache,
			Tier:      tier,
			Complete:  true,
		}, nil
	}
	return s.build(ctx, sess, b, kind, rng, scope)
}

// Refresh drops the cached copy of a report and rebuilds it.
func (s *Service) Refresh(ctx context.Context, sess *domain.Session, kind domain.ReportKind, rng domain.Range) (*domain.Report, error) {
	b, ok := s.builders[kind]
	if !ok {
		return nil, domain.ErrValidation("unknown report kind %q", kind)
	}
	if err := requireCredential(sess); err != nil {
		return nil, err
	}
	scope := s.cache.ForSession(sess.ID)
	scope.Invalidate(domain.ReportKey(kind, rng))
	return s.build(ctx, sess, b, kind, rng, scope)
}

// requireCredential checks that the session holds a credential at all.
// Expiry is handled later by EnsureValid, on a cache miss.
func requireCredential(sess *domain.Session) error {
	if sess.Credentials == nil {
		return &domain.NoCredentialError{SessionID: sess.ID}
	}
	if _, ok := sess.Credentials.Get(); !ok {
		return &domain.NoCredentialError{SessionID: sess.ID}
	}
	return nil
}

func (s *Service) build(ctx context.Context, sess *domain.Session, b Builder, kind domain.ReportKind, rng domain.Range, scope *cache.Scope) (*domain.Report, error) {
	key := domain.ReportKey(kind, rng)
	if _, err := s.creds.EnsureValid(ctx, sess); err != nil {
		return nil, err
	}

	start := s.now()
	res, err := b.Build(ctx, sess, rng)
	if err != nil {
		return nil, fmt.Errorf("build %s report: %w", kind, err)
	}
	rows, err := json.Marshal(res.Rows)
	if err != nil {
		return nil, fmt.Errorf("encode %s report: %w", kind, err)
	}

	report := &domain.Report{
		Key:       key,
		Kind:      kind,
		Range:     rng,
		Rows:      rows,
		FetchedAt: s.now(),
		Source:    domain.SourceLive,
		Complete:  res.Complete,
		Failed:    res.Failed,
	}
	if res.Complete {
		scope.Store(&domain.CacheEntry{Key: key, FetchedAt: report.FetchedAt, Rows: rows})
	} else {
		s.logger.Warn("partial report not cached", "key", key, "failed", res.Failed)
	}
	s.logger.Info("report built", "key", key, "complete", res.Complete, "elapsed", s.now().Sub(start))
	return report, nil
}
