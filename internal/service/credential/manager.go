package credential

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"bitable-report/internal/domain"
)

// Policy bounds how long a credential may be used before it is refreshed.
type Policy struct {
	// SafetyMargin refreshes a credential this close to its expiry.
	SafetyMargin time.Duration
	// MaxAge rotates a credential this long after its last refresh,
	// regardless of the TTL the provider stated.
	MaxAge time.Duration
}

// DefaultPolicy matches the platform's two-hour access tokens.
func DefaultPolicy() Policy {
	return Policy{SafetyMargin: 60 * time.Second, MaxAge: time.Hour}
}

// Reason reports why c needs a refresh at now, or "" when it does not.
func (p Policy) Reason(c *domain.Credential, now time.Time) string {
	remaining := c.Remaining(now)
	switch {
	case remaining <= 0:
		return "expired"
	case remaining <= p.SafetyMargin:
		return "expiring"
	case p.MaxAge > 0 && now.Sub(c.RefreshedAt) >= p.MaxAge:
		return "stale"
	default:
		return ""
	}
}

// Manager decides when a session credential must be refreshed and performs
// the refresh against the auth gateway.
//
// Refreshes are not serialized: two callers crossing the expiry boundary
// together may both refresh, and the last Replace wins.
type Manager struct {
	auth   domain.AuthGateway
	policy Policy
	now    func() time.Time
	logger *slog.Logger
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a Manager.
func NewManager(auth domain.AuthGateway, policy Policy, logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		auth:   auth,
		policy: policy,
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Authorize exchanges an authorization code and installs the resulting
// credential as the session's live credential.
func (m *Manager) Authorize(ctx context.Context, sess *domain.Session, code string) (*domain.Credential, error) {
	if code == "" {
		return nil, domain.ErrValidation("authorization code is required")
	}
	grant, err := m.auth.ExchangeCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}
	cred := domain.NewCredential(grant, m.now())
	sess.Credentials.Replace(cred)
	m.logger.Info("session authorized", "session", sess.ID, "expires_at", cred.ExpiresAt)
	return cred, nil
}

// EnsureValid returns a credential that is safe to use now, refreshing it
// first when the policy says so.
func (m *Manager) EnsureValid(ctx context.Context, sess *domain.Session) (*domain.Credential, error) {
	cur, ok := sess.Credentials.Get()
	if !ok {
		return nil, &domain.NoCredentialError{SessionID: sess.ID}
	}

	reason := m.policy.Reason(cur, m.now())
	if reason == "" {
		return cur, nil
	}
	m.logger.Debug("refreshing credential", "session", sess.ID, "reason", reason)
	return m.refresh(ctx, sess, cur)
}

// Refresh forces a refresh of the session credential.
func (m *Manager) Refresh(ctx context.Context, sess *domain.Session) (*domain.Credential, error) {
	cur, ok := sess.Credentials.Get()
	if !ok {
		return nil, &domain.NoCredentialError{SessionID: sess.ID}
	}
	return m.refresh(ctx, sess, cur)
}

func (m *Manager) refresh(ctx context.Context, sess *domain.Session, cur *domain.Credential) (*domain.Credential, error) {
	if cur.RefreshToken == "" {
		return nil, domain.ErrRefreshFailed("no refresh token", nil)
	}

	grant, err := m.auth.Refresh(ctx, cur.RefreshToken)
	if err != nil {
		m.logger.Warn("credential refresh rejected", "session", sess.ID, "error", err)
		return nil, domain.ErrRefreshFailed("gateway rejected refresh", err)
	}
	if grant.AccessToken == "" {
		return nil, domain.ErrRefreshFailed("gateway returned no access token", nil)
	}
	if grant.RefreshToken == "" {
		grant.RefreshToken = cur.RefreshToken
	}

	next := domain.NewCredential(grant, m.now())
	sess.Credentials.Replace(next)
	m.logger.Info("credential refreshed",
		"session", sess.ID,
		"access_token", mask(next.AccessToken),
		"expires_at", next.ExpiresAt)
	return next, nil
}

// mask keeps the head and tail of a token for log correlation.
func mask(token string) string {
	if len(token) <= 12 {
		return "***"
	}
	return token[:6] + "..." + token[len(token)-6:]
}
