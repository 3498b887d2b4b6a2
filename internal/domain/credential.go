package domain

import (
	"context"
	"time"
)

// Credential is an access/refresh token pair and its validity window.
// A Credential is never mutated after construction; refresh replaces it.
type Credential struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	IssuedAt     time.Time
	ExpiresAt    time.Time
	RefreshedAt  time.Time
}

// TTL returns the validity window the credential was issued with.
func (c *Credential) TTL() time.Duration { return c.ExpiresAt.Sub(c.IssuedAt) }

// Remaining returns the time left until expiry at now (negative when expired).
func (c *Credential) Remaining(now time.Time) time.Duration { return c.ExpiresAt.Sub(now) }

// TokenGrant is the raw token response returned by the auth gateway.
type TokenGrant struct {
	AccessToken      string
	RefreshToken     string
	TokenType        string
	ExpiresIn        time.Duration
	RefreshExpiresIn time.Duration
}

// NewCredential builds a Credential from a grant issued at now.
func NewCredential(g *TokenGrant, now time.Time) *Credential {
	tokenType := g.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	return &Credential{
		AccessToken:  g.AccessToken,
		RefreshToken: g.RefreshToken,
		TokenType:    tokenType,
		IssuedAt:     now,
		ExpiresAt:    now.Add(g.ExpiresIn),
		RefreshedAt:  now,
	}
}

// CredentialStore holds the single live credential of one session.
type CredentialStore interface {
	Get() (*Credential, bool)
	Replace(c *Credential)
	Clear()
}

// Session is one logical user session and the credential it owns.
type Session struct {
	ID          string
	Credentials CredentialStore
}

// AuthGateway performs token exchanges against the external platform.
type AuthGateway interface {
	ExchangeCode(ctx context.Context, code string) (*TokenGrant, error)
	Refresh(ctx context.Context, refreshToken string) (*TokenGrant, error)
}
