package middleware

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"bitable-report/internal/domain"
)

// SessionCookieName names the signed session cookie.
const SessionCookieName = "report_session"

const sessionIssuer = "bitable-report"

// SessionOpener resolves a session ID to its live session, creating an
// empty one on first use.
type SessionOpener interface {
	Open(id string) *domain.Session
}

// Sessions binds each browser to a server-side session through an HS256
// signed cookie carrying the session ID. Credentials never leave the
// server.
type Sessions struct {
	secret   []byte
	ttl      time.Duration
	secure   bool
	registry SessionOpener
	now      func() time.Time
	logger   *slog.Logger
}

// NewSessions creates the session middleware.
func NewSessions(secret string, ttl time.Duration, secure bool, registry SessionOpener, logger *slog.Logger) (*Sessions, error) {
	if secret == "" {
		return nil, fmt.Errorf("session secret is required")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Sessions{
		secret:   []byte(secret),
		ttl:      ttl,
		secure:   secure,
		registry: registry,
		now:      time.Now,
		logger:   logger,
	}, nil
}

// Handler attaches the caller's session to the request context. A missing,
// expired or forged cookie starts a new session.
func (s *Sessions) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var id string
		if c, err := r.Cookie(SessionCookieName); err == nil {
			parsed, err := s.Parse(c.Value)
			if err != nil {
				s.logger.Debug("session cookie rejected", "error", err)
			} else {
				id = parsed
			}
		}
		if id == "" {
			id = domain.NewID()
			if err := s.Issue(w, id); err != nil {
				s.logger.Error("issue session cookie", "error", err)
				http.Error(w, "session unavailable", http.StatusInternalServerError)
				return
			}
		}
		ctx := domain.WithSession(r.Context(), s.registry.Open(id))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Sign returns a token carrying the session ID.
func (s *Sessions) Sign(id string) (string, error) {
	now := s.now()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   id,
		Issuer:    sessionIssuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	})
	return tok.SignedString(s.secret)
}

// Parse validates a session token and returns its session ID.
func (s *Sessions) Parse(token string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(sessionIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return "", fmt.Errorf("parse session token: %w", err)
	}
	if claims.Subject == "" {
		return "", errors.New("session token has no subject")
	}
	return claims.Subject, nil
}

// Issue sets a fresh session cookie for id.
func (s *Sessions) Issue(w http.ResponseWriter, id string) error {
	token, err := s.Sign(id)
	if err != nil {
		return fmt.Errorf("sign session token: %w", err)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(s.ttl.Seconds()),
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Clear expires the session cookie.
func (s *Sessions) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
}
