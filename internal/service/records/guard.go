package records

import (
	"errors"
	"sync"

	"bitable-report/internal/domain"
)

// IsCredentialError reports whether err means the session has no usable
// credential. Such errors end a fan-out instead of failing one partition.
func IsCredentialError(err error) bool {
	var noCred *domain.NoCredentialError
	var refresh *domain.RefreshFailedError
	return errors.As(err, &noCred) || errors.As(err, &refresh)
}

// CredentialGuard keeps the first credential failure seen by the tasks of
// one fan-out. The zero value is ready to use.
type CredentialGuard struct {
	mu  sync.Mutex
	err error
}

// Observe records err when it is a credential failure and returns it.
func (g *CredentialGuard) Observe(err error) error {
	if err == nil || !IsCredentialError(err) {
		return err
	}
	g.mu.Lock()
	if g.err == nil {
		g.err = err
	}
	g.mu.Unlock()
	return err
}

// Err returns the recorded credential failure, if any.
func (g *CredentialGuard) Err() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.err
}
