package scatter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// ErrPoolClosed is returned by Submit after Shutdown has begun.
var ErrPoolClosed = errors.New("worker pool is shut down")

// Pool is a fixed-size worker pool shared by every fan-out in the process.
// Submit blocks while all workers are busy.
type Pool struct {
	group  errgroup.Group
	size   int
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger

	mu     sync.RWMutex // held for reading by Submit, for writing by the drain
	closed atomic.Bool
	active atomic.Int64
}

// NewPool creates a pool running at most size tasks at once.
func NewPool(size int, logger *slog.Logger) *Pool {
	if size < 1 {
		size = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{size: size, ctx: ctx, cancel: cancel, logger: logger}
	p.group.SetLimit(size)
	return p
}

// Size returns the worker count.
func (p *Pool) Size() int { return p.size }

// Active returns the number of tasks currently running.
func (p *Pool) Active() int { return int(p.active.Load()) }

// Context is cancelled when a shutdown grace period expires.
func (p *Pool) Context() context.Context { return p.ctx }

// Submit schedules task. A panicking task is recovered and logged.
func (p *Pool) Submit(ctx context.Context, task func(context.Context)) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed.Load() {
		return ErrPoolClosed
	}

	p.group.Go(func() error {
		p.active.Add(1)
		defer p.active.Add(-1)
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("worker task panicked", "panic", r, "stack", string(debug.Stack()))
			}
		}()
		task(ctx)
		return nil
	})
	return nil
}

// Shutdown stops accepting tasks and waits up to grace for running ones.
// When the grace period expires the pool context is cancelled, interrupting
// any call still in flight, and an error reports how many were cut off.
func (p *Pool) Shutdown(grace time.Duration) error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}

	drained := make(chan struct{})
	go func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		_ = p.group.Wait()
		close(drained)
	}()

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-drained:
		p.cancel()
		p.logger.Info("worker pool drained")
		return nil
	case <-timer.C:
		running := p.active.Load()
		p.cancel()
		p.logger.Warn("worker pool grace period expired; interrupting tasks", "running", running, "grace", grace)
		return fmt.Errorf("worker pool: %d tasks still running after %s", running, grace)
	}
}
