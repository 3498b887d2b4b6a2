package credential

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Rotator periodically refreshes every open session's credential so idle
// sessions do not come back with an expired token.
type Rotator struct {
	cron     *cron.Cron
	manager  *Manager
	sessions *Registry
	schedule string
	logger   *slog.Logger
}

// NewRotator creates a Rotator firing on a cron schedule (e.g. "@every 1h").
func NewRotator(manager *Manager, sessions *Registry, schedule string, logger *slog.Logger) *Rotator {
	return &Rotator{
		cron:     cron.New(),
		manager:  manager,
		sessions: sessions,
		schedule: schedule,
		logger:   logger,
	}
}

// Start registers the rotation job and starts the scheduler.
func (r *Rotator) Start(ctx context.Context) error {
	if _, err := r.cron.AddFunc(r.schedule, func() { r.RotateAll(ctx) }); err != nil {
		return fmt.Errorf("register credential rotation %q: %w", r.schedule, err)
	}
	r.cron.Start()
	r.logger.Info("credential rotator started", "schedule", r.schedule)
	return nil
}

// Stop stops the scheduler and waits for a running rotation to finish.
func (r *Rotator) Stop() {
	<-r.cron.Stop().Done()
	r.logger.Info("credential rotator stopped")
}

// RotateAll refreshes each open session that holds a credential. Failures
// are logged per session and do not stop the sweep.
func (r *Rotator) RotateAll(ctx context.Context) (rotated, failed int) {
	for _, sess := range r.sessions.Snapshot() {
		if _, ok := sess.Credentials.Get(); !ok {
			continue
		}
		if _, err := r.manager.Refresh(ctx, sess); err != nil {
			failed++
			r.logger.Warn("scheduled credential rotation failed", "session", sess.ID, "error", err)
			continue
		}
		rotated++
	}
	if rotated+failed > 0 {
		r.logger.Info("credential rotation sweep done", "rotated", rotated, "failed", failed)
	}
	return rotated, failed
}
