package scatter

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"bitable-report/internal/domain"
)

// Options configures an Executor.
type Options struct {
	// Workers is the number of partition groups per fan-out. Zero means
	// the pool size.
	Workers int
	// Strict cancels task contexts at the wait deadline, interrupting
	// in-flight calls. Otherwise tasks are only stopped between targets.
	Strict bool
}

// Executor runs partitioned queries on a shared Pool.
type Executor struct {
	pool    *Pool
	workers int
	strict  bool
	logger  *slog.Logger
}

// NewExecutor creates an Executor on pool.
func NewExecutor(pool *Pool, opts Options, logger *slog.Logger) *Executor {
	workers := opts.Workers
	if workers <= 0 {
		workers = pool.Size()
	}
	return &Executor{pool: pool, workers: workers, strict: opts.Strict, logger: logger}
}

// Workers returns the number of groups each fan-out is split into.
func (ex *Executor) Workers() int { return ex.workers }

// Match is the first qualifying result of a FirstMatch run.
type Match[T, R any] struct {
	Target    T
	Partition int
	Value     R
}

// SearchFunc queries one target. found=false means the target holds no
// qualifying result.
type SearchFunc[T, R any] func(ctx context.Context, target T) (value R, found bool, err error)

// FirstMatch searches targets concurrently, one task per non-empty group,
// and keeps the first qualifying result. Each task walks its group in order
// and stops before the next target once any task has matched. Per-target
// errors are logged and skipped.
//
// It waits for every task up to timeout. When the deadline passes first it
// returns completed=false with whatever had matched by then (possibly nil).
// Tasks still running keep going; their results are discarded. Tasks not yet
// started are skipped.
func FirstMatch[T, R any](ctx context.Context, ex *Executor, op string, targets []T, search SearchFunc[T, R], timeout time.Duration) (*Match[T, R], bool) {
	logger := ex.logger.With("op", op)
	var slot Slot[Match[T, R]]

	groups := Partition(targets, ex.workers)
	tasks := make([]func(context.Context), 0, len(groups))
	for gi, group := range groups {
		if len(group) == 0 {
			continue
		}
		tasks = append(tasks, func(ctx context.Context) {
			for _, target := range group {
				if slot.Filled() || ctx.Err() != nil {
					return
				}
				value, found, err := search(ctx, target)
				if err != nil {
					logger.Warn("partition query failed", "partition", gi, "target", target, "error", err)
					continue
				}
				if found && slot.TrySet(Match[T, R]{Target: target, Partition: gi, Value: value}) {
					logger.Debug("partition matched", "partition", gi, "target", target)
				}
			}
		})
	}

	completed := ex.run(ctx, tasks, timeout)
	if !completed {
		logger.Warn("fan-out wait timed out", "timeout", timeout, "matched", slot.Filled())
	}
	m, ok := slot.Get()
	if !ok {
		return nil, completed
	}
	return &m, completed
}

// CollectFunc queries one target and returns its partial result.
type CollectFunc[T, R any] func(ctx context.Context, target T) (R, error)

// Collected is the outcome of a CollectAll run.
type Collected[T, R any] struct {
	// Values holds successful results in input order.
	Values []R
	// Failed lists targets whose query errored or had not finished.
	Failed    []T
	Completed bool
}

// CollectAll runs fn for every target with the same grouping as FirstMatch
// but without early exit. Failed targets are logged and excluded. Results
// arriving after the wait deadline are discarded.
func CollectAll[T, R any](ctx context.Context, ex *Executor, op string, targets []T, fn CollectFunc[T, R], timeout time.Duration) Collected[T, R] {
	logger := ex.logger.With("op", op)

	var mu sync.Mutex
	values := make([]R, len(targets))
	done := make([]bool, len(targets))
	sealed := false

	groups := Partition(targets, ex.workers)
	tasks := make([]func(context.Context), 0, len(groups))
	offset := 0
	for gi, group := range groups {
		base := offset
		offset += len(group)
		if len(group) == 0 {
			continue
		}
		tasks = append(tasks, func(ctx context.Context) {
			for i, target := range group {
				if ctx.Err() != nil {
					return
				}
				v, err := fn(ctx, target)
				if err != nil {
					logger.Warn("partition query failed", "partition", gi, "target", target, "error", err)
					continue
				}
				mu.Lock()
				if !sealed {
					values[base+i] = v
					done[base+i] = true
				}
				mu.Unlock()
			}
		})
	}

	completed := ex.run(ctx, tasks, timeout)

	mu.Lock()
	defer mu.Unlock()
	sealed = true
	out := Collected[T, R]{Completed: completed, Values: make([]R, 0, len(targets))}
	for i, ok := range done {
		if ok {
			out.Values = append(out.Values, values[i])
		} else {
			out.Failed = append(out.Failed, targets[i])
		}
	}
	if !completed {
		logger.Warn("fan-out wait timed out", "timeout", timeout, "collected", len(out.Values), "missing", len(out.Failed))
	}
	return out
}

// Combine runs independent sub-queries that are all required. Any task
// error fails the combination; so does the deadline, with a
// *domain.CombineTimeoutError instead of partial data.
func Combine(ctx context.Context, ex *Executor, timeout time.Duration, parts ...func(ctx context.Context) error) error {
	var (
		mu      sync.Mutex
		errs    []error
		pending atomic.Int64
	)
	pending.Store(int64(len(parts)))

	tasks := make([]func(context.Context), len(parts))
	for i, part := range parts {
		tasks[i] = func(ctx context.Context) {
			defer pending.Add(-1)
			if err := part(ctx); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}
	}

	if !ex.run(ctx, tasks, timeout) {
		if err := ctx.Err(); err != nil {
			return err
		}
		return &domain.CombineTimeoutError{Timeout: timeout, Pending: int(pending.Load())}
	}

	mu.Lock()
	defer mu.Unlock()
	return errors.Join(errs...)
}

// run schedules tasks on the pool and waits for them up to timeout or until
// ctx is done. It reports whether every task finished in time. Tasks that
// have not started when the wait gives up are skipped.
func (ex *Executor) run(ctx context.Context, tasks []func(context.Context), timeout time.Duration) bool {
	taskCtx, release := ex.taskContext(ctx)
	var gaveUp atomic.Bool

	var wg sync.WaitGroup
	wg.Add(len(tasks))
	go func() {
		for i, task := range tasks {
			if gaveUp.Load() {
				ex.logger.Debug("skipping unstarted tasks after the wait gave up", "skipped", len(tasks)-i)
				for range tasks[i:] {
					wg.Done()
				}
				return
			}
			err := ex.pool.Submit(taskCtx, func(ctx context.Context) {
				defer wg.Done()
				if gaveUp.Load() {
					return
				}
				task(ctx)
			})
			if err != nil {
				ex.logger.Warn("task not scheduled", "error", err)
				wg.Done()
			}
		}
	}()

	finished := make(chan struct{})
	go func() {
		wg.Wait()
		release()
		close(finished)
	}()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-finished:
		return true
	case <-expired:
	case <-ctx.Done():
	}
	gaveUp.Store(true)
	if ex.strict {
		release()
	}
	return false
}

// taskContext derives the context handed to tasks. It keeps the caller's
// values and is always cancelled when the pool is interrupted. In strict
// mode it also follows the caller's cancellation, and run cancels it when
// the wait gives up.
func (ex *Executor) taskContext(parent context.Context) (context.Context, context.CancelFunc) {
	base := parent
	if !ex.strict {
		base = context.WithoutCancel(parent)
	}
	ctx, cancel := context.WithCancel(base)
	stop := context.AfterFunc(ex.pool.Context(), cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
