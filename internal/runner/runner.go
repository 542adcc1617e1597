// Package runner provides the bounded worker pool that executes podcast
// generation tasks. Admission control is reject-based: when all workers are
// busy, Submit fails immediately instead of queueing, so callers can report
// backpressure to clients.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// DefaultMaxWorkers is used when the configured worker count is not positive.
const DefaultMaxWorkers = 2

var (
	// ErrDuplicate reports a Submit for a task id that is already running.
	ErrDuplicate = errors.New("runner: task already running")

	// ErrAtCapacity reports a Submit while all workers are busy.
	ErrAtCapacity = errors.New("runner: at capacity")

	// ErrShutdown reports a Submit after Shutdown has begun.
	ErrShutdown = errors.New("runner: shutting down")
)

// Task is one unit of work. It runs on its own goroutine with a context
// derived from the runner's base context; cancellation is cooperative and
// failures surface through the status store, not through the runner.
type Task func(ctx context.Context)

// CancelResult describes the outcome of [Runner.Cancel].
type CancelResult int

const (
	// CancelSignalled means the task was running and its context has now
	// been cancelled.
	CancelSignalled CancelResult = iota

	// CancelNotFound means no task with that id is currently running.
	CancelNotFound

	// CancelAlreadyDone means cancellation was already requested and the
	// task is winding down.
	CancelAlreadyDone
)

func (r CancelResult) String() string {
	switch r {
	case CancelSignalled:
		return "signalled"
	case CancelNotFound:
		return "not_found"
	case CancelAlreadyDone:
		return "already_done"
	default:
		return fmt.Sprintf("cancel_result(%d)", int(r))
	}
}

// Status is a point-in-time snapshot of the pool, exposed through the
// service health surface.
type Status struct {
	MaxWorkers     int      `json:"max_workers"`
	Active         int      `json:"active"`
	AvailableSlots int      `json:"available_slots"`
	ActiveTaskIDs  []string `json:"active_task_ids"`
}

type taskEntry struct {
	cancel    context.CancelFunc
	cancelled bool
	started   time.Time
}

// Runner runs up to maxWorkers tasks concurrently, one per task id.
// The task id is the idempotency key while running: resubmitting a running
// id is rejected with [ErrDuplicate].
//
// All methods are safe for concurrent use.
type Runner struct {
	base context.Context
	max  int

	mu     sync.Mutex
	active map[string]*taskEntry
	closed bool
	wg     sync.WaitGroup
}

// New creates a runner whose task contexts derive from base, so cancelling
// base (process shutdown) cancels every running task. A non-positive
// maxWorkers falls back to [DefaultMaxWorkers].
func New(base context.Context, maxWorkers int) *Runner {
	if maxWorkers <= 0 {
		maxWorkers = DefaultMaxWorkers
	}
	return &Runner{
		base:   base,
		max:    maxWorkers,
		active: make(map[string]*taskEntry),
	}
}

// Submit starts fn on a worker goroutine. It returns [ErrDuplicate] when the
// task id is already running, [ErrAtCapacity] when all workers are busy, and
// [ErrShutdown] after [Runner.Shutdown] has begun.
func (r *Runner) Submit(taskID string, fn Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrShutdown
	}
	if _, ok := r.active[taskID]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicate, taskID)
	}
	if len(r.active) >= r.max {
		return fmt.Errorf("%w: %d of %d workers busy", ErrAtCapacity, len(r.active), r.max)
	}

	ctx, cancel := context.WithCancel(r.base)
	r.active[taskID] = &taskEntry{cancel: cancel, started: time.Now()}
	r.wg.Add(1)

	go func() {
		defer r.wg.Done()
		defer r.release(taskID, cancel)
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("task panicked", "task_id", taskID, "panic", rec)
			}
		}()
		fn(ctx)
	}()

	slog.Info("task submitted", "task_id", taskID, "active", len(r.active), "max_workers", r.max)
	return nil
}

// release frees the worker slot and the task's context resources.
func (r *Runner) release(taskID string, cancel context.CancelFunc) {
	cancel()
	r.mu.Lock()
	e := r.active[taskID]
	delete(r.active, taskID)
	r.mu.Unlock()

	if e != nil {
		slog.Info("task finished", "task_id", taskID, "duration", time.Since(e.started))
	}
}

// Cancel requests cooperative cancellation of a running task. The task keeps
// its worker slot until it observes the cancelled context and returns.
func (r *Runner) Cancel(taskID string) CancelResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.active[taskID]
	if !ok {
		return CancelNotFound
	}
	if e.cancelled {
		return CancelAlreadyDone
	}
	e.cancelled = true
	e.cancel()
	slog.Info("task cancellation signalled", "task_id", taskID)
	return CancelSignalled
}

// IsRunning reports whether the given task currently holds a worker slot.
func (r *Runner) IsRunning(taskID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[taskID]
	return ok
}

// CanAccept reports whether a Submit would currently be admitted.
func (r *Runner) CanAccept() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.closed && len(r.active) < r.max
}

// QueueStatus returns a snapshot of the pool. Task ids are sorted for
// stable output.
func (r *Runner) QueueStatus() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.active))
	for id := range r.active {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	return Status{
		MaxWorkers:     r.max,
		Active:         len(r.active),
		AvailableSlots: r.max - len(r.active),
		ActiveTaskIDs:  ids,
	}
}

// Shutdown stops accepting new tasks and waits for running ones to finish.
// When ctx expires before they do, every per-task context is cancelled and
// Shutdown keeps waiting for the workers to unwind cooperatively.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	active := len(r.active)
	r.mu.Unlock()

	slog.Info("runner shutting down", "active", active)

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
	}

	r.mu.Lock()
	for id, e := range r.active {
		if !e.cancelled {
			e.cancelled = true
			e.cancel()
			slog.Warn("cancelling task at shutdown deadline", "task_id", id)
		}
	}
	r.mu.Unlock()

	<-done
	return ctx.Err()
}
