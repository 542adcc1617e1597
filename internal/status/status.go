// Package status persists the lifecycle state of podcast generation tasks.
//
// A Store holds one task.Record per task: current status, progress,
// execution log, artifact inventory and, once finished, the resulting
// episode. The transition rules live here rather than in the backends, so
// a record behaves the same whether it sits in Postgres or in memory:
// phases only move forward, progress never decreases, and terminal states
// absorb every later state change.
package status

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/castforge/internal/task"
)

var (
	// ErrNotFound is returned when no record exists for the given task ID.
	ErrNotFound = errors.New("status: task not found")

	// ErrAlreadyExists is returned by Create when the task ID is taken.
	ErrAlreadyExists = errors.New("status: task already exists")

	// ErrTerminal is returned when a write would change the state of a task
	// that has already reached completed, failed or cancelled.
	ErrTerminal = errors.New("status: task is terminal")
)

// Store persists task records. Implementations must be safe for concurrent
// use and must hand out deep copies on reads, so callers never alias
// stored state.
type Store interface {
	// Create inserts the initial record for a freshly submitted task.
	// Returns ErrAlreadyExists if the task ID is taken.
	Create(ctx context.Context, rec *task.Record) error

	// Get returns a snapshot of the record for the given task ID.
	// Returns ErrNotFound if no such task exists.
	Get(ctx context.Context, taskID string) (*task.Record, error)

	// UpdateStatus moves the task to a new status and progress percentage.
	// Transitions are validated: phases only move forward, progress never
	// decreases, and writes against terminal tasks fail with ErrTerminal.
	// An empty description keeps the previous one.
	UpdateStatus(ctx context.Context, taskID string, to task.Status, progressPct int, description string) error

	// AppendLog adds a timestamped entry to the task's execution log.
	// Appending is permitted even after the task reaches a terminal state,
	// e.g. to record webhook delivery outcomes.
	AppendLog(ctx context.Context, taskID, level, message string) error

	// UpdateArtifacts applies fn to the task's artifact inventory under the
	// store's write lock. Artifact flags may still change on terminal
	// tasks: cleanup clears them after removing files.
	UpdateArtifacts(ctx context.Context, taskID string, fn func(*task.Artifacts)) error

	// SetError records why the task failed and moves it to failed.
	// Returns ErrTerminal if the task already reached a terminal state.
	SetError(ctx context.Context, taskID string, taskErr task.Error) error

	// SetEpisode attaches the finished episode to a still-running task. The
	// caller is expected to follow up with UpdateStatus to completed.
	SetEpisode(ctx context.Context, taskID string, ep task.Episode) error

	// List returns one page of task record snapshots, newest first, plus
	// the total number of records. A limit <= 0 returns every record and
	// ignores the offset; an offset past the end yields an empty page.
	List(ctx context.Context, limit, offset int) ([]*task.Record, int, error)

	// Delete removes the task record entirely. Returns ErrNotFound if no
	// such task exists.
	Delete(ctx context.Context, taskID string) error
}

// Advance applies a status transition to rec in place, enforcing the rules
// shared by every backend. Moving to the same status is a progress tick;
// anything else must be a legal forward transition. Progress must not
// decrease, except that failed and cancelled freeze it at its last value.
// Rejected writes are logged, never silently dropped.
func Advance(rec *task.Record, to task.Status, progressPct int, description string, now time.Time) error {
	if rec.Status.Terminal() {
		slog.Warn("status update rejected, task already terminal",
			"task_id", rec.TaskID, "current", rec.Status, "requested", to)
		return fmt.Errorf("%w: task %q is %s", ErrTerminal, rec.TaskID, rec.Status)
	}
	if !to.IsValid() {
		return fmt.Errorf("status: unknown status %q for task %q", to, rec.TaskID)
	}
	if to != rec.Status && !task.CanTransition(rec.Status, to) {
		return fmt.Errorf("status: illegal transition %s -> %s for task %q", rec.Status, to, rec.TaskID)
	}

	switch to {
	case task.StatusFailed, task.StatusCancelled:
		// Progress freezes at its last value.
	default:
		if progressPct < rec.ProgressPct {
			return fmt.Errorf("status: progress for task %q must not decrease (%d -> %d)",
				rec.TaskID, rec.ProgressPct, progressPct)
		}
		if progressPct > 100 {
			progressPct = 100
		}
		rec.ProgressPct = progressPct
	}

	rec.Status = to
	if description != "" {
		rec.StatusDescription = description
	}
	rec.LastUpdatedAt = now.UTC()
	return nil
}

// Fail records taskErr on rec and moves it to failed, appending an
// error-level log entry alongside. An empty Stage defaults to the phase the
// task was in when the error struck. Returns ErrTerminal if the task
// already reached a terminal state, e.g. when a failure races a cancel.
func Fail(rec *task.Record, taskErr task.Error, now time.Time) error {
	if rec.Status.Terminal() {
		slog.Warn("task error rejected, task already terminal",
			"task_id", rec.TaskID, "current", rec.Status, "stage", taskErr.Stage)
		return fmt.Errorf("%w: task %q is %s", ErrTerminal, rec.TaskID, rec.Status)
	}

	e := taskErr
	if e.Stage == "" {
		e.Stage = string(rec.Status)
	}
	rec.Error = &e
	rec.Status = task.StatusFailed
	if e.Message != "" {
		rec.StatusDescription = e.Message
	}
	rec.AppendLog(task.LogEntry{Timestamp: now.UTC(), Level: task.LevelError, Message: e.Message})
	rec.LastUpdatedAt = now.UTC()
	return nil
}

// AttachEpisode sets the finished episode on a still-running record.
// Returns ErrTerminal if the task already reached a terminal state.
func AttachEpisode(rec *task.Record, ep task.Episode, now time.Time) error {
	if rec.Status.Terminal() {
		slog.Warn("episode rejected, task already terminal",
			"task_id", rec.TaskID, "current", rec.Status)
		return fmt.Errorf("%w: task %q is %s", ErrTerminal, rec.TaskID, rec.Status)
	}

	ep.Warnings = append([]string(nil), ep.Warnings...)
	rec.Episode = &ep
	rec.LastUpdatedAt = now.UTC()
	return nil
}
