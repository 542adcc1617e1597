// Package inmem provides the in-memory status store used for local runs
// without a database. State lives for the lifetime of the process.
package inmem

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/castforge/internal/status"
	"github.com/MrWong99/castforge/internal/task"
)

// Store is a status.Store backed by a mutex-guarded map. Reads hand out
// deep copies, so callers never alias stored records.
type Store struct {
	mu   sync.RWMutex
	recs map[string]*task.Record
	now  func() time.Time
}

var _ status.Store = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		recs: make(map[string]*task.Record),
		now:  time.Now,
	}
}

func (s *Store) Create(ctx context.Context, rec *task.Record) error {
	if rec == nil || rec.TaskID == "" {
		return fmt.Errorf("status: create: record must have a task id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recs[rec.TaskID]; ok {
		return fmt.Errorf("%w: %q", status.ErrAlreadyExists, rec.TaskID)
	}
	s.recs[rec.TaskID] = rec.Clone()
	return nil
}

func (s *Store) Get(ctx context.Context, taskID string) (*task.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.recs[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", status.ErrNotFound, taskID)
	}
	return rec.Clone(), nil
}

// mutate runs fn against the stored record under the write lock.
func (s *Store) mutate(taskID string, fn func(rec *task.Record) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[taskID]
	if !ok {
		return fmt.Errorf("%w: %q", status.ErrNotFound, taskID)
	}
	return fn(rec)
}

func (s *Store) UpdateStatus(ctx context.Context, taskID string, to task.Status, progressPct int, description string) error {
	return s.mutate(taskID, func(rec *task.Record) error {
		return status.Advance(rec, to, progressPct, description, s.now())
	})
}

func (s *Store) AppendLog(ctx context.Context, taskID, level, message string) error {
	return s.mutate(taskID, func(rec *task.Record) error {
		now := s.now().UTC()
		rec.AppendLog(task.LogEntry{Timestamp: now, Level: level, Message: message})
		rec.LastUpdatedAt = now
		return nil
	})
}

func (s *Store) UpdateArtifacts(ctx context.Context, taskID string, fn func(*task.Artifacts)) error {
	return s.mutate(taskID, func(rec *task.Record) error {
		fn(&rec.Artifacts)
		rec.LastUpdatedAt = s.now().UTC()
		return nil
	})
}

func (s *Store) SetError(ctx context.Context, taskID string, taskErr task.Error) error {
	return s.mutate(taskID, func(rec *task.Record) error {
		return status.Fail(rec, taskErr, s.now())
	})
}

func (s *Store) SetEpisode(ctx context.Context, taskID string, ep task.Episode) error {
	return s.mutate(taskID, func(rec *task.Record) error {
		return status.AttachEpisode(rec, ep, s.now())
	})
}

func (s *Store) List(ctx context.Context, limit, offset int) ([]*task.Record, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := make([]*task.Record, 0, len(s.recs))
	for _, rec := range s.recs {
		all = append(all, rec)
	}
	slices.SortFunc(all, func(a, b *task.Record) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.TaskID, b.TaskID)
	})

	total := len(all)
	if limit > 0 {
		all = all[min(max(offset, 0), len(all)):]
		if len(all) > limit {
			all = all[:limit]
		}
	}

	out := make([]*task.Record, 0, len(all))
	for _, rec := range all {
		out = append(out, rec.Clone())
	}
	return out, total, nil
}

func (s *Store) Delete(ctx context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recs[taskID]; !ok {
		return fmt.Errorf("%w: %q", status.ErrNotFound, taskID)
	}
	delete(s.recs, taskID)
	return nil
}
