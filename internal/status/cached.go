package status

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/castforge/internal/task"
)

const (
	cacheSize = 128
	cacheTTL  = 2 * time.Second
)

// Cached wraps a Store with a small read-through snapshot cache for Get.
// Status polling hammers Get while a task runs; the short TTL keeps those
// reads off the backend without serving stale snapshots for long. Every
// write through the decorator drops the affected entry, so a poll issued
// after a write always observes it.
type Cached struct {
	inner Store

	mu      sync.Mutex
	entries map[string]cacheEntry
	now     func() time.Time
}

type cacheEntry struct {
	rec     *task.Record
	fetched time.Time
}

var _ Store = (*Cached)(nil)

// NewCached wraps inner with a snapshot cache for Get.
func NewCached(inner Store) *Cached {
	return &Cached{
		inner:   inner,
		entries: make(map[string]cacheEntry, cacheSize),
		now:     time.Now,
	}
}

// Get returns the cached snapshot when fresh, otherwise reads through to
// the inner store and caches the result.
func (c *Cached) Get(ctx context.Context, taskID string) (*task.Record, error) {
	c.mu.Lock()
	if e, ok := c.entries[taskID]; ok && c.now().Sub(e.fetched) < cacheTTL {
		rec := e.rec.Clone()
		c.mu.Unlock()
		return rec, nil
	}
	c.mu.Unlock()

	rec, err := c.inner.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if _, ok := c.entries[taskID]; !ok && len(c.entries) >= cacheSize {
		c.evictOldest()
	}
	c.entries[taskID] = cacheEntry{rec: rec.Clone(), fetched: c.now()}
	c.mu.Unlock()
	return rec, nil
}

// evictOldest drops the stalest entry. Called with c.mu held.
func (c *Cached) evictOldest() {
	var (
		oldestKey string
		oldestAt  time.Time
	)
	for key, e := range c.entries {
		if oldestKey == "" || e.fetched.Before(oldestAt) {
			oldestKey = key
			oldestAt = e.fetched
		}
	}
	delete(c.entries, oldestKey)
}

func (c *Cached) invalidate(taskID string) {
	c.mu.Lock()
	delete(c.entries, taskID)
	c.mu.Unlock()
}

func (c *Cached) Create(ctx context.Context, rec *task.Record) error {
	err := c.inner.Create(ctx, rec)
	if rec != nil {
		c.invalidate(rec.TaskID)
	}
	return err
}

func (c *Cached) UpdateStatus(ctx context.Context, taskID string, to task.Status, progressPct int, description string) error {
	err := c.inner.UpdateStatus(ctx, taskID, to, progressPct, description)
	c.invalidate(taskID)
	return err
}

func (c *Cached) AppendLog(ctx context.Context, taskID, level, message string) error {
	err := c.inner.AppendLog(ctx, taskID, level, message)
	c.invalidate(taskID)
	return err
}

func (c *Cached) UpdateArtifacts(ctx context.Context, taskID string, fn func(*task.Artifacts)) error {
	err := c.inner.UpdateArtifacts(ctx, taskID, fn)
	c.invalidate(taskID)
	return err
}

func (c *Cached) SetError(ctx context.Context, taskID string, taskErr task.Error) error {
	err := c.inner.SetError(ctx, taskID, taskErr)
	c.invalidate(taskID)
	return err
}

func (c *Cached) SetEpisode(ctx context.Context, taskID string, ep task.Episode) error {
	err := c.inner.SetEpisode(ctx, taskID, ep)
	c.invalidate(taskID)
	return err
}

// List always reads through: listings are rare next to status polls and
// must reflect deletes immediately.
func (c *Cached) List(ctx context.Context, limit, offset int) ([]*task.Record, int, error) {
	return c.inner.List(ctx, limit, offset)
}

func (c *Cached) Delete(ctx context.Context, taskID string) error {
	err := c.inner.Delete(ctx, taskID)
	c.invalidate(taskID)
	return err
}
