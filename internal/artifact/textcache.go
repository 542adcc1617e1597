package artifact

import (
	"context"
	"sync"
	"time"
)

const (
	textCacheSize = 50
	textCacheTTL  = 5 * time.Minute
)

// CachedText wraps a Store with a small TTL cache on GetText. The pipeline
// and the resource handlers re-read the same outline and research documents
// repeatedly; byte artifacts stay uncached. Writes and deletes through the
// decorator evict the affected key synchronously, so a read after Delete
// can never return the removed document.
type CachedText struct {
	inner Store

	mu      sync.Mutex
	entries map[string]*textEntry
	ttl     time.Duration
	max     int
}

type textEntry struct {
	text     string
	fetched  time.Time
	lastUsed time.Time
}

var _ Store = (*CachedText)(nil)

// NewCachedText wraps inner with the GetText cache.
func NewCachedText(inner Store) *CachedText {
	return &CachedText{
		inner:   inner,
		entries: make(map[string]*textEntry, textCacheSize),
		ttl:     textCacheTTL,
		max:     textCacheSize,
	}
}

func (c *CachedText) GetText(ctx context.Context, key string) (string, error) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok && time.Since(e.fetched) < c.ttl {
		e.lastUsed = time.Now()
		text := e.text
		c.mu.Unlock()
		return text, nil
	}
	c.mu.Unlock()

	text, err := c.inner.GetText(ctx, key)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	if _, ok := c.entries[key]; !ok && len(c.entries) >= c.max {
		c.evictLRU()
	}
	now := time.Now()
	c.entries[key] = &textEntry{text: text, fetched: now, lastUsed: now}
	c.mu.Unlock()
	return text, nil
}

// evictLRU drops the least recently used entry. Called with c.mu held.
func (c *CachedText) evictLRU() {
	var (
		lruKey string
		lruAt  time.Time
	)
	for key, e := range c.entries {
		if lruKey == "" || e.lastUsed.Before(lruAt) {
			lruKey = key
			lruAt = e.lastUsed
		}
	}
	delete(c.entries, lruKey)
}

func (c *CachedText) evict(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

func (c *CachedText) PutBytes(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	url, err := c.inner.PutBytes(ctx, key, data, contentType)
	c.evict(key)
	return url, err
}

func (c *CachedText) PutText(ctx context.Context, key, text, contentType string) (string, error) {
	url, err := c.inner.PutText(ctx, key, text, contentType)
	c.evict(key)
	return url, err
}

func (c *CachedText) GetBytes(ctx context.Context, key string) ([]byte, error) {
	return c.inner.GetBytes(ctx, key)
}

func (c *CachedText) Delete(ctx context.Context, key string) error {
	err := c.inner.Delete(ctx, key)
	c.evict(key)
	return err
}

func (c *CachedText) List(ctx context.Context, prefix string) ([]string, error) {
	return c.inner.List(ctx, prefix)
}
