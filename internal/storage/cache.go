package storage

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// CachingBackend wraps a Backend with a small bounded cache of open handles
// — so repeated OpenOrCreate calls for the same name don't reopen a file
// descriptor — and deduplicates concurrent opens of the same name onto one
// underlying call via singleflight. It caches handle objects only, never
// record bytes: the store's design forbids a content cache (see §5).
type CachingBackend struct {
	inner Backend
	mu    sync.Mutex
	cache *lru.Cache[string, Handle]
	group singleflight.Group
}

// NewCachingBackend wraps inner with an LRU of at most size open handles.
// Evicted handles are closed. size <= 0 uses DefaultHandleCacheSize.
func NewCachingBackend(inner Backend, size int) (*CachingBackend, error) {
	if size <= 0 {
		size = DefaultHandleCacheSize
	}
	c := &CachingBackend{inner: inner}
	cache, err := lru.NewWithEvict[string, Handle](size, func(_ string, h Handle) {
		_ = h.Close()
	})
	if err != nil {
		return nil, err
	}
	c.cache = cache
	return c, nil
}

// OpenOrCreate implements Backend.
func (c *CachingBackend) OpenOrCreate(ctx context.Context, name string) (Handle, error) {
	c.mu.Lock()
	if h, ok := c.cache.Get(name); ok {
		c.mu.Unlock()
		return h, nil
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do(name, func() (any, error) {
		return c.inner.OpenOrCreate(ctx, name)
	})
	if err != nil {
		return nil, err
	}
	h := v.(Handle)

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.cache.Get(name); ok {
		// Another caller populated the cache while we were blocked behind
		// singleflight; keep the one already cached and close the one we
		// just opened to avoid leaking a descriptor.
		if existing != h {
			_ = h.Close()
		}
		return existing, nil
	}
	c.cache.Add(name, h)
	return h, nil
}

// Remove implements Backend.
func (c *CachingBackend) Remove(ctx context.Context, name string) error {
	c.mu.Lock()
	if h, ok := c.cache.Peek(name); ok {
		_ = h.Close()
		c.cache.Remove(name)
	}
	c.mu.Unlock()
	return c.inner.Remove(ctx, name)
}

// Close closes every cached handle and the wrapped backend.
func (c *CachingBackend) Close() error {
	c.mu.Lock()
	c.cache.Purge()
	c.mu.Unlock()
	return c.inner.Close()
}

var _ Backend = (*CachingBackend)(nil)
