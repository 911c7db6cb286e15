package cache

import (
	"context"
	"sync"

	"github.com/opensource-finance/harrier/internal/domain"
)

// MemoryCache is a thread-safe in-process cache. Entries never expire.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]map[string][]byte
}

var _ domain.ResultCache = (*MemoryCache)(nil)

// NewMemoryCache creates an empty cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]map[string][]byte),
	}
}

// Get returns a copy of the cached value, or nil on a miss.
func (c *MemoryCache) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	val, ok := c.entries[namespace][key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), val...), nil
}

// Put stores a copy of value.
func (c *MemoryCache) Put(ctx context.Context, namespace, key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ns, ok := c.entries[namespace]
	if !ok {
		ns = make(map[string][]byte)
		c.entries[namespace] = ns
	}
	ns[key] = append([]byte(nil), value...)
	return nil
}

// Evict removes one entry. Empty namespaces are dropped.
func (c *MemoryCache) Evict(ctx context.Context, namespace, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ns, ok := c.entries[namespace]
	if !ok {
		return nil
	}
	delete(ns, key)
	if len(ns) == 0 {
		delete(c.entries, namespace)
	}
	return nil
}

// EvictNamespace removes every entry of namespace.
func (c *MemoryCache) EvictNamespace(ctx context.Context, namespace string) error {
	c.mu.Lock()
	delete(c.entries, namespace)
	c.mu.Unlock()
	return nil
}

// Clear removes everything.
func (c *MemoryCache) Clear(ctx context.Context) error {
	c.mu.Lock()
	c.entries = make(map[string]map[string][]byte)
	c.mu.Unlock()
	return nil
}

// Stats returns entry counts per namespace.
func (c *MemoryCache) Stats(ctx context.Context) (domain.CacheStats, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := domain.CacheStats{
		Namespaces:      make(map[string]int, len(c.entries)),
		TotalNamespaces: len(c.entries),
	}
	for name, ns := range c.entries {
		stats.Namespaces[name] = len(ns)
		stats.TotalEntries += len(ns)
	}
	return stats, nil
}

// Ping always succeeds for the in-process cache.
func (c *MemoryCache) Ping(ctx context.Context) error {
	return nil
}

// Close clears the cache.
func (c *MemoryCache) Close() error {
	return c.Clear(context.Background())
}
