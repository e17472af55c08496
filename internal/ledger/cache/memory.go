package cache

import (
	"context"
	"sync"

	"github.com/tair/stock-ledger/internal/ledger/domain"
)

var _ domain.QuantityCache = (*MemoryQuantityCache)(nil)

// MemoryQuantityCache backs tests and cacheless local runs.
type MemoryQuantityCache struct {
	mu      sync.RWMutex
	entries map[string]int32
}

func NewMemoryQuantityCache() *MemoryQuantityCache {
	return &MemoryQuantityCache{entries: make(map[string]int32)}
}

func (c *MemoryQuantityCache) Get(_ context.Context, key string) (int32, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[key]
	return v, ok, nil
}

func (c *MemoryQuantityCache) Set(_ context.Context, key string, quantity int32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = quantity
	return nil
}

func (c *MemoryQuantityCache) Invalidate(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

// Len reports the number of live entries.
func (c *MemoryQuantityCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
