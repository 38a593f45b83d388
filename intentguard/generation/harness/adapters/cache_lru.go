package adapters

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"

	ports "github.com/ZanzyTHEbar/intentguard/intentguard/generation/harness/ports"
)

// MemoryCache is a bounded in-process LRU of consensus results. Verdicts never go stale,
// so entries leave only by eviction.
type MemoryCache struct {
	entries *lru.Cache[string, ports.ConsensusResult]
}

// NewMemoryCache creates a new LRU cache with the specified capacity (minimum 1).
func NewMemoryCache(capacity int) *MemoryCache {
	if capacity < 1 {
		capacity = 1
	}
	// New only fails for a non-positive size.
	entries, _ := lru.New[string, ports.ConsensusResult](capacity)
	return &MemoryCache{entries: entries}
}

// Get retrieves a value and marks it most recently used.
func (c *MemoryCache) Get(_ context.Context, key string) (ports.ConsensusResult, bool) {
	return c.entries.Get(key)
}

// Put stores a value, evicting the least recently used entry when full.
func (c *MemoryCache) Put(_ context.Context, key string, value ports.ConsensusResult) error {
	c.entries.Add(key, value)
	return nil
}

// Len returns the number of cached entries.
func (c *MemoryCache) Len() int {
	return c.entries.Len()
}

var _ ports.Cache = (*MemoryCache)(nil)
