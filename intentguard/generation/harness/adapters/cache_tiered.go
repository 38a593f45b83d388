package adapters

import (
	"context"

	ports "github.com/ZanzyTHEbar/intentguard/intentguard/generation/harness/ports"
)

// TieredCache consults a fast cache before a durable one. Durable hits are promoted.
type TieredCache struct {
	fast    ports.Cache
	durable ports.Cache
}

func NewTieredCache(fast, durable ports.Cache) *TieredCache {
	return &TieredCache{fast: fast, durable: durable}
}

func (c *TieredCache) Get(ctx context.Context, key string) (ports.ConsensusResult, bool) {
	if v, ok := c.fast.Get(ctx, key); ok {
		return v, true
	}
	v, ok := c.durable.Get(ctx, key)
	if ok {
		_ = c.fast.Put(ctx, key, v)
	}
	return v, ok
}

// Put writes the durable tier first and reports its error. The fast tier is filled
// either way.
func (c *TieredCache) Put(ctx context.Context, key string, value ports.ConsensusResult) error {
	err := c.durable.Put(ctx, key, value)
	_ = c.fast.Put(ctx, key, value)
	return err
}

var _ ports.Cache = (*TieredCache)(nil)
