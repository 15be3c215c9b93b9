package cache

import "sync"

// SingleTierLRU is the simpler single-tier variant required by spec §4.2:
// the same Cache contract as the tiered implementation, backed by one
// bounded LRU.
type SingleTierLRU struct {
	mu    sync.Mutex
	tier  *lruTier
	stats Stats
}

// NewSingleTierLRU constructs a single-tier LRU cache with the given capacity.
func NewSingleTierLRU(capacity int) *SingleTierLRU {
	return &SingleTierLRU{tier: newLRUTier(capacity)}
}

func (c *SingleTierLRU) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.tier.get(key)
	if ok {
		c.stats.Hits++
	} else {
		c.stats.Misses++
	}
	return v, ok
}

func (c *SingleTierLRU) Put(key string, value interface{}, _ Tier) {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, _, evicted := c.tier.put(key, value)
	if evicted {
		c.stats.Evictions++
	}
	c.stats.Size = int64(c.tier.len())
}

func (c *SingleTierLRU) Evict(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.tier.remove(key)
	if ok {
		c.stats.Evictions++
		c.stats.Size = int64(c.tier.len())
	}
	return ok
}

func (c *SingleTierLRU) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.tier.clear()
	c.stats.Size = 0
}

func (c *SingleTierLRU) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}
