package cache

import (
	"sync"
	"sync/atomic"
)

const (
	DefaultHotCapacity        = 200
	DefaultWarmCapacity       = 1000
	DefaultColdCapacity       = 10000
	DefaultPromotionThreshold = 5
)

// TieredConfig sizes the three tiers and the promotion threshold.
type TieredConfig struct {
	HotCapacity        int
	WarmCapacity       int
	ColdCapacity       int
	PromotionThreshold int
}

// DefaultTieredConfig returns the spec's default tier sizes and threshold.
func DefaultTieredConfig() TieredConfig {
	return TieredConfig{
		HotCapacity:        DefaultHotCapacity,
		WarmCapacity:       DefaultWarmCapacity,
		ColdCapacity:       DefaultColdCapacity,
		PromotionThreshold: DefaultPromotionThreshold,
	}
}

// Tiered implements the three-tier L1/L2/L3 promotion cache from spec §4.2.
//
// Each tier owns its own lock rather than sharing one global mutex, so a
// Get hit in one tier never blocks a concurrent Get against another tier,
// and two reads of different keys in the same tier don't serialize on each
// other either — only the brief recency-bump that follows a hit, and any
// promotion, takes the tier's write lock. Locks are always acquired
// shallow-to-deep (hot, then warm, then cold) when an operation needs more
// than one at a time, so promotion and Put's cascading eviction can never
// deadlock against each other.
type Tiered struct {
	hotMu  sync.RWMutex
	warmMu sync.RWMutex
	coldMu sync.RWMutex

	hot  *lruTier
	warm *lruTier
	cold *lruTier

	threshold int

	accessMu sync.Mutex
	accesses map[string]int // per-key access counter, tracked while resident in L2/L3

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

// NewTiered constructs a tiered cache with the given tier sizes.
func NewTiered(cfg TieredConfig) *Tiered {
	if cfg.PromotionThreshold <= 0 {
		cfg.PromotionThreshold = DefaultPromotionThreshold
	}
	return &Tiered{
		hot:       newLRUTier(cfg.HotCapacity),
		warm:      newLRUTier(cfg.WarmCapacity),
		cold:      newLRUTier(cfg.ColdCapacity),
		threshold: cfg.PromotionThreshold,
		accesses:  make(map[string]int),
	}
}

func (c *Tiered) Get(key string) (interface{}, bool) {
	if v, ok := c.getFromHot(key); ok {
		c.hits.Add(1)
		return v, true
	}
	if v, ok := c.getFromWarm(key); ok {
		c.hits.Add(1)
		return v, true
	}
	if v, ok := c.getFromCold(key); ok {
		c.hits.Add(1)
		return v, true
	}
	c.misses.Add(1)
	return nil, false
}

func (c *Tiered) getFromHot(key string) (interface{}, bool) {
	c.hotMu.RLock()
	v, ok := c.hot.peek(key)
	c.hotMu.RUnlock()
	if !ok {
		return nil, false
	}

	c.hotMu.Lock()
	c.hot.touch(key)
	c.hotMu.Unlock()
	return v, true
}

func (c *Tiered) getFromWarm(key string) (interface{}, bool) {
	c.warmMu.RLock()
	v, ok := c.warm.peek(key)
	c.warmMu.RUnlock()
	if !ok {
		return nil, false
	}

	c.warmMu.Lock()
	c.warm.touch(key)
	c.warmMu.Unlock()

	if c.bumpAccessAndShouldPromote(key) {
		c.promoteWarmToHot(key, v)
	}
	return v, true
}

func (c *Tiered) getFromCold(key string) (interface{}, bool) {
	c.coldMu.RLock()
	v, ok := c.cold.peek(key)
	c.coldMu.RUnlock()
	if !ok {
		return nil, false
	}

	c.coldMu.Lock()
	c.cold.touch(key)
	c.coldMu.Unlock()

	if c.bumpAccessAndShouldPromote(key) {
		c.promoteColdToWarm(key, v)
	}
	return v, true
}

// bumpAccessAndShouldPromote increments key's access counter and reports
// whether it has just crossed the promotion threshold, clearing the
// counter if so.
func (c *Tiered) bumpAccessAndShouldPromote(key string) bool {
	c.accessMu.Lock()
	defer c.accessMu.Unlock()

	c.accesses[key]++
	if c.accesses[key] <= c.threshold {
		return false
	}
	delete(c.accesses, key)
	return true
}

// promoteWarmToHot moves key from warm into hot, cascading any entry hot
// evicts back into warm — the tier that just had a slot freed by the
// promotion, and the next colder tier relative to hot.
func (c *Tiered) promoteWarmToHot(key string, value interface{}) {
	c.hotMu.Lock()
	defer c.hotMu.Unlock()
	c.warmMu.Lock()
	defer c.warmMu.Unlock()

	c.warm.remove(key)
	if evictedKey, evictedValue, evicted := c.hot.put(key, value); evicted {
		if _, _, spillEvicted := c.warm.put(evictedKey, evictedValue); spillEvicted {
			c.evictions.Add(1)
		}
	}
}

// promoteColdToWarm moves key from cold into warm, cascading any entry warm
// evicts back into cold.
func (c *Tiered) promoteColdToWarm(key string, value interface{}) {
	c.warmMu.Lock()
	defer c.warmMu.Unlock()
	c.coldMu.Lock()
	defer c.coldMu.Unlock()

	c.cold.remove(key)
	if evictedKey, evictedValue, evicted := c.warm.put(key, value); evicted {
		if _, _, spillEvicted := c.cold.put(evictedKey, evictedValue); spillEvicted {
			c.evictions.Add(1)
		}
	}
}

// Put inserts into L2 (warm) by default, or into the tier named by an
// explicit override.
func (c *Tiered) Put(key string, value interface{}, tier Tier) {
	switch tier {
	case TierHot:
		c.putHot(key, value)
	case TierCold:
		c.putCold(key, value)
	default:
		c.putWarm(key, value)
	}

	c.accessMu.Lock()
	delete(c.accesses, key)
	c.accessMu.Unlock()
}

func (c *Tiered) putHot(key string, value interface{}) {
	c.hotMu.Lock()
	defer c.hotMu.Unlock()

	evictedKey, evictedValue, evicted := c.hot.put(key, value)
	if !evicted {
		return
	}
	c.warmMu.Lock()
	defer c.warmMu.Unlock()
	if _, _, dropped := c.warm.put(evictedKey, evictedValue); dropped {
		c.evictions.Add(1)
	}
}

func (c *Tiered) putWarm(key string, value interface{}) {
	c.warmMu.Lock()
	defer c.warmMu.Unlock()

	evictedKey, evictedValue, evicted := c.warm.put(key, value)
	if !evicted {
		return
	}
	c.coldMu.Lock()
	defer c.coldMu.Unlock()
	if _, _, dropped := c.cold.put(evictedKey, evictedValue); dropped {
		c.evictions.Add(1)
	}
}

func (c *Tiered) putCold(key string, value interface{}) {
	c.coldMu.Lock()
	defer c.coldMu.Unlock()

	if _, _, evicted := c.cold.put(key, value); evicted {
		c.evictions.Add(1)
	}
}

// Evict removes key from whichever tier holds it.
func (c *Tiered) Evict(key string) bool {
	c.accessMu.Lock()
	delete(c.accesses, key)
	c.accessMu.Unlock()

	c.hotMu.Lock()
	_, okHot := c.hot.remove(key)
	c.hotMu.Unlock()
	if okHot {
		c.evictions.Add(1)
		return true
	}

	c.warmMu.Lock()
	_, okWarm := c.warm.remove(key)
	c.warmMu.Unlock()
	if okWarm {
		c.evictions.Add(1)
		return true
	}

	c.coldMu.Lock()
	_, okCold := c.cold.remove(key)
	c.coldMu.Unlock()
	if okCold {
		c.evictions.Add(1)
		return true
	}
	return false
}

func (c *Tiered) Clear() {
	c.hotMu.Lock()
	c.hot.clear()
	c.hotMu.Unlock()

	c.warmMu.Lock()
	c.warm.clear()
	c.warmMu.Unlock()

	c.coldMu.Lock()
	c.cold.clear()
	c.coldMu.Unlock()

	c.accessMu.Lock()
	c.accesses = make(map[string]int)
	c.accessMu.Unlock()
}

func (c *Tiered) Stats() Stats {
	c.hotMu.RLock()
	hotLen := c.hot.len()
	c.hotMu.RUnlock()

	c.warmMu.RLock()
	warmLen := c.warm.len()
	c.warmMu.RUnlock()

	c.coldMu.RLock()
	coldLen := c.cold.len()
	c.coldMu.RUnlock()

	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Size:      int64(hotLen + warmLen + coldLen),
	}
}
