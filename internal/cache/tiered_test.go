package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTieredPutDefaultsToWarm(t *testing.T) {
	c := NewTiered(DefaultTieredConfig())
	c.Put("k", "v", TierDefault)

	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestTieredPromotionFromColdAfterThreshold(t *testing.T) {
	c := NewTiered(TieredConfig{HotCapacity: 2, WarmCapacity: 2, ColdCapacity: 10, PromotionThreshold: 5})
	c.Put("K", "value", TierCold)

	for i := 0; i < 6; i++ {
		v, ok := c.Get("K")
		require.True(t, ok)
		assert.Equal(t, "value", v)
	}

	// 7th read should now be served from warm (or hotter), having been
	// promoted out of cold once the access counter passed the threshold.
	v, ok := c.Get("K")
	require.True(t, ok)
	assert.Equal(t, "value", v)

	stats := c.Stats()
	assert.Equal(t, int64(7), stats.Hits)
	assert.Equal(t, int64(0), stats.Misses)
}

func TestTieredColdToWarmPromotionSpillsIntoCold(t *testing.T) {
	c := NewTiered(TieredConfig{HotCapacity: 1, WarmCapacity: 1, ColdCapacity: 10, PromotionThreshold: 2})

	c.Put("H", "hot-sentinel", TierHot)
	c.Put("W", "warm-occupant", TierWarm)
	c.Put("K", "cold-value", TierCold)

	for i := 0; i < 4; i++ {
		_, ok := c.Get("K")
		require.True(t, ok)
	}

	// K has now crossed the promotion threshold and moved cold -> warm,
	// evicting warm's sole occupant "W". That eviction must cascade into
	// cold, the next colder tier relative to warm, not into hot.
	v, ok := c.Get("H")
	require.True(t, ok, "hot sentinel must survive a cold->warm promotion elsewhere")
	assert.Equal(t, "hot-sentinel", v)

	v, ok = c.Get("W")
	require.True(t, ok, "warm's evicted occupant must have cascaded into cold, not been dropped")
	assert.Equal(t, "warm-occupant", v)

	assert.Equal(t, int64(0), c.Stats().Evictions)
}

func TestTieredMissIsNotError(t *testing.T) {
	c := NewTiered(DefaultTieredConfig())
	_, ok := c.Get("absent")
	assert.False(t, ok)
	assert.Equal(t, int64(1), c.Stats().Misses)
}

func TestTieredZeroCapacityTierAlwaysMisses(t *testing.T) {
	c := NewTiered(TieredConfig{HotCapacity: 0, WarmCapacity: 0, ColdCapacity: 0, PromotionThreshold: 5})
	c.Put("k", "v", TierDefault)

	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestTieredEvictThenMiss(t *testing.T) {
	c := NewTiered(DefaultTieredConfig())
	c.Put("k", "v", TierHot)

	require.True(t, c.Evict("k"))
	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestTieredCapRespected(t *testing.T) {
	c := NewTiered(TieredConfig{HotCapacity: 2, WarmCapacity: 2, ColdCapacity: 2, PromotionThreshold: 1000})
	for i := 0; i < 5; i++ {
		c.Put(string(rune('a'+i)), i, TierCold)
	}
	assert.LessOrEqual(t, c.Stats().Size, int64(6))
}

func TestSingleTierLRURoundTrip(t *testing.T) {
	c := NewSingleTierLRU(2)
	c.Put("a", 1, TierDefault)
	c.Put("b", 2, TierDefault)

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	c.Put("c", 3, TierDefault) // evicts "b" (least recently used after touching "a")
	_, ok = c.Get("b")
	assert.False(t, ok)

	_, ok = c.Get("c")
	assert.True(t, ok)
}

func TestSingleTierLRUEvictAfterClear(t *testing.T) {
	c := NewSingleTierLRU(10)
	c.Put("a", 1, TierDefault)
	c.Clear()

	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, int64(0), c.Stats().Size)
}
