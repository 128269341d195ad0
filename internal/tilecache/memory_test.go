package tilecache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	key := Key("vector", "flood_zones", 3, 4, 2)
	assert.Equal(t, "tile:vector:flood_zones/3/4/2", key)
	assert.Equal(t, "tile:vector:flood_zones/", Prefix("vector", "flood_zones"))
}

func TestMemory_GetPut(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(10, time.Minute)

	assert.Nil(t, c.Get(ctx, "tile:vector:a/0/0/0"))

	c.Put(ctx, "tile:vector:a/0/0/0", []byte("mvt"))
	assert.Equal(t, []byte("mvt"), c.Get(ctx, "tile:vector:a/0/0/0"))

	stats := c.Stats()
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 0.5, stats.HitRate)
}

func TestMemory_TTLExpiry(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(10, time.Nanosecond)

	c.Put(ctx, "k", []byte("v"))
	time.Sleep(time.Millisecond)
	assert.Nil(t, c.Get(ctx, "k"))
	assert.Equal(t, 0, c.Stats().Entries)
}

func TestMemory_EvictsOldest(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(2, time.Minute)

	c.Put(ctx, "a", []byte("1"))
	c.Put(ctx, "b", []byte("2"))
	// Touch a so b becomes the eviction candidate.
	require.NotNil(t, c.Get(ctx, "a"))
	c.Put(ctx, "c", []byte("3"))

	assert.NotNil(t, c.Get(ctx, "a"))
	assert.Nil(t, c.Get(ctx, "b"))
	assert.NotNil(t, c.Get(ctx, "c"))
}

func TestMemory_InvalidatePrefix(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(10, time.Minute)

	c.Put(ctx, Key("vector", "flood_zones", 0, 0, 0), []byte("1"))
	c.Put(ctx, Key("vector", "flood_zones", 1, 0, 0), []byte("2"))
	c.Put(ctx, Key("vector", "parcels", 0, 0, 0), []byte("3"))

	c.Invalidate(ctx, Prefix("vector", "flood_zones"))

	assert.Nil(t, c.Get(ctx, Key("vector", "flood_zones", 0, 0, 0)))
	assert.Nil(t, c.Get(ctx, Key("vector", "flood_zones", 1, 0, 0)))
	assert.NotNil(t, c.Get(ctx, Key("vector", "parcels", 0, 0, 0)))
}
