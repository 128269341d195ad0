// Package tilecache provides best-effort caching for rendered tiles.
// Backends never fail a tile request: errors degrade to cache misses.
package tilecache

import (
	"context"
	"fmt"
)

// Cache stores rendered tile bytes keyed by Key output.
type Cache interface {
	// Get returns the cached tile, or nil on miss.
	Get(ctx context.Context, key string) []byte
	Put(ctx context.Context, key string, data []byte)
	// Invalidate drops every entry under a Prefix.
	Invalidate(ctx context.Context, prefix string)
	Stats() Stats
}

// Stats contains cache performance statistics.
type Stats struct {
	Entries int     `json:"entries"`
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// Key builds the cache key for one tile of a layer or archive.
// kind distinguishes the tile pipelines (raster, vector, boundary, basemap).
func Key(kind, id string, z, x, y int) string {
	return fmt.Sprintf("tile:%s:%s/%d/%d/%d", kind, id, z, x, y)
}

// Prefix is the invalidation scope for everything cached under one id.
func Prefix(kind, id string) string {
	return fmt.Sprintf("tile:%s:%s/", kind, id)
}
