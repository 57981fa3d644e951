package rasterio

import (
	"fmt"
	"time"

	"github.com/EqUaL90/DL-MC-MNDWI-Ensemble/internal/raster"

	"github.com/patrickmn/go-cache"
)

// CachedReader memoises reads of rasters shared between scenes, such as a
// single reference extent. Surfaces are immutable, so callers can share them.
type CachedReader struct {
	next  Reader
	cache *cache.Cache
}

func NewCachedReader(next Reader, ttl time.Duration) *CachedReader {
	return &CachedReader{next: next, cache: cache.New(ttl, ttl*2)}
}

func (c *CachedReader) ReadBands(path string, bands ...int) ([]*raster.Surface, error) {
	key := fmt.Sprintf("%s%v", path, bands)
	if cached, found := c.cache.Get(key); found {
		return cached.([]*raster.Surface), nil
	}
	surfaces, err := c.next.ReadBands(path, bands...)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, surfaces, cache.DefaultExpiration)
	return surfaces, nil
}

// Len returns the number of cached reads.
func (c *CachedReader) Len() int {
	return c.cache.ItemCount()
}

// Flush drops every cached read.
func (c *CachedReader) Flush() {
	c.cache.Flush()
}
