package loader

import (
	"fmt"

	"github.com/bluele/gcache"
	"github.com/paulmach/orb"

	"github.com/cxd309/tms-railenv/internal/graph"
)

// DefaultCacheSize bounds the coordinate cache of one loader.
const DefaultCacheSize = 4096

// Cache memoises nearest-station lookups by coordinate, rounded to about a
// metre. It belongs to one loader; lookups from a different station set must
// not share it without a Purge.
type Cache struct {
	lru gcache.Cache
}

// NewCache returns an LRU cache holding up to size coordinates.
func NewCache(size int) *Cache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	return &Cache{lru: gcache.New(size).LRU().Build()}
}

func cacheKey(p orb.Point) string { return fmt.Sprintf("%.5f,%.5f", p.Lat(), p.Lon()) }

// Get returns the cached station for p. ok is true for cached misses too, in
// which case name is empty.
func (c *Cache) Get(p orb.Point) (name graph.StationID, ok bool) {
	v, err := c.lru.Get(cacheKey(p))
	if err != nil {
		return "", false
	}
	name, _ = v.(graph.StationID)
	return name, true
}

// Set records the lookup result for p. An empty name records a miss.
func (c *Cache) Set(p orb.Point, name graph.StationID) {
	_ = c.lru.Set(cacheKey(p), name)
}

// Purge drops every entry.
func (c *Cache) Purge() { c.lru.Purge() }

// Len returns the number of cached coordinates.
func (c *Cache) Len() int { return c.lru.Len(false) }

// Stats reports the hit and miss counters of the underlying LRU.
func (c *Cache) Stats() (hits, misses uint64) { return c.lru.HitCount(), c.lru.MissCount() }

// cachedLocator consults the cache before the wrapped locator.
type cachedLocator struct {
	next  Locator
	cache *Cache
}

func (c cachedLocator) Nearest(p orb.Point) (graph.StationID, bool) {
	if name, ok := c.cache.Get(p); ok {
		return name, name != ""
	}
	name, ok := c.next.Nearest(p)
	if !ok {
		name = ""
	}
	c.cache.Set(p, name)
	return name, ok
}
