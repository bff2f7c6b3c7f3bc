package storage

import (
	"sync/atomic"

	"github.com/coocood/freecache"

	"github.com/pathviewer/wsiview/wsi"
)

// MetadataCache is an in-memory cache of raw series metadata with expiration.  Values
// are snappy compressed.  Values over 1/1024 of the cache size are not cached.
type MetadataCache struct {
	cache      *freecache.Cache
	ttlSeconds int

	attempts uint64
	hits     uint64
}

// NewMetadataCache returns a cache of approximately the given size.  A zero ttl means
// entries only leave the cache by eviction.
func NewMetadataCache(numBytes int, ttlSeconds int) *MetadataCache {
	c := &MetadataCache{
		cache:      freecache.NewCache(numBytes),
		ttlSeconds: ttlSeconds,
	}
	wsi.Infof("Created freecache of ~ %d MB for series metadata.\n", numBytes>>20)
	return c
}

// Get returns the cached metadata for the key.
func (c *MetadataCache) Get(key string) ([]byte, bool) {
	atomic.AddUint64(&c.attempts, 1)
	value, err := c.cache.Get([]byte(key))
	if err != nil {
		if err != freecache.ErrNotFound {
			wsi.Errorf("metadata cache get of %q: %v\n", key, err)
		}
		return nil, false
	}
	data, _, err := wsi.DeserializeData(value)
	if err != nil {
		wsi.Errorf("bad cached metadata for %q: %v\n", key, err)
		c.cache.Del([]byte(key))
		return nil, false
	}
	atomic.AddUint64(&c.hits, 1)
	return data, true
}

// Set caches metadata for the key.
func (c *MetadataCache) Set(key string, data []byte) {
	value, err := wsi.SerializeData(data, wsi.Snappy, wsi.NoChecksum)
	if err != nil {
		wsi.Errorf("unable to compress metadata for %q: %v\n", key, err)
		return
	}
	if err := c.cache.Set([]byte(key), value, c.ttlSeconds); err != nil {
		wsi.Debugf("metadata for %q not cached (%s): %v\n", key, wsi.HumanBytes(len(value)), err)
	}
}

// CacheStats are counts for a MetadataCache.
type CacheStats struct {
	Attempts   uint64  `json:"attempts"`
	Hits       uint64  `json:"hits"`
	Entries    int64   `json:"entries"`
	HitRate    float64 `json:"hit_rate"`
	Evacuation int64   `json:"evacuations"`
	Expired    int64   `json:"expired"`
}

// Stats returns the current cache counts.
func (c *MetadataCache) Stats() CacheStats {
	s := CacheStats{
		Attempts:   atomic.LoadUint64(&c.attempts),
		Hits:       atomic.LoadUint64(&c.hits),
		Entries:    c.cache.EntryCount(),
		Evacuation: c.cache.EvacuateCount(),
		Expired:    c.cache.ExpiredCount(),
	}
	if s.Attempts != 0 {
		s.HitRate = float64(s.Hits) / float64(s.Attempts)
	}
	return s
}

// Clear removes all entries.
func (c *MetadataCache) Clear() {
	c.cache.Clear()
}
