package hooks

import "sync"

type cacheEntry struct {
	stamp []uint64
	value interface{}
}

// cache holds one value per key, valid while every source reports the
// generation it had when the value was built
type cache struct {
	mutex   sync.Mutex
	sources []Generationer
	entries map[string]cacheEntry
}

func newCache(sources []Generationer) *cache {
	return &cache{
		sources: sources,
		entries: make(map[string]cacheEntry),
	}
}

// get returns the cached value for key, rebuilding it when any source moved
// on. The stamp is taken before build so changes during a rebuild force the
// next call to rebuild again.
func (c *cache) get(key string, build func() interface{}) interface{} {
	stamp := c.stamp()

	c.mutex.Lock()
	entry, ok := c.entries[key]
	c.mutex.Unlock()
	if ok && sameStamp(entry.stamp, stamp) {
		return entry.value
	}

	value := build()

	c.mutex.Lock()
	c.entries[key] = cacheEntry{stamp: stamp, value: value}
	c.mutex.Unlock()
	return value
}

func (c *cache) stamp() []uint64 {
	stamp := make([]uint64, len(c.sources))
	for i, source := range c.sources {
		stamp[i] = source.Generation()
	}
	return stamp
}

func sameStamp(a, b []uint64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
