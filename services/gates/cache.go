package gates

import (
	"os"
	"sync"
	"time"
)

// cacheEntry pins a parsed engine to the file state it was parsed from.
type cacheEntry struct {
	engine  *Engine
	modTime time.Time
	size    int64
}

// Cache is an in-memory cache of parsed gate engines keyed by config path.
// An entry is only served while the file's mtime and size are unchanged, so
// editing a rule file invalidates it without an explicit call.
// Thread-safe implementation using sync.Mutex
type Cache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	hits    uint64
	misses  uint64
}

// NewCache creates a new empty Cache
func NewCache() *Cache {
	return &Cache{
		entries: make(map[string]*cacheEntry),
	}
}

// Get retrieves a cached engine for the path.
// Returns nil if not cached or the file changed on disk.
func (c *Cache) Get(path string) *Engine {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.entries[path]
	if !exists {
		c.misses++
		return nil
	}
	info, err := os.Stat(path)
	if err != nil || !info.ModTime().Equal(entry.modTime) || info.Size() != entry.size {
		delete(c.entries, path)
		c.misses++
		return nil
	}
	c.hits++
	return entry.engine
}

// Put stores a parsed engine under the path's current file state.
func (c *Cache) Put(path string, engine *Engine) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[path] = &cacheEntry{
		engine:  engine,
		modTime: info.ModTime(),
		size:    info.Size(),
	}
}

// Invalidate removes a specific cache entry
func (c *Cache) Invalidate(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, path)
}

// Clear removes all entries from the cache
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*cacheEntry)
}

// CacheStats represents cache statistics
type CacheStats struct {
	Size    int
	Hits    uint64
	Misses  uint64
	HitRate float64
}

// Stats returns cache statistics
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := CacheStats{
		Size:   len(c.entries),
		Hits:   c.hits,
		Misses: c.misses,
	}
	total := c.hits + c.misses
	if total > 0 {
		stats.HitRate = float64(c.hits) / float64(total)
	}
	return stats
}
