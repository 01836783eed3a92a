package pkgitem

import (
	"sync"

	"golang.org/x/sync/singleflight"
)

// Item is one resolved file. Items are shared between requests and must not
// be modified after they are stored.
type Item struct {
	Path         string
	Package      string
	Content      []byte
	ContentType  string
	ETag         string
	CacheControl string
	AllowOrigin  string
	Generation   int64
}

// Cache holds the items of one tenant generation, keyed by exact request path.
type Cache struct {
	mu    sync.RWMutex
	items map[string]*Item
	// collapses concurrent misses for the same path into one fetch
	group singleflight.Group
}

func NewCache() *Cache {
	return &Cache{items: make(map[string]*Item)}
}

func (c *Cache) Get(path string) (*Item, bool) {
	c.mu.RLock()
	it, ok := c.items[path]
	c.mu.RUnlock()
	return it, ok
}

// put stores it unless another item already holds the path, and returns the
// stored item so callers always see the first writer's value.
func (c *Cache) put(path string, it *Item) *Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.items[path]; ok {
		return cur
	}
	c.items[path] = it
	return it
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Paths lists the cached request paths.
func (c *Cache) Paths() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.items))
	for p := range c.items {
		out = append(out, p)
	}
	return out
}
