// Package ttlcache is a small in-memory key/value store with per-entry
// absolute expiry, kept in a go-cache store. Expired entries are dropped
// lazily when read, or in bulk by Sweep, which the tenant registry runs on
// a ticker.
//
// Each tenant owns one Cache, which is also handed to tenant handlers.
package ttlcache

import (
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// entry keeps the deadline by the cache's own clock next to the value.
// go-cache tracks the same deadline in wall time.
type entry struct {
	value   any
	expires time.Time // zero means never
}

func (e entry) expired(now time.Time) bool {
	return !e.expires.IsZero() && !now.Before(e.expires)
}

// Cache is safe for concurrent use.
type Cache struct {
	// mu serializes writes that read first, so a lazy delete never drops
	// a value Set concurrently
	mu    sync.Mutex
	store *gocache.Cache
	now   func() time.Time
}

type Option func(*Cache)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

func New(opts ...Option) *Cache {
	c := &Cache{
		// no janitor, the registry sweeps
		store: gocache.New(gocache.NoExpiration, 0),
		now:   time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Cache) entry(value any, ttl time.Duration) (entry, time.Duration) {
	if ttl <= 0 {
		return entry{value: value}, gocache.NoExpiration
	}
	return entry{value: value, expires: c.now().Add(ttl)}, ttl
}

func (c *Cache) load(key string) (entry, bool) {
	v, ok := c.store.Get(key)
	if !ok {
		return entry{}, false
	}
	e, ok := v.(entry)
	return e, ok
}

// Get returns the value for key. An entry whose expiry has passed is
// removed and reported as missing.
func (c *Cache) Get(key string) (any, bool) {
	e, ok := c.load(key)
	if ok && !e.expired(c.now()) {
		return e.value, true
	}

	c.mu.Lock()
	// re-check, a concurrent Set may have refreshed it. go-cache reports an
	// entry past its wall-clock deadline as missing but keeps it stored.
	if cur, ok := c.load(key); !ok || cur.expired(c.now()) {
		c.store.Delete(key)
	}
	c.mu.Unlock()
	return nil, false
}

// Set stores value under key. ttl <= 0 stores it without expiry.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	e, d := c.entry(value, ttl)
	c.mu.Lock()
	c.store.Set(key, e, d)
	c.mu.Unlock()
}

// SetExpires replaces the expiry of an existing entry. It returns false if
// key is not present.
func (c *Cache) SetExpires(key string, ttl time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur, ok := c.load(key)
	if !ok {
		return false
	}
	e, d := c.entry(cur.value, ttl)
	return c.store.Replace(key, e, d) == nil
}

func (c *Cache) Remove(key string) {
	c.mu.Lock()
	c.store.Delete(key)
	c.mu.Unlock()
}

// Len counts stored entries, including expired ones not yet read.
func (c *Cache) Len() int {
	return c.store.ItemCount()
}

// Sweep drops every expired entry and returns how many were removed.
func (c *Cache) Sweep() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	before := c.store.ItemCount()
	c.store.DeleteExpired()
	n := before - c.store.ItemCount()

	for k, it := range c.store.Items() {
		if e, ok := it.Object.(entry); ok && e.expired(now) {
			c.store.Delete(k)
			n++
		}
	}
	return n
}
