// Package cache provides the request-fingerprint cache: a thread-safe
// in-memory store with per-entry TTL, LRU eviction at a capacity bound,
// and dual expiry (lazy on lookup, active via a background janitor).
//
// A hash map gives O(1) fingerprint lookup; a doubly linked list keeps LRU
// order, most recently used at the front. An entry is served only while
// now < insertion time + TTL; absence and expiry are both reported as a
// miss, never an error.
package cache

import (
	"container/list"
	"sync"
	"time"
)

type entry struct {
	fingerprint string
	value       any
	insertedAt  time.Time
	expiresAt   int64 // UnixNano; 0 means no expiry
	lastAccess  time.Time
}

func (e *entry) expired(now time.Time) bool {
	return e.expiresAt != 0 && now.UnixNano() > e.expiresAt
}

// Stats tracks cache effectiveness counters. Snapshot via Cache.Stats.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Expired   uint64
}

// HitRate returns hits / (hits + misses), 0 when empty.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Cache is the TTL+LRU store. A single mutex guards the map and list:
// lookups mutate recency order, so even reads take the write lock. The
// LRU list is global, which keeps eviction exact (always the entry with
// the oldest last access, never a fresher one).
type Cache struct {
	mu       sync.Mutex
	data     map[string]*list.Element
	lru      *list.List
	capacity int
	interval time.Duration
	stop     chan struct{}
	stopOnce sync.Once
	stats    Stats
	now      func() time.Time
}

// Option configures a Cache at construction.
type Option func(*Cache)

// WithCapacity bounds the entry count; on overflow the least recently used
// entry is evicted. Zero or negative means unbounded.
func WithCapacity(n int) Option {
	return func(c *Cache) { c.capacity = n }
}

// WithJanitorInterval enables active expiry at the given period. Without
// it the cache relies on lazy expiry alone.
func WithJanitorInterval(d time.Duration) Option {
	return func(c *Cache) { c.interval = d }
}

// withClock overrides the time source for tests.
func withClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates a cache and starts the janitor if an interval was set.
func New(opts ...Option) *Cache {
	c := &Cache{
		data: make(map[string]*list.Element),
		lru:  list.New(),
		stop: make(chan struct{}),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.startJanitor()
	return c
}

// Lookup returns the value stored under fingerprint and whether it was a
// hit. Expired entries are removed on the spot and reported as a miss.
// A hit refreshes the entry's recency.
func (c *Cache) Lookup(fingerprint string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.data[fingerprint]
	if !ok {
		c.stats.Misses++
		return nil, false
	}
	e := elem.Value.(*entry)
	now := c.now()
	if e.expired(now) {
		c.removeElement(elem)
		c.stats.Expired++
		c.stats.Misses++
		return nil, false
	}
	e.lastAccess = now
	c.lru.MoveToFront(elem)
	c.stats.Hits++
	return e.value, true
}

// Put inserts or updates fingerprint with the given TTL. ttl <= 0 stores
// the entry without expiry. Concurrent fills for the same fingerprint are
// safe; last write wins.
func (c *Cache) Put(fingerprint string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var expires int64
	if ttl > 0 {
		expires = now.Add(ttl).UnixNano()
	}

	if elem, ok := c.data[fingerprint]; ok {
		e := elem.Value.(*entry)
		e.value = value
		e.insertedAt = now
		e.expiresAt = expires
		e.lastAccess = now
		c.lru.MoveToFront(elem)
		return
	}

	if c.capacity > 0 && c.lru.Len() >= c.capacity {
		c.evictOldest()
	}
	elem := c.lru.PushFront(&entry{
		fingerprint: fingerprint,
		value:       value,
		insertedAt:  now,
		expiresAt:   expires,
		lastAccess:  now,
	})
	c.data[fingerprint] = elem
}

// EvictExpired removes every expired entry. The janitor calls this on its
// schedule; callers may also invoke it directly.
func (c *Cache) EvictExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for elem := c.lru.Back(); elem != nil; {
		prev := elem.Prev()
		if elem.Value.(*entry).expired(now) {
			c.removeElement(elem)
			c.stats.Expired++
		}
		elem = prev
	}
}

// Delete removes fingerprint if present.
func (c *Cache) Delete(fingerprint string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.data[fingerprint]; ok {
		c.removeElement(elem)
	}
}

// Len returns the current entry count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Close stops the janitor. Safe to call more than once.
func (c *Cache) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Cache) evictOldest() {
	if elem := c.lru.Back(); elem != nil {
		c.removeElement(elem)
		c.stats.Evictions++
	}
}

func (c *Cache) removeElement(elem *list.Element) {
	c.lru.Remove(elem)
	delete(c.data, elem.Value.(*entry).fingerprint)
}

func (c *Cache) startJanitor() {
	if c.interval <= 0 {
		return
	}
	ticker := time.NewTicker(c.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.EvictExpired()
			case <-c.stop:
				return
			}
		}
	}()
}
