package cache

import (
	"fmt"
	"testing"
	"time"
)

// fakeClock drives the cache's time source for TTL tests.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) time() time.Time         { return c.now }
func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestCache(t *testing.T, clock *fakeClock, opts ...Option) *Cache {
	t.Helper()
	opts = append(opts, withClock(clock.time))
	c := New(opts...)
	t.Cleanup(c.Close)
	return c
}

func TestLookup_MissThenHit(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 16, 10, 0, 0, 0, time.UTC)}
	c := newTestCache(t, clock)

	if _, ok := c.Lookup("fp-a"); ok {
		t.Error("lookup before put should miss")
	}
	c.Put("fp-a", "value-a", time.Minute)
	v, ok := c.Lookup("fp-a")
	if !ok || v.(string) != "value-a" {
		t.Errorf("expected hit with value-a, got %v ok=%v", v, ok)
	}

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("stats = %+v, want 1 hit / 1 miss", stats)
	}
	if stats.HitRate() != 0.5 {
		t.Errorf("HitRate = %v, want 0.5", stats.HitRate())
	}
}

func TestLookup_TTLExpiry(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 16, 10, 0, 0, 0, time.UTC)}
	c := newTestCache(t, clock)

	c.Put("fp-a", "value-a", time.Minute)
	clock.advance(59 * time.Second)
	if _, ok := c.Lookup("fp-a"); !ok {
		t.Fatal("entry expired before its TTL")
	}

	clock.advance(2 * time.Minute)
	if _, ok := c.Lookup("fp-a"); ok {
		t.Fatal("entry served after its TTL")
	}
	if c.Len() != 0 {
		t.Errorf("lazy expiry should remove the entry, Len = %d", c.Len())
	}
	if got := c.Stats().Expired; got != 1 {
		t.Errorf("Expired = %d, want 1", got)
	}
}

func TestPut_ZeroTTLNeverExpires(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 16, 10, 0, 0, 0, time.UTC)}
	c := newTestCache(t, clock)

	c.Put("fp-a", "value-a", 0)
	clock.advance(1000 * time.Hour)
	if _, ok := c.Lookup("fp-a"); !ok {
		t.Error("no-TTL entry expired")
	}
}

func TestPut_EvictsLeastRecentlyUsed(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 16, 10, 0, 0, 0, time.UTC)}
	c := newTestCache(t, clock, WithCapacity(3))

	c.Put("a", 1, time.Hour)
	c.Put("b", 2, time.Hour)
	c.Put("c", 3, time.Hour)
	// Refresh a: b becomes the least recently used.
	if _, ok := c.Lookup("a"); !ok {
		t.Fatal("warmup lookup missed")
	}
	c.Put("d", 4, time.Hour)

	if _, ok := c.Lookup("b"); ok {
		t.Error("b should have been evicted as least recently used")
	}
	for _, key := range []string{"a", "c", "d"} {
		if _, ok := c.Lookup(key); !ok {
			t.Errorf("%s should have survived the eviction", key)
		}
	}
	if got := c.Stats().Evictions; got != 1 {
		t.Errorf("Evictions = %d, want exactly 1", got)
	}
}

func TestPut_UpdateDoesNotEvict(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 16, 10, 0, 0, 0, time.UTC)}
	c := newTestCache(t, clock, WithCapacity(2))

	c.Put("a", 1, time.Hour)
	c.Put("b", 2, time.Hour)
	c.Put("a", 10, time.Hour) // update in place, last write wins

	if c.Len() != 2 {
		t.Errorf("Len = %d, want 2", c.Len())
	}
	if v, ok := c.Lookup("a"); !ok || v.(int) != 10 {
		t.Errorf("updated value = %v ok=%v, want 10", v, ok)
	}
	if _, ok := c.Lookup("b"); !ok {
		t.Error("update must not evict the other entry")
	}
}

func TestEvictExpired_RemovesOnlyExpired(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 16, 10, 0, 0, 0, time.UTC)}
	c := newTestCache(t, clock)

	c.Put("short", 1, time.Minute)
	c.Put("long", 2, time.Hour)
	clock.advance(10 * time.Minute)
	c.EvictExpired()

	if c.Len() != 1 {
		t.Fatalf("Len = %d, want 1", c.Len())
	}
	if _, ok := c.Lookup("long"); !ok {
		t.Error("unexpired entry removed by the janitor path")
	}
}

func TestDelete(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	c := newTestCache(t, clock)
	c.Put("a", 1, time.Hour)
	c.Delete("a")
	c.Delete("a") // absent delete is a no-op
	if _, ok := c.Lookup("a"); ok {
		t.Error("deleted entry still served")
	}
}

func TestClose_Idempotent(t *testing.T) {
	c := New(WithJanitorInterval(time.Millisecond))
	c.Close()
	c.Close()
}

func TestCache_CapacityBoundHolds(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	c := newTestCache(t, clock, WithCapacity(8))
	for i := 0; i < 100; i++ {
		c.Put(fmt.Sprintf("fp-%d", i), i, time.Hour)
	}
	if c.Len() != 8 {
		t.Errorf("Len = %d, want capacity 8", c.Len())
	}
}
