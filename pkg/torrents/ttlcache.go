package torrents

import (
	"context"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
)

type ttlEntry[V any] struct {
	value      V
	insertedAt time.Time
}

// TTLCache is a concurrent cache whose entries expire a fixed duration after
// insertion. Expiry is computed lazily at read time; StartJanitor adds an
// optional periodic sweep to bound memory.
type TTLCache[V any] struct {
	entries cmap.ConcurrentMap[string, ttlEntry[V]]
	ttl     time.Duration
}

func NewTTLCache[V any](ttl time.Duration) *TTLCache[V] {
	return &TTLCache[V]{
		entries: cmap.New[ttlEntry[V]](),
		ttl:     ttl,
	}
}

// Get returns the cached value. found is false both when the key is absent
// and when the entry has outlived the TTL.
func (c *TTLCache[V]) Get(key string) (V, bool) {
	var zero V
	entry, ok := c.entries.Get(key)
	if !ok {
		return zero, false
	}
	if time.Since(entry.insertedAt) > c.ttl {
		c.entries.Remove(key)
		return zero, false
	}
	return entry.value, true
}

// Put stores a value and resets its expiry timer.
func (c *TTLCache[V]) Put(key string, value V) {
	c.entries.Set(key, ttlEntry[V]{value: value, insertedAt: time.Now()})
}

func (c *TTLCache[V]) Remove(key string) {
	c.entries.Remove(key)
}

func (c *TTLCache[V]) Len() int {
	return c.entries.Count()
}

// TTL returns the configured expiry duration.
func (c *TTLCache[V]) TTL() time.Duration {
	return c.ttl
}

// Sweep removes all expired entries and returns how many were dropped.
func (c *TTLCache[V]) Sweep() int {
	removed := 0
	now := time.Now()
	for key, entry := range c.entries.Items() {
		if now.Sub(entry.insertedAt) > c.ttl {
			c.entries.Remove(key)
			removed++
		}
	}
	return removed
}

// StartJanitor runs a periodic sweep until ctx is canceled.
func (c *TTLCache[V]) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.Sweep()
			}
		}
	}()
}
