package cache

import (
	"sync"
	"time"
)

// DefaultCapacity bounds the cache when no explicit capacity is given.
const DefaultCapacity = 1000

type ttlEntry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTLCache is a thread-safe cache with per-entry expiry and a bounded size.
// It is meant to be constructor-injected wherever a lookup table would
// otherwise live in a package-level variable, so tests can control its
// lifetime and contents.
type TTLCache[K comparable, V any] struct {
	mu       sync.Mutex
	items    map[K]ttlEntry[V]
	order    []K // insertion order, evicted oldest-first at capacity
	capacity int
	ttl      time.Duration
	stop     chan struct{}
	done     chan struct{}
	closed   bool
}

// NewTTL creates a cache whose entries expire after ttl. Capacity must be
// positive; use DefaultCapacity when in doubt. A background goroutine sweeps
// expired entries once a minute until Close is called.
func NewTTL[K comparable, V any](capacity int, ttl time.Duration) *TTLCache[K, V] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	c := &TTLCache[K, V]{
		items:    make(map[K]ttlEntry[V]),
		capacity: capacity,
		ttl:      ttl,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go c.sweep()
	return c
}

// Get returns the cached value for key if present and not expired.
func (c *TTLCache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	if time.Now().After(entry.expiresAt) {
		delete(c.items, key)
		c.removeKey(key)
		var zero V
		return zero, false
	}
	return entry.value, true
}

// Set stores value under key with the cache's TTL, evicting the oldest entry
// when at capacity.
func (c *TTLCache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.items[key]; !exists {
		if len(c.items) >= c.capacity && len(c.order) > 0 {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.items, oldest)
		}
		c.order = append(c.order, key)
	}
	c.items[key] = ttlEntry[V]{value: value, expiresAt: time.Now().Add(c.ttl)}
}

// Delete removes key from the cache.
func (c *TTLCache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
	c.removeKey(key)
}

// Purge drops every entry. Used when the underlying data is replaced
// wholesale, e.g. after a catalog re-sync.
func (c *TTLCache[K, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[K]ttlEntry[V])
	c.order = c.order[:0]
}

// Len returns the number of entries, including any not yet swept expired ones.
func (c *TTLCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Close stops the sweeper goroutine. The cache remains usable afterwards but
// expired entries are then only dropped lazily on Get.
func (c *TTLCache[K, V]) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	close(c.stop)
	<-c.done
	return nil
}

func (c *TTLCache[K, V]) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	defer close(c.done)

	for {
		select {
		case <-ticker.C:
			c.removeExpired()
		case <-c.stop:
			return
		}
	}
}

func (c *TTLCache[K, V]) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, entry := range c.items {
		if now.After(entry.expiresAt) {
			delete(c.items, key)
			c.removeKey(key)
		}
	}
}

func (c *TTLCache[K, V]) removeKey(key K) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}
