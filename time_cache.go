// time_cache.go: fixed-capacity cache with per-entry TTL
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package vela

import (
	"cmp"
	"slices"
	"time"
)

// timeItem is a cache entry. The same pointer lives in the map and in the
// priority queue.
type timeItem[K comparable, V any] struct {
	key     K
	value   V
	expires int64 // nanoseconds since epoch, math.MaxInt64 = never
	seq     uint64
}

// TimeBasedCache is a fixed-capacity map with a TTL per entry.
//
// Entries are kept both in a hash map for lookup and in a priority queue
// ordered by expiry for eviction; every mutation updates both. When a new
// key is set on a full cache, Evict runs first so the size never exceeds
// the capacity.
//
// TimeBasedCache is not safe for concurrent use. Confine it to one
// goroutine or guard it with the owner's lock.
type TimeBasedCache[K comparable, V any] struct {
	capacity     int
	items        map[K]*timeItem[K, V]
	queue        *PriorityQueue[*timeItem[K, V]]
	timeProvider TimeProvider
	metrics      MetricsCollector
	timed        bool // metrics collector is not a no-op
	onEvict      func(key K, value V)
	onExpire     func(key K, value V)
	seq          uint64 // insertion order, breaks expiry ties

	hits, misses, sets, deletes, evictions, expirations uint64
}

// TimeCacheOption configures a TimeBasedCache.
type TimeCacheOption func(*timeCacheOptions)

type timeCacheOptions struct {
	timeProvider TimeProvider
	metrics      MetricsCollector
	onEvict      any
	onExpire     any
}

// WithTimeProvider sets the time source used to compute and check expiry.
func WithTimeProvider(tp TimeProvider) TimeCacheOption {
	return func(o *timeCacheOptions) { o.timeProvider = tp }
}

// WithCacheMetrics sets the collector notified of cache operations.
func WithCacheMetrics(m MetricsCollector) TimeCacheOption {
	return func(o *timeCacheOptions) { o.metrics = m }
}

// WithEvictionCallback sets the function called for entries removed to
// make room. The callback must be fast and must not use the cache.
func WithEvictionCallback[K comparable, V any](f func(key K, value V)) TimeCacheOption {
	return func(o *timeCacheOptions) { o.onEvict = f }
}

// WithExpirationCallback sets the function called for entries removed
// because their TTL elapsed.
func WithExpirationCallback[K comparable, V any](f func(key K, value V)) TimeCacheOption {
	return func(o *timeCacheOptions) { o.onExpire = f }
}

// NewTimeBasedCache creates a cache holding at most capacity entries.
// A capacity below 1 is raised to 1.
func NewTimeBasedCache[K comparable, V any](capacity int, opts ...TimeCacheOption) *TimeBasedCache[K, V] {
	if capacity < 1 {
		capacity = 1
	}
	var o timeCacheOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.timeProvider == nil {
		o.timeProvider = SystemClock()
	}
	c := &TimeBasedCache[K, V]{
		capacity:     capacity,
		items:        make(map[K]*timeItem[K, V], capacity),
		timeProvider: o.timeProvider,
		metrics:      o.metrics,
	}
	if c.metrics == nil {
		c.metrics = NoOpMetricsCollector{}
	} else if _, noop := c.metrics.(NoOpMetricsCollector); !noop {
		c.timed = true
	}
	if f, ok := o.onEvict.(func(K, V)); ok {
		c.onEvict = f
	}
	if f, ok := o.onExpire.(func(K, V)); ok {
		c.onExpire = f
	}
	c.queue = NewPriorityQueue(func(a, b *timeItem[K, V]) int {
		return cmp.Or(cmp.Compare(a.expires, b.expires), cmp.Compare(a.seq, b.seq))
	})
	return c
}

// Get returns the value stored for key. An expired entry reads as absent
// but is not removed.
func (c *TimeBasedCache[K, V]) Get(key K) (V, bool) {
	start := c.startTimer()
	item, ok := c.items[key]
	hit := ok && c.timeProvider.Now() < item.expires
	if hit {
		c.hits++
	} else {
		c.misses++
	}
	if c.timed {
		c.metrics.RecordGet(time.Since(start).Nanoseconds(), hit)
	}
	if !hit {
		var zero V
		return zero, false
	}
	return item.value, true
}

// Set stores value under key for ttl. The expiry saturates instead of
// overflowing, so a huge ttl means "never expires"; a non-positive ttl
// stores an entry that is already expired.
func (c *TimeBasedCache[K, V]) Set(key K, value V, ttl time.Duration) {
	start := c.startTimer()
	now := c.timeProvider.Now()
	if old, ok := c.items[key]; ok {
		c.queue.Remove(old)
		delete(c.items, key)
	} else if len(c.items) >= c.capacity {
		c.evictAt(now)
	}
	c.seq++
	item := &timeItem[K, V]{key: key, value: value, expires: expiresAt(now, ttl), seq: c.seq}
	c.items[key] = item
	c.queue.Push(item)
	c.sets++
	if c.timed {
		c.metrics.RecordSet(time.Since(start).Nanoseconds())
	}
}

// Swap replaces the value under key with transform(value), keeping its
// expiry and queue position. Returns false if key is absent.
// Expired entries are transformed too; Get keeps reporting them as absent.
func (c *TimeBasedCache[K, V]) Swap(key K, transform func(V) V) bool {
	item, ok := c.items[key]
	if !ok {
		return false
	}
	item.value = transform(item.value)
	return true
}

// Delete removes key. Returns true if it was present.
func (c *TimeBasedCache[K, V]) Delete(key K) bool {
	start := c.startTimer()
	item, ok := c.items[key]
	if !ok {
		return false
	}
	c.queue.Remove(item)
	delete(c.items, key)
	c.deletes++
	if c.timed {
		c.metrics.RecordDelete(time.Since(start).Nanoseconds())
	}
	return true
}

// Evict removes every expired entry. If nothing had expired, it removes
// the single entry closest to expiry instead, so a caller that needs room
// always gets it. Returns the number of removed entries.
//
// The forced removal of a live entry is intentional and is what bounds
// the cache at its capacity.
func (c *TimeBasedCache[K, V]) Evict() int {
	return c.evictAt(c.timeProvider.Now())
}

// ExpireNow removes only the expired entries and returns their number.
func (c *TimeBasedCache[K, V]) ExpireNow() int {
	return c.expireAt(c.timeProvider.Now())
}

func (c *TimeBasedCache[K, V]) evictAt(now int64) int {
	removed := c.expireAt(now)
	if removed > 0 {
		return removed
	}
	item, ok := c.queue.Pop()
	if !ok {
		return 0
	}
	delete(c.items, item.key)
	c.evictions++
	c.metrics.RecordEviction()
	if c.onEvict != nil {
		c.onEvict(item.key, item.value)
	}
	return 1
}

func (c *TimeBasedCache[K, V]) expireAt(now int64) int {
	removed := 0
	for {
		item, ok := c.queue.Peek()
		if !ok || item.expires > now {
			return removed
		}
		c.queue.Pop()
		delete(c.items, item.key)
		removed++
		c.expirations++
		c.metrics.RecordExpiration()
		if c.onExpire != nil {
			c.onExpire(item.key, item.value)
		}
	}
}

// Clear removes every entry without invoking callbacks.
func (c *TimeBasedCache[K, V]) Clear() {
	c.items = make(map[K]*timeItem[K, V], c.capacity)
	c.queue.Clear()
}

// Keys returns the keys currently held, expired ones included, ordered by
// expiry. Keys with the same expiry come in insertion order, the order in
// which they are evicted.
func (c *TimeBasedCache[K, V]) Keys() []K {
	items := make([]*timeItem[K, V], 0, len(c.items))
	for _, item := range c.items {
		items = append(items, item)
	}
	slices.SortFunc(items, func(a, b *timeItem[K, V]) int {
		return cmp.Or(cmp.Compare(a.expires, b.expires), cmp.Compare(a.seq, b.seq))
	})
	keys := make([]K, len(items))
	for i, item := range items {
		keys[i] = item.key
	}
	return keys
}

// Range calls fn for every live entry until fn returns false.
func (c *TimeBasedCache[K, V]) Range(fn func(key K, value V) bool) {
	now := c.timeProvider.Now()
	for _, key := range c.Keys() {
		item, ok := c.items[key]
		if !ok || now >= item.expires {
			continue
		}
		if !fn(item.key, item.value) {
			return
		}
	}
}

// Len returns the number of entries, expired ones included.
func (c *TimeBasedCache[K, V]) Len() int {
	return len(c.items)
}

// Capacity returns the maximum number of entries.
func (c *TimeBasedCache[K, V]) Capacity() int {
	return c.capacity
}

// Stats returns cache statistics.
func (c *TimeBasedCache[K, V]) Stats() CacheStats {
	return CacheStats{
		Hits:        c.hits,
		Misses:      c.misses,
		Sets:        c.sets,
		Deletes:     c.deletes,
		Evictions:   c.evictions,
		Expirations: c.expirations,
		Size:        len(c.items),
		Capacity:    c.capacity,
	}
}

func (c *TimeBasedCache[K, V]) startTimer() time.Time {
	if !c.timed {
		return time.Time{}
	}
	return time.Now()
}
