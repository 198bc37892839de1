package common

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// CacheRepository defines the minimal cache surface the services depend on.
//
// A miss is not an error: callers fall through to the upstream fetch and Set
// the result under the same key. Writes that can invalidate earlier reads
// must Clear (or Delete the affected keys) before they return.
type CacheRepository[V any] interface {
	Get(key string) (value V, found bool)
	Set(key string, value V)
	Delete(key string)
	Clear()
}

var _ CacheRepository[[]byte] = (*SWRCache[[]byte])(nil)

// Clearer is anything that can drop all of its cached reads. Services hand
// their writes' fan-out to these so that related collections are cleared too.
type Clearer interface {
	Clear()
}

// ClearAll clears each non-nil target.
func ClearAll(targets ...Clearer) {
	for _, t := range targets {
		if t != nil {
			t.Clear()
		}
	}
}

// CacheStats is a snapshot of the counters kept by an SWRCache.
type CacheStats struct {
	Hits        uint64
	Misses      uint64
	Evictions   uint64
	Expirations uint64
}

// SWRCache is a bounded, time-expiring, LRU-evicting key/value cache.
//
// Entries are valid for ttl since they were last Set. Expiry is lazy: a stale
// entry is purged by the Get that discovers it. There is no background refresh.
// When a new key is admitted into a full cache the least recently used entry
// (by Get or Set) is evicted.
//
// Every operation runs under a single mutex, including Get, which has to
// reorder the recency list.
type SWRCache[V any] struct {
	mu       sync.Mutex
	ttl      time.Duration
	capacity int
	lru      *simplelru.LRU[string, cacheEntry[V]]
	now      func() time.Time

	hits        atomic.Uint64
	misses      atomic.Uint64
	evictions   atomic.Uint64
	expirations atomic.Uint64
}

type cacheEntry[V any] struct {
	value      V
	insertedAt time.Time
}

// CacheOption customises an SWRCache at construction.
type CacheOption func(*cacheOptions)

type cacheOptions struct {
	now func() time.Time
}

// WithClock replaces time.Now, mostly so tests can move time forward.
func WithClock(now func() time.Time) CacheOption {
	return func(o *cacheOptions) {
		o.now = now
	}
}

var (
	ErrInvalidTTL      = errors.New("cache ttl must be positive")
	ErrInvalidCapacity = errors.New("cache capacity must be positive")
)

// NewSWRCache builds a cache holding at most capacity entries, each for at most ttl.
func NewSWRCache[V any](ttl time.Duration, capacity int, opts ...CacheOption) (*SWRCache[V], error) {
	if ttl <= 0 {
		return nil, ErrInvalidTTL
	}
	if capacity <= 0 {
		return nil, ErrInvalidCapacity
	}

	o := cacheOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	l, err := simplelru.NewLRU[string, cacheEntry[V]](capacity, nil)
	if err != nil {
		return nil, err
	}

	return &SWRCache[V]{
		ttl:      ttl,
		capacity: capacity,
		lru:      l,
		now:      o.now,
	}, nil
}

// TTL returns the fixed entry lifetime.
func (c *SWRCache[V]) TTL() time.Duration { return c.ttl }

// Capacity returns the maximum number of entries.
func (c *SWRCache[V]) Capacity() int { return c.capacity }

// Get returns the value stored under key if it is still fresh.
// A stale entry is removed before reporting a miss.
func (c *SWRCache[V]) Get(key string) (V, bool) {
	var zero V

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lru.Get(key)
	if !ok {
		c.misses.Add(1)
		return zero, false
	}

	if c.now().Sub(e.insertedAt) >= c.ttl {
		c.lru.Remove(key)
		c.expirations.Add(1)
		c.misses.Add(1)
		return zero, false
	}

	c.hits.Add(1)
	return e.value, true
}

// Set stores value under key and marks it most recently used.
// Overwriting an existing key refreshes its timestamp and never evicts.
func (c *SWRCache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := cacheEntry[V]{value: value, insertedAt: c.now()}

	if c.lru.Contains(key) {
		c.lru.Add(key, e)
		return
	}

	if c.lru.Len() >= c.capacity {
		if _, _, ok := c.lru.RemoveOldest(); ok {
			c.evictions.Add(1)
		}
	}
	c.lru.Add(key, e)
}

// Delete drops a single key if present.
func (c *SWRCache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(key)
}

// Clear drops every entry.
func (c *SWRCache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}

// Len returns the number of stored entries, including stale ones not yet
// discovered by a Get.
func (c *SWRCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Keys returns the stored keys from least to most recently used.
func (c *SWRCache[V]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Keys()
}

// Stats returns the counters accumulated since construction.
func (c *SWRCache[V]) Stats() CacheStats {
	return CacheStats{
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
		Evictions:   c.evictions.Load(),
		Expirations: c.expirations.Load(),
	}
}
