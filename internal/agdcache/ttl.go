package agdcache

import (
	"fmt"
	"sync"
	"time"

	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/viktordanov/golang-lru/simplelru"
)

// TTLConfig is the configuration structure of a [TTL] cache.
type TTLConfig struct {
	// Clock is used to check expiration.  It must not be nil.
	Clock timeutil.Clock

	// Count is the maximum number of items.  It must be positive.
	Count int

	// TTL is the lifetime of every item.  Zero means that items never expire.
	TTL time.Duration
}

// ttlItem is a value with its expiration deadline.
type ttlItem[T any] struct {
	val      T
	deadline time.Time
}

// TTL is a fixed-size LRU cache where every item expires after the same
// duration.
type TTL[K comparable, T any] struct {
	// mu protects lru.
	mu  *sync.Mutex
	lru *simplelru.LRU[K, ttlItem[T]]

	clock timeutil.Clock
	ttl   time.Duration
}

// NewTTL returns a new properly initialized *TTL.  conf must not be nil.
func NewTTL[K comparable, T any](conf *TTLConfig) (c *TTL[K, T], err error) {
	lru, err := simplelru.NewLRU[K, ttlItem[T]](conf.Count, nil)
	if err != nil {
		return nil, fmt.Errorf("agdcache: creating ttl lru: %w", err)
	}

	return &TTL[K, T]{
		mu:    &sync.Mutex{},
		lru:   lru,
		clock: conf.Clock,
		ttl:   conf.TTL,
	}, nil
}

// type check
var _ Interface[string, any] = (*TTL[string, any])(nil)

// Clear implements the [Interface] interface for *TTL.
func (c *TTL[K, T]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lru.Purge()
}

// Set implements the [Interface] interface for *TTL.
func (c *TTL[K, T]) Set(key K, val T) {
	item := ttlItem[T]{
		val: val,
	}

	if c.ttl > 0 {
		item.deadline = c.clock.Now().Add(c.ttl)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.lru.Add(key, item)
}

// Get implements the [Interface] interface for *TTL.  Expired items are
// removed on access.
func (c *TTL[K, T]) Get(key K) (val T, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.lru.Get(key)
	if !ok {
		return val, false
	}

	if !item.deadline.IsZero() && !c.clock.Now().Before(item.deadline) {
		c.lru.Remove(key)

		return val, false
	}

	return item.val, true
}

// Len implements the [Interface] interface for *TTL.
func (c *TTL[K, T]) Len() (n int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.lru.Len()
}
