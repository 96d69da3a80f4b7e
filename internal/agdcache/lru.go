package agdcache

import (
	"fmt"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/bluele/gcache"
)

// LRUConfig is the configuration structure of an [LRU].
type LRUConfig struct {
	// Size is the maximum number of items.  It must be positive.
	Size int
}

// LRU is an [Interface] implementation on top of gcache.  Items never expire.
type LRU[K comparable, T any] struct {
	cache gcache.Cache
}

// NewLRU returns a new properly initialized *LRU.  conf must not be nil.
func NewLRU[K comparable, T any](conf *LRUConfig) (c *LRU[K, T]) {
	return &LRU[K, T]{
		cache: gcache.New(conf.Size).LRU().Build(),
	}
}

// type check
var _ Interface[string, any] = (*LRU[string, any])(nil)

// Clear implements the [Interface] interface for *LRU.
func (c *LRU[K, T]) Clear() {
	c.cache.Purge()
}

// Set implements the [Interface] interface for *LRU.
func (c *LRU[K, T]) Set(key K, val T) {
	// gcache only returns errors from a serialization function, which is never
	// set here.
	errors.Check(c.cache.Set(key, val))
}

// Get implements the [Interface] interface for *LRU.
func (c *LRU[K, T]) Get(key K) (val T, ok bool) {
	v, err := c.cache.Get(key)
	if errors.Is(err, gcache.KeyNotFoundError) {
		return val, false
	} else if err != nil {
		panic(fmt.Errorf("agdcache: getting %v: %w", key, err))
	}

	// T may be an interface type, in which case a nil v must not be asserted.
	if v == nil {
		return val, true
	}

	return v.(T), true
}

// Len implements the [Interface] interface for *LRU.
func (c *LRU[K, T]) Len() (n int) {
	return c.cache.Len(false)
}
