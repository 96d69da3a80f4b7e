// Package agdcache contains the caches used to memoize rule compilation and
// regular-expression support probes.
package agdcache

// Interface is the cache interface.  All methods must be safe for concurrent
// use.
type Interface[K, T any] interface {
	Clearer

	// Set stores val under key, possibly evicting the least recently used
	// item.
	Set(key K, val T)

	// Get returns the value stored under key and true, or the zero value and
	// false if there is no such value or it has expired.
	Get(key K) (val T, ok bool)

	// Len returns the number of stored items.
	Len() (n int)
}

// Clearer is the part of the cache interface used by [Manager].
type Clearer interface {
	// Clear removes all items from the cache.
	Clear()
}

// Empty is an [Interface] implementation that never stores anything.  It is
// used when caching is disabled.
type Empty[K, T any] struct{}

// type check
var _ Interface[any, any] = Empty[any, any]{}

// Clear implements the [Interface] interface for Empty.
func (Empty[K, T]) Clear() {}

// Set implements the [Interface] interface for Empty.
func (Empty[K, T]) Set(_ K, _ T) {}

// Get implements the [Interface] interface for Empty.
func (Empty[K, T]) Get(_ K) (val T, ok bool) {
	return val, false
}

// Len implements the [Interface] interface for Empty.
func (Empty[K, T]) Len() (n int) {
	return 0
}
