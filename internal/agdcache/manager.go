package agdcache

import (
	"maps"
	"slices"
	"sync"
)

// Manager keeps named caches so that they can be cleared through the debug
// API.  It is safe for concurrent use.
type Manager struct {
	mu     *sync.Mutex
	caches map[string]Clearer
}

// NewManager returns a new empty *Manager.
func NewManager() (m *Manager) {
	return &Manager{
		mu:     &sync.Mutex{},
		caches: map[string]Clearer{},
	}
}

// Add registers c under id, replacing the previous cache with that id.  c must
// not be nil.
func (m *Manager) Add(id string, c Clearer) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.caches[id] = c
}

// Clear clears the cache with the given id.  ok is false if there is no such
// cache.
func (m *Manager) Clear(id string) (ok bool) {
	m.mu.Lock()
	c, ok := m.caches[id]
	m.mu.Unlock()

	if ok {
		c.Clear()
	}

	return ok
}

// IDs returns the sorted identifiers of the registered caches.
func (m *Manager) IDs() (ids []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return slices.Sorted(maps.Keys(m.caches))
}
