package subscription

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/AdguardTeam/golibs/errors"
)

// RegistryConfig is the configuration structure for a [Registry].
type RegistryConfig struct {
	// Countable are the URLs of the subscriptions that are only pinged.
	Countable []string

	// Privileged are the URLs of the subscriptions that may deploy privileged
	// filters.  Special subscriptions are always privileged.
	Privileged []string
}

// Registry is the identity map of subscriptions: there is at most one
// *Subscription for every URL.  It also keeps the ordered list of the
// subscriptions added by the user.  It is safe for concurrent use.
type Registry struct {
	countable  map[string]struct{}
	privileged map[string]struct{}

	// mu protects subs and listed.
	mu     *sync.Mutex
	subs   map[string]*Subscription
	listed []*Subscription
}

// NewRegistry returns a new empty *Registry.  c must not be nil.
func NewRegistry(c *RegistryConfig) (r *Registry) {
	r = &Registry{
		countable:  make(map[string]struct{}, len(c.Countable)),
		privileged: make(map[string]struct{}, len(c.Privileged)),
		mu:         &sync.Mutex{},
		subs:       map[string]*Subscription{},
	}

	for _, u := range c.Countable {
		r.countable[u] = struct{}{}
	}

	for _, u := range c.Privileged {
		r.privileged[u] = struct{}{}
	}

	return r
}

// Get returns the subscription for u, creating it if necessary.  A new
// subscription is not added to the list.
func (r *Registry) Get(u string) (s *Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.get(u)
}

// get is the implementation of [Registry.Get].  r.mu must be locked.
func (r *Registry) get(u string) (s *Subscription) {
	if s = r.subs[u]; s != nil {
		return s
	}

	var strategy Strategy = StrategyFull{}
	_, privileged := r.privileged[u]
	if strings.HasPrefix(u, SpecialPrefix) {
		strategy, privileged = StrategySpecial{}, true
	} else if _, ok := r.countable[u]; ok {
		strategy = StrategyCountable{}
	}

	s = newSubscription(u, strategy, privileged)
	r.subs[u] = s

	return s
}

// Lookup returns the subscription for u if it exists.
func (r *Registry) Lookup(u string) (s *Subscription, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok = r.subs[u]

	return s, ok
}

// NewSpecial returns a new special subscription with a random unique key.  It
// is not added to the list.
func (r *Registry) NewSpecial() (s *Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for {
		u := SpecialPrefix + strconv.FormatUint(rand.Uint64N(1_000_000), 10)
		if _, ok := r.subs[u]; !ok {
			return r.get(u)
		}
	}
}

// Add appends s to the list.  added is false if s is already listed.
func (r *Registry) Add(s *Subscription) (added bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if slices.Contains(r.listed, s) {
		return false
	}

	r.subs[s.URL()] = s
	r.listed = append(r.listed, s)

	return true
}

// IsListed returns true if the subscription for u is in the list.
func (r *Registry) IsListed(u string) (ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.indexOf(u) >= 0
}

// indexOf returns the index of the subscription with u in the list or -1.
// r.mu must be locked.
func (r *Registry) indexOf(u string) (i int) {
	return slices.IndexFunc(r.listed, func(s *Subscription) (ok bool) { return s.URL() == u })
}

// Remove removes the subscription for u from both the list and the identity
// map.  s is nil if there was no such subscription in the list.
func (r *Registry) Remove(u string) (s *Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexOf(u)
	if i < 0 {
		return nil
	}

	s = r.listed[i]
	r.listed = slices.Delete(r.listed, i, i+1)
	delete(r.subs, u)

	return s
}

// Rehome replaces the listed subscription with URL from by a subscription
// with URL to, copying the title, the disabled state, and the last check time.
// The new subscription is appended to the list.
func (r *Registry) Rehome(from, to string) (old, moved *Subscription, err error) {
	if from == to {
		return nil, nil, fmt.Errorf("rehoming %q: same url", from)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexOf(from)
	if i < 0 {
		return nil, nil, fmt.Errorf("rehoming %q: %w", from, errors.ErrNoValue)
	}

	old = r.listed[i]
	r.listed = slices.Delete(r.listed, i, i+1)
	delete(r.subs, from)

	moved = r.get(to)
	moved.TransferFrom(old)

	if !slices.Contains(r.listed, moved) {
		r.listed = append(r.listed, moved)
	}

	return old, moved, nil
}

// List returns the listed subscriptions in order.
func (r *Registry) List() (subs []*Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return slices.Clone(r.listed)
}

// Clear removes all subscriptions.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	clear(r.subs)
	r.listed = nil
}

// FromRecord returns the subscription for the URL of rec with the fields set
// from rec.  The subscription is not added to the list.
func (r *Registry) FromRecord(rec *Record) (s *Subscription, err error) {
	u, ok := rec.Value(keyURL)
	if !ok || u == "" {
		return nil, fmt.Errorf("subscription url: %w", errors.ErrNoValue)
	}

	s = r.Get(u)
	err = s.fromRecord(rec)
	if err != nil {
		return nil, fmt.Errorf("subscription %q: %w", u, err)
	}

	return s, nil
}
