package filter

import (
	"maps"
	"slices"
	"time"
)

// State is the persisted per-filter state.  It is not safe for concurrent use;
// the owner is responsible for synchronization.
type State struct {
	// LastHit is the time of the last match of the filter.
	LastHit time.Time

	// disabled is the set of URLs of the subscriptions for which the filter is
	// disabled.
	disabled map[string]struct{}

	// HitCount is the number of matches of the filter.
	HitCount uint64
}

// IsDisabledFor returns true if the filter is disabled for the subscription
// with the given URL.
func (s *State) IsDisabledFor(subURL string) (ok bool) {
	_, ok = s.disabled[subURL]

	return ok
}

// SetDisabledFor sets the disabled state of the filter for the subscription
// with the given URL.  changed is true if the state has changed.
func (s *State) SetDisabledFor(subURL string, disabled bool) (changed bool) {
	if s.IsDisabledFor(subURL) == disabled {
		return false
	}

	if !disabled {
		delete(s.disabled, subURL)

		return true
	}

	if s.disabled == nil {
		s.disabled = map[string]struct{}{}
	}

	s.disabled[subURL] = struct{}{}

	return true
}

// DisabledFor returns the sorted URLs of the subscriptions for which the
// filter is disabled.
func (s *State) DisabledFor() (urls []string) {
	return slices.Sorted(maps.Keys(s.disabled))
}

// IsZero returns true if the state carries no information and need not be
// persisted.
func (s *State) IsZero() (ok bool) {
	return len(s.disabled) == 0 && s.HitCount == 0 && s.LastHit.IsZero()
}

// Rehome moves the disabled state from the subscription with URL from to the
// one with URL to.
func (s *State) Rehome(from, to string) {
	if s.IsDisabledFor(from) {
		s.SetDisabledFor(from, false)
		s.SetDisabledFor(to, true)
	}
}

// Clone returns a deep copy of s.
func (s *State) Clone() (c *State) {
	return &State{
		LastHit:  s.LastHit,
		disabled: maps.Clone(s.disabled),
		HitCount: s.HitCount,
	}
}
