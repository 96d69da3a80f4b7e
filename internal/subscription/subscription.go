// Package subscription contains the subscription record, its update strategy
// and download statuses, the identity registry, and the parsers of downloaded
// filter lists and diffs.
package subscription

import (
	"slices"
	"strings"
	"sync"
	"time"
)

// SpecialPrefix is the prefix of the keys of special subscriptions, which hold
// the user's own filters.
const SpecialPrefix = "~user~"

// Status is the download status of a subscription.
type Status string

// Status values.  [StatusDownloading] is never persisted.
const (
	StatusNone               Status = ""
	StatusOK                 Status = "synchronize_ok"
	StatusDownloading        Status = "synchronize_downloading"
	StatusConnectionError    Status = "synchronize_connection_error"
	StatusInvalidURL         Status = "synchronize_invalid_url"
	StatusInvalidData        Status = "synchronize_invalid_data"
	StatusTooManyFilters     Status = "synchronize_too_many_filters"
	StatusDiffTooManyFilters Status = "synchronize_diff_too_many_filters"
	StatusDNRError           Status = "synchronize_dnr_error"
	StatusDiffError          Status = "synchronize_diff_error"
)

// Strategy is the update strategy of a subscription.  It's a sealed interface;
// the only implementations are [StrategyFull], [StrategyDiff],
// [StrategyCountable], and [StrategySpecial].
type Strategy interface {
	// isStrategy is a marker method.
	isStrategy()
}

// StrategyFull is the strategy of subscriptions that are downloaded in full.
type StrategyFull struct{}

// isStrategy implements the [Strategy] interface for StrategyFull.
func (StrategyFull) isStrategy() {}

// StrategyDiff is the strategy of subscriptions that are updated with diffs
// relative to their current content.
type StrategyDiff struct {
	// DiffURL is the address of the diff.  If it's empty, the subscription is
	// only pinged.
	DiffURL string
}

// isStrategy implements the [Strategy] interface for StrategyDiff.
func (StrategyDiff) isStrategy() {}

// StrategyCountable is the strategy of subscriptions whose content is never
// downloaded, but whose host is pinged to count the users.
type StrategyCountable struct{}

// isStrategy implements the [Strategy] interface for StrategyCountable.
func (StrategyCountable) isStrategy() {}

// StrategySpecial is the strategy of local subscriptions with the user's own
// filters.  They are never downloaded.
type StrategySpecial struct{}

// isStrategy implements the [Strategy] interface for StrategySpecial.
func (StrategySpecial) isStrategy() {}

// Info is a snapshot of the fields of a subscription.
type Info struct {
	// Strategy is the update strategy.
	Strategy Strategy

	// LastDownload is the time of the last download attempt.
	LastDownload time.Time

	// LastSuccess is the time of the last successful download.
	LastSuccess time.Time

	// LastCheck is the time of the last scheduler check.
	LastCheck time.Time

	// SoftExpiration is the time after which the subscription should be
	// updated.
	SoftExpiration time.Time

	// HardExpiration is the time after which the subscription must be
	// updated.
	HardExpiration time.Time

	URL      string
	Title    string
	Homepage string
	Status   Status

	Version       int64
	DownloadCount int
	Errors        int
	FilterCount   int

	Disabled   bool
	FixedTitle bool
	Privileged bool
}

// DiffURL returns the diff address of the subscription, if any.
func (i *Info) DiffURL() (u string) {
	if d, ok := i.Strategy.(StrategyDiff); ok {
		return d.DiffURL
	}

	return ""
}

// Subscription is a single filter subscription.  All fields are accessed
// through methods; it is safe for concurrent use.  Create subscriptions with a
// [Registry] only.
type Subscription struct {
	// mu protects all fields below.
	mu *sync.Mutex

	info Info

	// filters are the texts of the filters in the order of the list.
	filters []string

	// filterSet is the set of filters for fast lookups.
	filterSet map[string]struct{}
}

// newSubscription returns a new empty subscription.
func newSubscription(u string, strategy Strategy, privileged bool) (s *Subscription) {
	return &Subscription{
		mu: &sync.Mutex{},
		info: Info{
			URL:        u,
			Strategy:   strategy,
			Privileged: privileged,
		},
		filterSet: map[string]struct{}{},
	}
}

// URL returns the key of s.  It never changes.
func (s *Subscription) URL() (u string) {
	return s.info.URL
}

// Info returns a snapshot of the fields of s.
func (s *Subscription) Info() (info Info) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info = s.info
	info.FilterCount = len(s.filters)

	return info
}

// Filters returns a copy of the filter texts of s in order.
func (s *Subscription) Filters() (texts []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Clone(s.filters)
}

// HasFilter returns true if s contains the filter with text.
func (s *Subscription) HasFilter(text string) (ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok = s.filterSet[text]

	return ok
}

// IsSpecial returns true if s is a special subscription.
func (s *Subscription) IsSpecial() (ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok = s.info.Strategy.(StrategySpecial)

	return ok
}

// IsValid returns true if the filters of s can be deployed: s is either
// special or has an HTTP(S) or data: URL.
func (s *Subscription) IsValid() (ok bool) {
	if strings.HasPrefix(s.info.URL, SpecialPrefix) {
		return true
	}

	return isHTTPURL(s.info.URL) || strings.HasPrefix(strings.ToLower(s.info.URL), "data:")
}

// isHTTPURL returns true if u has the http or https scheme.
func isHTTPURL(u string) (ok bool) {
	u = strings.ToLower(u)

	return strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://")
}

// IsDisabled returns true if s is disabled.
func (s *Subscription) IsDisabled() (ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.info.Disabled
}

// SetDisabled sets the disabled state of s.  changed is false if the state
// was the same.
func (s *Subscription) SetDisabled(disabled bool) (changed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed = s.info.Disabled != disabled
	s.info.Disabled = disabled

	return changed
}

// SetTitle sets the title of s unless it's fixed by the list itself.  changed
// is false if the title wasn't changed.
func (s *Subscription) SetTitle(title string) (changed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.info.FixedTitle || s.info.Title == title {
		return false
	}

	s.info.Title = title

	return true
}

// SetDownloading marks s as being downloaded.
func (s *Subscription) SetDownloading() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.info.Status = StatusDownloading
}

// SetStatus sets the download status of s without changing anything else.  It
// is used for failures after a successful download, for example when the
// filters cannot be deployed.
func (s *Subscription) SetStatus(status Status, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.info.Status = status
	s.info.LastDownload = toSeconds(now)
}

// MarkChecked sets the last check time of s and, if the previous check was
// more than maxAbsence ago, shifts the soft expiration by the time of absence.
func (s *Subscription) MarkChecked(now time.Time, maxAbsence time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	last := s.info.LastCheck
	if !last.IsZero() && !s.info.SoftExpiration.IsZero() {
		if gap := now.Sub(last); gap > maxAbsence {
			s.info.SoftExpiration = toSeconds(s.info.SoftExpiration.Add(gap))
		}
	}

	s.info.LastCheck = toSeconds(now)
}

// ClampExpirations moves the expirations of s that are more than limit ahead
// of now back to now plus limit.  It protects against clock changes.
func (s *Subscription) ClampExpirations(now time.Time, limit time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ceil := now.Add(limit)
	if s.info.SoftExpiration.After(ceil) {
		s.info.SoftExpiration = toSeconds(ceil)
	}

	if s.info.HardExpiration.After(ceil) {
		s.info.HardExpiration = toSeconds(ceil)
	}
}

// ApplyFullUpdate replaces the filters and the metadata of s with the ones
// from l.  added and removed are the texts of the filters that were added to
// or removed from s.
func (s *Subscription) ApplyFullUpdate(
	l *List,
	now time.Time,
	exp Expiration,
) (added, removed []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.markSuccess(now, exp)

	if isHTTPURL(l.Homepage) {
		s.info.Homepage = l.Homepage
	}

	if l.Title != "" {
		s.info.Title = l.Title
		s.info.FixedTitle = true
	} else {
		s.info.FixedTitle = false
	}

	s.info.Version = l.Version

	switch s.info.Strategy.(type) {
	case StrategyFull, StrategyDiff:
		if l.DiffURL != "" {
			s.info.Strategy = StrategyDiff{DiffURL: l.DiffURL}
		}
	}

	return s.replaceFilters(l.Filters)
}

// ApplyDiffUpdate applies the changes of d to the filters of s.  Applying the
// same diff again changes nothing.
func (s *Subscription) ApplyDiffUpdate(
	d *Diff,
	now time.Time,
	exp Expiration,
) (added, removed []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.markSuccess(now, exp)

	removedSet := make(map[string]struct{}, len(d.Removed))
	for _, text := range d.Removed {
		if _, ok := s.filterSet[text]; ok {
			delete(s.filterSet, text)
			removedSet[text] = struct{}{}
			removed = append(removed, text)
		}
	}

	if len(removedSet) > 0 {
		s.filters = slices.DeleteFunc(s.filters, func(text string) (ok bool) {
			_, ok = removedSet[text]

			return ok
		})
	}

	for _, text := range d.Added {
		if _, ok := s.filterSet[text]; !ok {
			s.filterSet[text] = struct{}{}
			s.filters = append(s.filters, text)
			added = append(added, text)
		}
	}

	return added, removed
}

// ApplyHeadSuccess records a successful ping of s.
func (s *Subscription) ApplyHeadSuccess(now time.Time, exp Expiration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.markSuccess(now, exp)
}

// markSuccess updates the bookkeeping fields after a successful download.
// s.mu must be locked.
func (s *Subscription) markSuccess(now time.Time, exp Expiration) {
	now = toSeconds(now)
	s.info.LastDownload = now
	s.info.LastSuccess = now
	s.info.Status = StatusOK
	s.info.Errors = 0
	s.info.DownloadCount++
	s.info.SoftExpiration = toSeconds(exp.Soft)
	s.info.HardExpiration = toSeconds(exp.Hard)
}

// ApplyDownloadFailure records a failed download of s with status.  Automatic
// failures increase the error counter; once it reaches threshold, it is reset
// to zero and needFallback is true.  needFallback is never true for manual
// downloads, non-positive thresholds, and non-HTTP(S) subscriptions.
func (s *Subscription) ApplyDownloadFailure(
	status Status,
	manual bool,
	threshold int,
	now time.Time,
) (needFallback bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.info.LastDownload = toSeconds(now)
	s.info.Status = status

	if manual {
		return false
	}

	s.info.Errors++
	if threshold <= 0 || s.info.Errors < threshold || !isHTTPURL(s.info.URL) {
		return false
	}

	s.info.Errors = 0

	return true
}

// TransferFrom copies the user-visible state of other into s after a
// redirect.
func (s *Subscription) TransferFrom(other *Subscription) {
	info := other.Info()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.info.Title = info.Title
	s.info.Disabled = info.Disabled
	s.info.LastCheck = info.LastCheck
}

// ReplaceFilters replaces the filters of s.  It is used for user edits of
// special subscriptions.
func (s *Subscription) ReplaceFilters(texts []string) (added, removed []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.replaceFilters(texts)
}

// replaceFilters replaces the filters of s with texts, skipping duplicates.
// s.mu must be locked.
func (s *Subscription) replaceFilters(texts []string) (added, removed []string) {
	next := make([]string, 0, len(texts))
	nextSet := make(map[string]struct{}, len(texts))
	for _, text := range texts {
		if _, ok := nextSet[text]; ok {
			continue
		}

		nextSet[text] = struct{}{}
		next = append(next, text)

		if _, ok := s.filterSet[text]; !ok {
			added = append(added, text)
		}
	}

	for _, text := range s.filters {
		if _, ok := nextSet[text]; !ok {
			removed = append(removed, text)
		}
	}

	s.filters, s.filterSet = next, nextSet

	return added, removed
}

// InsertFilter inserts text at pos, or at the end if pos is out of range.  ok
// is false if s already contains the filter.
func (s *Subscription) InsertFilter(text string, pos int) (ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, has := s.filterSet[text]; has {
		return false
	}

	if pos < 0 || pos > len(s.filters) {
		pos = len(s.filters)
	}

	s.filters = slices.Insert(s.filters, pos, text)
	s.filterSet[text] = struct{}{}

	return true
}

// DeleteFilter removes text from s.  ok is false if s doesn't contain the
// filter.
func (s *Subscription) DeleteFilter(text string) (ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, has := s.filterSet[text]; !has {
		return false
	}

	delete(s.filterSet, text)
	s.filters = slices.DeleteFunc(s.filters, func(t string) (eq bool) { return t == text })

	return true
}

// toSeconds truncates t to whole seconds in the local time zone, which is the
// precision of the persisted timestamps.  The zero time stays zero.
func toSeconds(t time.Time) (trunc time.Time) {
	if t.IsZero() {
		return time.Time{}
	}

	return time.Unix(t.Unix(), 0)
}
