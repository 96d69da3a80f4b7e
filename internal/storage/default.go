package storage

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/AdguardTeam/FilterSync/internal/errcoll"
	"github.com/AdguardTeam/FilterSync/internal/filter"
	"github.com/AdguardTeam/FilterSync/internal/notify"
	"github.com/AdguardTeam/FilterSync/internal/subscription"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/timeutil"
)

// ErrNotListed is returned when an action requires a listed subscription.
const ErrNotListed errors.Error = "subscription is not listed"

// ErrNotSpecial is returned when filters are edited in a subscription that is
// not special.
const ErrNotSpecial errors.Error = "subscription is not special"

// Config is the configuration structure for a [Default] storage.
type Config struct {
	// Logger is used to log the operation of the storage.  It must not be nil.
	Logger *slog.Logger

	// Backend persists the storage.  It must not be nil.
	Backend Backend

	// Registry is the identity map of the subscriptions.  It must not be nil.
	Registry *subscription.Registry

	// Dispatcher receives the events of the storage.  It must not be nil.
	Dispatcher *notify.Dispatcher

	// ErrColl is used to collect the errors of invalid persisted records.  It
	// must not be nil.
	ErrColl errcoll.Interface

	// Metrics is used to collect the statistics of the storage.  It must not
	// be nil.
	Metrics Metrics

	// Clock is used to get the current time.  It must not be nil.
	Clock timeutil.Clock
}

// Default is the default filter storage.  It owns the list of subscriptions and
// the per-filter states and emits an event for every change.  Events are
// emitted after the change is complete and no locks are held, so listeners may
// call the methods of the storage.  It is safe for concurrent use.
type Default struct {
	logger   *slog.Logger
	backend  Backend
	registry *subscription.Registry
	disp     *notify.Dispatcher
	errColl  errcoll.Interface
	metrics  Metrics
	clock    timeutil.Clock

	// saveMu serializes the saves.
	saveMu *sync.Mutex

	// mu protects states and the compound changes of the registry.
	mu *sync.Mutex

	// states are the filter states by filter text.  Zero states are not kept.
	states map[string]*filter.State
}

// New returns a new empty *Default.  c must not be nil.
func New(c *Config) (s *Default) {
	return &Default{
		logger:   c.Logger,
		backend:  c.Backend,
		registry: c.Registry,
		disp:     c.Dispatcher,
		errColl:  c.ErrColl,
		metrics:  c.Metrics,
		clock:    c.Clock,
		saveMu:   &sync.Mutex{},
		mu:       &sync.Mutex{},
		states:   map[string]*filter.State{},
	}
}

// Registry returns the identity map of the subscriptions.
func (s *Default) Registry() (r *subscription.Registry) {
	return s.registry
}

// Subscriptions returns the listed subscriptions in order.
func (s *Default) Subscriptions() (subs []*subscription.Subscription) {
	return s.registry.List()
}

// Subscription returns the listed subscription with URL u.
func (s *Default) Subscription(u string) (sub *subscription.Subscription, ok bool) {
	sub, ok = s.registry.Lookup(u)
	if !ok || !s.registry.IsListed(u) {
		return nil, false
	}

	return sub, true
}

// IsFilterDisabled returns true if the filter with text is disabled for the
// subscription with URL subURL.
func (s *Default) IsFilterDisabled(text, subURL string) (ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.states[text]

	return st != nil && st.IsDisabledFor(subURL)
}

// FilterState returns a copy of the state of the filter with text.
func (s *Default) FilterState(text string) (st *filter.State) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur := s.states[text]; cur != nil {
		return cur.Clone()
	}

	return &filter.State{}
}

// emit delivers the event to the listeners.
func (s *Default) emit(ctx context.Context, ev *notify.Event) {
	s.logger.DebugContext(ctx, "event", "kind", ev.Kind, "url", ev.SubscriptionURL)

	s.disp.Emit(ctx, ev)
}

// AddSubscription appends sub to the list.  added is false if sub is already
// listed.
func (s *Default) AddSubscription(ctx context.Context, sub *subscription.Subscription) (added bool) {
	added = s.registry.Add(sub)
	if added {
		s.emitAdded(ctx, sub)
	}

	return added
}

// emitAdded emits an event about the addition of sub to the list.
func (s *Default) emitAdded(ctx context.Context, sub *subscription.Subscription) {
	s.metrics.SetSubscriptionsCount(ctx, len(s.registry.List()))
	s.emit(ctx, &notify.Event{
		Kind:            notify.KindSubscriptionAdded,
		SubscriptionURL: sub.URL(),
		Added:           sub.Filters(),
	})
}

// RemoveSubscription removes the subscription with URL u from the list and
// from the identity map.  removed is false if it wasn't listed.
func (s *Default) RemoveSubscription(ctx context.Context, u string) (removed bool) {
	sub := s.registry.Remove(u)
	if sub == nil {
		return false
	}

	s.metrics.SetSubscriptionsCount(ctx, len(s.registry.List()))
	s.emit(ctx, &notify.Event{
		Kind:            notify.KindSubscriptionRemoved,
		SubscriptionURL: u,
		Removed:         sub.Filters(),
	})

	return true
}

// SetDisabled disables or enables the listed subscription with URL u.
func (s *Default) SetDisabled(ctx context.Context, u string, disabled bool) (err error) {
	sub, ok := s.Subscription(u)
	if !ok {
		return fmt.Errorf("disabling %q: %w", u, ErrNotListed)
	}

	if !sub.SetDisabled(disabled) {
		return nil
	}

	ev := &notify.Event{
		Kind:            notify.KindSubscriptionDisabled,
		SubscriptionURL: u,
		Disabled:        disabled,
	}

	if disabled {
		ev.Removed = sub.Filters()
	} else {
		ev.Added = sub.Filters()
	}

	s.emit(ctx, ev)

	return nil
}

// SetTitle sets the title of the listed subscription with URL u.
func (s *Default) SetTitle(ctx context.Context, u, title string) (err error) {
	sub, ok := s.Subscription(u)
	if !ok {
		return fmt.Errorf("setting title of %q: %w", u, ErrNotListed)
	}

	if sub.SetTitle(title) {
		s.emitProperties(ctx, sub)
	}

	return nil
}

// AddFilter adds the filter with text to the listed special subscription with
// URL subURL at pos.  If subURL is empty, the first listed special
// subscription is used, and if there is none, a new one is created and added
// to the list.  added is false if the subscription already contains the
// filter.
func (s *Default) AddFilter(
	ctx context.Context,
	text string,
	subURL string,
	pos int,
) (added bool, err error) {
	text = filter.Normalize(text)
	if text == "" {
		return false, fmt.Errorf("adding filter: text: %w", errors.ErrEmptyValue)
	}

	var sub *subscription.Subscription
	var created bool
	func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		sub, created, err = s.specialFor(subURL)
		if created {
			s.registry.Add(sub)
		}
	}()
	if err != nil {
		return false, fmt.Errorf("adding filter %q: %w", text, err)
	}

	if created {
		s.emitAdded(ctx, sub)
	}

	if !sub.InsertFilter(text, pos) {
		return false, nil
	}

	s.emit(ctx, &notify.Event{
		Kind:            notify.KindFilterAdded,
		SubscriptionURL: sub.URL(),
		Filter:          text,
	})

	return true, nil
}

// specialFor returns the special subscription with URL u or, if u is empty,
// the first listed one or a new one.  s.mu must be locked.
func (s *Default) specialFor(u string) (sub *subscription.Subscription, created bool, err error) {
	if u != "" {
		var ok bool
		sub, ok = s.Subscription(u)
		if !ok {
			return nil, false, ErrNotListed
		} else if !sub.IsSpecial() {
			return nil, false, ErrNotSpecial
		}

		return sub, false, nil
	}

	for _, listed := range s.registry.List() {
		if listed.IsSpecial() {
			return listed, false, nil
		}
	}

	return s.registry.NewSpecial(), true, nil
}

// RemoveFilter removes the filter with text from the listed special
// subscription with URL subURL or, if subURL is empty, from all listed special
// subscriptions.  removed is false if no subscription contained the filter.
func (s *Default) RemoveFilter(ctx context.Context, text, subURL string) (removed bool, err error) {
	var subs []*subscription.Subscription
	if subURL != "" {
		sub, ok := s.Subscription(subURL)
		if !ok {
			return false, fmt.Errorf("removing filter %q: %w", text, ErrNotListed)
		} else if !sub.IsSpecial() {
			return false, fmt.Errorf("removing filter %q: %w", text, ErrNotSpecial)
		}

		subs = append(subs, sub)
	} else {
		subs = slices.DeleteFunc(s.registry.List(), func(sub *subscription.Subscription) (ok bool) {
			return !sub.IsSpecial()
		})
	}

	for _, sub := range subs {
		if !sub.DeleteFilter(text) {
			continue
		}

		removed = true
		s.emit(ctx, &notify.Event{
			Kind:            notify.KindFilterRemoved,
			SubscriptionURL: sub.URL(),
			Filter:          text,
		})
	}

	return removed, nil
}

// SetFilterDisabled disables or enables the filter with text for the
// subscription with URL subURL.  changed is false if the state was the same.
func (s *Default) SetFilterDisabled(
	ctx context.Context,
	text string,
	subURL string,
	disabled bool,
) (changed bool) {
	func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		st := s.stateFor(text)
		changed = st.SetDisabledFor(subURL, disabled)
		s.dropIfZero(text, st)
	}()

	if changed {
		s.emit(ctx, &notify.Event{
			Kind:            notify.KindFilterDisabled,
			SubscriptionURL: subURL,
			Filter:          text,
			Disabled:        disabled,
		})
	}

	return changed
}

// stateFor returns the state for text, creating it if necessary.  s.mu must be
// locked.
func (s *Default) stateFor(text string) (st *filter.State) {
	st = s.states[text]
	if st == nil {
		st = &filter.State{}
		s.states[text] = st
	}

	return st
}

// dropIfZero removes the state of text if it carries no information.  s.mu
// must be locked.
func (s *Default) dropIfZero(text string, st *filter.State) {
	if st.IsZero() {
		delete(s.states, text)
	}
}

// RecordHit increments the hit count of the filter with text.
func (s *Default) RecordHit(ctx context.Context, text string) {
	now := s.clock.Now()

	func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		st := s.stateFor(text)
		st.HitCount++
		st.LastHit = now
	}()

	s.emit(ctx, &notify.Event{
		Kind:   notify.KindFilterHitCount,
		Filter: text,
	})
}

// ResetHits resets the hit counts of all filters.
func (s *Default) ResetHits(ctx context.Context) {
	func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		for text, st := range s.states {
			st.HitCount, st.LastHit = 0, time.Time{}
			s.dropIfZero(text, st)
		}
	}()

	s.emit(ctx, &notify.Event{
		Kind: notify.KindFilterHitCount,
	})
}

// emitProperties emits an event about a change in the properties of sub if
// it's listed.
func (s *Default) emitProperties(ctx context.Context, sub *subscription.Subscription) {
	if !s.registry.IsListed(sub.URL()) {
		return
	}

	s.emit(ctx, &notify.Event{
		Kind:            notify.KindSubscriptionProperties,
		SubscriptionURL: sub.URL(),
	})
}

// emitUpdate emits an event about a change in the filters of sub if it's
// listed and anything has changed.  Otherwise it emits a properties event.
func (s *Default) emitUpdate(ctx context.Context, sub *subscription.Subscription, added, removed []string) {
	if len(added) == 0 && len(removed) == 0 {
		s.emitProperties(ctx, sub)

		return
	}

	if !s.registry.IsListed(sub.URL()) {
		return
	}

	s.emit(ctx, &notify.Event{
		Kind:            notify.KindSubscriptionUpdated,
		SubscriptionURL: sub.URL(),
		Added:           added,
		Removed:         removed,
	})
}

// CommitFullUpdate applies the downloaded list l to sub.
func (s *Default) CommitFullUpdate(
	ctx context.Context,
	sub *subscription.Subscription,
	l *subscription.List,
	exp subscription.Expiration,
) {
	added, removed := sub.ApplyFullUpdate(l, s.clock.Now(), exp)
	s.emitUpdate(ctx, sub, added, removed)
}

// CommitDiffUpdate applies the downloaded diff d to sub.
func (s *Default) CommitDiffUpdate(
	ctx context.Context,
	sub *subscription.Subscription,
	d *subscription.Diff,
	exp subscription.Expiration,
) {
	added, removed := sub.ApplyDiffUpdate(d, s.clock.Now(), exp)
	s.emitUpdate(ctx, sub, added, removed)
}

// CommitHeadSuccess records a successful ping of sub.
func (s *Default) CommitHeadSuccess(
	ctx context.Context,
	sub *subscription.Subscription,
	exp subscription.Expiration,
) {
	sub.ApplyHeadSuccess(s.clock.Now(), exp)
	s.emitProperties(ctx, sub)
}

// CommitFailure records a failed download of sub.  See
// [subscription.Subscription.ApplyDownloadFailure].
func (s *Default) CommitFailure(
	ctx context.Context,
	sub *subscription.Subscription,
	status subscription.Status,
	manual bool,
	threshold int,
) (needFallback bool) {
	needFallback = sub.ApplyDownloadFailure(status, manual, threshold, s.clock.Now())
	s.emitProperties(ctx, sub)

	return needFallback
}

// CommitStatus sets the status of sub after a download that could not be
// applied.
func (s *Default) CommitStatus(
	ctx context.Context,
	sub *subscription.Subscription,
	status subscription.Status,
) {
	sub.SetStatus(status, s.clock.Now())
	s.emitProperties(ctx, sub)
}

// CommitCheck records a scheduled check of sub.  See
// [subscription.Subscription.MarkChecked] and
// [subscription.Subscription.ClampExpirations].
func (s *Default) CommitCheck(
	ctx context.Context,
	sub *subscription.Subscription,
	maxAbsence time.Duration,
	limit time.Duration,
) {
	now := s.clock.Now()
	sub.MarkChecked(now, maxAbsence)
	sub.ClampExpirations(now, limit)
	s.emitProperties(ctx, sub)
}

// Rehome replaces the listed subscription with URL from by the one with URL
// to.  The filter states disabled for the old subscription are moved to the
// new one.
func (s *Default) Rehome(ctx context.Context, from, to string) (moved *subscription.Subscription, err error) {
	var old *subscription.Subscription
	func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		old, moved, err = s.registry.Rehome(from, to)
		if err != nil {
			return
		}

		for _, st := range s.states {
			st.Rehome(from, to)
		}
	}()
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}

	s.logger.InfoContext(ctx, "subscription moved", "from", from, "to", to)

	s.emit(ctx, &notify.Event{
		Kind:            notify.KindSubscriptionRemoved,
		SubscriptionURL: from,
		Removed:         old.Filters(),
	})
	s.emit(ctx, &notify.Event{
		Kind:            notify.KindSubscriptionAdded,
		SubscriptionURL: to,
		Added:           moved.Filters(),
	})

	return moved, nil
}

// Load replaces the content of the storage with the persisted one.  Invalid
// subscription records are reported and skipped.
func (s *Default) Load(ctx context.Context) (err error) {
	d, err := s.backend.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading storage: %w", err)
	}

	func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		s.registry.Clear()
		for i, rec := range d.Subscriptions {
			sub, recErr := s.registry.FromRecord(rec)
			if recErr != nil {
				recErr = fmt.Errorf("subscription at index %d: %w", i, recErr)
				errcoll.Collect(ctx, s.errColl, s.logger, "loading storage", recErr)

				continue
			}

			s.registry.Add(sub)
		}

		clear(s.states)
		for _, fr := range d.Filters {
			st := &filter.State{
				LastHit:  fr.LastHit,
				HitCount: fr.HitCount,
			}

			for _, u := range fr.DisabledFor {
				st.SetDisabledFor(u, true)
			}

			if !st.IsZero() {
				s.states[fr.Text] = st
			}
		}
	}()

	n := len(s.registry.List())
	s.logger.InfoContext(ctx, "loaded", "subscriptions", n, "filter_states", len(d.Filters))
	s.metrics.SetSubscriptionsCount(ctx, n)

	s.emit(ctx, &notify.Event{
		Kind: notify.KindLoad,
	})

	return nil
}

// Save persists the content of the storage.
func (s *Default) Save(ctx context.Context) (err error) {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	d := s.snapshot()

	start := time.Now()
	err = s.backend.Save(ctx, d)
	s.metrics.ObserveSave(ctx, time.Since(start), err)
	if err != nil {
		return fmt.Errorf("saving storage: %w", err)
	}

	s.logger.DebugContext(ctx, "saved", "subscriptions", len(d.Subscriptions))

	return nil
}

// snapshot returns the persisted form of the current content of the storage.
func (s *Default) snapshot() (d *Data) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d = &Data{}
	for _, sub := range s.registry.List() {
		d.Subscriptions = append(d.Subscriptions, sub.Record())
	}

	for text, st := range s.states {
		d.Filters = append(d.Filters, &FilterRecord{
			LastHit:     st.LastHit,
			Text:        text,
			DisabledFor: st.DisabledFor(),
			HitCount:    st.HitCount,
		})
	}

	slices.SortFunc(d.Filters, func(a, b *FilterRecord) (res int) {
		return strings.Compare(a.Text, b.Text)
	})

	return d
}
