// Package filterlistener contains the listener that keeps the matching engine
// in sync with the filter storage and debounces the persistence of the
// storage.
package filterlistener

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/AdguardTeam/FilterSync/internal/agdcache"
	"github.com/AdguardTeam/FilterSync/internal/errcoll"
	"github.com/AdguardTeam/FilterSync/internal/filter"
	"github.com/AdguardTeam/FilterSync/internal/notify"
	"github.com/AdguardTeam/FilterSync/internal/subscription"
	"github.com/AdguardTeam/FilterSync/internal/synchronizer"
	"github.com/AdguardTeam/golibs/errors"
)

// ErrAlreadyInitialized is returned by [Listener.Initialize] when it's called
// more than once.
const ErrAlreadyInitialized errors.Error = "already initialized"

// Dirtiness factors of the storage changes.  Once the accumulated dirtiness
// reaches [dirtyLimit], the storage is saved.
const (
	dirtyStructural = 1.0
	dirtyProperty   = 0.2
	dirtyHitCount   = 0.002
	dirtyFlush      = 0.0

	dirtyLimit = 1.0
)

// parseCacheID is the identifier of the parse cache in the cache manager.
const parseCacheID = "filterlistener/parse"

// Engine is the matching engine the filters are deployed to.
type Engine interface {
	// Update undeploys the filters in remove and deploys the filters in add.
	// If err is not nil, the set of the deployed filters must not change.
	Update(ctx context.Context, add, remove []*filter.Filter) (err error)

	// Has returns true if the filter with text is deployed.
	Has(text string) (ok bool)

	// Clear undeploys all filters.
	Clear(ctx context.Context) (err error)
}

// Storage is the filter storage as seen by the listener.
type Storage interface {
	// Load replaces the content of the storage with the persisted one.
	Load(ctx context.Context) (err error)

	// Save persists the content of the storage.
	Save(ctx context.Context) (err error)

	// Subscriptions returns the listed subscriptions in order.
	Subscriptions() (subs []*subscription.Subscription)

	// IsFilterDisabled returns true if the filter with text is disabled for
	// the subscription with subURL.
	IsFilterDisabled(text, subURL string) (ok bool)
}

// Metrics is an interface that is used for the collection of the listener
// statistics.
type Metrics interface {
	// ObserveDeploy records a change of the deployed filters.
	ObserveDeploy(ctx context.Context, added, removed int, err error)

	// SetDirtiness sets the current dirtiness of the storage.
	SetDirtiness(ctx context.Context, d float64)
}

// EmptyMetrics is the implementation of the [Metrics] interface that does
// nothing.
type EmptyMetrics struct{}

// type check
var _ Metrics = EmptyMetrics{}

// ObserveDeploy implements the [Metrics] interface for EmptyMetrics.
func (EmptyMetrics) ObserveDeploy(_ context.Context, _, _ int, _ error) {}

// SetDirtiness implements the [Metrics] interface for EmptyMetrics.
func (EmptyMetrics) SetDirtiness(_ context.Context, _ float64) {}

// Config is the configuration structure for a [Listener].
type Config struct {
	// Logger is used to log the operation of the listener.  It must not be
	// nil.
	Logger *slog.Logger

	// ErrColl is used to collect the deployment and persistence errors.  It
	// must not be nil.
	ErrColl errcoll.Interface

	// Metrics is used for the collection of the statistics.  It must not be
	// nil.
	Metrics Metrics

	// CacheManager, if not nil, is used to register the parse cache.
	CacheManager *agdcache.Manager

	// ParseCacheSize is the number of parsed filters to keep.  If it is zero,
	// the filters are parsed every time.
	ParseCacheSize int
}

// Listener deploys the filters of the enabled subscriptions to the engine and
// saves the storage once enough changes have accumulated.  It must be
// initialized with [Listener.Initialize] before use.
type Listener struct {
	logger  *slog.Logger
	errColl errcoll.Interface
	metrics Metrics
	parsed  agdcache.Interface[string, *filter.Filter]
	ready   chan struct{}

	// mu protects all fields below.
	mu      *sync.Mutex
	engine  Engine
	storage Storage

	// dirty is the accumulated dirtiness of the storage.
	dirty float64

	// handling is true once the initial deployment is finished.
	handling bool
}

// New returns a new uninitialized *Listener.  c must not be nil.
func New(c *Config) (l *Listener) {
	var parsed agdcache.Interface[string, *filter.Filter] = agdcache.Empty[string, *filter.Filter]{}
	if c.ParseCacheSize > 0 {
		parsed = agdcache.NewLRU[string, *filter.Filter](&agdcache.LRUConfig{
			Size: c.ParseCacheSize,
		})
	}

	if c.CacheManager != nil {
		c.CacheManager.Add(parseCacheID, parsed)
	}

	return &Listener{
		logger:  c.Logger,
		errColl: c.ErrColl,
		metrics: c.Metrics,
		parsed:  parsed,
		ready:   make(chan struct{}),
		mu:      &sync.Mutex{},
	}
}

// Initialize loads the storage, deploys the filters of every enabled
// subscription to engine, and starts handling the storage events.  It returns
// [ErrAlreadyInitialized] if called more than once.
func (l *Listener) Initialize(ctx context.Context, engine Engine, strg Storage) (err error) {
	err = l.setUp(engine, strg)
	if err != nil {
		return err
	}

	// Don't hold the lock, since loading emits events.
	err = strg.Load(ctx)
	if err != nil {
		return fmt.Errorf("initializing: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	err = l.redeploy(ctx)
	if err != nil {
		return fmt.Errorf("initializing: %w", err)
	}

	l.dirty = 0
	l.handling = true
	close(l.ready)

	l.logger.InfoContext(ctx, "initialized", "subscriptions", len(strg.Subscriptions()))

	return nil
}

// setUp sets the engine and the storage of l.
func (l *Listener) setUp(engine Engine, strg Storage) (err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.engine != nil {
		return ErrAlreadyInitialized
	}

	l.engine = engine
	l.storage = strg

	return nil
}

// Ready returns a channel that is closed once the initial deployment is
// finished.
func (l *Listener) Ready() (ch <-chan struct{}) {
	return l.ready
}

// type check
var _ notify.Listener = (*Listener)(nil)

// HandleEvent implements the [notify.Listener] interface for *Listener.
// Events received before the initialization is finished are ignored.
func (l *Listener) HandleEvent(ctx context.Context, ev *notify.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.handling {
		return
	}

	switch ev.Kind {
	case
		notify.KindSubscriptionAdded,
		notify.KindSubscriptionRemoved,
		notify.KindSubscriptionDisabled,
		notify.KindSubscriptionUpdated:
		l.reconcileAll(ctx, ev.Added, ev.Removed)
		l.markDirty(ctx, dirtyStructural)
	case notify.KindSubscriptionProperties:
		l.markDirty(ctx, dirtyProperty)
	case notify.KindFilterAdded, notify.KindFilterRemoved, notify.KindFilterDisabled:
		l.reconcileAll(ctx, []string{ev.Filter}, nil)
		l.markDirty(ctx, dirtyStructural)
	case notify.KindFilterHitCount:
		if ev.Filter == "" {
			l.markDirty(ctx, dirtyFlush)
		} else {
			l.markDirty(ctx, dirtyHitCount)
		}
	case notify.KindLoad:
		err := l.redeploy(ctx)
		if err != nil {
			errcoll.Collect(ctx, l.errColl, l.logger, "redeploying after load", err)
		}

		l.dirty = 0
		l.metrics.SetDirtiness(ctx, 0)
	default:
		l.logger.WarnContext(ctx, "unexpected event", "kind", ev.Kind)
	}
}

// reconcileAll reconciles the filters with the texts from both lists.
// Errors are reported.  l.mu must be locked.
func (l *Listener) reconcileAll(ctx context.Context, lists ...[]string) {
	var texts []string
	for _, list := range lists {
		texts = append(texts, list...)
	}

	err := l.reconcile(ctx, texts, nil)
	if err != nil {
		errcoll.Collect(ctx, l.errColl, l.logger, "reconciling filters", err)
	}
}

// type check
var _ synchronizer.Deployer = (*Listener)(nil)

// ApplyUpdate implements the [synchronizer.Deployer] interface for *Listener.
// The filters in added are considered to belong to sub and the ones in
// removed are considered not to.
func (l *Listener) ApplyUpdate(
	ctx context.Context,
	sub *subscription.Subscription,
	added []string,
	removed []string,
) (err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.handling {
		// The initial deployment reads the storage anyway.
		return nil
	}

	texts := make([]string, 0, len(added)+len(removed))
	texts = append(texts, added...)
	texts = append(texts, removed...)

	return l.reconcile(ctx, texts, &override{
		subURL:  sub.URL(),
		added:   toSet(added),
		removed: toSet(removed),
	})
}

// Flush saves the storage if it has unsaved changes.
func (l *Listener) Flush(ctx context.Context) (err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.storage == nil || l.dirty == 0 {
		return nil
	}

	return l.save(ctx)
}

// markDirty adds factor to the dirtiness and saves the storage once it's dirty
// enough.  factor of zero saves the storage if it's dirty at all.  l.mu must
// be locked.
func (l *Listener) markDirty(ctx context.Context, factor float64) {
	if factor == dirtyFlush {
		if l.dirty == 0 {
			return
		}

		l.dirty = dirtyLimit
	} else {
		l.dirty += factor
	}

	l.metrics.SetDirtiness(ctx, l.dirty)
	if l.dirty < dirtyLimit {
		return
	}

	err := l.save(ctx)
	if err != nil {
		errcoll.Collect(ctx, l.errColl, l.logger, "saving storage", err)
	}
}

// save saves the storage and resets the dirtiness.  l.mu must be locked.
func (l *Listener) save(ctx context.Context) (err error) {
	l.dirty = 0
	l.metrics.SetDirtiness(ctx, 0)

	err = l.storage.Save(ctx)
	if err != nil {
		return fmt.Errorf("saving: %w", err)
	}

	l.logger.DebugContext(ctx, "storage saved")

	return nil
}

// toSet returns a set of texts.
func toSet(texts []string) (set map[string]struct{}) {
	set = make(map[string]struct{}, len(texts))
	for _, text := range texts {
		set[text] = struct{}{}
	}

	return set
}
