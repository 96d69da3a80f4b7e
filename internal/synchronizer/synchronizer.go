// Package synchronizer contains the scheduler that keeps the subscriptions in
// sync with their remote filter lists.
package synchronizer

import (
	"context"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/AdguardTeam/FilterSync/internal/agdhttp"
	"github.com/AdguardTeam/FilterSync/internal/agdservice"
	"github.com/AdguardTeam/FilterSync/internal/errcoll"
	"github.com/AdguardTeam/FilterSync/internal/notify"
	"github.com/AdguardTeam/FilterSync/internal/subscription"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/service"
	"github.com/AdguardTeam/golibs/timeutil"
)

// Default intervals.
const (
	// DefaultInitialDelay is the delay before the first check after start.
	DefaultInitialDelay = 1 * time.Minute

	// DefaultCheckInterval is the interval between checks.
	DefaultCheckInterval = 1 * time.Hour

	// DefaultMaxAbsence is the maximum interval between checks after which
	// the soft expirations are shifted by the time of absence.
	DefaultMaxAbsence = 1 * timeutil.Day

	// DefaultMinRetryInterval is the minimum interval between a failed
	// download and the next scheduled one.
	DefaultMinRetryInterval = 1 * timeutil.Day

	// DefaultDownloadTimeout is the timeout of a single download.
	DefaultDownloadTimeout = 1 * time.Minute
)

// ErrNoStorage is returned by [New] when the storage is not set.
const ErrNoStorage errors.Error = "no storage"

// Storage is the filter storage as seen by the synchronizer.  All network
// derived changes of the subscriptions go through it.
type Storage interface {
	// Subscriptions returns the listed subscriptions in order.
	Subscriptions() (subs []*subscription.Subscription)

	// Subscription returns the listed subscription with URL u.
	Subscription(u string) (sub *subscription.Subscription, ok bool)

	// CommitFullUpdate applies a downloaded list to sub.
	CommitFullUpdate(
		ctx context.Context,
		sub *subscription.Subscription,
		l *subscription.List,
		exp subscription.Expiration,
	)

	// CommitDiffUpdate applies a downloaded diff to sub.
	CommitDiffUpdate(
		ctx context.Context,
		sub *subscription.Subscription,
		d *subscription.Diff,
		exp subscription.Expiration,
	)

	// CommitHeadSuccess records a successful ping of sub.
	CommitHeadSuccess(ctx context.Context, sub *subscription.Subscription, exp subscription.Expiration)

	// CommitFailure records a failed download of sub and reports whether the
	// fallback must be requested.
	CommitFailure(
		ctx context.Context,
		sub *subscription.Subscription,
		status subscription.Status,
		manual bool,
		threshold int,
	) (needFallback bool)

	// CommitStatus sets the status of sub after a download that could not be
	// applied.
	CommitStatus(ctx context.Context, sub *subscription.Subscription, status subscription.Status)

	// CommitCheck records a scheduled check of sub.
	CommitCheck(
		ctx context.Context,
		sub *subscription.Subscription,
		maxAbsence time.Duration,
		limit time.Duration,
	)

	// Rehome replaces the listed subscription with URL from by the one with
	// URL to.
	Rehome(ctx context.Context, from, to string) (moved *subscription.Subscription, err error)
}

// Deployer deploys the filter changes of a subscription before they are
// committed to the storage.
type Deployer interface {
	// ApplyUpdate deploys the filters that sub is about to gain and undeploys
	// the ones it is about to lose.  If err is not nil, nothing has changed.
	ApplyUpdate(
		ctx context.Context,
		sub *subscription.Subscription,
		added []string,
		removed []string,
	) (err error)
}

// Metrics is an interface that is used for the collection of the synchronizer
// statistics.
type Metrics interface {
	// ObserveDownload records a finished download with the resulting status.
	ObserveDownload(ctx context.Context, status subscription.Status, dur time.Duration)

	// SetInFlight sets the number of downloads in progress.
	SetInFlight(ctx context.Context, n int)
}

// EmptyMetrics is the implementation of the [Metrics] interface that does
// nothing.
type EmptyMetrics struct{}

// type check
var _ Metrics = EmptyMetrics{}

// ObserveDownload implements the [Metrics] interface for EmptyMetrics.
func (EmptyMetrics) ObserveDownload(_ context.Context, _ subscription.Status, _ time.Duration) {}

// SetInFlight implements the [Metrics] interface for EmptyMetrics.
func (EmptyMetrics) SetInFlight(_ context.Context, _ int) {}

// Config is the configuration structure for a [Synchronizer].
type Config struct {
	// Logger is used to log the operation of the synchronizer.  It must not be
	// nil.
	Logger *slog.Logger

	// ErrColl is used to collect unexpected errors.  It must not be nil.
	ErrColl errcoll.Interface

	// Fetcher is used to download the lists.  It must not be nil.
	Fetcher agdhttp.Fetcher

	// Storage is the filter storage.  It must not be nil.
	Storage Storage

	// Deployer deploys the filter changes.  It must not be nil.
	Deployer Deployer

	// Metrics is used for the collection of the statistics.  It must not be
	// nil.
	Metrics Metrics

	// Clock is used to get the current time.  It must not be nil.
	Clock timeutil.Clock

	// Platform is the value of the platform query parameter.
	Platform string

	// FallbackURL is the template of the fallback address.  If it's empty,
	// fallback requests are disabled.  See [ExpandFallbackURL].
	FallbackURL string

	// InitialDelay is the delay before the first check after start.
	InitialDelay time.Duration

	// CheckInterval is the interval between checks.  It must be positive.
	CheckInterval time.Duration

	// MaxAbsence is the maximum interval between checks after which the soft
	// expirations are shifted.
	MaxAbsence time.Duration

	// MinRetryInterval is the minimum interval between a failed download and
	// the next scheduled one.
	MinRetryInterval time.Duration

	// DownloadTimeout is the timeout of a single download, including the
	// fallback request.  It must be positive.
	DownloadTimeout time.Duration

	// FallbackThreshold is the number of consecutive automatic failures after
	// which the fallback is requested.  If it's not positive, the fallback is
	// never requested.
	FallbackThreshold int

	// AutoUpdate enables the scheduled checks.  Manual downloads are always
	// allowed.
	AutoUpdate bool
}

// Synchronizer downloads the subscriptions on schedule and on demand.  There is
// at most one download for every subscription URL at any time.
type Synchronizer struct {
	logger   *slog.Logger
	errColl  errcoll.Interface
	fetcher  agdhttp.Fetcher
	storage  Storage
	deployer Deployer
	metrics  Metrics
	clock    timeutil.Clock
	worker   *agdservice.RefreshWorker

	// mu protects inFlight.
	mu       *sync.Mutex
	inFlight map[string]struct{}

	platform          string
	fallbackURL       string
	maxAbsence        time.Duration
	minRetryInterval  time.Duration
	downloadTimeout   time.Duration
	fallbackThreshold int
	autoUpdate        bool
}

// New returns a new *Synchronizer.  c must not be nil.
func New(c *Config) (s *Synchronizer, err error) {
	if c.Storage == nil {
		return nil, ErrNoStorage
	}

	s = &Synchronizer{
		logger:            c.Logger,
		errColl:           c.ErrColl,
		fetcher:           c.Fetcher,
		storage:           c.Storage,
		deployer:          c.Deployer,
		metrics:           c.Metrics,
		clock:             c.Clock,
		mu:                &sync.Mutex{},
		inFlight:          map[string]struct{}{},
		platform:          c.Platform,
		fallbackURL:       c.FallbackURL,
		maxAbsence:        c.MaxAbsence,
		minRetryInterval:  c.MinRetryInterval,
		downloadTimeout:   c.DownloadTimeout,
		fallbackThreshold: c.FallbackThreshold,
		autoUpdate:        c.AutoUpdate,
	}

	s.worker = agdservice.NewRefreshWorker(&agdservice.RefreshWorkerConfig{
		Context: func() (ctx context.Context, cancel context.CancelFunc) {
			return context.WithTimeout(context.Background(), c.CheckInterval)
		},
		Refresher:    s,
		Logger:       c.Logger.With("service", "scheduler"),
		InitialDelay: c.InitialDelay,
		Interval:     c.CheckInterval,
	})

	return s, nil
}

// type check
var _ service.Interface = (*Synchronizer)(nil)

// Start implements the [service.Interface] interface for *Synchronizer.  It
// starts the scheduled checks.  Calling it again does nothing.
func (s *Synchronizer) Start(ctx context.Context) (err error) {
	return s.worker.Start(ctx)
}

// Shutdown implements the [service.Interface] interface for *Synchronizer.  It
// stops the scheduled checks.  Downloads in progress are allowed to finish.
func (s *Synchronizer) Shutdown(ctx context.Context) (err error) {
	return s.worker.Shutdown(ctx)
}

// type check
var _ agdservice.Refresher = (*Synchronizer)(nil)

// Refresh implements the [agdservice.Refresher] interface for *Synchronizer.
// It performs a single scheduled check.  err is always nil.
func (s *Synchronizer) Refresh(ctx context.Context) (err error) {
	now := s.clock.Now()
	for d := range s.Downloadables() {
		if s.IsExecuting(d.URL) {
			continue
		}

		sub, ok := s.storage.Subscription(d.URL)
		if !ok {
			continue
		}

		s.storage.CommitCheck(ctx, sub, s.maxAbsence, subscription.MaxExpiration)

		d = sub.Downloadable(false)
		if !s.isDue(d, now) {
			continue
		}

		s.start(ctx, sub, d)
	}

	return nil
}

// isDue returns true if d must be downloaded at now.
func (s *Synchronizer) isDue(d *subscription.Downloadable, now time.Time) (ok bool) {
	if now.Before(d.SoftExpiration) && now.Before(d.HardExpiration) {
		return false
	}

	return d.LastError.IsZero() || now.Sub(d.LastError) >= s.minRetryInterval
}

// Downloadables returns the sequence of the download snapshots of the listed
// subscriptions that are downloaded automatically.  The sequence is empty if
// the scheduled checks are disabled.  Every iteration takes new snapshots.
func (s *Synchronizer) Downloadables() (seq iter.Seq[*subscription.Downloadable]) {
	return func(yield func(d *subscription.Downloadable) (cont bool)) {
		if !s.autoUpdate {
			return
		}

		for _, sub := range s.storage.Subscriptions() {
			if !sub.IsValid() {
				continue
			}

			d := sub.Downloadable(false)
			if d != nil && !yield(d) {
				return
			}
		}
	}
}

// Execute starts a download of the listed subscription with URL u regardless
// of the schedule.  Manual downloads never request the fallback.  started is
// false if the subscription isn't listed, isn't downloadable, or is already
// being downloaded.
func (s *Synchronizer) Execute(ctx context.Context, u string, manual bool) (started bool) {
	sub, ok := s.storage.Subscription(u)
	if !ok {
		return false
	}

	d := sub.Downloadable(manual)
	if d == nil {
		return false
	}

	return s.start(ctx, sub, d)
}

// IsExecuting returns true if the subscription with URL u is being downloaded.
func (s *Synchronizer) IsExecuting(u string) (ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok = s.inFlight[u]

	return ok
}

// start marks d as in flight and downloads it in a separate goroutine.
// started is false if d is already in flight.
func (s *Synchronizer) start(
	ctx context.Context,
	sub *subscription.Subscription,
	d *subscription.Downloadable,
) (started bool) {
	n, started := s.markInFlight(d.URL)
	if !started {
		s.logger.DebugContext(ctx, "already downloading", "url", d.URL)

		return false
	}

	s.metrics.SetInFlight(ctx, n)

	sub.SetDownloading()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.downloadTimeout)
	go func() {
		defer cancel()
		defer s.unmarkInFlight(ctx, d.URL)

		s.download(ctx, sub, d)
	}()

	return true
}

// markInFlight adds u to the in-flight set.  n is the new size of the set.
func (s *Synchronizer) markInFlight(u string) (n int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, has := s.inFlight[u]; has {
		return len(s.inFlight), false
	}

	s.inFlight[u] = struct{}{}

	return len(s.inFlight), true
}

// unmarkInFlight removes u from the in-flight set.
func (s *Synchronizer) unmarkInFlight(ctx context.Context, u string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.inFlight, u)
	s.metrics.SetInFlight(ctx, len(s.inFlight))
}

// type check
var _ notify.Listener = (*Synchronizer)(nil)

// HandleEvent implements the [notify.Listener] interface for *Synchronizer.
// Subscriptions that are enabled or added without ever being downloaded are
// downloaded immediately.
func (s *Synchronizer) HandleEvent(ctx context.Context, ev *notify.Event) {
	switch ev.Kind {
	case notify.KindSubscriptionDisabled:
		if !ev.Disabled {
			s.Execute(ctx, ev.SubscriptionURL, false)
		}
	case notify.KindSubscriptionAdded:
		sub, ok := s.storage.Subscription(ev.SubscriptionURL)
		if ok && sub.Info().LastDownload.IsZero() {
			s.Execute(ctx, ev.SubscriptionURL, false)
		}
	default:
		// Go on.
	}
}
