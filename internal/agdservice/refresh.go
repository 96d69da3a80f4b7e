package agdservice

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/AdguardTeam/FilterSync/internal/errcoll"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/service"
	"github.com/AdguardTeam/golibs/timeutil"
)

// Refresher is the interface for entities that can update themselves.
type Refresher interface {
	// Refresh is called by a [RefreshWorker].  The error returned by Refresh is
	// only returned from [RefreshWorker.Shutdown] and only when
	// [RefreshWorkerConfig.RefreshOnShutdown] is true.  In all other cases the
	// error is ignored, and refreshers must handle error reporting themselves.
	Refresh(ctx context.Context) (err error)
}

// RefresherFunc is an adapter to allow the use of ordinary functions as
// [Refresher].
type RefresherFunc func(ctx context.Context) (err error)

// type check
var _ Refresher = RefresherFunc(nil)

// Refresh implements the [Refresher] interface for RefresherFunc.
func (f RefresherFunc) Refresh(ctx context.Context) (err error) {
	return f(ctx)
}

// RefreshWorkerConfig is the configuration structure for a *RefreshWorker.
type RefreshWorkerConfig struct {
	// Context is used to provide a context for the Refresh method of
	// Refresher.  It is not used for the shutdown refresh.  It must not be nil.
	Context func() (ctx context.Context, cancel context.CancelFunc)

	// Refresher is the entity being refreshed.  It must not be nil.
	Refresher Refresher

	// Logger is used for logging the operation of the worker.  It must not be
	// nil.
	Logger *slog.Logger

	// InitialDelay is the delay before the first refresh after Start.  It must
	// not be negative.
	InitialDelay time.Duration

	// Interval is the refresh interval.  It must be positive.
	Interval time.Duration

	// RefreshOnShutdown, if true, instructs the worker to call the Refresher's
	// Refresh method before shutting down the worker.
	RefreshOnShutdown bool

	// RandomizeStart, if true, adds a random delay of up to 10 % of Interval
	// before every refresh.
	RandomizeStart bool
}

// RefreshWorker is a [service.Interface] implementation that calls its
// [Refresher] after an initial delay and then every interval.  Start and
// Shutdown are idempotent, and the worker can be started again after a
// shutdown.
type RefreshWorker struct {
	logger  *slog.Logger
	context func() (ctx context.Context, cancel context.CancelFunc)
	refr    Refresher

	// mu protects done.
	mu *sync.Mutex

	// done is closed on shutdown.  It is nil when the worker isn't running.
	done chan unit

	initialDelay  time.Duration
	interval      time.Duration
	maxStartSleep time.Duration

	refrOnShutdown bool
}

// NewRefreshWorker returns a new valid *RefreshWorker with the provided
// parameters.  c must not be nil.
func NewRefreshWorker(c *RefreshWorkerConfig) (w *RefreshWorker) {
	var maxStartSleep time.Duration
	if c.RandomizeStart {
		maxStartSleep = c.Interval / 10
	}

	return &RefreshWorker{
		logger:         c.Logger,
		context:        c.Context,
		refr:           c.Refresher,
		mu:             &sync.Mutex{},
		initialDelay:   c.InitialDelay,
		interval:       c.Interval,
		maxStartSleep:  maxStartSleep,
		refrOnShutdown: c.RefreshOnShutdown,
	}
}

// type check
var _ service.Interface = (*RefreshWorker)(nil)

// Start implements the [service.Interface] interface for *RefreshWorker.  err
// is always nil.  Calling Start on a running worker does nothing.
func (w *RefreshWorker) Start(ctx context.Context) (err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.done != nil {
		w.logger.DebugContext(ctx, "already started")

		return nil
	}

	w.done = make(chan unit)
	go w.refreshInALoop(w.done)

	return nil
}

// Shutdown implements the [service.Interface] interface for *RefreshWorker.
// It only prevents future refreshes; a refresh that is in progress is allowed
// to finish.  Calling Shutdown on a stopped worker does nothing.
func (w *RefreshWorker) Shutdown(ctx context.Context) (err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.done == nil {
		return nil
	}

	close(w.done)
	w.done = nil

	if w.refrOnShutdown {
		err = w.refr.Refresh(slogutil.ContextWithLogger(ctx, w.logger))
		if err != nil {
			return fmt.Errorf("refresh on shutdown: %w", err)
		}
	}

	w.logger.InfoContext(ctx, "shut down successfully")

	return nil
}

// refreshInALoop refreshes the entity after the initial delay and then every
// interval until done is closed.
func (w *RefreshWorker) refreshInALoop(done <-chan unit) {
	ctx := context.Background()
	defer slogutil.RecoverAndLog(ctx, w.logger)

	w.logger.InfoContext(ctx, "starting refresh loop", "initial_delay", timeutil.Duration(w.initialDelay))

	timer := time.NewTimer(w.initialDelay)
	defer timer.Stop()

	for {
		select {
		case <-done:
			w.logger.InfoContext(ctx, "finished refresh loop")

			return
		case <-timer.C:
			if w.sleepRandom(ctx, done) {
				w.refresh()
			}

			timer.Reset(w.interval)
		}
	}
}

// sleepRandom sleeps for up to maxStartSleep unless it's zero.  shouldRefresh
// shows if a refresh should be performed once the sleep is finished.
func (w *RefreshWorker) sleepRandom(ctx context.Context, done <-chan unit) (shouldRefresh bool) {
	if w.maxStartSleep <= 0 {
		return true
	}

	sleepDur := rand.N(w.maxStartSleep)
	w.logger.DebugContext(ctx, "sleeping before refresh", "dur", timeutil.Duration(sleepDur))

	timer := time.NewTimer(sleepDur)
	defer timer.Stop()

	select {
	case <-done:
		return false
	case <-timer.C:
		return true
	}
}

// refresh refreshes the entity.  Errors are handled by the refresher.
func (w *RefreshWorker) refresh() {
	ctx, cancel := w.context()
	defer cancel()

	ctx = slogutil.ContextWithLogger(ctx, w.logger)

	_ = w.refr.Refresh(ctx)
}

// RefresherWithErrColl reports all refresh errors to errColl and logs them.
type RefresherWithErrColl struct {
	logger  *slog.Logger
	refr    Refresher
	errColl errcoll.Interface
}

// NewRefresherWithErrColl wraps refr into a refresher that collects errors and
// logs them.  All arguments must not be nil.
func NewRefresherWithErrColl(
	refr Refresher,
	logger *slog.Logger,
	errColl errcoll.Interface,
) (wrapped *RefresherWithErrColl) {
	return &RefresherWithErrColl{
		refr:    refr,
		logger:  logger,
		errColl: errColl,
	}
}

// type check
var _ Refresher = (*RefresherWithErrColl)(nil)

// Refresh implements the [Refresher] interface for *RefresherWithErrColl.
func (r *RefresherWithErrColl) Refresh(ctx context.Context) (err error) {
	err = r.refr.Refresh(ctx)
	if err != nil {
		errcoll.Collect(ctx, r.errColl, r.logger, "refreshing", err)
	}

	return err
}
