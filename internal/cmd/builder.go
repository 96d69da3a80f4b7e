package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/AdguardTeam/FilterSync/internal/agdcache"
	"github.com/AdguardTeam/FilterSync/internal/agdhttp"
	"github.com/AdguardTeam/FilterSync/internal/agdservice"
	"github.com/AdguardTeam/FilterSync/internal/debugsvc"
	"github.com/AdguardTeam/FilterSync/internal/dnr"
	"github.com/AdguardTeam/FilterSync/internal/errcoll"
	"github.com/AdguardTeam/FilterSync/internal/filterlistener"
	"github.com/AdguardTeam/FilterSync/internal/matcher"
	"github.com/AdguardTeam/FilterSync/internal/metrics"
	"github.com/AdguardTeam/FilterSync/internal/notify"
	"github.com/AdguardTeam/FilterSync/internal/storage"
	"github.com/AdguardTeam/FilterSync/internal/storage/inifile"
	"github.com/AdguardTeam/FilterSync/internal/storage/rediskv"
	"github.com/AdguardTeam/FilterSync/internal/subscription"
	"github.com/AdguardTeam/FilterSync/internal/synchronizer"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/osutil"
	"github.com/AdguardTeam/golibs/redisutil"
	"github.com/AdguardTeam/golibs/service"
	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

// Constants that define debug identifiers for the debug HTTP service.
const (
	debugIDFlush        = "filterlistener_flush"
	debugIDSynchronizer = "synchronizer"
)

// regexpCacheID is the identifier of the regular-expression probe cache in
// the cache manager.
const regexpCacheID = "dnr/regexp"

// shutdownTimeout is the default shutdown timeout for all services.
const shutdownTimeout = 5 * time.Second

// Redis pool configuration constants.
const (
	redisIdleTimeout     = 30 * time.Second
	redisMaxConnLifetime = 5 * time.Minute

	redisMaxActive = 10
	redisMaxIdle   = 3
)

// Rate limit of the errors reported by the synchronizer.
const (
	syncErrCollLimit rate.Limit = 1
	syncErrCollBurst            = 10
)

// builder contains the logic of configuring and combining together FilterSync
// entities.
//
// NOTE:  Keep method definitions in the rough order in which they are intended
// to be called.
type builder struct {
	baseLogger     *slog.Logger
	cacheManager   *agdcache.Manager
	clock          timeutil.Clock
	conf           *configuration
	debugRefrs     debugsvc.Refreshers
	env            *environment
	errColl        errcoll.Interface
	logger         *slog.Logger
	promRegisterer prometheus.Registerer
	sigHdlr        *service.SignalHandler

	// The fields below are initialized later by calling the builder's methods.

	dnrMetrics      *metrics.DNR
	listenerMetrics *metrics.FilterListener
	redisMetrics    *metrics.RedisKV
	storageMetrics  *metrics.Storage
	syncMetrics     *metrics.Synchronizer

	engine   *filterlistener.MultiEngine
	listener *filterlistener.Listener
	matcher  *matcher.Matcher
	storage  *storage.Default
	syncer   *synchronizer.Synchronizer

	mtrcNamespace string
}

// builderConfig contains the initial configuration for the builder.
type builderConfig struct {
	// envs contains the environment variables for the builder.  It must be
	// valid and must not be nil.
	envs *environment

	// conf contains the configuration from the configuration file for the
	// builder.  It must be valid and must not be nil.
	conf *configuration

	// baseLogger is used to create loggers for other entities.  It must not be
	// nil.
	baseLogger *slog.Logger

	// errColl is used to collect errors in the entities.  It must not be nil.
	errColl errcoll.Interface
}

// newBuilder returns a new properly initialized builder.  c must not be nil.
func newBuilder(c *builderConfig) (b *builder) {
	return &builder{
		baseLogger:     c.baseLogger,
		cacheManager:   agdcache.NewManager(),
		clock:          timeutil.SystemClock{},
		conf:           c.conf,
		debugRefrs:     debugsvc.Refreshers{},
		env:            c.envs,
		errColl:        c.errColl,
		logger:         c.baseLogger.With(slogutil.KeyPrefix, "builder"),
		mtrcNamespace:  metrics.Namespace,
		promRegisterer: prometheus.DefaultRegisterer,
		sigHdlr: service.NewSignalHandler(&service.SignalHandlerConfig{
			Logger:          c.baseLogger.With(slogutil.KeyPrefix, service.SignalHandlerPrefix),
			ShutdownTimeout: shutdownTimeout,
		}),
	}
}

// initMetrics registers the metrics of all entities.
func (b *builder) initMetrics(ctx context.Context) (err error) {
	b.dnrMetrics, err = metrics.NewDNR(b.mtrcNamespace, b.promRegisterer)
	if err != nil {
		return fmt.Errorf("dnr metrics: %w", err)
	}

	b.listenerMetrics, err = metrics.NewFilterListener(b.mtrcNamespace, b.promRegisterer)
	if err != nil {
		return fmt.Errorf("filterlistener metrics: %w", err)
	}

	b.storageMetrics, err = metrics.NewStorage(b.mtrcNamespace, b.promRegisterer)
	if err != nil {
		return fmt.Errorf("storage metrics: %w", err)
	}

	b.syncMetrics, err = metrics.NewSynchronizer(b.mtrcNamespace, b.promRegisterer)
	if err != nil {
		return fmt.Errorf("synchronizer metrics: %w", err)
	}

	if b.env.StorageType == storageTypeRedis {
		b.redisMetrics, err = metrics.NewRedisKV(b.mtrcNamespace, b.promRegisterer)
		if err != nil {
			return fmt.Errorf("redis metrics: %w", err)
		}
	}

	b.logger.DebugContext(ctx, "initialized metrics")

	return nil
}

// initStorage initializes the filter storage, its backend, and the listener
// that deploys its filters.  The listener is initialized later in
// [builder.initListener].
//
// The following methods must have been called before this one:
//   - [builder.initMetrics]
func (b *builder) initStorage(ctx context.Context) (err error) {
	backend, err := b.newStorageBackend()
	if err != nil {
		return fmt.Errorf("storage backend: %w", err)
	}

	subsConf := b.conf.Subscriptions

	b.listener = filterlistener.New(&filterlistener.Config{
		Logger:         b.baseLogger.With(slogutil.KeyPrefix, "filterlistener"),
		ErrColl:        b.errColl,
		Metrics:        b.listenerMetrics,
		CacheManager:   b.cacheManager,
		ParseCacheSize: b.conf.Rules.ParseCacheSize,
	})

	// The synchronizer depends on the storage, so it receives the events
	// through a closure over the builder.
	disp := notify.NewDispatcher(
		b.listener,
		notify.ListenerFunc(func(ctx context.Context, ev *notify.Event) {
			if b.syncer != nil {
				b.syncer.HandleEvent(ctx, ev)
			}
		}),
	)

	b.storage = storage.New(&storage.Config{
		Logger:  b.baseLogger.With(slogutil.KeyPrefix, "storage"),
		Backend: backend,
		Registry: subscription.NewRegistry(&subscription.RegistryConfig{
			Countable:  subsConf.Countable,
			Privileged: subsConf.Privileged,
		}),
		Dispatcher: disp,
		ErrColl:    b.errColl,
		Metrics:    b.storageMetrics,
		Clock:      b.clock,
	})

	b.logger.DebugContext(ctx, "initialized storage", "type", b.env.StorageType)

	return nil
}

// newStorageBackend returns the storage backend of the type from the
// environment.
func (b *builder) newStorageBackend() (backend storage.Backend, err error) {
	switch typ := b.env.StorageType; typ {
	case storageTypeFile:
		l := b.baseLogger.With(slogutil.KeyPrefix, "inifile")

		return inifile.NewBackend(l, b.env.StoragePath), nil
	case storageTypeRedis:
		return b.newRedisBackend()
	default:
		// Must not happen, since the environment is validated.
		panic(fmt.Errorf("storage type: %q", typ))
	}
}

// newRedisBackend returns a Redis storage backend.
func (b *builder) newRedisBackend() (backend *rediskv.Backend, err error) {
	dialer, err := redisutil.NewDefaultDialer(&redisutil.DefaultDialerConfig{
		Addr: b.env.RedisAddr,
	})
	if err != nil {
		return nil, fmt.Errorf("redis dialer: %w", err)
	}

	pool, err := redisutil.NewDefaultPool(&redisutil.DefaultPoolConfig{
		Logger:          b.baseLogger.With(slogutil.KeyPrefix, "redis"),
		Dialer:          dialer,
		MaxConnLifetime: redisMaxConnLifetime,
		IdleTimeout:     redisIdleTimeout,
		MaxActive:       redisMaxActive,
		MaxIdle:         redisMaxIdle,
		Wait:            true,
	})
	if err != nil {
		return nil, fmt.Errorf("redis pool: %w", err)
	}

	return rediskv.New(&rediskv.Config{
		Pool:    pool,
		Metrics: b.redisMetrics,
		Key:     b.env.RedisKey,
	}), nil
}

// initEngine initializes the host matcher and the declarative-rules engine.
//
// The following methods must have been called before this one:
//   - [builder.initStorage]
func (b *builder) initEngine(ctx context.Context) (err error) {
	rulesConf := b.conf.Rules

	regexpCache, err := agdcache.NewTTL[string, bool](&agdcache.TTLConfig{
		Clock: b.clock,
		Count: rulesConf.RegexpCacheSize,
		TTL:   duration(rulesConf.RegexpCacheTTL),
	})
	if err != nil {
		return fmt.Errorf("regexp cache: %w", err)
	}

	b.cacheManager.Add(regexpCacheID, regexpCache)

	store, err := dnr.NewFileStore(b.env.RulesPath, rulesConf.MaxDynamicRules)
	if err != nil {
		return fmt.Errorf("rule store: %w", err)
	}

	probe := dnr.NewRegexpProbe(regexpCache, rulesConf.MaxRegexpInsts)
	dnrEngine := dnr.NewEngine(&dnr.EngineConfig{
		Logger:  b.baseLogger.With(slogutil.KeyPrefix, "dnr"),
		ErrColl: b.errColl,
		Compiler: dnr.NewCompiler(&dnr.CompilerConfig{
			IsRegexSupported: probe.IsSupported,
			CacheManager:     b.cacheManager,
			CacheSize:        rulesConf.CompileCacheSize,
		}),
		Store:   store,
		Metrics: b.dnrMetrics,
	})

	b.matcher = matcher.New(&matcher.Config{
		Logger:      b.baseLogger.With(slogutil.KeyPrefix, "matcher"),
		HitRecorder: b.storage,
	})

	b.engine = filterlistener.NewMultiEngine(b.matcher, dnrEngine)

	b.logger.DebugContext(ctx, "initialized engine", "rules_path", b.env.RulesPath)

	return nil
}

// initSynchronizer initializes the subscription synchronizer.  It is started
// later in [builder.startSynchronizer].
//
// The following methods must have been called before this one:
//   - [builder.initStorage]
func (b *builder) initSynchronizer(ctx context.Context) (err error) {
	c := b.conf.Synchronizer
	syncLogger := b.baseLogger.With(slogutil.KeyPrefix, "synchronizer")

	b.syncer, err = synchronizer.New(&synchronizer.Config{
		Logger: syncLogger,
		ErrColl: errcoll.NewRateLimitedCollector(
			syncLogger,
			b.errColl,
			syncErrCollLimit,
			syncErrCollBurst,
		),
		Fetcher: agdhttp.NewHTTPFetcher(&agdhttp.HTTPFetcherConfig{
			Logger: b.baseLogger.With(slogutil.KeyPrefix, "fetcher"),
			Client: agdhttp.NewClient(&agdhttp.ClientConfig{
				Timeout: duration(c.DownloadTimeout),
			}),
			MaxSize: b.env.MaxDownloadSize,
		}),
		Storage:           b.storage,
		Deployer:          b.listener,
		Metrics:           b.syncMetrics,
		Clock:             b.clock,
		Platform:          c.Platform,
		FallbackURL:       c.FallbackURL,
		InitialDelay:      duration(c.InitialDelay),
		CheckInterval:     duration(c.CheckInterval),
		MaxAbsence:        duration(c.MaxAbsence),
		MinRetryInterval:  duration(c.MinRetryInterval),
		DownloadTimeout:   duration(c.DownloadTimeout),
		FallbackThreshold: c.FallbackThreshold,
		AutoUpdate:        c.AutoUpdate,
	})
	if err != nil {
		return fmt.Errorf("synchronizer: %w", err)
	}

	b.debugRefrs[debugIDSynchronizer] = b.syncer

	b.logger.DebugContext(ctx, "initialized synchronizer", "auto_update", c.AutoUpdate)

	return nil
}

// initListener loads the storage and deploys its filters.
//
// The following methods must have been called before this one:
//   - [builder.initEngine]
//   - [builder.initSynchronizer]
func (b *builder) initListener(ctx context.Context) (err error) {
	err = b.listener.Initialize(ctx, b.engine, b.storage)
	if err != nil {
		return fmt.Errorf("filterlistener: %w", err)
	}

	b.debugRefrs[debugIDFlush] = agdservice.RefresherFunc(b.listener.Flush)
	b.sigHdlr.AddService(&flushService{
		flush: b.listener.Flush,
	})

	b.logger.DebugContext(ctx, "initialized filterlistener")

	return nil
}

// addInitialSubscriptions adds the configured initial subscriptions if the
// storage has none.
//
// The following methods must have been called before this one:
//   - [builder.initListener]
func (b *builder) addInitialSubscriptions(ctx context.Context) (err error) {
	if len(b.storage.Subscriptions()) > 0 {
		return nil
	}

	registry := b.storage.Registry()
	for _, s := range b.conf.Subscriptions.Initial {
		if !b.storage.AddSubscription(ctx, registry.Get(s.URL)) || s.Title == "" {
			continue
		}

		err = b.storage.SetTitle(ctx, s.URL, s.Title)
		if err != nil {
			return fmt.Errorf("setting title of %q: %w", s.URL, err)
		}
	}

	b.logger.DebugContext(
		ctx,
		"added initial subscriptions",
		"num", len(b.conf.Subscriptions.Initial),
	)

	return nil
}

// startSynchronizer starts the scheduled checks of the synchronizer.
//
// The following methods must have been called before this one:
//   - [builder.addInitialSubscriptions]
func (b *builder) startSynchronizer(ctx context.Context) (err error) {
	err = b.syncer.Start(ctx)
	if err != nil {
		return fmt.Errorf("starting synchronizer: %w", err)
	}

	b.sigHdlr.AddService(b.syncer)

	return nil
}

// initDebugSvc initializes and starts the debug HTTP service.
//
// The following methods must have been called before this one:
//   - [builder.initEngine]
//   - [builder.initListener]
//   - [builder.startSynchronizer]
func (b *builder) initDebugSvc(ctx context.Context) (err error) {
	addr := b.env.debugAddr()
	debugSvc := debugsvc.New(&debugsvc.Config{
		Logger:         b.baseLogger.With(slogutil.KeyPrefix, "debugsvc"),
		Refreshers:     b.debugRefrs,
		CacheManager:   b.cacheManager,
		Matcher:        b.matcher,
		APIAddr:        addr,
		PprofAddr:      addr,
		PrometheusAddr: addr,
	})

	err = debugSvc.Start(context.WithoutCancel(ctx))
	if err != nil {
		return fmt.Errorf("starting debug service: %w", err)
	}

	b.sigHdlr.AddService(debugSvc)

	b.logger.DebugContext(
		ctx,
		"initialized debug",
		"addr", addr,
		"refr_ids", slices.Sorted(maps.Keys(b.debugRefrs)),
	)

	return nil
}

// handleSignals blocks and processes signals from the OS.  status is
// [osutil.ExitCodeSuccess] on success and [osutil.ExitCodeFailure] on error.
//
// handleSignals must not be called concurrently with any other methods.
func (b *builder) handleSignals(ctx context.Context) (code osutil.ExitCode) {
	b.logger.DebugContext(ctx, "cache manager initialized", "ids", b.cacheManager.IDs())

	return b.sigHdlr.Handle(ctx)
}

// flushService is a [service.Interface] that saves the unsaved changes of the
// storage on shutdown.
type flushService struct {
	flush func(ctx context.Context) (err error)
}

// type check
var _ service.Interface = (*flushService)(nil)

// Start implements the [service.Interface] interface for *flushService.
func (*flushService) Start(_ context.Context) (err error) { return nil }

// Shutdown implements the [service.Interface] interface for *flushService.
func (s *flushService) Shutdown(ctx context.Context) (err error) {
	err = s.flush(ctx)
	if err != nil {
		return fmt.Errorf("flushing storage: %w", err)
	}

	return nil
}
