package synchronizer_test

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AdguardTeam/FilterSync/internal/agdhttp"
	"github.com/AdguardTeam/FilterSync/internal/agdtest"
	"github.com/AdguardTeam/FilterSync/internal/dnr"
	"github.com/AdguardTeam/FilterSync/internal/notify"
	"github.com/AdguardTeam/FilterSync/internal/storage"
	"github.com/AdguardTeam/FilterSync/internal/subscription"
	"github.com/AdguardTeam/FilterSync/internal/synchronizer"
	"github.com/AdguardTeam/FilterSync/internal/version"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/testutil"
	"github.com/AdguardTeam/golibs/testutil/faketime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testTimeout is the common timeout for tests.
const testTimeout = 1 * time.Second

// Common URLs for tests.
const (
	testURL         = "https://list.example/list.txt"
	testNewURL      = "https://new.example/list.txt"
	testFallbackURL = "https://fallback.example/?s=%SUBSCRIPTION%&e=%ERROR%&c=%RESPONSESTATUS%"
)

// testList is the common filter list for tests.
const testList = "[Adblock Plus 2.0]\n! Title: Test List\n||a.example^\n||b.example^\n"

// testNow is the common initial time for tests.
var testNow = time.Unix(1_700_000_000, 0)

// testClock is a fake clock that can be moved forward.
type testClock struct {
	nanos atomic.Int64
}

// newTestClock returns a new *testClock set to [testNow] and the fake clock
// reading it.
func newTestClock() (tc *testClock, c *faketime.Clock) {
	tc = &testClock{}
	tc.nanos.Store(testNow.UnixNano())

	return tc, &faketime.Clock{
		OnNow: func() (now time.Time) { return time.Unix(0, tc.nanos.Load()) },
	}
}

// advance moves the clock forward by d.
func (tc *testClock) advance(d time.Duration) {
	tc.nanos.Add(int64(d))
}

// testEnv is the common environment for synchronizer tests.
type testEnv struct {
	storage *storage.Default
	sync    *synchronizer.Synchronizer
	clock   *testClock
}

// newTestEnv returns a new environment with a single listed subscription with
// subURL.  conf is modified to use the environment's storage and clock.
func newTestEnv(
	tb testing.TB,
	subURL string,
	conf *synchronizer.Config,
) (env *testEnv) {
	tb.Helper()

	tc, clock := newTestClock()
	strg := storage.New(&storage.Config{
		Logger:     slogutil.NewDiscardLogger(),
		Backend:    storage.EmptyBackend{},
		Registry:   subscription.NewRegistry(&subscription.RegistryConfig{}),
		Dispatcher: notify.NewDispatcher(),
		ErrColl:    agdtest.NewErrorCollectorRequireNoCalls(tb),
		Metrics:    storage.EmptyMetrics{},
		Clock:      clock,
	})

	ctx := testutil.ContextWithTimeout(tb, testTimeout)
	require.True(tb, strg.AddSubscription(ctx, strg.Registry().Get(subURL)))

	conf.Logger = slogutil.NewDiscardLogger()
	conf.ErrColl = agdtest.NewErrorCollectorRequireNoCalls(tb)
	conf.Storage = strg
	conf.Metrics = synchronizer.EmptyMetrics{}
	conf.Clock = clock
	conf.Platform = "test"
	conf.InitialDelay = time.Hour
	conf.CheckInterval = time.Hour
	conf.MaxAbsence = synchronizer.DefaultMaxAbsence
	conf.MinRetryInterval = synchronizer.DefaultMinRetryInterval
	conf.DownloadTimeout = testTimeout

	if conf.Deployer == nil {
		conf.Deployer = newDeployer(nil)
	}

	s, err := synchronizer.New(conf)
	require.NoError(tb, err)

	return &testEnv{
		storage: strg,
		sync:    s,
		clock:   tc,
	}
}

// newDeployer returns a deployer that returns err.
func newDeployer(err error) (d *agdtest.Deployer) {
	return &agdtest.Deployer{
		OnApplyUpdate: func(
			_ context.Context,
			_ *subscription.Subscription,
			_ []string,
			_ []string,
		) (applyErr error) {
			return err
		},
	}
}

// newListFetcher returns a fetcher that serves body and counts the calls.
func newListFetcher(body string, calls *atomic.Int64) (f *agdtest.Fetcher) {
	return &agdtest.Fetcher{
		OnFetch: func(
			_ context.Context,
			_ *agdhttp.Request,
		) (resp *agdhttp.Response, err error) {
			calls.Add(1)

			return &agdhttp.Response{
				Body:   []byte(body),
				Status: http.StatusOK,
			}, nil
		},
	}
}

// executeAndWait starts a download of u and waits for it to finish.
func executeAndWait(tb testing.TB, s *synchronizer.Synchronizer, u string, manual bool) {
	tb.Helper()

	ctx := testutil.ContextWithTimeout(tb, testTimeout)
	require.True(tb, s.Execute(ctx, u, manual))

	waitIdle(tb, s, u)
}

// waitIdle waits until u is not being downloaded.
func waitIdle(tb testing.TB, s *synchronizer.Synchronizer, u string) {
	tb.Helper()

	require.Eventually(tb, func() (ok bool) {
		return !s.IsExecuting(u)
	}, testTimeout, testTimeout/100)
}

func TestNew(t *testing.T) {
	t.Parallel()

	_, err := synchronizer.New(&synchronizer.Config{})
	assert.ErrorIs(t, err, synchronizer.ErrNoStorage)
}

func TestSynchronizer_Execute_full(t *testing.T) {
	t.Parallel()

	var reqs []*agdhttp.Request
	var deployed []string
	env := newTestEnv(t, testURL, &synchronizer.Config{
		Fetcher: &agdtest.Fetcher{
			OnFetch: func(
				_ context.Context,
				req *agdhttp.Request,
			) (resp *agdhttp.Response, err error) {
				reqs = append(reqs, req)

				return &agdhttp.Response{
					Body:   []byte(testList),
					Status: http.StatusOK,
				}, nil
			},
		},
		Deployer: &agdtest.Deployer{
			OnApplyUpdate: func(
				_ context.Context,
				_ *subscription.Subscription,
				added []string,
				removed []string,
			) (err error) {
				deployed = append(deployed, added...)
				assert.Empty(t, removed)

				return nil
			},
		},
	})

	executeAndWait(t, env.sync, testURL, true)

	require.Len(t, reqs, 1)

	req := reqs[0]
	assert.Equal(t, http.MethodGet, req.Method)
	assert.Equal(t, "list.example", req.URL.Host)

	q := req.URL.Query()
	assert.Equal(t, version.Name(), q.Get("addonName"))
	assert.Equal(t, version.Version(), q.Get("addonVersion"))
	assert.Equal(t, "test", q.Get("platform"))
	assert.Equal(t, "0", q.Get("lastVersion"))
	assert.Equal(t, "false", q.Get("disabled"))
	assert.Equal(t, "0", q.Get("downloadCount"))

	sub, ok := env.storage.Subscription(testURL)
	require.True(t, ok)

	wantFilters := []string{"||a.example^", "||b.example^"}
	assert.Equal(t, wantFilters, deployed)
	assert.Equal(t, wantFilters, sub.Filters())

	info := sub.Info()
	assert.Equal(t, subscription.StatusOK, info.Status)
	assert.Equal(t, "Test List", info.Title)
	assert.Equal(t, 1, info.DownloadCount)
	assert.Zero(t, info.Errors)
	assert.True(t, info.SoftExpiration.After(testNow))
}

func TestSynchronizer_Execute_inFlight(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	unblock := make(chan struct{})
	env := newTestEnv(t, testURL, &synchronizer.Config{
		Fetcher: &agdtest.Fetcher{
			OnFetch: func(
				ctx context.Context,
				_ *agdhttp.Request,
			) (resp *agdhttp.Response, err error) {
				calls.Add(1)

				select {
				case <-unblock:
				case <-ctx.Done():
					return nil, ctx.Err()
				}

				return &agdhttp.Response{
					Body:   []byte(testList),
					Status: http.StatusOK,
				}, nil
			},
		},
	})

	ctx := testutil.ContextWithTimeout(t, testTimeout)
	require.True(t, env.sync.Execute(ctx, testURL, false))
	assert.True(t, env.sync.IsExecuting(testURL))

	sub, ok := env.storage.Subscription(testURL)
	require.True(t, ok)

	assert.Equal(t, subscription.StatusDownloading, sub.Info().Status)
	assert.False(t, env.sync.Execute(ctx, testURL, true))

	close(unblock)
	waitIdle(t, env.sync, testURL)

	assert.Equal(t, int64(1), calls.Load())
	assert.Equal(t, subscription.StatusOK, sub.Info().Status)

	assert.False(t, env.sync.Execute(ctx, "https://unknown.example/list.txt", true))
}

func TestSynchronizer_Refresh(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	env := newTestEnv(t, testURL, &synchronizer.Config{
		Fetcher:    newListFetcher(testList, &calls),
		AutoUpdate: true,
	})

	sub, ok := env.storage.Subscription(testURL)
	require.True(t, ok)

	ctx := testutil.ContextWithTimeout(t, testTimeout)
	env.storage.CommitHeadSuccess(ctx, sub, subscription.Expiration{
		Soft: testNow.Add(1 * time.Hour),
		Hard: testNow.Add(2 * time.Hour),
	})

	require.NoError(t, env.sync.Refresh(ctx))
	waitIdle(t, env.sync, testURL)

	assert.Zero(t, calls.Load())
	assert.True(t, testNow.Equal(sub.Info().LastCheck))

	// Past the soft expiration, before the hard one.
	env.clock.advance(90 * time.Minute)

	require.NoError(t, env.sync.Refresh(ctx))
	waitIdle(t, env.sync, testURL)

	assert.Equal(t, int64(1), calls.Load())
	assert.Equal(t, []string{"||a.example^", "||b.example^"}, sub.Filters())
}

func TestSynchronizer_Refresh_disabled(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	env := newTestEnv(t, testURL, &synchronizer.Config{
		Fetcher:    newListFetcher(testList, &calls),
		AutoUpdate: false,
	})

	ctx := testutil.ContextWithTimeout(t, testTimeout)
	require.NoError(t, env.sync.Refresh(ctx))

	assert.False(t, env.sync.IsExecuting(testURL))
	assert.Zero(t, calls.Load())

	for range env.sync.Downloadables() {
		t.Error("unexpected downloadable")
	}
}

func TestSynchronizer_Execute_tooManyFilters(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	env := newTestEnv(t, testURL, &synchronizer.Config{
		Fetcher:  newListFetcher(testList, &calls),
		Deployer: newDeployer(dnr.ErrTooManyRules),
	})

	sub, ok := env.storage.Subscription(testURL)
	require.True(t, ok)

	sub.ReplaceFilters([]string{"||old.example^"})

	executeAndWait(t, env.sync, testURL, false)

	info := sub.Info()
	assert.Equal(t, subscription.StatusTooManyFilters, info.Status)
	assert.Empty(t, info.Title)
	assert.Zero(t, info.DownloadCount)
	assert.Equal(t, []string{"||old.example^"}, sub.Filters())
}

func TestSynchronizer_Execute_redirect(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	env := newTestEnv(t, testURL, &synchronizer.Config{
		Fetcher: newListFetcher(
			"[Adblock Plus 2.0]\n! Redirect: "+testNewURL+"\n||a.example^\n",
			&calls,
		),
	})

	executeAndWait(t, env.sync, testURL, false)

	_, ok := env.storage.Subscription(testURL)
	assert.False(t, ok)

	moved, ok := env.storage.Subscription(testNewURL)
	require.True(t, ok)

	assert.Empty(t, moved.Filters())
}

func TestSynchronizer_Execute_dataURL(t *testing.T) {
	t.Parallel()

	u := agdhttp.EncodeDataURL("[Adblock]\n||a.example^")
	env := newTestEnv(t, u, &synchronizer.Config{
		Fetcher: &agdtest.Fetcher{
			OnFetch: func(
				_ context.Context,
				req *agdhttp.Request,
			) (resp *agdhttp.Response, err error) {
				panic(testutil.UnexpectedCall(req))
			},
		},
	})

	executeAndWait(t, env.sync, u, false)

	sub, ok := env.storage.Subscription(u)
	require.True(t, ok)

	assert.Equal(t, []string{"||a.example^"}, sub.Filters())
	assert.Equal(t, subscription.StatusOK, sub.Info().Status)
}

func TestSynchronizer_Execute_fallback(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		answer     string
		wantURL    string
		name       string
		wantMoved  bool
		wantFilter bool
	}{{
		answer:    "200",
		wantURL:   testURL,
		name:      "ignored",
		wantMoved: false,
	}, {
		answer:    "301 " + testNewURL,
		wantURL:   testNewURL,
		name:      "moved",
		wantMoved: true,
	}, {
		answer:     "410",
		wantURL:    agdhttp.EncodeDataURL("[Adblock]\n||a.example^"),
		name:       "gone",
		wantMoved:  true,
		wantFilter: true,
	}, {
		answer:    "garbage",
		wantURL:   testURL,
		name:      "bad_answer",
		wantMoved: false,
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var fallbackReqs []*agdhttp.Request
			env := newTestEnv(t, testURL, &synchronizer.Config{
				Fetcher: &agdtest.Fetcher{
					OnFetch: func(
						_ context.Context,
						req *agdhttp.Request,
					) (resp *agdhttp.Response, err error) {
						if req.URL.Host != "fallback.example" {
							return &agdhttp.Response{Status: http.StatusInternalServerError}, nil
						}

						fallbackReqs = append(fallbackReqs, req)

						return &agdhttp.Response{
							Body:   []byte(tc.answer + "\n"),
							Status: http.StatusOK,
						}, nil
					},
				},
				FallbackURL:       testFallbackURL,
				FallbackThreshold: 3,
			})

			sub, ok := env.storage.Subscription(testURL)
			require.True(t, ok)

			sub.ReplaceFilters([]string{"||a.example^"})

			for range 2 {
				executeAndWait(t, env.sync, testURL, false)
			}

			// Manual failures don't count.
			executeAndWait(t, env.sync, testURL, true)
			assert.Empty(t, fallbackReqs)
			assert.Equal(t, 2, sub.Info().Errors)

			executeAndWait(t, env.sync, testURL, false)
			require.Len(t, fallbackReqs, 1)

			q := fallbackReqs[0].URL.Query()
			assert.Equal(t, testURL, q.Get("s"))
			assert.Equal(t, string(subscription.StatusConnectionError), q.Get("e"))
			assert.Equal(t, "500", q.Get("c"))

			_, ok = env.storage.Subscription(testURL)
			assert.Equal(t, !tc.wantMoved, ok)

			moved, ok := env.storage.Subscription(tc.wantURL)
			require.True(t, ok)

			if tc.wantFilter {
				executeAndWait(t, env.sync, tc.wantURL, false)
				assert.Equal(t, []string{"||a.example^"}, moved.Filters())
			}

			if tc.wantMoved {
				return
			}

			// The counter is reset after the fallback request.
			assert.Zero(t, sub.Info().Errors)
			for range 3 {
				executeAndWait(t, env.sync, testURL, false)
			}

			assert.Len(t, fallbackReqs, 2)
		})
	}
}

func TestExpandFallbackURL(t *testing.T) {
	t.Parallel()

	got := synchronizer.ExpandFallbackURL(
		"https://fallback.example/?v=%VERSION%&s=%SUBSCRIPTION%&u=%URL%&e=%ERROR%&c=%RESPONSESTATUS%",
		testURL,
		testURL+"?a=1",
		subscription.StatusInvalidData,
		404,
	)

	want := "https://fallback.example/?v=" + version.Version() +
		"&s=https%3A%2F%2Flist.example%2Flist.txt" +
		"&u=https%3A%2F%2Flist.example%2Flist.txt%3Fa%3D1" +
		"&e=synchronize_invalid_data" +
		"&c=404"
	assert.Equal(t, want, got)
}

func TestSynchronizer_HandleEvent(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	env := newTestEnv(t, testURL, &synchronizer.Config{
		Fetcher: newListFetcher(testList, &calls),
	})

	ctx := testutil.ContextWithTimeout(t, testTimeout)
	env.sync.HandleEvent(ctx, &notify.Event{
		Kind:            notify.KindSubscriptionDisabled,
		SubscriptionURL: testURL,
		Disabled:        true,
	})
	assert.False(t, env.sync.IsExecuting(testURL))

	env.sync.HandleEvent(ctx, &notify.Event{
		Kind:            notify.KindSubscriptionAdded,
		SubscriptionURL: testURL,
	})
	waitIdle(t, env.sync, testURL)
	assert.Equal(t, int64(1), calls.Load())

	// Already downloaded.
	env.sync.HandleEvent(ctx, &notify.Event{
		Kind:            notify.KindSubscriptionAdded,
		SubscriptionURL: testURL,
	})
	assert.False(t, env.sync.IsExecuting(testURL))
	assert.Equal(t, int64(1), calls.Load())
}
