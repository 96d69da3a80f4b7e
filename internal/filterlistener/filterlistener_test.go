package filterlistener_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AdguardTeam/FilterSync/internal/agdcache"
	"github.com/AdguardTeam/FilterSync/internal/agdtest"
	"github.com/AdguardTeam/FilterSync/internal/dnr"
	"github.com/AdguardTeam/FilterSync/internal/filterlistener"
	"github.com/AdguardTeam/FilterSync/internal/matcher"
	"github.com/AdguardTeam/FilterSync/internal/notify"
	"github.com/AdguardTeam/FilterSync/internal/storage"
	"github.com/AdguardTeam/FilterSync/internal/subscription"
	"github.com/AdguardTeam/golibs/container"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/testutil"
	"github.com/AdguardTeam/golibs/testutil/faketime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testTimeout is the common timeout for tests.
const testTimeout = 1 * time.Second

// Common subscription URLs for tests.
const (
	testURLA    = "https://a.example/list.txt"
	testURLB    = "https://b.example/list.txt"
	testURLUser = subscription.SpecialPrefix + "1"
)

// testNow is the common current time for tests.
var testNow = time.Unix(1_700_000_000, 0)

// testEnv is the common environment for listener tests.
type testEnv struct {
	listener *filterlistener.Listener
	storage  *storage.Default
	matcher  *matcher.Matcher
	saves    *atomic.Int64
}

// newTestEnv returns an initialized environment with the storage loaded from
// data.  engine may be nil, in which case the matcher is the only engine.
func newTestEnv(
	tb testing.TB,
	data *storage.Data,
	engine func(m *matcher.Matcher) (e filterlistener.Engine),
) (env *testEnv) {
	tb.Helper()

	saves := &atomic.Int64{}
	backend := &agdtest.StorageBackend{
		OnLoad: func(_ context.Context) (d *storage.Data, err error) {
			return data, nil
		},
		OnSave: func(_ context.Context, _ *storage.Data) (err error) {
			saves.Add(1)

			return nil
		},
	}

	l := filterlistener.New(&filterlistener.Config{
		Logger:         slogutil.NewDiscardLogger(),
		ErrColl:        agdtest.NewErrorCollectorRequireNoCalls(tb),
		Metrics:        filterlistener.EmptyMetrics{},
		CacheManager:   agdcache.NewManager(),
		ParseCacheSize: 100,
	})

	strg := storage.New(&storage.Config{
		Logger:     slogutil.NewDiscardLogger(),
		Backend:    backend,
		Registry:   subscription.NewRegistry(&subscription.RegistryConfig{}),
		Dispatcher: notify.NewDispatcher(l),
		ErrColl:    agdtest.NewErrorCollectorRequireNoCalls(tb),
		Metrics:    storage.EmptyMetrics{},
		Clock: &faketime.Clock{
			OnNow: func() (now time.Time) { return testNow },
		},
	})

	m := matcher.New(&matcher.Config{
		Logger:      slogutil.NewDiscardLogger(),
		HitRecorder: strg,
	})

	var e filterlistener.Engine = m
	if engine != nil {
		e = engine(m)
	}

	ctx := testutil.ContextWithTimeout(tb, testTimeout)
	require.NoError(tb, l.Initialize(ctx, e, strg))

	return &testEnv{
		listener: l,
		storage:  strg,
		matcher:  m,
		saves:    saves,
	}
}

// newRecord returns a subscription record with the given fields and filters.
func newRecord(u string, disabled bool, filters ...string) (rec *subscription.Record) {
	rec = &subscription.Record{
		Fields: container.KeyValues[string, string]{{
			Key:   "url",
			Value: u,
		}},
		Filters: filters,
	}

	if disabled {
		rec.Fields = append(rec.Fields, container.KeyValue[string, string]{
			Key:   "disabled",
			Value: "true",
		})
	}

	return rec
}

// addSubscription adds a subscription with u and filters to env.
func (env *testEnv) addSubscription(
	tb testing.TB,
	u string,
	filters ...string,
) (sub *subscription.Subscription) {
	tb.Helper()

	sub = env.storage.Registry().Get(u)
	sub.ReplaceFilters(filters)

	ctx := testutil.ContextWithTimeout(tb, testTimeout)
	require.True(tb, env.storage.AddSubscription(ctx, sub))

	return sub
}

// newDNREngine returns a new declarative rule engine over store.
func newDNREngine(tb testing.TB, store dnr.RuleStore) (e *dnr.Engine) {
	tb.Helper()

	probe := dnr.NewRegexpProbe(agdcache.Empty[string, bool]{}, dnr.DefaultMaxRegexpInsts)

	return dnr.NewEngine(&dnr.EngineConfig{
		Logger:  slogutil.NewDiscardLogger(),
		ErrColl: agdtest.NewErrorCollectorRequireNoCalls(tb),
		Compiler: dnr.NewCompiler(&dnr.CompilerConfig{
			IsRegexSupported: probe.IsSupported,
		}),
		Store:   store,
		Metrics: dnr.EmptyMetrics{},
	})
}

func TestListener_Initialize(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, &storage.Data{
		Subscriptions: []*subscription.Record{
			newRecord(testURLA, false, "||a.example^", "! Comment", "example.com#$#log 1"),
			newRecord(testURLB, true, "||b.example^"),
			newRecord(testURLUser, false, "example.org#$#log 2"),
		},
	}, nil)

	testutil.RequireReceive(t, env.listener.Ready(), testTimeout)

	testCases := []struct {
		text string
		want assert.BoolAssertionFunc
	}{{
		text: "||a.example^",
		want: assert.True,
	}, {
		text: "! Comment",
		want: assert.False,
	}, {
		text: "example.com#$#log 1",
		want: assert.False,
	}, {
		text: "||b.example^",
		want: assert.False,
	}, {
		text: "example.org#$#log 2",
		want: assert.True,
	}}

	for _, tc := range testCases {
		tc.want(t, env.matcher.Has(tc.text), tc.text)
	}

	ctx := testutil.ContextWithTimeout(t, testTimeout)
	err := env.listener.Initialize(ctx, env.matcher, env.storage)
	assert.ErrorIs(t, err, filterlistener.ErrAlreadyInitialized)
	assert.Zero(t, env.saves.Load())
}

func TestListener_HandleEvent_deploySymmetry(t *testing.T) {
	t.Parallel()

	const text = "||x.example^"

	env := newTestEnv(t, &storage.Data{}, nil)
	ctx := testutil.ContextWithTimeout(t, testTimeout)

	env.addSubscription(t, testURLA, text)
	require.True(t, env.matcher.Has(text))

	env.addSubscription(t, testURLB, text, "||y.example^")

	require.NoError(t, env.storage.SetDisabled(ctx, testURLA, true))
	assert.True(t, env.matcher.Has(text))

	require.True(t, env.storage.RemoveSubscription(ctx, testURLB))
	assert.False(t, env.matcher.Has(text))
	assert.False(t, env.matcher.Has("||y.example^"))

	require.NoError(t, env.storage.SetDisabled(ctx, testURLA, false))
	assert.True(t, env.matcher.Has(text))

	require.True(t, env.storage.SetFilterDisabled(ctx, text, testURLA, true))
	assert.False(t, env.matcher.Has(text))

	require.True(t, env.storage.SetFilterDisabled(ctx, text, testURLA, false))
	assert.True(t, env.matcher.Has(text))
}

func TestListener_HandleEvent_userFilters(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, &storage.Data{}, nil)
	ctx := testutil.ContextWithTimeout(t, testTimeout)

	added, err := env.storage.AddFilter(ctx, "example.org#$#log 1", "", -1)
	require.NoError(t, err)
	require.True(t, added)

	assert.True(t, env.matcher.Has("example.org#$#log 1"))

	removed, err := env.storage.RemoveFilter(ctx, "example.org#$#log 1", "")
	require.NoError(t, err)
	require.True(t, removed)

	assert.False(t, env.matcher.Has("example.org#$#log 1"))
}

func TestListener_dirtiness(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, &storage.Data{}, nil)
	ctx := testutil.ContextWithTimeout(t, testTimeout)

	for range 510 {
		env.storage.RecordHit(ctx, "||a.example^")
	}

	assert.Equal(t, int64(1), env.saves.Load())

	// Forced flush of the remaining hits.
	env.storage.ResetHits(ctx)
	assert.Equal(t, int64(2), env.saves.Load())

	// Nothing to flush.
	env.storage.ResetHits(ctx)
	assert.Equal(t, int64(2), env.saves.Load())

	sub := env.addSubscription(t, testURLA, "||a.example^")
	assert.Equal(t, int64(3), env.saves.Load())

	for _, title := range []string{"1", "2", "3", "4"} {
		require.NoError(t, env.storage.SetTitle(ctx, sub.URL(), title))
	}

	assert.Equal(t, int64(3), env.saves.Load())

	require.NoError(t, env.listener.Flush(ctx))
	assert.Equal(t, int64(4), env.saves.Load())

	require.NoError(t, env.listener.Flush(ctx))
	assert.Equal(t, int64(4), env.saves.Load())
}

func TestListener_ApplyUpdate(t *testing.T) {
	t.Parallel()

	store := dnr.NewMemoryStore(2)
	env := newTestEnv(t, &storage.Data{}, func(m *matcher.Matcher) (e filterlistener.Engine) {
		return filterlistener.NewMultiEngine(m, newDNREngine(t, store))
	})

	ctx := testutil.ContextWithTimeout(t, testTimeout)
	sub := env.addSubscription(t, testURLA)

	tooMany := []string{"||a.example^", "||b.example^", "||c.example^"}
	err := env.listener.ApplyUpdate(ctx, sub, tooMany, nil)
	require.ErrorIs(t, err, dnr.ErrTooManyRules)

	rules, err := store.DynamicRules(ctx)
	require.NoError(t, err)

	assert.Empty(t, rules)
	for _, text := range tooMany {
		assert.False(t, env.matcher.Has(text), text)
	}

	err = env.listener.ApplyUpdate(ctx, sub, tooMany[:2], nil)
	require.NoError(t, err)

	rules, err = store.DynamicRules(ctx)
	require.NoError(t, err)

	assert.Len(t, rules, 2)
	assert.True(t, env.matcher.Has("||a.example^"))
	assert.True(t, env.matcher.Has("||b.example^"))

	err = env.listener.ApplyUpdate(ctx, sub, []string{"||c.example^"}, []string{"||a.example^"})
	require.NoError(t, err)

	assert.False(t, env.matcher.Has("||a.example^"))
	assert.True(t, env.matcher.Has("||c.example^"))
}

func TestListener_ApplyUpdate_compile(t *testing.T) {
	t.Parallel()

	store := dnr.NewMemoryStore(dnr.DefaultMaxDynamicRules)
	env := newTestEnv(t, &storage.Data{}, func(_ *matcher.Matcher) (e filterlistener.Engine) {
		return newDNREngine(t, store)
	})

	ctx := testutil.ContextWithTimeout(t, testTimeout)
	sub := env.addSubscription(t, testURLA)

	l, err := subscription.ParseList("[Adblock Plus 2.0]\n/ad.png^$image")
	require.NoError(t, err)

	err = env.listener.ApplyUpdate(ctx, sub, l.Filters, nil)
	require.NoError(t, err)

	env.storage.CommitFullUpdate(ctx, sub, l, subscription.NewExpiration(
		testNow,
		subscription.DefaultExpiration,
		0,
	))

	rules, err := store.DynamicRules(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 1)

	r := rules[0]
	assert.Equal(t, dnr.ActionTypeBlock, r.Action.Type)
	assert.Equal(t, "/ad.png^", r.Condition.URLFilter)
	assert.Contains(t, r.Condition.ResourceTypes, dnr.ResourceTypeImage)
}
