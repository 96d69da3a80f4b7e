package rediskv_test

import (
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/AdguardTeam/FilterSync/internal/storage"
	"github.com/AdguardTeam/FilterSync/internal/storage/rediskv"
	"github.com/AdguardTeam/FilterSync/internal/subscription"
	"github.com/AdguardTeam/golibs/container"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/netutil"
	"github.com/AdguardTeam/golibs/redisutil"
	"github.com/AdguardTeam/golibs/testutil"
	"github.com/gomodule/redigo/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testPortEnvVarName is the environment variable name the presence and value of
// which define whether to run depending tests and on which port Redis server is
// running.
const testPortEnvVarName = "TEST_REDIS_PORT"

// Redis pool configuration constants for common tests.
const (
	testIdleTimeout     = 30 * time.Second
	testMaxConnLifetime = 30 * time.Second
	testTimeout         = 5 * time.Second

	testMaxActive = 10
	testMaxIdle   = 3

	testDBIndex = 15
)

// testKey is the common storage key for tests.
const testKey = "filtersync:storage"

// newIntegrationPool returns a *redisutil.DefaultPool for tests or skips the
// test if [testPortEnvVarName] is not set.  It selects a database at
// [testDBIndex] and flushes it after the test.
func newIntegrationPool(tb testing.TB) (p *redisutil.DefaultPool) {
	tb.Helper()

	portStr := os.Getenv(testPortEnvVarName)
	if portStr == "" {
		tb.Skipf("skipping; %s is not set", testPortEnvVarName)
	}

	port64, err := strconv.ParseUint(portStr, 10, 16)
	require.NoError(tb, err)

	d, err := redisutil.NewDefaultDialer(&redisutil.DefaultDialerConfig{
		Addr: &netutil.HostPort{
			Host: "localhost",
			Port: uint16(port64),
		},
		DBIndex: testDBIndex,
	})
	require.NoError(tb, err)

	testutil.CleanupAndRequireSuccess(tb, func() (cleanupErr error) {
		ctx := testutil.ContextWithTimeout(tb, testTimeout)
		c, cleanupErr := d.DialContext(ctx)
		require.NoError(tb, cleanupErr)
		testutil.CleanupAndRequireSuccess(tb, c.Close)

		okStr, cleanupErr := redis.String(c.Do(redisutil.CmdFLUSHDB, redisutil.ParamSYNC))
		require.NoError(tb, cleanupErr)

		assert.Equal(tb, redisutil.RespOK, okStr)

		return cleanupErr
	})

	p, err = redisutil.NewDefaultPool(&redisutil.DefaultPoolConfig{
		Logger:          slogutil.NewDiscardLogger(),
		Dialer:          d,
		MaxConnLifetime: testMaxConnLifetime,
		IdleTimeout:     testIdleTimeout,
		MaxActive:       testMaxActive,
		MaxIdle:         testMaxIdle,
		Wait:            true,
	})
	require.NoError(tb, err)

	return p
}

// TestBackend requires a Redis server running on 127.0.0.1 and must be run
// with [testPortEnvVarName] set to the port of the server.
func TestBackend(t *testing.T) {
	b := rediskv.New(&rediskv.Config{
		Pool:    newIntegrationPool(t),
		Metrics: rediskv.EmptyMetrics{},
		Key:     testKey,
	})

	ctx := testutil.ContextWithTimeout(t, testTimeout)
	d, err := b.Load(ctx)
	require.NoError(t, err)

	assert.Equal(t, &storage.Data{}, d)

	want := &storage.Data{
		Subscriptions: []*subscription.Record{{
			Fields: container.KeyValues[string, string]{{
				Key:   "url",
				Value: "https://list.example/list.txt",
			}},
			Filters: []string{"||a.example^"},
		}},
	}

	err = b.Save(ctx, want)
	require.NoError(t, err)

	d, err = b.Load(ctx)
	require.NoError(t, err)

	assert.Equal(t, want, d)
}
