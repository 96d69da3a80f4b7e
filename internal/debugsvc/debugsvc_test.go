package debugsvc_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AdguardTeam/FilterSync/internal/agdcache"
	"github.com/AdguardTeam/FilterSync/internal/agdtest"
	"github.com/AdguardTeam/FilterSync/internal/debugsvc"
	"github.com/AdguardTeam/FilterSync/internal/matcher"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testTimeout is a common timeout for tests.
const testTimeout = 1 * time.Second

// testAddr is the address of the service in tests.
const testAddr = "127.0.0.1:18082"

// testCacheID is the ID of the cache in tests.
const testCacheID = "test/cache"

func TestService_Start(t *testing.T) {
	var refreshed atomic.Bool

	cache := agdcache.NewLRU[string, int](&agdcache.LRUConfig{
		Size: 10,
	})
	cache.Set("key", 1)

	cacheMgr := agdcache.NewManager()
	cacheMgr.Add(testCacheID, cache)

	c := &debugsvc.Config{
		Logger: slogutil.NewDiscardLogger(),
		Refreshers: debugsvc.Refreshers{
			"test": &agdtest.Refresher{
				OnRefresh: func(_ context.Context) (err error) {
					refreshed.Store(true)

					return nil
				},
			},
		},
		CacheManager: cacheMgr,
		Matcher: &agdtest.HostMatcher{
			OnMatchHost: func(_ context.Context, host string) (res *matcher.Result, err error) {
				if host != "ads.example" {
					return nil, nil
				}

				return &matcher.Result{
					FilterText: "||ads.example^",
				}, nil
			},
		},
		APIAddr:        testAddr,
		PprofAddr:      testAddr,
		PrometheusAddr: testAddr,
	}

	svc := debugsvc.New(c)
	require.NotNil(t, svc)

	err := svc.Start(testutil.ContextWithTimeout(t, testTimeout))
	require.NoError(t, err)
	testutil.CleanupAndRequireSuccess(t, func() (err error) {
		return svc.Shutdown(testutil.ContextWithTimeout(t, testTimeout))
	})

	client := &http.Client{
		Timeout: 2 * time.Second,
	}

	var resp *http.Response
	require.Eventually(t, func() (ok bool) {
		resp, err = client.Get(fmt.Sprintf("http://%s/health-check", testAddr))

		return err == nil
	}, testTimeout, testTimeout/10)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK\n", readRespBody(t, resp))

	t.Run("pprof", func(t *testing.T) {
		resp, err = client.Get(fmt.Sprintf("http://%s/debug/pprof/", testAddr))
		require.NoError(t, err)

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.NotEmpty(t, readRespBody(t, resp))
	})

	t.Run("metrics", func(t *testing.T) {
		resp, err = client.Get(fmt.Sprintf("http://%s/metrics", testAddr))
		require.NoError(t, err)

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.NotEmpty(t, readRespBody(t, resp))
	})

	t.Run("refresh", func(t *testing.T) {
		resp = post(t, client, debugsvc.PathPatternDebugAPIRefresh, `{"ids":["*"]}`)

		assert.True(t, refreshed.Load())
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, `{"results":{"test":"ok"}}`+"\n", readRespBody(t, resp))
	})

	t.Run("refresh_bad_ids", func(t *testing.T) {
		resp = post(t, client, debugsvc.PathPatternDebugAPIRefresh, `{"ids":["*","test"]}`)

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("cache", func(t *testing.T) {
		resp = post(
			t,
			client,
			debugsvc.PathPatternDebugAPICache,
			`{"ids":["`+testCacheID+`","none"]}`,
		)

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(
			t,
			`{"results":{"none":"error: cache not found","test/cache":"ok"}}`+"\n",
			readRespBody(t, resp),
		)
		assert.Zero(t, cache.Len())
	})

	t.Run("match", func(t *testing.T) {
		resp, err = client.Get(fmt.Sprintf(
			"http://%s%s?host=ads.example",
			testAddr,
			debugsvc.PathPatternDebugAPIMatch,
		))
		require.NoError(t, err)

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(
			t,
			`{"filter":"||ads.example^","matched":true,"allowed":false}`+"\n",
			readRespBody(t, resp),
		)
	})

	t.Run("match_none", func(t *testing.T) {
		resp, err = client.Get(fmt.Sprintf(
			"http://%s%s?host=example.org",
			testAddr,
			debugsvc.PathPatternDebugAPIMatch,
		))
		require.NoError(t, err)

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, `{"matched":false,"allowed":false}`+"\n", readRespBody(t, resp))
	})
}

// post is a helper that sends a JSON POST request with body to the path on the
// test address.
func post(tb testing.TB, client *http.Client, path, body string) (resp *http.Response) {
	tb.Helper()

	u := fmt.Sprintf("http://%s%s", testAddr, path)
	resp, err := client.Post(u, "application/json", strings.NewReader(body))
	require.NoError(tb, err)

	return resp
}

// readRespBody is a helper function that reads and returns body from response.
func readRespBody(tb testing.TB, resp *http.Response) (body string) {
	tb.Helper()

	b, err := io.ReadAll(resp.Body)
	require.NoError(tb, err)
	require.NoError(tb, resp.Body.Close())

	return string(b)
}
