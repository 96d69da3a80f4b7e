package subscription_test

import (
	"net/http"
	"testing"
	"time"

	"github.com/AdguardTeam/FilterSync/internal/subscription"
	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testURL is the common subscription URL for tests.
const testURL = "https://list.example/list.txt"

// testNow is the common current time for tests.
var testNow = time.Unix(1_700_000_000, 0)

// newTestRegistry returns a new empty registry for tests.
func newTestRegistry() (r *subscription.Registry) {
	return subscription.NewRegistry(&subscription.RegistryConfig{
		Countable:  []string{"https://countable.example/list.txt"},
		Privileged: []string{"https://privileged.example/list.txt"},
	})
}

// mustParseList parses text or fails the test.
func mustParseList(tb testing.TB, text string) (l *subscription.List) {
	tb.Helper()

	l, err := subscription.ParseList(text)
	require.NoError(tb, err)

	return l
}

func TestSubscription_ApplyFullUpdate(t *testing.T) {
	t.Parallel()

	sub := newTestRegistry().Get(testURL)
	exp := subscription.NewExpiration(testNow, subscription.DefaultExpiration, 0)

	l := mustParseList(t, "[Adblock Plus 2.0]\n"+
		"! Title: List\n"+
		"! Version: 7\n"+
		"! Homepage: javascript:alert(1)\n"+
		"||a.example^\n"+
		"||b.example^\n"+
		"||a.example^\n")

	added, removed := sub.ApplyFullUpdate(l, testNow, exp)
	assert.Equal(t, []string{"||a.example^", "||b.example^"}, added)
	assert.Empty(t, removed)

	info := sub.Info()
	assert.Equal(t, subscription.StatusOK, info.Status)
	assert.Equal(t, "List", info.Title)
	assert.True(t, info.FixedTitle)
	assert.Empty(t, info.Homepage)
	assert.Equal(t, int64(7), info.Version)
	assert.Equal(t, 2, info.FilterCount)
	assert.Equal(t, 1, info.DownloadCount)
	assert.Equal(t, testNow, info.LastSuccess)
	assert.Equal(t, exp.Soft, info.SoftExpiration)
	assert.Equal(t, exp.Hard, info.HardExpiration)

	t.Run("idempotent", func(t *testing.T) {
		added, removed = sub.ApplyFullUpdate(l, testNow, exp)
		assert.Empty(t, added)
		assert.Empty(t, removed)

		assert.Equal(t, []string{"||a.example^", "||b.example^"}, sub.Filters())
		assert.Equal(t, int64(7), sub.Info().Version)
	})

	t.Run("changed", func(t *testing.T) {
		next := mustParseList(t, "[Adblock Plus 2.0]\n||b.example^\n||c.example^\n")

		added, removed = sub.ApplyFullUpdate(next, testNow, exp)
		assert.Equal(t, []string{"||c.example^"}, added)
		assert.Equal(t, []string{"||a.example^"}, removed)

		info = sub.Info()
		assert.False(t, info.FixedTitle)
		assert.Equal(t, "List", info.Title)
		assert.Zero(t, info.Version)
	})

	t.Run("diff_url", func(t *testing.T) {
		next := mustParseList(t, "[Adblock Plus 2.0]\n! Diff-URL: https://list.example/diff.json\n")

		sub.ApplyFullUpdate(next, testNow, exp)

		info = sub.Info()
		assert.Equal(t, "https://list.example/diff.json", info.DiffURL())
	})
}

func TestSubscription_ApplyDiffUpdate(t *testing.T) {
	t.Parallel()

	sub := newTestRegistry().Get(testURL)
	exp := subscription.NewExpiration(testNow, subscription.DefaultExpiration, 0)
	sub.ApplyFullUpdate(mustParseList(t, "[Adblock]\n||a.example^\n||b.example^\n"), testNow, exp)

	d := &subscription.Diff{
		Added:   []string{"||c.example^", "||a.example^"},
		Removed: []string{"||b.example^", "||missing.example^"},
	}

	added, removed := sub.ApplyDiffUpdate(d, testNow, exp)
	assert.Equal(t, []string{"||c.example^"}, added)
	assert.Equal(t, []string{"||b.example^"}, removed)
	assert.Equal(t, []string{"||a.example^", "||c.example^"}, sub.Filters())

	added, removed = sub.ApplyDiffUpdate(d, testNow, exp)
	assert.Empty(t, added)
	assert.Empty(t, removed)
	assert.Equal(t, []string{"||a.example^", "||c.example^"}, sub.Filters())
}

func TestSubscription_ApplyDownloadFailure(t *testing.T) {
	t.Parallel()

	const threshold = 3

	t.Run("fallback", func(t *testing.T) {
		t.Parallel()

		sub := newTestRegistry().Get(testURL)

		var fallbacks []int
		for i := range 7 {
			if sub.ApplyDownloadFailure(subscription.StatusConnectionError, false, threshold, testNow) {
				fallbacks = append(fallbacks, i+1)
			}
		}

		assert.Equal(t, []int{3, 6}, fallbacks)

		info := sub.Info()
		assert.Equal(t, 1, info.Errors)
		assert.Equal(t, subscription.StatusConnectionError, info.Status)
		assert.Equal(t, testNow, info.LastDownload)
	})

	t.Run("manual", func(t *testing.T) {
		t.Parallel()

		sub := newTestRegistry().Get(testURL)
		for range threshold * 2 {
			assert.False(t, sub.ApplyDownloadFailure(subscription.StatusInvalidData, true, threshold, testNow))
		}

		assert.Zero(t, sub.Info().Errors)
	})

	t.Run("not_http", func(t *testing.T) {
		t.Parallel()

		sub := newTestRegistry().Get("data:text/plain,%5BAdblock%5D")
		for range threshold * 2 {
			assert.False(t, sub.ApplyDownloadFailure(subscription.StatusInvalidData, false, threshold, testNow))
		}
	})

	t.Run("success_resets", func(t *testing.T) {
		t.Parallel()

		sub := newTestRegistry().Get(testURL)
		sub.ApplyDownloadFailure(subscription.StatusConnectionError, false, threshold, testNow)
		sub.ApplyDownloadFailure(subscription.StatusConnectionError, false, threshold, testNow)
		sub.ApplyHeadSuccess(testNow, subscription.NewExpiration(testNow, timeutil.Day, 0))

		assert.False(t, sub.ApplyDownloadFailure(subscription.StatusConnectionError, false, threshold, testNow))
		assert.Equal(t, 1, sub.Info().Errors)
	})
}

func TestSubscription_Downloadable(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry()
	exp := subscription.NewExpiration(testNow, subscription.DefaultExpiration, 0)

	full := reg.Get(testURL)

	disabled := reg.Get("https://disabled.example/list.txt")
	disabled.SetDisabled(true)

	diff := reg.Get("https://diff.example/list.txt")
	diff.ApplyFullUpdate(
		mustParseList(t, "[Adblock]\n! Diff-URL: https://diff.example/diff.json\n"),
		testNow,
		exp,
	)

	failed := reg.Get("https://failed.example/list.txt")
	failed.ApplyDownloadFailure(subscription.StatusConnectionError, false, 0, testNow)

	testCases := []struct {
		sub        *subscription.Subscription
		name       string
		wantURL    string
		wantMethod string
		wantDiff   bool
	}{{
		sub:        full,
		name:       "full",
		wantURL:    testURL,
		wantMethod: http.MethodGet,
		wantDiff:   false,
	}, {
		sub:        disabled,
		name:       "disabled",
		wantURL:    "https://disabled.example/list.txt",
		wantMethod: http.MethodHead,
		wantDiff:   false,
	}, {
		sub:        reg.Get("https://countable.example/list.txt"),
		name:       "countable",
		wantURL:    "https://countable.example/list.txt",
		wantMethod: http.MethodHead,
		wantDiff:   false,
	}, {
		sub:        diff,
		name:       "diff",
		wantURL:    "https://diff.example/diff.json",
		wantMethod: http.MethodGet,
		wantDiff:   true,
	}, {
		sub:        failed,
		name:       "failed",
		wantURL:    "https://failed.example/list.txt",
		wantMethod: http.MethodGet,
		wantDiff:   false,
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			d := tc.sub.Downloadable(true)
			require.NotNil(t, d)

			assert.Equal(t, tc.sub.URL(), d.URL)
			assert.Equal(t, tc.wantURL, d.RedirectURL)
			assert.Equal(t, tc.wantMethod, d.Method)
			assert.Equal(t, tc.wantDiff, d.IsDiff)
			assert.True(t, d.Manual)
		})
	}

	t.Run("last_error", func(t *testing.T) {
		t.Parallel()

		assert.Equal(t, testNow, failed.Downloadable(false).LastError)
		assert.True(t, diff.Downloadable(false).LastError.IsZero())
	})

	t.Run("special", func(t *testing.T) {
		t.Parallel()

		assert.Nil(t, reg.NewSpecial().Downloadable(false))
	})
}

func TestSubscription_MarkChecked(t *testing.T) {
	t.Parallel()

	const maxAbsence = 1 * timeutil.Day

	sub := newTestRegistry().Get(testURL)
	exp := subscription.NewExpiration(testNow, subscription.DefaultExpiration, 0)
	sub.ApplyHeadSuccess(testNow, exp)

	sub.MarkChecked(testNow, maxAbsence)
	assert.Equal(t, exp.Soft, sub.Info().SoftExpiration)

	later := testNow.Add(time.Hour)
	sub.MarkChecked(later, maxAbsence)
	assert.Equal(t, exp.Soft, sub.Info().SoftExpiration)

	gap := 3 * timeutil.Day
	sub.MarkChecked(later.Add(gap), maxAbsence)

	info := sub.Info()
	assert.Equal(t, exp.Soft.Add(gap), info.SoftExpiration)
	assert.Equal(t, exp.Hard, info.HardExpiration)
	assert.Equal(t, later.Add(gap), info.LastCheck)
}

func TestSubscription_specialFilters(t *testing.T) {
	t.Parallel()

	sub := newTestRegistry().NewSpecial()
	require.True(t, sub.IsSpecial())
	require.True(t, sub.IsValid())
	require.True(t, sub.Info().Privileged)

	assert.True(t, sub.InsertFilter("||a.example^", -1))
	assert.True(t, sub.InsertFilter("||b.example^", 0))
	assert.False(t, sub.InsertFilter("||a.example^", 0))
	assert.Equal(t, []string{"||b.example^", "||a.example^"}, sub.Filters())

	assert.True(t, sub.DeleteFilter("||b.example^"))
	assert.False(t, sub.DeleteFilter("||b.example^"))
	assert.Equal(t, []string{"||a.example^"}, sub.Filters())
}
