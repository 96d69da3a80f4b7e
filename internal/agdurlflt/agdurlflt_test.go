package agdurlflt_test

import (
	"strings"
	"testing"

	"github.com/AdguardTeam/FilterSync/internal/agdurlflt"
	"github.com/AdguardTeam/urlfilter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testRulesStrs are the common filtering rules for tests.
var testRulesStrs = []string{
	agdurlflt.HostRule("blocked.example", false),
	agdurlflt.HostRule("allowed.blocked.example", true),
}

// testRulesData is the data of [testRulesStrs] as bytes.
var testRulesData = []byte(strings.Join(testRulesStrs, "\n") + "\n")

func TestRulesToBytes(t *testing.T) {
	t.Parallel()

	assert.Equal(t, testRulesData, agdurlflt.RulesToBytes(testRulesStrs))
	assert.Nil(t, agdurlflt.RulesToBytes([]string{}))
}

func TestNewDNSEngine(t *testing.T) {
	t.Parallel()

	eng, err := agdurlflt.NewDNSEngine(testRulesStrs)
	require.NoError(t, err)

	testCases := []struct {
		name        string
		host        string
		wantRule    string
		wantMatched bool
	}{{
		name:        "blocked",
		host:        "blocked.example",
		wantRule:    "||blocked.example^",
		wantMatched: true,
	}, {
		name:        "subdomain",
		host:        "sub.blocked.example",
		wantRule:    "||blocked.example^",
		wantMatched: true,
	}, {
		name:        "allowed",
		host:        "allowed.blocked.example",
		wantRule:    "@@||allowed.blocked.example^",
		wantMatched: true,
	}, {
		name:        "none",
		host:        "other.example",
		wantRule:    "",
		wantMatched: false,
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			res := &urlfilter.DNSResult{}
			matched := eng.MatchRequestInto(&urlfilter.DNSRequest{Hostname: tc.host}, res)
			require.Equal(t, tc.wantMatched, matched)

			if !tc.wantMatched {
				return
			}

			require.NotNil(t, res.NetworkRule)
			assert.Equal(t, tc.wantRule, res.NetworkRule.Text())
		})
	}
}

func BenchmarkRulesToBytes(b *testing.B) {
	var got []byte

	b.ReportAllocs()
	for b.Loop() {
		got = agdurlflt.RulesToBytes(testRulesStrs)
	}

	require.Equal(b, testRulesData, got)
}
