package dnr_test

import (
	"testing"

	"github.com/AdguardTeam/FilterSync/internal/agdcache"
	"github.com/AdguardTeam/FilterSync/internal/dnr"
	"github.com/AdguardTeam/FilterSync/internal/filter"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/testutil"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newCompiler returns a compiler with the default regular-expression probe and
// a small cache.
func newCompiler(tb testing.TB, modify dnr.ModifyRuleFunc) (c *dnr.Compiler) {
	tb.Helper()

	probe := dnr.NewRegexpProbe(agdcache.NewLRU[string, bool](&agdcache.LRUConfig{
		Size: 100,
	}), 0)

	return dnr.NewCompiler(&dnr.CompilerConfig{
		IsRegexSupported: probe.IsSupported,
		ModifyRule:       modify,
		CacheManager:     agdcache.NewManager(),
		CacheSize:        100,
	})
}

// boolPtr returns a pointer to v.
func boolPtr(v bool) (p *bool) {
	return &v
}

func TestCompiler_Compile(t *testing.T) {
	t.Parallel()

	c := newCompiler(t, nil)

	testCases := []struct {
		name string
		text string
		want []*dnr.Rule
	}{{
		name: "image",
		text: "/ad.png^$image",
		want: []*dnr.Rule{{
			Priority: dnr.PriorityGeneric,
			Action:   dnr.Action{Type: dnr.ActionTypeBlock},
			Condition: dnr.Condition{
				IsURLFilterCaseSensitive: boolPtr(false),
				URLFilter:                "/ad.png^",
				ResourceTypes:            []dnr.ResourceType{dnr.ResourceTypeImage},
			},
		}},
	}, {
		name: "hostname_lowercased",
		text: "||Example.ORG^",
		want: []*dnr.Rule{{
			Priority: dnr.PriorityGeneric,
			Action:   dnr.Action{Type: dnr.ActionTypeBlock},
			Condition: dnr.Condition{
				IsURLFilterCaseSensitive: boolPtr(false),
				URLFilter:                "||example.org^",
			},
		}},
	}, {
		name: "match_case",
		text: "||Example.org/Ad.png$image,match-case",
		want: []*dnr.Rule{{
			Priority: dnr.PriorityGeneric,
			Action:   dnr.Action{Type: dnr.ActionTypeBlock},
			Condition: dnr.Condition{
				IsURLFilterCaseSensitive: boolPtr(true),
				URLFilter:                "||example.org/Ad.png",
				ResourceTypes:            []dnr.ResourceType{dnr.ResourceTypeImage},
			},
		}},
	}, {
		name: "domains",
		text: "||example.org^$domain=a.example|~b.a.example",
		want: []*dnr.Rule{{
			Priority: dnr.PrioritySpecific,
			Action:   dnr.Action{Type: dnr.ActionTypeBlock},
			Condition: dnr.Condition{
				IsURLFilterCaseSensitive: boolPtr(false),
				URLFilter:                "||example.org^",
				InitiatorDomains:         []string{"a.example"},
				ExcludedInitiatorDomains: []string{"b.a.example"},
			},
		}},
	}, {
		name: "third_party",
		text: "||example.org^$third-party",
		want: []*dnr.Rule{{
			Priority: dnr.PriorityGeneric,
			Action:   dnr.Action{Type: dnr.ActionTypeBlock},
			Condition: dnr.Condition{
				IsURLFilterCaseSensitive: boolPtr(false),
				URLFilter:                "||example.org^",
				DomainType:               dnr.DomainTypeThirdParty,
			},
		}},
	}, {
		name: "csp",
		text: "||example.org^$csp=script-src 'none'",
		want: []*dnr.Rule{{
			Priority: dnr.PriorityGeneric,
			Action: dnr.Action{
				Type: dnr.ActionTypeModifyHeaders,
				ResponseHeaders: []*dnr.HeaderInfo{{
					Header:    "Content-Security-Policy",
					Operation: dnr.HeaderOperationAppend,
					Value:     "script-src 'none'",
				}},
			},
			Condition: dnr.Condition{
				IsURLFilterCaseSensitive: boolPtr(false),
				URLFilter:                "||example.org^",
				ResourceTypes: []dnr.ResourceType{
					dnr.ResourceTypeMainFrame,
					dnr.ResourceTypeSubFrame,
				},
			},
		}},
	}, {
		name: "rewrite",
		text: "||example.org/script.js$script,rewrite=abp-resource:blank-js",
		want: []*dnr.Rule{{
			Priority: dnr.PriorityGeneric,
			Action: dnr.Action{
				Type: dnr.ActionTypeRedirect,
				Redirect: &dnr.Redirect{
					ExtensionPath: "/rewrite/blank-js",
				},
			},
			Condition: dnr.Condition{
				IsURLFilterCaseSensitive: boolPtr(false),
				URLFilter:                "||example.org/script.js",
				ResourceTypes:            []dnr.ResourceType{dnr.ResourceTypeScript},
			},
		}},
	}, {
		name: "document_exception",
		text: "@@||example.org^$document",
		want: []*dnr.Rule{{
			Priority: dnr.PriorityGenericAllowAll,
			Action:   dnr.Action{Type: dnr.ActionTypeAllowAllRequests},
			Condition: dnr.Condition{
				IsURLFilterCaseSensitive: boolPtr(false),
				URLFilter:                "||example.org^",
				ResourceTypes: []dnr.ResourceType{
					dnr.ResourceTypeMainFrame,
					dnr.ResourceTypeSubFrame,
				},
			},
		}},
	}, {
		name: "exception",
		text: "@@||example.org^$script",
		want: []*dnr.Rule{{
			Priority: dnr.PriorityGeneric,
			Action:   dnr.Action{Type: dnr.ActionTypeAllow},
			Condition: dnr.Condition{
				IsURLFilterCaseSensitive: boolPtr(false),
				URLFilter:                "||example.org^",
				ResourceTypes:            []dnr.ResourceType{dnr.ResourceTypeScript},
			},
		}},
	}, {
		name: "regexp",
		text: `/banner\d+/`,
		want: []*dnr.Rule{{
			Priority: dnr.PriorityGeneric,
			Action:   dnr.Action{Type: dnr.ActionTypeBlock},
			Condition: dnr.Condition{
				IsURLFilterCaseSensitive: boolPtr(false),
				RegexFilter:              `banner\d+`,
			},
		}},
	}, {
		name: "wildcard_domain",
		text: "||example.org^$domain=example.*",
		want: nil,
	}, {
		name: "elemhide",
		text: "example.org##.ad",
		want: nil,
	}, {
		name: "comment",
		text: "! comment",
		want: nil,
	}, {
		name: "generic_exception",
		text: "@@||example.org^$elemhide",
		want: nil,
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			rules, err := c.Compile(filter.Parse(tc.text))
			require.NoError(t, err)

			assert.Empty(t, cmp.Diff(tc.want, rules))
		})
	}
}

func TestCompiler_Compile_errors(t *testing.T) {
	t.Parallel()

	c := newCompiler(t, nil)

	testCases := []struct {
		name       string
		text       string
		wantErrMsg string
	}{{
		name: "sitekey",
		text: "||example.org^$sitekey=abc",
		wantErrMsg: `filter "||example.org^$sitekey=abc": option "sitekey": ` +
			`unsupported filter`,
	}, {
		name: "header",
		text: "||example.org^$header=x-foo",
		wantErrMsg: `filter "||example.org^$header=x-foo": option "header": ` +
			`unsupported filter`,
	}, {
		name: "unknown_rewrite",
		text: "||example.org^$rewrite=abp-resource:unknown",
		wantErrMsg: `filter "||example.org^$rewrite=abp-resource:unknown": ` +
			`option "rewrite": unsupported filter`,
	}, {
		name:       "lookahead",
		text:       `/ad(?=s)/`,
		wantErrMsg: `filter "/ad(?=s)/": regexp "ad(?=s)": unsupported filter`,
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			rules, err := c.Compile(filter.Parse(tc.text))
			assert.Nil(t, rules)
			testutil.AssertErrorMsg(t, tc.wantErrMsg, err)
			assert.ErrorIs(t, err, dnr.ErrUnsupported)
		})
	}
}

func TestCompiler_Compile_modifyRule(t *testing.T) {
	t.Parallel()

	const text = "||example.org^"

	t.Run("hook", func(t *testing.T) {
		t.Parallel()

		var gotCtx *dnr.RuleContext
		c := newCompiler(t, func(r *dnr.Rule, ctx *dnr.RuleContext) (modified *dnr.Rule) {
			gotCtx = ctx
			r.Priority = 42

			return r
		})

		rules, err := c.Compile(filter.Parse(text))
		require.NoError(t, err)
		require.Len(t, rules, 1)

		assert.Equal(t, 42, rules[0].Priority)
		require.NotNil(t, gotCtx)
		assert.Equal(t, text, gotCtx.FilterText)
	})

	t.Run("invalid", func(t *testing.T) {
		t.Parallel()

		c := newCompiler(t, func(r *dnr.Rule, _ *dnr.RuleContext) (modified *dnr.Rule) {
			r.Priority = 0

			return r
		})

		rules, err := c.Compile(filter.Parse(text))
		assert.Nil(t, rules)

		invalidErr := &dnr.InvalidRuleError{}
		require.ErrorAs(t, err, &invalidErr)
		assert.ErrorIs(t, err, dnr.ErrInvalidRule)
		assert.Equal(t, "priority 0 must be positive", invalidErr.Reason)
	})
}

func TestCompiler_Compile_cached(t *testing.T) {
	t.Parallel()

	c := newCompiler(t, nil)
	f := filter.Parse("||example.org^$domain=a.example")

	rules, err := c.Compile(f)
	require.NoError(t, err)
	require.Len(t, rules, 1)

	rules[0].ID = 1
	rules[0].Condition.InitiatorDomains[0] = "changed.example"

	again, err := c.Compile(f)
	require.NoError(t, err)
	require.Len(t, again, 1)

	assert.Zero(t, again[0].ID)
	assert.Equal(t, []string{"a.example"}, again[0].Condition.InitiatorDomains)
}

func TestCompiler_CompileAll(t *testing.T) {
	t.Parallel()

	c := newCompiler(t, nil)
	filters := []*filter.Filter{
		filter.Parse("||good.example^"),
		filter.Parse("||bad.example^$sitekey=abc"),
		filter.Parse("||other.example^$image"),
	}

	results := c.CompileAll(filters)
	require.Len(t, results, len(filters))

	for i, res := range results {
		assert.Same(t, filters[i], res.Filter)
	}

	assert.NoError(t, results[0].Err)
	assert.Len(t, results[0].Rules, 1)

	assert.True(t, errors.Is(results[1].Err, dnr.ErrUnsupported))
	assert.Empty(t, results[1].Rules)

	assert.NoError(t, results[2].Err)
	assert.Len(t, results[2].Rules, 1)
}

func TestRegexpProbe_IsSupported(t *testing.T) {
	t.Parallel()

	probe := dnr.NewRegexpProbe(agdcache.Empty[string, bool]{}, 64)

	testCases := []struct {
		name          string
		pattern       string
		caseSensitive bool
		want          bool
	}{{
		name:          "simple",
		pattern:       `banner\d+`,
		caseSensitive: true,
		want:          true,
	}, {
		name:          "case_insensitive",
		pattern:       `banner\d+`,
		caseSensitive: false,
		want:          true,
	}, {
		name:          "backreference",
		pattern:       `(a)\1`,
		caseSensitive: true,
		want:          false,
	}, {
		name:          "lookahead",
		pattern:       `ad(?=s)`,
		caseSensitive: true,
		want:          false,
	}, {
		name:          "too_large",
		pattern:       `a{100}`,
		caseSensitive: true,
		want:          false,
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tc.want, probe.IsSupported(tc.pattern, tc.caseSensitive))
		})
	}
}
