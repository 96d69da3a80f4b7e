package filter_test

import (
	"testing"

	"github.com/AdguardTeam/FilterSync/internal/filter"
	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	testCases := []struct {
		want *filter.Filter
		name string
		text string
	}{{
		name: "blocking_image",
		text: "/ad.png^$image",
		want: &filter.Filter{
			Text:        "/ad.png^$image",
			Pattern:     "/ad.png^",
			Kind:        filter.KindBlocking,
			ContentType: filter.ContentTypeImage,
		},
	}, {
		name: "allowing_document",
		text: "@@||example.org^$document",
		want: &filter.Filter{
			Text:        "@@||example.org^$document",
			Pattern:     "||example.org^",
			Kind:        filter.KindAllowing,
			ContentType: filter.ContentTypeDocument,
		},
	}, {
		name: "negated_type",
		text: "||ads.example^$~script,third-party,match-case",
		want: &filter.Filter{
			Text:        "||ads.example^$~script,third-party,match-case",
			Pattern:     "||ads.example^",
			Kind:        filter.KindBlocking,
			ContentType: filter.ContentTypeResources &^ filter.ContentTypeScript,
			ThirdParty:  filter.ThirdPartyOnly,
			MatchCase:   true,
		},
	}, {
		name: "domains",
		text: "/banner/$domain=Example.com|~sub.example.com",
		want: &filter.Filter{
			Text:        "/banner/$domain=Example.com|~sub.example.com",
			Pattern:     "/banner/",
			Kind:        filter.KindBlocking,
			ContentType: filter.ContentTypeResources,
			Domains: []filter.DomainConstraint{{
				Domain:  "example.com",
				Include: true,
			}, {
				Domain:  "sub.example.com",
				Include: false,
			}},
		},
	}, {
		name: "csp",
		text: "||example.org^$csp=script-src 'self'",
		want: &filter.Filter{
			Text:        "||example.org^$csp=script-src 'self'",
			Pattern:     "||example.org^",
			CSP:         "script-src 'self'",
			Kind:        filter.KindCSP,
			ContentType: filter.ContentTypeCSP,
		},
	}, {
		name: "rewrite",
		text: "||example.org/ads.js$script,rewrite=abp-resource:blank-js",
		want: &filter.Filter{
			Text:        "||example.org/ads.js$script,rewrite=abp-resource:blank-js",
			Pattern:     "||example.org/ads.js",
			Rewrite:     "abp-resource:blank-js",
			Kind:        filter.KindRewrite,
			ContentType: filter.ContentTypeScript,
		},
	}, {
		name: "elemhide",
		text: "example.com,~foo.example.com##.ad",
		want: &filter.Filter{
			Text: "example.com,~foo.example.com##.ad",
			Body: ".ad",
			Kind: filter.KindElemHide,
			Domains: []filter.DomainConstraint{{
				Domain:  "example.com",
				Include: true,
			}, {
				Domain:  "foo.example.com",
				Include: false,
			}},
		},
	}, {
		name: "snippet",
		text: "example.com#$#log hello",
		want: &filter.Filter{
			Text: "example.com#$#log hello",
			Body: "log hello",
			Kind: filter.KindSnippet,
			Domains: []filter.DomainConstraint{{
				Domain:  "example.com",
				Include: true,
			}},
		},
	}, {
		name: "comment",
		text: "! Title: Test",
		want: &filter.Filter{
			Text: "! Title: Test",
			Kind: filter.KindComment,
		},
	}, {
		name: "unknown_option",
		text: "||example.org^$foo",
		want: &filter.Filter{
			Text:        "||example.org^$foo",
			Pattern:     "||example.org^",
			Reason:      "unknown option foo",
			Kind:        filter.KindInvalid,
			ContentType: filter.ContentTypeResources,
		},
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, filter.Parse(tc.text))
		})
	}
}

func TestParse_invalid(t *testing.T) {
	testCases := []struct {
		name string
		text string
	}{{
		name: "empty",
		text: "",
	}, {
		name: "snippet_without_domain",
		text: "#$#log hello",
	}, {
		name: "csp_without_directive",
		text: "||example.org^$csp",
	}, {
		name: "bad_rewrite",
		text: "||example.org^$rewrite=https://evil.example",
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := filter.Parse(tc.text)
			assert.Equal(t, filter.KindInvalid, f.Kind)
			assert.NotEmpty(t, f.Reason)
		})
	}
}

func TestFilter_Hostname(t *testing.T) {
	testCases := []struct {
		name string
		text string
		want string
	}{{
		name: "plain",
		text: "||Ads.Example.org^",
		want: "ads.example.org",
	}, {
		name: "allowing",
		text: "@@||ads.example.org^",
		want: "ads.example.org",
	}, {
		name: "path",
		text: "||ads.example.org/banner",
		want: "",
	}, {
		name: "domains",
		text: "||ads.example.org^$domain=example.com",
		want: "",
	}, {
		name: "not_anchored",
		text: "/ad.png^",
		want: "",
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, filter.Parse(tc.text).Hostname())
		})
	}
}

func TestFilter_HasWildcardDomain(t *testing.T) {
	assert.True(t, filter.Parse("/ads/$domain=example.*").HasWildcardDomain())
	assert.False(t, filter.Parse("/ads/$domain=example.com").HasWildcardDomain())
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "||example.org^", filter.Normalize("  ||example .org^ \t"))
	assert.Equal(t, "example.com##div > .ad", filter.Normalize(" example.com##div > .ad "))
	assert.Equal(t, "! Title: a b", filter.Normalize("! Title: a b\n"))
}

func TestState(t *testing.T) {
	const (
		subA = "https://a.example/list.txt"
		subB = "https://b.example/list.txt"
	)

	s := &filter.State{}
	assert.True(t, s.IsZero())

	assert.True(t, s.SetDisabledFor(subA, true))
	assert.False(t, s.SetDisabledFor(subA, true))
	assert.True(t, s.IsDisabledFor(subA))
	assert.False(t, s.IsDisabledFor(subB))

	s.Rehome(subA, subB)
	assert.Equal(t, []string{subB}, s.DisabledFor())

	assert.True(t, s.SetDisabledFor(subB, false))
	assert.True(t, s.IsZero())
}
