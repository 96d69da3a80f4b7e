// Package filter contains the structured representation of a single filter
// rule and the classifier that produces it from a filter-list line.
package filter

import (
	"strings"
)

// Kind is the kind of a filter, which defines what a filter does once it is
// deployed.
type Kind uint8

// Kind values.
const (
	KindInvalid Kind = iota
	KindComment
	KindBlocking
	KindAllowing
	KindElemHide
	KindElemHideException
	KindCSP
	KindRewrite
	KindSnippet
	KindHeader
)

// String implements the [fmt.Stringer] interface for Kind.
func (k Kind) String() (s string) {
	switch k {
	case KindInvalid:
		return "invalid"
	case KindComment:
		return "comment"
	case KindBlocking:
		return "blocking"
	case KindAllowing:
		return "allowing"
	case KindElemHide:
		return "elemhide"
	case KindElemHideException:
		return "elemhideexception"
	case KindCSP:
		return "csp"
	case KindRewrite:
		return "rewrite"
	case KindSnippet:
		return "snippet"
	case KindHeader:
		return "header"
	default:
		return "unknown"
	}
}

// IsNetwork returns true if filters of this kind match network requests.
func (k Kind) IsNetwork() (ok bool) {
	switch k {
	case KindBlocking, KindAllowing, KindCSP, KindRewrite, KindHeader:
		return true
	default:
		return false
	}
}

// IsPrivileged returns true if filters of this kind may only be deployed from
// privileged subscriptions.
func (k Kind) IsPrivileged() (ok bool) {
	return k == KindSnippet || k == KindHeader
}

// ThirdParty is the tri-state third-party constraint of a filter.
type ThirdParty int8

// ThirdParty values.
const (
	ThirdPartyAny  ThirdParty = 0
	ThirdPartyOnly ThirdParty = 1
	FirstPartyOnly ThirdParty = -1
)

// DomainConstraint is a single entry of the domain option of a filter.
type DomainConstraint struct {
	// Domain is the lowercased domain name.  It may end with ".*" for
	// top-level-domain wildcards.
	Domain string

	// Include is false for excluded ("~domain") entries.
	Include bool
}

// Filter is an immutable structured filter.  Two filters with equal Text are
// the same filter.
type Filter struct {
	// Text is the canonical text of the filter.  It is the identity of the
	// filter.
	Text string

	// Pattern is the URL pattern of a network filter with the "@@" prefix and
	// the options removed.  Regular-expression patterns keep their slashes.
	Pattern string

	// Reason is the description of the problem for invalid filters.
	Reason string

	// CSP is the Content-Security-Policy directive of CSP filters.
	CSP string

	// Rewrite is the rewrite target of rewrite filters, for example
	// "abp-resource:blank-js".
	Rewrite string

	// Header is the header constraint of header filters.
	Header string

	// Body is the selector of element-hiding filters or the script of snippet
	// filters.
	Body string

	// Domains are the domain constraints in the order of declaration.
	Domains []DomainConstraint

	// Sitekeys are the site keys the filter is restricted to.
	Sitekeys []string

	// ContentType is the set of content types the filter applies to.
	ContentType ContentType

	// Kind is the kind of the filter.
	Kind Kind

	// ThirdParty is the third-party constraint.
	ThirdParty ThirdParty

	// MatchCase is true if the pattern is case-sensitive.
	MatchCase bool
}

// IsRegexp returns true if the pattern of f is a regular expression.
func (f *Filter) IsRegexp() (ok bool) {
	return isRegexpPattern(f.Pattern)
}

// Regexp returns the regular expression source of f without the enclosing
// slashes.  It returns an empty string if f is not a regular-expression
// filter.
func (f *Filter) Regexp() (re string) {
	if !f.IsRegexp() {
		return ""
	}

	return f.Pattern[1 : len(f.Pattern)-1]
}

// HasIncludedDomains returns true if f is restricted to certain domains, that
// is if it's a specific and not a generic filter.
func (f *Filter) HasIncludedDomains() (ok bool) {
	for _, d := range f.Domains {
		if d.Include {
			return true
		}
	}

	return false
}

// HasWildcardDomain returns true if any of the domain constraints of f is a
// top-level-domain wildcard such as "example.*".
func (f *Filter) HasWildcardDomain() (ok bool) {
	for _, d := range f.Domains {
		if strings.HasSuffix(d.Domain, ".*") {
			return true
		}
	}

	return false
}

// Hostname returns the hostname of a filter with a pattern in the simplest
// domain-anchor form, "||host^", and no options other than content types.
// Otherwise, it returns an empty string.
func (f *Filter) Hostname() (host string) {
	if len(f.Domains) > 0 || f.ThirdParty != ThirdPartyAny {
		return ""
	}

	host, ok := strings.CutPrefix(f.Pattern, "||")
	if !ok {
		return ""
	}

	host, ok = strings.CutSuffix(host, "^")
	if !ok || host == "" || strings.ContainsAny(host, "*^|/:?=&") {
		return ""
	}

	return strings.ToLower(host)
}

// isRegexpPattern returns true if pattern is a regular-expression pattern.
func isRegexpPattern(pattern string) (ok bool) {
	return len(pattern) > 2 && pattern[0] == '/' && pattern[len(pattern)-1] == '/'
}

// Normalize returns the canonical text of a filter-list line: surrounding
// whitespace is removed and, for network filters, so are inner spaces, which
// are never significant there.  Comments and content filters only lose the
// surrounding whitespace.
func Normalize(line string) (text string) {
	text = strings.TrimSpace(line)
	if text == "" || text[0] == '!' || text[0] == '[' {
		return text
	}

	if strings.Contains(text, "#") && contentSeparator(text) >= 0 {
		return text
	}

	// Spaces are significant in Content-Security-Policy directives.
	if !strings.ContainsAny(text, " \t") || strings.Contains(text, "csp=") {
		return text
	}

	return strings.Join(strings.Fields(text), "")
}
