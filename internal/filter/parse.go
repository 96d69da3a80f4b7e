package filter

import (
	"regexp"
	"strings"

	"github.com/AdguardTeam/urlfilter/rules"
)

// crossCheckListID is the urlfilter list ID used when cross-checking network
// patterns with the urlfilter parser.
const crossCheckListID = 1

// crossCheckMinLen is the minimum length of a pattern that is cross-checked.
// Shorter patterns are rejected by urlfilter as too wide, which is a matching
// policy and not a syntax error.
const crossCheckMinLen = 4

// contentRe matches content filters: element hiding, element-hiding
// exceptions, element-hiding emulation, and snippets.
var contentRe = regexp.MustCompile(`^([^/|@"!]*?)#([@?$])?#(.+)$`)

// optionsRe matches the options part of a network filter.
var optionsRe = regexp.MustCompile(`\$(~?[\w-]+(?:=[^,]*)?(?:,~?[\w-]+(?:=[^,]*)?)*)$`)

// contentSeparator returns the index of the separator of a content filter or
// -1 if text isn't a content filter.
func contentSeparator(text string) (idx int) {
	m := contentRe.FindStringSubmatchIndex(text)
	if m == nil {
		return -1
	}

	return m[3]
}

// Parse classifies a single normalized filter-list line.  It never returns
// nil; unparseable lines are returned as filters of kind [KindInvalid] with
// Reason set.
func Parse(text string) (f *Filter) {
	f = &Filter{
		Text: text,
	}

	switch {
	case text == "":
		f.Reason = "empty filter"
	case text[0] == '!' || text[0] == '[':
		f.Kind = KindComment
	case contentSeparator(text) >= 0:
		parseContent(f)
	default:
		parseNetwork(f)
	}

	if f.Kind == KindInvalid && f.Reason == "" {
		f.Reason = "invalid filter"
	}

	return f
}

// parseContent fills f from a content filter text.
func parseContent(f *Filter) {
	m := contentRe.FindStringSubmatch(f.Text)
	domains, typ, body := m[1], m[2], m[3]

	f.Body = body
	f.Domains = parseDomains(domains, ",")

	switch typ {
	case "@":
		f.Kind = KindElemHideException
	case "$":
		f.Kind = KindSnippet
	default:
		f.Kind = KindElemHide
	}

	if (typ == "$" || typ == "?") && !f.HasIncludedDomains() {
		f.Kind = KindInvalid
		f.Reason = "filter requires a domain"
	}
}

// parseNetwork fills f from a network filter text.
func parseNetwork(f *Filter) {
	pattern, allowing := strings.CutPrefix(f.Text, "@@")

	var opts string
	if m := optionsRe.FindStringSubmatchIndex(pattern); m != nil {
		opts = pattern[m[2]:m[3]]
		pattern = pattern[:m[0]]
	}

	f.Pattern = pattern
	f.ContentType = ContentTypeResources

	if opts != "" {
		reason := parseOptions(f, opts)
		if reason != "" {
			f.Reason = reason

			return
		}
	}

	f.Kind = networkKind(f, allowing)
	if f.Kind == KindInvalid {
		return
	}

	if reason := crossCheck(f.Pattern, allowing); reason != "" {
		f.Kind = KindInvalid
		f.Reason = reason
	}
}

// networkKind returns the kind of a network filter with parsed options.
func networkKind(f *Filter, allowing bool) (k Kind) {
	if allowing {
		return KindAllowing
	}

	switch {
	case f.ContentType.Has(ContentTypeCSP):
		if f.CSP == "" {
			f.Reason = "csp filter requires a directive"

			return KindInvalid
		}

		return KindCSP
	case f.Rewrite != "":
		if !strings.HasPrefix(f.Rewrite, "abp-resource:") {
			f.Reason = "invalid rewrite target"

			return KindInvalid
		}

		return KindRewrite
	case f.Header != "":
		return KindHeader
	default:
		return KindBlocking
	}
}

// parseOptions parses the comma-separated options of a network filter into f.
// reason is not empty if the options are invalid.
func parseOptions(f *Filter, opts string) (reason string) {
	hasPositiveType := false
	for opt := range strings.SplitSeq(opts, ",") {
		name, value, _ := strings.Cut(opt, "=")
		name, inverse := strings.CutPrefix(name, "~")
		name = strings.ReplaceAll(strings.ToLower(name), "_", "-")

		if t, ok := contentTypeOptions[name]; ok {
			switch {
			case inverse:
				f.ContentType &^= t
			case !hasPositiveType:
				f.ContentType = t
				hasPositiveType = true
			default:
				f.ContentType |= t
			}

			switch name {
			case "csp":
				f.CSP = value
			case "header":
				f.Header = value
			}

			continue
		}

		switch name {
		case "match-case":
			f.MatchCase = !inverse
		case "third-party":
			f.ThirdParty = ThirdPartyOnly
			if inverse {
				f.ThirdParty = FirstPartyOnly
			}
		case "domain":
			f.Domains = parseDomains(value, "|")
		case "sitekey":
			f.Sitekeys = strings.Split(value, "|")
		case "rewrite":
			f.Rewrite = value
		default:
			return "unknown option " + name
		}
	}

	return ""
}

// parseDomains parses the domain constraints separated by sep.
func parseDomains(s, sep string) (domains []DomainConstraint) {
	if s == "" {
		return nil
	}

	for d := range strings.SplitSeq(strings.ToLower(s), sep) {
		d, exclude := strings.CutPrefix(d, "~")
		if d == "" {
			continue
		}

		domains = append(domains, DomainConstraint{
			Domain:  d,
			Include: !exclude,
		})
	}

	return domains
}

// crossCheck returns a non-empty reason if the urlfilter parser rejects
// pattern.
func crossCheck(pattern string, allowing bool) (reason string) {
	if len(pattern) < crossCheckMinLen || isRegexpPattern(pattern) {
		return ""
	}

	if allowing {
		pattern = "@@" + pattern
	}

	_, err := rules.NewNetworkRule(pattern, crossCheckListID)
	if err != nil {
		return err.Error()
	}

	return ""
}
