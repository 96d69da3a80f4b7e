package dnr

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/AdguardTeam/FilterSync/internal/agdcache"
	"github.com/AdguardTeam/FilterSync/internal/filter"
	"golang.org/x/net/idna"
)

// Rule priorities.  Specific rules are the ones restricted to certain
// initiator domains.
const (
	PriorityGeneric         = 1000
	PriorityGenericAllowAll = 1001
	PrioritySpecific        = 2000
	PrioritySpecificAllowAll  = 2001
)

// rewriteResourcePrefix is the prefix of rewrite targets that name a bundled
// resource.
const rewriteResourcePrefix = "abp-resource:"

// rewritePathPrefix is the extension path of the bundled rewrite resources.
const rewritePathPrefix = "/rewrite/"

// rewriteResources are the names of the bundled rewrite resources.
var rewriteResources = map[string]struct{}{
	"blank-text":             {},
	"blank-css":              {},
	"blank-js":               {},
	"blank-html":             {},
	"blank-mp3":              {},
	"1x1-transparent-gif":    {},
	"2x2-transparent-png":    {},
	"3x2-transparent-png":    {},
	"32x32-transparent-png":  {},
	"blank-mp4":              {},
	"noopjs":                 {},
	"noop-vast-xml":          {},
	"empty":                  {},
	"1x1-transparent-png":    {},
	"googlesyndication-adsb": {},
}

// requestTypes maps the content types supported by the matching engine to the
// resource types of rules.  The order is the order of the resource types in
// the resulting rules.
var requestTypes = []struct {
	resourceTypes []ResourceType
	contentType   filter.ContentType
}{{
	contentType:   filter.ContentTypeOther,
	resourceTypes: []ResourceType{ResourceTypeOther, ResourceTypeCSPReport},
}, {
	contentType:   filter.ContentTypeScript,
	resourceTypes: []ResourceType{ResourceTypeScript},
}, {
	contentType:   filter.ContentTypeImage,
	resourceTypes: []ResourceType{ResourceTypeImage},
}, {
	contentType:   filter.ContentTypeStylesheet,
	resourceTypes: []ResourceType{ResourceTypeStylesheet},
}, {
	contentType:   filter.ContentTypeObject,
	resourceTypes: []ResourceType{ResourceTypeObject},
}, {
	contentType:   filter.ContentTypeSubdocument,
	resourceTypes: []ResourceType{ResourceTypeSubFrame},
}, {
	contentType:   filter.ContentTypeWebsocket,
	resourceTypes: []ResourceType{ResourceTypeWebsocket},
}, {
	contentType:   filter.ContentTypePing,
	resourceTypes: []ResourceType{ResourceTypePing},
}, {
	contentType:   filter.ContentTypeXMLHTTPRequest,
	resourceTypes: []ResourceType{ResourceTypeXMLHTTPRequest},
}, {
	contentType:   filter.ContentTypeMedia,
	resourceTypes: []ResourceType{ResourceTypeMedia},
}, {
	contentType:   filter.ContentTypeFont,
	resourceTypes: []ResourceType{ResourceTypeFont},
}}

// supportedContentTypes is the union of the content types in requestTypes.
var supportedContentTypes = func() (ct filter.ContentType) {
	for _, rt := range requestTypes {
		ct |= rt.contentType
	}

	return ct
}()

// frameTypes are the resource types of document requests.
var frameTypes = []ResourceType{ResourceTypeMainFrame, ResourceTypeSubFrame}

// hostnameRe splits a URL pattern into the anchor, the hostname, and the rest.
var hostnameRe = regexp.MustCompile(`^(\|\||[a-zA-Z]*://)([^*^?/|]*)(.*)$`)

// RegexSupportFunc reports whether the matching engine supports the regular
// expression pattern.
type RegexSupportFunc func(pattern string, caseSensitive bool) (ok bool)

// RuleContext is the context passed to a [ModifyRuleFunc].
type RuleContext struct {
	// FilterText is the text of the filter the rule is generated from.
	FilterText string
}

// ModifyRuleFunc is a hook that can change every generated rule before
// validation.  It must return a non-nil rule.
type ModifyRuleFunc func(r *Rule, ctx *RuleContext) (modified *Rule)

// CompilerConfig is the configuration structure for a [Compiler].
type CompilerConfig struct {
	// IsRegexSupported is the regular-expression support probe.  It must not
	// be nil.
	IsRegexSupported RegexSupportFunc

	// ModifyRule is the hook for generated rules.  If it is nil, rules are not
	// changed.
	ModifyRule ModifyRuleFunc

	// CacheManager, if not nil, is used to register the compilation cache.
	CacheManager *agdcache.Manager

	// CacheSize is the number of compiled filters to keep.  If it is zero, the
	// results aren't cached.
	CacheSize int
}

// compiled is a memoized compilation result.
type compiled struct {
	err   error
	rules []*Rule
}

// Compiler compiles filters into declarative rules.  It is safe for concurrent
// use.
type Compiler struct {
	cache            agdcache.Interface[string, *compiled]
	isRegexSupported RegexSupportFunc
	modifyRule       ModifyRuleFunc
}

// compileCacheID is the identifier of the compilation cache in the cache
// manager.
const compileCacheID = "dnr/compile"

// NewCompiler returns a new properly initialized *Compiler.  c must not be
// nil.
func NewCompiler(c *CompilerConfig) (comp *Compiler) {
	var cache agdcache.Interface[string, *compiled] = agdcache.Empty[string, *compiled]{}
	if c.CacheSize > 0 {
		cache = agdcache.NewLRU[string, *compiled](&agdcache.LRUConfig{
			Size: c.CacheSize,
		})
	}

	if c.CacheManager != nil {
		c.CacheManager.Add(compileCacheID, cache)
	}

	modify := c.ModifyRule
	if modify == nil {
		modify = func(r *Rule, _ *RuleContext) (modified *Rule) { return r }
	}

	return &Compiler{
		cache:            cache,
		isRegexSupported: c.IsRegexSupported,
		modifyRule:       modify,
	}
}

// Compile converts f into zero or more rules.  Filters that aren't network
// filters, as well as filters restricted to top-level-domain wildcards,
// produce no rules and no error.  The returned rules have zero IDs and are
// owned by the caller.
//
// Any error returned will have the underlying type of
// [*UnsupportedOptionError], [*UnsupportedRegexError], or [*InvalidRuleError].
func (c *Compiler) Compile(f *filter.Filter) (rules []*Rule, err error) {
	res, ok := c.cache.Get(f.Text)
	if !ok {
		res = &compiled{}
		res.rules, res.err = c.compile(f)
		c.cache.Set(f.Text, res)
	}

	return cloneRules(res.rules), res.err
}

// Result is the compilation result of a single filter in a batch.
type Result struct {
	// Filter is the compiled filter.
	Filter *filter.Filter

	// Err is the compilation error, if any.
	Err error

	// Rules are the compiled rules.
	Rules []*Rule
}

// CompileAll compiles every filter of the batch independently.  A failure of
// one filter never affects the others.
func (c *Compiler) CompileAll(filters []*filter.Filter) (results []*Result) {
	results = make([]*Result, 0, len(filters))
	for _, f := range filters {
		rules, err := c.Compile(f)
		results = append(results, &Result{
			Filter: f,
			Err:    err,
			Rules:  rules,
		})
	}

	return results
}

// compile converts f into rules without caching.
func (c *Compiler) compile(f *filter.Filter) (rules []*Rule, err error) {
	if !f.Kind.IsNetwork() {
		return nil, nil
	}

	if len(f.Sitekeys) > 0 {
		return nil, &UnsupportedOptionError{Option: "sitekey", FilterText: f.Text}
	}

	if f.Kind == filter.KindHeader || f.ContentType.Has(filter.ContentTypeHeader) {
		return nil, &UnsupportedOptionError{Option: "header", FilterText: f.Text}
	}

	if f.HasWildcardDomain() {
		return nil, nil
	}

	urlFilter, regex, err := c.translatePattern(f)
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return nil, err
	}

	g := &generator{
		filter:    f,
		urlFilter: urlFilter,
		regex:     regex,
	}

	switch {
	case f.ContentType.Has(filter.ContentTypeCSP):
		rules = g.cspRules()
	case f.Kind == filter.KindAllowing:
		rules = g.allowRules()
	case f.Kind == filter.KindRewrite:
		rules, err = g.redirectRules()
	default:
		rules = g.blockRules()
	}

	if err != nil {
		return nil, err
	}

	ctx := &RuleContext{
		FilterText: f.Text,
	}

	for i, r := range rules {
		rules[i], err = Validate(c.modifyRule(r, ctx))
		if err != nil {
			return nil, fmt.Errorf("filter %q: %w", f.Text, err)
		}
	}

	return rules, nil
}

// translatePattern converts the pattern of f into either a URL filter or a
// regular expression for the matching engine.
func (c *Compiler) translatePattern(f *filter.Filter) (urlFilter, regex string, err error) {
	if f.IsRegexp() {
		regex = f.Regexp()
		if !c.isRegexSupported(regex, f.MatchCase) {
			return "", "", &UnsupportedRegexError{Pattern: regex, FilterText: f.Text}
		}

		return "", regex, nil
	}

	urlFilter = f.Pattern

	// The matching engine rejects the redundant "||*" form.
	urlFilter = strings.TrimPrefix(urlFilter, "||*")

	if m := hostnameRe.FindStringSubmatch(urlFilter); m != nil {
		anchor, host, rest := m[1], m[2], m[3]
		if !f.MatchCase {
			rest = strings.ToLower(rest)
		}

		urlFilter = anchor + toASCIIHost(host) + rest
	} else if !f.MatchCase {
		urlFilter = strings.ToLower(urlFilter)
	}

	return encodeNonASCII(urlFilter), "", nil
}

// toASCIIHost returns the lowercased, punycode-encoded version of host.  If
// host cannot be encoded, it's returned lowercased.
func toASCIIHost(host string) (ascii string) {
	host = strings.ToLower(host)
	ascii, err := idna.Punycode.ToASCII(host)
	if err != nil {
		return host
	}

	return ascii
}

// encodeNonASCII percent-encodes the bytes of s that are outside of the ASCII
// range.
func encodeNonASCII(s string) (enc string) {
	b := &strings.Builder{}
	for i := range len(s) {
		c := s[i]
		if c < 0x80 {
			_ = b.WriteByte(c)
		} else {
			_, _ = fmt.Fprintf(b, "%%%02X", c)
		}
	}

	return b.String()
}

// generator generates the rules of a single filter.
type generator struct {
	filter    *filter.Filter
	urlFilter string
	regex     string
}

// resourceTypes returns the resource types for ct.  all is true if ct
// contains every supported type, in which case types is nil and the rule
// must not restrict them.
func resourceTypes(ct filter.ContentType) (types []ResourceType, all bool) {
	if ct&supportedContentTypes == supportedContentTypes {
		return nil, true
	}

	types = []ResourceType{}
	for _, rt := range requestTypes {
		if ct&rt.contentType != 0 {
			types = append(types, rt.resourceTypes...)
		}
	}

	return types, false
}

// condition returns the condition of a rule with the given resource types.
// generic is true if the filter isn't restricted to certain domains.
func (g *generator) condition(types []ResourceType) (cond Condition, generic bool) {
	f := g.filter
	cond = Condition{
		URLFilter:     g.urlFilter,
		RegexFilter:   g.regex,
		ResourceTypes: types,
	}

	if cond.URLFilter != "" || cond.RegexFilter != "" {
		caseSensitive := f.MatchCase
		cond.IsURLFilterCaseSensitive = &caseSensitive
	}

	switch f.ThirdParty {
	case filter.ThirdPartyOnly:
		cond.DomainType = DomainTypeThirdParty
	case filter.FirstPartyOnly:
		cond.DomainType = DomainTypeFirstParty
	}

	for _, d := range f.Domains {
		host := toASCIIHost(d.Domain)
		if d.Include {
			cond.InitiatorDomains = append(cond.InitiatorDomains, host)
		} else {
			cond.ExcludedInitiatorDomains = append(cond.ExcludedInitiatorDomains, host)
		}
	}

	return cond, len(cond.InitiatorDomains) == 0
}

// priority returns the priority depending on whether the rule is generic and
// whether it allows all requests of a document.
func priority(generic, allowAll bool) (p int) {
	switch {
	case generic && allowAll:
		return PriorityGenericAllowAll
	case generic:
		return PriorityGeneric
	case allowAll:
		return PrioritySpecificAllowAll
	default:
		return PrioritySpecific
	}
}

// newRule returns a rule with the given action and the condition for types.
func (g *generator) newRule(act Action, types []ResourceType, allowAll bool) (r *Rule) {
	cond, generic := g.condition(types)

	return &Rule{
		Priority:  priority(generic, allowAll),
		Action:    act,
		Condition: cond,
	}
}

// blockRules generates the rules of a blocking filter.
func (g *generator) blockRules() (rules []*Rule) {
	types, all := resourceTypes(g.filter.ContentType)
	if !all && len(types) == 0 {
		return nil
	}

	return []*Rule{g.newRule(Action{Type: ActionTypeBlock}, types, false)}
}

// allowRules generates the rules of an allowing filter.  Document exceptions
// produce an allowAllRequests rule for frames in addition to an ordinary allow
// rule for the remaining types.
func (g *generator) allowRules() (rules []*Rule) {
	ct := g.filter.ContentType
	if ct.Has(filter.ContentTypeDocument) {
		rules = append(rules, g.newRule(Action{Type: ActionTypeAllowAllRequests}, frameTypes, true))
		ct &^= filter.ContentTypeSubdocument
	}

	types, all := resourceTypes(ct)
	if all || len(types) > 0 {
		rules = append(rules, g.newRule(Action{Type: ActionTypeAllow}, types, false))
	}

	return rules
}

// cspRules generates the rules of a Content-Security-Policy filter.
func (g *generator) cspRules() (rules []*Rule) {
	if g.filter.Kind == filter.KindAllowing {
		return []*Rule{g.newRule(Action{Type: ActionTypeAllow}, frameTypes, true)}
	}

	act := Action{
		Type: ActionTypeModifyHeaders,
		ResponseHeaders: []*HeaderInfo{{
			Header:    "Content-Security-Policy",
			Operation: HeaderOperationAppend,
			Value:     g.filter.CSP,
		}},
	}

	return []*Rule{g.newRule(act, frameTypes, false)}
}

// redirectRules generates the rules of a rewrite filter.
func (g *generator) redirectRules() (rules []*Rule, err error) {
	f := g.filter
	name := strings.TrimPrefix(f.Rewrite, rewriteResourcePrefix)
	if _, ok := rewriteResources[name]; !ok {
		return nil, &UnsupportedOptionError{Option: "rewrite", FilterText: f.Text}
	}

	types, all := resourceTypes(f.ContentType)
	if !all && len(types) == 0 {
		return nil, nil
	}

	act := Action{
		Type: ActionTypeRedirect,
		Redirect: &Redirect{
			ExtensionPath: rewritePathPrefix + name,
		},
	}

	return []*Rule{g.newRule(act, types, false)}, nil
}
