package dnr

import (
	"regexp/syntax"

	"github.com/AdguardTeam/FilterSync/internal/agdcache"
)

// DefaultMaxRegexpInsts is the default limit of the compiled program size of a
// supported regular expression.
const DefaultMaxRegexpInsts = 512

// RegexpProbe decides which regular expressions the matching engine supports.
// A regular expression is supported if it uses RE2 syntax only and compiles to
// a program of at most a fixed number of instructions.  Results are memoized.
type RegexpProbe struct {
	cache    agdcache.Interface[string, bool]
	maxInsts int
}

// NewRegexpProbe returns a new *RegexpProbe.  cache must not be nil.  If
// maxInsts is not positive, [DefaultMaxRegexpInsts] is used.
func NewRegexpProbe(cache agdcache.Interface[string, bool], maxInsts int) (p *RegexpProbe) {
	if maxInsts <= 0 {
		maxInsts = DefaultMaxRegexpInsts
	}

	return &RegexpProbe{
		cache:    cache,
		maxInsts: maxInsts,
	}
}

// IsSupported reports whether pattern is supported.  It has the signature of
// [RegexSupportFunc].
func (p *RegexpProbe) IsSupported(pattern string, caseSensitive bool) (ok bool) {
	expr := pattern
	if !caseSensitive {
		expr = "(?i)" + pattern
	}

	if ok, found := p.cache.Get(expr); found {
		return ok
	}

	ok = p.probe(expr)
	p.cache.Set(expr, ok)

	return ok
}

// probe compiles expr and checks the size of the program.
func (p *RegexpProbe) probe(expr string) (ok bool) {
	re, err := syntax.Parse(expr, syntax.Perl)
	if err != nil {
		return false
	}

	prog, err := syntax.Compile(re.Simplify())
	if err != nil {
		return false
	}

	return len(prog.Inst) <= p.maxInsts
}
