// Package matcher contains an in-memory host-level matching engine that
// reports the hits of the deployed filters.
package matcher

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/AdguardTeam/FilterSync/internal/agdurlflt"
	"github.com/AdguardTeam/FilterSync/internal/filter"
	"github.com/AdguardTeam/golibs/syncutil"
	"github.com/AdguardTeam/urlfilter"
)

// HitRecorder records the hits of filters.
type HitRecorder interface {
	// RecordHit increments the hit count of the filter with text.
	RecordHit(ctx context.Context, text string)
}

// Config is the configuration structure for a [Matcher].
type Config struct {
	// Logger is used to log the rebuilds of the engine.  It must not be nil.
	Logger *slog.Logger

	// HitRecorder receives the hits.  It must not be nil.
	HitRecorder HitRecorder
}

// Result is the result of a host match.
type Result struct {
	// FilterText is the text of the matched filter.
	FilterText string

	// Allowed is true if the matched filter is an exception.
	Allowed bool
}

// Matcher matches hostnames against the deployed blocking and allowing filters
// of the form "||host^".  Other deployed filters are tracked but never match.
// It is safe for concurrent use.
type Matcher struct {
	logger  *slog.Logger
	hits    HitRecorder
	reqPool *syncutil.Pool[urlfilter.DNSRequest]
	resPool *syncutil.Pool[urlfilter.DNSResult]

	// mu protects filters, ruleFilters, and engine.
	mu *sync.RWMutex

	// filters are the deployed filters by text.
	filters map[string]*filter.Filter

	// ruleFilters maps the urlfilter rule texts to the texts of the filters
	// they were created from.
	ruleFilters map[string]string

	// engine is nil when it must be rebuilt.
	engine *urlfilter.DNSEngine
}

// New returns a new empty *Matcher.  c must not be nil.
func New(c *Config) (m *Matcher) {
	return &Matcher{
		logger: c.Logger,
		hits:   c.HitRecorder,
		reqPool: syncutil.NewPool(func() (req *urlfilter.DNSRequest) {
			return &urlfilter.DNSRequest{}
		}),
		resPool: syncutil.NewPool(func() (v *urlfilter.DNSResult) {
			return &urlfilter.DNSResult{}
		}),
		mu:          &sync.RWMutex{},
		filters:     map[string]*filter.Filter{},
		ruleFilters: map[string]string{},
	}
}

// Add deploys f.
func (m *Matcher) Add(ctx context.Context, f *filter.Filter) (err error) {
	return m.Update(ctx, []*filter.Filter{f}, nil)
}

// Remove undeploys f.
func (m *Matcher) Remove(ctx context.Context, f *filter.Filter) (err error) {
	return m.Update(ctx, nil, []*filter.Filter{f})
}

// Update removes the filters in remove and deploys the filters in add.  It
// never returns an error.
func (m *Matcher) Update(_ context.Context, add, remove []*filter.Filter) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, f := range remove {
		delete(m.filters, f.Text)
	}

	for _, f := range add {
		m.filters[f.Text] = f
	}

	if len(add) > 0 || len(remove) > 0 {
		m.engine = nil
	}

	return nil
}

// Has returns true if the filter with text is deployed.
func (m *Matcher) Has(text string) (ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok = m.filters[text]

	return ok
}

// Clear undeploys all filters.  It never returns an error.
func (m *Matcher) Clear(_ context.Context) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	clear(m.filters)
	m.engine = nil

	return nil
}

// MatchHost matches host and records the hit of the matched filter.  res is
// nil if no filter matches.
func (m *Matcher) MatchHost(ctx context.Context, host string) (res *Result, err error) {
	eng, ruleFilters, err := m.currentEngine(ctx)
	if err != nil {
		return nil, err
	}

	req := m.reqPool.Get()
	defer m.reqPool.Put(req)

	req.Reset()
	req.Hostname = strings.ToLower(host)

	dnsRes := m.resPool.Get()
	defer m.resPool.Put(dnsRes)

	dnsRes.Reset()

	if !eng.MatchRequestInto(req, dnsRes) || dnsRes.NetworkRule == nil {
		return nil, nil
	}

	text, ok := ruleFilters[dnsRes.NetworkRule.Text()]
	if !ok {
		return nil, fmt.Errorf("no filter for rule %q", dnsRes.NetworkRule.Text())
	}

	m.hits.RecordHit(ctx, text)

	return &Result{
		FilterText: text,
		Allowed:    dnsRes.NetworkRule.Whitelist,
	}, nil
}

// currentEngine returns the engine, rebuilding it if necessary, and the
// mapping of its rules.
func (m *Matcher) currentEngine(
	ctx context.Context,
) (eng *urlfilter.DNSEngine, ruleFilters map[string]string, err error) {
	m.mu.RLock()
	eng, ruleFilters = m.engine, m.ruleFilters
	m.mu.RUnlock()

	if eng != nil {
		return eng, ruleFilters, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.engine != nil {
		return m.engine, m.ruleFilters, nil
	}

	ruleFilters = map[string]string{}
	for _, text := range slices.Sorted(maps.Keys(m.filters)) {
		f := m.filters[text]
		host := f.Hostname()
		if host == "" || (f.Kind != filter.KindBlocking && f.Kind != filter.KindAllowing) {
			continue
		}

		rule := agdurlflt.HostRule(host, f.Kind == filter.KindAllowing)
		if _, ok := ruleFilters[rule]; !ok {
			ruleFilters[rule] = text
		}
	}

	eng, err = agdurlflt.NewDNSEngine(slices.Sorted(maps.Keys(ruleFilters)))
	if err != nil {
		return nil, nil, fmt.Errorf("building engine: %w", err)
	}

	m.logger.DebugContext(ctx, "engine rebuilt", "rules", len(ruleFilters))

	m.engine, m.ruleFilters = eng, ruleFilters

	return eng, ruleFilters, nil
}
