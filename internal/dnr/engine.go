package dnr

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/AdguardTeam/FilterSync/internal/errcoll"
	"github.com/AdguardTeam/FilterSync/internal/filter"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
)

// RuleStore is the consumer of the compiled rules.
type RuleStore interface {
	// UpdateDynamicRules removes the rules with removeIDs and adds the rules
	// in add.  The update must be atomic: if an error is returned, the set of
	// rules must be the same as before the call.
	UpdateDynamicRules(ctx context.Context, removeIDs []int, add []*Rule) (err error)

	// DynamicRules returns all rules currently in the store.
	DynamicRules(ctx context.Context) (rules []*Rule, err error)

	// MaxDynamicRules returns the maximum number of rules in the store.
	MaxDynamicRules() (n int)
}

// Metrics is an interface that is used for the collection of the engine
// statistics.
type Metrics interface {
	// SetRulesUsed sets the number of the rules in the store.
	SetRulesUsed(ctx context.Context, n int)
}

// EmptyMetrics is the implementation of the [Metrics] interface that does
// nothing.
type EmptyMetrics struct{}

// type check
var _ Metrics = EmptyMetrics{}

// SetRulesUsed implements the [Metrics] interface for EmptyMetrics.
func (EmptyMetrics) SetRulesUsed(_ context.Context, _ int) {}

// EngineConfig is the configuration structure for an [Engine].
type EngineConfig struct {
	// Logger is used to log the compilation problems.  It must not be nil.
	Logger *slog.Logger

	// ErrColl is used to collect the compilation errors.  It must not be nil.
	ErrColl errcoll.Interface

	// Compiler compiles filters into rules.  It must not be nil.
	Compiler *Compiler

	// Store is the consumer of the rules.  It must not be nil.
	Store RuleStore

	// Metrics is used for the collection of the engine statistics.  It must
	// not be nil.
	Metrics Metrics
}

// Engine keeps the dynamic rules of a [RuleStore] in sync with a set of
// deployed filters.  It is safe for concurrent use.
type Engine struct {
	logger   *slog.Logger
	errColl  errcoll.Interface
	compiler *Compiler
	store    RuleStore
	metrics  Metrics

	// mu protects ruleIDs, lastID, and used.
	mu *sync.Mutex

	// ruleIDs maps the text of every deployed filter to the identifiers of its
	// rules.  Filters that compile to no rules, including the unsupported
	// ones, are deployed with a nil slice.
	ruleIDs map[string][]int

	// lastID is the last assigned rule identifier.  Identifiers are never
	// reused.
	lastID int

	// used is the number of the rules in the store added by the engine.
	used int
}

// NewEngine returns a new properly initialized *Engine.  c must not be nil.
func NewEngine(c *EngineConfig) (e *Engine) {
	return &Engine{
		logger:   c.Logger,
		errColl:  c.ErrColl,
		compiler: c.Compiler,
		store:    c.Store,
		metrics:  c.Metrics,
		mu:       &sync.Mutex{},
		ruleIDs:  map[string][]int{},
	}
}

// Add deploys a single filter.
func (e *Engine) Add(ctx context.Context, f *filter.Filter) (err error) {
	return e.Update(ctx, []*filter.Filter{f}, nil)
}

// Remove undeploys a single filter.
func (e *Engine) Remove(ctx context.Context, f *filter.Filter) (err error) {
	return e.Update(ctx, nil, []*filter.Filter{f})
}

// Has returns true if the filter with text is deployed.
func (e *Engine) Has(text string) (ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	_, ok = e.ruleIDs[text]

	return ok
}

// Len returns the number of the deployed filters.
func (e *Engine) Len() (n int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	return len(e.ruleIDs)
}

// Update removes the filters in remove and deploys the filters in add as a
// single batch.  The batch is atomic: if the number of rules would exceed the
// ceiling of the store, [ErrTooManyRules] is returned, and if the store fails,
// the error has the type [*StoreError].  In both cases the state of both the
// engine and the store is left unchanged.
//
// Filters that fail to compile are reported and deployed without rules, so
// that they don't fail the batch.
func (e *Engine) Update(ctx context.Context, add, remove []*filter.Filter) (err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	removed := make(map[string]struct{}, len(remove))
	var removeIDs []int
	for _, f := range remove {
		ids, ok := e.ruleIDs[f.Text]
		if !ok {
			continue
		}

		if _, ok = removed[f.Text]; !ok {
			removed[f.Text] = struct{}{}
			removeIDs = append(removeIDs, ids...)
		}
	}

	added, newRules, lastID := e.compileBatch(ctx, add, removed)

	used := e.used - len(removeIDs) + len(newRules)
	if limit := e.store.MaxDynamicRules(); used > limit {
		return fmt.Errorf("%w: %d rules, max %d", ErrTooManyRules, used, limit)
	}

	if len(removeIDs) > 0 || len(newRules) > 0 {
		err = e.store.UpdateDynamicRules(ctx, removeIDs, newRules)
		if err != nil {
			return &StoreError{Err: err}
		}
	}

	for text := range removed {
		delete(e.ruleIDs, text)
	}

	for text, ids := range added {
		e.ruleIDs[text] = ids
	}

	e.lastID = lastID
	e.used = used
	e.metrics.SetRulesUsed(ctx, used)

	return nil
}

// compileBatch compiles the filters in add that aren't deployed yet and
// assigns identifiers to their rules.  removed are the texts of the filters
// that are undeployed within the same batch.  e.mu must be locked.
func (e *Engine) compileBatch(
	ctx context.Context,
	add []*filter.Filter,
	removed map[string]struct{},
) (added map[string][]int, rules []*Rule, lastID int) {
	added = make(map[string][]int, len(add))
	lastID = e.lastID
	for _, f := range add {
		if _, ok := added[f.Text]; ok {
			continue
		}

		if _, ok := e.ruleIDs[f.Text]; ok {
			if _, ok = removed[f.Text]; !ok {
				continue
			}
		}

		fRules, err := e.compiler.Compile(f)
		if err != nil {
			e.reportCompileError(ctx, err)
			added[f.Text] = nil

			continue
		}

		var ids []int
		for _, r := range fRules {
			lastID++
			r.ID = lastID
			ids = append(ids, lastID)
		}

		added[f.Text] = ids
		rules = append(rules, fRules...)
	}

	return added, rules, lastID
}

// reportCompileError logs unsupported filters and collects other compilation
// errors.
func (e *Engine) reportCompileError(ctx context.Context, err error) {
	if errors.Is(err, ErrUnsupported) {
		e.logger.DebugContext(ctx, "skipping filter", slogutil.KeyError, err)

		return
	}

	errcoll.Collect(ctx, e.errColl, e.logger, "compiling filter", err)
}

// Clear undeploys all filters and removes every rule from the store, including
// the ones added by previous runs.
func (e *Engine) Clear(ctx context.Context) (err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rules, err := e.store.DynamicRules(ctx)
	if err != nil {
		return &StoreError{Err: fmt.Errorf("getting rules: %w", err)}
	}

	if len(rules) > 0 {
		ids := make([]int, 0, len(rules))
		for _, r := range rules {
			ids = append(ids, r.ID)
			e.lastID = max(e.lastID, r.ID)
		}

		err = e.store.UpdateDynamicRules(ctx, ids, nil)
		if err != nil {
			return &StoreError{Err: err}
		}
	}

	clear(e.ruleIDs)
	e.used = 0
	e.metrics.SetRulesUsed(ctx, 0)

	return nil
}
