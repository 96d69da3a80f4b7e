package filterlistener

import (
	"context"
	"fmt"

	"github.com/AdguardTeam/FilterSync/internal/filter"
	"github.com/AdguardTeam/golibs/errors"
)

// MultiEngine is an [Engine] that deploys the filters to several engines.  The
// first engine is the primary one: it decides which filters are deployed.
type MultiEngine struct {
	engines []Engine
}

// NewMultiEngine returns a new *MultiEngine.  engines must not be empty.
func NewMultiEngine(engines ...Engine) (e *MultiEngine) {
	return &MultiEngine{
		engines: engines,
	}
}

// type check
var _ Engine = (*MultiEngine)(nil)

// Update implements the [Engine] interface for *MultiEngine.  If one of the
// engines fails, the change is reverted in the ones that already applied it.
func (e *MultiEngine) Update(ctx context.Context, add, remove []*filter.Filter) (err error) {
	for i, eng := range e.engines {
		err = eng.Update(ctx, add, remove)
		if err == nil {
			continue
		}

		err = fmt.Errorf("engine at index %d: %w", i, err)
		for j := i - 1; j >= 0; j-- {
			rbErr := e.engines[j].Update(ctx, remove, add)
			if rbErr != nil {
				err = errors.Join(err, fmt.Errorf("rolling back engine at index %d: %w", j, rbErr))
			}
		}

		return err
	}

	return nil
}

// Has implements the [Engine] interface for *MultiEngine.
func (e *MultiEngine) Has(text string) (ok bool) {
	return e.engines[0].Has(text)
}

// Clear implements the [Engine] interface for *MultiEngine.
func (e *MultiEngine) Clear(ctx context.Context) (err error) {
	var errs []error
	for i, eng := range e.engines {
		clearErr := eng.Clear(ctx)
		if clearErr != nil {
			errs = append(errs, fmt.Errorf("engine at index %d: %w", i, clearErr))
		}
	}

	return errors.Join(errs...)
}
