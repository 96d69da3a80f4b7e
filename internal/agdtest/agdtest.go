// Package agdtest contains simple mocks for common interfaces and other test
// utilities.
package agdtest

import (
	"context"
	"fmt"
	"testing"
)

// NewErrorCollector returns a new *ErrorCollector all methods of which panic.
func NewErrorCollector() (c *ErrorCollector) {
	return &ErrorCollector{
		OnCollect: func(_ context.Context, err error) {
			panic(fmt.Errorf("unexpected call to ErrorCollector.Collect(%v)", err))
		},
	}
}

// NewErrorCollectorRequireNoCalls returns an *ErrorCollector that fails the
// test on every call.
func NewErrorCollectorRequireNoCalls(tb testing.TB) (c *ErrorCollector) {
	tb.Helper()

	return &ErrorCollector{
		OnCollect: func(_ context.Context, err error) {
			tb.Errorf("unexpected error collected: %v", err)
		},
	}
}
