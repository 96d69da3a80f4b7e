package errcoll_test

import (
	"context"
	"testing"

	"github.com/AdguardTeam/FilterSync/internal/errcoll"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/stretchr/testify/assert"
)

// countingCollector is an [errcoll.Interface] implementation for tests.
type countingCollector struct {
	n int
}

// Collect implements the [errcoll.Interface] interface for
// *countingCollector.
func (c *countingCollector) Collect(_ context.Context, _ error) {
	c.n++
}

func TestRateLimitedCollector(t *testing.T) {
	under := &countingCollector{}
	c := errcoll.NewRateLimitedCollector(slogutil.NewDiscardLogger(), under, 0, 2)

	for range 5 {
		c.Collect(context.Background(), errors.Error("test error"))
	}

	assert.Equal(t, 2, under.n)
}
