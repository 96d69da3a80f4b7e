package errcoll

import (
	"context"
	"log/slog"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"golang.org/x/time/rate"
)

// RateLimitedCollector is an [Interface] implementation that forwards errors
// to the underlying collector as long as the rate limit allows it and drops
// the rest.  It is used to keep a failing scheduler from flooding the remote
// collector.
type RateLimitedCollector struct {
	logger  *slog.Logger
	limiter *rate.Limiter
	errColl Interface
}

// NewRateLimitedCollector returns a new properly initialized
// *RateLimitedCollector.  l and errColl must not be nil.  limit is the number
// of reports per second, burst is the maximum number of reports at once.
func NewRateLimitedCollector(
	l *slog.Logger,
	errColl Interface,
	limit rate.Limit,
	burst int,
) (c *RateLimitedCollector) {
	return &RateLimitedCollector{
		logger:  l,
		limiter: rate.NewLimiter(limit, burst),
		errColl: errColl,
	}
}

// type check
var _ Interface = (*RateLimitedCollector)(nil)

// Collect implements the [Interface] interface for *RateLimitedCollector.
func (c *RateLimitedCollector) Collect(ctx context.Context, err error) {
	if !c.limiter.Allow() {
		c.logger.DebugContext(ctx, "dropping error report", slogutil.KeyError, err)

		return
	}

	c.errColl.Collect(ctx, err)
}
