// Package errcoll contains implementations of error collectors, most notably
// Sentry.
package errcoll

import (
	"context"
	"log/slog"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
)

// Interface is the interface for error collectors that process information
// about errors, possibly sending them to a remote location.
type Interface interface {
	Collect(ctx context.Context, err error)
}

// Collect is a helper for reporting non-critical errors.  It writes the error
// into the log at the error level and also into errColl.
func Collect(ctx context.Context, errColl Interface, l *slog.Logger, msg string, err error) {
	l.ErrorContext(ctx, msg, slogutil.KeyError, err)
	errColl.Collect(ctx, err)
}

// ctxKey is the type for context keys of this package.
type ctxKey uint8

// ctxKeySubURL is the context key for the URL of the subscription being
// processed.
const ctxKeySubURL ctxKey = iota

// ContextWithSubscriptionURL returns a copy of the parent context with the
// subscription URL added.  The URL is reported as a tag by
// [SentryErrorCollector].
func ContextWithSubscriptionURL(parent context.Context, u string) (ctx context.Context) {
	return context.WithValue(parent, ctxKeySubURL, u)
}

// subscriptionURLFromContext returns the subscription URL from ctx, if any.
func subscriptionURLFromContext(ctx context.Context) (u string, ok bool) {
	u, ok = ctx.Value(ctxKeySubURL).(string)

	return u, ok
}
