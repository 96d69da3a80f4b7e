package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/AdguardTeam/FilterSync/internal/errcoll"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
)

// reportPanics reports all panics in Main using errColl, logs them, and
// repanics.  It must be called in a defer.
func reportPanics(ctx context.Context, errColl errcoll.Interface, l *slog.Logger) {
	v := recover()
	if v == nil {
		return
	}

	err, ok := v.(error)
	if !ok {
		err = fmt.Errorf("panic: %v", v)
	}

	errColl.Collect(ctx, err)
	if f, isFlusher := errColl.(errcoll.ErrorFlushCollector); isFlusher {
		f.Flush()
	}

	l.ErrorContext(ctx, "recovered from panic", slogutil.KeyError, err)
	slogutil.PrintStack(ctx, l, slog.LevelError)

	panic(v)
}
