package filterlistener

import (
	"context"
	"fmt"

	"github.com/AdguardTeam/FilterSync/internal/dnr"
	"github.com/AdguardTeam/FilterSync/internal/errcoll"
	"github.com/AdguardTeam/FilterSync/internal/filter"
	"github.com/AdguardTeam/FilterSync/internal/subscription"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
)

// override is a pending change of the filters of a subscription that isn't
// committed to the storage yet.
type override struct {
	added   map[string]struct{}
	removed map[string]struct{}
	subURL  string
}

// contains returns true if sub contains the filter with text taking the
// override into account.
func (o *override) contains(sub *subscription.Subscription, text string) (ok bool) {
	if o == nil || sub.URL() != o.subURL {
		return sub.HasFilter(text)
	}

	if _, ok = o.added[text]; ok {
		return true
	}

	if _, ok = o.removed[text]; ok {
		return false
	}

	return sub.HasFilter(text)
}

// parse returns the parsed filter for text.
func (l *Listener) parse(text string) (f *filter.Filter) {
	f, ok := l.parsed.Get(text)
	if ok {
		return f
	}

	f = filter.Parse(text)
	l.parsed.Set(text, f)

	return f
}

// canDeploy returns true if the filter is deployable from sub ignoring
// whether sub contains it.
func (l *Listener) canDeploy(f *filter.Filter, sub *subscription.Subscription) (ok bool) {
	switch {
	case
		!sub.IsValid(),
		sub.IsDisabled(),
		l.storage.IsFilterDisabled(f.Text, sub.URL()):
		return false
	case f.Kind.IsPrivileged():
		return sub.Info().Privileged
	default:
		return true
	}
}

// isActive returns true if f may be deployed at all.
func isActive(f *filter.Filter) (ok bool) {
	return f.Kind != filter.KindInvalid && f.Kind != filter.KindComment
}

// shouldDeploy returns true if at least one of subs deploys f.
func (l *Listener) shouldDeploy(
	f *filter.Filter,
	subs []*subscription.Subscription,
	o *override,
) (ok bool) {
	if !isActive(f) {
		return false
	}

	for _, sub := range subs {
		if o.contains(sub, f.Text) && l.canDeploy(f, sub) {
			return true
		}
	}

	return false
}

// reconcile brings the deployment state of the filters with texts in line
// with the storage.  l.mu must be locked.
func (l *Listener) reconcile(ctx context.Context, texts []string, o *override) (err error) {
	if len(texts) == 0 {
		return nil
	}

	subs := l.storage.Subscriptions()
	seen := make(map[string]struct{}, len(texts))

	var add, remove []*filter.Filter
	for _, text := range texts {
		if _, ok := seen[text]; ok {
			continue
		}

		seen[text] = struct{}{}

		f := l.parse(text)
		want, has := l.shouldDeploy(f, subs, o), l.engine.Has(text)
		switch {
		case want && !has:
			add = append(add, f)
		case !want && has:
			remove = append(remove, f)
		default:
			// Go on.
		}
	}

	return l.update(ctx, add, remove)
}

// update applies the change to the engine.  l.mu must be locked.
func (l *Listener) update(ctx context.Context, add, remove []*filter.Filter) (err error) {
	if len(add) == 0 && len(remove) == 0 {
		return nil
	}

	err = l.engine.Update(ctx, add, remove)
	l.metrics.ObserveDeploy(ctx, len(add), len(remove), err)
	if err != nil {
		return fmt.Errorf("updating engine: %w", err)
	}

	l.logger.DebugContext(ctx, "filters deployed", "added", len(add), "removed", len(remove))

	return nil
}

// redeploy clears the engine and deploys the filters of every subscription in
// order.  A subscription whose filters don't fit is skipped, and the ones
// after it are still deployed.  l.mu must be locked.
func (l *Listener) redeploy(ctx context.Context) (err error) {
	err = l.engine.Clear(ctx)
	if err != nil {
		return fmt.Errorf("clearing engine: %w", err)
	}

	deployed := map[string]struct{}{}
	for _, sub := range l.storage.Subscriptions() {
		var add []*filter.Filter
		for _, text := range sub.Filters() {
			if _, ok := deployed[text]; ok {
				continue
			}

			f := l.parse(text)
			if isActive(f) && l.canDeploy(f, sub) {
				deployed[text] = struct{}{}
				add = append(add, f)
			}
		}

		err = l.update(ctx, add, nil)
		if err == nil {
			continue
		}

		for _, f := range add {
			delete(deployed, f.Text)
		}

		if errors.Is(err, dnr.ErrTooManyRules) {
			l.logger.WarnContext(ctx, "skipping subscription", "url", sub.URL(), slogutil.KeyError, err)
		} else {
			errcoll.Collect(ctx, l.errColl, l.logger, "deploying subscription", err)
		}
	}

	return nil
}
