package synchronizer

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/url"
	"strconv"
	"time"

	"github.com/AdguardTeam/FilterSync/internal/agdhttp"
	"github.com/AdguardTeam/FilterSync/internal/dnr"
	"github.com/AdguardTeam/FilterSync/internal/errcoll"
	"github.com/AdguardTeam/FilterSync/internal/subscription"
	"github.com/AdguardTeam/FilterSync/internal/version"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/netutil/urlutil"
)

// maxDownloadCount is the maximum value of the downloadCount query parameter;
// larger counts are reported as "4+".
const maxDownloadCount = 4

// failure is a failed download.
type failure struct {
	// err is the underlying error, if any.
	err error

	// status is the status to set.
	status subscription.Status

	// code is the HTTP status code, if any.
	code int
}

// download downloads d and applies the result to sub.
func (s *Synchronizer) download(
	ctx context.Context,
	sub *subscription.Subscription,
	d *subscription.Downloadable,
) {
	defer slogutil.RecoverAndLog(ctx, s.logger)

	ctx = errcoll.ContextWithSubscriptionURL(ctx, d.URL)
	l := s.logger.With("url", d.URL, "method", d.Method, "diff", d.IsDiff)

	start := time.Now()
	status := s.downloadAndApply(ctx, sub, d)
	s.metrics.ObserveDownload(ctx, status, time.Since(start))

	l.DebugContext(ctx, "download finished", "status", status)
}

// downloadAndApply is the body of [Synchronizer.download].  status is the
// resulting status of the subscription.
func (s *Synchronizer) downloadAndApply(
	ctx context.Context,
	sub *subscription.Subscription,
	d *subscription.Downloadable,
) (status subscription.Status) {
	reqURL, body, f := s.fetch(ctx, d)
	if f != nil {
		s.fail(ctx, sub, d, reqURL, f)

		return f.status
	}

	now := s.clock.Now()
	if d.IsHead() {
		exp := subscription.NewExpiration(now, subscription.DefaultHeadExpiration, rand.Float64())
		s.storage.CommitHeadSuccess(ctx, sub, exp)

		return subscription.StatusOK
	}

	if d.IsDiff {
		return s.applyDiff(ctx, sub, d, reqURL, body, now)
	}

	return s.applyFull(ctx, sub, d, reqURL, body, now)
}

// fetch downloads d.  Data URLs are decoded locally.  reqURL is the address
// that was requested, if any.
func (s *Synchronizer) fetch(
	ctx context.Context,
	d *subscription.Downloadable,
) (reqURL string, body []byte, f *failure) {
	if agdhttp.IsDataURL(d.RedirectURL) {
		body, err := agdhttp.DecodeDataURL(d.RedirectURL)
		if err != nil {
			return "", nil, &failure{err: err, status: subscription.StatusInvalidURL}
		}

		return d.RedirectURL, body, nil
	}

	u, err := s.requestURL(d)
	if err != nil {
		return "", nil, &failure{err: err, status: subscription.StatusInvalidURL}
	}

	reqURL = u.String()
	resp, err := s.fetcher.Fetch(ctx, &agdhttp.Request{
		URL:    u,
		Method: d.Method,
	})
	if err != nil {
		return reqURL, nil, &failure{err: err, status: subscription.StatusConnectionError}
	}

	err = agdhttp.CheckStatus(resp.Status, resp.Header)
	if err != nil {
		return reqURL, nil, &failure{
			err:    err,
			status: subscription.StatusConnectionError,
			code:   resp.Status,
		}
	}

	return reqURL, resp.Body, nil
}

// requestURL returns the address to fetch for d with the query parameters
// describing the client and the current content.
func (s *Synchronizer) requestURL(d *subscription.Downloadable) (u *url.URL, err error) {
	u, err = url.Parse(d.RedirectURL)
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return nil, err
	}

	if !urlutil.IsValidHTTPURLScheme(u.Scheme) {
		return nil, fmt.Errorf("scheme: %w: %q", errors.ErrBadEnumValue, u.Scheme)
	}

	downloadCount := strconv.Itoa(d.DownloadCount)
	if d.DownloadCount >= maxDownloadCount {
		downloadCount = strconv.Itoa(maxDownloadCount) + "+"
	}

	q := u.Query()
	q.Set("addonName", version.Name())
	q.Set("addonVersion", version.Version())
	q.Set("platform", s.platform)
	q.Set("lastVersion", strconv.FormatInt(d.LastVersion, 10))
	q.Set("disabled", strconv.FormatBool(d.Disabled))
	q.Set("downloadCount", downloadCount)
	u.RawQuery = q.Encode()

	return u, nil
}

// applyFull applies a downloaded filter list.
func (s *Synchronizer) applyFull(
	ctx context.Context,
	sub *subscription.Subscription,
	d *subscription.Downloadable,
	reqURL string,
	body []byte,
	now time.Time,
) (status subscription.Status) {
	l, err := subscription.ParseList(string(body))
	if err != nil {
		f := &failure{err: err, status: subscription.StatusInvalidData}
		s.fail(ctx, sub, d, reqURL, f)

		return f.status
	}

	if l.Redirect != "" {
		return s.redirect(ctx, d.URL, l.Redirect)
	}

	added, removed := fullDelta(sub.Filters(), l.Filters)
	err = s.deployer.ApplyUpdate(ctx, sub, added, removed)
	if err != nil {
		return s.failDeploy(ctx, sub, err, subscription.StatusTooManyFilters, subscription.StatusDNRError)
	}

	ivl := subscription.ParseExpires(l.Expires, subscription.DefaultExpiration)
	s.storage.CommitFullUpdate(ctx, sub, l, subscription.NewExpiration(now, ivl, rand.Float64()))

	return subscription.StatusOK
}

// applyDiff applies a downloaded diff.
func (s *Synchronizer) applyDiff(
	ctx context.Context,
	sub *subscription.Subscription,
	d *subscription.Downloadable,
	reqURL string,
	body []byte,
	now time.Time,
) (status subscription.Status) {
	diff, err := subscription.ParseDiff(body)
	if err != nil {
		f := &failure{err: err, status: subscription.StatusInvalidData}
		s.fail(ctx, sub, d, reqURL, f)

		return f.status
	}

	added, removed := diffDelta(sub, diff)
	err = s.deployer.ApplyUpdate(ctx, sub, added, removed)
	if err != nil {
		return s.failDeploy(
			ctx,
			sub,
			err,
			subscription.StatusDiffTooManyFilters,
			subscription.StatusDiffError,
		)
	}

	exp := subscription.NewExpiration(now, subscription.DefaultHeadExpiration, rand.Float64())
	s.storage.CommitDiffUpdate(ctx, sub, diff, exp)

	return subscription.StatusOK
}

// failDeploy records a failure to deploy the filters of sub.  The content of
// sub stays unchanged.
func (s *Synchronizer) failDeploy(
	ctx context.Context,
	sub *subscription.Subscription,
	err error,
	tooMany subscription.Status,
	other subscription.Status,
) (status subscription.Status) {
	status = other
	if errors.Is(err, dnr.ErrTooManyRules) {
		status = tooMany
		s.logger.WarnContext(ctx, "deploying filters", "url", sub.URL(), slogutil.KeyError, err)
	} else {
		errcoll.Collect(ctx, s.errColl, s.logger, "deploying filters", err)
	}

	s.storage.CommitStatus(ctx, sub, status)

	return status
}

// fail records the failed download f of sub and requests the fallback if
// necessary.
func (s *Synchronizer) fail(
	ctx context.Context,
	sub *subscription.Subscription,
	d *subscription.Downloadable,
	reqURL string,
	f *failure,
) {
	s.logger.InfoContext(
		ctx,
		"download failed",
		"url", d.URL,
		"status", f.status,
		slogutil.KeyError, f.err,
	)

	needFallback := s.storage.CommitFailure(ctx, sub, f.status, d.Manual, s.fallbackThreshold)
	if !needFallback || s.fallbackURL == "" {
		return
	}

	s.fallback(ctx, sub, &fallbackParams{
		subURL:     d.URL,
		requestURL: reqURL,
		status:     f.status,
		code:       f.code,
	})
}

// redirect moves the subscription with URL from to URL to.
func (s *Synchronizer) redirect(ctx context.Context, from, to string) (status subscription.Status) {
	_, err := s.storage.Rehome(ctx, from, to)
	if err != nil {
		errcoll.Collect(ctx, s.errColl, s.logger, "redirecting subscription", err)

		return subscription.StatusInvalidData
	}

	return subscription.StatusOK
}

// fullDelta returns the filters of next that aren't in cur and the filters of
// cur that aren't in next.
func fullDelta(cur, next []string) (added, removed []string) {
	curSet := make(map[string]struct{}, len(cur))
	for _, text := range cur {
		curSet[text] = struct{}{}
	}

	nextSet := make(map[string]struct{}, len(next))
	for _, text := range next {
		if _, ok := nextSet[text]; ok {
			continue
		}

		nextSet[text] = struct{}{}
		if _, ok := curSet[text]; !ok {
			added = append(added, text)
		}
	}

	for _, text := range cur {
		if _, ok := nextSet[text]; !ok {
			removed = append(removed, text)
		}
	}

	return added, removed
}

// diffDelta returns the filters that applying diff adds to and removes from
// sub.  Filters that the diff both removes and adds are kept.
func diffDelta(sub *subscription.Subscription, diff *subscription.Diff) (added, removed []string) {
	addedSet := make(map[string]struct{}, len(diff.Added))
	for _, text := range diff.Added {
		if _, ok := addedSet[text]; ok {
			continue
		}

		addedSet[text] = struct{}{}
		if !sub.HasFilter(text) {
			added = append(added, text)
		}
	}

	removedSet := make(map[string]struct{}, len(diff.Removed))
	for _, text := range diff.Removed {
		_, seen := removedSet[text]
		_, readded := addedSet[text]
		if seen || readded || !sub.HasFilter(text) {
			continue
		}

		removedSet[text] = struct{}{}
		removed = append(removed, text)
	}

	return added, removed
}
