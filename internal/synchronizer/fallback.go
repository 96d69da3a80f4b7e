package synchronizer

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/AdguardTeam/FilterSync/internal/agdhttp"
	"github.com/AdguardTeam/FilterSync/internal/subscription"
	"github.com/AdguardTeam/FilterSync/internal/version"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
)

// Fallback answer codes.
const (
	fallbackCodeMoved = 301
	fallbackCodeGone  = 410
)

// fallbackAnswerRe matches the trimmed body of a fallback response.
var fallbackAnswerRe = regexp.MustCompile(`^(\d+)(?:\s+(\S+))?$`)

// fallbackParams are the values substituted into the fallback URL template.
type fallbackParams struct {
	// subURL is the URL of the failing subscription.
	subURL string

	// requestURL is the address of the failed request.
	requestURL string

	// status is the status of the failed download.
	status subscription.Status

	// code is the HTTP status code of the failed request, if any.
	code int
}

// ExpandFallbackURL substitutes the placeholders of template:
//
//   - %VERSION%: the version of the program;
//   - %SUBSCRIPTION%: the URL of the subscription;
//   - %URL%: the address of the failed request;
//   - %ERROR%: the resulting download status;
//   - %RESPONSESTATUS%: the HTTP status code or 0.
//
// All values are query-escaped.
func ExpandFallbackURL(
	template string,
	subURL string,
	requestURL string,
	status subscription.Status,
	code int,
) (u string) {
	r := strings.NewReplacer(
		"%VERSION%", url.QueryEscape(version.Version()),
		"%SUBSCRIPTION%", url.QueryEscape(subURL),
		"%URL%", url.QueryEscape(requestURL),
		"%ERROR%", url.QueryEscape(string(status)),
		"%RESPONSESTATUS%", strconv.Itoa(code),
	)

	return r.Replace(template)
}

// fallback requests the fallback address for sub and applies the answer.
// Errors are logged and reported.
func (s *Synchronizer) fallback(ctx context.Context, sub *subscription.Subscription, p *fallbackParams) {
	rawURL := ExpandFallbackURL(s.fallbackURL, p.subURL, p.requestURL, p.status, p.code)
	l := s.logger.With("url", p.subURL)
	l.InfoContext(ctx, "requesting fallback")

	code, target, err := s.fetchFallback(ctx, rawURL)
	if err != nil {
		l.WarnContext(ctx, "requesting fallback", slogutil.KeyError, err)

		return
	}

	switch code {
	case fallbackCodeMoved:
		if target == "" {
			l.WarnContext(ctx, "fallback redirect without target")

			return
		}

		l.InfoContext(ctx, "fallback redirect", "target", target)
		s.redirect(ctx, p.subURL, target)
	case fallbackCodeGone:
		text := "[Adblock]\n" + strings.Join(sub.Filters(), "\n")

		l.InfoContext(ctx, "subscription gone, keeping local copy")
		s.redirect(ctx, p.subURL, agdhttp.EncodeDataURL(text))
	default:
		l.DebugContext(ctx, "ignoring fallback answer", "code", code)
	}
}

// fetchFallback fetches rawURL and parses the answer.
func (s *Synchronizer) fetchFallback(
	ctx context.Context,
	rawURL string,
) (code int, target string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0, "", fmt.Errorf("parsing fallback url: %w", err)
	}

	resp, err := s.fetcher.Fetch(ctx, &agdhttp.Request{
		URL:    u,
		Method: http.MethodGet,
	})
	if err != nil {
		return 0, "", fmt.Errorf("fetching: %w", err)
	}

	err = agdhttp.CheckStatus(resp.Status, resp.Header)
	if err != nil {
		return 0, "", fmt.Errorf("fetching: %w", err)
	}

	return parseFallbackAnswer(resp.Body)
}

// parseFallbackAnswer parses the body of a fallback response.
func parseFallbackAnswer(body []byte) (code int, target string, err error) {
	m := fallbackAnswerRe.FindStringSubmatch(strings.TrimSpace(string(body)))
	if m == nil {
		return 0, "", fmt.Errorf("fallback answer: %w", errors.ErrBadEnumValue)
	}

	code, err = strconv.Atoi(m[1])
	if err != nil {
		return 0, "", fmt.Errorf("fallback code: %w", err)
	}

	return code, m[2], nil
}
