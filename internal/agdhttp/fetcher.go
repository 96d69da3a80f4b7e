package agdhttp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/httphdr"
	"github.com/AdguardTeam/golibs/ioutil"
	"github.com/AdguardTeam/golibs/netutil/urlutil"
	"github.com/c2h5oh/datasize"
)

// Request is a single fetch request.
type Request struct {
	// URL is the address to fetch.  It must not be nil.
	URL *url.URL

	// Method is either [http.MethodGet] or [http.MethodHead].
	Method string
}

// Response is the result of a fetch.  A non-2xx status is not an error at this
// level.
type Response struct {
	// Header contains the response headers.  It is never nil.
	Header http.Header

	// Body is the response body.  It is empty for HEAD requests.
	Body []byte

	// Status is the HTTP status code.
	Status int
}

// Fetcher is the network fetch capability.  All methods must be safe for
// concurrent use.
type Fetcher interface {
	// Fetch performs req.  Transport errors are returned as err, HTTP statuses
	// are reported in resp.
	Fetch(ctx context.Context, req *Request) (resp *Response, err error)
}

// HTTPFetcher is a [Fetcher] that uses a [Client].
type HTTPFetcher struct {
	logger  *slog.Logger
	client  *Client
	maxSize datasize.ByteSize
}

// HTTPFetcherConfig is the configuration structure for [NewHTTPFetcher].
type HTTPFetcherConfig struct {
	// Logger is used to log requests.  It must not be nil.
	Logger *slog.Logger

	// Client is the HTTP client.  It must not be nil.
	Client *Client

	// MaxSize is the maximum size of a response body.  It must be positive.
	MaxSize datasize.ByteSize
}

// NewHTTPFetcher returns a new properly initialized *HTTPFetcher.  c must not
// be nil.
func NewHTTPFetcher(c *HTTPFetcherConfig) (f *HTTPFetcher) {
	return &HTTPFetcher{
		logger:  c.Logger,
		client:  c.Client,
		maxSize: c.MaxSize,
	}
}

// type check
var _ Fetcher = (*HTTPFetcher)(nil)

// Fetch implements the [Fetcher] interface for *HTTPFetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, req *Request) (resp *Response, err error) {
	httpResp, err := f.client.Do(ctx, req.Method, req.URL)
	if err != nil {
		return nil, fmt.Errorf("requesting: %w", err)
	}
	defer func() { err = errors.WithDeferred(err, httpResp.Body.Close()) }()

	f.logger.DebugContext(
		ctx,
		"got response",
		"method", req.Method,
		"code", httpResp.StatusCode,
		"content-length", httpResp.ContentLength,
		"server", httpResp.Header.Get(httphdr.Server),
		"url", urlutil.RedactUserinfo(req.URL),
	)

	buf := &bytes.Buffer{}
	if req.Method != http.MethodHead {
		_, err = io.Copy(buf, ioutil.LimitReader(httpResp.Body, f.maxSize.Bytes()))
		if err != nil {
			return nil, WrapServerError(fmt.Errorf("reading body: %w", err), httpResp)
		}
	}

	return &Response{
		Header: httpResp.Header,
		Body:   buf.Bytes(),
		Status: httpResp.StatusCode,
	}, nil
}
