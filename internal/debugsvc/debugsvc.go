// Package debugsvc contains the debug HTTP API of FilterSync.
package debugsvc

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/AdguardTeam/FilterSync/internal/agdcache"
	"github.com/AdguardTeam/FilterSync/internal/matcher"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/service"
)

// HostMatcher matches hostnames against the deployed filters.
type HostMatcher interface {
	// MatchHost returns the result of matching host.  res is nil if no filter
	// matches.
	MatchHost(ctx context.Context, host string) (res *matcher.Result, err error)
}

// Config is the FilterSync debug HTTP service configuration structure.
type Config struct {
	// Logger is used for logging the operation of the service.  It must not be
	// nil.
	Logger *slog.Logger

	// Refreshers are the entities that can be refreshed through the API.
	Refreshers Refreshers

	// CacheManager contains the caches that can be cleared through the API.
	// It must not be nil.
	CacheManager *agdcache.Manager

	// Matcher is used by the host-matching API.  It must not be nil.
	Matcher HostMatcher

	// APIAddr is the address of the health check and the debug API.
	APIAddr string

	// PprofAddr is the address of the pprof handlers.  If empty, pprof is
	// not served.
	PprofAddr string

	// PrometheusAddr is the address of the metrics handler.  If empty, the
	// metrics are not served.
	PrometheusAddr string
}

// Service is the HTTP service of FilterSync.  It serves prometheus metrics,
// pprof, health check, and the debug API.
type Service struct {
	logger    *slog.Logger
	refrHdlr  *refreshHandler
	cacheHdlr *cacheHandler
	matchHdlr *matchHandler
	servers   map[string]*server
}

// New returns a new properly initialized *Service.  c must not be nil.
func New(c *Config) (svc *Service) {
	svc = &Service{
		logger: c.Logger,
		refrHdlr: &refreshHandler{
			refrs: c.Refreshers,
		},
		cacheHdlr: &cacheHandler{
			manager: c.CacheManager,
		},
		matchHdlr: &matchHandler{
			matcher: c.Matcher,
		},
		servers: map[string]*server{},
	}

	svc.addServer(c.APIAddr, handlerGroupAPI)
	svc.addServer(c.PprofAddr, handlerGroupPprof)
	svc.addServer(c.PrometheusAddr, handlerGroupPrometheus)

	svc.route(c)

	return svc
}

// Handler group names.
const (
	handlerGroupAPI        = "api"
	handlerGroupPprof      = "pprof"
	handlerGroupPrometheus = "prometheus"
)

// server is a single server within the FilterSync debug HTTP service.
type server struct {
	http *http.Server
	name string
}

// addServer adds a server for the handler group name listening on addr,
// reusing the server if another group already listens there.  If addr is
// empty, no server is added.
func (svc *Service) addServer(addr, name string) {
	if addr == "" {
		return
	}

	if srv, ok := svc.servers[addr]; ok {
		srv.name += ";" + name

		return
	}

	svc.servers[addr] = &server{
		// #nosec G112 -- Do not set the timeouts, since debug/pprof and
		// similar debug APIs may be busy for a long time.
		http: &http.Server{
			Addr:    addr,
			Handler: http.NewServeMux(),
		},
		name: name,
	}
}

// type check
var _ service.Interface = (*Service)(nil)

// Start implements the [service.Interface] interface for *Service.  It starts
// listening on all addresses and serving in the background.
func (svc *Service) Start(ctx context.Context) (err error) {
	var errs []error
	for _, srv := range svc.servers {
		var ln net.Listener
		ln, err = net.Listen("tcp", srv.http.Addr)
		if err != nil {
			errs = append(errs, fmt.Errorf("server %q: %w", srv.name, err))

			continue
		}

		svc.logger.InfoContext(ctx, "listening", "name", srv.name, "addr", ln.Addr())

		go svc.serve(ctx, srv, ln)
	}

	return errors.Join(errs...)
}

// serve serves srv on ln until the server is shut down.  It is intended to be
// used as a goroutine.
func (svc *Service) serve(ctx context.Context, srv *server, ln net.Listener) {
	defer slogutil.RecoverAndLog(ctx, svc.logger)

	err := srv.http.Serve(ln)
	if !errors.Is(err, http.ErrServerClosed) {
		svc.logger.ErrorContext(ctx, "serving", "name", srv.name, slogutil.KeyError, err)
	}
}

// Shutdown implements the [service.Interface] interface for *Service.  It stops
// serving all endpoints.
func (svc *Service) Shutdown(ctx context.Context) (err error) {
	var errs []error
	for _, srv := range svc.servers {
		err = srv.http.Shutdown(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("server %q shutdown: %w", srv.name, err))

			continue
		}

		svc.logger.InfoContext(ctx, "server is shutdown", "name", srv.name)
	}

	return errors.Join(errs...)
}
