// listserver contains a mock HTTP server for the subscription lists and the
// fallback endpoint.
package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/AdguardTeam/golibs/httphdr"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/osutil"
)

// listenAddr is the address the mock server listens on.
const listenAddr = "localhost:6062"

// Paths of the mock handlers.
const (
	pathList     = "/list.txt"
	pathBroken   = "/broken.txt"
	pathFallback = "/fallback"
)

func main() {
	l := slogutil.New(nil)

	srv := &mockListServer{
		logger: l,
	}

	mux := http.NewServeMux()
	mux.HandleFunc(pathList, srv.serveList)
	mux.HandleFunc(pathBroken, srv.serveBroken)
	mux.HandleFunc(pathFallback, srv.serveFallback)

	httpSrv := &http.Server{
		Addr:              listenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	l.Info("starting serving", "laddr", listenAddr)
	err := httpSrv.ListenAndServe()
	if err != nil {
		l.Error("serving http", slogutil.KeyError, err)

		os.Exit(osutil.ExitCodeFailure)
	}
}

// mockListServer serves a list that changes on every request, a list that
// always fails, and the fallback answers redirecting the failing list to the
// working one.
type mockListServer struct {
	logger *slog.Logger

	// version is incremented on every request of the list.
	version atomic.Int64
}

// serveList serves a small list with a new version on every request.
func (s *mockListServer) serveList(w http.ResponseWriter, r *http.Request) {
	v := s.version.Add(1)
	s.logger.InfoContext(r.Context(), "serving list", "version", v, "method", r.Method)

	w.Header().Set(httphdr.ContentType, "text/plain; charset=utf-8")

	if r.Method == http.MethodHead {
		return
	}

	lines := []string{
		"[Adblock Plus 2.0]",
		"! Title: Mock list",
		fmt.Sprintf("! Version: %d", v),
		"! Expires: 1 hours",
		"||ads.example^",
		"@@||allowed.ads.example^",
		fmt.Sprintf("||v%d.ads.example^", v),
	}

	_, err := w.Write([]byte(strings.Join(lines, "\n") + "\n"))
	if err != nil {
		s.logger.DebugContext(r.Context(), "writing list", slogutil.KeyError, err)
	}
}

// serveBroken always responds with a server error.
func (s *mockListServer) serveBroken(w http.ResponseWriter, r *http.Request) {
	s.logger.InfoContext(r.Context(), "serving broken list")

	http.Error(w, "broken", http.StatusInternalServerError)
}

// serveFallback redirects the broken list to the working one and answers
// "gone" for everything else.
func (s *mockListServer) serveFallback(w http.ResponseWriter, r *http.Request) {
	sub := r.URL.Query().Get("subscription")
	s.logger.InfoContext(
		r.Context(),
		"serving fallback",
		"subscription", sub,
		"error", r.URL.Query().Get("error"),
	)

	answer := "410"
	if strings.HasSuffix(sub, pathBroken) {
		answer = fmt.Sprintf("301 http://%s%s", listenAddr, pathList)
	}

	w.Header().Set(httphdr.ContentType, "text/plain")

	_, err := w.Write([]byte(answer))
	if err != nil {
		s.logger.DebugContext(r.Context(), "writing fallback", slogutil.KeyError, err)
	}
}
