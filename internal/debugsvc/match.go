package debugsvc

import (
	"net/http"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
)

// matchHandler matches hostnames against the deployed filters.
type matchHandler struct {
	matcher HostMatcher
}

// matchResponse describes the response to the GET /debug/api/match HTTP API.
type matchResponse struct {
	Filter  string `json:"filter,omitempty"`
	Matched bool   `json:"matched"`
	Allowed bool   `json:"allowed"`
}

// type check
var _ http.Handler = (*matchHandler)(nil)

// ServeHTTP implements the [http.Handler] interface for *matchHandler.
func (h *matchHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := slogutil.MustLoggerFromContext(ctx)

	host := r.URL.Query().Get("host")
	if host == "" {
		http.Error(w, "no host", http.StatusBadRequest)

		return
	}

	res, err := h.matcher.MatchHost(ctx, host)
	if err != nil {
		l.ErrorContext(ctx, "matching host", "host", host, slogutil.KeyError, err)
		http.Error(w, err.Error(), http.StatusInternalServerError)

		return
	}

	resp := &matchResponse{}
	if res != nil {
		resp.Filter = res.FilterText
		resp.Matched = true
		resp.Allowed = res.Allowed
	}

	writeJSON(ctx, l, w, resp)
}
