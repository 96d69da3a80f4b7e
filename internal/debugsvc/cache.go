package debugsvc

import (
	"net/http"

	"github.com/AdguardTeam/FilterSync/internal/agdcache"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
)

// cacheHandler performs debug cache purges.
type cacheHandler struct {
	manager *agdcache.Manager
}

// type check
var _ http.Handler = (*cacheHandler)(nil)

// ServeHTTP implements the [http.Handler] interface for *cacheHandler.
func (h *cacheHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := slogutil.MustLoggerFromContext(ctx)

	reqIDs, ok := decodeIDs(ctx, l, w, r)
	if !ok {
		return
	}

	ids, err := expandIDs(reqIDs, h.manager.IDs())
	if err != nil {
		l.ErrorContext(ctx, "validating request", slogutil.KeyError, err)
		http.Error(w, err.Error(), http.StatusBadRequest)

		return
	}

	resp := &resultsResponse{
		Results: make(map[string]string, len(ids)),
	}

	for _, id := range ids {
		if h.manager.Clear(id) {
			resp.Results[id] = "ok"
		} else {
			resp.Results[id] = "error: cache not found"
		}
	}

	writeJSON(ctx, l, w, resp)
}
