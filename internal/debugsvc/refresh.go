package debugsvc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"time"

	"github.com/AdguardTeam/FilterSync/internal/agdhttp"
	"github.com/AdguardTeam/FilterSync/internal/agdservice"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/httphdr"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
)

// RefresherID is a type alias for strings that represent IDs of refreshers.
type RefresherID = string

// Refreshers is a type alias for maps of refresher IDs to Refreshers
// themselves.
type Refreshers map[RefresherID]agdservice.Refresher

// idWildcard is the ID that means all IDs.
const idWildcard = "*"

// refreshHandler performs debug refreshes.
type refreshHandler struct {
	refrs Refreshers
}

// idsRequest describes the requests to the POST /debug/api/refresh and POST
// /debug/api/cache/clear HTTP APIs.
type idsRequest struct {
	IDs []string `json:"ids"`
}

// resultsResponse describes the responses to the POST /debug/api/refresh and
// POST /debug/api/cache/clear HTTP APIs.
type resultsResponse struct {
	Results map[string]string `json:"results"`
}

// type check
var _ http.Handler = (*refreshHandler)(nil)

// ServeHTTP implements the [http.Handler] interface for *refreshHandler.
func (h *refreshHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := slogutil.MustLoggerFromContext(ctx)

	reqIDs, ok := decodeIDs(ctx, l, w, r)
	if !ok {
		return
	}

	ids, err := expandIDs(reqIDs, slices.Sorted(maps.Keys(h.refrs)))
	if err != nil {
		l.ErrorContext(ctx, "validating request", slogutil.KeyError, err)
		http.Error(w, err.Error(), http.StatusBadRequest)

		return
	}

	resp := &resultsResponse{
		Results: make(map[string]string, len(ids)),
	}

	for _, id := range ids {
		resp.Results[id] = h.refresh(ctx, l, id)
	}

	writeJSON(ctx, l, w, resp)
}

// refresh performs a single refresh and returns the result as a string.
func (h *refreshHandler) refresh(ctx context.Context, l *slog.Logger, id RefresherID) (res string) {
	r, ok := h.refrs[id]
	if !ok {
		return "error: refresher not found"
	}

	start := time.Now()
	err := r.Refresh(ctx)
	if err != nil {
		l.ErrorContext(ctx, "refresher error", "id", id, slogutil.KeyError, err)

		return fmt.Sprintf("error: %s", err)
	}

	l.InfoContext(ctx, "refresh finished", "id", id, "duration", time.Since(start))

	return "ok"
}

// decodeIDs decodes the IDs request from r.  If ok is false, the error
// response has already been written to w.
func decodeIDs(
	ctx context.Context,
	l *slog.Logger,
	w http.ResponseWriter,
	r *http.Request,
) (ids []string, ok bool) {
	req := &idsRequest{}
	err := json.NewDecoder(r.Body).Decode(req)
	if err != nil {
		l.ErrorContext(ctx, "decoding request", slogutil.KeyError, err)
		http.Error(w, err.Error(), http.StatusBadRequest)

		return nil, false
	}

	return req.IDs, true
}

// expandIDs validates the form of the requested IDs and replaces the wildcard
// with all.
func expandIDs(reqIDs, all []string) (ids []string, err error) {
	switch len(reqIDs) {
	case 0:
		return nil, errors.Error("no ids")
	case 1:
		if reqIDs[0] == idWildcard {
			return all, nil
		}

		return reqIDs, nil
	default:
		if slices.Contains(reqIDs, idWildcard) {
			return nil, fmt.Errorf("%q cannot be used with other ids", idWildcard)
		}

		return reqIDs, nil
	}
}

// writeJSON writes v to w as JSON.
func writeJSON(ctx context.Context, l *slog.Logger, w http.ResponseWriter, v any) {
	w.Header().Set(httphdr.ContentType, agdhttp.HdrValApplicationJSON)
	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		l.ErrorContext(ctx, "writing response", slogutil.KeyError, err)
	}
}
