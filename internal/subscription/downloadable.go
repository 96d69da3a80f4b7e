package subscription

import (
	"net/http"
	"time"
)

// Downloadable is a snapshot of the download-relevant fields of a
// subscription taken when a download starts.
type Downloadable struct {
	// LastError is the time of the last failed download, if the last download
	// failed.
	LastError time.Time

	// LastCheck is the time of the last scheduler check.
	LastCheck time.Time

	// SoftExpiration is the soft expiration of the subscription.
	SoftExpiration time.Time

	// HardExpiration is the hard expiration of the subscription.
	HardExpiration time.Time

	// URL is the key of the subscription.
	URL string

	// RedirectURL is the address to fetch.  It starts as the URL or the diff
	// URL and changes when the download is redirected.
	RedirectURL string

	// Method is either [http.MethodGet] or [http.MethodHead].
	Method string

	// LastVersion is the version of the current content.
	LastVersion int64

	// DownloadCount is the number of successful downloads.
	DownloadCount int

	// Disabled is true if the subscription is disabled.
	Disabled bool

	// Manual is true if the download was requested by the user.
	Manual bool

	// IsDiff is true if RedirectURL is the diff URL.
	IsDiff bool
}

// IsHead returns true if d is only a ping.
func (d *Downloadable) IsHead() (ok bool) {
	return d.Method == http.MethodHead
}

// Downloadable returns the download snapshot of s.  It returns nil if s is
// never downloaded.
//
// Disabled and countable subscriptions are pinged, as are diff subscriptions
// without a diff URL.  Diff subscriptions that were never downloaded get the
// full list.
func (s *Subscription) Downloadable(manual bool) (d *Downloadable) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := &s.info
	d = &Downloadable{
		URL:            info.URL,
		RedirectURL:    info.URL,
		Method:         http.MethodGet,
		LastCheck:      info.LastCheck,
		SoftExpiration: info.SoftExpiration,
		HardExpiration: info.HardExpiration,
		LastVersion:    info.Version,
		DownloadCount:  info.DownloadCount,
		Disabled:       info.Disabled,
		Manual:         manual,
	}

	if !info.LastDownload.Equal(info.LastSuccess) {
		d.LastError = info.LastDownload
	}

	switch strat := info.Strategy.(type) {
	case StrategySpecial:
		return nil
	case StrategyCountable:
		d.Method = http.MethodHead
	case StrategyDiff:
		switch {
		case info.Disabled, strat.DiffURL == "" && !info.LastSuccess.IsZero():
			d.Method = http.MethodHead
		case info.LastSuccess.IsZero():
			// Get the full list first, the diffs are relative to it.
		default:
			d.RedirectURL = strat.DiffURL
			d.IsDiff = true
		}
	default:
		if info.Disabled {
			d.Method = http.MethodHead
		}
	}

	return d
}
