package subscription

import (
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/AdguardTeam/golibs/container"
	"github.com/AdguardTeam/golibs/errors"
)

// Persisted field keys.
const (
	keyURL            = "url"
	keyTitle          = "title"
	keyFixedTitle     = "fixedTitle"
	keyDisabled       = "disabled"
	keyHomepage       = "homepage"
	keyLastDownload   = "lastDownload"
	keyLastSuccess    = "lastSuccess"
	keyLastCheck      = "lastCheck"
	keyExpires        = "expires"
	keySoftExpiration = "softExpiration"
	keyErrors         = "errors"
	keyVersion        = "version"
	keyDownloadStatus = "downloadStatus"
	keyDownloadCount  = "downloadCount"
	keyDiffURL        = "diffURL"
	keyPrivileged     = "privileged"
)

// Record is the persisted form of a subscription.
type Record struct {
	// Fields are the persisted fields in order.  Fields with default values
	// are omitted.
	Fields container.KeyValues[string, string]

	// Filters are the filter texts in order.
	Filters []string
}

// Value returns the value of the field with key.
func (r *Record) Value(key string) (val string, ok bool) {
	for _, kv := range r.Fields {
		if kv.Key == key {
			return kv.Value, true
		}
	}

	return "", false
}

// Record returns the persisted form of s.
func (s *Subscription) Record() (rec *Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := &s.info
	rec = &Record{
		Filters: slices.Clone(s.filters),
	}

	add := func(key, val string) {
		rec.Fields = append(rec.Fields, container.KeyValue[string, string]{
			Key:   key,
			Value: val,
		})
	}

	addString := func(key, val string) {
		if val != "" {
			add(key, val)
		}
	}

	addBool := func(key string, val bool) {
		if val {
			add(key, "true")
		}
	}

	addTime := func(key string, val time.Time) {
		if !val.IsZero() {
			add(key, strconv.FormatInt(val.Unix(), 10))
		}
	}

	addInt := func(key string, val int64) {
		if val != 0 {
			add(key, strconv.FormatInt(val, 10))
		}
	}

	add(keyURL, info.URL)
	addString(keyTitle, info.Title)
	addBool(keyFixedTitle, info.FixedTitle)
	addBool(keyDisabled, info.Disabled)
	addString(keyHomepage, info.Homepage)
	addTime(keyLastDownload, info.LastDownload)
	addTime(keyLastSuccess, info.LastSuccess)
	addTime(keyLastCheck, info.LastCheck)
	addTime(keyExpires, info.HardExpiration)
	addTime(keySoftExpiration, info.SoftExpiration)
	addInt(keyErrors, int64(info.Errors))
	addInt(keyVersion, info.Version)

	if info.Status != StatusDownloading {
		addString(keyDownloadStatus, string(info.Status))
	}

	addInt(keyDownloadCount, int64(info.DownloadCount))
	addString(keyDiffURL, info.DiffURL())
	addBool(keyPrivileged, info.Privileged)

	return rec
}

// fromRecord sets the fields of s from rec.  The URL of rec must be the URL of
// s.
func (s *Subscription) fromRecord(rec *Record) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := &s.info
	var errs []error
	for _, kv := range rec.Fields {
		err = info.setField(kv.Key, kv.Value)
		if err != nil {
			errs = append(errs, fmt.Errorf("field %q: %w", kv.Key, err))
		}
	}

	if err = errors.Join(errs...); err != nil {
		return err
	}

	s.replaceFilters(rec.Filters)

	return nil
}

// setField sets a single persisted field of info.  Unknown keys are ignored.
func (info *Info) setField(key, val string) (err error) {
	switch key {
	case keyTitle:
		info.Title = val
	case keyFixedTitle:
		info.FixedTitle = val == "true"
	case keyDisabled:
		info.Disabled = val == "true"
	case keyHomepage:
		info.Homepage = val
	case keyDownloadStatus:
		info.Status = Status(val)
	case keyDiffURL:
		switch info.Strategy.(type) {
		case StrategyFull, StrategyDiff:
			info.Strategy = StrategyDiff{DiffURL: val}
		}
	case keyPrivileged:
		info.Privileged = info.Privileged || val == "true"
	case keyLastDownload, keyLastSuccess, keyLastCheck, keyExpires, keySoftExpiration:
		return info.setTime(key, val)
	case keyErrors, keyVersion, keyDownloadCount:
		return info.setInt(key, val)
	}

	return nil
}

// setTime sets a persisted timestamp field of info.
func (info *Info) setTime(key, val string) (err error) {
	sec, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return err
	}

	var t time.Time
	if sec != 0 {
		t = time.Unix(sec, 0)
	}

	switch key {
	case keyLastDownload:
		info.LastDownload = t
	case keyLastSuccess:
		info.LastSuccess = t
	case keyLastCheck:
		info.LastCheck = t
	case keyExpires:
		info.HardExpiration = t
	case keySoftExpiration:
		info.SoftExpiration = t
	}

	return nil
}

// setInt sets a persisted integer field of info.
func (info *Info) setInt(key, val string) (err error) {
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return err
	}

	switch key {
	case keyErrors:
		info.Errors = int(n)
	case keyVersion:
		info.Version = n
	case keyDownloadCount:
		info.DownloadCount = int(n)
	}

	return nil
}
