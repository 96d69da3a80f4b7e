// Package agdhttp contains common constants, functions, and types for working
// with HTTP, including the fetch capability used to download filter lists.
package agdhttp

import "github.com/AdguardTeam/FilterSync/internal/version"

// HTTP header value constants.
const (
	HdrValApplicationJSON = "application/json"
	HdrValNoStore         = "no-store"
	HdrValTextPlain       = "text/plain"
)

// userAgent is the cached User-Agent string for FilterSync.
var userAgent = version.Name() + "/" + version.Version()

// UserAgent returns the ID of the service as a User-Agent string.  It can also
// be used as the value of the Server HTTP header.
func UserAgent() (ua string) {
	return userAgent
}
