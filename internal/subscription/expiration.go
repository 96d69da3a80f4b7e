package subscription

import (
	"regexp"
	"strconv"
	"time"

	"github.com/AdguardTeam/golibs/timeutil"
)

// Expiration intervals.
const (
	// DefaultExpiration is the interval used when a downloaded list doesn't
	// declare one.
	DefaultExpiration = 5 * timeutil.Day

	// DefaultHeadExpiration is the interval used after a ping.
	DefaultHeadExpiration = 1 * timeutil.Day

	// MinExpiration is the minimum declared interval.
	MinExpiration = 1 * timeutil.Day

	// MaxExpiration is the maximum declared interval.
	MaxExpiration = 14 * timeutil.Day
)

// expiresRe matches the values of the Expires metadata, for example "4 days"
// or "12 hours".
var expiresRe = regexp.MustCompile(`^(\d+)\s*(h)?`)

// ParseExpires returns the interval declared by the Expires metadata value s
// clamped to [MinExpiration, MaxExpiration].  If s is empty or malformed, def
// is returned.
func ParseExpires(s string, def time.Duration) (ivl time.Duration) {
	m := expiresRe.FindStringSubmatch(s)
	if m == nil {
		return def
	}

	n, err := strconv.ParseInt(m[1], 10, 32)
	if err != nil || n <= 0 {
		return def
	}

	unit := timeutil.Day
	if m[2] != "" {
		unit = time.Hour
	}

	return min(max(time.Duration(n)*unit, MinExpiration), MaxExpiration)
}

// Expiration is the pair of expiration times of a subscription.
type Expiration struct {
	// Soft is the time after which an update is scheduled.
	Soft time.Time

	// Hard is the time after which an update is scheduled regardless of the
	// soft expiration.
	Hard time.Time
}

// NewExpiration returns the expiration times for an interval starting at now.
// jitter must be in [0, 1) and spreads the soft expiration over 80 to 120
// percent of ivl.
func NewExpiration(now time.Time, ivl time.Duration, jitter float64) (exp Expiration) {
	soft := ivl/5*4 + time.Duration(float64(ivl/5*2)*jitter)

	return Expiration{
		Soft: now.Add(soft),
		Hard: now.Add(2 * ivl),
	}
}
