package agdservice_test

import (
	"time"

	"github.com/AdguardTeam/golibs/errors"
)

// sig is a convenient alias for struct{} when it's used as a signal for
// synchronization.
type sig = struct{}

// Common constants for tests.
const (
	testTimeout              = 1 * time.Second
	testIvl                  = 5 * time.Millisecond
	testIvlLong              = 1 * time.Hour
	testError   errors.Error = "test error"
)
