package agdhttp

import (
	"fmt"
	"net/http"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/httphdr"
)

// StatusError is returned when the HTTP status code is not a successful one.
type StatusError struct {
	ServerName string
	Got        int
}

// type check
var _ error = (*StatusError)(nil)

// Error implements the error interface for *StatusError.
func (err *StatusError) Error() (msg string) {
	return fmt.Sprintf("server %q: status code error: expected 2xx, got %d", err.ServerName, err.Got)
}

// IsSuccess returns true if code is a 2xx status code.
func IsSuccess(code int) (ok bool) {
	return code >= http.StatusOK && code < http.StatusMultipleChoices
}

// CheckStatus returns a *StatusError if status is not a 2xx one.  hdr may be
// nil.
func CheckStatus(status int, hdr http.Header) (err error) {
	if IsSuccess(status) {
		return nil
	}

	return &StatusError{
		ServerName: hdr.Get(httphdr.Server),
		Got:        status,
	}
}

// ServerError is returned as general error in case header Server was specified.
type ServerError struct {
	Err        error
	ServerName string
}

// type check
var _ error = (*ServerError)(nil)

// Error implements the error interface for *ServerError.
func (err *ServerError) Error() (msg string) {
	return fmt.Sprintf("server %q: %s", err.ServerName, err.Err)
}

// type check
var _ errors.Wrapper = (*ServerError)(nil)

// Unwrap implements the errors.Wrapper interface for *ServerError.
func (err *ServerError) Unwrap() (unwrapped error) {
	return err.Err
}

// WrapServerError wraps err inside a *ServerError including data from resp.
// resp must not be nil.
func WrapServerError(err error, resp *http.Response) (wrapped *ServerError) {
	return &ServerError{
		Err:        err,
		ServerName: resp.Header.Get(httphdr.Server),
	}
}
