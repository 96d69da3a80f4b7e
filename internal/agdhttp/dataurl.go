package agdhttp

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"

	"github.com/AdguardTeam/golibs/errors"
)

// SchemeData is the scheme of data URLs.
const SchemeData = "data"

// ErrNotDataURL is returned by [DecodeDataURL] when the URL isn't a data URL.
const ErrNotDataURL errors.Error = "not a data url"

// IsDataURL returns true if rawURL has the data scheme.
func IsDataURL(rawURL string) (ok bool) {
	return strings.HasPrefix(rawURL, SchemeData+":")
}

// DecodeDataURL returns the payload of an RFC 2397 data URL.
func DecodeDataURL(rawURL string) (data []byte, err error) {
	defer func() { err = errors.Annotate(err, "decoding data url: %w") }()

	rest, ok := strings.CutPrefix(rawURL, SchemeData+":")
	if !ok {
		return nil, ErrNotDataURL
	}

	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, errors.Error("no comma")
	}

	if strings.HasSuffix(meta, ";base64") {
		data, err = base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, fmt.Errorf("base64: %w", err)
		}

		return data, nil
	}

	payload, err = url.PathUnescape(payload)
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return nil, err
	}

	return []byte(payload), nil
}

// EncodeDataURL returns a plain-text data URL with text as the payload.
func EncodeDataURL(text string) (rawURL string) {
	return SchemeData + ":" + HdrValTextPlain + "," + url.PathEscape(text)
}
