package subscription

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/AdguardTeam/FilterSync/internal/filter"
	"github.com/AdguardTeam/golibs/errors"
)

// ErrInvalidData is returned when a downloaded payload cannot be parsed.
const ErrInvalidData errors.Error = "invalid data"

// headerRe matches the header line of a filter list.
var headerRe = regexp.MustCompile(`(?i)\[Adblock.*\]`)

// metadataRe matches metadata comments of a filter list.
var metadataRe = regexp.MustCompile(`^!\s*([\w-]+)\s*:\s*(.*)$`)

// Metadata keys, lowercased.
const (
	metaChecksum = "checksum"
	metaDiffURL  = "diff-url"
	metaExpires  = "expires"
	metaHomepage = "homepage"
	metaRedirect = "redirect"
	metaTitle    = "title"
	metaVersion  = "version"
)

// List is a parsed filter list.
type List struct {
	// Header is the header line.
	Header string

	// Title is the value of the Title metadata.
	Title string

	// Homepage is the value of the Homepage metadata.
	Homepage string

	// Expires is the value of the Expires metadata.
	Expires string

	// Redirect is the value of the Redirect metadata.  If it's not empty, the
	// subscription has moved and the filters must not be used.
	Redirect string

	// DiffURL is the value of the Diff-URL metadata.
	DiffURL string

	// Filters are the normalized filter texts in order.  Comments that aren't
	// metadata are kept.
	Filters []string

	// Version is the value of the Version metadata or zero.
	Version int64
}

// ParseList parses a downloaded filter list.  Any error returned wraps
// [ErrInvalidData].
func ParseList(text string) (l *List, err error) {
	lines := strings.Split(strings.ReplaceAll(text, "\r", ""), "\n")

	header := strings.TrimSpace(lines[0])
	if !headerRe.MatchString(header) {
		return nil, fmt.Errorf("%w: no list header", ErrInvalidData)
	}

	l = &List{
		Header: header,
	}

	seen := map[string]bool{}
	for _, line := range lines[1:] {
		text := filter.Normalize(line)
		if text == "" {
			continue
		}

		if m := metadataRe.FindStringSubmatch(text); m != nil {
			key := strings.ToLower(m[1])
			if l.setMetadata(key, strings.TrimSpace(m[2]), seen) {
				continue
			}
		}

		l.Filters = append(l.Filters, text)
	}

	return l, nil
}

// setMetadata sets the metadata field for key.  ok is false if key isn't a
// known metadata key, in which case the line is an ordinary comment.  Only the
// first value of every key is used.
func (l *List) setMetadata(key, val string, seen map[string]bool) (ok bool) {
	var field *string
	switch key {
	case metaChecksum:
		return true
	case metaDiffURL:
		field = &l.DiffURL
	case metaExpires:
		field = &l.Expires
	case metaHomepage:
		field = &l.Homepage
	case metaRedirect:
		field = &l.Redirect
	case metaTitle:
		field = &l.Title
	case metaVersion:
		if !seen[key] {
			l.Version, _ = strconv.ParseInt(val, 10, 64)
		}
	default:
		return false
	}

	if field != nil && !seen[key] {
		*field = val
	}

	seen[key] = true

	return true
}

// Diff is a parsed diff of a filter list.
type Diff struct {
	// Added are the texts of the added filters.
	Added []string

	// Removed are the texts of the removed filters.
	Removed []string
}

// jsonDiff is the JSON structure of a diff.
type jsonDiff struct {
	Filters *struct {
		Add    []string `json:"add"`
		Remove []string `json:"remove"`
	} `json:"filters"`
}

// ParseDiff parses a downloaded diff.  Any error returned wraps
// [ErrInvalidData].
func ParseDiff(b []byte) (d *Diff, err error) {
	jd := &jsonDiff{}
	err = json.Unmarshal(b, jd)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidData, err)
	}

	if jd.Filters == nil {
		return nil, fmt.Errorf("%w: filters: %w", ErrInvalidData, errors.ErrNoValue)
	}

	return &Diff{
		Added:   normalizeAll(jd.Filters.Add),
		Removed: normalizeAll(jd.Filters.Remove),
	}, nil
}

// normalizeAll returns the normalized non-empty texts.
func normalizeAll(lines []string) (texts []string) {
	for _, line := range lines {
		if text := filter.Normalize(line); text != "" {
			texts = append(texts, text)
		}
	}

	return texts
}
