// Package inifile contains the line-oriented file format of the filter storage
// and a storage backend that keeps the data in a file.
package inifile

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/AdguardTeam/FilterSync/internal/storage"
	"github.com/AdguardTeam/FilterSync/internal/subscription"
	"github.com/AdguardTeam/golibs/container"
	"github.com/AdguardTeam/golibs/errors"
)

// FormatVersion is the version of the file format.
const FormatVersion = 5

// header is the first line of the file.
const header = "# FilterSync preferences"

// Section names.
const (
	sectionSubscription = "Subscription"
	sectionFilters      = "Subscription filters"
	sectionFilter       = "Filter"
)

// Filter section keys.
const (
	keyText        = "text"
	keyDisabledFor = "disabledSubscriptions[]"
	keyHitCount    = "hitCount"
	keyLastHit     = "lastHit"
)

// maxLineLen is the maximum length of a line in the file.
const maxLineLen = 1 << 20

// ErrBadVersion is returned by [Decode] when the format version is not
// supported.
const ErrBadVersion errors.Error = "unsupported format version"

// Encode returns the encoded form of d.
func Encode(d *storage.Data) (b []byte) {
	buf := &bytes.Buffer{}

	// Errors are never returned by bytes.Buffer.
	_, _ = fmt.Fprintf(buf, "%s\nversion=%d\n", header, FormatVersion)

	for _, rec := range d.Subscriptions {
		_, _ = fmt.Fprintf(buf, "\n[%s]\n", sectionSubscription)
		for _, kv := range rec.Fields {
			writeValue(buf, kv.Key, kv.Value)
		}

		if len(rec.Filters) == 0 {
			continue
		}

		_, _ = fmt.Fprintf(buf, "\n[%s]\n", sectionFilters)
		for _, text := range rec.Filters {
			_, _ = buf.WriteString(escape(text))
			_ = buf.WriteByte('\n')
		}
	}

	for _, fr := range d.Filters {
		_, _ = fmt.Fprintf(buf, "\n[%s]\n", sectionFilter)
		writeValue(buf, keyText, fr.Text)
		for _, u := range fr.DisabledFor {
			writeValue(buf, keyDisabledFor, u)
		}

		if fr.HitCount > 0 {
			writeValue(buf, keyHitCount, strconv.FormatUint(fr.HitCount, 10))
		}

		if !fr.LastHit.IsZero() {
			writeValue(buf, keyLastHit, strconv.FormatInt(fr.LastHit.Unix(), 10))
		}
	}

	return buf.Bytes()
}

// writeValue writes a key=value line.  Line breaks are removed from val.
func writeValue(buf *bytes.Buffer, key, val string) {
	val = strings.NewReplacer("\r", "", "\n", "").Replace(val)
	_, _ = fmt.Fprintf(buf, "%s=%s\n", key, val)
}

// escape escapes the opening brackets in a filter line so that it cannot be
// mistaken for a section header.
func escape(text string) (esc string) {
	return strings.ReplaceAll(text, "[", `\[`)
}

// unescape is the reverse of [escape].
func unescape(esc string) (text string) {
	return strings.ReplaceAll(esc, `\[`, "[")
}

// decoder is the state of decoding.
type decoder struct {
	data    *storage.Data
	section string
	sub     *subscription.Record
	filter  *storage.FilterRecord
	version int
}

// Decode parses b.  Unknown sections and keys are ignored.
func Decode(b []byte) (d *storage.Data, err error) {
	dec := &decoder{
		data: &storage.Data{},
	}

	s := bufio.NewScanner(bytes.NewReader(b))
	s.Buffer(nil, maxLineLen)

	for lineNum := 1; s.Scan(); lineNum++ {
		err = dec.line(s.Text())
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}
	}

	err = s.Err()
	if err != nil {
		return nil, fmt.Errorf("reading: %w", err)
	}

	if dec.version != FormatVersion {
		return nil, fmt.Errorf("%w: %d", ErrBadVersion, dec.version)
	}

	return dec.data, nil
}

// line processes a single line.
func (dec *decoder) line(line string) (err error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}

	if name, ok := sectionName(line); ok {
		return dec.startSection(name)
	}

	switch dec.section {
	case "":
		return dec.preamble(line)
	case sectionFilters:
		dec.sub.Filters = append(dec.sub.Filters, unescape(line))

		return nil
	case sectionSubscription, sectionFilter:
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			return fmt.Errorf("section %q: no value in %q", dec.section, line)
		}

		if dec.section == sectionSubscription {
			dec.sub.Fields = append(dec.sub.Fields, container.KeyValue[string, string]{
				Key:   key,
				Value: val,
			})

			return nil
		}

		return dec.filterValue(key, val)
	default:
		return nil
	}
}

// sectionName returns the name of the section if line is an unescaped section
// header.
func sectionName(line string) (name string, ok bool) {
	if !strings.HasPrefix(line, "[") || !strings.HasSuffix(line, "]") {
		return "", false
	}

	return line[1 : len(line)-1], true
}

// startSection starts a new section with name.
func (dec *decoder) startSection(name string) (err error) {
	switch name {
	case sectionSubscription:
		dec.sub = &subscription.Record{}
		dec.data.Subscriptions = append(dec.data.Subscriptions, dec.sub)
	case sectionFilters:
		if dec.section != sectionSubscription {
			return fmt.Errorf("section %q: %w", name, errors.ErrNoValue)
		}
	case sectionFilter:
		dec.filter = &storage.FilterRecord{}
		dec.data.Filters = append(dec.data.Filters, dec.filter)
	}

	dec.section = name

	return nil
}

// preamble processes a line before the first section.
func (dec *decoder) preamble(line string) (err error) {
	if strings.HasPrefix(line, "#") {
		return nil
	}

	key, val, ok := strings.Cut(line, "=")
	if !ok || key != "version" {
		return nil
	}

	dec.version, err = strconv.Atoi(val)
	if err != nil {
		return fmt.Errorf("version: %w", err)
	}

	return nil
}

// filterValue sets a field of the current filter record.
func (dec *decoder) filterValue(key, val string) (err error) {
	fr := dec.filter
	switch key {
	case keyText:
		fr.Text = val
	case keyDisabledFor:
		fr.DisabledFor = append(fr.DisabledFor, val)
	case keyHitCount:
		fr.HitCount, err = strconv.ParseUint(val, 10, 64)
	case keyLastHit:
		var sec int64
		sec, err = strconv.ParseInt(val, 10, 64)
		if err == nil && sec != 0 {
			fr.LastHit = time.Unix(sec, 0)
		}
	}

	if err != nil {
		return fmt.Errorf("filter %s: %w", key, err)
	}

	return nil
}
