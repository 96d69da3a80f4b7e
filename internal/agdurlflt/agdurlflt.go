// Package agdurlflt contains utilities for the urlfilter module.
package agdurlflt

import (
	"bytes"
	"fmt"

	"github.com/AdguardTeam/urlfilter"
	"github.com/AdguardTeam/urlfilter/filterlist"
)

// ListID is the ID of the only urlfilter rule list of an engine created by
// [NewDNSEngine].
const ListID = 1

// HostRule returns the urlfilter rule text matching host and all of its
// subdomains.  allowing is true for exception rules.
func HostRule(host string, allowing bool) (rule string) {
	if allowing {
		return "@@||" + host + "^"
	}

	return "||" + host + "^"
}

// RulesLen returns the length of the byte buffer necessary to write ruleStrs,
// separated by a newline, to it.
func RulesLen[S ~string](ruleStrs []S) (l int) {
	for _, s := range ruleStrs {
		l += len(s) + len("\n")
	}

	return l
}

// RulesToBytes writes ruleStrs to a byte slice and returns it.
func RulesToBytes[S ~string](ruleStrs []S) (b []byte) {
	l := RulesLen(ruleStrs)
	if l == 0 {
		return nil
	}

	buf := bytes.NewBuffer(make([]byte, 0, l))
	for _, s := range ruleStrs {
		_, _ = buf.WriteString(string(s))
		_ = buf.WriteByte('\n')
	}

	return buf.Bytes()
}

// NewDNSEngine returns a DNS engine over a single rule list with ruleStrs.
// Cosmetic rules are ignored.
func NewDNSEngine(ruleStrs []string) (eng *urlfilter.DNSEngine, err error) {
	lists := []filterlist.Interface{
		filterlist.NewBytes(&filterlist.BytesConfig{
			ID:             ListID,
			RulesText:      RulesToBytes(ruleStrs),
			IgnoreCosmetic: true,
		}),
	}

	strg, err := filterlist.NewRuleStorage(lists)
	if err != nil {
		return nil, fmt.Errorf("creating rule storage: %w", err)
	}

	return urlfilter.NewDNSEngine(strg), nil
}
