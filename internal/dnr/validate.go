package dnr

import (
	"fmt"
	"slices"
	"strings"
)

// knownResourceTypes is the set of the valid resource types.
var knownResourceTypes = map[ResourceType]struct{}{
	ResourceTypeCSPReport:      {},
	ResourceTypeFont:           {},
	ResourceTypeImage:          {},
	ResourceTypeMainFrame:      {},
	ResourceTypeMedia:          {},
	ResourceTypeObject:         {},
	ResourceTypeOther:          {},
	ResourceTypePing:           {},
	ResourceTypeScript:         {},
	ResourceTypeStylesheet:     {},
	ResourceTypeSubFrame:       {},
	ResourceTypeWebsocket:      {},
	ResourceTypeXMLHTTPRequest: {},
}

// Validate checks the structure of r and returns it unchanged if it's valid.
// Any error returned will have the underlying type of [*InvalidRuleError].
func Validate(r *Rule) (valid *Rule, err error) {
	if r == nil {
		return nil, &InvalidRuleError{Reason: "nil rule"}
	}

	reason := validateRule(r)
	if reason != "" {
		return nil, &InvalidRuleError{Reason: reason}
	}

	return r, nil
}

// validateRule returns a non-empty reason if r is invalid.
func validateRule(r *Rule) (reason string) {
	switch {
	case r.ID < 0:
		return fmt.Sprintf("negative id %d", r.ID)
	case r.Priority < 1:
		return fmt.Sprintf("priority %d must be positive", r.Priority)
	}

	if reason = validateAction(&r.Action); reason != "" {
		return reason
	}

	if reason = validateCondition(&r.Condition); reason != "" {
		return reason
	}

	if r.Action.Type == ActionTypeAllowAllRequests {
		types := r.Condition.ResourceTypes
		if len(types) == 0 || slices.ContainsFunc(types, isNotFrame) {
			return "allowAllRequests requires frame resource types only"
		}
	}

	return ""
}

// isNotFrame returns true if t isn't a frame resource type.
func isNotFrame(t ResourceType) (ok bool) {
	return t != ResourceTypeMainFrame && t != ResourceTypeSubFrame
}

// validateAction returns a non-empty reason if act is invalid.
func validateAction(act *Action) (reason string) {
	switch act.Type {
	case ActionTypeAllow, ActionTypeAllowAllRequests, ActionTypeBlock:
		// Go on.
	case ActionTypeRedirect:
		return validateRedirect(act.Redirect)
	case ActionTypeModifyHeaders:
		return validateHeaders(act.ResponseHeaders)
	default:
		return fmt.Sprintf("unknown action type %q", act.Type)
	}

	if act.Redirect != nil {
		return "redirect is only allowed for redirect actions"
	}

	if len(act.ResponseHeaders) > 0 {
		return "response headers are only allowed for modifyHeaders actions"
	}

	return ""
}

// validateRedirect returns a non-empty reason if rd is an invalid redirect
// target.
func validateRedirect(rd *Redirect) (reason string) {
	switch {
	case rd == nil:
		return "redirect action without target"
	case (rd.ExtensionPath == "") == (rd.URL == ""):
		return "redirect must have exactly one of extensionPath and url"
	case rd.ExtensionPath != "" && !strings.HasPrefix(rd.ExtensionPath, "/"):
		return "extensionPath must start with a slash"
	default:
		return ""
	}
}

// validateHeaders returns a non-empty reason if hdrs are invalid header
// modifications.
func validateHeaders(hdrs []*HeaderInfo) (reason string) {
	if len(hdrs) == 0 {
		return "modifyHeaders action without headers"
	}

	for _, h := range hdrs {
		switch {
		case h == nil || h.Header == "":
			return "empty header name"
		case h.Operation == HeaderOperationRemove:
			if h.Value != "" {
				return fmt.Sprintf("header %q: remove operation with value", h.Header)
			}
		case h.Operation == HeaderOperationAppend, h.Operation == HeaderOperationSet:
			if h.Value == "" {
				return fmt.Sprintf("header %q: %s operation without value", h.Header, h.Operation)
			}
		default:
			return fmt.Sprintf("header %q: unknown operation %q", h.Header, h.Operation)
		}
	}

	return ""
}

// validateCondition returns a non-empty reason if cond is invalid.
func validateCondition(cond *Condition) (reason string) {
	switch {
	case cond.URLFilter != "" && cond.RegexFilter != "":
		return "both urlFilter and regexFilter are set"
	case strings.HasPrefix(cond.URLFilter, "||*"):
		return "urlFilter starts with ||*"
	case cond.URLFilter == "||" || cond.URLFilter == "|":
		return fmt.Sprintf("urlFilter %q is only an anchor", cond.URLFilter)
	case !isASCII(cond.URLFilter):
		return "urlFilter contains non-ascii characters"
	}

	switch cond.DomainType {
	case "", DomainTypeFirstParty, DomainTypeThirdParty:
		// Go on.
	default:
		return fmt.Sprintf("unknown domain type %q", cond.DomainType)
	}

	if reason = validateResourceTypes(cond.ResourceTypes, cond.ExcludedResourceTypes); reason != "" {
		return reason
	}

	return validateDomains(cond.InitiatorDomains, cond.ExcludedInitiatorDomains)
}

// validateResourceTypes returns a non-empty reason if the included or excluded
// resource types are invalid.
func validateResourceTypes(incl, excl []ResourceType) (reason string) {
	seen := make(map[ResourceType]bool, len(incl)+len(excl))
	for _, t := range incl {
		if _, ok := knownResourceTypes[t]; !ok {
			return fmt.Sprintf("unknown resource type %q", t)
		} else if seen[t] {
			return fmt.Sprintf("duplicate resource type %q", t)
		}

		seen[t] = true
	}

	for _, t := range excl {
		if _, ok := knownResourceTypes[t]; !ok {
			return fmt.Sprintf("unknown excluded resource type %q", t)
		} else if seen[t] {
			return fmt.Sprintf("resource type %q is both included and excluded", t)
		}

		seen[t] = true
	}

	return ""
}

// validateDomains returns a non-empty reason if the initiator domains are
// invalid.
func validateDomains(incl, excl []string) (reason string) {
	seen := make(map[string]struct{}, len(incl)+len(excl))
	for _, d := range slices.Concat(incl, excl) {
		if d == "" || !isASCII(d) || strings.ToLower(d) != d {
			return fmt.Sprintf("invalid initiator domain %q", d)
		}

		if _, ok := seen[d]; ok {
			return fmt.Sprintf("duplicate initiator domain %q", d)
		}

		seen[d] = struct{}{}
	}

	return ""
}

// isASCII returns true if s only contains ASCII characters.
func isASCII(s string) (ok bool) {
	for i := range len(s) {
		if s[i] >= 0x80 {
			return false
		}
	}

	return true
}
