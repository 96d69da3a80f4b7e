// Package dnr contains the compiler of filters into declarative network
// request rules, the validation of such rules, and the engine that keeps the
// dynamic rule set of a rule store in sync with the deployed filters.
package dnr

import "slices"

// ActionType is the type of the action of a rule.
type ActionType string

// ActionType values.
const (
	ActionTypeAllow            ActionType = "allow"
	ActionTypeAllowAllRequests ActionType = "allowAllRequests"
	ActionTypeBlock            ActionType = "block"
	ActionTypeModifyHeaders    ActionType = "modifyHeaders"
	ActionTypeRedirect         ActionType = "redirect"
)

// ResourceType is the type of a request resource.
type ResourceType string

// ResourceType values.
const (
	ResourceTypeCSPReport      ResourceType = "csp_report"
	ResourceTypeFont           ResourceType = "font"
	ResourceTypeImage          ResourceType = "image"
	ResourceTypeMainFrame      ResourceType = "main_frame"
	ResourceTypeMedia          ResourceType = "media"
	ResourceTypeObject         ResourceType = "object"
	ResourceTypeOther          ResourceType = "other"
	ResourceTypePing           ResourceType = "ping"
	ResourceTypeScript         ResourceType = "script"
	ResourceTypeStylesheet     ResourceType = "stylesheet"
	ResourceTypeSubFrame       ResourceType = "sub_frame"
	ResourceTypeWebsocket      ResourceType = "websocket"
	ResourceTypeXMLHTTPRequest ResourceType = "xmlhttprequest"
)

// DomainType is the first- or third-party constraint of a rule.
type DomainType string

// DomainType values.
const (
	DomainTypeFirstParty DomainType = "firstParty"
	DomainTypeThirdParty DomainType = "thirdParty"
)

// HeaderOperation is the operation on a response header.
type HeaderOperation string

// HeaderOperation values.
const (
	HeaderOperationAppend HeaderOperation = "append"
	HeaderOperationRemove HeaderOperation = "remove"
	HeaderOperationSet    HeaderOperation = "set"
)

// Rule is a single declarative network request rule.
type Rule struct {
	// Condition defines which requests the rule matches.
	Condition Condition `json:"condition"`

	// Action is what happens to a matched request.
	Action Action `json:"action"`

	// ID is the identifier of the rule within its rule set.  It is assigned by
	// the [Engine] and is zero in the output of the [Compiler].
	ID int `json:"id"`

	// Priority decides between several matching rules.
	Priority int `json:"priority,omitempty"`
}

// Action is the action of a rule.
type Action struct {
	// Redirect is the redirect target for [ActionTypeRedirect].
	Redirect *Redirect `json:"redirect,omitempty"`

	// Type is the type of the action.
	Type ActionType `json:"type"`

	// ResponseHeaders are the header modifications for
	// [ActionTypeModifyHeaders].
	ResponseHeaders []*HeaderInfo `json:"responseHeaders,omitempty"`
}

// Redirect is the redirect target of a rule.
type Redirect struct {
	// ExtensionPath is a path relative to the extension root.
	ExtensionPath string `json:"extensionPath,omitempty"`

	// URL is an absolute URL.
	URL string `json:"url,omitempty"`
}

// HeaderInfo is a single header modification.
type HeaderInfo struct {
	Header    string          `json:"header"`
	Operation HeaderOperation `json:"operation"`
	Value     string          `json:"value,omitempty"`
}

// Condition is the condition of a rule.
type Condition struct {
	// IsURLFilterCaseSensitive is nil when the default of the matching engine
	// applies.
	IsURLFilterCaseSensitive *bool `json:"isUrlFilterCaseSensitive,omitempty"`

	URLFilter   string     `json:"urlFilter,omitempty"`
	RegexFilter string     `json:"regexFilter,omitempty"`
	DomainType  DomainType `json:"domainType,omitempty"`

	InitiatorDomains         []string       `json:"initiatorDomains,omitempty"`
	ExcludedInitiatorDomains []string       `json:"excludedInitiatorDomains,omitempty"`
	ResourceTypes            []ResourceType `json:"resourceTypes,omitempty"`
	ExcludedResourceTypes    []ResourceType `json:"excludedResourceTypes,omitempty"`
}

// Clone returns a deep copy of r.
func (r *Rule) Clone() (c *Rule) {
	if r == nil {
		return nil
	}

	c = &Rule{
		ID:       r.ID,
		Priority: r.Priority,
		Action: Action{
			Type: r.Action.Type,
		},
		Condition: Condition{
			URLFilter:                r.Condition.URLFilter,
			RegexFilter:              r.Condition.RegexFilter,
			DomainType:               r.Condition.DomainType,
			InitiatorDomains:         slices.Clone(r.Condition.InitiatorDomains),
			ExcludedInitiatorDomains: slices.Clone(r.Condition.ExcludedInitiatorDomains),
			ResourceTypes:            slices.Clone(r.Condition.ResourceTypes),
			ExcludedResourceTypes:    slices.Clone(r.Condition.ExcludedResourceTypes),
		},
	}

	if cs := r.Condition.IsURLFilterCaseSensitive; cs != nil {
		c.Condition.IsURLFilterCaseSensitive = new(bool)
		*c.Condition.IsURLFilterCaseSensitive = *cs
	}

	if rd := r.Action.Redirect; rd != nil {
		c.Action.Redirect = &Redirect{
			ExtensionPath: rd.ExtensionPath,
			URL:           rd.URL,
		}
	}

	for _, h := range r.Action.ResponseHeaders {
		c.Action.ResponseHeaders = append(c.Action.ResponseHeaders, &HeaderInfo{
			Header:    h.Header,
			Operation: h.Operation,
			Value:     h.Value,
		})
	}

	return c
}

// cloneRules returns deep copies of rules.
func cloneRules(rules []*Rule) (clones []*Rule) {
	if rules == nil {
		return nil
	}

	clones = make([]*Rule, 0, len(rules))
	for _, r := range rules {
		clones = append(clones, r.Clone())
	}

	return clones
}
