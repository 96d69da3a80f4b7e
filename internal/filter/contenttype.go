package filter

// ContentType is a set of request content types a filter applies to.
type ContentType uint32

// ContentType values.
const (
	ContentTypeOther ContentType = 1 << iota
	ContentTypeScript
	ContentTypeImage
	ContentTypeStylesheet
	ContentTypeObject
	ContentTypeSubdocument
	ContentTypeWebsocket
	ContentTypeWebRTC
	ContentTypePing
	ContentTypeXMLHTTPRequest
	ContentTypeMedia
	ContentTypeFont
	ContentTypePopup
	ContentTypeCSP
	ContentTypeHeader
	ContentTypeDocument
	ContentTypeGenericBlock
	ContentTypeElemHide
	ContentTypeGenericHide
)

// ContentTypeResources is the set of content types of ordinary subresource
// requests.  It is the default for network filters without type options.
const ContentTypeResources = ContentTypeOther |
	ContentTypeScript |
	ContentTypeImage |
	ContentTypeStylesheet |
	ContentTypeObject |
	ContentTypeSubdocument |
	ContentTypeWebsocket |
	ContentTypeWebRTC |
	ContentTypePing |
	ContentTypeXMLHTTPRequest |
	ContentTypeMedia |
	ContentTypeFont

// contentTypeOptions maps filter options to content types.
var contentTypeOptions = map[string]ContentType{
	"other":             ContentTypeOther,
	"script":            ContentTypeScript,
	"image":             ContentTypeImage,
	"stylesheet":        ContentTypeStylesheet,
	"object":            ContentTypeObject,
	"subdocument":       ContentTypeSubdocument,
	"websocket":         ContentTypeWebsocket,
	"webrtc":            ContentTypeWebRTC,
	"ping":              ContentTypePing,
	"xmlhttprequest":    ContentTypeXMLHTTPRequest,
	"media":             ContentTypeMedia,
	"font":              ContentTypeFont,
	"popup":             ContentTypePopup,
	"csp":               ContentTypeCSP,
	"header":            ContentTypeHeader,
	"document":          ContentTypeDocument,
	"genericblock":      ContentTypeGenericBlock,
	"elemhide":          ContentTypeElemHide,
	"generichide":       ContentTypeGenericHide,
	"background":        ContentTypeImage,
	"xbl":               ContentTypeOther,
	"dtd":               ContentTypeOther,
	"object-subrequest": ContentTypeObject,
}

// Has returns true if c contains all of the types of other.
func (c ContentType) Has(other ContentType) (ok bool) {
	return c&other == other
}
