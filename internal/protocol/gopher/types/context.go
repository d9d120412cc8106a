package types

import (
	"context"
	"strconv"
	"time"
)

// Features holds the per-request feature toggles.
//
// They start from the server configuration and may be overridden by a
// restored session snapshot, so each request owns its own copy.
type Features struct {
	VHost   bool // Virtual hosting by ";host" hint or directory probing
	Parent  bool // ".." link at the top of auto-listed menus
	Footer  bool // Horizontal rule and attribution after responses
	Date    bool // Fixed-column listing with modification date and size
	Magic   bool // NUL-byte content sniffing for unknown suffixes
	Log     bool // Access log line per request
	Query   bool // Treat "?" as a query separator, HTTP-style
	UserDir bool // "/~login" per-user directories
}

// RequestContext is the state of a single gopher request.
//
// It is created when a connection starts, threaded by reference through
// every pipeline stage, and discarded when the response has been written.
// It is never shared between connections.
type RequestContext struct {
	// Context carries cancellation from the accepting adapter.
	// In inetd mode it is context.Background().
	Context context.Context

	// ID correlates log records for this request.
	ID string

	// Raw is the line exactly as read from the client, without CR/LF.
	Raw string

	// Selector is the normalized selector. It always starts with "/",
	// contains no "/." and no duplicate slashes.
	Selector string

	// Query is the search string after TAB (or "?").
	Query string

	// VHostHint is the host named by a ";host" suffix, if any.
	VHostHint string

	// Protocol is the dialect marker. Extended tokens are kept verbatim.
	Protocol Protocol

	// ServerHost is the resolved virtual host used in generated entries.
	ServerHost string

	// DefaultHost is the configured primary host. Userdirs reset to it.
	DefaultHost string

	// ServerPort is the port advertised in generated entries.
	ServerPort int

	// Path is the absolute filesystem path of the resource.
	Path string

	// Type is the filetype of the resource. Early on it is a guess used
	// only to style error responses.
	Type ItemType

	// Size is the size in bytes of the resolved resource.
	Size int64

	// RemoteAddr is the client address without port.
	RemoteAddr string

	// Referrer is the previous selector of the same client, restored from
	// its session slot. Empty for a new client.
	Referrer string

	// ReferrerType is the filetype of Referrer.
	ReferrerType ItemType

	// Width is the output column width.
	Width int

	// Charset is the output charset name (US-ASCII, ISO-8859-1, UTF-8).
	Charset string

	// Features are the feature toggles in effect for this request.
	Features Features

	// Hidden are names registered by "-name" gophermap directives.
	Hidden map[string]struct{}

	// Started is when the request was accepted.
	Started time.Time
}

// NewRequestContext returns a context with empty request fields.
func NewRequestContext(ctx context.Context, remoteAddr string) *RequestContext {
	if ctx == nil {
		ctx = context.Background()
	}
	return &RequestContext{
		Context:    ctx,
		Protocol:   ProtocolGopher,
		RemoteAddr: remoteAddr,
		Hidden:     make(map[string]struct{}),
		Started:    time.Now(),
	}
}

// Hide registers name as hidden for the rest of this request.
func (rc *RequestContext) Hide(name string) {
	if rc.Hidden == nil {
		rc.Hidden = make(map[string]struct{})
	}
	rc.Hidden[name] = struct{}{}
}

// IsHidden reports whether name was registered with Hide.
func (rc *RequestContext) IsHidden(name string) bool {
	_, ok := rc.Hidden[name]
	return ok
}

// URL renders the gopher URL of the current request for logging.
func (rc *RequestContext) URL() string {
	return "gopher://" + rc.ServerHost + ":" + strconv.Itoa(rc.ServerPort) + "/" + rc.Type.String() + rc.Selector
}
