// Package gophermap renders directories as gopher menus.
//
// A directory may carry a control file (the gophermap) written in a small
// line-oriented directive language. When it is absent, or does not stop
// the listing, the directory contents are listed automatically.
package gophermap

import (
	"strconv"
	"strings"

	"github.com/marmos91/gopherd/internal/protocol/gopher/types"
)

// Kind identifies the directive carried by one gophermap line.
type Kind int

const (
	// KindComment is a "#..." line. It produces no output.
	KindComment Kind = iota

	// KindStopNoFooter is a "*" line: stop, no footer, no auto-listing.
	KindStopNoFooter

	// KindStopWithFooter is a "." line: stop and render the footer.
	KindStopWithFooter

	// KindUserList is a "~" line: list users with a public userdir.
	KindUserList

	// KindVHostList is a "%" line: list virtual hosts.
	KindVHostList

	// KindHide is a "-name" line: hide name from the auto-listing.
	KindHide

	// KindTypeOverride is a ":suffix=type" line.
	KindTypeOverride

	// KindInfo is a line without TAB, shown as non-selectable text.
	KindInfo

	// KindEntry is a TAB-separated menu entry.
	KindEntry
)

func (k Kind) String() string {
	switch k {
	case KindComment:
		return "comment"
	case KindStopNoFooter:
		return "stop"
	case KindStopWithFooter:
		return "end"
	case KindUserList:
		return "userlist"
	case KindVHostList:
		return "vhostlist"
	case KindHide:
		return "hide"
	case KindTypeOverride:
		return "filetype"
	case KindInfo:
		return "info"
	case KindEntry:
		return "entry"
	default:
		return "unknown"
	}
}

// Directive is one parsed gophermap line.
//
// Which fields are meaningful depends on Kind:
//   - KindHide: Text is the name to hide
//   - KindTypeOverride: Text is the "suffix=type" rule
//   - KindInfo: Text is the text to display
//   - KindEntry: Type, Text (display name), Selector, Host and Port
//
// Host is empty and Port is zero when the line left them out; the renderer
// substitutes the current host and port.
type Directive struct {
	Kind     Kind
	Type     types.ItemType
	Text     string
	Selector string
	Host     string
	Port     int
}

// Parse parses one gophermap line. Trailing CR/LF are ignored.
func Parse(line string) Directive {
	line = strings.TrimRight(line, "\r\n")

	if line == "" {
		return Directive{Kind: KindInfo}
	}

	switch line[0] {
	case '#':
		return Directive{Kind: KindComment, Text: line[1:]}
	case '*':
		return Directive{Kind: KindStopNoFooter}
	case '.':
		return Directive{Kind: KindStopWithFooter}
	case '~':
		return Directive{Kind: KindUserList}
	case '%':
		return Directive{Kind: KindVHostList}
	case '-':
		return Directive{Kind: KindHide, Text: line[1:]}
	case ':':
		return Directive{Kind: KindTypeOverride, Text: line[1:]}
	}

	if !strings.Contains(line, "\t") {
		// Hand-written info lines usually carry the "i" type tag; show the
		// text without it. Anything else is shown as written.
		if line[0] == byte(types.TypeInfo) {
			return Directive{Kind: KindInfo, Text: line[1:]}
		}
		return Directive{Kind: KindInfo, Text: line}
	}

	fields := strings.SplitN(line[1:], "\t", 4)
	d := Directive{
		Kind: KindEntry,
		Type: types.ItemType(line[0]),
		Text: fields[0],
	}
	if len(fields) > 1 {
		d.Selector = fields[1]
	}
	if len(fields) > 2 {
		d.Host = fields[2]
	}
	if len(fields) > 3 {
		port := fields[3]
		if i := strings.IndexByte(port, '\t'); i >= 0 {
			port = port[:i]
		}
		if p, err := strconv.Atoi(strings.TrimSpace(port)); err == nil && p > 0 && p < 65536 {
			d.Port = p
		}
	}

	return d
}

// IsAbsolute reports whether an entry selector is used as written rather
// than resolved against the current menu.
func IsAbsolute(selector string) bool {
	return strings.HasPrefix(selector, "/") || strings.HasPrefix(selector, "URL:")
}
