package types

import (
	"fmt"
	"strconv"
)

// ============================================================================
// Gopher Item Types - RFC 1436 Section 3.8 plus common extensions
// ============================================================================

// ItemType is the one-character type tag that prefixes every menu line and
// tells the client how to present the referenced resource.
type ItemType byte

const (
	TypeText     ItemType = '0' // Plain text file
	TypeMenu     ItemType = '1' // Directory (menu)
	TypeCSO      ItemType = '2' // CSO phone-book server
	TypeError    ItemType = '3' // Error line
	TypeBinHex   ItemType = '4' // BinHexed Macintosh file
	TypeArchive  ItemType = '5' // DOS binary archive
	TypeUUEncode ItemType = '6' // UNIX uuencoded file
	TypeQuery    ItemType = '7' // Index-search server
	TypeTelnet   ItemType = '8' // Telnet session
	TypeBinary   ItemType = '9' // Binary file
	TypeGIF      ItemType = 'g' // GIF image
	TypeImage    ItemType = 'I' // Any other image
	TypeInfo     ItemType = 'i' // Non-selectable informational text
	TypeHTML     ItemType = 'h' // HTML document
	TypeCalendar ItemType = 'c' // Calendar
	TypeMIME     ItemType = 'M' // MIME mailbox
	TypeDocument ItemType = 'p' // PDF / PostScript
	TypeAudio    ItemType = 's' // Sound
	TypeVideo    ItemType = 'v' // Video
)

// String returns the type tag as a one-character string.
func (t ItemType) String() string {
	return string(rune(t))
}

// IsMenu reports whether responses of this type are gopher menus that must
// be terminated by a lone "." line.
func (t ItemType) IsMenu() bool {
	return t == TypeMenu || t == TypeQuery
}

// IsImage reports whether the client expects image bytes for this type.
func (t ItemType) IsImage() bool {
	return t == TypeGIF || t == TypeImage
}

// ============================================================================
// Wire Constants
// ============================================================================

const (
	// CRLF terminates every line written to the client.
	CRLF = "\r\n"

	// Terminator is the lone-dot line that ends a menu response.
	Terminator = "." + CRLF

	// NullSelector and NullHost fill the fields of non-selectable lines.
	NullSelector = ""
	NullHost     = "null.host"
	NullPort     = 1

	// ErrorPrefix prefixes every user-facing error message.
	ErrorPrefix = "Error: "

	// ParentName is the display name of the parent-directory link.
	ParentName = ".."

	// Root is the selector of the top-level menu.
	Root = "/"
)

// ============================================================================
// Protocol Markers
// ============================================================================

// Protocol identifies which gopher dialect the client spoke.
type Protocol string

const (
	// ProtocolGopher is plain RFC 1436 gopher.
	ProtocolGopher Protocol = "GOPHER/0"

	// ProtocolGopherPlus is a gopher+ request (trailing "+" token).
	ProtocolGopherPlus Protocol = "GOPHER/+"
)

// ============================================================================
// Menu Entries
// ============================================================================

// MenuEntry is one line of a rendered gopher menu.
type MenuEntry struct {
	Type     ItemType
	Display  string
	Selector string
	Host     string
	Port     int
}

// String renders the entry in wire format, including the trailing CRLF.
func (e MenuEntry) String() string {
	return fmt.Sprintf("%c%s\t%s\t%s\t%s%s",
		e.Type, e.Display, e.Selector, e.Host, strconv.Itoa(e.Port), CRLF)
}

// InfoLine builds a non-selectable info entry for text.
func InfoLine(text string) MenuEntry {
	return MenuEntry{
		Type:     TypeInfo,
		Display:  text,
		Selector: NullSelector,
		Host:     NullHost,
		Port:     NullPort,
	}
}
