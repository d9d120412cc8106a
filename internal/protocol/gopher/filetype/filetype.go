// Package filetype maps paths and selectors to gopher item types.
package filetype

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/marmos91/gopherd/internal/protocol/gopher/types"
)

// SniffLength is how much of a file is inspected for NUL bytes.
const SniffLength = 1024

// builtin is the default suffix table, grouped by type.
var builtin = []struct {
	Type     types.ItemType
	Suffixes []string
}{
	{types.TypeText, []string{"txt", "sh", "c", "cpp", "h", "log", "conf"}},
	{types.TypeMenu, []string{"map", "menu"}},
	{types.TypeArchive, []string{"gz", "tgz", "tar", "zip", "bz2", "rar"}},
	{types.TypeQuery, []string{"q", "qry"}},
	{types.TypeBinary, []string{"iso", "so", "o", "xls", "doc", "ppt", "ttf", "bin"}},
	{types.TypeCalendar, []string{"ics", "ical"}},
	{types.TypeGIF, []string{"gif"}},
	{types.TypeHTML, []string{"html", "htm", "xhtml", "css", "swf", "rdf", "rss", "xml"}},
	{types.TypeImage, []string{"jpg", "jpeg", "png", "bmp", "svg", "tif", "tiff", "ico", "xbm", "xpm", "pcx"}},
	{types.TypeMIME, []string{"mbox"}},
	{types.TypeDocument, []string{"pdf", "ps"}},
	{types.TypeAudio, []string{"mp3", "wav", "mid", "wma", "flac", "ogg", "aiff", "aac"}},
	{types.TypeVideo, []string{"avi", "mp4", "mpg", "mov", "qt", "asf", "mpv"}},
}

// Table is a suffix to item type mapping.
//
// Built-in rules are loaded by NewTable; overrides registered with Set
// replace a built-in rule sharing the same suffix. Suffixes are matched
// case-insensitively.
//
// A Table is not safe for concurrent mutation. Each request works on its own
// Clone so gophermap ":" directives never leak into other requests.
type Table struct {
	rules map[string]types.ItemType
}

// NewTable returns a table holding the built-in rules.
func NewTable() *Table {
	t := &Table{rules: make(map[string]types.ItemType, 96)}
	for _, group := range builtin {
		for _, suffix := range group.Suffixes {
			t.rules[suffix] = group.Type
		}
	}
	return t
}

// Clone returns an independent copy of t.
func (t *Table) Clone() *Table {
	c := &Table{rules: make(map[string]types.ItemType, len(t.rules))}
	for k, v := range t.rules {
		c.rules[k] = v
	}
	return c
}

// Set registers or replaces the rule for suffix.
func (t *Table) Set(suffix string, typ types.ItemType) {
	t.rules[strings.ToLower(strings.TrimPrefix(suffix, "."))] = typ
}

// Lookup returns the type registered for suffix.
func (t *Table) Lookup(suffix string) (types.ItemType, bool) {
	typ, ok := t.rules[strings.ToLower(suffix)]
	return typ, ok
}

// Override parses and registers a "suffix=type" rule, the syntax used by
// the ":" gophermap directive and the filetypes configuration list.
//
// The type must be exactly one character.
func (t *Table) Override(rule string) error {
	suffix, typ, ok := strings.Cut(rule, "=")
	suffix = strings.TrimPrefix(strings.TrimSpace(suffix), ".")
	typ = strings.TrimSpace(typ)

	if !ok || suffix == "" || len(typ) != 1 {
		return fmt.Errorf("invalid filetype rule %q: want suffix=T", rule)
	}

	t.Set(suffix, types.ItemType(typ[0]))
	return nil
}

// Suffixes returns the registered suffixes in sorted order.
func (t *Table) Suffixes() []string {
	out := make([]string, 0, len(t.rules))
	for k := range t.rules {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Options control classification of names the table does not know.
type Options struct {
	// Default is returned for unknown suffixes and failed sniffs.
	Default types.ItemType

	// Sniff enables opening the file to look for NUL bytes.
	Sniff bool
}

// Classify returns the item type for name, which may be a selector or a
// filesystem path.
//
// Rules, in order:
//   - empty name: Default
//   - trailing "/": menu
//   - suffix after the last "." found in the table: that type
//   - sniffing disabled: Default
//   - a NUL byte in the first SniffLength bytes: binary
//   - otherwise, or on any I/O failure: Default
func (t *Table) Classify(name string, opts Options) types.ItemType {
	if name == "" {
		return opts.Default
	}
	if strings.HasSuffix(name, "/") {
		return types.TypeMenu
	}

	if dot := strings.LastIndexByte(name, '.'); dot >= 0 {
		if typ, ok := t.Lookup(name[dot+1:]); ok {
			return typ
		}
	}

	if !opts.Sniff {
		return opts.Default
	}

	if isBinary(name) {
		return types.TypeBinary
	}
	return opts.Default
}

func isBinary(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, SniffLength)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return false
	}

	return bytes.IndexByte(buf[:n], 0) >= 0
}
