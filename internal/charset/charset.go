// Package charset converts UTF-8 text to the output charset a gopher
// client was configured for.
package charset

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Supported output charsets.
const (
	USASCII = "US-ASCII"
	Latin1  = "ISO-8859-1"
	UTF8    = "UTF-8"
)

// latin1ASCII maps ISO-8859-1 (and the Windows-1252 extras in 0x80-0x9F)
// to US-ASCII look-alikes, indexed by byte-0x80.
const latin1ASCII = "" +
	"E?,f..++^%S<??Z?" +
	"?''\"\"*--~?s>??zY" +
	" !c_*Y|$\"C?<?-R-" +
	"??23'u?*,1?>????" +
	"AAAAAAACEEEEIIII" +
	"DNOOOOO*OUUUUYTB" +
	"aaaaaaaceeeeiiii" +
	"dnooooo/ouuuuyty"

// Normalize returns the canonical name of a supported charset.
func Normalize(name string) (string, error) {
	switch strings.ToUpper(strings.ReplaceAll(name, "_", "-")) {
	case "", "US-ASCII", "ASCII":
		return USASCII, nil
	case "ISO-8859-1", "LATIN1", "LATIN-1":
		return Latin1, nil
	case "UTF-8", "UTF8":
		return UTF8, nil
	}
	return "", fmt.Errorf("unsupported charset %q", name)
}

// Convert re-encodes UTF-8 text s into charset. Characters the target cannot
// represent become '?'. Invalid UTF-8 input is treated as ISO-8859-1, which
// is what most legacy gopher content turns out to be.
func Convert(s, charset string) string {
	if isASCII(s) {
		return s
	}

	if !utf8.ValidString(s) {
		s = fromLatin1(s)
	}
	s = norm.NFC.String(s)

	switch charset {
	case UTF8:
		return s
	case Latin1:
		return toLatin1(s)
	default:
		return toASCII(toLatin1(s))
	}
}

// Width returns the number of display columns s occupies in charset.
// Multi-byte UTF-8 sequences count as one column.
func Width(s, charset string) int {
	if charset == UTF8 {
		return utf8.RuneCountInString(s)
	}
	return len(s)
}

// Truncate cuts s to at most width columns in charset without splitting a
// UTF-8 sequence, and returns the result with its column count.
func Truncate(s string, width int, charset string) (string, int) {
	if width <= 0 {
		return "", 0
	}
	if charset != UTF8 {
		if len(s) > width {
			s = s[:width]
		}
		return s, len(s)
	}

	cols := 0
	for i := range s {
		if cols == width {
			return s[:i], cols
		}
		cols++
	}
	return s, cols
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

func fromLatin1(s string) string {
	out, _, err := transform.String(charmap.ISO8859_1.NewDecoder(), s)
	if err != nil {
		return s
	}
	return out
}

func toLatin1(s string) string {
	s = strings.Map(func(r rune) rune {
		if r < 0x100 {
			return r
		}
		return '?'
	}, s)

	out, _, err := transform.String(charmap.ISO8859_1.NewEncoder(), s)
	if err != nil {
		return s
	}
	return out
}

func toASCII(latin1 string) string {
	b := []byte(latin1)
	for i, c := range b {
		if c >= 0x80 {
			b[i] = latin1ASCII[c-0x80]
		}
	}
	return string(b)
}
