// Package selector decodes and normalizes the single request line a gopher
// client sends, and encodes filenames for inclusion in generated selectors.
package selector

import (
	"bufio"
	"errors"
	"io"
	"strings"

	"github.com/marmos91/gopherd/internal/protocol/gopher/types"
)

// MaxLineLength bounds the request line, terminator included.
const MaxLineLength = 1024

// ============================================================================
// Reading
// ============================================================================

// ReadLine reads one request line from r.
//
// Reading stops at LF, at EOF, or after MaxLineLength bytes, whichever comes
// first; the remainder of an overlong line is left unread. The returned
// string still carries any trailing CR, which Decode removes.
//
// Returns:
//   - ErrNoSelector (as *types.GopherError) if the client closed the
//     connection without sending a single byte
//   - The underlying read error for anything other than EOF
func ReadLine(r io.Reader) (string, error) {
	br, ok := r.(io.ByteReader)
	if !ok {
		br = bufio.NewReaderSize(r, MaxLineLength)
	}

	buf := make([]byte, 0, 128)
	for len(buf) < MaxLineLength-1 {
		b, err := br.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				if len(buf) == 0 {
					return "", types.NewError(types.ErrNoSelector, "client sent nothing")
				}
				break
			}
			return "", err
		}
		if b == '\n' {
			break
		}
		buf = append(buf, b)
	}

	return string(buf), nil
}

// ============================================================================
// Decoding
// ============================================================================

// Decode turns a raw request line into a decoded selector stream.
//
// A "/" is prepended, trailing CR/LF are stripped, and %HH and #OOO escapes
// are replaced with the bytes they name. The result is opaque bytes and is
// not validated as text.
func Decode(line string) string {
	return Unescape("/" + strings.TrimRight(line, "\r\n"))
}

// Unescape decodes %HH (two hex digits) and #OOO (three octal digits, at
// most 0377) escapes. Sequences that are too short or malformed are copied
// through literally.
func Unescape(s string) string {
	if strings.IndexByte(s, '%') < 0 && strings.IndexByte(s, '#') < 0 {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))

	for i := 0; i < len(s); i++ {
		c := s[i]

		if c == '%' && i+2 < len(s) && isHex(s[i+1]) && isHex(s[i+2]) {
			b.WriteByte(unhex(s[i+1])<<4 | unhex(s[i+2]))
			i += 2
			continue
		}

		if c == '#' && i+3 < len(s) && isOctal(s[i+1]) && isOctal(s[i+2]) && isOctal(s[i+3]) {
			v := int(s[i+1]-'0')<<6 | int(s[i+2]-'0')<<3 | int(s[i+3]-'0')
			if v <= 0xFF {
				b.WriteByte(byte(v))
				i += 3
				continue
			}
		}

		b.WriteByte(c)
	}

	return b.String()
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func unhex(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}

func isOctal(c byte) bool {
	return c >= '0' && c <= '7'
}

// ============================================================================
// Encoding
// ============================================================================

// Encode escapes every byte outside '+'..'~' as #OOO so that arbitrary
// filenames survive a trip through a gopher client. '%' and '#' fall outside
// that range, so Unescape(Encode(x)) == x for every byte string x.
func Encode(name string) string {
	var b strings.Builder
	b.Grow(len(name))

	for i := 0; i < len(name); i++ {
		c := name[i]
		if c < '+' || c > '~' {
			b.WriteByte('#')
			b.WriteByte('0' + (c>>6&7))
			b.WriteByte('0' + (c>>3&7))
			b.WriteByte('0' + (c&7))
			continue
		}
		b.WriteByte(c)
	}

	return b.String()
}

// CollapseSlashes replaces every run of "/" with a single "/".
func CollapseSlashes(s string) string {
	if !strings.Contains(s, "//") {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '/' && i > 0 && s[i-1] == '/' {
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
