package gophermap

import (
	"fmt"
	"io"
	"strings"

	"github.com/marmos91/gopherd/internal/platform"
	"github.com/marmos91/gopherd/internal/protocol/gopher/types"
)

// FooterText returns the attribution line shown under every response.
func FooterText() string {
	return fmt.Sprintf("Gophered by %s on %s", platform.Software, platform.String())
}

// WriteFooter writes the response trailer for rc.
//
// With the footer enabled it is a horizontal rule followed by text aligned
// to the right margin, written as info lines for menu types and as plain
// lines otherwise. Menu types always end with the lone "." terminator, even
// when the footer itself is disabled.
func WriteFooter(w io.Writer, rc *types.RequestContext, text string) error {
	ew := &errWriter{w: w}
	menu := rc.Type.IsMenu()

	if rc.Features.Footer {
		width := rc.Width - 1
		if width < 1 {
			width = 1
		}
		rule := strings.Repeat("_", width)
		msg := fmt.Sprintf("%*s", width, text)

		if menu {
			ew.WriteString(types.InfoLine(rule).String())
			ew.WriteString(types.InfoLine(msg).String())
		} else {
			ew.WriteString(rule + types.CRLF)
			ew.WriteString(msg + types.CRLF)
		}
	}

	if menu {
		ew.WriteString(types.Terminator)
	}
	return ew.err
}

// errWriter remembers the first write error and drops later writes, so a
// menu can be emitted line by line and checked once.
type errWriter struct {
	w   io.Writer
	n   int64
	err error
}

func (ew *errWriter) WriteString(s string) {
	if ew.err != nil {
		return
	}
	n, err := io.WriteString(ew.w, s)
	ew.n += int64(n)
	ew.err = err
}

func (ew *errWriter) entry(e types.MenuEntry) {
	ew.WriteString(e.String())
}
