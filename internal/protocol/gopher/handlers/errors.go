package handlers

import (
	"fmt"
	"io"

	"github.com/marmos91/gopherd/internal/logger"
	"github.com/marmos91/gopherd/internal/protocol/gopher/gophermap"
	"github.com/marmos91/gopherd/internal/protocol/gopher/types"
)

// ErrorGIF is a 1x1 transparent GIF sent in place of images that fail.
var ErrorGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00,
	0x00, 0x00, 0x00, 0x00, 0xff, 0xff, 0xff, 0x21, 0xf9, 0x04, 0x01, 0x00,
	0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00,
	0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}

const errorPageHead = `<!DOCTYPE HTML PUBLIC "-//W3C//DTD HTML 3.2 Final//EN">
<HTML>
<HEAD>
  <META HTTP-EQUIV="Content-Type" CONTENT="text/html;charset=iso-8859-1">
  <TITLE>%[1]s</TITLE>
</HEAD>
<BODY>
<STRONG>%[1]s</STRONG>
<PRE>
`

const errorPageTail = `</PRE>
</BODY>
</HTML>
`

// renderError writes the failure in the style the client expects for the
// requested type. Write failures are logged only: the connection is
// already lost.
//
// Styles by type:
//   - menu and query: an error entry, an info line and the menu trailer
//   - images: the placeholder GIF
//   - HTML: a minimal page with the footer preformatted
//   - anything else: a plain "Error: " line and the footer
func (h *Handler) renderError(rc *types.RequestContext, w io.Writer, err error) {
	msg := types.ErrorPrefix + types.CodeOf(err).Message()
	ew := &errorWriter{w: w}

	switch {
	case rc.Type.IsMenu():
		ew.printf("%s", types.MenuEntry{
			Type:     types.TypeError,
			Display:  msg,
			Selector: types.NullSelector,
			Host:     types.NullHost,
			Port:     types.NullPort,
		}.String())
		ew.printf("%s", types.InfoLine(msg).String())
		ew.footer(rc, h.cfg.Footer)

	case rc.Type.IsImage():
		ew.write(ErrorGIF)

	case rc.Type == types.TypeHTML:
		ew.printf(errorPageHead, msg)
		ew.footer(rc, h.cfg.Footer)
		ew.printf("%s", errorPageTail)

	default:
		ew.printf("%s", msg+types.CRLF)
		ew.footer(rc, h.cfg.Footer)
	}

	if ew.err != nil {
		logger.Debug("Writing error response to %s: %v", rc.RemoteAddr, ew.err)
	}
}

type errorWriter struct {
	w   io.Writer
	err error
}

func (ew *errorWriter) write(p []byte) {
	if ew.err == nil {
		_, ew.err = ew.w.Write(p)
	}
}

func (ew *errorWriter) printf(format string, args ...any) {
	if ew.err == nil {
		_, ew.err = fmt.Fprintf(ew.w, format, args...)
	}
}

func (ew *errorWriter) footer(rc *types.RequestContext, text string) {
	if ew.err == nil {
		ew.err = gophermap.WriteFooter(ew.w, rc, text)
	}
}
