package handlers

import (
	"fmt"
	"html"
	"io"
	"strings"
	"time"

	"github.com/marmos91/gopherd/internal/logger"
	"github.com/marmos91/gopherd/internal/platform"
	"github.com/marmos91/gopherd/internal/protocol/gopher/types"
	"github.com/marmos91/gopherd/pkg/store/session"
)

// Request forms answered before path resolution.
const (
	// URLPrefix introduces an hURL link to a non-gopher resource.
	URLPrefix = "URL:"

	// StatusSelector returns the plain-text server status report.
	StatusSelector = "/server-status"

	// HTTPGet marks a web browser talking to the gopher port.
	HTTPGet = "GET "
)

const redirectPage = `<!DOCTYPE HTML PUBLIC "-//W3C//DTD HTML 3.2 Final//EN">
<HTML>
<HEAD>
  <META HTTP-EQUIV="Refresh" content="1;URL=%[1]s">
  <META HTTP-EQUIV="Content-Type" CONTENT="text/html;charset=iso-8859-1">
  <TITLE>URL Redirect page</TITLE>
</HEAD>
<BODY>
<P ALIGN=center>
  <STRONG>Redirecting to: <A HREF="%[1]s">%[1]s</A></STRONG>
</P>
</BODY>
</HTML>
`

// special answers the request forms that bypass the filesystem.
//
// decoded is the line as returned by selector.Decode, with the leading
// "/" prepended. Returns handled=false when the line is an ordinary
// selector.
func (h *Handler) special(rc *types.RequestContext, decoded string, w io.Writer) (kind string, handled bool, err error) {
	line := decoded[1:]

	switch {
	case strings.HasPrefix(line, URLPrefix):
		rc.Type = types.TypeHTML
		target := line[len(URLPrefix):]
		if i := strings.IndexByte(target, '\t'); i >= 0 {
			target = target[:i]
		}
		logger.Debug("Redirecting %s to %s", rc.RemoteAddr, target)
		_, err = fmt.Fprintf(w, redirectPage, html.EscapeString(target))
		return KindRedirect, true, err

	case strings.HasPrefix(line, HTTPGet+StatusSelector):
		rc.Type = types.TypeText
		if _, err = io.WriteString(w, h.httpHeader("200 OK", "Content-Type: text/plain")); err != nil {
			return KindStatus, true, err
		}
		return KindStatus, true, h.writeStatus(rc, w)

	case strings.HasPrefix(line, HTTPGet):
		rc.Type = types.TypeText
		_, err = io.WriteString(w, h.httpHeader("301 Moved Permanently", "Location: "+h.gopherLocation()))
		return KindRedirect, true, err

	case strings.HasPrefix(line, StatusSelector):
		rc.Type = types.TypeText
		return KindStatus, true, h.writeStatus(rc, w)
	}

	return "", false, nil
}

// httpHeader builds a minimal HTTP/1.0 response header.
func (h *Handler) httpHeader(status, field string) string {
	return "HTTP/1.0 " + status + types.CRLF +
		field + types.CRLF +
		"Server: " + platform.Software + types.CRLF +
		types.CRLF
}

// gopherLocation is where HTTP clients are sent: the gopher root of this
// server, through the configured proxy when there is one.
func (h *Handler) gopherLocation() string {
	hostport := fmt.Sprintf("%s:%d/", h.cfg.Host, h.cfg.Port)
	if h.cfg.GopherProxy != "" {
		return h.cfg.GopherProxy + hostport
	}
	return "gopher://" + hostport
}

// writeStatus writes the server status report. It is read-only: the
// request is not accounted.
func (h *Handler) writeStatus(rc *types.RequestContext, w io.Writer) error {
	report, err := h.report(rc)
	if err != nil {
		return err
	}
	return report.Format(w, session.StatusInfo{
		Server:   platform.Software,
		Platform: platform.String(),
		CPULoad:  platform.LoadAverage(),
	})
}

func (h *Handler) report(rc *types.RequestContext) (*session.Report, error) {
	now := h.now()
	if h.deps.Store == nil {
		return session.NewReport(h.start, now, 0, 0, 1, nil, time.Duration(0)), nil
	}
	return h.deps.Store.Report(rc.Context, now)
}
