// Package handlers sequences one gopher request from the raw line to the
// response: decoding, special forms, path resolution, accounting and
// dispatch to the menu renderer or file delivery. It owns the error
// boundary: every failure is rendered in the style of the requested type.
package handlers

import (
	"bufio"
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/gopherd/internal/delivery"
	"github.com/marmos91/gopherd/internal/logger"
	"github.com/marmos91/gopherd/internal/protocol/gopher/filetype"
	"github.com/marmos91/gopherd/internal/protocol/gopher/gophermap"
	"github.com/marmos91/gopherd/internal/protocol/gopher/resolver"
	"github.com/marmos91/gopherd/internal/protocol/gopher/selector"
	"github.com/marmos91/gopherd/internal/protocol/gopher/types"
	"github.com/marmos91/gopherd/pkg/metrics"
	"github.com/marmos91/gopherd/pkg/store/session"
)

const (
	// MinWidth and MaxWidth bound the configured output width.
	MinWidth = 40
	MaxWidth = 200

	// DefaultWidth is used when no width is configured.
	DefaultWidth = 70
)

// Dispatch kinds, used as metric labels.
const (
	KindMenu     = "menu"
	KindFile     = "file"
	KindCGI      = "cgi"
	KindStatus   = "status"
	KindRedirect = "redirect"
	KindError    = "error"
)

// Config holds the request pipeline settings.
type Config struct {
	// Host is the primary host name advertised in menus.
	Host string

	// Port is the port advertised in menus.
	Port int

	// DefaultType is the filetype of unclassifiable resources.
	DefaultType types.ItemType

	// Width is the output width, clamped to MinWidth..MaxWidth.
	Width int

	// Charset is the output charset.
	Charset string

	// Features are the default feature toggles of every request.
	Features types.Features

	// GopherProxy, when set, prefixes "host:port/" in HTTP redirects
	// instead of "gopher://".
	GopherProxy string

	// Filetypes is the suffix table. Each menu render works on a clone.
	Filetypes *filetype.Table

	// Footer is the attribution text. Empty uses gophermap.FooterText().
	Footer string

	// Throttle is the policy applied when a session exceeds its limits.
	Throttle ThrottleConfig
}

// Deps are the collaborators of a Handler. Store, Metrics and AccessLog
// are optional.
type Deps struct {
	Resolver  *resolver.Resolver
	Renderer  *gophermap.Renderer
	Sender    *delivery.Sender
	Store     session.Store
	Metrics   metrics.GopherMetrics
	AccessLog *logger.AccessLog
}

// Conn is one client connection as seen by the pipeline.
type Conn struct {
	R          io.Reader
	W          io.Writer
	RemoteAddr string
}

// Handler runs the request pipeline. It holds no per-request state and is
// safe for concurrent use.
type Handler struct {
	cfg   Config
	deps  Deps
	start time.Time
	now   func() time.Time
}

// New creates a Handler, normalizing cfg.
//
// The width is clamped, dated listings are disabled when the width leaves
// no room for the date column, and virtual hosting is disabled when the
// primary host has no directory under the root.
func New(cfg Config, deps Deps) *Handler {
	if cfg.Width == 0 {
		cfg.Width = DefaultWidth
	}
	cfg.Width = max(MinWidth, min(MaxWidth, cfg.Width))
	if cfg.Width < MinWidth+gophermap.DateWidth {
		cfg.Features.Date = false
	}
	if cfg.DefaultType == 0 {
		cfg.DefaultType = types.TypeText
	}
	if cfg.Filetypes == nil {
		cfg.Filetypes = filetype.NewTable()
	}
	if cfg.Footer == "" {
		cfg.Footer = gophermap.FooterText()
	}
	if cfg.Features.VHost && deps.Resolver != nil && !deps.Resolver.HasVHost(cfg.Host) {
		logger.Warn("Virtual hosting disabled: no directory for primary host %s", cfg.Host)
		cfg.Features.VHost = false
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNoopGopherMetrics()
	}

	return &Handler{cfg: cfg, deps: deps, start: time.Now(), now: time.Now}
}

// Config returns the normalized configuration.
func (h *Handler) Config() Config {
	return h.cfg
}

// Handle serves one request read from conn.
//
// The response is always written, including for failures. The returned
// error is the failure that was rendered, or nil on success, so callers
// that map one process to one request can choose their exit status.
func (h *Handler) Handle(ctx context.Context, conn Conn) error {
	rc := h.newRequest(ctx, conn.RemoteAddr)
	log := logger.ForRequest(rc.ID)

	bw := bufio.NewWriter(conn.W)
	defer func() { _ = bw.Flush() }()
	cw := &countingWriter{w: bw}

	kind, err := h.serve(rc, conn.R, cw)
	if err != nil {
		log.Debug("Request %q from %s failed: %v", rc.Selector, rc.RemoteAddr, err)
		if h.cfg.Features.Log {
			log.Warn("error %q for request %q from %s", types.CodeOf(err).Message(), rc.Selector, rc.RemoteAddr)
		}
		h.renderError(rc, cw, err)
		kind = KindError
	}

	if kind != KindStatus && kind != KindRedirect {
		h.access(rc, err, cw.n)
	}

	errorCode := ""
	if err != nil {
		errorCode = types.CodeOf(err).String()
	}
	h.deps.Metrics.RecordRequest(kind, rc.Type.String(), time.Since(rc.Started), errorCode)
	h.deps.Metrics.RecordBytesSent(kind, cw.n)

	return err
}

func (h *Handler) newRequest(ctx context.Context, remoteAddr string) *types.RequestContext {
	rc := types.NewRequestContext(ctx, remoteAddr)
	rc.ID = uuid.NewString()
	rc.ServerHost = h.cfg.Host
	rc.DefaultHost = h.cfg.Host
	rc.ServerPort = h.cfg.Port
	rc.Width = h.cfg.Width
	rc.Charset = h.cfg.Charset
	rc.Features = h.cfg.Features
	rc.Type = types.TypeMenu
	rc.Selector = types.Root
	return rc
}

// serve runs the pipeline up to and including dispatch. It returns the
// dispatch kind and the first failure.
func (h *Handler) serve(rc *types.RequestContext, r io.Reader, w io.Writer) (string, error) {
	line, err := selector.ReadLine(r)
	if err != nil {
		if types.IsCode(err, types.ErrNoSelector) {
			return "", err
		}
		return "", types.WrapError(types.ErrNoSelector, "read request", err)
	}
	rc.Raw = strings.TrimRight(line, "\r\n")
	decoded := selector.Decode(line)

	if kind, handled, err := h.special(rc, decoded, w); handled {
		return kind, err
	}

	// Guess the filetype without touching the filesystem so early errors
	// are rendered in the right style.
	guess, _, _ := strings.Cut(decoded, "\t")
	rc.Type = h.cfg.Filetypes.Classify(guess, filetype.Options{Default: h.cfg.DefaultType})

	h.restoreSession(rc)

	req, err := selector.Parse(decoded, selector.Options{
		VHost:     rc.Features.VHost,
		HTTPQuery: rc.Features.Query,
	})
	if err != nil {
		return "", err
	}
	rc.Selector = req.Selector
	rc.Query = req.Query
	rc.Protocol = req.Protocol
	rc.VHostHint = req.VHostHint
	if rc.VHostHint != "" {
		rc.ServerHost = rc.VHostHint
	}

	if err := h.deps.Resolver.Resolve(rc); err != nil {
		return "", err
	}

	fi, err := os.Stat(rc.Path)
	if err != nil {
		return "", types.WrapError(types.ErrNotFound, "stat", err)
	}
	if fi.Mode().Perm()&0o004 == 0 {
		return "", types.NewError(types.ErrAccessDenied, "not world-readable")
	}
	if fi.Mode().Perm()&0o002 != 0 {
		return "", types.NewError(types.ErrAccessDenied, "world-writable")
	}
	rc.Size = fi.Size()

	if fi.IsDir() {
		rc.Type = types.TypeMenu
		if !strings.HasSuffix(rc.Selector, "/") {
			rc.Selector += "/"
		}
	} else {
		rc.Type = h.cfg.Filetypes.Classify(rc.Path, filetype.Options{
			Default: h.cfg.DefaultType,
			Sniff:   rc.Features.Magic,
		})
	}

	slot := h.account(rc)
	if err := h.throttle(rc, slot); err != nil {
		return "", err
	}

	if rc.Features.Log {
		logger.Info("request for %q from %s", rc.URL(), rc.RemoteAddr)
	}

	switch {
	case fi.IsDir():
		_, err := h.deps.Renderer.Render(rc, h.cfg.Filetypes.Clone(), w)
		return KindMenu, err
	case fi.Mode().IsRegular():
		kind := KindFile
		if h.deps.Sender.IsCGI(rc) {
			kind = KindCGI
		}
		_, err := h.deps.Sender.Send(rc, w)
		return kind, err
	default:
		return "", types.NewError(types.ErrAccessDenied, "not a regular file or directory")
	}
}

// restoreSession peeks at the client's session slot. A live slot restores
// the sticky virtual host, the display settings and the referrer.
func (h *Handler) restoreSession(rc *types.RequestContext) {
	if h.deps.Store == nil {
		return
	}

	slot, err := h.deps.Store.Lookup(rc.Context, session.Key{
		RemoteAddr: rc.RemoteAddr,
		ServerHost: rc.DefaultHost,
	}, h.now())
	if err != nil {
		logger.Debug("Session lookup for %s failed: %v", rc.RemoteAddr, err)
		return
	}
	if slot == nil {
		return
	}

	if rc.Features.VHost && slot.ServerHost != "" {
		rc.ServerHost = slot.ServerHost
	}
	if slot.Width >= MinWidth && slot.Width <= MaxWidth {
		rc.Width = slot.Width
	}
	if slot.Charset != "" {
		rc.Charset = slot.Charset
	}
	rc.Features.Date = rc.Features.Date && slot.Date
	rc.Referrer = slot.Selector
	rc.ReferrerType = slot.Type
}

// account records the request in the session store. Accounting failures
// are logged and never fail the request.
func (h *Handler) account(rc *types.RequestContext) *session.Slot {
	if h.deps.Store == nil {
		return nil
	}

	slot, err := h.deps.Store.Update(rc.Context, session.Record{
		RemoteAddr: rc.RemoteAddr,
		ServerHost: rc.ServerHost,
		ServerPort: rc.ServerPort,
		Selector:   rc.Selector,
		Type:       rc.Type,
		Bytes:      rc.Size,
		Width:      rc.Width,
		Charset:    rc.Charset,
		Date:       rc.Features.Date,
	}, h.now())
	if err != nil {
		logger.Warn("Session update for %s failed: %v", rc.RemoteAddr, err)
		return nil
	}
	return slot
}

func (h *Handler) access(rc *types.RequestContext, err error, n int64) {
	if h.deps.AccessLog == nil {
		return
	}
	status := 200
	if err != nil {
		status = 404
	}
	h.deps.AccessLog.Log(logger.AccessEntry{
		RemoteAddr: rc.RemoteAddr,
		ServerHost: rc.ServerHost,
		ServerPort: rc.ServerPort,
		Time:       h.now(),
		Type:       byte(rc.Type),
		Selector:   rc.Selector,
		Status:     status,
		Size:       n,
		Referrer:   rc.Referrer,
	})
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
