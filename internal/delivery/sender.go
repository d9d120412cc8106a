// Package delivery writes resolved files to the client.
//
// Regular files are copied verbatim, text files are re-encoded line by line
// to the output charset, and executable content (CGI scripts, query
// scripts, filters and executable gophermaps) is run with a CGI-style
// environment and its standard output is sent instead.
package delivery

import (
	"bufio"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/marmos91/gopherd/internal/charset"
	"github.com/marmos91/gopherd/internal/logger"
	"github.com/marmos91/gopherd/internal/protocol/gopher/types"
)

const (
	// DefaultCGIDir is the path fragment that marks executable content.
	DefaultCGIDir = "/cgi-bin/"

	// DefaultExecTimeout bounds a single script run.
	DefaultExecTimeout = 60 * time.Second
)

// Config holds the delivery settings.
type Config struct {
	// Root is the document root exported to scripts as DOCUMENT_ROOT.
	Root string

	// CGIDir marks a file as a CGI script when its path contains it.
	CGIDir string

	// FilterDir holds per-suffix and per-type filter scripts. Empty
	// disables filters.
	FilterDir string

	// MapFile is the gophermap name, which is never served as a file.
	MapFile string

	// StrictRFC1436 dot-stuffs text files and ends them with ".".
	StrictRFC1436 bool

	// ExecTimeout bounds script runs. Zero uses DefaultExecTimeout.
	ExecTimeout time.Duration
}

// Sender delivers files. It holds no per-request state and is safe for
// concurrent use.
type Sender struct {
	cfg Config
}

// New creates a Sender.
func New(cfg Config) *Sender {
	if cfg.CGIDir == "" {
		cfg.CGIDir = DefaultCGIDir
	}
	if cfg.MapFile == "" {
		cfg.MapFile = "gophermap"
	}
	if cfg.ExecTimeout <= 0 {
		cfg.ExecTimeout = DefaultExecTimeout
	}
	cfg.Root = strings.TrimSuffix(cfg.Root, "/")
	return &Sender{cfg: cfg}
}

// Send writes the regular file at rc.Path to w.
//
// The order of checks is:
//  1. A gophermap is refused with AccessDenied
//  2. A path under the CGI directory, or a query-type file, is executed
//  3. A matching filter script is run with the file as its argument
//  4. Text files are transcoded; everything else is copied verbatim
//
// Returns the number of bytes written and the first error encountered.
func (s *Sender) Send(rc *types.RequestContext, w io.Writer) (int64, error) {
	if filepath.Base(rc.Path) == s.cfg.MapFile {
		return 0, types.NewError(types.ErrAccessDenied, "gophermap requested as file")
	}

	cw := &countingWriter{w: w}

	if s.IsCGI(rc) {
		err := s.run(rc, rc.Path, nil, cw)
		return cw.n, err
	}

	if filter := s.filter(rc); filter != "" {
		err := s.run(rc, filter, []string{rc.Path}, cw)
		return cw.n, err
	}

	var err error
	if rc.Type == types.TypeText {
		err = s.sendText(rc, cw)
	} else {
		err = s.sendBinary(rc, cw)
	}
	return cw.n, err
}

// IsCGI reports whether the resource is executed rather than sent.
func (s *Sender) IsCGI(rc *types.RequestContext) bool {
	return strings.Contains(rc.Path, s.cfg.CGIDir) || rc.Type == types.TypeQuery
}

// filter returns the filter script for the resource, preferring a suffix
// filter over a type filter. Only world-executable filters are used.
func (s *Sender) filter(rc *types.RequestContext) string {
	if s.cfg.FilterDir == "" {
		return ""
	}

	var candidates []string
	if ext := filepath.Ext(rc.Path); len(ext) > 1 {
		candidates = append(candidates, filepath.Join(s.cfg.FilterDir, ext[1:]))
	}
	candidates = append(candidates, filepath.Join(s.cfg.FilterDir, rc.Type.String()))

	for _, c := range candidates {
		fi, err := os.Stat(c)
		if err == nil && fi.Mode().IsRegular() && fi.Mode().Perm()&0o001 != 0 {
			return c
		}
	}
	return ""
}

func (s *Sender) sendBinary(rc *types.RequestContext, w io.Writer) error {
	logger.Debug("Outputting binary file %s", rc.Path)

	f, err := os.Open(rc.Path)
	if err != nil {
		return types.WrapError(types.ErrNotFound, "open", err)
	}
	defer func() { _ = f.Close() }()

	_, err = io.Copy(w, f)
	return err
}

func (s *Sender) sendText(rc *types.RequestContext, w io.Writer) error {
	logger.Debug("Outputting text file %s", rc.Path)

	f, err := os.Open(rc.Path)
	if err != nil {
		return types.WrapError(types.ErrNotFound, "open", err)
	}
	defer func() { _ = f.Close() }()

	bw := bufio.NewWriter(w)
	br := bufio.NewReader(f)

	for {
		line, rerr := br.ReadString('\n')
		if line != "" {
			line = strings.TrimRight(line, "\r\n")
			if rc.Charset != "" {
				line = charset.Convert(line, rc.Charset)
			}
			if s.cfg.StrictRFC1436 && line == "." {
				line = ".."
			}
			if _, err := bw.WriteString(line + types.CRLF); err != nil {
				return err
			}
		}
		if rerr != nil {
			if !errors.Is(rerr, io.EOF) {
				return rerr
			}
			break
		}
	}

	if s.cfg.StrictRFC1436 {
		if _, err := bw.WriteString(types.Terminator); err != nil {
			return err
		}
	}
	return bw.Flush()
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
