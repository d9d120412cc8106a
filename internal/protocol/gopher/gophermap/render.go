package gophermap

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/marmos91/gopherd/internal/charset"
	"github.com/marmos91/gopherd/internal/logger"
	"github.com/marmos91/gopherd/internal/protocol/gopher/filetype"
	"github.com/marmos91/gopherd/internal/protocol/gopher/resolver"
	"github.com/marmos91/gopherd/internal/protocol/gopher/selector"
	"github.com/marmos91/gopherd/internal/protocol/gopher/types"
)

const (
	// DateLayout is the modification date format of dated listings.
	DateLayout = "2006-Jan-02 15:04"

	// DateWidth is the column width of DateLayout.
	DateWidth = 17

	// sizeColumns is the space taken by the separators and size column.
	sizeColumns = 15

	// maxLineLength bounds gophermap lines.
	maxLineLength = 4096
)

// Executor runs an executable gophermap in place of interpreting it.
type Executor interface {
	Exec(rc *types.RequestContext, path string, w io.Writer) error
}

// Config holds the renderer settings.
type Config struct {
	// MapFile is the control file name looked up in each directory.
	MapFile string

	// DefaultType is the filetype for unclassifiable files.
	DefaultType types.ItemType

	// Footer is the attribution text. Empty uses FooterText().
	Footer string
}

// Renderer renders directory menus. It holds no per-request state and is
// safe for concurrent use.
type Renderer struct {
	cfg      Config
	resolver *resolver.Resolver
	exec     Executor
}

// New creates a Renderer.
func New(cfg Config, res *resolver.Resolver, exec Executor) *Renderer {
	if cfg.MapFile == "" {
		cfg.MapFile = "gophermap"
	}
	if cfg.DefaultType == 0 {
		cfg.DefaultType = types.TypeText
	}
	if cfg.Footer == "" {
		cfg.Footer = FooterText()
	}
	return &Renderer{cfg: cfg, resolver: res, exec: exec}
}

// Footer returns the attribution text.
func (r *Renderer) Footer() string {
	return r.cfg.Footer
}

// outcome is how interpretation of a gophermap ended.
type outcome int

const (
	outcomeEOF outcome = iota
	outcomeStop
	outcomeEnd
)

// menu is the state of one top-level render. Hidden names live on the
// request context; suffix overrides live in table, which the caller owns.
type menu struct {
	r     *Renderer
	rc    *types.RequestContext
	table *filetype.Table
	w     *errWriter
}

// Render writes the menu for the directory at rc.Path to w.
//
// An executable gophermap is handed to the Executor. A readable one is
// interpreted; unless it stops with "*" or ".", the directory is then
// listed. Directives in the map may register hidden names on rc and suffix
// overrides in table; both are scoped to this render by the caller.
//
// Returns the number of bytes written and the first error encountered.
func (r *Renderer) Render(rc *types.RequestContext, table *filetype.Table, w io.Writer) (int64, error) {
	m := &menu{r: r, rc: rc, table: table, w: &errWriter{w: w}}

	mapPath := filepath.Join(rc.Path, r.cfg.MapFile)
	if fi, err := os.Stat(mapPath); err == nil && fi.Mode().IsRegular() {
		if fi.Mode().Perm()&0o001 != 0 {
			if r.exec == nil {
				return 0, types.NewError(types.ErrExecFailure, "no executor for "+mapPath)
			}
			logger.Debug("Executing gophermap %s", mapPath)
			cw := &countingWriter{w: w}
			err := r.exec.Exec(rc, mapPath, cw)
			return cw.n, err
		}

		switch m.interpret(mapPath) {
		case outcomeStop:
			m.w.WriteString(types.Terminator)
			return m.w.n, m.w.err
		case outcomeEnd:
			return m.finish()
		}
	}

	if err := m.list(); err != nil {
		return m.w.n, err
	}
	return m.finish()
}

func (m *menu) finish() (int64, error) {
	if m.w.err != nil {
		return m.w.n, m.w.err
	}
	cw := &countingWriter{w: m.w.w}
	err := WriteFooter(cw, m.rc, m.r.cfg.Footer)
	return m.w.n + cw.n, err
}

// ============================================================================
// Interpreter
// ============================================================================

func (m *menu) interpret(file string) outcome {
	f, err := os.Open(file)
	if err != nil {
		logger.Debug("Cannot open gophermap %s: %v", file, err)
		return outcomeEOF
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024), maxLineLength)

	for scanner.Scan() && m.w.err == nil {
		d := Parse(scanner.Text())

		switch d.Kind {
		case KindComment:
		case KindStopNoFooter:
			return outcomeStop
		case KindStopWithFooter:
			return outcomeEnd
		case KindUserList:
			m.userList()
		case KindVHostList:
			if m.rc.Features.VHost {
				m.vhostList()
			}
		case KindHide:
			m.rc.Hide(d.Text)
		case KindTypeOverride:
			if err := m.table.Override(d.Text); err != nil {
				logger.Debug("Ignoring filetype directive in %s: %v", file, err)
			}
		case KindInfo:
			m.w.entry(types.InfoLine(m.display(d.Text)))
		case KindEntry:
			m.w.entry(m.entry(d))
		}
	}

	if err := scanner.Err(); err != nil {
		logger.Debug("Reading gophermap %s: %v", file, err)
	}
	return outcomeEOF
}

func (m *menu) entry(d Directive) types.MenuEntry {
	e := types.MenuEntry{
		Type:     d.Type,
		Display:  m.display(d.Text),
		Selector: d.Selector,
		Host:     d.Host,
		Port:     d.Port,
	}
	if e.Host == "" {
		e.Host = m.rc.ServerHost
	}
	if e.Port == 0 {
		e.Port = m.rc.ServerPort
	}
	if !IsAbsolute(e.Selector) {
		e.Selector = m.rc.Selector + e.Selector
	}
	return e
}

func (m *menu) display(s string) string {
	return charset.Convert(s, m.rc.Charset)
}

func (m *menu) userList() {
	if m.r.resolver == nil {
		return
	}
	users, err := m.r.resolver.UserDirs()
	if err != nil {
		logger.Debug("Listing userdirs: %v", err)
		return
	}

	for _, u := range users {
		m.w.entry(types.MenuEntry{
			Type:     types.TypeMenu,
			Display:  m.listName("~"+u.Login, u.ModTime),
			Selector: "/~" + u.Login + "/",
			Host:     m.rc.DefaultHost,
			Port:     m.rc.ServerPort,
		})
	}
}

func (m *menu) vhostList() {
	if m.r.resolver == nil {
		return
	}
	hosts, err := m.r.resolver.VHosts()
	if err != nil {
		logger.Debug("Listing virtual hosts: %v", err)
		return
	}

	for _, h := range hosts {
		m.w.entry(types.MenuEntry{
			Type:     types.TypeMenu,
			Display:  m.listName("gopher://"+h.Name+"/", h.ModTime),
			Selector: "/;" + h.Name,
			Host:     h.Name,
			Port:     m.rc.ServerPort,
		})
	}
}

// ============================================================================
// Auto-listing
// ============================================================================

type dirEntry struct {
	name  string
	isDir bool
}

func (m *menu) list() error {
	des, err := os.ReadDir(m.rc.Path)
	if err != nil {
		return types.WrapError(types.ErrNotFound, "read directory", err)
	}

	entries := make([]dirEntry, 0, len(des))
	for _, de := range des {
		entries = append(entries, dirEntry{name: de.Name(), isDir: de.IsDir()})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].isDir != entries[j].isDir {
			return entries[i].isDir
		}
		return entries[i].name < entries[j].name
	})

	if m.rc.Features.Parent && m.rc.Selector != types.Root {
		m.w.entry(m.parent())
	}

	for _, e := range entries {
		if m.w.err != nil {
			break
		}
		m.listEntry(e.name)
	}

	return nil
}

func (m *menu) parent() types.MenuEntry {
	parent := path.Dir(strings.TrimSuffix(m.rc.Selector, "/"))
	if parent == types.Root {
		parent = ""
	}

	display := types.ParentName
	if m.dated() {
		display = fmt.Sprintf("%-*s", m.rc.Width-1, types.ParentName)
	}

	return types.MenuEntry{
		Type:     types.TypeMenu,
		Display:  display,
		Selector: parent + "/",
		Host:     m.rc.ServerHost,
		Port:     m.rc.ServerPort,
	}
}

func (m *menu) listEntry(name string) {
	if name == "" || name[0] == '.' || name == m.r.cfg.MapFile || m.rc.IsHidden(name) {
		return
	}

	full := filepath.Join(m.rc.Path, name)
	fi, err := os.Stat(full)
	if err != nil || fi.Mode().Perm()&0o004 == 0 {
		return
	}

	if strings.Index(name, m.r.cfg.MapFile) > 0 {
		m.interpret(full)
		return
	}

	encoded := selector.Encode(name)
	display := m.display(name)

	if fi.IsDir() {
		if m.dated() {
			display = m.pad(display) + "   " + fi.ModTime().Format(DateLayout) + "        -  "
		} else {
			display, _ = charset.Truncate(display, m.rc.Width, m.rc.Charset)
		}
		m.w.entry(types.MenuEntry{
			Type:     types.TypeMenu,
			Display:  display,
			Selector: m.rc.Selector + encoded + "/",
			Host:     m.rc.ServerHost,
			Port:     m.rc.ServerPort,
		})
		return
	}

	typ := m.table.Classify(full, filetype.Options{
		Default: m.r.cfg.DefaultType,
		Sniff:   m.rc.Features.Magic,
	})

	if m.dated() {
		display = m.pad(display) + "   " + fi.ModTime().Format(DateLayout) + " " + FormatSize(fi.Size())
	} else {
		display, _ = charset.Truncate(display, m.rc.Width, m.rc.Charset)
	}
	m.w.entry(types.MenuEntry{
		Type:     typ,
		Display:  display,
		Selector: m.rc.Selector + encoded,
		Host:     m.rc.ServerHost,
		Port:     m.rc.ServerPort,
	})
}

// listName formats a generated directory entry name, dated or compact.
func (m *menu) listName(name string, mtime time.Time) string {
	if m.dated() {
		return m.pad(name) + "   " + mtime.Format(DateLayout) + "        -  "
	}
	name, _ = charset.Truncate(name, m.rc.Width, m.rc.Charset)
	return name
}

func (m *menu) nameWidth() int {
	return m.rc.Width - DateWidth - sizeColumns
}

func (m *menu) dated() bool {
	return m.rc.Features.Date && m.nameWidth() > 0
}

// pad cuts s to the name column and pads it with spaces, counting columns
// rather than bytes so UTF-8 output stays aligned.
func (m *menu) pad(s string) string {
	width := m.nameWidth()
	s, n := charset.Truncate(s, width, m.rc.Charset)
	return s + strings.Repeat(" ", width-n)
}

// FormatSize renders a byte count as a right-aligned seven-column figure in
// KB, MB, GB, TB or PB.
func FormatSize(size int64) string {
	units := []string{"KB", "MB", "GB", "TB", "PB"}
	s := float64(size) / 1024
	u := 0
	for s >= 1000 && u+1 < len(units) {
		s /= 1024
		u++
	}
	return fmt.Sprintf("%7.1f %s", s, units[u])
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
