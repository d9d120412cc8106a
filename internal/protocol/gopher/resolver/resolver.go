// Package resolver maps normalized selectors to absolute filesystem paths.
//
// Three modes are tried in order: per-user directories ("/~login/..."),
// virtual hosts (one content tree per subdirectory of the root) and plain
// root-relative paths. Selectors reaching the resolver have already been
// normalized by the selector package, so they start with "/", contain no
// "/." and never escape the tree they are joined to.
package resolver

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/marmos91/gopherd/internal/accounts"
	"github.com/marmos91/gopherd/internal/protocol/gopher/types"
)

// DefaultReserved are root entries never treated as virtual hosts.
var DefaultReserved = []string{"lost+found"}

// Config holds the resolver settings.
type Config struct {
	// Root is the absolute server root.
	Root string

	// UserDir is the per-user subdirectory name ("public_gopher").
	// Empty disables userdirs regardless of the request feature flag.
	UserDir string

	// MinUID is the lowest account id whose userdir may be served.
	MinUID uint32

	// Reserved lists root entries skipped when probing virtual hosts.
	Reserved []string

	// Accounts looks up userdir owners.
	Accounts accounts.Source
}

// Resolver turns selectors into paths. It is safe for concurrent use.
type Resolver struct {
	cfg      Config
	reserved map[string]struct{}
}

// New creates a Resolver.
func New(cfg Config) *Resolver {
	if cfg.Reserved == nil {
		cfg.Reserved = DefaultReserved
	}
	if cfg.Accounts == nil {
		cfg.Accounts = accounts.NewPasswdFile("")
	}
	cfg.Root = strings.TrimRight(cfg.Root, "/")

	reserved := make(map[string]struct{}, len(cfg.Reserved))
	for _, name := range cfg.Reserved {
		reserved[name] = struct{}{}
	}

	return &Resolver{cfg: cfg, reserved: reserved}
}

// Root returns the configured server root.
func (r *Resolver) Root() string {
	return r.cfg.Root
}

// Resolve sets rc.Path (and possibly rc.ServerHost) for rc.Selector.
//
// Returns:
//   - ErrNotFound when no user, virtual host or path matches
//   - ErrAccessDenied when a userdir target fails the permission or
//     ownership checks
//
// World-readability of non-userdir results is not checked here.
func (r *Resolver) Resolve(rc *types.RequestContext) error {
	if rc.Features.UserDir && r.cfg.UserDir != "" && strings.HasPrefix(rc.Selector, "/~") {
		return r.resolveUserDir(rc)
	}

	if rc.Features.VHost {
		return r.resolveVHost(rc)
	}

	rc.Path = r.cfg.Root + rc.Selector
	return nil
}

// ============================================================================
// Userdirs
// ============================================================================

func (r *Resolver) resolveUserDir(rc *types.RequestContext) error {
	login, rest, _ := strings.Cut(rc.Selector[2:], "/")

	acct, err := r.cfg.Accounts.Lookup(login)
	if err != nil {
		if errors.Is(err, accounts.ErrUnknownUser) {
			return types.NewError(types.ErrNotFound, "user not found")
		}
		return types.WrapError(types.ErrNotFound, "account lookup", err)
	}
	if acct.UID < r.cfg.MinUID {
		return types.NewError(types.ErrNotFound, "user found but uid too low")
	}

	// Join drops the trailing slash that marks a directory selector.
	path := filepath.Join(acct.Home, r.cfg.UserDir, rest)
	if strings.HasSuffix(rc.Selector, "/") {
		path += "/"
	}

	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return types.WrapError(types.ErrNotFound, "userdir target", err)
	}
	if st.Mode&unix.S_IROTH == 0 {
		return types.NewError(types.ErrAccessDenied, "userdir target not world-readable")
	}
	if st.Uid != acct.UID {
		return types.NewError(types.ErrAccessDenied, "userdir target not owned by "+acct.Login)
	}

	rc.Path = path
	rc.ServerHost = rc.DefaultHost
	return nil
}

// UserDir is a published per-user directory.
type UserDir struct {
	Login   string
	ModTime time.Time
}

// UserDirs lists accounts with a publishable userdir: uid at or above the
// minimum, and a userdir that exists, is world-readable and is owned by the
// account. Accounts are returned in database order.
func (r *Resolver) UserDirs() ([]UserDir, error) {
	if r.cfg.UserDir == "" {
		return nil, nil
	}

	accts, err := r.cfg.Accounts.List()
	if err != nil {
		return nil, err
	}

	var out []UserDir
	for _, a := range accts {
		if a.UID < r.cfg.MinUID {
			continue
		}

		var st unix.Stat_t
		if err := unix.Stat(filepath.Join(a.Home, r.cfg.UserDir), &st); err != nil {
			continue
		}
		if st.Mode&unix.S_IROTH == 0 || st.Uid != a.UID {
			continue
		}

		out = append(out, UserDir{
			Login:   a.Login,
			ModTime: time.Unix(st.Mtim.Unix()),
		})
	}

	return out, nil
}

// ============================================================================
// Virtual hosts
// ============================================================================

func (r *Resolver) resolveVHost(rc *types.RequestContext) error {
	if rc.ServerHost != "" && r.isCandidate(rc.ServerHost) {
		path := r.cfg.Root + "/" + rc.ServerHost + rc.Selector
		if exists(path) {
			rc.Path = path
			return nil
		}
	}

	entries, err := os.ReadDir(r.cfg.Root)
	if err != nil {
		return types.WrapError(types.ErrNotFound, "read server root", err)
	}

	for _, e := range entries {
		name := e.Name()
		if !r.isCandidate(name) || name == rc.ServerHost {
			continue
		}

		path := r.cfg.Root + "/" + name + rc.Selector
		if exists(path) {
			rc.Path = path
			rc.ServerHost = name
			return nil
		}
	}

	return types.NewError(types.ErrNotFound, "selector not found under any virtual host")
}

func (r *Resolver) isCandidate(name string) bool {
	if name == "" || name[0] == '.' || strings.ContainsRune(name, '/') {
		return false
	}
	_, reserved := r.reserved[name]
	return !reserved
}

// VHost is a servable virtual host directory.
type VHost struct {
	Name    string
	ModTime time.Time
}

// VHosts lists world-readable virtual host directories in lexical order.
func (r *Resolver) VHosts() ([]VHost, error) {
	entries, err := os.ReadDir(r.cfg.Root)
	if err != nil {
		return nil, types.WrapError(types.ErrNotFound, "read server root", err)
	}

	var out []VHost
	for _, e := range entries {
		if !r.isCandidate(e.Name()) {
			continue
		}

		fi, err := os.Stat(filepath.Join(r.cfg.Root, e.Name()))
		if err != nil || !fi.IsDir() || fi.Mode().Perm()&0o004 == 0 {
			continue
		}
		out = append(out, VHost{Name: e.Name(), ModTime: fi.ModTime()})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// HasVHost reports whether <root>/<host> exists, which is the precondition
// for enabling virtual hosting at all.
func (r *Resolver) HasVHost(host string) bool {
	if !r.isCandidate(host) {
		return false
	}
	fi, err := os.Stat(filepath.Join(r.cfg.Root, host))
	return err == nil && fi.IsDir()
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
