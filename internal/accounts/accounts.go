// Package accounts enumerates local system accounts for userdir resolution
// and the "~" gophermap directive.
package accounts

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// DefaultPasswdPath is the account database read by PasswdFile.
const DefaultPasswdPath = "/etc/passwd"

// ErrUnknownUser is returned by Lookup when no account has the login name.
var ErrUnknownUser = errors.New("unknown user")

// Account is one entry of the account database.
type Account struct {
	Login string
	UID   uint32
	GID   uint32
	Home  string
}

// Source looks up and enumerates accounts.
type Source interface {
	// Lookup returns the account for login, or ErrUnknownUser.
	Lookup(login string) (*Account, error)

	// List returns every account in database order.
	List() ([]Account, error)
}

// PasswdFile reads accounts from a passwd(5) formatted file.
//
// The file is re-read on every call. A request touches it at most a couple of
// times and an inetd-spawned process never lives long enough to benefit from
// caching.
type PasswdFile struct {
	Path string
}

// NewPasswdFile returns a Source backed by path, or DefaultPasswdPath when
// path is empty.
func NewPasswdFile(path string) *PasswdFile {
	if path == "" {
		path = DefaultPasswdPath
	}
	return &PasswdFile{Path: path}
}

func (p *PasswdFile) Lookup(login string) (*Account, error) {
	if login == "" {
		return nil, ErrUnknownUser
	}

	accounts, err := p.List()
	if err != nil {
		return nil, err
	}

	for i := range accounts {
		if accounts[i].Login == login {
			return &accounts[i], nil
		}
	}
	return nil, ErrUnknownUser
}

func (p *PasswdFile) List() ([]Account, error) {
	f, err := os.Open(p.Path)
	if err != nil {
		return nil, fmt.Errorf("open account database: %w", err)
	}
	defer func() { _ = f.Close() }()

	var out []Account
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if acct, ok := parseLine(scanner.Text()); ok {
			out = append(out, acct)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read account database: %w", err)
	}

	return out, nil
}

// parseLine parses "login:password:uid:gid:gecos:home:shell".
// Comments, NIS "+"/"-" entries and malformed lines are skipped.
func parseLine(line string) (Account, bool) {
	line = strings.TrimSpace(line)
	if line == "" || line[0] == '#' || line[0] == '+' || line[0] == '-' {
		return Account{}, false
	}

	fields := strings.Split(line, ":")
	if len(fields) < 7 || fields[0] == "" {
		return Account{}, false
	}

	uid, err := strconv.ParseUint(fields[2], 10, 32)
	if err != nil {
		return Account{}, false
	}
	gid, err := strconv.ParseUint(fields[3], 10, 32)
	if err != nil {
		return Account{}, false
	}

	return Account{
		Login: fields[0],
		UID:   uint32(uid),
		GID:   uint32(gid),
		Home:  fields[5],
	}, true
}

// Static is an in-memory Source, used by tests and by configurations that
// pin the set of published users.
type Static []Account

func (s Static) Lookup(login string) (*Account, error) {
	for i := range s {
		if s[i].Login == login {
			a := s[i]
			return &a, nil
		}
	}
	return nil, ErrUnknownUser
}

func (s Static) List() ([]Account, error) {
	out := make([]Account, len(s))
	copy(out, s)
	return out, nil
}
