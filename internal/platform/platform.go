// Package platform describes the host the server runs on.
package platform

import (
	"strings"
	"sync"

	"golang.org/x/sys/unix"
)

// Software is the server name and version advertised in footers, HTTP
// headers and the CGI environment.
var Software = "gopherd/" + Version

// Version is overridden at link time with -ldflags "-X".
var Version = "1.0.0"

var (
	once     sync.Once
	platform string
)

// String returns "<sysname> <major.minor> <machine>", e.g. "Linux 6.1 x86_64".
// The value is computed once per process.
func String() string {
	once.Do(func() {
		platform = describe()
	})
	return platform
}

func describe() string {
	var u unix.Utsname
	if err := unix.Uname(&u); err != nil {
		return "Unknown computer-like system"
	}

	sysname := unix.ByteSliceToString(u.Sysname[:])
	release := shortRelease(unix.ByteSliceToString(u.Release[:]))
	machine := unix.ByteSliceToString(u.Machine[:])

	return strings.TrimSpace(sysname + " " + release + " " + machine)
}

// shortRelease keeps only major.minor of a kernel release and drops any
// "-suffix".
func shortRelease(release string) string {
	if i := strings.IndexByte(release, '-'); i >= 0 {
		release = release[:i]
	}
	if first := strings.IndexByte(release, '.'); first >= 0 {
		if second := strings.IndexByte(release[first+1:], '.'); second >= 0 {
			release = release[:first+1+second]
		}
	}
	return release
}
