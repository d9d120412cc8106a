//go:build linux

package platform

import "golang.org/x/sys/unix"

// LoadAverage returns the one-minute load average, or 0 if unavailable.
func LoadAverage() float64 {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0
	}
	return float64(info.Loads[0]) / float64(1<<unix.SI_LOAD_SHIFT)
}
