// Package session defines the accounting store shared by every request.
//
// The store is a fixed-capacity table of recently seen clients plus global
// hit and kilobyte counters. Each request peeks at the table to restore a
// client's sticky virtual host, then records itself once the resource has
// been resolved. Thresholds are exposed through Limits; enforcing them is the
// caller's decision.
//
// Consistency is deliberately weak. Backends shared between processes may
// lose a concurrent slot update, but the reuse and eviction policy is the
// same in every backend: a matching live slot is refreshed, otherwise the
// first empty or expired slot is claimed, otherwise the least recently
// updated slot is overwritten.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/marmos91/gopherd/internal/protocol/gopher/types"
)

const (
	// DefaultSlots is the number of client slots in a store.
	DefaultSlots = 256

	// DefaultTimeout is how long a slot stays live after its last request.
	DefaultTimeout = 1800 * time.Second

	// DefaultMaxHits is the per-session hit threshold.
	DefaultMaxHits = 1024

	// DefaultMaxKBytes is the per-session kilobyte threshold.
	DefaultMaxKBytes = 1048576

	// Field bounds shared by the fixed-layout backends. Longer values are
	// truncated when stored.
	MaxAddrLen     = 64
	MaxHostLen     = 64
	MaxSelectorLen = 128
	MaxCharsetLen  = 16
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("session store closed")

// Key identifies the client a request belongs to.
type Key struct {
	RemoteAddr string
	ServerHost string
}

// Record describes one request to account for.
type Record struct {
	RemoteAddr string
	ServerHost string
	ServerPort int
	Selector   string
	Type       types.ItemType

	// Bytes is the size of the delivered resource. It is accounted in
	// whole kilobytes, rounded down.
	Bytes int64

	// Display snapshot restored for the next request of the same client.
	Width   int
	Charset string
	Date    bool
}

// Key returns the lookup key of the record.
func (r Record) Key() Key {
	return Key{RemoteAddr: r.RemoteAddr, ServerHost: r.ServerHost}
}

// Slot is one entry of the table.
type Slot struct {
	RemoteAddr string
	ServerHost string
	ServerPort int
	ATime      time.Time
	Hits       int64
	KBytes     int64
	Selector   string
	Type       types.ItemType
	Width      int
	Charset    string
	Date       bool
}

// Empty reports whether the slot has never been claimed.
func (s *Slot) Empty() bool {
	return s.RemoteAddr == "" && s.ATime.IsZero()
}

// Live reports whether the slot was updated less than timeout before now.
func (s *Slot) Live(now time.Time, timeout time.Duration) bool {
	if s.Empty() {
		return false
	}
	return now.Sub(s.ATime) < timeout
}

// Limits are the store's configured bounds and thresholds.
type Limits struct {
	// Slots is the table capacity.
	Slots int `mapstructure:"slots"`

	// Timeout is the idle time after which a slot may be reused.
	Timeout time.Duration `mapstructure:"timeout"`

	// MaxHits and MaxKBytes are per-session thresholds. They are reported,
	// never enforced, by the store.
	MaxHits   int64 `mapstructure:"max_hits"`
	MaxKBytes int64 `mapstructure:"max_kbytes"`

	// HostAware also requires the server host to match when looking up a
	// client. Without it a client keeps one slot across virtual hosts.
	HostAware bool `mapstructure:"host_aware"`
}

// WithDefaults fills zero fields with the package defaults.
func (l Limits) WithDefaults() Limits {
	if l.Slots <= 0 {
		l.Slots = DefaultSlots
	}
	if l.Timeout <= 0 {
		l.Timeout = DefaultTimeout
	}
	if l.MaxHits <= 0 {
		l.MaxHits = DefaultMaxHits
	}
	if l.MaxKBytes <= 0 {
		l.MaxKBytes = DefaultMaxKBytes
	}
	return l
}

// Exceeded reports whether a slot has gone past either threshold.
func (l Limits) Exceeded(s *Slot) bool {
	if s == nil {
		return false
	}
	return s.Hits > l.MaxHits || s.KBytes > l.MaxKBytes
}

// Store is the accounting store capability.
//
// Implementations must be safe for concurrent use by multiple goroutines.
// Backends shared between processes additionally tolerate concurrent
// mutation from other processes with the weak consistency described in the
// package documentation.
type Store interface {
	// Lookup returns a copy of the live slot matching key, or nil when the
	// client has no live slot. It never modifies the table.
	Lookup(ctx context.Context, key Key, now time.Time) (*Slot, error)

	// Update accounts for one request. The matching live slot is refreshed
	// or a slot is claimed for the client, and the global counters are
	// incremented. Returns a copy of the slot after the update.
	Update(ctx context.Context, rec Record, now time.Time) (*Slot, error)

	// Report returns a read-only snapshot of the counters and live slots.
	Report(ctx context.Context, now time.Time) (*Report, error)

	// Limits returns the configured bounds and thresholds.
	Limits() Limits

	// Healthcheck verifies the backend is usable.
	Healthcheck(ctx context.Context) error

	// Close releases the backend. Further calls return ErrClosed.
	Close() error
}

// ============================================================================
// Table policy
// ============================================================================

// Match returns the index of the live slot for key, or -1.
func Match(slots []Slot, key Key, now time.Time, limits Limits) int {
	key.RemoteAddr = truncate(key.RemoteAddr, MaxAddrLen)
	key.ServerHost = truncate(key.ServerHost, MaxHostLen)
	for i := range slots {
		s := &slots[i]
		if !s.Live(now, limits.Timeout) || s.RemoteAddr != key.RemoteAddr {
			continue
		}
		if limits.HostAware && s.ServerHost != key.ServerHost {
			continue
		}
		return i
	}
	return -1
}

// Claim returns the slot to reuse for a new client: the first empty or
// expired slot, otherwise the one with the oldest access time.
func Claim(slots []Slot, now time.Time, timeout time.Duration) int {
	oldest := -1
	for i := range slots {
		s := &slots[i]
		if !s.Live(now, timeout) {
			return i
		}
		if oldest < 0 || s.ATime.Before(slots[oldest].ATime) {
			oldest = i
		}
	}
	return oldest
}

// Apply writes rec into s. When fresh is true the counters restart.
func Apply(s *Slot, rec Record, now time.Time, fresh bool) {
	if fresh {
		*s = Slot{}
	}
	s.RemoteAddr = truncate(rec.RemoteAddr, MaxAddrLen)
	s.ServerHost = truncate(rec.ServerHost, MaxHostLen)
	s.ServerPort = rec.ServerPort
	s.ATime = now
	s.Hits++
	s.KBytes += KBytes(rec.Bytes)
	s.Selector = truncate(rec.Selector, MaxSelectorLen)
	s.Type = rec.Type
	s.Width = rec.Width
	s.Charset = truncate(rec.Charset, MaxCharsetLen)
	s.Date = rec.Date
}

// Account applies rec to the table and returns the index of the slot used.
func Account(slots []Slot, rec Record, now time.Time, limits Limits) int {
	if i := Match(slots, rec.Key(), now, limits); i >= 0 {
		Apply(&slots[i], rec, now, false)
		return i
	}
	i := Claim(slots, now, limits.Timeout)
	if i >= 0 {
		Apply(&slots[i], rec, now, true)
	}
	return i
}

// KBytes converts a byte count to whole kilobytes.
func KBytes(n int64) int64 {
	if n <= 0 {
		return 0
	}
	return n / 1024
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
