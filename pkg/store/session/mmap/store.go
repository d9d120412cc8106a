// Package mmap implements a session store shared between processes through
// a memory-mapped file.
//
// It backs inetd mode, where every connection is served by a separate
// short-lived process. Each process maps the same file, peeks and updates
// the client table in place, and detaches on exit.
package mmap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/marmos91/gopherd/internal/logger"
	"github.com/marmos91/gopherd/pkg/store/session"
)

// DefaultPath is the segment file used when none is configured.
const DefaultPath = "/var/run/gopherd/sessions"

// MmapConfig configures the shared-segment store.
type MmapConfig struct {
	// Path is the segment file. It is created when missing.
	Path string `mapstructure:"path"`

	// Lock serializes Update across processes with an advisory flock on
	// the segment file. Without it concurrent updates may lose a slot
	// write; global counters are atomic either way.
	Lock bool `mapstructure:"lock"`

	// Limits are the table bounds and thresholds.
	Limits session.Limits `mapstructure:"-"`
}

// MmapSessionStore implements session.Store over a shared mapping.
//
// Thread Safety:
// Goroutines of one process are serialized by mu. Between processes, global
// counters and the attached count use atomic operations on the mapping and
// slot updates are optimistic unless Lock is set. A segment with a
// different slot count or layout is reformatted on open.
type MmapSessionStore struct {
	mu sync.Mutex

	file   *os.File
	data   segment
	limits session.Limits
	lock   bool
	closed bool
}

// NewMmapSessionStore opens or creates the segment and attaches to it.
//
// Parameters:
//   - ctx: Checked before touching the filesystem
//   - cfg: Segment path, locking and table limits
//
// Returns:
//   - *MmapSessionStore: The attached store
//   - error: When the file cannot be created, sized or mapped
func NewMmapSessionStore(ctx context.Context, cfg MmapConfig) (*MmapSessionStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := cfg.Path
	if path == "" {
		path = DefaultPath
	}
	limits := cfg.Limits.WithDefaults()
	size := segmentSize(limits.Slots)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create segment directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open segment %s: %w", path, err)
	}

	store := &MmapSessionStore{file: f, limits: limits, lock: cfg.Lock}

	// Formatting always takes the lock so two processes racing to create
	// the segment do not both reset it.
	if err := store.flock(); err != nil {
		_ = f.Close()
		return nil, err
	}
	data, err := attach(f, size)
	if err == nil && !data.valid(limits.Slots) {
		logger.Info("Formatting session segment %s (%d slots)", path, limits.Slots)
		data.format(limits.Slots, time.Now())
	}
	_ = store.funlock()
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	store.data = data
	data.add(offAttached, 1)
	return store, nil
}

func attach(f *os.File, size int) (segment, error) {
	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat segment: %w", err)
	}
	if fi.Size() != int64(size) {
		if err := f.Truncate(int64(size)); err != nil {
			return nil, fmt.Errorf("failed to size segment: %w", err)
		}
	}
	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("failed to map segment: %w", err)
	}
	return segment(data), nil
}

func (s *MmapSessionStore) flock() error {
	if err := unix.Flock(int(s.file.Fd()), unix.LOCK_EX); err != nil {
		return fmt.Errorf("failed to lock segment: %w", err)
	}
	return nil
}

func (s *MmapSessionStore) funlock() error {
	return unix.Flock(int(s.file.Fd()), unix.LOCK_UN)
}

// Lookup returns a copy of the live slot for key.
func (s *MmapSessionStore) Lookup(ctx context.Context, key session.Key, now time.Time) (*session.Slot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, session.ErrClosed
	}

	slots := s.data.snapshot(s.limits.Slots)
	i := session.Match(slots, key, now, s.limits)
	if i < 0 {
		return nil, nil
	}
	return &slots[i], nil
}

// Update accounts for one request.
//
// The table is decoded, the policy picks a slot, and only that slot is
// written back. Without Lock, another process may overwrite the same slot
// between the read and the write; the last writer wins.
func (s *MmapSessionStore) Update(ctx context.Context, rec session.Record, now time.Time) (*session.Slot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, session.ErrClosed
	}

	s.data.add(offHits, 1)
	s.data.add(offKBytes, session.KBytes(rec.Bytes))

	if s.lock {
		if err := s.flock(); err != nil {
			return nil, err
		}
		defer func() { _ = s.funlock() }()
	}

	slots := s.data.snapshot(s.limits.Slots)
	i := session.Account(slots, rec, now, s.limits)
	s.data.write(i, &slots[i])

	slot := slots[i]
	return &slot, nil
}

// Report returns a snapshot of the counters and live slots. BusyServers is
// the number of processes currently attached to the segment.
func (s *MmapSessionStore) Report(ctx context.Context, now time.Time) (*session.Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, session.ErrClosed
	}

	return session.NewReport(
		s.data.start(),
		now,
		s.data.load(offHits),
		s.data.load(offKBytes),
		int(s.data.load(offAttached)),
		s.data.snapshot(s.limits.Slots),
		s.limits.Timeout,
	), nil
}

// Limits returns the configured bounds and thresholds.
func (s *MmapSessionStore) Limits() session.Limits {
	return s.limits
}

// Healthcheck verifies the mapping is still backed by a valid segment.
func (s *MmapSessionStore) Healthcheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return session.ErrClosed
	}
	if !s.data.valid(s.limits.Slots) {
		return errors.New("session segment header is corrupt")
	}
	return nil
}

// Close detaches from the segment. The file and its contents are kept for
// the other processes and the next attach.
func (s *MmapSessionStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	s.data.add(offAttached, -1)
	err := unix.Munmap(s.data)
	s.data = nil
	if cerr := s.file.Close(); err == nil {
		err = cerr
	}
	return err
}
