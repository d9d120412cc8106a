package memory

import (
	"context"
	"sync"
	"time"

	"github.com/marmos91/gopherd/pkg/store/session"
)

// MemoryConfig configures the in-memory store.
type MemoryConfig struct {
	Limits session.Limits

	// Start is the time the counters started. Zero uses time.Now().
	Start time.Time
}

// MemorySessionStore implements session.Store with an in-process table.
//
// It serves the goroutine-per-connection server, where every request runs
// in the same process. The table is lost when the process exits.
//
// Thread Safety:
// All operations are protected by a single read-write mutex (mu). Lookup
// and Report take the read lock; Update takes the write lock so slot claim
// and counter updates are atomic with respect to each other.
type MemorySessionStore struct {
	mu sync.RWMutex

	limits session.Limits
	start  time.Time

	// slots is the fixed-capacity client table.
	slots []session.Slot

	// hits and kbytes are the global counters. They never reset.
	hits   int64
	kbytes int64

	closed bool
}

// NewMemorySessionStore creates an empty store.
func NewMemorySessionStore(cfg MemoryConfig) *MemorySessionStore {
	limits := cfg.Limits.WithDefaults()
	start := cfg.Start
	if start.IsZero() {
		start = time.Now()
	}
	return &MemorySessionStore{
		limits: limits,
		start:  start,
		slots:  make([]session.Slot, limits.Slots),
	}
}

// NewMemorySessionStoreWithDefaults creates an empty store with the default
// limits.
func NewMemorySessionStoreWithDefaults() *MemorySessionStore {
	return NewMemorySessionStore(MemoryConfig{})
}

// Lookup returns a copy of the live slot for key.
func (s *MemorySessionStore) Lookup(ctx context.Context, key session.Key, now time.Time) (*session.Slot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, session.ErrClosed
	}

	i := session.Match(s.slots, key, now, s.limits)
	if i < 0 {
		return nil, nil
	}
	slot := s.slots[i]
	return &slot, nil
}

// Update accounts for one request.
func (s *MemorySessionStore) Update(ctx context.Context, rec session.Record, now time.Time) (*session.Slot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, session.ErrClosed
	}

	s.hits++
	s.kbytes += session.KBytes(rec.Bytes)

	i := session.Account(s.slots, rec, now, s.limits)
	slot := s.slots[i]
	return &slot, nil
}

// Report returns a snapshot of the counters and live slots.
func (s *MemorySessionStore) Report(ctx context.Context, now time.Time) (*session.Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, session.ErrClosed
	}

	return session.NewReport(s.start, now, s.hits, s.kbytes, 1, s.slots, s.limits.Timeout), nil
}

// Limits returns the configured bounds and thresholds.
func (s *MemorySessionStore) Limits() session.Limits {
	return s.limits
}

// Healthcheck reports whether the store is open.
func (s *MemorySessionStore) Healthcheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return session.ErrClosed
	}
	return nil
}

// Close discards the table.
func (s *MemorySessionStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.slots = nil
	return nil
}
