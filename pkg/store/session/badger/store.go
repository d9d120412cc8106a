// Package badger implements a persistent session store on BadgerDB.
package badger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/marmos91/gopherd/pkg/store/session"
)

// BadgerConfig configures the persistent store.
type BadgerConfig struct {
	// DBPath is the BadgerDB directory.
	DBPath string `mapstructure:"db_path" validate:"required"`

	// InMemory runs BadgerDB without touching disk. Used by tests.
	InMemory bool `mapstructure:"in_memory"`

	// Limits are the table bounds and thresholds.
	Limits session.Limits `mapstructure:"-"`
}

// BadgerSessionStore implements session.Store using BadgerDB.
//
// Slots and counters survive restarts, so the status report keeps its
// totals and uptime across them. BadgerDB admits a single process, which
// makes this backend suitable for the standalone server only.
//
// Thread Safety:
// Update runs under mu so concurrent requests never conflict on the same
// transaction keys. Lookup and Report use read-only transactions.
//
// Storage Model:
// See keys.go for the key namespace and serialization.go for value formats.
type BadgerSessionStore struct {
	// mu serializes read-modify-write of the table.
	mu sync.Mutex

	// db is the BadgerDB handle.
	db *badgerdb.DB

	// limits are the table bounds and thresholds.
	limits session.Limits

	// start is when the counters were first initialized.
	start time.Time
}

// NewBadgerSessionStore opens (or creates) the database.
//
// A database created with a different slot count is truncated to the new
// capacity: slots beyond it are dropped, counters are kept.
//
// Parameters:
//   - ctx: Checked before database operations
//   - cfg: Database path and table limits
//
// Returns:
//   - *BadgerSessionStore: The opened store
//   - error: When BadgerDB cannot be opened or initialized
func NewBadgerSessionStore(ctx context.Context, cfg BadgerConfig) (*BadgerSessionStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	opts := badgerdb.DefaultOptions(cfg.DBPath)
	if cfg.InMemory {
		opts = badgerdb.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithLoggingLevel(badgerdb.WARNING)
	opts = opts.WithCompression(options.None)

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", cfg.DBPath, err)
	}

	store := &BadgerSessionStore{
		db:     db,
		limits: cfg.Limits.WithDefaults(),
	}

	if err := store.initialize(time.Now()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize session store: %w", err)
	}

	return store, nil
}

// initialize writes the start time on first use and trims slots left over
// from a larger table.
func (s *BadgerSessionStore) initialize(now time.Time) error {
	return s.db.Update(func(txn *badgerdb.Txn) error {
		start, err := getInt(txn, keyStart)
		switch {
		case errors.Is(err, badgerdb.ErrKeyNotFound):
			start = now.Unix()
			if err := txn.Set([]byte(keyStart), encodeInt(start)); err != nil {
				return err
			}
		case err != nil:
			return err
		}
		s.start = time.Unix(start, 0)

		prev, err := getInt(txn, keySlots)
		if err != nil && !errors.Is(err, badgerdb.ErrKeyNotFound) {
			return err
		}
		for i := s.limits.Slots; i < int(prev); i++ {
			if err := txn.Delete(keySlot(i)); err != nil {
				return err
			}
		}
		return txn.Set([]byte(keySlots), encodeInt(int64(s.limits.Slots)))
	})
}

// Lookup returns a copy of the live slot for key.
func (s *BadgerSessionStore) Lookup(ctx context.Context, key session.Key, now time.Time) (*session.Slot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var slot *session.Slot
	err := s.db.View(func(txn *badgerdb.Txn) error {
		slots, err := s.readSlots(txn)
		if err != nil {
			return err
		}
		if i := session.Match(slots, key, now, s.limits); i >= 0 {
			slot = &slots[i]
		}
		return nil
	})
	if err != nil {
		return nil, mapError(err)
	}
	return slot, nil
}

// Update accounts for one request in a single transaction.
func (s *BadgerSessionStore) Update(ctx context.Context, rec session.Record, now time.Time) (*session.Slot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var slot session.Slot
	err := s.db.Update(func(txn *badgerdb.Txn) error {
		if err := addInt(txn, keyHits, 1); err != nil {
			return err
		}
		if err := addInt(txn, keyKBytes, session.KBytes(rec.Bytes)); err != nil {
			return err
		}

		slots, err := s.readSlots(txn)
		if err != nil {
			return err
		}
		i := session.Account(slots, rec, now, s.limits)
		slot = slots[i]

		data, err := encodeSlot(&slot)
		if err != nil {
			return err
		}
		return txn.Set(keySlot(i), data)
	})
	if err != nil {
		return nil, mapError(err)
	}
	return &slot, nil
}

// Report returns a snapshot of the counters and live slots.
func (s *BadgerSessionStore) Report(ctx context.Context, now time.Time) (*session.Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var report *session.Report
	err := s.db.View(func(txn *badgerdb.Txn) error {
		hits, err := getIntOrZero(txn, keyHits)
		if err != nil {
			return err
		}
		kbytes, err := getIntOrZero(txn, keyKBytes)
		if err != nil {
			return err
		}
		slots, err := s.readSlots(txn)
		if err != nil {
			return err
		}
		report = session.NewReport(s.start, now, hits, kbytes, 1, slots, s.limits.Timeout)
		return nil
	})
	if err != nil {
		return nil, mapError(err)
	}
	return report, nil
}

// Limits returns the configured bounds and thresholds.
func (s *BadgerSessionStore) Limits() session.Limits {
	return s.limits
}

// Healthcheck verifies the database is accessible.
func (s *BadgerSessionStore) Healthcheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.View(func(txn *badgerdb.Txn) error {
		_, err := getInt(txn, keyStart)
		return err
	})
	if err != nil {
		return fmt.Errorf("healthcheck failed: %w", mapError(err))
	}
	return nil
}

// Close closes the database.
func (s *BadgerSessionStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close BadgerDB: %w", err)
	}
	return nil
}

// readSlots loads the full table. Missing keys are empty slots.
func (s *BadgerSessionStore) readSlots(txn *badgerdb.Txn) ([]session.Slot, error) {
	slots := make([]session.Slot, s.limits.Slots)

	opts := badgerdb.DefaultIteratorOptions
	opts.Prefix = []byte(prefixSlot)
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		i, ok := parseSlotKey(item.Key())
		if !ok || i >= len(slots) {
			continue
		}
		err := item.Value(func(val []byte) error {
			slot, err := decodeSlot(val)
			if err != nil {
				return err
			}
			slots[i] = slot
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return slots, nil
}

func getInt(txn *badgerdb.Txn, key string) (int64, error) {
	item, err := txn.Get([]byte(key))
	if err != nil {
		return 0, err
	}
	var v int64
	err = item.Value(func(val []byte) error {
		v, err = decodeInt(val)
		return err
	})
	return v, err
}

func getIntOrZero(txn *badgerdb.Txn, key string) (int64, error) {
	v, err := getInt(txn, key)
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return 0, nil
	}
	return v, err
}

func addInt(txn *badgerdb.Txn, key string, delta int64) error {
	v, err := getIntOrZero(txn, key)
	if err != nil {
		return err
	}
	return txn.Set([]byte(key), encodeInt(v+delta))
}

func mapError(err error) error {
	if errors.Is(err, badgerdb.ErrDBClosed) {
		return session.ErrClosed
	}
	return err
}
