package testing

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/gopherd/internal/protocol/gopher/types"
	"github.com/marmos91/gopherd/pkg/store/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// StoreTestSuite is a conformance suite for session.Store implementations.
// It tests the table policy and counters through the interface only, so
// every backend is held to the same reuse and eviction behavior.
//
// Usage:
//
//	func TestMySessionStore(t *testing.T) {
//	    suite := &testing.StoreTestSuite{
//	        NewStore: func(limits session.Limits) session.Store {
//	            return mystore.New(limits)
//	        },
//	    }
//	    suite.Run(t)
//	}
type StoreTestSuite struct {
	// NewStore creates a fresh, empty store with the given limits for each
	// test. Zero limit fields take the package defaults.
	NewStore func(limits session.Limits) session.Store
}

// Run executes all tests in the suite.
func (suite *StoreTestSuite) Run(t *testing.T) {
	t.Run("Lookup", suite.RunLookupTests)
	t.Run("Update", suite.RunUpdateTests)
	t.Run("Eviction", suite.RunEvictionTests)
	t.Run("Report", suite.RunReportTests)
	t.Run("Lifecycle", suite.RunLifecycleTests)
}

// base is the reference time of every test. Stores record the time they are
// given, never the wall clock.
var base = time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)

func at(seconds int) time.Time {
	return base.Add(time.Duration(seconds) * time.Second)
}

func record(addr string) session.Record {
	return session.Record{
		RemoteAddr: addr,
		ServerHost: "gopher.example",
		ServerPort: 70,
		Selector:   "/docs/",
		Type:       types.TypeMenu,
		Bytes:      4096,
		Width:      70,
		Charset:    "US-ASCII",
	}
}

func (suite *StoreTestSuite) newStore(t *testing.T, limits session.Limits) session.Store {
	t.Helper()
	store := suite.NewStore(limits)
	require.NotNil(t, store)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func update(t *testing.T, store session.Store, rec session.Record, now time.Time) *session.Slot {
	t.Helper()
	slot, err := store.Update(context.Background(), rec, now)
	require.NoError(t, err)
	require.NotNil(t, slot)
	return slot
}

func lookup(t *testing.T, store session.Store, addr string, now time.Time) *session.Slot {
	t.Helper()
	slot, err := store.Lookup(context.Background(), session.Key{RemoteAddr: addr, ServerHost: "gopher.example"}, now)
	require.NoError(t, err)
	return slot
}

// ============================================================================
// Lookup
// ============================================================================

// RunLookupTests covers the read-only peek.
func (suite *StoreTestSuite) RunLookupTests(t *testing.T) {
	t.Run("EmptyTable", func(t *testing.T) {
		store := suite.newStore(t, session.Limits{})
		assert.Nil(t, lookup(t, store, "192.0.2.1", at(0)))
	})

	t.Run("MatchesWithinTimeout", func(t *testing.T) {
		store := suite.newStore(t, session.Limits{})
		update(t, store, record("192.0.2.1"), at(0))

		slot := lookup(t, store, "192.0.2.1", at(1))
		require.NotNil(t, slot)
		assert.Equal(t, "192.0.2.1", slot.RemoteAddr)
		assert.Equal(t, "gopher.example", slot.ServerHost)
		assert.Equal(t, 70, slot.ServerPort)
		assert.Equal(t, "/docs/", slot.Selector)
		assert.Equal(t, types.TypeMenu, slot.Type)
		assert.Equal(t, 70, slot.Width)
		assert.Equal(t, "US-ASCII", slot.Charset)
		assert.True(t, slot.ATime.Equal(at(0)))
	})

	t.Run("ExpiresAtTimeout", func(t *testing.T) {
		store := suite.newStore(t, session.Limits{})
		update(t, store, record("192.0.2.1"), at(0))

		assert.NotNil(t, lookup(t, store, "192.0.2.1", at(1799)))
		assert.Nil(t, lookup(t, store, "192.0.2.1", at(1800)))
	})

	t.Run("DoesNotModify", func(t *testing.T) {
		store := suite.newStore(t, session.Limits{})
		update(t, store, record("192.0.2.1"), at(0))

		for i := 1; i <= 3; i++ {
			lookup(t, store, "192.0.2.1", at(i))
		}
		slot := lookup(t, store, "192.0.2.1", at(5))
		require.NotNil(t, slot)
		assert.Equal(t, int64(1), slot.Hits)
		assert.True(t, slot.ATime.Equal(at(0)))

		report, err := store.Report(context.Background(), at(5))
		require.NoError(t, err)
		assert.Equal(t, int64(1), report.Hits)
	})

	t.Run("OtherAddress", func(t *testing.T) {
		store := suite.newStore(t, session.Limits{})
		update(t, store, record("192.0.2.1"), at(0))
		assert.Nil(t, lookup(t, store, "192.0.2.2", at(1)))
	})
}

// ============================================================================
// Update
// ============================================================================

// RunUpdateTests covers slot refresh and counters.
func (suite *StoreTestSuite) RunUpdateTests(t *testing.T) {
	t.Run("CreatesSlot", func(t *testing.T) {
		store := suite.newStore(t, session.Limits{})
		slot := update(t, store, record("192.0.2.1"), at(0))
		assert.Equal(t, int64(1), slot.Hits)
		assert.Equal(t, int64(4), slot.KBytes)
	})

	t.Run("RefreshesWithinTimeout", func(t *testing.T) {
		store := suite.newStore(t, session.Limits{})
		update(t, store, record("192.0.2.1"), at(0))

		rec := record("192.0.2.1")
		rec.Selector = "/other.txt"
		rec.Type = types.TypeText
		rec.Bytes = 2047
		slot := update(t, store, rec, at(1))

		assert.Equal(t, int64(2), slot.Hits)
		assert.Equal(t, int64(5), slot.KBytes)
		assert.Equal(t, "/other.txt", slot.Selector)
		assert.Equal(t, types.TypeText, slot.Type)
		assert.True(t, slot.ATime.Equal(at(1)))
	})

	t.Run("RestartsAfterTimeout", func(t *testing.T) {
		store := suite.newStore(t, session.Limits{})
		update(t, store, record("192.0.2.1"), at(0))
		update(t, store, record("192.0.2.1"), at(1))

		slot := update(t, store, record("192.0.2.1"), at(1801+1))
		assert.Equal(t, int64(1), slot.Hits)
	})

	t.Run("SubKilobyteNotCounted", func(t *testing.T) {
		store := suite.newStore(t, session.Limits{})
		rec := record("192.0.2.1")
		rec.Bytes = 1023
		slot := update(t, store, rec, at(0))
		assert.Equal(t, int64(0), slot.KBytes)
	})

	t.Run("HostAware", func(t *testing.T) {
		store := suite.newStore(t, session.Limits{HostAware: true})
		update(t, store, record("192.0.2.1"), at(0))

		rec := record("192.0.2.1")
		rec.ServerHost = "other.example"
		slot := update(t, store, rec, at(1))
		assert.Equal(t, int64(1), slot.Hits)

		report, err := store.Report(context.Background(), at(2))
		require.NoError(t, err)
		assert.Len(t, report.Sessions, 2)
	})

	t.Run("HostAgnostic", func(t *testing.T) {
		store := suite.newStore(t, session.Limits{})
		update(t, store, record("192.0.2.1"), at(0))

		rec := record("192.0.2.1")
		rec.ServerHost = "other.example"
		slot := update(t, store, rec, at(1))
		assert.Equal(t, int64(2), slot.Hits)
		assert.Equal(t, "other.example", slot.ServerHost)
	})

	t.Run("LongFieldsTruncated", func(t *testing.T) {
		store := suite.newStore(t, session.Limits{})
		rec := record("192.0.2.1")
		rec.Selector = "/" + string(make([]byte, 300))
		slot := update(t, store, rec, at(0))
		assert.Len(t, slot.Selector, session.MaxSelectorLen)
	})

	t.Run("ConcurrentGlobalCounters", func(t *testing.T) {
		store := suite.newStore(t, session.Limits{})
		const workers, perWorker = 8, 25

		var wg sync.WaitGroup
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				rec := record(fmt.Sprintf("192.0.2.%d", w+1))
				for i := 0; i < perWorker; i++ {
					_, err := store.Update(context.Background(), rec, at(i))
					assert.NoError(t, err)
				}
			}(w)
		}
		wg.Wait()

		report, err := store.Report(context.Background(), at(perWorker))
		require.NoError(t, err)
		assert.Equal(t, int64(workers*perWorker), report.Hits)
		assert.Equal(t, int64(workers*perWorker*4), report.KBytes)
	})
}

// ============================================================================
// Eviction
// ============================================================================

// RunEvictionTests covers slot reuse when the table has no room.
func (suite *StoreTestSuite) RunEvictionTests(t *testing.T) {
	t.Run("ExpiredSlotReusedByOtherAddress", func(t *testing.T) {
		store := suite.newStore(t, session.Limits{Slots: 1})
		update(t, store, record("192.0.2.1"), at(0))

		assert.NotNil(t, lookup(t, store, "192.0.2.1", at(1)))

		slot := update(t, store, record("192.0.2.2"), at(1801))
		assert.Equal(t, "192.0.2.2", slot.RemoteAddr)
		assert.Equal(t, int64(1), slot.Hits)
		assert.Nil(t, lookup(t, store, "192.0.2.1", at(1801)))
	})

	t.Run("PrefersExpiredOverLive", func(t *testing.T) {
		store := suite.newStore(t, session.Limits{Slots: 2})
		update(t, store, record("192.0.2.1"), at(0))
		update(t, store, record("192.0.2.2"), at(1000))

		update(t, store, record("192.0.2.3"), at(1900))
		assert.Nil(t, lookup(t, store, "192.0.2.1", at(1900)))
		assert.NotNil(t, lookup(t, store, "192.0.2.2", at(1900)))
		assert.NotNil(t, lookup(t, store, "192.0.2.3", at(1900)))
	})

	t.Run("FullTableEvictsLeastRecentlyUpdated", func(t *testing.T) {
		store := suite.newStore(t, session.Limits{Slots: 3})
		update(t, store, record("192.0.2.1"), at(0))
		update(t, store, record("192.0.2.2"), at(1))
		update(t, store, record("192.0.2.3"), at(2))
		update(t, store, record("192.0.2.1"), at(3))

		update(t, store, record("192.0.2.4"), at(4))

		assert.Nil(t, lookup(t, store, "192.0.2.2", at(5)))
		for _, addr := range []string{"192.0.2.1", "192.0.2.3", "192.0.2.4"} {
			assert.NotNil(t, lookup(t, store, addr, at(5)), addr)
		}
	})

	t.Run("GlobalCountersSurviveEviction", func(t *testing.T) {
		store := suite.newStore(t, session.Limits{Slots: 1})
		for i := 0; i < 5; i++ {
			update(t, store, record(fmt.Sprintf("192.0.2.%d", i+1)), at(i))
		}

		report, err := store.Report(context.Background(), at(5))
		require.NoError(t, err)
		assert.Equal(t, int64(5), report.Hits)
		assert.Equal(t, int64(20), report.KBytes)
		assert.Len(t, report.Sessions, 1)
	})
}

// ============================================================================
// Report
// ============================================================================

// RunReportTests covers the status snapshot.
func (suite *StoreTestSuite) RunReportTests(t *testing.T) {
	t.Run("Empty", func(t *testing.T) {
		store := suite.newStore(t, session.Limits{})
		report, err := store.Report(context.Background(), time.Now())
		require.NoError(t, err)
		assert.Zero(t, report.Hits)
		assert.Zero(t, report.KBytes)
		assert.Empty(t, report.Sessions)
		assert.GreaterOrEqual(t, report.Uptime(), int64(1))
		assert.GreaterOrEqual(t, report.Attached, 1)
	})

	t.Run("LiveSessionsOnly", func(t *testing.T) {
		store := suite.newStore(t, session.Limits{})
		update(t, store, record("192.0.2.1"), at(0))
		update(t, store, record("192.0.2.2"), at(100))
		update(t, store, record("192.0.2.3"), at(200))

		report, err := store.Report(context.Background(), at(1850))
		require.NoError(t, err)
		require.Len(t, report.Sessions, 2)
		assert.Equal(t, "192.0.2.3", report.Sessions[0].RemoteAddr)
		assert.Equal(t, "192.0.2.2", report.Sessions[1].RemoteAddr)
		assert.Equal(t, int64(3), report.Hits)
	})
}

// ============================================================================
// Lifecycle
// ============================================================================

// RunLifecycleTests covers limits, health and close.
func (suite *StoreTestSuite) RunLifecycleTests(t *testing.T) {
	t.Run("LimitsDefaults", func(t *testing.T) {
		store := suite.newStore(t, session.Limits{})
		limits := store.Limits()
		assert.Equal(t, session.DefaultSlots, limits.Slots)
		assert.Equal(t, session.DefaultTimeout, limits.Timeout)
		assert.Equal(t, int64(session.DefaultMaxHits), limits.MaxHits)
		assert.Equal(t, int64(session.DefaultMaxKBytes), limits.MaxKBytes)
	})

	t.Run("LimitsConfigured", func(t *testing.T) {
		store := suite.newStore(t, session.Limits{Slots: 8, Timeout: time.Minute, MaxHits: 10, MaxKBytes: 20})
		limits := store.Limits()
		assert.Equal(t, 8, limits.Slots)
		assert.Equal(t, time.Minute, limits.Timeout)
		assert.Equal(t, int64(10), limits.MaxHits)
		assert.Equal(t, int64(20), limits.MaxKBytes)
	})

	t.Run("Healthcheck", func(t *testing.T) {
		store := suite.newStore(t, session.Limits{})
		assert.NoError(t, store.Healthcheck(context.Background()))
	})

	t.Run("CancelledContext", func(t *testing.T) {
		store := suite.newStore(t, session.Limits{})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := store.Update(ctx, record("192.0.2.1"), at(0))
		assert.ErrorIs(t, err, context.Canceled)
		_, err = store.Lookup(ctx, session.Key{RemoteAddr: "192.0.2.1"}, at(0))
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("ClosedStore", func(t *testing.T) {
		store := suite.NewStore(session.Limits{})
		require.NoError(t, store.Close())

		_, err := store.Update(context.Background(), record("192.0.2.1"), at(0))
		assert.ErrorIs(t, err, session.ErrClosed)
		_, err = store.Report(context.Background(), at(0))
		assert.ErrorIs(t, err, session.ErrClosed)
	})
}
