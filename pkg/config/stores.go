package config

import (
	"context"
	"fmt"

	"github.com/marmos91/gopherd/internal/logger"
	"github.com/marmos91/gopherd/pkg/store/session"
	"github.com/marmos91/gopherd/pkg/store/session/badger"
	"github.com/marmos91/gopherd/pkg/store/session/memory"
	"github.com/marmos91/gopherd/pkg/store/session/mmap"
	"github.com/mitchellh/mapstructure"
)

// CreateSessionStore creates the session store selected by cfg.Store.Type.
//
// The backend-specific map is decoded into the backend's own configuration
// type and combined with the limits of the session section.
//
// Supported types:
//   - "memory": in-process table, serve mode only
//   - "mmap": shared file segment, usable across inetd processes
//   - "badger": BadgerDB, survives restarts, single process only
//
// Parameters:
//   - ctx: Context for initialization operations
//   - cfg: Session configuration
//
// Returns:
//   - session.Store: Initialized store
//   - error: Configuration or initialization error
func CreateSessionStore(ctx context.Context, cfg *SessionConfig) (session.Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	limits := cfg.Limits()

	switch cfg.Store.Type {
	case "memory":
		return memory.NewMemorySessionStore(memory.MemoryConfig{Limits: limits}), nil
	case "mmap":
		return createMmapSessionStore(ctx, cfg.Store.Mmap, limits)
	case "badger":
		return createBadgerSessionStore(ctx, cfg.Store.Badger, limits)
	default:
		return nil, fmt.Errorf("unknown session store type: %q (supported: memory, mmap, badger)", cfg.Store.Type)
	}
}

// createMmapSessionStore creates a file-backed shared segment store.
func createMmapSessionStore(ctx context.Context, options map[string]any, limits session.Limits) (session.Store, error) {
	var storeCfg mmap.MmapConfig
	if err := mapstructure.Decode(options, &storeCfg); err != nil {
		return nil, fmt.Errorf("failed to decode mmap session store options: %w", err)
	}
	storeCfg.Limits = limits

	store, err := mmap.NewMmapSessionStore(ctx, storeCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create mmap session store: %w", err)
	}

	logger.Debug("Mmap session store attached: path=%s slots=%d lock=%v",
		storeCfg.Path, limits.Slots, storeCfg.Lock)
	return store, nil
}

// createBadgerSessionStore creates a BadgerDB-backed store.
func createBadgerSessionStore(ctx context.Context, options map[string]any, limits session.Limits) (session.Store, error) {
	var storeCfg badger.BadgerConfig
	if err := mapstructure.Decode(options, &storeCfg); err != nil {
		return nil, fmt.Errorf("failed to decode badger session store options: %w", err)
	}

	if storeCfg.DBPath == "" && !storeCfg.InMemory {
		return nil, fmt.Errorf("badger session store: db_path is required")
	}
	storeCfg.Limits = limits

	store, err := badger.NewBadgerSessionStore(ctx, storeCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create badger session store: %w", err)
	}

	logger.Debug("Badger session store opened: path=%s slots=%d", storeCfg.DBPath, limits.Slots)
	return store, nil
}
