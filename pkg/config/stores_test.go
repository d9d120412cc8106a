package config

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestCreateSessionStore_Memory(t *testing.T) {
	cfg := &SessionConfig{Slots: 8, Store: SessionStoreConfig{Type: "memory"}}

	store, err := CreateSessionStore(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Failed to create memory session store: %v", err)
	}
	defer func() { _ = store.Close() }()

	limits := store.Limits()
	if limits.Slots != 8 {
		t.Errorf("Expected 8 slots, got %d", limits.Slots)
	}
	if limits.Timeout != 1800*time.Second {
		t.Errorf("Expected default timeout, got %v", limits.Timeout)
	}
}

func TestCreateSessionStore_Mmap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "sessions")
	cfg := &SessionConfig{
		Slots: 4,
		Store: SessionStoreConfig{
			Type: "mmap",
			Mmap: map[string]any{"path": path, "lock": true},
		},
	}

	store, err := CreateSessionStore(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Failed to create mmap session store: %v", err)
	}
	defer func() { _ = store.Close() }()

	if err := store.Healthcheck(context.Background()); err != nil {
		t.Errorf("Healthcheck failed: %v", err)
	}
	if store.Limits().Slots != 4 {
		t.Errorf("Expected 4 slots, got %d", store.Limits().Slots)
	}
}

func TestCreateSessionStore_BadgerInMemory(t *testing.T) {
	cfg := &SessionConfig{
		Store: SessionStoreConfig{
			Type:   "badger",
			Badger: map[string]any{"in_memory": true},
		},
	}

	store, err := CreateSessionStore(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Failed to create badger session store: %v", err)
	}
	defer func() { _ = store.Close() }()

	if err := store.Healthcheck(context.Background()); err != nil {
		t.Errorf("Healthcheck failed: %v", err)
	}
}

func TestCreateSessionStore_BadgerMissingPath(t *testing.T) {
	cfg := &SessionConfig{
		Store: SessionStoreConfig{Type: "badger", Badger: map[string]any{}},
	}

	_, err := CreateSessionStore(context.Background(), cfg)
	if err == nil {
		t.Fatal("Expected error for missing db_path")
	}
	if !strings.Contains(err.Error(), "db_path is required") {
		t.Errorf("Expected 'db_path is required' error, got: %v", err)
	}
}

func TestCreateSessionStore_InvalidOptions(t *testing.T) {
	cfg := &SessionConfig{
		Store: SessionStoreConfig{
			Type: "mmap",
			Mmap: map[string]any{"path": []int{1, 2}},
		},
	}

	if _, err := CreateSessionStore(context.Background(), cfg); err == nil {
		t.Fatal("Expected decode error for a non-string path")
	}
}

func TestCreateSessionStore_UnknownType(t *testing.T) {
	cfg := &SessionConfig{Store: SessionStoreConfig{Type: "redis"}}

	_, err := CreateSessionStore(context.Background(), cfg)
	if err == nil {
		t.Fatal("Expected error for unknown store type")
	}
	if !strings.Contains(err.Error(), "unknown session store type") {
		t.Errorf("Expected 'unknown session store type' error, got: %v", err)
	}
}

func TestCreateSessionStore_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := &SessionConfig{Store: SessionStoreConfig{Type: "memory"}}
	if _, err := CreateSessionStore(ctx, cfg); err == nil {
		t.Fatal("Expected error for cancelled context")
	}
}
