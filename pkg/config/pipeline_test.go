package config

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/marmos91/gopherd/internal/protocol/gopher/handlers"
	"github.com/marmos91/gopherd/pkg/store/session/memory"
)

func newServedConfig(t *testing.T) *Config {
	t.Helper()

	root := t.TempDir()
	if err := os.Chmod(root, 0o755); err != nil {
		t.Fatal(err)
	}
	for name, body := range map[string]string{
		"notes.gmi": "hello\n",
		"gophermap": "iWelcome\n",
	} {
		path := filepath.Join(root, name)
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
		if err := os.Chmod(path, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	cfg := GetDefaultConfig()
	cfg.Server.Root = root
	cfg.Server.Host = "gopher.example.org"
	cfg.Server.Filetypes = []string{"gmi=0"}
	return cfg
}

func TestInitializePipeline(t *testing.T) {
	cfg := newServedConfig(t)
	cfg.Server.Width = 500

	store := memory.NewMemorySessionStoreWithDefaults()
	p, err := InitializePipeline(cfg, store, nil)
	if err != nil {
		t.Fatalf("InitializePipeline failed: %v", err)
	}
	defer func() { _ = p.Close() }()

	hc := p.Handler.Config()
	if hc.Width != handlers.MaxWidth {
		t.Errorf("Expected width clamped to %d, got %d", handlers.MaxWidth, hc.Width)
	}
	if hc.Host != "gopher.example.org" || hc.Port != 70 {
		t.Errorf("Expected gopher.example.org:70, got %s:%d", hc.Host, hc.Port)
	}
	if typ, ok := hc.Filetypes.Lookup("gmi"); !ok || typ != '0' {
		t.Errorf("Expected configured rule gmi=0, got %q (%v)", typ, ok)
	}

	var out bytes.Buffer
	conn := handlers.Conn{R: strings.NewReader("/notes.gmi\r\n"), W: &out, RemoteAddr: "192.0.2.1"}
	if err := p.Handler.Handle(context.Background(), conn); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if out.String() != "hello\r\n" {
		t.Errorf("Expected %q, got %q", "hello\r\n", out.String())
	}
}

func TestInitializePipeline_AccessLog(t *testing.T) {
	cfg := newServedConfig(t)
	cfg.Logging.AccessLog = filepath.Join(t.TempDir(), "access.log")

	p, err := InitializePipeline(cfg, nil, nil)
	if err != nil {
		t.Fatalf("InitializePipeline failed: %v", err)
	}

	var out bytes.Buffer
	conn := handlers.Conn{R: strings.NewReader("/notes.gmi\r\n"), W: &out, RemoteAddr: "192.0.2.1"}
	if err := p.Handler.Handle(context.Background(), conn); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	_ = p.Close()

	data, err := os.ReadFile(cfg.Logging.AccessLog)
	if err != nil {
		t.Fatalf("Failed to read access log: %v", err)
	}
	if !strings.Contains(string(data), "192.0.2.1") || !strings.Contains(string(data), "/notes.gmi") {
		t.Errorf("Access log missing request: %q", data)
	}
}

func TestInitializePipeline_InvalidRule(t *testing.T) {
	cfg := newServedConfig(t)
	cfg.Server.Filetypes = []string{"broken"}

	if _, err := InitializePipeline(cfg, nil, nil); err == nil {
		t.Fatal("Expected error for malformed filetype rule")
	}
}

func TestCreateAdapters(t *testing.T) {
	cfg := newServedConfig(t)
	p, err := InitializePipeline(cfg, nil, nil)
	if err != nil {
		t.Fatalf("InitializePipeline failed: %v", err)
	}

	adapters, err := CreateAdapters(cfg, p.Handler, nil, nil)
	if err != nil {
		t.Fatalf("CreateAdapters failed: %v", err)
	}
	if len(adapters) != 1 || adapters[0].Protocol() != "Gopher" || adapters[0].Port() != 70 {
		t.Errorf("Expected one Gopher adapter on port 70, got %v", adapters)
	}

	cfg.Adapters.Gopher.Enabled = false
	if _, err := CreateAdapters(cfg, p.Handler, nil, nil); err == nil {
		t.Error("Expected error when no adapter is enabled")
	}
}

func TestInitializeMetrics_Disabled(t *testing.T) {
	result := InitializeMetrics(GetDefaultConfig(), nil)

	if result.Server != nil {
		t.Error("Expected no metrics server when disabled")
	}
	if result.GopherMetrics == nil {
		t.Error("Expected no-op metrics, got nil")
	}
}
