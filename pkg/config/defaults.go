package config

import (
	"os"
	"strings"
	"time"

	"github.com/marmos91/gopherd/internal/accounts"
	"github.com/marmos91/gopherd/internal/charset"
	"github.com/marmos91/gopherd/internal/delivery"
	"github.com/marmos91/gopherd/internal/protocol/gopher/handlers"
	"github.com/marmos91/gopherd/pkg/adapter/gopher"
	"github.com/marmos91/gopherd/pkg/store/session"
	"github.com/marmos91/gopherd/pkg/store/session/mmap"
)

// Defaults that have no better home in the packages they configure.
const (
	DefaultRoot          = "/var/gopher"
	DefaultGophermap     = "gophermap"
	DefaultUserDir       = "public_gopher"
	DefaultUserDirMinUID = 100
	DefaultBadgerPath    = "/var/lib/gopherd/sessions"
	DefaultMetricsPort   = 9090
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
//   - Store-specific defaults are written into every backend map so a
//     generated file documents all of them
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyAdaptersDefaults(&cfg.Adapters)
	applyServerDefaults(&cfg.Server, cfg.Adapters.Gopher.Port)
	applySessionDefaults(&cfg.Session)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stderr"
	}
}

// applyServerDefaults sets served tree defaults. listenPort is advertised
// when no port is configured.
func applyServerDefaults(cfg *ServerConfig, listenPort int) {
	if cfg.Root == "" {
		cfg.Root = DefaultRoot
	}
	if cfg.Host == "" {
		cfg.Host = defaultHost()
	}
	if cfg.Port == 0 {
		cfg.Port = listenPort
	}
	if cfg.DefaultType == "" {
		cfg.DefaultType = "0"
	}
	if cfg.Gophermap == "" {
		cfg.Gophermap = DefaultGophermap
	}
	if cfg.UserDir == "" {
		cfg.UserDir = DefaultUserDir
	}
	if cfg.UserDirMinUID == 0 {
		cfg.UserDirMinUID = DefaultUserDirMinUID
	}
	if cfg.PasswdFile == "" {
		cfg.PasswdFile = accounts.DefaultPasswdPath
	}
	if cfg.CGIDir == "" {
		cfg.CGIDir = delivery.DefaultCGIDir
	}
	if cfg.Width == 0 {
		cfg.Width = handlers.DefaultWidth
	}
	if cfg.Charset == "" {
		cfg.Charset = charset.USASCII
	}
	if cfg.ExecTimeout == 0 {
		cfg.ExecTimeout = delivery.DefaultExecTimeout
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = DefaultMetricsPort
	}

	// Unset feature toggles stay nil; FeaturesConfig.Features treats them
	// as on.
}

// applySessionDefaults sets session accounting defaults.
func applySessionDefaults(cfg *SessionConfig) {
	limits := cfg.Limits()
	cfg.Slots = limits.Slots
	cfg.Timeout = limits.Timeout
	cfg.MaxHits = limits.MaxHits
	cfg.MaxKBytes = limits.MaxKBytes

	if cfg.Throttle.Policy == "" {
		cfg.Throttle.Policy = handlers.ThrottleOff
	}
	if cfg.Throttle.Delay == 0 {
		cfg.Throttle.Delay = handlers.DefaultThrottleDelay
	}

	applySessionStoreDefaults(&cfg.Store)
}

// applySessionStoreDefaults sets session store defaults.
func applySessionStoreDefaults(cfg *SessionStoreConfig) {
	if cfg.Type == "" {
		cfg.Type = "memory"
	}

	if cfg.Mmap == nil {
		cfg.Mmap = make(map[string]any)
	}
	if cfg.Badger == nil {
		cfg.Badger = make(map[string]any)
	}

	if _, ok := cfg.Mmap["path"]; !ok {
		cfg.Mmap["path"] = mmap.DefaultPath
	}
	if _, ok := cfg.Mmap["lock"]; !ok {
		cfg.Mmap["lock"] = true
	}
	if _, ok := cfg.Badger["db_path"]; !ok {
		cfg.Badger["db_path"] = DefaultBadgerPath
	}
}

// applyAdaptersDefaults sets adapter defaults.
func applyAdaptersDefaults(cfg *AdaptersConfig) {
	// An untouched gopher section (no port) means the listener was never
	// configured, so it is enabled. An explicit "enabled: false" next to a
	// port survives.
	if !cfg.Gopher.Enabled && cfg.Gopher.Port == 0 {
		cfg.Gopher.Enabled = true
	}
	if cfg.Gopher.Port == 0 {
		cfg.Gopher.Port = gopher.DefaultPort
	}

	cfg.Gopher.ApplyDefaults()
}

// defaultHost returns the system host name, or "localhost".
func defaultHost() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "localhost"
	}
	return strings.ToLower(host)
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	on := true
	cfg := &Config{
		Server: ServerConfig{
			Features: FeaturesConfig{
				VHost:   &on,
				Parent:  &on,
				Footer:  &on,
				Date:    &on,
				Magic:   &on,
				Log:     &on,
				Query:   &on,
				UserDir: &on,
			},
			ReservedVHosts: []string{"lost+found"},
			Filetypes:      []string{},
		},
		Session: SessionConfig{
			Slots:     session.DefaultSlots,
			HostAware: false,
		},
		Adapters: AdaptersConfig{
			Gopher: gopher.GopherConfig{
				Enabled: true,
			},
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
