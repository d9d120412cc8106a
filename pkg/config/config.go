package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/marmos91/gopherd/internal/protocol/gopher/handlers"
	"github.com/marmos91/gopherd/internal/protocol/gopher/types"
	"github.com/marmos91/gopherd/pkg/adapter/gopher"
	"github.com/marmos91/gopherd/pkg/store/session"
	"github.com/spf13/viper"
)

// Config represents the complete gopherd configuration.
//
// This structure captures all configurable aspects of the daemon:
//   - Logging and access log output
//   - The served tree and how menus are rendered
//   - Session accounting and the backing store
//   - The standalone TCP listener
//
// Configuration sources (in order of precedence):
//  1. Environment variables (GOPHERD_*)
//  2. Configuration file (YAML or TOML)
//  3. Default values (lowest priority)
//
// Store Configuration Pattern:
// Each session store backend defines its own configuration type. The
// session.store section holds one map per backend and only the map matching
// the selected type is decoded.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Server describes the served tree and request handling
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Session configures per-client accounting and throttling
	Session SessionConfig `mapstructure:"session" yaml:"session"`

	// Adapters contains network front end configurations
	Adapters AdaptersConfig `mapstructure:"adapters" yaml:"adapters"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, syslog, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`

	// AccessLog is the path of a combined-format access log.
	// Empty disables it.
	AccessLog string `mapstructure:"access_log" yaml:"access_log"`
}

// ServerConfig describes the served tree.
type ServerConfig struct {
	// Root is the absolute path of the document root
	Root string `mapstructure:"root" validate:"required" yaml:"root"`

	// Host is the primary host name advertised in menus.
	// Default: the system host name
	Host string `mapstructure:"host" validate:"required" yaml:"host"`

	// Port is the port advertised in menus. It differs from the listen
	// port when the daemon sits behind a port forward.
	// Default: adapters.gopher.port
	Port int `mapstructure:"port" validate:"min=0,max=65535" yaml:"port"`

	// DefaultType is the item type of files whose suffix is unknown
	DefaultType string `mapstructure:"default_type" validate:"required,len=1" yaml:"default_type"`

	// Gophermap is the name of the per-directory menu file
	Gophermap string `mapstructure:"gophermap" validate:"required" yaml:"gophermap"`

	// UserDir is the per-user directory served under "/~login"
	UserDir string `mapstructure:"userdir" yaml:"userdir"`

	// UserDirMinUID is the lowest account id whose userdir is served
	UserDirMinUID uint32 `mapstructure:"userdir_min_uid" yaml:"userdir_min_uid"`

	// PasswdFile is the account database used for userdirs and "~" listings
	PasswdFile string `mapstructure:"passwd_file" yaml:"passwd_file"`

	// CGIDir is the path fragment that marks executable content
	CGIDir string `mapstructure:"cgi_dir" validate:"required" yaml:"cgi_dir"`

	// FilterDir holds per-suffix and per-type output filters. Empty disables them.
	FilterDir string `mapstructure:"filter_dir" yaml:"filter_dir"`

	// Width is the menu output width in columns
	Width int `mapstructure:"width" validate:"min=0" yaml:"width"`

	// Charset is the output charset: US-ASCII, ISO-8859-1 or UTF-8
	Charset string `mapstructure:"charset" validate:"required" yaml:"charset"`

	// GopherProxy, when set, is the "host:port" of an HTTP gopher proxy that
	// HTTP clients are redirected to
	GopherProxy string `mapstructure:"gopher_proxy" yaml:"gopher_proxy"`

	// ReservedVHosts lists root entries never treated as virtual hosts
	ReservedVHosts []string `mapstructure:"reserved_vhosts" yaml:"reserved_vhosts"`

	// Filetypes adds or overrides "suffix=type" classification rules
	Filetypes []string `mapstructure:"filetypes" yaml:"filetypes"`

	// Footer replaces the attribution text after menus
	Footer string `mapstructure:"footer" yaml:"footer"`

	// StrictRFC1436 dot-stuffs text files and ends them with "."
	StrictRFC1436 bool `mapstructure:"strict_rfc1436" yaml:"strict_rfc1436"`

	// ExecTimeout bounds CGI and filter runs
	ExecTimeout time.Duration `mapstructure:"exec_timeout" validate:"required,gt=0" yaml:"exec_timeout"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// Features are the default feature toggles
	Features FeaturesConfig `mapstructure:"features" yaml:"features"`

	// Metrics configures the Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// FeaturesConfig toggles optional behavior. Unset toggles default to on, so
// every field is a pointer to tell "false" from "not configured".
type FeaturesConfig struct {
	VHost   *bool `mapstructure:"vhost" yaml:"vhost"`
	Parent  *bool `mapstructure:"parent" yaml:"parent"`
	Footer  *bool `mapstructure:"footer" yaml:"footer"`
	Date    *bool `mapstructure:"date" yaml:"date"`
	Magic   *bool `mapstructure:"magic" yaml:"magic"`
	Log     *bool `mapstructure:"log" yaml:"log"`
	Query   *bool `mapstructure:"query" yaml:"query"`
	UserDir *bool `mapstructure:"userdir" yaml:"userdir"`
}

// Features returns the toggles with unset fields on.
func (f FeaturesConfig) Features() types.Features {
	on := func(b *bool) bool { return b == nil || *b }
	return types.Features{
		VHost:   on(f.VHost),
		Parent:  on(f.Parent),
		Footer:  on(f.Footer),
		Date:    on(f.Date),
		Magic:   on(f.Magic),
		Log:     on(f.Log),
		Query:   on(f.Query),
		UserDir: on(f.UserDir),
	}
}

// MetricsConfig configures the Prometheus HTTP endpoint.
type MetricsConfig struct {
	// Enabled starts the metrics server in serve mode
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port of the metrics server
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// SessionConfig configures per-client session accounting.
type SessionConfig struct {
	// Slots is the capacity of the session table
	Slots int `mapstructure:"slots" validate:"min=0" yaml:"slots"`

	// Timeout is the idle time after which a session slot is reused
	Timeout time.Duration `mapstructure:"timeout" validate:"min=0" yaml:"timeout"`

	// MaxHits is the per-session request threshold
	MaxHits int64 `mapstructure:"max_hits" validate:"min=0" yaml:"max_hits"`

	// MaxKBytes is the per-session traffic threshold in kilobytes
	MaxKBytes int64 `mapstructure:"max_kbytes" validate:"min=0" yaml:"max_kbytes"`

	// HostAware keys sessions by client and virtual host. The sticky
	// virtual host is looked up by client alone, so this requires
	// server.features.vhost to be off.
	HostAware bool `mapstructure:"host_aware" yaml:"host_aware"`

	// Throttle selects what happens to sessions over their thresholds
	Throttle handlers.ThrottleConfig `mapstructure:"throttle" yaml:"throttle"`

	// Store selects and configures the session store backend
	Store SessionStoreConfig `mapstructure:"store" yaml:"store"`
}

// Limits returns the store limits described by the section.
func (c *SessionConfig) Limits() session.Limits {
	return session.Limits{
		Slots:     c.Slots,
		Timeout:   c.Timeout,
		MaxHits:   c.MaxHits,
		MaxKBytes: c.MaxKBytes,
		HostAware: c.HostAware,
	}.WithDefaults()
}

// SessionStoreConfig specifies the session store backend.
//
// The Type field determines which backend is used.
// Only the corresponding type-specific configuration section is used.
type SessionStoreConfig struct {
	// Type specifies which session store implementation to use
	// Valid values: memory, mmap, badger
	Type string `mapstructure:"type" validate:"required,oneof=memory mmap badger" yaml:"type"`

	// Mmap contains shared-segment configuration
	// Only used when Type = "mmap"
	Mmap map[string]any `mapstructure:"mmap" yaml:"mmap"`

	// Badger contains BadgerDB-specific configuration
	// Only used when Type = "badger"
	Badger map[string]any `mapstructure:"badger" yaml:"badger"`
}

// AdaptersConfig contains all network adapter configurations.
type AdaptersConfig struct {
	// Gopher contains the standalone TCP listener configuration.
	// Uses the gopher.GopherConfig type directly to avoid duplication.
	Gopher gopher.GopherConfig `mapstructure:"gopher" yaml:"gopher"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (GOPHERD_*)
//  2. Configuration file
//  3. Default values
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Example: GOPHERD_SERVER_ROOT=/srv/gopher
	v.SetEnvPrefix("GOPHERD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Environment variables only reach keys viper knows about.
	for _, key := range []string{
		"logging.level", "logging.format", "logging.output", "logging.access_log",
		"server.root", "server.host", "server.port", "server.charset", "server.width",
		"session.store.type", "adapters.gopher.port",
	} {
		_ = v.BindEnv(key)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default location: $XDG_CONFIG_HOME/gopherd/config.{yaml,toml}
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "gopherd")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "gopherd")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for init command).
func GetConfigDir() string {
	return getConfigDir()
}
