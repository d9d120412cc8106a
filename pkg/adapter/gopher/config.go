package gopher

import (
	"fmt"
	"time"
)

// DefaultPort is the IANA gopher port.
const DefaultPort = 70

// GopherConfig holds the listener settings of the gopher adapter.
//
// Default values (applied by New if zero):
//   - Port: none, 0 binds an ephemeral port (configuration files default
//     to DefaultPort)
//   - MaxConnections: 0 (unlimited)
//   - ReadTimeout: 30s
//   - WriteTimeout: 60s
//   - ShutdownTimeout: 30s
//   - MetricsLogInterval: 5m (0 disables)
//   - RateLimit: disabled
type GopherConfig struct {
	// Enabled controls whether the gopher adapter is started in serve mode.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// BindAddress restricts the listener to one local address.
	// Empty listens on all interfaces.
	BindAddress string `mapstructure:"bind_address" yaml:"bind_address"`

	// Port is the TCP port to listen on.
	Port int `mapstructure:"port" validate:"min=0,max=65535" yaml:"port"`

	// MaxConnections limits concurrent clients. Accepting blocks while the
	// limit is reached. 0 means unlimited.
	MaxConnections int `mapstructure:"max_connections" validate:"min=0" yaml:"max_connections"`

	// ReadTimeout bounds the time a client has to send its selector line.
	ReadTimeout time.Duration `mapstructure:"read_timeout" validate:"min=0" yaml:"read_timeout"`

	// WriteTimeout bounds the time spent writing one response, including
	// script output.
	WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"min=0" yaml:"write_timeout"`

	// ShutdownTimeout is how long in-flight requests may run after shutdown
	// starts. Remaining connections are then force-closed.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"min=0" yaml:"shutdown_timeout"`

	// MetricsLogInterval is the period of the connection and session
	// summary log line. 0 disables it.
	MetricsLogInterval time.Duration `mapstructure:"metrics_log_interval" validate:"min=0" yaml:"metrics_log_interval"`

	// RateLimit throttles accepted connections across all clients.
	RateLimit RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`
}

// RateLimitConfig is a token bucket applied to accepted connections.
// Connections over the limit are closed without a response.
type RateLimitConfig struct {
	// ConnectionsPerSecond is the sustained rate. 0 disables limiting.
	ConnectionsPerSecond uint `mapstructure:"connections_per_second" yaml:"connections_per_second"`

	// Burst is the bucket size. 0 uses twice the rate.
	Burst uint `mapstructure:"burst" yaml:"burst"`
}

// ApplyDefaults fills in zero values. Enabled is left to the caller so an
// explicit false survives.
func (c *GopherConfig) ApplyDefaults() {
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 60 * time.Second
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
	if c.MetricsLogInterval == 0 {
		c.MetricsLogInterval = 5 * time.Minute
	}
	if c.RateLimit.ConnectionsPerSecond > 0 && c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = c.RateLimit.ConnectionsPerSecond * 2
	}
}

func (c *GopherConfig) validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be 0-65535", c.Port)
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("invalid MaxConnections %d: must be >= 0", c.MaxConnections)
	}
	if c.ReadTimeout < 0 || c.WriteTimeout < 0 {
		return fmt.Errorf("invalid timeouts read=%v write=%v: must be >= 0", c.ReadTimeout, c.WriteTimeout)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid ShutdownTimeout %v: must be > 0", c.ShutdownTimeout)
	}
	return nil
}
