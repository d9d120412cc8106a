package config

import (
	"context"
	"io"
	"time"

	"github.com/marmos91/gopherd/internal/platform"
	"github.com/marmos91/gopherd/pkg/metrics"
	promMetrics "github.com/marmos91/gopherd/pkg/metrics/prometheus"
	"github.com/marmos91/gopherd/pkg/store/session"
)

// MetricsResult contains all metrics-related components created from configuration.
type MetricsResult struct {
	// Server is the admin HTTP server (nil if disabled). It is registered
	// with the GopherServer next to the gopher adapter.
	Server *metrics.Server

	// GopherMetrics is the collector shared by the adapter and the request
	// pipeline (never nil, uses noop if disabled)
	GopherMetrics metrics.GopherMetrics
}

// InitializeMetrics creates and initializes all metrics components based on configuration.
//
// If metrics are enabled in the configuration:
//   - Initializes the global Prometheus registry
//   - Creates the admin HTTP server, whose /healthz and /server-status
//     are backed by store
//   - Creates Prometheus-backed metrics instances
//
// If metrics are disabled:
//   - Returns nil server
//   - Returns no-op metrics implementations (zero overhead)
//
// inetd mode never enables metrics: a process lives for one request.
func InitializeMetrics(cfg *Config, store session.Store) *MetricsResult {
	if !cfg.Server.Metrics.Enabled {
		return &MetricsResult{
			Server:        nil,
			GopherMetrics: metrics.NewNoopGopherMetrics(),
		}
	}

	metrics.InitRegistry()

	serverCfg := metrics.ServerConfig{
		BindAddress: cfg.Adapters.Gopher.BindAddress,
		Port:        cfg.Server.Metrics.Port,
	}
	if store != nil {
		serverCfg.Healthcheck = store.Healthcheck
		serverCfg.Status = func(ctx context.Context, w io.Writer) error {
			return WriteStatus(ctx, store, w)
		}
	}
	server := metrics.NewServer(serverCfg)

	return &MetricsResult{
		Server:        server,
		GopherMetrics: promMetrics.NewGopherMetrics(),
	}
}

// WriteStatus renders the session report of store to w, with the same
// server and platform lines as the gopher status page.
func WriteStatus(ctx context.Context, store session.Store, w io.Writer) error {
	report, err := store.Report(ctx, time.Now())
	if err != nil {
		return err
	}
	return report.Format(w, session.StatusInfo{
		Server:   platform.Software,
		Platform: platform.String(),
		CPULoad:  platform.LoadAverage(),
	})
}
