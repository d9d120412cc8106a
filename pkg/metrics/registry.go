// Package metrics holds the gopherd metrics interfaces, their no-op
// implementation and the admin HTTP server.
//
// Collection is opt-in. Until InitRegistry runs, GetRegistry returns nil
// and the Prometheus constructors hand out no-op collectors, which is how
// inetd mode runs: its process exits before anything could scrape it.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// registry is written once by InitRegistry and read afterwards.
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry creates the global registry with the Go runtime and process
// collectors attached. Later calls do nothing.
func InitRegistry() {
	registryOnce.Do(func() {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: "gopherd"}),
		)
		registry = reg
	})
}

// GetRegistry returns the global registry, or nil before InitRegistry.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled reports whether InitRegistry has run.
func IsEnabled() bool {
	return GetRegistry() != nil
}
