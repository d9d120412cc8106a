package config

import (
	"fmt"

	"github.com/marmos91/gopherd/internal/protocol/gopher/handlers"
	"github.com/marmos91/gopherd/pkg/adapter"
	"github.com/marmos91/gopherd/pkg/adapter/gopher"
	"github.com/marmos91/gopherd/pkg/metrics"
	"github.com/marmos91/gopherd/pkg/store/session"
)

// CreateAdapters creates all enabled network adapters from the configuration.
//
// Parameters:
//   - cfg: The complete gopherd configuration
//   - h: The request pipeline shared by every adapter
//   - store: Session store used for periodic summaries (may be nil)
//   - m: Optional metrics collector (nil = no metrics)
//
// Returns:
//   - []adapter.Adapter: List of enabled adapters ready to be added to the server
//   - error: If no adapter is enabled
func CreateAdapters(cfg *Config, h *handlers.Handler, store session.Store, m metrics.GopherMetrics) ([]adapter.Adapter, error) {
	var adapters []adapter.Adapter

	if cfg.Adapters.Gopher.Enabled {
		adapters = append(adapters, gopher.New(cfg.Adapters.Gopher, h, store, m))
	}

	if len(adapters) == 0 {
		return nil, fmt.Errorf("no adapters enabled in configuration")
	}

	return adapters, nil
}
