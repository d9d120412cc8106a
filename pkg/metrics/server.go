package metrics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/marmos91/gopherd/internal/logger"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultPort is the port of the admin HTTP server.
const DefaultPort = 9090

// Server is the admin HTTP endpoint of a standalone daemon. It satisfies
// adapter.Adapter, so GopherServer starts and stops it with the gopher
// listener.
//
// Routes:
//   - GET /metrics: Prometheus exposition of the global registry
//   - GET /healthz: 200 when Healthcheck passes, 503 otherwise
//   - GET /server-status: the session report gopher clients get from
//     the "/server-status" selector
//   - GET /: plain text list of the routes above
type Server struct {
	server       *http.Server
	port         int
	shutdownOnce sync.Once
}

// ServerConfig configures the admin HTTP server.
type ServerConfig struct {
	// BindAddress restricts the listener to one local address.
	// Empty listens on all interfaces.
	BindAddress string

	// Port to listen on. Default: DefaultPort
	Port int

	// Healthcheck backs /healthz. Nil reports healthy.
	Healthcheck func(ctx context.Context) error

	// Status writes the session report for /server-status. Nil disables
	// the route.
	Status func(ctx context.Context, w io.Writer) error
}

// NewServer creates a stopped admin server. Call Serve to start it.
func NewServer(config ServerConfig) *Server {
	if config.Port <= 0 {
		config.Port = DefaultPort
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metricsHandler())
	mux.HandleFunc("/healthz", healthHandler(config.Healthcheck))
	if config.Status != nil {
		mux.HandleFunc("/server-status", statusHandler(config.Status))
	}
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = fmt.Fprintf(w, "gopherd admin endpoint\n\n")
		_, _ = fmt.Fprintf(w, "/metrics        Prometheus scrape target (port %d)\n", config.Port)
		_, _ = fmt.Fprintf(w, "/healthz        session store health\n")
		if config.Status != nil {
			_, _ = fmt.Fprintf(w, "/server-status  session report\n")
		}
	})

	return &Server{
		server: &http.Server{
			Addr:              net.JoinHostPort(config.BindAddress, strconv.Itoa(config.Port)),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		port: config.Port,
	}
}

func metricsHandler() http.Handler {
	if registry := GetRegistry(); registry != nil {
		return promhttp.HandlerFor(registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "metrics collection is disabled", http.StatusServiceUnavailable)
	})
}

func healthHandler(check func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if check != nil {
			if err := check(r.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = fmt.Fprintf(w, "unhealthy: %v\n", err)
				return
			}
		}
		_, _ = io.WriteString(w, "ok\n")
	}
}

func statusHandler(status func(ctx context.Context, w io.Writer) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if err := status(r.Context(), w); err != nil {
			logger.Warn("Admin status report failed: %v", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

// Serve serves until ctx is cancelled, then shuts down with a five second
// grace period.
//
// Parameters:
//   - ctx: Cancellation triggers shutdown.
//
// Returns:
//   - nil after a clean shutdown
//   - error if the listener cannot be opened or shutdown fails
func (s *Server) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("admin server listen on %s: %w", s.server.Addr, err)
	}
	logger.Info("Admin server listening on %s", listener.Addr())

	errChan := make(chan error, 1)
	go func() {
		errChan <- s.server.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		// ctx is already done; shutdown gets its own deadline.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		// Stop was called directly.
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("admin server failed: %w", err)
	}
}

// Stop shuts the server down. Safe to call more than once.
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("admin server shutdown: %w", err)
			return
		}
		logger.Debug("Admin server stopped")
	})
	return shutdownErr
}

// Protocol names the endpoint in server logs.
func (s *Server) Protocol() string {
	return "admin"
}

// Port returns the configured TCP port.
func (s *Server) Port() int {
	return s.port
}
