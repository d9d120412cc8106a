package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/gopherd/internal/logger"
	"github.com/marmos91/gopherd/pkg/adapter"
	"github.com/marmos91/gopherd/pkg/store/session"
)

// ErrAlreadyServed is returned by a second call to Serve.
var ErrAlreadyServed = errors.New("server: Serve() has already been called")

// DefaultStopTimeout bounds adapter shutdown when no timeout is configured.
const DefaultStopTimeout = 30 * time.Second

// GopherServer manages the lifecycle of the network adapters of a serve-mode
// gopher daemon and the session store they share.
//
// Lifecycle:
//  1. Creation: New() with the session store
//  2. Registration: AddAdapter() for each front end
//  3. Startup: Serve() starts all adapters concurrently
//  4. Shutdown: context cancellation stops every adapter, then the store is
//     closed
//
// Thread safety:
// AddAdapter() may be called concurrently before Serve(). Serve() runs once.
//
// Example usage:
//
//	srv := server.New(store, cfg.Server.ShutdownTimeout)
//	if err := srv.AddAdapter(gopher.New(cfg.Adapters.Gopher, h, store, m)); err != nil {
//	    return err
//	}
//	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer cancel()
//	return srv.Serve(ctx)
type GopherServer struct {
	// store is shared by all adapters and closed when Serve returns. May be nil.
	store session.Store

	stopTimeout time.Duration

	adapters []adapter.Adapter

	// mu protects adapters and served
	mu     sync.Mutex
	served bool
}

// New creates a GopherServer. A zero stopTimeout uses DefaultStopTimeout.
func New(store session.Store, stopTimeout time.Duration) *GopherServer {
	if stopTimeout <= 0 {
		stopTimeout = DefaultStopTimeout
	}
	return &GopherServer{
		store:       store,
		stopTimeout: stopTimeout,
		adapters:    make([]adapter.Adapter, 0, 2),
	}
}

// AddAdapter registers an adapter.
//
// Returns an error if another adapter already serves the same protocol or
// port, or if Serve() has been called.
//
// Panics if a is nil.
func (s *GopherServer) AddAdapter(a adapter.Adapter) error {
	if a == nil {
		panic("adapter cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.served {
		return errors.New("cannot add adapter after Serve() has been called")
	}

	protocol := a.Protocol()
	port := a.Port()

	for _, existing := range s.adapters {
		if existing.Protocol() == protocol {
			return fmt.Errorf("adapter for protocol %s already registered", protocol)
		}
		if port != 0 && existing.Port() == port {
			return fmt.Errorf("port %d already in use by %s adapter", port, existing.Protocol())
		}
	}

	s.adapters = append(s.adapters, a)
	logger.Info("Registered %s adapter on port %d", protocol, port)
	return nil
}

// Serve starts all adapters and blocks until ctx is cancelled or one of
// them fails. Every adapter is then stopped in reverse registration order
// and the session store is closed.
//
// Returns:
//   - ctx.Err() when shutdown was triggered by ctx
//   - the failing adapter's error, wrapped
//   - ErrAlreadyServed on a second call
func (s *GopherServer) Serve(ctx context.Context) error {
	s.mu.Lock()
	if s.served {
		s.mu.Unlock()
		return ErrAlreadyServed
	}
	s.served = true
	if len(s.adapters) == 0 {
		s.mu.Unlock()
		return errors.New("no adapters registered; call AddAdapter() before Serve()")
	}
	adapters := make([]adapter.Adapter, len(s.adapters))
	copy(adapters, s.adapters)
	s.mu.Unlock()

	defer s.closeStore()

	logger.Info("Starting gopher server with %d adapter(s)", len(adapters))

	errChan := make(chan adapterError, len(adapters))
	var wg sync.WaitGroup

	for _, adp := range adapters {
		wg.Add(1)
		go func(a adapter.Adapter) {
			defer wg.Done()

			protocol := a.Protocol()
			logger.Info("Starting %s adapter on port %d", protocol, a.Port())

			if err := a.Serve(ctx); err != nil {
				if !errors.Is(err, context.Canceled) && ctx.Err() == nil {
					logger.Error("%s adapter failed: %v", protocol, err)
					errChan <- adapterError{protocol: protocol, err: err}
				} else {
					logger.Debug("%s adapter stopped: %v", protocol, err)
				}
				return
			}
			logger.Info("%s adapter stopped", protocol)
		}(adp)
	}

	var shutdownErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received (reason: %v)", ctx.Err())
		s.stopAllAdapters(adapters)
		shutdownErr = ctx.Err()

	case adapterErr := <-errChan:
		logger.Error("Adapter %s failed: %v - initiating shutdown of all adapters",
			adapterErr.protocol, adapterErr.err)
		s.stopAllAdapters(adapters)
		shutdownErr = fmt.Errorf("%s adapter error: %w", adapterErr.protocol, adapterErr.err)
	}

	wg.Wait()
	logger.Info("Gopher server stopped")

	return shutdownErr
}

type adapterError struct {
	protocol string
	err      error
}

// stopAllAdapters signals every adapter to stop, newest first, sharing one
// stopTimeout budget.
func (s *GopherServer) stopAllAdapters(adapters []adapter.Adapter) {
	ctx, cancel := context.WithTimeout(context.Background(), s.stopTimeout)
	defer cancel()

	for i := len(adapters) - 1; i >= 0; i-- {
		adp := adapters[i]
		if err := adp.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Error stopping %s adapter: %v", adp.Protocol(), err)
		}
	}
}

func (s *GopherServer) closeStore() {
	if s.store == nil {
		return
	}
	if err := s.store.Close(); err != nil {
		logger.Warn("Closing session store: %v", err)
	}
}

// Adapters returns a snapshot of the registered adapters.
func (s *GopherServer) Adapters() []adapter.Adapter {
	s.mu.Lock()
	defer s.mu.Unlock()

	adapters := make([]adapter.Adapter, len(s.adapters))
	copy(adapters, s.adapters)
	return adapters
}
