// Package gopher is the long-running TCP front end of the gopher server.
//
// It owns the listener and the connection lifecycle; each accepted
// connection carries exactly one request, which is handed to the request
// pipeline in internal/protocol/gopher/handlers.
package gopher

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/marmos91/gopherd/internal/logger"
	"github.com/marmos91/gopherd/internal/protocol/gopher/handlers"
	"github.com/marmos91/gopherd/internal/ratelimiter"
	"github.com/marmos91/gopherd/pkg/metrics"
	"github.com/marmos91/gopherd/pkg/store/session"
)

// GopherAdapter implements adapter.Adapter for the gopher protocol.
//
// Shutdown flow:
//  1. Context cancelled or Stop() called
//  2. Listener closed (no new connections)
//  3. shutdownCtx cancelled (throttle delays and scripts abort)
//  4. Wait for active connections to complete (up to ShutdownTimeout)
//  5. Force-close any remaining connections after timeout
//
// Thread safety:
// All methods are safe for concurrent use. The shutdown mechanism uses
// sync.Once so Stop() may be called any number of times.
type GopherAdapter struct {
	config GopherConfig

	// handler runs the request pipeline for each connection.
	handler *handlers.Handler

	// store is only read here, for the periodic session summary. May be nil.
	store session.Store

	metrics metrics.GopherMetrics

	// limiter throttles accepted connections. nil when disabled.
	limiter *ratelimiter.RateLimiter

	// listener is closed during shutdown to stop accepting connections.
	listener net.Listener

	// ready is closed once the listener is bound.
	ready chan struct{}

	// activeConns tracks connections for graceful shutdown.
	activeConns sync.WaitGroup

	shutdownOnce sync.Once
	shutdown     chan struct{}

	// connCount is the number of active connections.
	connCount atomic.Int32

	// connSemaphore bounds concurrent connections. nil if unlimited.
	connSemaphore chan struct{}

	// shutdownCtx is cancelled during shutdown and is the parent of every
	// request context.
	shutdownCtx    context.Context
	cancelRequests context.CancelFunc

	// activeConnections maps remote address to net.Conn for forced closure.
	activeConnections sync.Map
}

// New creates a GopherAdapter. The store and metrics may be nil.
//
// Panics if config validation fails.
func New(config GopherConfig, handler *handlers.Handler, store session.Store, m metrics.GopherMetrics) *GopherAdapter {
	config.ApplyDefaults()
	if err := config.validate(); err != nil {
		panic(fmt.Sprintf("invalid gopher config: %v", err))
	}

	var connSemaphore chan struct{}
	if config.MaxConnections > 0 {
		connSemaphore = make(chan struct{}, config.MaxConnections)
		logger.Debug("Gopher connection limit: %d", config.MaxConnections)
	} else {
		logger.Debug("Gopher connection limit: unlimited")
	}

	if m == nil {
		m = metrics.NewNoopGopherMetrics()
	}

	shutdownCtx, cancelRequests := context.WithCancel(context.Background())

	return &GopherAdapter{
		config:         config,
		handler:        handler,
		store:          store,
		metrics:        m,
		limiter:        ratelimiter.New(config.RateLimit.ConnectionsPerSecond, config.RateLimit.Burst),
		ready:          make(chan struct{}),
		shutdown:       make(chan struct{}),
		connSemaphore:  connSemaphore,
		shutdownCtx:    shutdownCtx,
		cancelRequests: cancelRequests,
	}
}

// Serve listens on the configured port and serves connections until ctx is
// cancelled or Stop() is called.
//
// Returns:
//   - nil on graceful shutdown
//   - error if the listener fails to start or the shutdown timed out
func (s *GopherAdapter) Serve(ctx context.Context) error {
	addr := net.JoinHostPort(s.config.BindAddress, strconv.Itoa(s.config.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to create gopher listener on %s: %w", addr, err)
	}

	s.listener = listener
	close(s.ready)
	logger.Info("Gopher server listening on %s", listener.Addr())
	logger.Debug("Gopher config: max_connections=%d read_timeout=%v write_timeout=%v rate_limit=%d/s",
		s.config.MaxConnections, s.config.ReadTimeout, s.config.WriteTimeout, s.config.RateLimit.ConnectionsPerSecond)

	go func() {
		select {
		case <-ctx.Done():
			logger.Info("Gopher shutdown signal received: %v", ctx.Err())
			s.initiateShutdown()
		case <-s.shutdown:
		}
	}()

	if s.config.MetricsLogInterval > 0 {
		go s.logMetrics(ctx)
	}

	for {
		if s.connSemaphore != nil {
			select {
			case s.connSemaphore <- struct{}{}:
			case <-s.shutdown:
				return s.gracefulShutdown()
			}
		}

		tcpConn, err := s.listener.Accept()
		if err != nil {
			s.release()
			select {
			case <-s.shutdown:
				return s.gracefulShutdown()
			default:
				logger.Debug("Error accepting gopher connection: %v", err)
				continue
			}
		}

		if !s.limiter.Allow() {
			s.release()
			s.metrics.RecordConnectionRejected("rate_limited")
			logger.Debug("Gopher connection from %s rejected: rate limit", tcpConn.RemoteAddr())
			go reject(tcpConn)
			continue
		}

		s.activeConns.Add(1)
		current := s.connCount.Add(1)

		connAddr := tcpConn.RemoteAddr().String()
		s.activeConnections.Store(connAddr, tcpConn)

		s.metrics.RecordConnectionAccepted()
		s.metrics.SetActiveConnections(current)
		logger.Debug("Gopher connection accepted from %s (active: %d)", connAddr, current)

		conn := NewGopherConnection(s, tcpConn)
		go func(addr string) {
			defer func() {
				s.activeConnections.Delete(addr)
				s.activeConns.Done()
				current := s.connCount.Add(-1)
				s.release()

				s.metrics.RecordConnectionClosed()
				s.metrics.SetActiveConnections(current)
				logger.Debug("Gopher connection closed from %s (active: %d)", addr, current)
			}()

			conn.Serve(s.shutdownCtx)
		}(connAddr)
	}
}

// rejectDrainTimeout bounds how long a rejected client may keep sending.
const rejectDrainTimeout = 2 * time.Second

// reject closes conn without answering. The write side is shut first and
// pending input is drained, so the client sees an orderly EOF instead of
// a reset caused by its unread selector line.
func reject(conn net.Conn) {
	defer func() { _ = conn.Close() }()

	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.CloseWrite()
	}
	_ = conn.SetReadDeadline(time.Now().Add(rejectDrainTimeout))
	_, _ = io.Copy(io.Discard, io.LimitReader(conn, selectorDrainLimit))
}

// selectorDrainLimit caps the bytes read from a rejected client.
const selectorDrainLimit = 4096

func (s *GopherAdapter) release() {
	if s.connSemaphore != nil {
		<-s.connSemaphore
	}
}

// initiateShutdown closes the listener and cancels in-flight requests.
// Safe to call multiple times.
func (s *GopherAdapter) initiateShutdown() {
	s.shutdownOnce.Do(func() {
		logger.Debug("Gopher shutdown initiated")
		close(s.shutdown)

		if s.listener != nil {
			if err := s.listener.Close(); err != nil {
				logger.Debug("Error closing gopher listener: %v", err)
			}
		}

		s.cancelRequests()
	})
}

// gracefulShutdown waits for active connections up to ShutdownTimeout and
// force-closes the rest.
func (s *GopherAdapter) gracefulShutdown() error {
	logger.Info("Gopher graceful shutdown: waiting for %d active connection(s) (timeout: %v)",
		s.connCount.Load(), s.config.ShutdownTimeout)

	select {
	case <-s.drained():
		logger.Info("Gopher graceful shutdown complete: all connections closed")
		return nil

	case <-time.After(s.config.ShutdownTimeout):
		remaining := s.connCount.Load()
		logger.Warn("Gopher shutdown timeout exceeded: %d connection(s) still active after %v - forcing closure",
			remaining, s.config.ShutdownTimeout)
		s.forceCloseConnections()
		return fmt.Errorf("gopher shutdown timeout: %d connections force-closed", remaining)
	}
}

func (s *GopherAdapter) drained() <-chan struct{} {
	done := make(chan struct{})
	go func() {
		s.activeConns.Wait()
		close(done)
	}()
	return done
}

func (s *GopherAdapter) forceCloseConnections() {
	closed := 0
	s.activeConnections.Range(func(key, value any) bool {
		addr := key.(string)
		conn := value.(net.Conn)

		if err := conn.Close(); err != nil {
			logger.Debug("Error force-closing connection to %s: %v", addr, err)
		} else {
			closed++
			s.metrics.RecordConnectionForceClosed()
		}
		return true
	})

	if closed > 0 {
		logger.Info("Force-closed %d gopher connection(s)", closed)
	}
}

// Stop initiates graceful shutdown and waits for active connections until
// ctx is done.
//
// Returns:
//   - nil when every connection finished
//   - ctx.Err() if ctx ended first
func (s *GopherAdapter) Stop(ctx context.Context) error {
	s.initiateShutdown()

	if ctx == nil {
		return s.gracefulShutdown()
	}

	select {
	case <-s.drained():
		return nil
	case <-ctx.Done():
		logger.Warn("Gopher shutdown context cancelled: %d connection(s) still active: %v",
			s.connCount.Load(), ctx.Err())
		return ctx.Err()
	}
}

// logMetrics periodically logs connection and session activity and feeds
// the active session gauge.
func (s *GopherAdapter) logMetrics(ctx context.Context) {
	ticker := time.NewTicker(s.config.MetricsLogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdown:
			return
		case <-ticker.C:
			s.logSummary(ctx)
		}
	}
}

func (s *GopherAdapter) logSummary(ctx context.Context) {
	active := s.connCount.Load()
	if s.store == nil {
		logger.Info("Gopher metrics: active_connections=%d", active)
		return
	}

	report, err := s.store.Report(ctx, time.Now())
	if err != nil {
		logger.Warn("Gopher metrics: session report failed: %v", err)
		return
	}
	s.metrics.SetActiveSessions(len(report.Sessions))

	logger.Info("Gopher metrics: active_connections=%d sessions=%d hits=%s sent=%s",
		active,
		len(report.Sessions),
		humanize.Comma(report.Hits),
		humanize.IBytes(uint64(report.KBytes)*1024))
}

// Addr returns the bound listener address. It blocks until Serve has bound
// the listener or ctx is done.
func (s *GopherAdapter) Addr(ctx context.Context) (net.Addr, error) {
	select {
	case <-s.ready:
		return s.listener.Addr(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// GetActiveConnections returns the current number of active connections.
func (s *GopherAdapter) GetActiveConnections() int32 {
	return s.connCount.Load()
}

// Port returns the configured TCP port.
func (s *GopherAdapter) Port() int {
	return s.config.Port
}

// Protocol returns "Gopher".
func (s *GopherAdapter) Protocol() string {
	return "Gopher"
}
