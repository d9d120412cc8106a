package adapter

import (
	"context"
)

// Adapter is a network front end managed by GopherServer.
//
// Lifecycle:
//  1. Creation: the adapter is built with its listener configuration and
//     the request pipeline it feeds
//  2. Startup: Serve() binds and blocks until shutdown
//  3. Shutdown: Stop() initiates graceful shutdown with timeout
//
// Thread safety:
// Implementations must be safe for concurrent use. Stop() may be called
// concurrently with Serve().
type Adapter interface {
	// Serve starts the protocol server and blocks until the context is
	// cancelled or an unrecoverable error occurs.
	//
	// When the context is cancelled, Serve must stop accepting connections,
	// wait for active ones (with timeout) and return.
	//
	// If Serve returns before context cancellation, GopherServer treats it
	// as fatal and stops all other adapters.
	//
	// Returns:
	//   - nil on graceful shutdown
	//   - error if startup fails or shutdown is not graceful
	Serve(ctx context.Context) error

	// Stop initiates graceful shutdown. It must be idempotent and safe to
	// call concurrently with Serve(). ctx bounds the wait for active
	// connections.
	Stop(ctx context.Context) error

	// Protocol returns the protocol name for logging and metrics.
	Protocol() string

	// Port returns the configured listen port.
	Port() int
}
