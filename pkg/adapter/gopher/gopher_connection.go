package gopher

import (
	"context"
	"net"
	"time"

	"github.com/marmos91/gopherd/internal/logger"
	"github.com/marmos91/gopherd/internal/protocol/gopher/handlers"
)

// GopherConnection serves the single request carried by one TCP connection.
type GopherConnection struct {
	server *GopherAdapter
	conn   net.Conn
}

func NewGopherConnection(server *GopherAdapter, conn net.Conn) *GopherConnection {
	return &GopherConnection{server: server, conn: conn}
}

// Serve reads one selector, writes the response and closes the connection.
//
// The read deadline covers the selector line; the write deadline is armed
// once it has been read and covers the whole response. A panic in the
// pipeline is recovered so one request cannot take the server down.
func (c *GopherConnection) Serve(ctx context.Context) {
	clientAddr := c.conn.RemoteAddr().String()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic in connection handler from %s: %v", clientAddr, r)
		}
		_ = c.conn.Close()
	}()

	cfg := c.server.config
	if cfg.ReadTimeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout)); err != nil {
			logger.Warn("Failed to set read deadline for %s: %v", clientAddr, err)
		}
	}

	w := &deadlineWriter{conn: c.conn, timeout: cfg.WriteTimeout}

	err := c.server.handler.Handle(ctx, handlers.Conn{
		R:          c.conn,
		W:          w,
		RemoteAddr: RemoteHost(c.conn.RemoteAddr()),
	})
	if err != nil {
		logger.Debug("Request from %s ended with: %v", clientAddr, err)
	}
}

// deadlineWriter arms the write deadline on the first write, after the
// selector has been read.
type deadlineWriter struct {
	conn    net.Conn
	timeout time.Duration
	armed   bool
}

func (w *deadlineWriter) Write(p []byte) (int, error) {
	if !w.armed && w.timeout > 0 {
		w.armed = true
		if err := w.conn.SetWriteDeadline(time.Now().Add(w.timeout)); err != nil {
			return 0, err
		}
	}
	return w.conn.Write(p)
}

// RemoteHost strips the port from a connection address.
func RemoteHost(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
