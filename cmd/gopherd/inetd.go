package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/marmos91/gopherd/internal/logger"
	"github.com/marmos91/gopherd/internal/protocol/gopher/handlers"
	"github.com/marmos91/gopherd/pkg/adapter/gopher"
	"github.com/marmos91/gopherd/pkg/config"
	"github.com/marmos91/gopherd/pkg/metrics"
)

// unknownPeer stands in for the client address when stdin is not a socket.
const unknownPeer = "unknown"

func runInetd(args []string) int {
	fs := flag.NewFlagSet("inetd", flag.ExitOnError)
	var common commonFlags
	common.register(fs)
	remote := fs.String("remote", "", "Client address to assume instead of the socket peer")
	_ = fs.Parse(args)

	cfg, err := common.load()
	if err != nil {
		// Nothing useful can be sent before the configuration is known.
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return 1
	}

	prepareInetd(cfg)
	if err := initLogging(&cfg.Logging); err != nil {
		return 1
	}
	defer logger.Sync()

	conn := stdioConn(*remote, cfg.Adapters.Gopher.ReadTimeout, cfg.Adapters.Gopher.WriteTimeout)
	defer conn.close()

	if err := checkPrivileges(); err != nil {
		logger.Error("%v", err)
		writeRefusal(conn.W, err)
		return 1
	}

	if err := serveOne(context.Background(), cfg, conn.Conn); err != nil {
		return 1
	}
	return 0
}

// prepareInetd adjusts cfg for a process that lives for one request.
//
// Standard output is the client socket, and inetd usually hands the same
// socket over as standard error, so console logging goes to syslog. The
// session table must outlive the process, which only the mmap store does.
func prepareInetd(cfg *config.Config) {
	switch strings.ToLower(cfg.Logging.Output) {
	case "", "stdout", "stderr":
		cfg.Logging.Output = "syslog"
	}
	if cfg.Session.Store.Type != "mmap" {
		cfg.Session.Store.Type = "mmap"
	}
	cfg.Server.Metrics.Enabled = false
}

// serveOne answers a single request on conn.
//
// Returns the error that was rendered to the client, if any.
func serveOne(ctx context.Context, cfg *config.Config, conn handlers.Conn) error {
	store, err := config.CreateSessionStore(ctx, &cfg.Session)
	if err != nil {
		// Accounting is best effort; the request is still served.
		logger.Warn("Session store unavailable: %v", err)
	}
	if store != nil {
		defer func() { _ = store.Close() }()
	}

	p, err := config.InitializePipeline(cfg, store, metrics.NewNoopGopherMetrics())
	if err != nil {
		logger.Error("Failed to build request pipeline: %v", err)
		return err
	}
	defer func() { _ = p.Close() }()

	return p.Handler.Handle(ctx, conn)
}

// inetdConn is the client connection of an inetd-spawned process.
type inetdConn struct {
	handlers.Conn
	sock net.Conn
}

func (c *inetdConn) close() {
	if c.sock != nil {
		_ = c.sock.Close()
	}
}

// stdioConn wraps standard input and output. When stdin is a socket the
// peer address is taken from it and the read and write timeouts are armed
// on it; otherwise plain file I/O is used and remote names the client.
func stdioConn(remote string, readTimeout, writeTimeout time.Duration) *inetdConn {
	c := &inetdConn{Conn: handlers.Conn{R: os.Stdin, W: os.Stdout, RemoteAddr: remote}}

	sock, err := net.FileConn(os.Stdin)
	if err != nil {
		if c.RemoteAddr == "" {
			c.RemoteAddr = unknownPeer
		}
		return c
	}

	now := time.Now()
	if readTimeout > 0 {
		_ = sock.SetReadDeadline(now.Add(readTimeout))
	}
	if writeTimeout > 0 {
		_ = sock.SetWriteDeadline(now.Add(readTimeout + writeTimeout))
	}

	c.sock = sock
	c.R = sock
	c.W = sock
	if c.RemoteAddr == "" {
		c.RemoteAddr = gopher.RemoteHost(sock.RemoteAddr())
	}
	if c.RemoteAddr == "" {
		c.RemoteAddr = unknownPeer
	}
	return c
}
