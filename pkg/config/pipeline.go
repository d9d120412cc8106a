package config

import (
	"fmt"

	"github.com/marmos91/gopherd/internal/accounts"
	"github.com/marmos91/gopherd/internal/charset"
	"github.com/marmos91/gopherd/internal/delivery"
	"github.com/marmos91/gopherd/internal/logger"
	"github.com/marmos91/gopherd/internal/protocol/gopher/filetype"
	"github.com/marmos91/gopherd/internal/protocol/gopher/gophermap"
	"github.com/marmos91/gopherd/internal/protocol/gopher/handlers"
	"github.com/marmos91/gopherd/internal/protocol/gopher/resolver"
	"github.com/marmos91/gopherd/internal/protocol/gopher/types"
	"github.com/marmos91/gopherd/pkg/metrics"
	"github.com/marmos91/gopherd/pkg/store/session"
)

// Pipeline is the request pipeline built from configuration.
type Pipeline struct {
	// Handler runs requests. It is shared by every connection.
	Handler *handlers.Handler

	// AccessLog is nil when logging.access_log is empty.
	AccessLog *logger.AccessLog
}

// Close flushes the access log.
func (p *Pipeline) Close() error {
	return p.AccessLog.Sync()
}

// InitializePipeline wires the resolver, menu renderer, file delivery and
// handler from cfg.
//
// Parameters:
//   - cfg: The complete gopherd configuration, already validated
//   - store: Session store (nil disables accounting and sticky sessions)
//   - m: Metrics collector (nil uses no-op)
//
// Returns:
//   - *Pipeline: The ready pipeline
//   - error: If a filetype rule, the charset or the access log is invalid
func InitializePipeline(cfg *Config, store session.Store, m metrics.GopherMetrics) (*Pipeline, error) {
	srv := &cfg.Server

	table, err := buildFiletypes(srv.Filetypes)
	if err != nil {
		return nil, err
	}

	cs, err := charset.Normalize(srv.Charset)
	if err != nil {
		return nil, fmt.Errorf("server.charset: %w", err)
	}

	accessLog, err := logger.OpenAccessLog(cfg.Logging.AccessLog)
	if err != nil {
		return nil, err
	}

	defaultType := types.TypeText
	if srv.DefaultType != "" {
		defaultType = types.ItemType(srv.DefaultType[0])
	}

	res := resolver.New(resolver.Config{
		Root:     srv.Root,
		UserDir:  srv.UserDir,
		MinUID:   srv.UserDirMinUID,
		Reserved: srv.ReservedVHosts,
		Accounts: accounts.NewPasswdFile(srv.PasswdFile),
	})

	sender := delivery.New(delivery.Config{
		Root:          srv.Root,
		CGIDir:        srv.CGIDir,
		FilterDir:     srv.FilterDir,
		MapFile:       srv.Gophermap,
		StrictRFC1436: srv.StrictRFC1436,
		ExecTimeout:   srv.ExecTimeout,
	})

	renderer := gophermap.New(gophermap.Config{
		MapFile:     srv.Gophermap,
		DefaultType: defaultType,
		Footer:      srv.Footer,
	}, res, sender)

	h := handlers.New(handlers.Config{
		Host:        srv.Host,
		Port:        srv.Port,
		DefaultType: defaultType,
		Width:       srv.Width,
		Charset:     cs,
		Features:    srv.Features.Features(),
		GopherProxy: srv.GopherProxy,
		Filetypes:   table,
		Footer:      srv.Footer,
		Throttle:    cfg.Session.Throttle,
	}, handlers.Deps{
		Resolver:  res,
		Renderer:  renderer,
		Sender:    sender,
		Store:     store,
		Metrics:   m,
		AccessLog: accessLog,
	})

	logger.Debug("Pipeline ready: root=%s host=%s port=%d charset=%s width=%d",
		srv.Root, srv.Host, srv.Port, cs, h.Config().Width)

	return &Pipeline{Handler: h, AccessLog: accessLog}, nil
}

// buildFiletypes returns the built-in table with the configured rules
// applied on top.
func buildFiletypes(rules []string) (*filetype.Table, error) {
	table := filetype.NewTable()
	for i, rule := range rules {
		if err := table.Override(rule); err != nil {
			return nil, fmt.Errorf("server.filetypes[%d]: %w", i, err)
		}
	}
	return table, nil
}
