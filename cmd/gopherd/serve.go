package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/marmos91/gopherd/internal/logger"
	"github.com/marmos91/gopherd/internal/platform"
	"github.com/marmos91/gopherd/pkg/config"
	"github.com/marmos91/gopherd/pkg/server"
)

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	var common commonFlags
	common.register(fs)
	port := fs.Int("port", 0, "Override adapters.gopher.port")
	_ = fs.Parse(args)

	cfg, err := common.load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return 1
	}
	if *port > 0 {
		// An advertised port that followed the listen port follows the
		// override too.
		if cfg.Server.Port == cfg.Adapters.Gopher.Port {
			cfg.Server.Port = *port
		}
		cfg.Adapters.Gopher.Port = *port
	}

	if err := initLogging(&cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logging: %v\n", err)
		return 1
	}
	defer logger.Sync()

	if err := checkPrivileges(); err != nil {
		logger.Error("%v", err)
		return 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := serve(ctx, cfg); err != nil {
		logger.Error("Server error: %v", err)
		return 1
	}
	return 0
}

// serve builds the daemon from cfg and runs it until ctx is cancelled.
func serve(ctx context.Context, cfg *config.Config) error {
	logger.Info("%s starting on %s", platform.Software, platform.String())
	logger.Info("Serving %s as %s:%d", cfg.Server.Root, cfg.Server.Host, cfg.Server.Port)

	store, err := config.CreateSessionStore(ctx, &cfg.Session)
	if err != nil {
		return err
	}
	logger.Info("Session store: %s (%d slots, throttle %s)",
		cfg.Session.Store.Type, store.Limits().Slots, cfg.Session.Throttle.Policy)

	m := config.InitializeMetrics(cfg, store)

	pipeline, err := config.InitializePipeline(cfg, store, m.GopherMetrics)
	if err != nil {
		_ = store.Close()
		return err
	}
	defer func() { _ = pipeline.Close() }()

	// From here on the server owns the store and closes it on return.
	srv := server.New(store, cfg.Server.ShutdownTimeout)

	adapters, err := config.CreateAdapters(cfg, pipeline.Handler, store, m.GopherMetrics)
	if err != nil {
		_ = store.Close()
		return err
	}
	if m.Server != nil {
		adapters = append(adapters, m.Server)
	}
	for _, a := range adapters {
		if err := srv.AddAdapter(a); err != nil {
			_ = store.Close()
			return err
		}
	}

	err = srv.Serve(ctx)
	if errors.Is(err, context.Canceled) {
		logger.Info("Server stopped gracefully")
		return nil
	}
	return err
}
