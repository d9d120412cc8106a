package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/marmos91/gopherd/pkg/config"
)

func runInit(args []string) int {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	force := fs.Bool("force", false, "Overwrite an existing configuration file")
	path := fs.String("path", "", "Write to this path instead of the default location")
	_ = fs.Parse(args)

	target := *path
	if target == "" {
		target = config.GetDefaultConfigPath()
	}
	if err := config.InitConfigToPath(target, *force); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write configuration: %v\n", err)
		return 1
	}

	fmt.Printf("Configuration written to %s\n", target)
	return 0
}

// runStatus prints the report a client gets from "/server-status". It
// attaches to a shared store, so it is only meaningful for the mmap
// backend, or for badger while no daemon holds the database.
func runStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	var common commonFlags
	common.register(fs)
	_ = fs.Parse(args)

	cfg, err := common.load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return 1
	}
	if cfg.Session.Store.Type == "memory" {
		fmt.Fprintln(os.Stderr, "The memory session store lives inside the daemon; query /server-status instead")
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := config.CreateSessionStore(ctx, &cfg.Session)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open session store: %v\n", err)
		return 1
	}
	defer func() { _ = store.Close() }()

	if err := config.WriteStatus(ctx, store, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read status: %v\n", err)
		return 1
	}
	return 0
}
