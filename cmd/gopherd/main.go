// Command gopherd serves a directory tree over the Gopher protocol.
//
// It runs either as a standalone TCP daemon (serve) or once per connection
// under inetd, xinetd or a systemd socket (inetd).
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/marmos91/gopherd/internal/logger"
	"github.com/marmos91/gopherd/internal/platform"
	"github.com/marmos91/gopherd/internal/protocol/gopher/types"
	"github.com/marmos91/gopherd/pkg/config"
)

const usage = `gopherd - Gopher protocol daemon

Usage:
  gopherd <command> [flags]

Commands:
  serve     Listen for gopher connections (standalone daemon)
  inetd     Answer one request on stdin/stdout (inetd, xinetd, systemd sockets)
  init      Write a sample configuration file
  status    Print the session status report
  version   Print the version

Run "gopherd <command> -h" for command flags.
`

// getuid is replaced by tests.
var getuid = os.Getuid

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var code int
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "serve":
		code = runServe(args)
	case "inetd":
		code = runInetd(args)
	case "init":
		code = runInit(args)
	case "status":
		code = runStatus(args)
	case "version", "-v", "--version":
		fmt.Println(platform.Software)
	case "help", "-h", "--help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		code = 2
	}
	os.Exit(code)
}

// commonFlags are shared by every command that reads the configuration.
type commonFlags struct {
	configPath string
	logLevel   string
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configPath, "config", "", "Path to config file (default: $XDG_CONFIG_HOME/gopherd/config.yaml)")
	fs.StringVar(&c.logLevel, "log-level", "", "Override logging.level (DEBUG, INFO, WARN, ERROR)")
}

// load reads and validates the configuration, applying flag overrides.
func (c *commonFlags) load() (*config.Config, error) {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return nil, err
	}
	if c.logLevel != "" {
		cfg.Logging.Level = c.logLevel
		if err := config.Validate(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// initLogging configures the global logger from cfg.
func initLogging(cfg *config.LoggingConfig) error {
	return logger.Init(logger.Config{
		Level:  cfg.Level,
		Format: cfg.Format,
		Output: cfg.Output,
	})
}

// checkPrivileges refuses to serve as the superuser: scripts and
// gophermaps would run with full privileges.
func checkPrivileges() error {
	if getuid() == 0 {
		return types.NewError(types.ErrPrivilegeRefusal, "uid 0")
	}
	return nil
}

// writeRefusal tells an inetd client why nothing was served.
func writeRefusal(w io.Writer, err error) {
	entry := types.MenuEntry{
		Type:     types.TypeError,
		Display:  types.CodeOf(err).Message(),
		Selector: types.NullSelector,
		Host:     types.NullHost,
		Port:     types.NullPort,
	}
	_, _ = io.WriteString(w, entry.String()+types.Terminator)
}
