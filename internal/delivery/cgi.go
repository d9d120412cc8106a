package delivery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/marmos91/gopherd/internal/logger"
	"github.com/marmos91/gopherd/internal/platform"
	"github.com/marmos91/gopherd/internal/protocol/gopher/types"
)

// SafePath is the PATH given to scripts.
const SafePath = "/usr/bin:/bin"

// Exec runs an executable gophermap. It satisfies gophermap.Executor.
func (s *Sender) Exec(rc *types.RequestContext, path string, w io.Writer) error {
	return s.run(rc, path, nil, w)
}

// run executes script with args, streaming its standard output to w.
//
// A script that cannot be started fails the request with ExecFailure. Once
// it has started, its output belongs to the response, so a non-zero exit
// status is only logged.
func (s *Sender) run(rc *types.RequestContext, script string, args []string, w io.Writer) error {
	logger.Debug("Executing %s", script)

	ctx := rc.Context
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ExecTimeout)
	defer cancel()

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, script, args...)
	cmd.Dir = filepath.Dir(script)
	cmd.Env = s.Environ(rc, script)
	cmd.Stdout = w
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return types.WrapError(types.ErrExecFailure, script, err)
	}

	err := cmd.Wait()
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return fmt.Errorf("waiting for %s: %w", script, err)
		}
		logger.Warn("Script %s exited with status %d: %s", script, exitErr.ExitCode(), stderr.String())
	}
	return nil
}

// Environ returns the CGI/1.1 environment for running script on behalf of
// rc, extended with the gopher-specific variables scripts written for
// other gopher servers expect.
func (s *Sender) Environ(rc *types.RequestContext, script string) []string {
	port := strconv.Itoa(rc.ServerPort)
	referrer := ""
	if rc.Referrer != "" {
		referrer = "gopher://" + rc.ServerHost + ":" + port + "/" + rc.ReferrerType.String() + rc.Referrer
	}

	selector := rc.Selector
	if rc.Query != "" {
		selector += "?" + rc.Query
	}

	env := map[string]string{
		"PATH":                SafePath,
		"GATEWAY_INTERFACE":   "CGI/1.1",
		"CONTENT_LENGTH":      "0",
		"QUERY_STRING":        rc.Query,
		"SERVER_SOFTWARE":     platform.Software,
		"SERVER_PROTOCOL":     string(types.ProtocolGopher),
		"SERVER_NAME":         rc.ServerHost,
		"SERVER_PORT":         port,
		"REQUEST_METHOD":      "GET",
		"DOCUMENT_ROOT":       s.cfg.Root,
		"SCRIPT_NAME":         rc.Selector,
		"SCRIPT_FILENAME":     script,
		"REMOTE_ADDR":         rc.RemoteAddr,
		"HTTP_REFERER":        referrer,
		"HTTP_ACCEPT_CHARSET": rc.Charset,

		"SERVER_PLATFORM":  platform.String(),
		"REQUEST_PROTOCOL": string(rc.Protocol),
		"GOPHER_FILETYPE":  rc.Type.String(),
		"GOPHER_CHARSET":   rc.Charset,
		"GOPHER_REFERER":   rc.Referrer,
		"COLUMNS":          strconv.Itoa(rc.Width),

		"SELECTOR":      selector,
		"SERVER_HOST":   rc.ServerHost,
		"REQUEST":       rc.Selector,
		"SEARCHREQUEST": rc.Query,
	}

	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
