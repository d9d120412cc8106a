package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func get(s *Server, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestServerHealthz(t *testing.T) {
	t.Run("no check", func(t *testing.T) {
		rec := get(NewServer(ServerConfig{}), "/healthz")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "ok\n", rec.Body.String())
	})

	t.Run("failing store", func(t *testing.T) {
		s := NewServer(ServerConfig{Healthcheck: func(context.Context) error {
			return errors.New("store closed")
		}})
		rec := get(s, "/healthz")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), "store closed")
	})
}

func TestServerStatus(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		assert.Equal(t, http.StatusNotFound, get(NewServer(ServerConfig{}), "/server-status").Code)
	})

	t.Run("report", func(t *testing.T) {
		s := NewServer(ServerConfig{Status: func(_ context.Context, w io.Writer) error {
			_, err := io.WriteString(w, "Total Accesses: 3\r\n")
			return err
		}})
		rec := get(s, "/server-status")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "Total Accesses: 3\r\n", rec.Body.String())
	})

	t.Run("store failure", func(t *testing.T) {
		s := NewServer(ServerConfig{Status: func(context.Context, io.Writer) error {
			return errors.New("segment unmapped")
		}})
		assert.Equal(t, http.StatusInternalServerError, get(s, "/server-status").Code)
	})
}

func TestServerIndex(t *testing.T) {
	s := NewServer(ServerConfig{Port: 9191})
	assert.Equal(t, 9191, s.Port())
	assert.Equal(t, "admin", s.Protocol())

	rec := get(s, "/")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "port 9191")
	assert.NotContains(t, rec.Body.String(), "/server-status")

	assert.Equal(t, http.StatusNotFound, get(s, "/other").Code)
}

func TestServerDefaults(t *testing.T) {
	assert.Equal(t, DefaultPort, NewServer(ServerConfig{}).Port())
}

func TestServerServeStop(t *testing.T) {
	s := NewServer(ServerConfig{BindAddress: "127.0.0.1", Port: 0})
	// Port 0 is replaced by the default; use an ephemeral listener instead.
	s.server.Addr = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	cancel()
	assert.NoError(t, <-done)
	assert.NoError(t, s.Stop(context.Background()))
}

func TestServerStopBeforeCancel(t *testing.T) {
	s := NewServer(ServerConfig{})
	s.server.Addr = "127.0.0.1:0"

	done := make(chan error, 1)
	go func() { done <- s.Serve(context.Background()) }()

	// Serve may not have opened the listener yet; Shutdown marks the
	// server closed either way and Serve returns.
	assert.NoError(t, s.Stop(context.Background()))
	assert.NoError(t, <-done)
}
