package handlers

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/marmos91/gopherd/internal/accounts"
	"github.com/marmos91/gopherd/internal/charset"
	"github.com/marmos91/gopherd/internal/delivery"
	"github.com/marmos91/gopherd/internal/protocol/gopher/gophermap"
	"github.com/marmos91/gopherd/internal/protocol/gopher/resolver"
	"github.com/marmos91/gopherd/internal/protocol/gopher/types"
	"github.com/marmos91/gopherd/pkg/metrics"
	"github.com/marmos91/gopherd/pkg/store/session"
	"github.com/marmos91/gopherd/pkg/store/session/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAddr = "192.0.2.10"

// ============================================================================
// Fixtures
// ============================================================================

type recordingMetrics struct {
	metrics.GopherMetrics
	kinds     []string
	codes     []string
	throttled []string
}

func (m *recordingMetrics) RecordRequest(kind, itemType string, d time.Duration, errorCode string) {
	m.kinds = append(m.kinds, kind)
	m.codes = append(m.codes, errorCode)
}

func (m *recordingMetrics) RecordThrottled(action string) {
	m.throttled = append(m.throttled, action)
}

func writeFile(t *testing.T, path, content string, mode os.FileMode) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), mode))
	require.NoError(t, os.Chmod(path, mode))
}

// newTree builds a small server root:
//
//	/gophermap          "iWelcome" then "."
//	/docs/hello.txt     text file
//	/docs/secret.txt    not world-readable
//	/docs/open.txt      world-writable
func newTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.Chmod(root, 0o755))
	writeFile(t, filepath.Join(root, "gophermap"), "iWelcome\n.\n", 0o644)
	writeFile(t, filepath.Join(root, "docs", "hello.txt"), "hello\n", 0o644)
	writeFile(t, filepath.Join(root, "docs", "secret.txt"), "secret\n", 0o640)
	writeFile(t, filepath.Join(root, "docs", "open.txt"), "open\n", 0o666)
	require.NoError(t, os.Chmod(filepath.Join(root, "docs"), 0o755))
	return root
}

type fixture struct {
	handler *Handler
	store   *memory.MemorySessionStore
	metrics *recordingMetrics
}

func newFixture(t *testing.T, root string, cfg Config, limits session.Limits) *fixture {
	t.Helper()

	res := resolver.New(resolver.Config{Root: root, Accounts: accounts.Static{}})
	sender := delivery.New(delivery.Config{Root: root})
	store := memory.NewMemorySessionStore(memory.MemoryConfig{Limits: limits})
	rec := &recordingMetrics{GopherMetrics: metrics.NewNoopGopherMetrics()}

	if cfg.Host == "" {
		cfg.Host = "gopher.example"
	}
	if cfg.Port == 0 {
		cfg.Port = 70
	}
	if cfg.Charset == "" {
		cfg.Charset = charset.USASCII
	}

	h := New(cfg, Deps{
		Resolver: res,
		Renderer: gophermap.New(gophermap.Config{}, res, sender),
		Sender:   sender,
		Store:    store,
		Metrics:  rec,
	})
	return &fixture{handler: h, store: store, metrics: rec}
}

func (f *fixture) do(t *testing.T, line string) (string, error) {
	t.Helper()
	return f.doContext(t, context.Background(), line)
}

func (f *fixture) doContext(t *testing.T, ctx context.Context, line string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := f.handler.Handle(ctx, Conn{R: strings.NewReader(line), W: &out, RemoteAddr: testAddr})
	return out.String(), err
}

// ============================================================================
// Configuration
// ============================================================================

func TestNewNormalizesConfig(t *testing.T) {
	root := newTree(t)

	tests := []struct {
		name      string
		cfg       Config
		wantWidth int
		wantDate  bool
		wantVHost bool
	}{
		{"DefaultWidth", Config{Features: types.Features{Date: true}}, DefaultWidth, true, false},
		{"ClampedLow", Config{Width: 10, Features: types.Features{Date: true}}, MinWidth, false, false},
		{"ClampedHigh", Config{Width: 500}, MaxWidth, false, false},
		{"DateNeedsRoom", Config{Width: 56, Features: types.Features{Date: true}}, 56, false, false},
		{"DateFits", Config{Width: 57, Features: types.Features{Date: true}}, 57, true, false},
		{"VHostWithoutHostDir", Config{Features: types.Features{VHost: true}}, DefaultWidth, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := newFixture(t, root, tt.cfg, session.Limits{}).handler.Config()
			assert.Equal(t, tt.wantWidth, cfg.Width)
			assert.Equal(t, tt.wantDate, cfg.Features.Date)
			assert.Equal(t, tt.wantVHost, cfg.Features.VHost)
		})
	}

	t.Run("VHostKeptWithHostDir", func(t *testing.T) {
		require.NoError(t, os.Mkdir(filepath.Join(root, "gopher.example"), 0o755))
		cfg := newFixture(t, root, Config{Features: types.Features{VHost: true}}, session.Limits{}).handler.Config()
		assert.True(t, cfg.Features.VHost)
	})
}

// ============================================================================
// Successful requests
// ============================================================================

func TestHandleServes(t *testing.T) {
	root := newTree(t)
	f := newFixture(t, root, Config{}, session.Limits{})

	tests := []struct {
		name string
		line string
		want string
	}{
		{"RootGophermap", "\r\n", "iWelcome\t\tnull.host\t1\r\n.\r\n"},
		{"TextFile", "/docs/hello.txt\r\n", "hello\r\n"},
		{"EscapedSelector", "/docs/hello%2etxt\n", "hello\r\n"},
		{"DirectoryWithoutSlash", "/docs\r\n", "0hello.txt\t/docs/hello.txt\tgopher.example\t70\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := f.do(t, tt.line)
			require.NoError(t, err)
			assert.Contains(t, out, tt.want)
		})
	}

	t.Run("ListingSkipsUnreadable", func(t *testing.T) {
		out, err := f.do(t, "/docs/\r\n")
		require.NoError(t, err)
		assert.NotContains(t, out, "secret.txt")
		assert.True(t, strings.HasSuffix(out, types.Terminator))
	})
}

func TestHandleFooter(t *testing.T) {
	root := newTree(t)
	f := newFixture(t, root, Config{Footer: "served", Width: 40, Features: types.Features{Footer: true}}, session.Limits{})

	out, err := f.do(t, "/docs/hello.txt\r\n")
	require.NoError(t, err)
	assert.Equal(t, "hello\r\n", out)

	out, err = f.do(t, "/\r\n")
	require.NoError(t, err)
	assert.Contains(t, out, strings.Repeat("_", 39))
	assert.True(t, strings.HasSuffix(out, types.Terminator))
}

// ============================================================================
// Errors
// ============================================================================

func TestHandleErrors(t *testing.T) {
	root := newTree(t)
	f := newFixture(t, root, Config{}, session.Limits{})

	notFound := types.ErrorPrefix + types.ErrNotFound.Message()
	denied := types.ErrorPrefix + types.ErrAccessDenied.Message()

	tests := []struct {
		name     string
		line     string
		code     types.ErrorCode
		want     string
		contains bool
	}{
		{
			name: "MissingText",
			line: "/docs/missing.txt\r\n",
			code: types.ErrNotFound,
			want: notFound + "\r\n",
		},
		{
			name: "MissingMenu",
			line: "/nowhere/\r\n",
			code: types.ErrNotFound,
			want: "3" + notFound + "\t\tnull.host\t1\r\n" +
				"i" + notFound + "\t\tnull.host\t1\r\n" +
				".\r\n",
		},
		{
			name: "MissingImage",
			line: "/pics/cat.gif\r\n",
			code: types.ErrNotFound,
			want: string(ErrorGIF),
		},
		{
			name:     "MissingHTML",
			line:     "/site/index.html\r\n",
			code:     types.ErrNotFound,
			want:     "<STRONG>" + notFound + "</STRONG>\n<PRE>\n</PRE>\n</BODY>\n</HTML>\n",
			contains: true,
		},
		{
			name: "Dotfile",
			line: "/.ssh/id_rsa\r\n",
			code: types.ErrAccessDenied,
			want: denied + "\r\n",
		},
		{
			name: "NotWorldReadable",
			line: "/docs/secret.txt\r\n",
			code: types.ErrAccessDenied,
			want: denied + "\r\n",
		},
		{
			name: "WorldWritable",
			line: "/docs/open.txt\r\n",
			code: types.ErrAccessDenied,
			want: denied + "\r\n",
		},
		{
			name: "GophermapByName",
			line: "/gophermap\r\n",
			code: types.ErrAccessDenied,
			want: denied + "\r\n",
		},
		{
			name: "NoSelector",
			line: "",
			code: types.ErrNoSelector,
			want: "3Error: No selector!\t\tnull.host\t1\r\niError: No selector!\t\tnull.host\t1\r\n.\r\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := f.do(t, tt.line)
			require.Error(t, err)
			assert.True(t, types.IsCode(err, tt.code), "got %v", err)
			if tt.contains {
				assert.Contains(t, out, tt.want)
			} else {
				assert.Equal(t, tt.want, out)
			}
		})
	}
}

func TestHandleErrorRecordsMetrics(t *testing.T) {
	f := newFixture(t, newTree(t), Config{}, session.Limits{})

	_, err := f.do(t, "/docs/missing.txt\r\n")
	require.Error(t, err)
	_, err = f.do(t, "/docs/hello.txt\r\n")
	require.NoError(t, err)

	assert.Equal(t, []string{KindError, KindFile}, f.metrics.kinds)
	assert.Equal(t, []string{"not_found", ""}, f.metrics.codes)
}

// ============================================================================
// Special forms
// ============================================================================

func TestHandleSpecialForms(t *testing.T) {
	root := newTree(t)

	t.Run("URLRedirect", func(t *testing.T) {
		f := newFixture(t, root, Config{}, session.Limits{})
		out, err := f.do(t, "URL:http://example.org/\r\n")
		require.NoError(t, err)
		assert.Contains(t, out, `<META HTTP-EQUIV="Refresh" content="1;URL=http://example.org/">`)
		assert.Contains(t, out, `<A HREF="http://example.org/">http://example.org/</A>`)
	})

	t.Run("HURLTargetEscaped", func(t *testing.T) {
		f := newFixture(t, root, Config{}, session.Limits{})
		out, err := f.do(t, "URL:http://example.org/\"><script>alert(1)</script>\r\n")
		require.NoError(t, err)
		assert.NotContains(t, out, "<script>")
		assert.Contains(t, out, `HREF="http://example.org/&#34;&gt;&lt;script&gt;alert(1)&lt;/script&gt;"`)
	})

	t.Run("HTTPRedirect", func(t *testing.T) {
		f := newFixture(t, root, Config{}, session.Limits{})
		out, err := f.do(t, "GET / HTTP/1.1\r\n")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(out, "HTTP/1.0 301 Moved Permanently\r\n"))
		assert.Contains(t, out, "Location: gopher://gopher.example:70/\r\n")
		assert.True(t, strings.HasSuffix(out, "\r\n\r\n"))
	})

	t.Run("HTTPRedirectThroughProxy", func(t *testing.T) {
		f := newFixture(t, root, Config{GopherProxy: "http://proxy.example/"}, session.Limits{})
		out, err := f.do(t, "GET /index.html HTTP/1.0\r\n")
		require.NoError(t, err)
		assert.Contains(t, out, "Location: http://proxy.example/gopher.example:70/\r\n")
	})

	t.Run("HTTPStatus", func(t *testing.T) {
		f := newFixture(t, root, Config{}, session.Limits{})
		out, err := f.do(t, "GET /server-status HTTP/1.0\r\n")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(out, "HTTP/1.0 200 OK\r\nContent-Type: text/plain\r\n"))
		assert.Contains(t, out, "Total Sessions: 0\r\n")
	})

	t.Run("StatusIsNotAccounted", func(t *testing.T) {
		f := newFixture(t, root, Config{}, session.Limits{})
		_, err := f.do(t, "/docs/hello.txt\r\n")
		require.NoError(t, err)

		out, err := f.do(t, "/server-status\r\n")
		require.NoError(t, err)
		assert.Contains(t, out, "Total Accesses: 1\r\n")
		assert.Contains(t, out, "Total Sessions: 1\r\n")

		report, err := f.store.Report(context.Background(), time.Now())
		require.NoError(t, err)
		assert.Equal(t, int64(1), report.Hits)
	})
}

// ============================================================================
// Sessions
// ============================================================================

func TestHandleSessions(t *testing.T) {
	root := newTree(t)

	t.Run("Accounts", func(t *testing.T) {
		f := newFixture(t, root, Config{}, session.Limits{})
		_, err := f.do(t, "/docs/\r\n")
		require.NoError(t, err)
		_, err = f.do(t, "/docs/hello.txt\r\n")
		require.NoError(t, err)

		slot, err := f.store.Lookup(context.Background(), session.Key{RemoteAddr: testAddr, ServerHost: "gopher.example"}, time.Now())
		require.NoError(t, err)
		require.NotNil(t, slot)
		assert.Equal(t, int64(2), slot.Hits)
		assert.Equal(t, "/docs/hello.txt", slot.Selector)
		assert.Equal(t, types.TypeText, slot.Type)
	})

	t.Run("ThrottleDeny", func(t *testing.T) {
		f := newFixture(t, root,
			Config{Throttle: ThrottleConfig{Policy: ThrottleDeny}},
			session.Limits{MaxHits: 1})

		_, err := f.do(t, "/docs/hello.txt\r\n")
		require.NoError(t, err)

		out, err := f.do(t, "/docs/hello.txt\r\n")
		require.Error(t, err)
		assert.True(t, types.IsCode(err, types.ErrAccessDenied))
		assert.Equal(t, types.ErrorPrefix+types.ErrAccessDenied.Message()+"\r\n", out)
		assert.Equal(t, []string{ThrottleDeny}, f.metrics.throttled)
	})

	t.Run("ThrottleOffIgnoresLimits", func(t *testing.T) {
		f := newFixture(t, root, Config{}, session.Limits{MaxHits: 1})
		for range 3 {
			_, err := f.do(t, "/docs/hello.txt\r\n")
			require.NoError(t, err)
		}
		assert.Empty(t, f.metrics.throttled)
	})

	t.Run("ThrottleDelay", func(t *testing.T) {
		f := newFixture(t, root,
			Config{Throttle: ThrottleConfig{Policy: ThrottleDelay, Delay: 20 * time.Millisecond}},
			session.Limits{MaxHits: 1})

		_, err := f.do(t, "/docs/hello.txt\r\n")
		require.NoError(t, err)

		start := time.Now()
		out, err := f.do(t, "/docs/hello.txt\r\n")
		require.NoError(t, err)
		assert.Equal(t, "hello\r\n", out)
		assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	})

	t.Run("ThrottleDelayCancelled", func(t *testing.T) {
		f := newFixture(t, root,
			Config{Throttle: ThrottleConfig{Policy: ThrottleDelay, Delay: time.Hour}},
			session.Limits{MaxHits: 1})

		_, err := f.do(t, "/docs/hello.txt\r\n")
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		_, err = f.doContext(t, ctx, "/docs/hello.txt\r\n")
		require.Error(t, err)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("StickyVirtualHost", func(t *testing.T) {
		vroot := t.TempDir()
		require.NoError(t, os.Chmod(vroot, 0o755))
		writeFile(t, filepath.Join(vroot, "gopher.example", "gophermap"), "iPrimary\n.\n", 0o644)
		writeFile(t, filepath.Join(vroot, "other.example", "only.txt"), "other\n", 0o644)
		writeFile(t, filepath.Join(vroot, "other.example", "gophermap"), "iOther\n.\n", 0o644)
		for _, d := range []string{"gopher.example", "other.example"} {
			require.NoError(t, os.Chmod(filepath.Join(vroot, d), 0o755))
		}

		f := newFixture(t, vroot, Config{Features: types.Features{VHost: true}}, session.Limits{})

		// Probing finds the file under the other host, which becomes sticky.
		out, err := f.do(t, "/only.txt\r\n")
		require.NoError(t, err)
		assert.Equal(t, "other\r\n", out)

		out, err = f.do(t, "/\r\n")
		require.NoError(t, err)
		assert.Contains(t, out, "iOther")
	})

	t.Run("WithoutStore", func(t *testing.T) {
		res := resolver.New(resolver.Config{Root: root, Accounts: accounts.Static{}})
		sender := delivery.New(delivery.Config{Root: root})
		h := New(Config{Host: "gopher.example", Port: 70, Throttle: ThrottleConfig{Policy: ThrottleDeny}}, Deps{
			Resolver: res,
			Renderer: gophermap.New(gophermap.Config{}, res, sender),
			Sender:   sender,
		})

		var out bytes.Buffer
		require.NoError(t, h.Handle(context.Background(), Conn{R: strings.NewReader("/server-status\r\n"), W: &out, RemoteAddr: testAddr}))
		assert.Contains(t, out.String(), "Total Sessions: 0\r\n")
	})
}
