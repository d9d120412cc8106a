package gophermap

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/marmos91/gopherd/internal/accounts"
	"github.com/marmos91/gopherd/internal/charset"
	"github.com/marmos91/gopherd/internal/protocol/gopher/filetype"
	"github.com/marmos91/gopherd/internal/protocol/gopher/resolver"
	"github.com/marmos91/gopherd/internal/protocol/gopher/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Directive parsing
// ============================================================================

func TestParse(t *testing.T) {
	tests := []struct {
		line string
		want Directive
	}{
		{"# comment", Directive{Kind: KindComment, Text: " comment"}},
		{"*", Directive{Kind: KindStopNoFooter}},
		{".", Directive{Kind: KindStopWithFooter}},
		{"~", Directive{Kind: KindUserList}},
		{"%", Directive{Kind: KindVHostList}},
		{"-secret.txt", Directive{Kind: KindHide, Text: "secret.txt"}},
		{":md=0", Directive{Kind: KindTypeOverride, Text: "md=0"}},
		{"iWelcome", Directive{Kind: KindInfo, Text: "Welcome"}},
		{"Plain text", Directive{Kind: KindInfo, Text: "Plain text"}},
		{"", Directive{Kind: KindInfo}},
		{"1Subdir\t/sub/\tlocalhost\t70", Directive{Kind: KindEntry, Type: '1', Text: "Subdir", Selector: "/sub/", Host: "localhost", Port: 70}},
		{"0About\tabout.txt", Directive{Kind: KindEntry, Type: '0', Text: "About", Selector: "about.txt"}},
		{"1Remote\t/\tfloodgap.com\t70\t+", Directive{Kind: KindEntry, Type: '1', Text: "Remote", Selector: "/", Host: "floodgap.com", Port: 70}},
		{"hSite\tURL:http://example.org/", Directive{Kind: KindEntry, Type: 'h', Text: "Site", Selector: "URL:http://example.org/"}},
		{"1Bad port\t/\thost\tseventy", Directive{Kind: KindEntry, Type: '1', Text: "Bad port", Selector: "/", Host: "host"}},
		{"0Windows\tfile.txt\r\n", Directive{Kind: KindEntry, Type: '0', Text: "Windows", Selector: "file.txt"}},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			assert.Equal(t, tt.want, Parse(tt.line))
		})
	}
}

func TestIsAbsolute(t *testing.T) {
	assert.True(t, IsAbsolute("/x"))
	assert.True(t, IsAbsolute("URL:http://example.org"))
	assert.False(t, IsAbsolute("x/y"))
	assert.False(t, IsAbsolute(""))
}

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "    0.0 KB", FormatSize(8))
	assert.Equal(t, "    1.0 KB", FormatSize(1024))
	assert.Equal(t, "  999.0 KB", FormatSize(999*1024))
	assert.Equal(t, "    1.0 MB", FormatSize(1024*1024))
	assert.Equal(t, "    2.5 GB", FormatSize(5*1024*1024*1024/2))
}

// ============================================================================
// Rendering helpers
// ============================================================================

type fakeExecutor struct {
	calls []string
}

func (f *fakeExecutor) Exec(rc *types.RequestContext, path string, w io.Writer) error {
	f.calls = append(f.calls, path)
	_, err := io.WriteString(w, "dynamic menu\r\n")
	return err
}

func write(t *testing.T, path, content string, mode os.FileMode) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), mode))
	require.NoError(t, os.Chmod(path, mode))
}

func mkdir(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(path, 0755))
	require.NoError(t, os.Chmod(path, 0755))
}

func newContext(dir, sel string) *types.RequestContext {
	rc := types.NewRequestContext(context.Background(), "127.0.0.1")
	rc.Path = dir
	rc.Selector = sel
	rc.Type = types.TypeMenu
	rc.ServerHost = "localhost"
	rc.DefaultHost = "localhost"
	rc.ServerPort = 70
	rc.Width = 70
	rc.Charset = charset.USASCII
	rc.Features = types.Features{Parent: true}
	return rc
}

func render(t *testing.T, r *Renderer, rc *types.RequestContext) string {
	t.Helper()
	var buf bytes.Buffer
	n, err := r.Render(rc, filetype.NewTable(), &buf)
	require.NoError(t, err)
	assert.Equal(t, int64(buf.Len()), n)
	return buf.String()
}

func lines(s string) []string {
	return strings.Split(strings.TrimSuffix(s, "\r\n"), "\r\n")
}

// ============================================================================
// Gophermap interpretation
// ============================================================================

func TestRenderGophermap(t *testing.T) {
	t.Run("StopsWithFooterAfterDot", func(t *testing.T) {
		dir := t.TempDir()
		write(t, filepath.Join(dir, "gophermap"), "iWelcome\n1Subdir\t/sub/\tlocalhost\t70\n.\n", 0644)
		write(t, filepath.Join(dir, "unlisted.txt"), "x", 0644)

		r := New(Config{Footer: "Gophered by test"}, nil, nil)
		got := render(t, r, newContext(dir, "/"))

		assert.Equal(t,
			"iWelcome\t\tnull.host\t1\r\n"+
				"1Subdir\t/sub/\tlocalhost\t70\r\n"+
				".\r\n", got)
	})

	t.Run("FooterRenderedWhenEnabled", func(t *testing.T) {
		dir := t.TempDir()
		write(t, filepath.Join(dir, "gophermap"), "iHi\n.\n", 0644)

		rc := newContext(dir, "/")
		rc.Features.Footer = true
		rc.Width = 40

		got := lines(render(t, New(Config{Footer: "Gophered by test"}, nil, nil), rc))
		require.Len(t, got, 4)
		assert.Equal(t, "i"+strings.Repeat("_", 39)+"\t\tnull.host\t1", got[1])
		assert.Equal(t, "i"+strings.Repeat(" ", 39-len("Gophered by test"))+"Gophered by test\t\tnull.host\t1", got[2])
		assert.Equal(t, ".", got[3])
	})

	t.Run("StarSuppressesFooterAndListing", func(t *testing.T) {
		dir := t.TempDir()
		write(t, filepath.Join(dir, "gophermap"), "iOnly this\n*\niNever\n", 0644)
		write(t, filepath.Join(dir, "file.txt"), "x", 0644)

		rc := newContext(dir, "/")
		rc.Features.Footer = true

		got := render(t, New(Config{}, nil, nil), rc)
		assert.Equal(t, "iOnly this\t\tnull.host\t1\r\n.\r\n", got)
	})

	t.Run("EOFFallsBackToListing", func(t *testing.T) {
		dir := t.TempDir()
		write(t, filepath.Join(dir, "gophermap"), "iHeader\n", 0644)
		write(t, filepath.Join(dir, "file.txt"), "x", 0644)

		got := lines(render(t, New(Config{}, nil, nil), newContext(dir, "/")))
		assert.Equal(t, []string{
			"iHeader\t\tnull.host\t1",
			"0file.txt\t/file.txt\tlocalhost\t70",
			".",
		}, got)
	})

	t.Run("RelativeSelectorsResolveAgainstMenu", func(t *testing.T) {
		dir := t.TempDir()
		write(t, filepath.Join(dir, "gophermap"),
			"0About\tabout.txt\n"+
				"1Abs\t/elsewhere/\n"+
				"hWeb\tURL:http://example.org/\n"+
				"1Remote\t/\tother.host\t7070\n.\n", 0644)

		got := lines(render(t, New(Config{}, nil, nil), newContext(dir, "/docs/")))
		assert.Equal(t, []string{
			"0About\t/docs/about.txt\tlocalhost\t70",
			"1Abs\t/elsewhere/\tlocalhost\t70",
			"hWeb\tURL:http://example.org/\tlocalhost\t70",
			"1Remote\t/\tother.host\t7070",
			".",
		}, got)
	})

	t.Run("HideAffectsOnlyListing", func(t *testing.T) {
		dir := t.TempDir()
		write(t, filepath.Join(dir, "gophermap"), "-secret.txt\n0Secret\tsecret.txt\n", 0644)
		write(t, filepath.Join(dir, "secret.txt"), "x", 0644)
		write(t, filepath.Join(dir, "public.txt"), "x", 0644)

		rc := newContext(dir, "/")
		got := lines(render(t, New(Config{}, nil, nil), rc))
		assert.Equal(t, []string{
			"0Secret\t/secret.txt\tlocalhost\t70",
			"0public.txt\t/public.txt\tlocalhost\t70",
			".",
		}, got)
		assert.True(t, rc.IsHidden("secret.txt"))
	})

	t.Run("TypeOverrideAppliesToListing", func(t *testing.T) {
		dir := t.TempDir()
		write(t, filepath.Join(dir, "gophermap"), ":dat=9\n", 0644)
		write(t, filepath.Join(dir, "blob.dat"), "x", 0644)

		table := filetype.NewTable()
		var buf bytes.Buffer
		_, err := New(Config{}, nil, nil).Render(newContext(dir, "/"), table, &buf)
		require.NoError(t, err)

		assert.Contains(t, buf.String(), "9blob.dat\t/blob.dat\t")
		typ, ok := table.Lookup("dat")
		assert.True(t, ok)
		assert.Equal(t, types.TypeBinary, typ)
	})

	t.Run("ExecutableMapGoesToExecutor", func(t *testing.T) {
		dir := t.TempDir()
		write(t, filepath.Join(dir, "gophermap"), "#!/bin/sh\n", 0755)

		exec := &fakeExecutor{}
		got := render(t, New(Config{}, nil, exec), newContext(dir, "/"))
		assert.Equal(t, "dynamic menu\r\n", got)
		assert.Equal(t, []string{filepath.Join(dir, "gophermap")}, exec.calls)
	})

	t.Run("ExecutableMapWithoutExecutor", func(t *testing.T) {
		dir := t.TempDir()
		write(t, filepath.Join(dir, "gophermap"), "#!/bin/sh\n", 0755)

		_, err := New(Config{}, nil, nil).Render(newContext(dir, "/"), filetype.NewTable(), io.Discard)
		assert.True(t, types.IsCode(err, types.ErrExecFailure))
	})
}

// ============================================================================
// Auto-listing
// ============================================================================

func TestRenderListing(t *testing.T) {
	dir := t.TempDir()
	mkdir(t, filepath.Join(dir, "zeta"))
	mkdir(t, filepath.Join(dir, "alpha"))
	write(t, filepath.Join(dir, "b.txt"), "b", 0644)
	write(t, filepath.Join(dir, "A.gif"), "gif", 0644)
	write(t, filepath.Join(dir, ".profile"), "x", 0644)
	write(t, filepath.Join(dir, "private.txt"), "x", 0600)
	write(t, filepath.Join(dir, "with space.txt"), "x", 0644)

	r := New(Config{}, nil, nil)

	t.Run("CompactLayout", func(t *testing.T) {
		got := lines(render(t, r, newContext(dir, "/docs/")))
		assert.Equal(t, []string{
			"1..\t/\tlocalhost\t70",
			"1alpha\t/docs/alpha/\tlocalhost\t70",
			"1zeta\t/docs/zeta/\tlocalhost\t70",
			"gA.gif\t/docs/A.gif\tlocalhost\t70",
			"0b.txt\t/docs/b.txt\tlocalhost\t70",
			"0with space.txt\t/docs/with#040space.txt\tlocalhost\t70",
			".",
		}, got)
	})

	t.Run("NoParentAtRoot", func(t *testing.T) {
		got := render(t, r, newContext(dir, "/"))
		assert.NotContains(t, got, "1..")
	})

	t.Run("NoParentWhenDisabled", func(t *testing.T) {
		rc := newContext(dir, "/docs/")
		rc.Features.Parent = false
		assert.NotContains(t, render(t, r, rc), "1..")
	})

	t.Run("NestedParent", func(t *testing.T) {
		got := lines(render(t, r, newContext(dir, "/a/b/")))
		assert.Equal(t, "1..\t/a/\tlocalhost\t70", got[0])
	})
}

func TestRenderDatedListing(t *testing.T) {
	dir := t.TempDir()
	write(t, filepath.Join(dir, "a.txt"), strings.Repeat("x", 2048), 0644)
	mkdir(t, filepath.Join(dir, "sub"))

	mtime := time.Date(2024, time.January, 2, 15, 4, 0, 0, time.Local)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "a.txt"), mtime, mtime))
	require.NoError(t, os.Chtimes(filepath.Join(dir, "sub"), mtime, mtime))

	rc := newContext(dir, "/x/")
	rc.Features.Date = true

	got := lines(render(t, New(Config{}, nil, nil), rc))
	require.Len(t, got, 4)

	assert.Equal(t, "1"+".."+strings.Repeat(" ", 67)+"\t/\tlocalhost\t70", got[0])
	assert.Equal(t, "1sub"+strings.Repeat(" ", 35)+"   2024-Jan-02 15:04        -  \t/x/sub/\tlocalhost\t70", got[1])
	assert.Equal(t, "0a.txt"+strings.Repeat(" ", 33)+"   2024-Jan-02 15:04     2.0 KB\t/x/a.txt\tlocalhost\t70", got[2])
}

func TestRenderInlineMap(t *testing.T) {
	dir := t.TempDir()
	write(t, filepath.Join(dir, "news.gophermap"), "iInline news\n", 0644)
	write(t, filepath.Join(dir, "z.txt"), "x", 0644)

	got := lines(render(t, New(Config{}, nil, nil), newContext(dir, "/")))
	assert.Equal(t, []string{
		"iInline news\t\tnull.host\t1",
		"0z.txt\t/z.txt\tlocalhost\t70",
		".",
	}, got)
}

func TestRenderGeneratedLists(t *testing.T) {
	root := t.TempDir()
	mkdir(t, filepath.Join(root, "a.example"))
	mkdir(t, filepath.Join(root, "b.example"))

	home := t.TempDir()
	mkdir(t, filepath.Join(home, "public_gopher"))

	res := resolver.New(resolver.Config{
		Root:     root,
		UserDir:  "public_gopher",
		Accounts: accounts.Static{{Login: "alice", UID: uint32(os.Getuid()), Home: home}},
	})

	write(t, filepath.Join(root, "a.example", "gophermap"), "~\n%\n.\n", 0644)

	rc := newContext(filepath.Join(root, "a.example"), "/")
	rc.ServerHost = "a.example"
	rc.DefaultHost = "a.example"

	t.Run("VHostListRequiresFeature", func(t *testing.T) {
		got := lines(render(t, New(Config{}, res, nil), rc))
		assert.Equal(t, []string{
			"1~alice\t/~alice/\ta.example\t70",
			".",
		}, got)
	})

	t.Run("VHostListWhenEnabled", func(t *testing.T) {
		rc.Features.VHost = true
		got := lines(render(t, New(Config{}, res, nil), rc))
		assert.Equal(t, []string{
			"1~alice\t/~alice/\ta.example\t70",
			"1gopher://a.example/\t/;a.example\ta.example\t70",
			"1gopher://b.example/\t/;b.example\tb.example\t70",
			".",
		}, got)
	})
}
