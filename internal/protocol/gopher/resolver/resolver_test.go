package resolver

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/marmos91/gopherd/internal/accounts"
	"github.com/marmos91/gopherd/internal/protocol/gopher/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mkfile(t *testing.T, path string, mode os.FileMode) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("content\n"), mode))
	require.NoError(t, os.Chmod(path, mode))
}

func newRequest(selector, host string, features types.Features) *types.RequestContext {
	rc := types.NewRequestContext(context.Background(), "127.0.0.1")
	rc.Selector = selector
	rc.ServerHost = host
	rc.DefaultHost = "default.example"
	rc.Features = features
	return rc
}

// ============================================================================
// Plain
// ============================================================================

func TestResolvePlain(t *testing.T) {
	root := t.TempDir()
	r := New(Config{Root: root + "/", Accounts: accounts.Static{}})

	rc := newRequest("/docs/readme.txt", "localhost", types.Features{})
	require.NoError(t, r.Resolve(rc))
	assert.Equal(t, root+"/docs/readme.txt", rc.Path)
	assert.Equal(t, "localhost", rc.ServerHost)
}

// ============================================================================
// Virtual hosts
// ============================================================================

func TestResolveVHost(t *testing.T) {
	root := t.TempDir()
	mkfile(t, filepath.Join(root, "a.example", "shared.txt"), 0644)
	mkfile(t, filepath.Join(root, "b.example", "only-b.txt"), 0644)
	mkfile(t, filepath.Join(root, ".hidden", "secret.txt"), 0644)
	mkfile(t, filepath.Join(root, "lost+found", "orphan.txt"), 0644)

	r := New(Config{Root: root, Accounts: accounts.Static{}})
	features := types.Features{VHost: true}

	t.Run("PresentUnderCurrentHost", func(t *testing.T) {
		rc := newRequest("/shared.txt", "a.example", features)
		require.NoError(t, r.Resolve(rc))
		assert.Equal(t, filepath.Join(root, "a.example", "shared.txt"), rc.Path)
		assert.Equal(t, "a.example", rc.ServerHost)
	})

	t.Run("FallsBackToSibling", func(t *testing.T) {
		rc := newRequest("/only-b.txt", "a.example", features)
		require.NoError(t, r.Resolve(rc))
		assert.Equal(t, filepath.Join(root, "b.example", "only-b.txt"), rc.Path)
		assert.Equal(t, "b.example", rc.ServerHost)
	})

	t.Run("AbsentEverywhere", func(t *testing.T) {
		rc := newRequest("/missing.txt", "a.example", features)
		err := r.Resolve(rc)
		require.Error(t, err)
		assert.True(t, types.IsCode(err, types.ErrNotFound))
	})

	t.Run("SkipsDotAndReservedDirectories", func(t *testing.T) {
		for _, sel := range []string{"/secret.txt", "/orphan.txt"} {
			rc := newRequest(sel, "a.example", features)
			err := r.Resolve(rc)
			assert.True(t, types.IsCode(err, types.ErrNotFound), sel)
		}
	})

	t.Run("UnknownCurrentHostStillSearches", func(t *testing.T) {
		rc := newRequest("/shared.txt", "nowhere.example", features)
		require.NoError(t, r.Resolve(rc))
		assert.Equal(t, "a.example", rc.ServerHost)
	})

	t.Run("ListsVHosts", func(t *testing.T) {
		hosts, err := r.VHosts()
		require.NoError(t, err)
		names := make([]string, 0, len(hosts))
		for _, h := range hosts {
			names = append(names, h.Name)
		}
		assert.Equal(t, []string{"a.example", "b.example"}, names)
	})

	t.Run("HasVHost", func(t *testing.T) {
		assert.True(t, r.HasVHost("a.example"))
		assert.False(t, r.HasVHost("c.example"))
		assert.False(t, r.HasVHost(".hidden"))
	})
}

// ============================================================================
// Userdirs
// ============================================================================

func TestResolveUserDir(t *testing.T) {
	home := t.TempDir()
	mkfile(t, filepath.Join(home, "public_gopher", "file.txt"), 0644)
	mkfile(t, filepath.Join(home, "public_gopher", "private.txt"), 0640)
	mkfile(t, filepath.Join(home, "public_gopher", "docs", "readme.txt"), 0644)

	uid := uint32(os.Getuid())
	src := accounts.Static{
		{Login: "alice", UID: uid, Home: home},
		{Login: "mallory", UID: uid + 1, Home: home},
		{Login: "system", UID: 10, Home: home},
	}

	minUID := uint32(0)
	if uid > 10 {
		minUID = 11
	}
	r := New(Config{Root: t.TempDir(), UserDir: "public_gopher", MinUID: minUID, Accounts: src})
	features := types.Features{UserDir: true, VHost: true}

	t.Run("ResolvesAndResetsHost", func(t *testing.T) {
		rc := newRequest("/~alice/file.txt", "vhost.example", features)
		require.NoError(t, r.Resolve(rc))
		assert.Equal(t, filepath.Join(home, "public_gopher", "file.txt"), rc.Path)
		assert.Equal(t, "default.example", rc.ServerHost)
	})

	t.Run("UserdirRoot", func(t *testing.T) {
		rc := newRequest("/~alice/", "default.example", features)
		require.NoError(t, r.Resolve(rc))
		assert.Equal(t, filepath.Join(home, "public_gopher")+"/", rc.Path)
	})

	t.Run("SubdirectoryKeepsSlash", func(t *testing.T) {
		rc := newRequest("/~alice/docs/", "default.example", features)
		require.NoError(t, r.Resolve(rc))
		assert.Equal(t, filepath.Join(home, "public_gopher", "docs")+"/", rc.Path)
	})

	t.Run("FileHasNoSlash", func(t *testing.T) {
		rc := newRequest("/~alice/docs/readme.txt", "default.example", features)
		require.NoError(t, r.Resolve(rc))
		assert.Equal(t, filepath.Join(home, "public_gopher", "docs", "readme.txt"), rc.Path)
	})

	t.Run("OwnedByDifferentUID", func(t *testing.T) {
		rc := newRequest("/~mallory/file.txt", "default.example", features)
		err := r.Resolve(rc)
		require.Error(t, err)
		assert.True(t, types.IsCode(err, types.ErrAccessDenied))
	})

	t.Run("NotWorldReadable", func(t *testing.T) {
		rc := newRequest("/~alice/private.txt", "default.example", features)
		err := r.Resolve(rc)
		require.Error(t, err)
		assert.True(t, types.IsCode(err, types.ErrAccessDenied))
	})

	t.Run("MissingTarget", func(t *testing.T) {
		rc := newRequest("/~alice/none.txt", "default.example", features)
		assert.True(t, types.IsCode(r.Resolve(rc), types.ErrNotFound))
	})

	t.Run("UnknownUser", func(t *testing.T) {
		rc := newRequest("/~nobody/file.txt", "default.example", features)
		assert.True(t, types.IsCode(r.Resolve(rc), types.ErrNotFound))
	})

	t.Run("UIDBelowMinimum", func(t *testing.T) {
		if minUID == 0 {
			t.Skip("test process uid too low to exercise the minimum")
		}
		rc := newRequest("/~system/file.txt", "default.example", features)
		assert.True(t, types.IsCode(r.Resolve(rc), types.ErrNotFound))
	})

	t.Run("FeatureDisabledFallsThrough", func(t *testing.T) {
		rc := newRequest("/~alice/file.txt", "default.example", types.Features{})
		require.NoError(t, r.Resolve(rc))
		assert.Equal(t, r.Root()+"/~alice/file.txt", rc.Path)
	})

	t.Run("ListsPublishedUsers", func(t *testing.T) {
		dirs, err := r.UserDirs()
		require.NoError(t, err)
		require.Len(t, dirs, 1)
		assert.Equal(t, "alice", dirs[0].Login)
	})
}
