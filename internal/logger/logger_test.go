package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetLevel(t *testing.T) {
	defer SetLevel("INFO")

	SetLevel("debug")
	assert.Equal(t, LevelDebug, GetLevel())
	assert.True(t, Enabled(LevelDebug))

	SetLevel("ERROR")
	assert.Equal(t, LevelError, GetLevel())
	assert.False(t, Enabled(LevelWarn))

	SetLevel("bogus")
	assert.Equal(t, LevelError, GetLevel(), "unknown level must be ignored")
}

func TestInitFileOutput(t *testing.T) {
	defer func() {
		_ = Init(Config{Level: "INFO", Format: "text", Output: "stdout"})
	}()

	path := filepath.Join(t.TempDir(), "gopherd.log")
	require.NoError(t, Init(Config{Level: "INFO", Format: "json", Output: path}))

	Debug("hidden %d", 1)
	Info("request for %q", "gopher://localhost:70/1/")
	ForRequest("abc").Warn("slow client")
	Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)

	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `request for \"gopher://localhost:70/1/\"`)
	assert.Contains(t, out, `"req":"abc"`)
	assert.Equal(t, 2, strings.Count(out, "\n"))
}

func TestInitRejectsUnknownFormat(t *testing.T) {
	err := Init(Config{Format: "xml"})
	assert.Error(t, err)
}
