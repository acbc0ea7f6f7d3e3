package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureFile(t *testing.T, cfg Config) (string, func() string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "out.log")
	cfg.Output = path
	require.NoError(t, Configure(cfg))

	t.Cleanup(func() {
		_ = Sync()
		require.NoError(t, Configure(Config{Level: "INFO", Format: "text", Output: "stdout"}))
	})

	return path, func() string {
		_ = current().Sync()
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		return string(data)
	}
}

func TestTextFormat(t *testing.T) {
	_, read := captureFile(t, Config{Level: "INFO", Format: "text"})

	Info("stored %d file(s) in %s", 3, "archive")
	Debug("hidden")

	out := read()
	assert.Contains(t, out, "INFO")
	assert.Contains(t, out, "stored 3 file(s) in archive")
	assert.NotContains(t, out, "hidden")
}

func TestJSONFormat(t *testing.T) {
	_, read := captureFile(t, Config{Level: "debug", Format: "json"})

	Debug("restore pending: url=%s", "s3://cold/a")

	lines := strings.Split(strings.TrimSpace(read()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "debug", entry["level"])
	assert.Equal(t, "restore pending: url=s3://cold/a", entry["msg"])
	assert.Contains(t, entry, "time")
}

func TestSetLevel(t *testing.T) {
	_, read := captureFile(t, Config{Level: "ERROR", Format: "text"})

	assert.False(t, Enabled(LevelWarn))
	Warn("dropped")
	Error("kept")

	SetLevel("warn")
	assert.True(t, Enabled(LevelWarn))
	Warn("now visible")

	// Unknown levels are ignored
	SetLevel("verbose")
	assert.False(t, Enabled(LevelInfo))

	out := read()
	assert.NotContains(t, out, "dropped")
	assert.Contains(t, out, "kept")
	assert.Contains(t, out, "now visible")
}

func TestSetFormatRejectsUnknown(t *testing.T) {
	assert.Error(t, SetFormat("xml"))
}

func TestLevelString(t *testing.T) {
	assert.Equal(t, "DEBUG", LevelDebug.String())
	assert.Equal(t, "ERROR", LevelError.String())
	assert.Equal(t, "UNKNOWN", Level(42).String())
}
