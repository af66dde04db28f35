package utils

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerJSONFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	l := NewLogger()
	require.NoError(t, l.Configure("debug", "json", path, 0))

	l.With(Fields{"marketplace": "steam"}).Info("[aggregator] %d items", 3)
	l.Debug("[cache] hit %q", "ak")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "[aggregator] 3 items", first["message"])
	assert.Equal(t, "info", first["level"])
	assert.Equal(t, "steam", first["marketplace"])
	assert.Contains(t, first, "timestamp")
}

func TestLoggerLevelFilters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	l := NewLogger()
	require.NoError(t, l.Configure("warn", "text", path, 0))
	assert.False(t, l.DebugEnabled())

	l.Info("dropped")
	l.Warn("kept %s", "warning")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "dropped")
	assert.Contains(t, string(data), "kept warning")
}

func TestLoggerConfigureRejectsBadInput(t *testing.T) {
	l := NewNopLogger()
	assert.Error(t, l.Configure("loud", "text", "stdout", 0))
	assert.Error(t, l.Configure("info", "xml", "stdout", 0))
	assert.NoError(t, l.Configure("info", "text", "stderr", 0))
}
