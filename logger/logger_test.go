package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/migadu/popclient/config"
)

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLogLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLogLevel("warning"))
	assert.Equal(t, slog.LevelError, parseLogLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLogLevel(""))
	assert.Equal(t, slog.LevelInfo, parseLogLevel("chatty"))
}

func TestSetOutputJSON(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf, "json", "info")
	t.Cleanup(func() { globalLogger = nil })

	Debug("hidden")
	Info("connected", "addr", "127.0.0.1:110")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "connected", entry["msg"])
	assert.Equal(t, "127.0.0.1:110", entry["addr"])
	assert.NotContains(t, buf.String(), "hidden")
}

func TestInitializeFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "popclient.log")
	f, err := Initialize(config.LoggingConfig{Output: path, Format: "console", Level: "debug"})
	require.NoError(t, err)
	require.NotNil(t, f)
	t.Cleanup(func() {
		f.Close()
		globalLogger = nil
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))
	})

	Debug("POP3: C: STAT")
	Infof("fetched %d messages", 2)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "POP3: C: STAT")
	assert.Contains(t, string(content), "fetched 2 messages")
}

func TestInitializeBadFile(t *testing.T) {
	_, err := Initialize(config.LoggingConfig{Output: filepath.Join(t.TempDir(), "missing", "x.log")})
	assert.Error(t, err)
}
