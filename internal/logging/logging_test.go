package logging_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prilive-com/upguard/internal/logging"
	"github.com/prilive-com/upguard/upstream"
)

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	cfg := logging.DefaultConfig()
	cfg.Format = "json"
	cfg.Output = &buf

	logger, closer, err := logging.New(cfg)
	require.NoError(t, err)
	defer closer.Close()

	logger.Info("upstream registered", "upstream", "taapi", "key", upstream.Secret("sk-live"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "upstream registered", line["msg"])
	assert.Equal(t, "taapi", line["upstream"])
	assert.Equal(t, "[REDACTED]", line["key"])
	assert.NotContains(t, buf.String(), "sk-live")
}

func TestNew_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	cfg := logging.DefaultConfig()
	cfg.Level = slog.LevelWarn
	cfg.Output = &buf

	logger, _, err := logging.New(cfg)
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestNew_FileSink(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "upguard.log")
	cfg := logging.DefaultConfig()
	cfg.File = path
	cfg.Output = &buf

	logger, closer, err := logging.New(cfg)
	require.NoError(t, err)

	logger.Info("to both sinks")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to both sinks")
	assert.Contains(t, buf.String(), "to both sinks")
}

func TestNew_UnknownFormat(t *testing.T) {
	cfg := logging.DefaultConfig()
	cfg.Format = "xml"
	_, _, err := logging.New(cfg)
	assert.Error(t, err)
}
