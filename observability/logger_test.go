package observability

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/m4xw311/shellmind/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestConsoleCoreIsQuietByDefault(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	var buf bytes.Buffer
	Initialize(config.LogConfig{Level: "debug"}, zapcore.AddSync(&buf))
	logger := GetLogger().Named("gateway")
	logger.Info("routine detail")
	logger.Warn("provider slow")
	Sync()

	out := buf.String()
	assert.NotContains(t, out, "routine detail")
	assert.Contains(t, out, "provider slow")
	assert.Contains(t, out, "shellmind.gateway.")
}

func TestConsoleFlagFollowsConfiguredLevel(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	var buf bytes.Buffer
	Initialize(config.LogConfig{Level: "debug", Console: true}, zapcore.AddSync(&buf))
	GetLogger().Debug("step started")
	Sync()

	assert.Contains(t, buf.String(), "step started")
}

func TestFileCoreWritesJSON(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	path := filepath.Join(t.TempDir(), "logs", "shellmind.log")
	var buf bytes.Buffer
	Initialize(config.LogConfig{Level: "info", File: path, MaxSize: 1}, zapcore.AddSync(&buf))
	GetLogger().Info("session started")
	Sync()

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	scanner := bufio.NewScanner(f)
	require.True(t, scanner.Scan())
	var entry map[string]any
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "session started", entry["msg"])
}

func TestGetLoggerBeforeInitialize(t *testing.T) {
	ResetForTest()
	assert.NotNil(t, GetLogger())
	assert.NotPanics(t, Sync)
}
