package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogToBuffer(t *testing.T) {
	buff := bytes.NewBuffer(nil)
	out, err := New().FromBuffer(buff).Make()
	require.NoError(t, err)
	require.Equal(t, 0, buff.Len())

	out.Logger.Info().Str("repository", "repo1").Msg("Test")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buff.Bytes(), &line))
	assert.Equal(t, "Test", line["message"])
	assert.Equal(t, "repo1", line["repository"])
	assert.Equal(t, "info", line["level"])
	assert.Contains(t, line, "time")
}

func TestLogLevel(t *testing.T) {
	buff := bytes.NewBuffer(nil)
	out, err := New().FromBuffer(buff).Level("warn").Make()
	require.NoError(t, err)

	out.Logger.Info().Msg("dropped")
	assert.Equal(t, 0, buff.Len())
	out.Logger.Warn().Msg("kept")
	assert.Contains(t, buff.String(), "kept")
}

func TestLogToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vmm.log")
	out, err := New().FromPath(path).Make()
	require.NoError(t, err)

	out.Logger.Info().Msg("to file")
	require.NoError(t, out.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to file")

	_, err = New().FromPath(filepath.Join(t.TempDir(), "missing", "x.log")).Make()
	assert.Error(t, err)
}

func TestConsoleOutput(t *testing.T) {
	buff := bytes.NewBuffer(nil)
	out, err := New().FromBuffer(buff).Console(true).Make()
	require.NoError(t, err)

	out.Logger.Info().Msg("human")
	assert.Contains(t, buff.String(), "human")
	assert.False(t, json.Valid(buff.Bytes()))
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		" WARN ":  zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"":        zerolog.InfoLevel,
		"verbose": zerolog.InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}
