package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_ConsoleOnly(t *testing.T) {
	l, err := New(Config{Level: "debug", Console: true})
	require.NoError(t, err)
	defer l.Close()

	assert.Nil(t, l.file)
	assert.Nil(t, l.scrubber)
}

func TestNew_FileWriter(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "logs", "memori.log")

	l, err := New(Config{Level: "info", File: logFile})
	require.NoError(t, err)

	zl := l.GetZerolog()
	zl.Info().Str("component", "test").Msg("hello")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")
}

func TestNew_InvalidLevelFallsBackToInfo(t *testing.T) {
	l, err := New(Config{Level: "nonsense", Console: true})
	require.NoError(t, err)
	defer l.Close()

	assert.Equal(t, "info", l.GetZerolog().GetLevel().String())
}

func TestNew_ScrubbedFileOutput(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "memori.log")

	l, err := New(Config{Level: "info", File: logFile, Scrubbed: true})
	require.NoError(t, err)

	zl := l.GetZerolog()
	zl.Info().Msg("customer mail is budi@example.com ok")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "budi@example.com")
	assert.Contains(t, string(data), "[SCRUBBED]")
}
