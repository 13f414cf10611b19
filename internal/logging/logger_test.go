package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestBuildWritesJSONWithProfile(t *testing.T) {
	var file, console bytes.Buffer
	logger, err := build(&file, &console, "work", "debug")
	require.NoError(t, err)
	logger.Debug("connected")
	_ = logger.Sync()

	line := strings.TrimSpace(file.String())
	require.True(t, gjson.Valid(line), "file output is not JSON: %q", line)
	rec := gjson.Parse(line)
	assert.Equal(t, "connected", rec.Get("msg").String())
	assert.Equal(t, "work", rec.Get("profile").String())
	assert.Equal(t, int64(os.Getpid()), rec.Get("pid").Int())
	assert.True(t, rec.Get("ts").Exists(), "missing ts key")
	assert.Contains(t, console.String(), "connected")
}

func TestBuildLevel(t *testing.T) {
	var file bytes.Buffer
	logger, err := build(&file, &bytes.Buffer{}, "main", "")
	require.NoError(t, err)
	logger.Debug("hidden")
	assert.Zero(t, file.Len(), "debug written at default level")

	_, err = build(&file, &file, "main", "loud")
	assert.Error(t, err)
}

func TestNewCreatesLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "chatlined.log")
	logger, err := New(path, "main", "info")
	require.NoError(t, err)
	logger.Info("hello")
	_ = logger.Sync()

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}
