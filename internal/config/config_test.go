package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg := Default()
	cfg.DefaultProfile = "work"
	cfg.ServerURL = "wss://chat.example.com/ws"
	cfg.MaxRetries = 5
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "work", loaded.DefaultProfile)
	assert.Equal(t, cfg.ServerURL, loaded.ServerURL)
	assert.Equal(t, 5, loaded.MaxRetries)
	assert.Equal(t, 30*time.Second, loaded.BackoffMax)
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	assert.Error(t, err)
}

func TestLoadKeepsDefaultsForAbsentKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := "server_url = \"ws://localhost:8080/ws\"\nretry_timeout = \"2s\"\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, cfg.RetryTimeout)
	assert.Equal(t, 3, cfg.MaxRetries, "default kept")
	assert.Equal(t, 500*time.Millisecond, cfg.BackoffBase, "default kept")
}

func TestResolveEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, Save(path, &Config{
		DefaultProfile: "main", ServerURL: "ws://file", AutoConnect: true,
		BackoffBase: time.Second, BackoffMax: time.Minute, HeartbeatInterval: time.Second,
		PongTimeout: time.Second, HandshakeTimeout: time.Second, RetryTimeout: time.Second,
	}))

	env := envconfig.MapLookuper(map[string]string{
		"CHATLINE_SERVER_URL":   "ws://env",
		"CHATLINE_MAX_RETRIES":  "7",
		"CHATLINE_AUTO_CONNECT": "false",
		"SERVER_URL":            "ignored",
	})
	cfg, err := ResolveWith(context.Background(), path, env)
	require.NoError(t, err)
	assert.Equal(t, "ws://env", cfg.ServerURL)
	assert.Equal(t, 7, cfg.MaxRetries)
	assert.False(t, cfg.AutoConnect, "overridden to false")
	assert.Equal(t, time.Minute, cfg.BackoffMax, "file value kept")
}

func TestResolveMissingFileUsesDefaults(t *testing.T) {
	cfg, err := ResolveWith(context.Background(), filepath.Join(t.TempDir(), "none.toml"), envconfig.MapLookuper(nil))
	require.NoError(t, err)
	assert.Equal(t, "main", cfg.DefaultProfile)
	assert.Equal(t, 5*time.Second, cfg.RetryTimeout)
}

func TestResolveRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"backoff max below base", map[string]string{"CHATLINE_BACKOFF_MAX": "1ms"}, "backoff"},
		{"negative retries", map[string]string{"CHATLINE_MAX_RETRIES": "-1"}, "max_retries"},
		{"bad duration", map[string]string{"CHATLINE_RETRY_TIMEOUT": "soon"}, "env"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ResolveWith(context.Background(), "/nonexistent/config.toml", envconfig.MapLookuper(tt.env))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestSavePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, Save(path, Default()))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}
