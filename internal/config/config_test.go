package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 10, cfg.ReconnectAttempts)
	assert.Equal(t, 5*time.Second, cfg.HandshakeTimeout)
	assert.Equal(t, "/ctrl", cfg.ControlNamespace)
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "viewer.yaml")
	body := []byte(`
base_url: http://remote.example:9000
handshake_timeout: 2s
move_interval: 100ms
remote:
  mode: screenshot
  fps: 5
`)
	require.NoError(t, os.WriteFile(path, body, 0o600))

	t.Setenv("STREAMING_API_KEY", "s3cret")
	t.Setenv("FPS", "12")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://remote.example:9000", cfg.BaseURL)
	assert.Equal(t, 2*time.Second, cfg.HandshakeTimeout)
	assert.Equal(t, 100*time.Millisecond, cfg.MoveInterval)
	assert.Equal(t, "s3cret", cfg.APIKey)
	assert.Equal(t, "screenshot", cfg.Remote.Mode)
	assert.Equal(t, 12, cfg.Remote.FPS)
	// untouched keys keep their defaults
	assert.Equal(t, "/stream", cfg.StreamNamespace)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"scheme", func(c *Config) { c.BaseURL = "ftp://x" }},
		{"namespace", func(c *Config) { c.ControlNamespace = "ctrl" }},
		{"attempts", func(c *Config) { c.ReconnectAttempts = 0 }},
		{"timeout", func(c *Config) { c.HandshakeTimeout = 0 }},
		{"mode", func(c *Config) { c.Remote.Mode = "vnc" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestEnvBool(t *testing.T) {
	t.Setenv("STREAMING_AUTH_REQUIRED", "yes")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.True(t, cfg.Remote.AuthRequired)
}
