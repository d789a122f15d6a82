package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "http://localhost:8000", cfg.API.BaseURL)
	assert.Equal(t, int64(10<<20), cfg.Upload.MaxFileSize)
	assert.Equal(t, "application/pdf", cfg.Upload.AllowedType)
	assert.Equal(t, time.Second, cfg.Session.DebounceWindow)
	assert.Equal(t, 30*time.Second, cfg.Monitor.Interval)
	assert.Equal(t, 5*time.Second, cfg.Monitor.Timeout)
	assert.Equal(t, "/login", cfg.Session.LoginPath)
	require.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{name: "valid default config", modify: func(c *Config) {}},
		{name: "relative base url", modify: func(c *Config) { c.API.BaseURL = "localhost" }, wantErr: true},
		{name: "zero upload timeout", modify: func(c *Config) { c.API.UploadTimeout = 0 }, wantErr: true},
		{name: "login path without slash", modify: func(c *Config) { c.Session.LoginPath = "login" }, wantErr: true},
		{name: "zero revalidate interval", modify: func(c *Config) { c.Session.RevalidateInterval = 0 }, wantErr: true},
		{name: "zero monitor timeout", modify: func(c *Config) { c.Monitor.Timeout = 0 }, wantErr: true},
		{name: "negative max size", modify: func(c *Config) { c.Upload.MaxFileSize = -1 }, wantErr: true},
		{name: "unknown store backend", modify: func(c *Config) { c.Store.Backend = "cookie" }, wantErr: true},
		{name: "redis store without url", modify: func(c *Config) { c.Store.Backend = "redis" }, wantErr: true},
		{name: "memory store", modify: func(c *Config) { c.Store.Backend = "memory" }},
		{name: "unknown log level", modify: func(c *Config) { c.LogLevel = "loud" }, wantErr: true},
		{name: "debug log level", modify: func(c *Config) { c.LogLevel = "debug" }},
		{name: "archive without endpoint", modify: func(c *Config) { c.Archive.Enabled = true }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	content := `
api:
  base_url: "http://papers.test:9000"
  timeout: 20s
session:
  debounce_window: 2s
  revalidate_interval: 30s
upload:
  max_file_size: 1048576
store:
  backend: redis
  redis_url: "redis://localhost:6379/0"
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o644))

	cfg, err := LoadFromFile(configPath)
	require.NoError(t, err)

	assert.Equal(t, "http://papers.test:9000", cfg.API.BaseURL)
	assert.Equal(t, 20*time.Second, cfg.API.Timeout)
	assert.Equal(t, 2*time.Minute, cfg.API.UploadTimeout, "unset fields keep defaults")
	assert.Equal(t, 2*time.Second, cfg.Session.DebounceWindow)
	assert.Equal(t, int64(1048576), cfg.Upload.MaxFileSize)
	assert.Equal(t, "redis", cfg.Store.Backend)
	require.NoError(t, cfg.Validate())
}

func TestLoadAppliesEnvironment(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, DefaultConfig().SaveToFile(configPath))

	t.Setenv("PAPERDROP_SERVER", "https://api.example.com")
	t.Setenv("PAPERDROP_MAX_FILE_BYTES", "2048")
	t.Setenv("PAPERDROP_MONITOR_TIMEOUT", "not-a-duration")
	t.Setenv("PAPERDROP_STORE", "memory")

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "https://api.example.com", cfg.API.BaseURL)
	assert.Equal(t, int64(2048), cfg.Upload.MaxFileSize)
	assert.Equal(t, 5*time.Second, cfg.Monitor.Timeout, "invalid values fall back")
	assert.Equal(t, "memory", cfg.Store.Backend)
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("api: [unclosed"), 0o644))

	_, err := Load(configPath)
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.LogLevel = "warn"
	logger := cfg.NewLogger(&buf)

	logger.Info("hidden")
	logger.Warn("shown", "key", "value")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "key=value")
}
