// Package config centralizes how PaperDrop reads its settings. Values start
// from DefaultConfig, are overridden by an optional YAML file and finally by
// PAPERDROP_* environment variables.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete client configuration.
type Config struct {
	API      APIConfig     `yaml:"api"`
	Session  SessionConfig `yaml:"session"`
	Monitor  MonitorConfig `yaml:"monitor"`
	Upload   UploadConfig  `yaml:"upload"`
	Store    StoreConfig   `yaml:"store"`
	Queue    QueueConfig   `yaml:"queue"`
	Archive  ArchiveConfig `yaml:"archive"`
	Server   ServerConfig  `yaml:"server"`
	LogLevel string        `yaml:"log_level"`
}

// APIConfig configures the Persistence API client.
type APIConfig struct {
	// BaseURL is the backend root, e.g. http://localhost:8000.
	BaseURL string `yaml:"base_url"`
	// Timeout bounds ordinary JSON calls.
	Timeout time.Duration `yaml:"timeout"`
	// UploadTimeout bounds the multipart parse call.
	UploadTimeout time.Duration `yaml:"upload_timeout"`
	// RequestsPerSecond throttles outbound calls; zero disables throttling.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	// Burst is the limiter bucket size.
	Burst int `yaml:"burst"`
}

// SessionConfig configures the session manager.
type SessionConfig struct {
	LoginPath          string        `yaml:"login_path"`
	LandingPath        string        `yaml:"landing_path"`
	DebounceWindow     time.Duration `yaml:"debounce_window"`
	RevalidateInterval time.Duration `yaml:"revalidate_interval"`
}

// MonitorConfig configures the reachability check.
type MonitorConfig struct {
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

// UploadConfig configures file selection and saving.
type UploadConfig struct {
	MaxFileSize      int64  `yaml:"max_file_size"`
	AllowedType      string `yaml:"allowed_type"`
	ChildConcurrency int    `yaml:"child_concurrency"`
	Path             string `yaml:"path"`
}

// StoreConfig selects the TokenStore backend.
type StoreConfig struct {
	// Backend is one of "file", "redis" or "memory".
	Backend   string `yaml:"backend"`
	Dir       string `yaml:"dir"`
	RedisURL  string `yaml:"redis_url"`
	Namespace string `yaml:"namespace"`
}

// QueueConfig configures the deferred child-save queue. An empty RedisAddr
// disables it.
type QueueConfig struct {
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	Concurrency   int    `yaml:"concurrency"`
	MaxRetry      int    `yaml:"max_retry"`
	// MetricsAddr serves the worker's Prometheus metrics; empty disables it.
	MetricsAddr string `yaml:"metrics_addr"`
}

// ArchiveConfig configures source PDF archival in S3-compatible storage.
type ArchiveConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Endpoint  string        `yaml:"endpoint"`
	AccessKey string        `yaml:"access_key"`
	SecretKey string        `yaml:"secret_key"`
	UseSSL    bool          `yaml:"use_ssl"`
	Region    string        `yaml:"region"`
	Bucket    string        `yaml:"bucket"`
	LinkTTL   time.Duration `yaml:"link_ttl"`
}

// ServerConfig configures the development mock backend.
type ServerConfig struct {
	Address       string            `yaml:"address"`
	SigningSecret string            `yaml:"signing_secret"`
	TokenTTL      time.Duration     `yaml:"token_ttl"`
	MaxFileSize   int64             `yaml:"max_file_size"`
	Users         map[string]string `yaml:"users"`
	// DatabaseURL selects the Postgres store. Empty keeps records in memory.
	DatabaseURL string `yaml:"database_url"`
}

const (
	// 10 << 20 equals 10 * 2^20 bytes.
	defaultMaxFileSize = 10 << 20
	defaultAllowedType = "application/pdf"
)

// DefaultConfig returns a Config with development defaults.
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:           "http://localhost:8000",
			Timeout:           15 * time.Second,
			UploadTimeout:     2 * time.Minute,
			RequestsPerSecond: 20,
			Burst:             5,
		},
		Session: SessionConfig{
			LoginPath:          "/login",
			LandingPath:        "/",
			DebounceWindow:     time.Second,
			RevalidateInterval: 15 * time.Second,
		},
		Monitor: MonitorConfig{
			Interval: 30 * time.Second,
			Timeout:  5 * time.Second,
		},
		Upload: UploadConfig{
			MaxFileSize:      defaultMaxFileSize,
			AllowedType:      defaultAllowedType,
			ChildConcurrency: 4,
			Path:             "/upload",
		},
		Store: StoreConfig{
			Backend:   "file",
			Dir:       defaultStateDir(),
			Namespace: "paperdrop",
		},
		Queue: QueueConfig{
			Concurrency: 2,
			MaxRetry:    5,
		},
		Archive: ArchiveConfig{
			Bucket:  "paperdrop-sources",
			LinkTTL: 15 * time.Minute,
		},
		Server: ServerConfig{
			Address:     ":8000",
			TokenTTL:    time.Hour,
			MaxFileSize: 25 << 20,
			Users:       map[string]string{"teacher": "teacher"},
		},
		LogLevel: "info",
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("api.base_url must be an absolute URL, got %q", c.API.BaseURL)
	}
	if c.API.Timeout <= 0 || c.API.UploadTimeout <= 0 {
		return fmt.Errorf("api timeouts must be positive")
	}
	if !strings.HasPrefix(c.Session.LoginPath, "/") || !strings.HasPrefix(c.Session.LandingPath, "/") {
		return fmt.Errorf("session paths must start with /")
	}
	if c.Session.DebounceWindow < 0 || c.Session.RevalidateInterval <= 0 {
		return fmt.Errorf("session intervals must be positive")
	}
	if c.Monitor.Interval <= 0 || c.Monitor.Timeout <= 0 {
		return fmt.Errorf("monitor interval and timeout must be positive")
	}
	if c.Upload.MaxFileSize <= 0 {
		return fmt.Errorf("upload.max_file_size must be positive")
	}
	if c.Upload.ChildConcurrency <= 0 {
		return fmt.Errorf("upload.child_concurrency must be positive")
	}
	switch c.Store.Backend {
	case "file":
		if c.Store.Dir == "" {
			return fmt.Errorf("store.dir is required for the file backend")
		}
	case "redis":
		if c.Store.RedisURL == "" {
			return fmt.Errorf("store.redis_url is required for the redis backend")
		}
	case "memory":
	default:
		return fmt.Errorf("store.backend must be file, redis or memory, got %q", c.Store.Backend)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.Archive.Enabled && (c.Archive.Endpoint == "" || c.Archive.Bucket == "") {
		return fmt.Errorf("archive.endpoint and archive.bucket are required when archiving is enabled")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file on top of the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// SaveToFile writes the configuration as YAML, creating parent directories.
func (c *Config) SaveToFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Load builds the effective configuration. path may be empty, in which case
// the user config file is used when it exists.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		if p := UserConfigPath(); p != "" {
			if _, err := os.Stat(p); err == nil {
				path = p
			}
		}
	}
	if path != "" {
		loaded, err := LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// UserConfigPath returns ~/.config/paperdrop/config.yaml, or "" when the home
// directory is unknown.
func UserConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "paperdrop", "config.yaml")
}

func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "paperdrop")
	}
	return filepath.Join(home, ".config", "paperdrop", "state")
}
