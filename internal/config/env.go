package config

import (
	"os"
	"strconv"
	"time"
)

// applyEnv overrides cfg with PAPERDROP_* variables. Invalid values are
// ignored and the previous value is kept.
func applyEnv(cfg *Config) {
	cfg.API.BaseURL = readEnv("PAPERDROP_SERVER", cfg.API.BaseURL)
	cfg.API.Timeout = parseDuration("PAPERDROP_API_TIMEOUT", cfg.API.Timeout)
	cfg.API.UploadTimeout = parseDuration("PAPERDROP_UPLOAD_TIMEOUT", cfg.API.UploadTimeout)
	cfg.API.RequestsPerSecond = parseFloat("PAPERDROP_API_RPS", cfg.API.RequestsPerSecond)

	cfg.Session.DebounceWindow = parseDuration("PAPERDROP_SESSION_DEBOUNCE", cfg.Session.DebounceWindow)
	cfg.Session.RevalidateInterval = parseDuration("PAPERDROP_SESSION_REVALIDATE", cfg.Session.RevalidateInterval)

	cfg.Monitor.Interval = parseDuration("PAPERDROP_MONITOR_INTERVAL", cfg.Monitor.Interval)
	cfg.Monitor.Timeout = parseDuration("PAPERDROP_MONITOR_TIMEOUT", cfg.Monitor.Timeout)

	cfg.Upload.MaxFileSize = parseInt64("PAPERDROP_MAX_FILE_BYTES", cfg.Upload.MaxFileSize)
	cfg.Upload.ChildConcurrency = parseInt("PAPERDROP_CHILD_CONCURRENCY", cfg.Upload.ChildConcurrency)

	cfg.Store.Backend = readEnv("PAPERDROP_STORE", cfg.Store.Backend)
	cfg.Store.Dir = readEnv("PAPERDROP_STORE_DIR", cfg.Store.Dir)
	cfg.Store.RedisURL = readEnv("PAPERDROP_STORE_REDIS_URL", cfg.Store.RedisURL)

	cfg.Queue.RedisAddr = readEnv("PAPERDROP_REDIS_ADDR", cfg.Queue.RedisAddr)
	cfg.Queue.RedisPassword = readEnv("PAPERDROP_REDIS_PASSWORD", cfg.Queue.RedisPassword)
	cfg.Queue.RedisDB = parseInt("PAPERDROP_REDIS_DB", cfg.Queue.RedisDB)
	cfg.Queue.Concurrency = parseInt("PAPERDROP_WORKERS", cfg.Queue.Concurrency)
	cfg.Queue.MetricsAddr = readEnv("PAPERDROP_WORKER_METRICS_ADDR", cfg.Queue.MetricsAddr)

	cfg.Archive.Enabled = parseBool("PAPERDROP_ARCHIVE", cfg.Archive.Enabled)
	cfg.Archive.Endpoint = readEnv("PAPERDROP_S3_ENDPOINT", cfg.Archive.Endpoint)
	cfg.Archive.AccessKey = readEnv("PAPERDROP_S3_ACCESS_KEY", cfg.Archive.AccessKey)
	cfg.Archive.SecretKey = readEnv("PAPERDROP_S3_SECRET_KEY", cfg.Archive.SecretKey)
	cfg.Archive.UseSSL = parseBool("PAPERDROP_S3_USE_SSL", cfg.Archive.UseSSL)
	cfg.Archive.Region = readEnv("PAPERDROP_S3_REGION", cfg.Archive.Region)
	cfg.Archive.Bucket = readEnv("PAPERDROP_S3_BUCKET", cfg.Archive.Bucket)

	cfg.Server.Address = readEnv("PAPERDROP_ADDRESS", cfg.Server.Address)
	cfg.Server.SigningSecret = readEnv("PAPERDROP_SIGNING_SECRET", cfg.Server.SigningSecret)
	cfg.Server.TokenTTL = parseDuration("PAPERDROP_TOKEN_TTL", cfg.Server.TokenTTL)
	cfg.Server.DatabaseURL = readEnv("PAPERDROP_DATABASE_URL", cfg.Server.DatabaseURL)

	cfg.LogLevel = readEnv("PAPERDROP_LOG_LEVEL", cfg.LogLevel)
}

func readEnv(key, def string) string {
	// LookupEnv returns (value, true) when the variable is present.
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func parseInt64(key string, def int64) int64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			return parsed
		}
	}
	return def
}

func parseInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseFloat(key string, def float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
	}
	return def
}

func parseBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseDuration(key string, def time.Duration) time.Duration {
	// time.ParseDuration understands inputs like "5m" or "30s".
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	}
	return def
}
